package store

import (
	"context"
	"fmt"
	"io"

	"github.com/i474232898/meteocat-sync/internal/logger"
	"github.com/i474232898/meteocat-sync/internal/weather"
)

const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Config selects and configures an entry store backend.
type Config struct {
	Backend       string
	Path          string // file backend directory
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
}

// EntryStore is a weather.EntryStore that holds resources.
type EntryStore interface {
	weather.EntryStore
	io.Closer
}

// Open returns the configured entry store.
func Open(ctx context.Context, cfg Config, log logger.Logger) (EntryStore, error) {
	switch cfg.Backend {
	case BackendFile, "":
		s, err := NewFileStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendRedis:
		s, err := ConnectRedis(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendSQLite:
		s, err := NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
