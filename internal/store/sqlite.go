package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/i474232898/meteocat-sync/internal/weather"
)

// SQLiteStore keeps each entry as a JSON document row.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (and creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		document TEXT NOT NULL,
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);`

	_, err := s.db.Exec(schema)
	return err
}

// Load reads the entry with id.
func (s *SQLiteStore) Load(ctx context.Context, id string) (weather.Entry, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM entries WHERE id = ?`, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return weather.Entry{}, fmt.Errorf("%w: %s", weather.ErrEntryNotFound, id)
		}
		return weather.Entry{}, fmt.Errorf("failed to query entry: %w", err)
	}

	var e weather.Entry
	if err := json.Unmarshal([]byte(doc), &e); err != nil {
		return weather.Entry{}, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	return e, nil
}

// Save replaces the entry row.
func (s *SQLiteStore) Save(ctx context.Context, e weather.Entry) error {
	doc, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	query := `
	INSERT INTO entries (id, document, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, e.ID, string(doc), e.UpdatedAt.Unix()); err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
