package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/i474232898/meteocat-sync/internal/weather"
)

var validID = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// FileStore keeps one YAML document per entry under dir. Saves write a
// temporary file and rename it over the old one.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) (string, error) {
	if !validID.MatchString(id) {
		return "", fmt.Errorf("invalid entry id %q", id)
	}
	return filepath.Join(s.dir, id+".yaml"), nil
}

// Load reads the entry with id.
func (s *FileStore) Load(_ context.Context, id string) (weather.Entry, error) {
	p, err := s.path(id)
	if err != nil {
		return weather.Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return weather.Entry{}, fmt.Errorf("%w: %s", weather.ErrEntryNotFound, id)
		}
		return weather.Entry{}, fmt.Errorf("read entry: %w", err)
	}

	var e weather.Entry
	if err := yaml.Unmarshal(data, &e); err != nil {
		return weather.Entry{}, fmt.Errorf("parse entry %s: %w", p, err)
	}
	return e, nil
}

// Save replaces the entry document.
func (s *FileStore) Save(_ context.Context, e weather.Entry) error {
	p, err := s.path(e.ID)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(&e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, "."+e.ID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write entry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close entry: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("chmod entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("replace entry: %w", err)
	}
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }
