package store

import (
	"errors"
	"sync"
	"time"

	"github.com/i474232898/meteocat-sync/internal/weather"
)

var (
	// ErrNotFound is returned when no snapshot is available for a key.
	ErrNotFound = errors.New("no snapshot for key")
)

// SnapshotHistory holds a time-ordered list of snapshots for one key.
type SnapshotHistory struct {
	Snapshots []*weather.Snapshot
}

// MemoryStore is a concurrency-safe in-memory history of successful cycles.
type MemoryStore struct {
	mu sync.RWMutex

	// key: station or municipality code
	data map[string]*SnapshotHistory

	maxHistory int           // max number of snapshots per key
	maxAge     time.Duration // optional max age for snapshots

	now func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]*SnapshotHistory),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// Record appends a snapshot and enforces retention.
func (s *MemoryStore) Record(snapshot *weather.Snapshot) {
	if snapshot == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.data[snapshot.Key]
	if !ok {
		history = &SnapshotHistory{}
		s.data[snapshot.Key] = history
	}

	history.Snapshots = append(history.Snapshots, snapshot)

	// Enforce retention by count.
	if s.maxHistory > 0 && len(history.Snapshots) > s.maxHistory {
		over := len(history.Snapshots) - s.maxHistory
		history.Snapshots = history.Snapshots[over:]
	}

	// Enforce retention by age. The newest snapshot is always kept.
	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		i := 0
		for ; i < len(history.Snapshots)-1; i++ {
			if !history.Snapshots[i].CreatedAt.Before(cutoff) {
				break
			}
		}
		history.Snapshots = history.Snapshots[i:]
	}
}

// GetLatest returns the most recent snapshot for key.
func (s *MemoryStore) GetLatest(key string) (*weather.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[key]
	if !ok || len(history.Snapshots) == 0 {
		return nil, ErrNotFound
	}
	return history.Snapshots[len(history.Snapshots)-1], nil
}

// GetRange returns all snapshots for key created between from and to (inclusive).
func (s *MemoryStore) GetRange(key string, from, to time.Time) ([]*weather.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[key]
	if !ok || len(history.Snapshots) == 0 {
		return nil, ErrNotFound
	}

	var result []*weather.Snapshot
	for _, snap := range history.Snapshots {
		if !snap.CreatedAt.Before(from) && !snap.CreatedAt.After(to) {
			result = append(result, snap)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}

	return result, nil
}
