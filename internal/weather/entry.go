package weather

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// EntryHandle owns the in-memory copy of one entry and serializes writes to
// its backing store. Every Update is a single whole-object Save; the memory
// copy only changes once the store accepted it.
type EntryHandle struct {
	mu    sync.Mutex
	store EntryStore
	entry Entry
	now   func() time.Time
}

// NewEntryHandle wraps an already loaded entry.
func NewEntryHandle(store EntryStore, e Entry) *EntryHandle {
	return &EntryHandle{store: store, entry: e.Clone(), now: time.Now}
}

// Get returns a deep copy of the current entry.
func (h *EntryHandle) Get() Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entry.Clone()
}

// Update applies fn to a copy of the entry and persists the result.
func (h *EntryHandle) Update(ctx context.Context, fn func(e *Entry)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := h.entry.Clone()
	fn(&next)
	next.UpdatedAt = h.now().UTC()

	if err := h.store.Save(ctx, next); err != nil {
		return fmt.Errorf("save entry %s: %w", next.ID, err)
	}
	h.entry = next
	return nil
}
