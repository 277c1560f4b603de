package surge

import (
	"context"
	"sync"
	"time"
)

// StoredValue is a persisted value with its save time; save time drives
// expiry in PersistSource.
type StoredValue[V any] struct {
	Value   V         `json:"value" yaml:"value"`
	SavedAt time.Time `json:"saved_at" yaml:"saved_at"`
}

// Store is the persistence contract behind a PersistSource. Implementations
// report absence through the bool return, reserving the error for real
// backend failures.
type Store[V any] interface {
	// Load returns the persisted value, or false if none exists.
	Load(ctx context.Context) (StoredValue[V], bool, error)

	// Save replaces the persisted value.
	Save(ctx context.Context, v StoredValue[V]) error

	// Clear removes the persisted value. Clearing an empty store is not an
	// error.
	Clear(ctx context.Context) error
}

// WatchableStore is a Store whose backend can change behind the process's
// back. Watch emits a tick per external change so a PersistSource can
// reload.
type WatchableStore[V any] interface {
	Store[V]

	// Watch begins observing the backend and returns a channel that ticks
	// when the persisted value changes externally. The channel is closed
	// when the context is canceled.
	Watch(ctx context.Context) (<-chan struct{}, error)
}

// MemoryStore is an in-process Store, primarily for tests and ephemeral
// caches.
type MemoryStore[V any] struct {
	mu  sync.Mutex
	val StoredValue[V]
	ok  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore[V any]() *MemoryStore[V] {
	return &MemoryStore[V]{}
}

// Load returns the stored value, or false if none was saved.
func (s *MemoryStore[V]) Load(_ context.Context) (StoredValue[V], bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.val, s.ok, nil
}

// Save replaces the stored value.
func (s *MemoryStore[V]) Save(_ context.Context, v StoredValue[V]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.val = v
	s.ok = true
	return nil
}

// Clear removes the stored value.
func (s *MemoryStore[V]) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero StoredValue[V]
	s.val = zero
	s.ok = false
	return nil
}

// Ensure MemoryStore implements Store.
var _ Store[int] = (*MemoryStore[int])(nil)
