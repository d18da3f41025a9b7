package persistence

import (
	"context"
	"sync"

	"github.com/sunwoo-k/parcelnote/internal/models"
)

// MemoryStore is a Store kept entirely in process memory. It backs tests
// and throwaway runs; production uses the sqlite or postgres backends.
type MemoryStore struct {
	mu      sync.Mutex
	parcels []models.TrackedParcel
	saveErr error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// FailSavesWith makes subsequent saves return err. Tests use it to
// exercise the local-write-failure path.
func (m *MemoryStore) FailSavesWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

// Load returns a copy of the stored snapshot.
func (m *MemoryStore) Load(_ context.Context) ([]models.TrackedParcel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.TrackedParcel, len(m.parcels))
	copy(out, m.parcels)
	return out, nil
}

// Save replaces the stored snapshot.
func (m *MemoryStore) Save(_ context.Context, parcels []models.TrackedParcel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveErr != nil {
		return m.saveErr
	}

	out := make([]models.TrackedParcel, len(parcels))
	copy(out, parcels)
	m.parcels = out
	return nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
