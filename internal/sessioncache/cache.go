package sessioncache

import (
	"context"
	"sync"
	"time"

	"github.com/sunwoo-k/parcelnote/internal/models"
)

// KeySearchParcels is the cache key for the search-collection snapshot.
const KeySearchParcels = "searchParcels"

// Entry is one serialized search parcel. Visual handles never enter the
// cache; they are re-derived on restore.
type Entry struct {
	Data        map[string]interface{} `json:"data,omitempty"`
	Geometry    models.Geometry        `json:"geometry"`
	Properties  map[string]interface{} `json:"properties,omitempty"`
	DisplayText string                 `json:"displayText"`
	Timestamp   int64                  `json:"timestamp"`
}

// Snapshot is the full search collection keyed by parcel id (PNU).
type Snapshot map[string]Entry

// Cache is the page-lifetime store for the search collection. It survives a
// reload but not a session expiry, which the redis implementation models
// with a TTL.
type Cache interface {
	LoadSearch(ctx context.Context) (Snapshot, error)
	SaveSearch(ctx context.Context, snap Snapshot) error
	Clear(ctx context.Context) error
}

// EntryFromParcel converts a registry record into its cache form.
func EntryFromParcel(p *models.TrackedParcel) Entry {
	return Entry{
		Geometry:    p.Geometry,
		Properties:  p.Attributes,
		DisplayText: p.DisplayLabel,
		Timestamp:   time.Now().UnixMilli(),
	}
}

// Memory is an in-process Cache used when redis is not configured, and in
// tests.
type Memory struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{}
}

// LoadSearch returns the stored snapshot, empty when nothing was saved.
func (m *Memory) LoadSearch(_ context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(Snapshot, len(m.snap))
	for k, v := range m.snap {
		out[k] = v
	}
	return out, nil
}

// SaveSearch replaces the stored snapshot.
func (m *Memory) SaveSearch(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(Snapshot, len(snap))
	for k, v := range snap {
		out[k] = v
	}
	m.snap = out
	return nil
}

// Clear drops the stored snapshot.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = nil
	return nil
}
