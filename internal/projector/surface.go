package projector

import (
	"sort"
	"sync"

	"github.com/sunwoo-k/parcelnote/internal/models"
)

// ArtifactKind names the three visual artifacts a record can project.
type ArtifactKind string

const (
	KindPolygon ArtifactKind = "polygon"
	KindLabel   ArtifactKind = "label"
	KindMarker  ArtifactKind = "marker"
)

// ArtifactKey identifies one artifact on the surface.
type ArtifactKey struct {
	Collection models.Collection
	ID         string
	Kind       ArtifactKind
}

// Style is the fill/stroke styling of a polygon artifact.
type Style struct {
	FillColor     string  `json:"fillColor"`
	FillOpacity   float64 `json:"fillOpacity"`
	StrokeColor   string  `json:"strokeColor"`
	StrokeOpacity float64 `json:"strokeOpacity"`
	StrokeWeight  int     `json:"strokeWeight"`
}

// Artifact is one renderable item. Geometry is set for polygons, Text and
// the anchor coordinate for labels, the anchor alone for markers.
type Artifact struct {
	Key      ArtifactKey      `json:"key"`
	Geometry *models.Geometry `json:"geometry,omitempty"`
	Text     string           `json:"text,omitempty"`
	Lon      float64          `json:"lon,omitempty"`
	Lat      float64          `json:"lat,omitempty"`
	Style    Style            `json:"style"`
}

// Surface is the display the projector attaches artifacts to. Attach is
// idempotent: attaching an already-attached artifact updates it in place.
type Surface interface {
	Attach(a *Artifact)
	Detach(key ArtifactKey)
	Destroy(key ArtifactKey)
}

// MemorySurface is the default surface: it holds the attached set in
// memory, which the HTTP layer serializes as the current visible parcel
// set. It also serves as the test double for visibility assertions.
type MemorySurface struct {
	mu       sync.Mutex
	attached map[ArtifactKey]*Artifact
}

// NewMemorySurface creates an empty surface.
func NewMemorySurface() *MemorySurface {
	return &MemorySurface{attached: make(map[ArtifactKey]*Artifact)}
}

// Attach adds or updates an artifact on the surface.
func (s *MemorySurface) Attach(a *Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached[a.Key] = a
}

// Detach removes an artifact from the surface. The artifact itself lives
// on in the projector for fast re-show.
func (s *MemorySurface) Detach(key ArtifactKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attached, key)
}

// Destroy removes an artifact permanently. On this surface it is the same
// as Detach; a real map surface would also release the renderer object.
func (s *MemorySurface) Destroy(key ArtifactKey) {
	s.Detach(key)
}

// IsAttached reports whether the artifact is currently on the surface.
func (s *MemorySurface) IsAttached(key ArtifactKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.attached[key]
	return ok
}

// Attached returns the attached artifacts ordered by collection, id, kind.
func (s *MemorySurface) Attached() []Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Artifact, 0, len(s.attached))
	for _, a := range s.attached {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Collection != out[j].Key.Collection {
			return out[i].Key.Collection < out[j].Key.Collection
		}
		if out[i].Key.ID != out[j].Key.ID {
			return out[i].Key.ID < out[j].Key.ID
		}
		return out[i].Key.Kind < out[j].Key.Kind
	})
	return out
}
