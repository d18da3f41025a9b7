// Package registry owns the two tracked-parcel collections, the display
// mode, and every mutation that touches them. All call sites funnel
// through the operations here so the visibility invariant — a record is
// visible iff its collection matches the current mode — is enforced in one
// place instead of at each caller.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sunwoo-k/parcelnote/internal/logger"
	"github.com/sunwoo-k/parcelnote/internal/models"
)

// Sentinel errors. These mark caller bugs, not data problems: the registry
// routes around bad data but fails loudly on misuse.
var (
	ErrUnknownCollection = errors.New("unknown collection")
	ErrNotTracked        = errors.New("parcel not tracked")
	ErrEmptyID           = errors.New("empty parcel id")
)

// Registry is the single owner of both collections and the mode. Mutations
// are serialized behind one mutex; accessors hand out clones so callers
// never touch shared records.
type Registry struct {
	mu          sync.Mutex
	log         *logger.Logger
	collections map[models.Collection]map[string]*models.TrackedParcel
	mode        models.Mode
}

// New creates an empty registry in the default mode.
func New(log *logger.Logger) *Registry {
	return &Registry{
		log: log,
		collections: map[models.Collection]map[string]*models.TrackedParcel{
			models.CollectionSearch: {},
			models.CollectionClick:  {},
		},
		mode: models.DefaultMode,
	}
}

// Upsert inserts or refreshes a record in the named collection. Geometry
// and attributes are replaced unconditionally (last write wins, which also
// covers late-arriving lookup responses); color, owner info, and the
// display label survive so a re-lookup never erases user edits. The label
// is computed once, on first insert.
func (r *Registry) Upsert(collection models.Collection, id string, geom models.Geometry, attrs map[string]interface{}) (*models.TrackedParcel, error) {
	if !collection.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	if id == "" {
		return nil, ErrEmptyID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	records := r.collections[collection]
	if existing, ok := records[id]; ok {
		existing.Geometry = geom
		existing.Attributes = attrs
		return existing.Clone(), nil
	}

	color := models.ColorTransparent
	if collection == models.CollectionSearch {
		color = models.ColorSearchHighlight
	}

	record := &models.TrackedParcel{
		ID:           id,
		Geometry:     geom,
		Attributes:   attrs,
		DisplayLabel: models.FormatDisplayLabel(attrs),
		Color:        color,
		Collection:   collection,
	}
	records[id] = record

	r.log.Debug("Parcel tracked", map[string]interface{}{
		"collection": string(collection),
		"id":         id,
		"label":      record.DisplayLabel,
	})

	return record.Clone(), nil
}

// SetColor updates a record's color. Coloring a search record with a
// non-transparent color additionally claims it into the click collection:
// the click copy carries the new color while the search record keeps its
// own, so the parcel neither vanishes from future identical searches nor
// loses the user's annotation when search mode is toggled off.
func (r *Registry) SetColor(collection models.Collection, id string, color models.Color) (migrated bool, err error) {
	if !collection.Valid() {
		return false, fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.collections[collection][id]
	if !ok {
		return false, fmt.Errorf("%w: %s/%s", ErrNotTracked, collection, id)
	}

	if collection == models.CollectionSearch && !color.Transparent() {
		clone := r.claimIntoClick(record)
		clone.Color = color

		r.log.Debug("Search parcel claimed into click collection", map[string]interface{}{
			"id":    id,
			"color": string(color),
		})
		return true, nil
	}

	record.Color = color
	return false, nil
}

// MigrateToClick copies the search record with the given id into the click
// collection, overwriting any existing click record with that id. The
// search record is left untouched. A missing id is a caller bug.
func (r *Registry) MigrateToClick(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.collections[models.CollectionSearch][id]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotTracked, models.CollectionSearch, id)
	}

	r.claimIntoClick(record)
	return nil
}

// claimIntoClick copies a record into the click collection, overwriting any
// existing click record with the same id. The source record is left
// untouched. Caller must hold mu.
func (r *Registry) claimIntoClick(record *models.TrackedParcel) *models.TrackedParcel {
	clone := record.Clone()
	clone.Collection = models.CollectionClick
	r.collections[models.CollectionClick][clone.ID] = clone
	return clone
}

// SaveOwnerInfo attaches annotation data to a click record, marking it as
// persisted. Returns the updated record.
func (r *Registry) SaveOwnerInfo(id string, info models.OwnerInfo) (*models.TrackedParcel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.collections[models.CollectionClick][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotTracked, models.CollectionClick, id)
	}

	record.OwnerInfo = &info
	return record.Clone(), nil
}

// Remove deletes a record. Deletion is idempotent by design: removing an
// absent id is a no-op, never an error. Reports whether a record was
// actually removed so the projector knows to destroy visuals.
func (r *Registry) Remove(collection models.Collection, id string) bool {
	if !collection.Valid() {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.collections[collection][id]; !ok {
		return false
	}
	delete(r.collections[collection], id)
	return true
}

// ClearCollection removes every record from the named collection and
// returns how many were dropped. Confirmation is the caller's concern.
func (r *Registry) ClearCollection(collection models.Collection) int {
	if !collection.Valid() {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.collections[collection])
	r.collections[collection] = map[string]*models.TrackedParcel{}
	return n
}

// Mode returns the current display mode.
func (r *Registry) Mode() models.Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// SetMode switches the display mode and reports whether it changed. The
// caller must follow a change with a full projector sync: hiding the
// now-inactive collection matters as much as showing the active one.
func (r *Registry) SetMode(mode models.Mode) (changed bool, err error) {
	if !mode.Valid() {
		return false, fmt.Errorf("%w: %q", ErrUnknownCollection, mode)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mode == mode {
		return false, nil
	}
	r.mode = mode
	return true, nil
}

// Get returns a clone of the record, if tracked.
func (r *Registry) Get(collection models.Collection, id string) (*models.TrackedParcel, bool) {
	if !collection.Valid() {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.collections[collection][id]
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

// Has reports id presence without cloning. The restoration pipeline uses
// it for its idempotence check.
func (r *Registry) Has(collection models.Collection, id string) bool {
	if !collection.Valid() {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.collections[collection][id]
	return ok
}

// Count returns the number of records in the collection.
func (r *Registry) Count(collection models.Collection) int {
	if !collection.Valid() {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.collections[collection])
}

// List returns clones of every record in the collection, ordered by id for
// deterministic iteration.
func (r *Registry) List(collection models.Collection) []*models.TrackedParcel {
	if !collection.Valid() {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.TrackedParcel, 0, len(r.collections[collection]))
	for _, record := range r.collections[collection] {
		out = append(out, record.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot returns the collection as values, the form the persistence
// adapter and session cache serialize.
func (r *Registry) Snapshot(collection models.Collection) []models.TrackedParcel {
	records := r.List(collection)
	out := make([]models.TrackedParcel, 0, len(records))
	for _, record := range records {
		out = append(out, *record)
	}
	return out
}
