// Package projector derives the visual artifacts of tracked parcels and
// keeps them attached to or detached from the display surface strictly by
// the mode rule: a record's artifacts are attached iff its collection is
// the current mode. No other flag can override that.
package projector

import (
	"github.com/sunwoo-k/parcelnote/internal/logger"
	"github.com/sunwoo-k/parcelnote/internal/models"
	"github.com/sunwoo-k/parcelnote/internal/registry"
)

// Polygon styling constants. A transparent color keeps the outline visible
// at fill opacity zero; any palette color fills at the fixed visible
// opacity with a heavier, more opaque stroke of the same color.
const (
	fillOpacityVisible = 0.6
	strokeOpacity      = 0.9
	strokeWeight       = 2

	outlineColor         = "#3366FF"
	outlineStrokeOpacity = 0.8
)

type visualKey struct {
	collection models.Collection
	id         string
}

// visual holds the render artifacts of one record. Artifacts are created
// lazily on first sync and retained while detached for fast re-show; they
// are destroyed only when the record is removed.
type visual struct {
	polygon *Artifact
	label   *Artifact
	marker  *Artifact
}

func (v *visual) artifacts() []*Artifact {
	out := make([]*Artifact, 0, 3)
	if v.polygon != nil {
		out = append(out, v.polygon)
	}
	if v.label != nil {
		out = append(out, v.label)
	}
	if v.marker != nil {
		out = append(out, v.marker)
	}
	return out
}

// Projector owns the visuals of both collections.
type Projector struct {
	reg     *registry.Registry
	surface Surface
	log     *logger.Logger
	visuals map[visualKey]*visual
}

// New creates a projector over the given registry and surface.
func New(reg *registry.Registry, surface Surface, log *logger.Logger) *Projector {
	return &Projector{
		reg:     reg,
		surface: surface,
		log:     log,
		visuals: make(map[visualKey]*visual),
	}
}

// SyncAll re-syncs both collections. Required after a mode flip: hiding
// the inactive collection matters as much as showing the active one.
func (p *Projector) SyncAll() {
	p.Sync(models.CollectionSearch)
	p.Sync(models.CollectionClick)
}

// Sync walks every record in the collection, ensures its visuals exist,
// and attaches or detaches them by the mode rule. Visuals whose record no
// longer exists are destroyed.
func (p *Projector) Sync(collection models.Collection) {
	records := p.reg.List(collection)
	visible := p.reg.Mode() == collection

	present := make(map[string]bool, len(records))
	for _, record := range records {
		present[record.ID] = true

		vis, ok := p.ensureVisual(record)
		if !ok {
			continue
		}

		for _, a := range vis.artifacts() {
			if visible {
				p.surface.Attach(a)
			} else {
				p.surface.Detach(a.Key)
			}
		}
	}

	// Drop visuals orphaned by removes or clears.
	for key, vis := range p.visuals {
		if key.collection != collection || present[key.id] {
			continue
		}
		for _, a := range vis.artifacts() {
			p.surface.Destroy(a.Key)
		}
		delete(p.visuals, key)
	}
}

// Remove destroys the visuals of one record immediately. Sync would catch
// the orphan on its next pass; removing eagerly keeps the surface in step
// with the user action.
func (p *Projector) Remove(collection models.Collection, id string) {
	key := visualKey{collection: collection, id: id}
	vis, ok := p.visuals[key]
	if !ok {
		return
	}
	for _, a := range vis.artifacts() {
		p.surface.Destroy(a.Key)
	}
	delete(p.visuals, key)
}

// ensureVisual is the single creation path for all visuals, first-time and
// restore-time alike. An existing polygon is only restyled, never rebuilt
// from geometry. Malformed geometry skips the record with a log line; one
// bad feature must not abort the rest of the sync.
func (p *Projector) ensureVisual(record *models.TrackedParcel) (*visual, bool) {
	key := visualKey{collection: record.Collection, id: record.ID}
	vis, ok := p.visuals[key]

	if !ok {
		if !record.Geometry.Valid() {
			p.log.Warn("Skipping parcel with malformed geometry", map[string]interface{}{
				"collection": string(record.Collection),
				"id":         record.ID,
			})
			return nil, false
		}

		geom := record.Geometry
		vis = &visual{
			polygon: &Artifact{
				Key:      ArtifactKey{Collection: record.Collection, ID: record.ID, Kind: KindPolygon},
				Geometry: &geom,
			},
		}

		if record.Collection == models.CollectionSearch {
			lon, lat := geom.Centroid()
			vis.label = &Artifact{
				Key:  ArtifactKey{Collection: record.Collection, ID: record.ID, Kind: KindLabel},
				Text: record.DisplayLabel,
				Lon:  lon,
				Lat:  lat,
			}
		}

		p.visuals[key] = vis
	}

	vis.polygon.Style = styleFor(record.Color)

	// The status marker appears only once owner info has been saved: it
	// signals that the parcel carries durable annotation data.
	if record.Collection == models.CollectionClick && record.Persisted() && vis.marker == nil {
		lon, lat := record.Geometry.Centroid()
		vis.marker = &Artifact{
			Key: ArtifactKey{Collection: record.Collection, ID: record.ID, Kind: KindMarker},
			Lon: lon,
			Lat: lat,
		}
	}

	return vis, true
}

func styleFor(color models.Color) Style {
	if color.Transparent() {
		return Style{
			FillColor:     "",
			FillOpacity:   0,
			StrokeColor:   outlineColor,
			StrokeOpacity: outlineStrokeOpacity,
			StrokeWeight:  strokeWeight,
		}
	}
	return Style{
		FillColor:     string(color),
		FillOpacity:   fillOpacityVisible,
		StrokeColor:   string(color),
		StrokeOpacity: strokeOpacity,
		StrokeWeight:  strokeWeight,
	}
}
