package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sunwoo-k/parcelnote/internal/logger"
	"github.com/sunwoo-k/parcelnote/internal/lookup"
	"github.com/sunwoo-k/parcelnote/internal/models"
	"github.com/sunwoo-k/parcelnote/internal/projector"
	"github.com/sunwoo-k/parcelnote/internal/registry"
	"github.com/sunwoo-k/parcelnote/internal/sessioncache"
)

// Coordinate validation constants
const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0
)

// Service-level errors
var (
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrParcelNotFound     = errors.New("parcel not found")
	ErrAddressNotFound    = errors.New("address not found")
	ErrRateLimited        = errors.New("rate limited")
)

// searchBBoxPadding widens a geocoded point into a lookup box, in degrees.
// Roughly 50m at Korean latitudes.
const searchBBoxPadding = 0.0005

// ParcelLookup resolves a coordinate or a bounding box to at most one
// parcel feature.
type ParcelLookup interface {
	FindByPoint(ctx context.Context, lon, lat float64) (*lookup.Feature, error)
	FindByBBox(ctx context.Context, minLon, minLat, maxLon, maxLat float64, size int) (*lookup.Feature, error)
}

// Geocoder resolves a free-form address to a coordinate.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*lookup.Coordinate, error)
}

// SnapshotSaver is the durable-store face the service needs.
type SnapshotSaver interface {
	Save(ctx context.Context, parcels []models.TrackedParcel) error
}

// AnnotationService orchestrates the annotation control flow: lookup,
// registry mutation, render sync, persistence. One mutex serializes every
// mutation-plus-sync sequence so the visible set is always a pure function
// of mode; all network work happens before the lock is taken, never inside
// a sync.
type AnnotationService struct {
	mu sync.Mutex

	reg      *registry.Registry
	proj     *projector.Projector
	saver    SnapshotSaver
	cache    sessioncache.Cache
	parcels  ParcelLookup
	geocoder Geocoder
	log      *logger.Logger
}

// NewAnnotationService wires the service.
func NewAnnotationService(
	reg *registry.Registry,
	proj *projector.Projector,
	saver SnapshotSaver,
	cache sessioncache.Cache,
	parcels ParcelLookup,
	geocoder Geocoder,
	log *logger.Logger,
) *AnnotationService {
	return &AnnotationService{
		reg:      reg,
		proj:     proj,
		saver:    saver,
		cache:    cache,
		parcels:  parcels,
		geocoder: geocoder,
		log:      log,
	}
}

// ClickAt looks up the parcel at the clicked coordinate and tracks it in
// the click collection. The upsert is applied unconditionally even when
// the response arrives after a mode change; the full re-sync afterwards
// guarantees a stale response never shows a polygon in the wrong mode.
func (s *AnnotationService) ClickAt(ctx context.Context, lat, lng float64) (*models.TrackedParcel, error) {
	if err := validateCoordinates(lat, lng); err != nil {
		return nil, err
	}

	feature, err := s.parcels.FindByPoint(ctx, lng, lat)
	if err != nil {
		return nil, mapLookupError(err, ErrParcelNotFound)
	}

	pnu := feature.PNU()
	if pnu == "" {
		return nil, fmt.Errorf("provider feature missing pnu property")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.reg.Upsert(models.CollectionClick, pnu, feature.Geometry, feature.Properties)
	if err != nil {
		return nil, fmt.Errorf("track clicked parcel: %w", err)
	}
	s.proj.SyncAll()

	if err := s.persistClick(ctx); err != nil {
		return nil, err
	}

	s.log.Info("Parcel clicked", map[string]interface{}{
		"id":    record.ID,
		"label": record.DisplayLabel,
	})
	return record, nil
}

// SearchAddress geocodes the address, looks up the parcel at the resulting
// coordinate, tracks it in the search collection, and switches the mode to
// search so the result is immediately visible.
func (s *AnnotationService) SearchAddress(ctx context.Context, address string) (*models.TrackedParcel, error) {
	if address == "" {
		return nil, fmt.Errorf("%w: empty address", ErrAddressNotFound)
	}

	coord, err := s.geocoder.Geocode(ctx, address)
	if err != nil {
		return nil, mapLookupError(err, ErrAddressNotFound)
	}

	feature, err := s.parcels.FindByPoint(ctx, coord.Lon, coord.Lat)
	if errors.Is(err, lookup.ErrNotFound) {
		// Geocoded road addresses can land on the street, just outside any
		// parcel boundary; retry with a small box around the point.
		feature, err = s.parcels.FindByBBox(ctx,
			coord.Lon-searchBBoxPadding, coord.Lat-searchBBoxPadding,
			coord.Lon+searchBBoxPadding, coord.Lat+searchBBoxPadding, 1)
	}
	if err != nil {
		return nil, mapLookupError(err, ErrParcelNotFound)
	}

	pnu := feature.PNU()
	if pnu == "" {
		return nil, fmt.Errorf("provider feature missing pnu property")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.reg.Upsert(models.CollectionSearch, pnu, feature.Geometry, feature.Properties)
	if err != nil {
		return nil, fmt.Errorf("track search parcel: %w", err)
	}

	// A successful search implies the user wants to see search results.
	if _, err := s.reg.SetMode(models.CollectionSearch); err != nil {
		return nil, err
	}
	s.proj.SyncAll()

	s.saveSession(ctx)

	s.log.Info("Parcel found by search", map[string]interface{}{
		"id":      record.ID,
		"label":   record.DisplayLabel,
		"address": address,
	})
	return record, nil
}

// SetColor recolors a record. Coloring a search record claims it into the
// click collection, which also makes it durable.
func (s *AnnotationService) SetColor(ctx context.Context, collection models.Collection, id string, color models.Color) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	migrated, err := s.reg.SetColor(collection, id, color)
	if err != nil {
		return err
	}
	s.proj.SyncAll()

	if collection == models.CollectionClick || migrated {
		if err := s.persistClick(ctx); err != nil {
			return err
		}
	}
	if collection == models.CollectionSearch {
		s.saveSession(ctx)
	}
	return nil
}

// SaveOwnerInfo attaches annotation data to a click record and persists.
func (s *AnnotationService) SaveOwnerInfo(ctx context.Context, id string, info models.OwnerInfo) (*models.TrackedParcel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.reg.SaveOwnerInfo(id, info)
	if err != nil {
		return nil, err
	}
	s.proj.SyncAll()

	if err := s.persistClick(ctx); err != nil {
		return nil, err
	}
	return record, nil
}

// Remove deletes a record and destroys its visuals. Removing an absent id
// is a no-op.
func (s *AnnotationService) Remove(ctx context.Context, collection models.Collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.reg.Remove(collection, id) {
		return nil
	}
	s.proj.Remove(collection, id)
	s.proj.SyncAll()

	if collection == models.CollectionClick {
		return s.persistClick(ctx)
	}
	s.saveSession(ctx)
	return nil
}

// ClearCollection bulk-removes a collection. The confirmation dialog is
// the UI's job, not enforced here.
func (s *AnnotationService) ClearCollection(ctx context.Context, collection models.Collection) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.reg.ClearCollection(collection)
	s.proj.SyncAll()

	if collection == models.CollectionClick {
		if err := s.persistClick(ctx); err != nil {
			return n, err
		}
	} else {
		if err := s.cache.Clear(ctx); err != nil {
			s.log.Warn("Session cache clear failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	return n, nil
}

// SetMode switches the display mode and re-syncs both collections.
func (s *AnnotationService) SetMode(_ context.Context, mode models.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed, err := s.reg.SetMode(mode)
	if err != nil {
		return err
	}
	if changed {
		s.proj.SyncAll()
	}
	return nil
}

// Mode returns the current display mode.
func (s *AnnotationService) Mode() models.Mode {
	return s.reg.Mode()
}

// persistClick writes the durable part of the click collection through the
// adapter. Ephemeral records — transparent, no owner info — stay out of
// durable storage; a colored or annotated parcel is the user's claimed set
// and must survive a reload.
func (s *AnnotationService) persistClick(ctx context.Context) error {
	snapshot := s.reg.Snapshot(models.CollectionClick)
	durable := make([]models.TrackedParcel, 0, len(snapshot))
	for _, p := range snapshot {
		if p.OwnerInfo != nil || !p.Color.Transparent() {
			durable = append(durable, p)
		}
	}

	if err := s.saver.Save(ctx, durable); err != nil {
		return fmt.Errorf("persist click collection: %w", err)
	}
	return nil
}

// saveSession snapshots the search collection into the session cache. A
// cache failure costs only search restore after reload, so it is logged
// and swallowed.
func (s *AnnotationService) saveSession(ctx context.Context) {
	records := s.reg.List(models.CollectionSearch)
	snap := make(sessioncache.Snapshot, len(records))
	for _, record := range records {
		snap[record.ID] = sessioncache.EntryFromParcel(record)
	}

	if err := s.cache.SaveSearch(ctx, snap); err != nil {
		s.log.Warn("Session cache save failed", map[string]interface{}{
			"error": err.Error(),
			"count": len(snap),
		})
	}
}

func validateCoordinates(lat, lng float64) error {
	if lat < MinLatitude || lat > MaxLatitude {
		return fmt.Errorf("%w: latitude must be between %f and %f, got %f",
			ErrInvalidCoordinates, MinLatitude, MaxLatitude, lat)
	}
	if lng < MinLongitude || lng > MaxLongitude {
		return fmt.Errorf("%w: longitude must be between %f and %f, got %f",
			ErrInvalidCoordinates, MinLongitude, MaxLongitude, lng)
	}
	return nil
}

// mapLookupError converts lookup sentinels into service sentinels, leaving
// provider errors (key exhaustion included) wrapped as-is.
func mapLookupError(err error, notFound error) error {
	switch {
	case errors.Is(err, lookup.ErrNotFound):
		return notFound
	case errors.Is(err, lookup.ErrRateLimited):
		return ErrRateLimited
	default:
		return fmt.Errorf("lookup failed: %w", err)
	}
}
