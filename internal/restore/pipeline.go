// Package restore rebuilds registry state on startup from the session
// cache and the durable store, then triggers exactly one full render sync.
package restore

import (
	"context"
	"fmt"

	"github.com/sunwoo-k/parcelnote/internal/logger"
	"github.com/sunwoo-k/parcelnote/internal/models"
	"github.com/sunwoo-k/parcelnote/internal/persistence"
	"github.com/sunwoo-k/parcelnote/internal/projector"
	"github.com/sunwoo-k/parcelnote/internal/registry"
	"github.com/sunwoo-k/parcelnote/internal/sessioncache"
)

// Pipeline restores both collections. It must run to completion before any
// user interaction is served, and running it twice is safe: entries whose
// id is already tracked are skipped by presence check, without refetching.
type Pipeline struct {
	cache   sessioncache.Cache
	adapter *persistence.Adapter
	reg     *registry.Registry
	proj    *projector.Projector
	log     *logger.Logger
}

// New wires the pipeline.
func New(cache sessioncache.Cache, adapter *persistence.Adapter, reg *registry.Registry, proj *projector.Projector, log *logger.Logger) *Pipeline {
	return &Pipeline{
		cache:   cache,
		adapter: adapter,
		reg:     reg,
		proj:    proj,
		log:     log,
	}
}

// Run restores the search collection from the session cache and the click
// collection from the durable store, then syncs the projector once, after
// all upserts. Syncing per entry is exactly the partial-restore bug this
// pipeline exists to prevent: it opens a window where a parcel has a label
// but no polygon, or the reverse.
func (p *Pipeline) Run(ctx context.Context) error {
	searchRestored, err := p.restoreSearch(ctx)
	if err != nil {
		// A lost session snapshot only costs uncolored search results;
		// startup continues on the durable data.
		p.log.Warn("Session cache unavailable, skipping search restore", map[string]interface{}{
			"error": err.Error(),
		})
	}

	clickRestored, err := p.restoreClick(ctx)
	if err != nil {
		return fmt.Errorf("restore click collection: %w", err)
	}

	p.proj.SyncAll()

	p.log.Info("Restoration complete", map[string]interface{}{
		"search_restored": searchRestored,
		"click_restored":  clickRestored,
	})
	return nil
}

func (p *Pipeline) restoreSearch(ctx context.Context) (int, error) {
	snap, err := p.cache.LoadSearch(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for id, entry := range snap {
		if p.reg.Has(models.CollectionSearch, id) {
			continue
		}

		// The display label is re-derived from the stored properties
		// rather than trusted from the snapshot.
		if _, err := p.reg.Upsert(models.CollectionSearch, id, entry.Geometry, entry.Properties); err != nil {
			p.log.Warn("Skipping unrestorable search entry", map[string]interface{}{
				"id":    id,
				"error": err.Error(),
			})
			continue
		}
		restored++
	}
	return restored, nil
}

func (p *Pipeline) restoreClick(ctx context.Context) (int, error) {
	// LoadSeed falls back to the remote copy when the local store is empty,
	// so a fresh install behind an existing remote starts with its data.
	parcels, err := p.adapter.LoadSeed(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, parcel := range parcels {
		if p.reg.Has(models.CollectionClick, parcel.ID) {
			continue
		}

		if _, err := p.reg.Upsert(models.CollectionClick, parcel.ID, parcel.Geometry, parcel.Attributes); err != nil {
			p.log.Warn("Skipping unrestorable click entry", map[string]interface{}{
				"id":    parcel.ID,
				"error": err.Error(),
			})
			continue
		}

		if _, err := p.reg.SetColor(models.CollectionClick, parcel.ID, parcel.Color); err != nil {
			return restored, fmt.Errorf("restore color for %s: %w", parcel.ID, err)
		}
		if parcel.OwnerInfo != nil {
			if _, err := p.reg.SaveOwnerInfo(parcel.ID, *parcel.OwnerInfo); err != nil {
				return restored, fmt.Errorf("restore owner info for %s: %w", parcel.ID, err)
			}
		}
		restored++
	}
	return restored, nil
}
