package persistence

import (
	"context"

	"github.com/sunwoo-k/parcelnote/internal/models"
)

// BucketParcelData is the durable store key holding the click-collection
// snapshot, owner info included.
const BucketParcelData = "parcelData"

// Store is the durable local store: one named bucket holding the full
// click-collection snapshot as JSON. Writes replace the bucket wholesale;
// per-record updates are not needed because the registry always saves a
// complete snapshot.
type Store interface {
	// Load returns the stored snapshot, or an empty slice when the bucket
	// has never been written.
	Load(ctx context.Context) ([]models.TrackedParcel, error)

	// Save replaces the stored snapshot. An error here is fatal to the
	// calling operation, unlike remote replication failures.
	Save(ctx context.Context, parcels []models.TrackedParcel) error

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error

	Close() error
}
