package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sunwoo-k/parcelnote/internal/database"
	"github.com/sunwoo-k/parcelnote/internal/models"
)

// PostgresStore persists snapshots to a parcel_state table, JSON payload per
// bucket. Selected with STORE_BACKEND=postgres for shared deployments.
type PostgresStore struct {
	db *database.Database
}

// NewPostgresStore ensures the state table exists on the given pool.
func NewPostgresStore(ctx context.Context, db *database.Database) (*PostgresStore, error) {
	_, err := db.Pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS parcel_state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return nil, fmt.Errorf("create parcel_state table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Load reads the parcelData bucket. A missing row is an empty snapshot.
func (s *PostgresStore) Load(ctx context.Context) ([]models.TrackedParcel, error) {
	var payload []byte
	err := s.db.Pool.QueryRow(ctx,
		`SELECT payload FROM parcel_state WHERE bucket = $1`, BucketParcelData,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return []models.TrackedParcel{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select parcel_state: %w", err)
	}

	var parcels []models.TrackedParcel
	if err := json.Unmarshal(payload, &parcels); err != nil {
		return nil, fmt.Errorf("decode %s: %w", BucketParcelData, err)
	}
	if parcels == nil {
		parcels = []models.TrackedParcel{}
	}
	return parcels, nil
}

// Save replaces the parcelData bucket with the given snapshot.
func (s *PostgresStore) Save(ctx context.Context, parcels []models.TrackedParcel) error {
	payload, err := json.Marshal(parcels)
	if err != nil {
		return fmt.Errorf("encode %s: %w", BucketParcelData, err)
	}

	_, err = s.db.Pool.Exec(ctx,
		`INSERT INTO parcel_state (bucket, payload, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (bucket) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`,
		BucketParcelData, payload,
	)
	if err != nil {
		return fmt.Errorf("write parcel_state: %w", err)
	}
	return nil
}

// Ping checks the connection pool.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the underlying pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
