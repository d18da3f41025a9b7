package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/sunwoo-k/parcelnote/internal/models"
)

// SQLiteStore persists snapshots to a single-table SQLite database as JSON
// blobs keyed by bucket. It is the default durable store backend.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (creating if needed) the database file and ensures
// the state table exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Load reads the parcelData bucket. A missing row is an empty snapshot,
// not an error.
func (s *SQLiteStore) Load(ctx context.Context) ([]models.TrackedParcel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM state WHERE bucket = ?`, BucketParcelData,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return []models.TrackedParcel{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select state: %w", err)
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
func (s *SQLiteStore) Save(ctx context.Context, parcels []models.TrackedParcel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(parcels)
	if err != nil {
		return fmt.Errorf("encode %s: %w", BucketParcelData, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO state (bucket, payload) VALUES (?, ?)
		 ON CONFLICT(bucket) DO UPDATE SET payload = excluded.payload`,
		BucketParcelData, payload,
	)
	if err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
