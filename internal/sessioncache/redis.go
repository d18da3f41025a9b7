package sessioncache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sunwoo-k/parcelnote/internal/config"
)

// Redis stores the search snapshot as a single JSON value under
// KeySearchParcels with a TTL standing in for the page lifetime.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// OpenRedis builds a client from config. Returns nil when no host is
// configured, which callers treat as "use the in-memory cache".
func OpenRedis(cfg config.RedisConfig) *redis.Client {
	if cfg.Host == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Host + ":" + cfg.Port,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// LoadSearch reads the snapshot. An absent or expired key is an empty
// snapshot, not an error.
func (r *Redis) LoadSearch(ctx context.Context) (Snapshot, error) {
	raw, err := r.client.Get(ctx, KeySearchParcels).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session cache read: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("session cache decode: %w", err)
	}
	if snap == nil {
		snap = Snapshot{}
	}
	return snap, nil
}

// SaveSearch replaces the snapshot and refreshes the TTL.
func (r *Redis) SaveSearch(ctx context.Context, snap Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("session cache encode: %w", err)
	}

	if err := r.client.Set(ctx, KeySearchParcels, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("session cache write: %w", err)
	}
	return nil
}

// Clear deletes the snapshot key.
func (r *Redis) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, KeySearchParcels).Err(); err != nil {
		return fmt.Errorf("session cache clear: %w", err)
	}
	return nil
}
