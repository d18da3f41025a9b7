package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sunwoo-k/parcelnote/internal/models"
)

const remoteRequestTimeout = 10 * time.Second

// RemoteStore replicates snapshots to a REST table endpoint with
// header-based API-key auth. Failures here are never surfaced to the user
// operation; the adapter folds them into its connection state.
type RemoteStore struct {
	url    string
	apiKey string
	client *http.Client
}

// NewRemoteStore creates a remote replication client.
func NewRemoteStore(url, apiKey string) *RemoteStore {
	return &RemoteStore{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: remoteRequestTimeout},
	}
}

// Replace uploads the full snapshot, overwriting the remote table contents.
func (r *RemoteStore) Replace(ctx context.Context, parcels []models.TrackedParcel) error {
	payload, err := json.Marshal(parcels)
	if err != nil {
		return fmt.Errorf("encode remote snapshot: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build remote request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote write: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("remote write: status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Fetch downloads the remote snapshot. Used at startup when the local store
// is empty and a remote copy may exist.
func (r *RemoteStore) Fetch(ctx context.Context) ([]models.TrackedParcel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build remote request: %w", err)
	}
	req.Header.Set("X-API-Key", r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote read: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return []models.TrackedParcel{}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("remote read: status %d", resp.StatusCode)
	}

	var parcels []models.TrackedParcel
	if err := json.NewDecoder(resp.Body).Decode(&parcels); err != nil {
		return nil, fmt.Errorf("decode remote snapshot: %w", err)
	}
	if parcels == nil {
		parcels = []models.TrackedParcel{}
	}
	return parcels, nil
}
