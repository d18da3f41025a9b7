package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sunwoo-k/parcelnote/internal/config"
	"github.com/sunwoo-k/parcelnote/internal/governor"
	"github.com/sunwoo-k/parcelnote/internal/logger"
	"github.com/sunwoo-k/parcelnote/internal/models"
)

// ProviderVWorld is the governor name for the cadastral data API.
const ProviderVWorld = "vworld"

// CadastralLayer is the continuous cadastral map layer queried for parcel
// boundaries.
const CadastralLayer = "LP_PA_CBND_BUBUN"

// Sentinel errors for the lookup path.
var (
	// ErrNotFound means the provider answered authoritatively that no
	// parcel exists at the query location. Callers treat it as a no-op.
	ErrNotFound = errors.New("no parcel found")

	// ErrRateLimited means the governor rejected the call before any
	// network traffic. Callers surface it, never drop it silently.
	ErrRateLimited = errors.New("lookup rate limited")
)

// KeysExhaustedError reports that every configured API key failed.
type KeysExhaustedError struct {
	KeysTried int
	Last      error
}

func (e *KeysExhaustedError) Error() string {
	return fmt.Sprintf("all %d vworld api keys failed: %v", e.KeysTried, e.Last)
}

func (e *KeysExhaustedError) Unwrap() error { return e.Last }

// Feature is one parcel feature from the provider: geometry plus the raw
// attribute properties the registry stores opaquely.
type Feature struct {
	Geometry   models.Geometry
	Properties map[string]interface{}
}

// PNU returns the cadastral parcel number property, empty when absent.
func (f *Feature) PNU() string {
	if v, ok := f.Properties["pnu"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// VWorld queries the cadastral data API with ordered API-key fallback:
// each key is tried in turn and the first success wins.
type VWorld struct {
	cfg    config.VWorldConfig
	gov    *governor.Governor
	log    *logger.Logger
	client *http.Client
}

// NewVWorld creates the cadastral lookup client.
func NewVWorld(cfg config.VWorldConfig, gov *governor.Governor, log *logger.Logger) *VWorld {
	return &VWorld{
		cfg: cfg,
		gov: gov,
		log: log,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// vworldEnvelope is the provider's response wrapper.
type vworldEnvelope struct {
	Response struct {
		Status string `json:"status"`
		Error  struct {
			Text string `json:"text"`
		} `json:"error"`
		Result struct {
			FeatureCollection struct {
				Features []struct {
					Geometry   json.RawMessage        `json:"geometry"`
					Properties map[string]interface{} `json:"properties"`
				} `json:"features"`
			} `json:"featureCollection"`
		} `json:"result"`
	} `json:"response"`
}

// FindByPoint returns the parcel feature containing the given coordinate,
// ErrNotFound when none exists, or ErrRateLimited / KeysExhaustedError.
func (v *VWorld) FindByPoint(ctx context.Context, lon, lat float64) (*Feature, error) {
	params := url.Values{}
	params.Set("service", "data")
	params.Set("request", "GetFeature")
	params.Set("data", CadastralLayer)
	params.Set("geomFilter", fmt.Sprintf("POINT(%f %f)", lon, lat))
	params.Set("geometry", "true")
	params.Set("size", "1")
	params.Set("format", "json")
	params.Set("crs", "EPSG:4326")

	return v.findWithFallback(ctx, params)
}

// FindByBBox returns up to size parcel features intersecting the bounding
// box. Used by the search path after geocoding an address.
func (v *VWorld) FindByBBox(ctx context.Context, minLon, minLat, maxLon, maxLat float64, size int) (*Feature, error) {
	params := url.Values{}
	params.Set("service", "data")
	params.Set("request", "GetFeature")
	params.Set("data", CadastralLayer)
	params.Set("geomFilter", fmt.Sprintf("BOX(%f,%f,%f,%f)", minLon, minLat, maxLon, maxLat))
	params.Set("geometry", "true")
	params.Set("size", fmt.Sprintf("%d", size))
	params.Set("format", "json")
	params.Set("crs", "EPSG:4326")

	return v.findWithFallback(ctx, params)
}

// ProxyQuery forwards a raw data-API query on behalf of the browser,
// injecting each configured key in turn and returning the first response
// body that is not a provider error. A NOT_FOUND envelope passes through
// unchanged; the client distinguishes it from key exhaustion.
func (v *VWorld) ProxyQuery(ctx context.Context, params url.Values) ([]byte, error) {
	if !v.gov.TryAcquire(ProviderVWorld) {
		return nil, ErrRateLimited
	}

	start := time.Now()
	body, err := v.proxyTryKeys(ctx, params)
	duration := time.Since(start)

	if err != nil {
		v.gov.Record(ProviderVWorld, governor.OutcomeError, duration)
	} else {
		v.gov.Record(ProviderVWorld, governor.OutcomeSuccess, duration)
	}
	return body, err
}

func (v *VWorld) proxyTryKeys(ctx context.Context, params url.Values) ([]byte, error) {
	if len(v.cfg.Keys) == 0 {
		return nil, &KeysExhaustedError{KeysTried: 0, Last: errors.New("no api keys configured")}
	}

	var lastErr error
	for i, key := range v.cfg.Keys {
		params.Set("key", key)

		body, err := v.fetchRaw(ctx, params)
		if err == nil {
			return body, nil
		}

		lastErr = err
		v.log.Warn("VWorld key failed, trying next", map[string]interface{}{
			"key_index": i,
			"error":     err.Error(),
		})
	}

	return nil, &KeysExhaustedError{KeysTried: len(v.cfg.Keys), Last: lastErr}
}

// fetchRaw returns the raw response body, treating only transport failures
// and ERROR envelopes as key failures.
func (v *VWorld) fetchRaw(ctx context.Context, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build vworld request: %w", err)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vworld request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vworld request: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("vworld response read: %w", err)
	}

	var env vworldEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("vworld response parse: %w", err)
	}
	if env.Response.Status == "ERROR" {
		return nil, fmt.Errorf("vworld error: %s", env.Response.Error.Text)
	}

	return body, nil
}

func (v *VWorld) findWithFallback(ctx context.Context, params url.Values) (*Feature, error) {
	if !v.gov.TryAcquire(ProviderVWorld) {
		return nil, ErrRateLimited
	}

	start := time.Now()
	feature, err := v.tryKeys(ctx, params)
	duration := time.Since(start)

	switch {
	case err == nil:
		v.gov.Record(ProviderVWorld, governor.OutcomeSuccess, duration)
	case errors.Is(err, ErrNotFound):
		v.gov.Record(ProviderVWorld, governor.OutcomeNotFound, duration)
	default:
		v.gov.Record(ProviderVWorld, governor.OutcomeError, duration)
	}

	return feature, err
}

// tryKeys walks the ordered key list. A NOT_FOUND answer is authoritative
// and stops the fallback; only provider or transport errors advance to the
// next key.
func (v *VWorld) tryKeys(ctx context.Context, params url.Values) (*Feature, error) {
	if len(v.cfg.Keys) == 0 {
		return nil, &KeysExhaustedError{KeysTried: 0, Last: errors.New("no api keys configured")}
	}

	var lastErr error
	for i, key := range v.cfg.Keys {
		params.Set("key", key)

		feature, err := v.fetch(ctx, params)
		if err == nil {
			return feature, nil
		}
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}

		lastErr = err
		v.log.Warn("VWorld key failed, trying next", map[string]interface{}{
			"key_index": i,
			"error":     err.Error(),
		})
	}

	return nil, &KeysExhaustedError{KeysTried: len(v.cfg.Keys), Last: lastErr}
}

func (v *VWorld) fetch(ctx context.Context, params url.Values) (*Feature, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build vworld request: %w", err)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vworld request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vworld request: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("vworld response read: %w", err)
	}

	var env vworldEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("vworld response parse: %w", err)
	}

	switch env.Response.Status {
	case "OK":
	case "NOT_FOUND":
		return nil, ErrNotFound
	case "ERROR":
		return nil, fmt.Errorf("vworld error: %s", env.Response.Error.Text)
	default:
		return nil, fmt.Errorf("vworld unexpected status %q", env.Response.Status)
	}

	features := env.Response.Result.FeatureCollection.Features
	if len(features) == 0 {
		return nil, ErrNotFound
	}

	var geom models.Geometry
	if err := geom.UnmarshalJSON(features[0].Geometry); err != nil {
		return nil, fmt.Errorf("vworld feature geometry: %w", err)
	}

	return &Feature{
		Geometry:   geom,
		Properties: features[0].Properties,
	}, nil
}
