package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sunwoo-k/parcelnote/internal/config"
	"github.com/sunwoo-k/parcelnote/internal/governor"
	"github.com/sunwoo-k/parcelnote/internal/logger"
)

// ProviderNaver is the governor name for the geocoding API.
const ProviderNaver = "naver"

// Coordinate is a geocoded point in WGS84.
type Coordinate struct {
	Lon float64
	Lat float64
}

// Naver resolves a free-form address to a coordinate through the naver
// cloud geocoding API.
type Naver struct {
	cfg    config.NaverConfig
	gov    *governor.Governor
	log    *logger.Logger
	client *http.Client
}

// NewNaver creates the geocoding client.
func NewNaver(cfg config.NaverConfig, gov *governor.Governor, log *logger.Logger) *Naver {
	return &Naver{
		cfg: cfg,
		gov: gov,
		log: log,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type naverEnvelope struct {
	Status    string `json:"status"`
	Addresses []struct {
		X string `json:"x"`
		Y string `json:"y"`
	} `json:"addresses"`
	ErrorMessage string `json:"errorMessage"`
}

// Geocode resolves an address. Returns ErrNotFound when the provider knows
// no such address, ErrRateLimited when the governor rejects the call.
func (n *Naver) Geocode(ctx context.Context, address string) (*Coordinate, error) {
	if !n.gov.TryAcquire(ProviderNaver) {
		return nil, ErrRateLimited
	}

	start := time.Now()
	coord, err := n.geocode(ctx, address)
	duration := time.Since(start)

	switch {
	case err == nil:
		n.gov.Record(ProviderNaver, governor.OutcomeSuccess, duration)
	case errors.Is(err, ErrNotFound):
		n.gov.Record(ProviderNaver, governor.OutcomeNotFound, duration)
	default:
		n.gov.Record(ProviderNaver, governor.OutcomeError, duration)
	}

	return coord, err
}

func (n *Naver) geocode(ctx context.Context, address string) (*Coordinate, error) {
	params := url.Values{}
	params.Set("query", address)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.cfg.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build geocode request: %w", err)
	}
	req.Header.Set("x-ncp-apigw-api-key-id", n.cfg.ClientID)
	req.Header.Set("x-ncp-apigw-api-key", n.cfg.ClientSecret)
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode request: status %d", resp.StatusCode)
	}

	var env naverEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("geocode response parse: %w", err)
	}

	if env.Status != "OK" {
		return nil, fmt.Errorf("geocode error: status %q: %s", env.Status, env.ErrorMessage)
	}
	if len(env.Addresses) == 0 {
		return nil, ErrNotFound
	}

	lon, err := strconv.ParseFloat(env.Addresses[0].X, 64)
	if err != nil {
		return nil, fmt.Errorf("geocode response: bad longitude %q", env.Addresses[0].X)
	}
	lat, err := strconv.ParseFloat(env.Addresses[0].Y, 64)
	if err != nil {
		return nil, fmt.Errorf("geocode response: bad latitude %q", env.Addresses[0].Y)
	}

	return &Coordinate{Lon: lon, Lat: lat}, nil
}
