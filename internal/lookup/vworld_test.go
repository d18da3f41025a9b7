package lookup

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunwoo-k/parcelnote/internal/config"
	"github.com/sunwoo-k/parcelnote/internal/governor"
	"github.com/sunwoo-k/parcelnote/internal/logger"
)

const featureBody = `{"response":{"status":"OK","result":{"featureCollection":{"features":[{
	"geometry":{"type":"Polygon","coordinates":[[[126.97,37.57],[126.98,37.57],[126.98,37.58],[126.97,37.57]]]},
	"properties":{"pnu":"1111010100100440001","addr":"서울특별시 종로구 사직동 344-1"}
}]}}}}`

const notFoundBody = `{"response":{"status":"NOT_FOUND"}}`

const errorBody = `{"response":{"status":"ERROR","error":{"text":"INVALID KEY"}}}`

// keyRecorder tracks which API key served each request.
type keyRecorder struct {
	mu   sync.Mutex
	keys []string
}

func (r *keyRecorder) add(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
}

func (r *keyRecorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

func newTestVWorld(endpoint string, keys []string, gov *governor.Governor) *VWorld {
	if gov == nil {
		gov = governor.New(nil, time.Minute, 0, prometheus.NewRegistry())
	}
	return NewVWorld(config.VWorldConfig{
		Keys:     keys,
		Endpoint: endpoint,
		Timeout:  5 * time.Second,
	}, gov, logger.NewWithWriter(io.Discard))
}

func TestFindByPointSuccess(t *testing.T) {
	rec := &keyRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r.URL.Query().Get("key"))
		assert.Equal(t, CadastralLayer, r.URL.Query().Get("data"))
		assert.Contains(t, r.URL.Query().Get("geomFilter"), "POINT(")
		w.Write([]byte(featureBody))
	}))
	defer srv.Close()

	client := newTestVWorld(srv.URL, []string{"key-a", "key-b"}, nil)

	feature, err := client.FindByPoint(context.Background(), 126.975, 37.575)
	require.NoError(t, err)
	assert.Equal(t, "1111010100100440001", feature.PNU())
	require.Len(t, feature.Geometry.Coordinates, 1)

	// Success on the first key means the second is never spent
	assert.Equal(t, []string{"key-a"}, rec.seen())
}

// Keys are tried strictly in configured order; provider errors advance to
// the next key.
func TestFindByPointKeyFallback(t *testing.T) {
	rec := &keyRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		rec.add(key)
		if key != "key-c" {
			w.Write([]byte(errorBody))
			return
		}
		w.Write([]byte(featureBody))
	}))
	defer srv.Close()

	client := newTestVWorld(srv.URL, []string{"key-a", "key-b", "key-c"}, nil)

	feature, err := client.FindByPoint(context.Background(), 126.975, 37.575)
	require.NoError(t, err)
	assert.Equal(t, "1111010100100440001", feature.PNU())
	assert.Equal(t, []string{"key-a", "key-b", "key-c"}, rec.seen())
}

// NOT_FOUND is an authoritative answer about the location, not a key
// problem: the fallback stops immediately.
func TestFindByPointNotFoundStopsFallback(t *testing.T) {
	rec := &keyRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r.URL.Query().Get("key"))
		w.Write([]byte(notFoundBody))
	}))
	defer srv.Close()

	client := newTestVWorld(srv.URL, []string{"key-a", "key-b"}, nil)

	_, err := client.FindByPoint(context.Background(), 126.975, 37.575)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{"key-a"}, rec.seen())
}

func TestFindByPointAllKeysExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(errorBody))
	}))
	defer srv.Close()

	client := newTestVWorld(srv.URL, []string{"key-a", "key-b"}, nil)

	_, err := client.FindByPoint(context.Background(), 126.975, 37.575)
	var exhausted *KeysExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.KeysTried)
	assert.Contains(t, exhausted.Last.Error(), "INVALID KEY")
}

func TestFindByPointEmptyFeatureListIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":{"status":"OK","result":{"featureCollection":{"features":[]}}}}`))
	}))
	defer srv.Close()

	client := newTestVWorld(srv.URL, []string{"key-a"}, nil)

	_, err := client.FindByPoint(context.Background(), 126.975, 37.575)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindByPointRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("limited call must never reach the network")
	}))
	defer srv.Close()

	gov := governor.New(map[string]int{ProviderVWorld: 0}, time.Minute, 0, prometheus.NewRegistry())
	client := newTestVWorld(srv.URL, []string{"key-a"}, gov)

	_, err := client.FindByPoint(context.Background(), 126.975, 37.575)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestFindByBBoxParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Query().Get("geomFilter"), "BOX(")
		assert.Equal(t, "5", r.URL.Query().Get("size"))
		w.Write([]byte(featureBody))
	}))
	defer srv.Close()

	client := newTestVWorld(srv.URL, []string{"key-a"}, nil)

	_, err := client.FindByBBox(context.Background(), 126.9, 37.5, 127.0, 37.6, 5)
	require.NoError(t, err)
}

// The proxy hands NOT_FOUND envelopes through verbatim; only transport
// failures and ERROR envelopes burn through keys.
func TestProxyQueryPassesNotFoundThrough(t *testing.T) {
	rec := &keyRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r.URL.Query().Get("key"))
		w.Write([]byte(notFoundBody))
	}))
	defer srv.Close()

	client := newTestVWorld(srv.URL, []string{"key-a", "key-b"}, nil)

	body, err := client.ProxyQuery(context.Background(), url.Values{"data": {CadastralLayer}})
	require.NoError(t, err)
	assert.JSONEq(t, notFoundBody, string(body))
	assert.Equal(t, []string{"key-a"}, rec.seen())
}

func TestProxyQueryFallsBackOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") == "key-a" {
			w.Write([]byte(errorBody))
			return
		}
		w.Write([]byte(featureBody))
	}))
	defer srv.Close()

	client := newTestVWorld(srv.URL, []string{"key-a", "key-b"}, nil)

	body, err := client.ProxyQuery(context.Background(), url.Values{})
	require.NoError(t, err)
	assert.Contains(t, string(body), "1111010100100440001")
}

func TestProxyQueryNoKeysConfigured(t *testing.T) {
	client := newTestVWorld("http://unused", nil, nil)

	_, err := client.ProxyQuery(context.Background(), url.Values{})
	var exhausted *KeysExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 0, exhausted.KeysTried)
}

func TestKeysExhaustedErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &KeysExhaustedError{KeysTried: 3, Last: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "3")
}
