package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunwoo-k/parcelnote/internal/config"
	"github.com/sunwoo-k/parcelnote/internal/logger"
	"github.com/sunwoo-k/parcelnote/internal/persistence"
)

func newHealthRouter(t *testing.T, adapter *persistence.Adapter) *gin.Engine {
	t.Helper()
	handler := NewHealthHandler(adapter, "test")
	router := gin.New()
	router.GET("/health", handler.Health)
	router.GET("/health/ready", handler.Ready)
	router.GET("/api/v1/info", handler.Info)
	return router
}

func TestHealth(t *testing.T) {
	log := logger.NewWithWriter(io.Discard)
	adapter := persistence.NewAdapter(persistence.NewMemoryStore(), nil, log)
	defer adapter.Close()

	router := newHealthRouter(t, adapter)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestReady(t *testing.T) {
	log := logger.NewWithWriter(io.Discard)
	adapter := persistence.NewAdapter(persistence.NewMemoryStore(), nil, log)
	defer adapter.Close()

	router := newHealthRouter(t, adapter)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health/ready", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp ReadyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, "connected", resp.Store)
	// Without a remote store configured the replication state stays offline,
	// and that never fails readiness.
	assert.Equal(t, "offline", resp.Remote)
}

func TestInfo(t *testing.T) {
	log := logger.NewWithWriter(io.Discard)
	adapter := persistence.NewAdapter(persistence.NewMemoryStore(), nil, log)
	defer adapter.Close()

	router := newHealthRouter(t, adapter)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/info", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp InfoResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, APIVersion, resp.Version)
	assert.Equal(t, "test", resp.Environment)
	assert.NotEmpty(t, resp.Uptime)
}

func TestConfigEndpointHidesKeys(t *testing.T) {
	log := logger.NewWithWriter(io.Discard)
	adapter := persistence.NewAdapter(persistence.NewMemoryStore(), nil, log)
	defer adapter.Close()

	cfg := &config.Config{
		Server: config.ServerConfig{Env: "production"},
		Naver:  config.NaverConfig{ClientID: "public-client-id", ClientSecret: "very-secret"},
		VWorld: config.VWorldConfig{Keys: []string{"secret-key-a", "secret-key-b"}},
	}

	handler := NewConfigHandler(cfg, adapter)
	router := gin.New()
	router.GET("/api/config", handler.Get)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/config", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp PublicConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "production", resp.Environment)
	assert.Equal(t, "public-client-id", resp.NaverClientID)
	assert.True(t, resp.VWorldConfigured)
	assert.Equal(t, "offline", resp.RemoteSync)

	// Secrets must never appear anywhere in the body
	body := w.Body.String()
	assert.NotContains(t, body, "secret-key-a")
	assert.NotContains(t, body, "very-secret")
}
