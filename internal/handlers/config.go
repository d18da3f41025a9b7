package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sunwoo-k/parcelnote/internal/config"
	"github.com/sunwoo-k/parcelnote/internal/persistence"
)

// ConfigHandler serves the public configuration echo consumed by the map
// frontend on load. Only values safe to expose leave this handler; the
// vworld keys stay server-side behind the proxy.
type ConfigHandler struct {
	cfg     *config.Config
	adapter *persistence.Adapter
}

// NewConfigHandler creates a new ConfigHandler instance.
func NewConfigHandler(cfg *config.Config, adapter *persistence.Adapter) *ConfigHandler {
	return &ConfigHandler{cfg: cfg, adapter: adapter}
}

// PublicConfig is the response for GET /api/config.
type PublicConfig struct {
	Environment      string `json:"environment"`
	NaverClientID    string `json:"naverClientId"`
	VWorldConfigured bool   `json:"vworldConfigured"`
	RemoteSync       string `json:"remoteSync"`
}

// Get handles GET /api/config.
func (h *ConfigHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, PublicConfig{
		Environment:      h.cfg.Server.Env,
		NaverClientID:    h.cfg.Naver.ClientID,
		VWorldConfigured: len(h.cfg.VWorld.Keys) > 0,
		RemoteSync:       string(h.adapter.ConnectionState()),
	})
}
