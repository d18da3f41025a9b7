package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	apierrors "github.com/sunwoo-k/parcelnote/internal/errors"
	"github.com/sunwoo-k/parcelnote/internal/lookup"
	"github.com/sunwoo-k/parcelnote/internal/middleware"
)

// ProxyHandler forwards provider calls on behalf of the browser so API
// keys never reach the client.
type ProxyHandler struct {
	vworld *lookup.VWorld
	naver  *lookup.Naver
}

// NewProxyHandler creates a new ProxyHandler instance.
func NewProxyHandler(vworld *lookup.VWorld, naver *lookup.Naver) *ProxyHandler {
	return &ProxyHandler{vworld: vworld, naver: naver}
}

// VWorld handles GET /api/vworld. Query parameters pass through unchanged
// except "key", which the server injects from its ordered key list. An
// exhausted key list answers with the legacy error shape
// {error, message, keysTried}.
func (h *ProxyHandler) VWorld(c *gin.Context) {
	params := c.Request.URL.Query()
	params.Del("key")

	body, err := h.vworld.ProxyQuery(c.Request.Context(), params)
	if err != nil {
		if errors.Is(err, lookup.ErrRateLimited) {
			apierrors.RateLimited(c, lookup.ProviderVWorld)
			return
		}

		var exhausted *lookup.KeysExhaustedError
		if errors.As(err, &exhausted) {
			if log := middleware.GetLogger(c); log != nil {
				log.Error("VWorld proxy failed", err, map[string]interface{}{
					"keys_tried": exhausted.KeysTried,
				})
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":     "VWORLD_REQUEST_FAILED",
				"message":   "All API keys failed",
				"keysTried": exhausted.KeysTried,
			})
			return
		}

		apierrors.InternalServerError(c, "Failed to reach parcel provider", err)
		return
	}

	c.Data(http.StatusOK, "application/json", body)
}

// GeocodeRequest represents the query parameters for the geocode endpoint.
type GeocodeRequest struct {
	Address string `form:"address" binding:"required"`
}

// GeocodeResponse is the coordinate answer for a geocoded address.
type GeocodeResponse struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Geocode handles GET /api/naver/geocode.
func (h *ProxyHandler) Geocode(c *gin.Context) {
	var req GeocodeRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		apierrors.BadRequest(c, "address query parameter is required", nil)
		return
	}

	coord, err := h.naver.Geocode(c.Request.Context(), req.Address)
	if err != nil {
		switch {
		case errors.Is(err, lookup.ErrNotFound):
			apierrors.NotFound(c, "No coordinate found for this address")
		case errors.Is(err, lookup.ErrRateLimited):
			apierrors.RateLimited(c, lookup.ProviderNaver)
		default:
			apierrors.InternalServerError(c, "Failed to geocode address", err)
		}
		return
	}

	c.JSON(http.StatusOK, GeocodeResponse{Lon: coord.Lon, Lat: coord.Lat})
}
