package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	apierrors "github.com/sunwoo-k/parcelnote/internal/errors"
	"github.com/sunwoo-k/parcelnote/internal/lookup"
	"github.com/sunwoo-k/parcelnote/internal/models"
	"github.com/sunwoo-k/parcelnote/internal/projector"
	"github.com/sunwoo-k/parcelnote/internal/registry"
	"github.com/sunwoo-k/parcelnote/internal/services"
)

// ParcelHandler handles the annotation API.
type ParcelHandler struct {
	service *services.AnnotationService
	surface *projector.MemorySurface
}

// NewParcelHandler creates a new ParcelHandler instance.
func NewParcelHandler(service *services.AnnotationService, surface *projector.MemorySurface) *ParcelHandler {
	return &ParcelHandler{service: service, surface: surface}
}

// ClickRequest is the body for the click endpoint. The coordinates are
// pointers: 0 is a valid latitude and longitude and must not read as a
// missing field. Range validation lives in the service.
type ClickRequest struct {
	Lat *float64 `json:"lat" binding:"required"`
	Lng *float64 `json:"lng" binding:"required"`
}

// SearchRequest is the body for the search endpoint.
type SearchRequest struct {
	Address string `json:"address" binding:"required"`
}

// ColorRequest is the body for the color endpoint.
type ColorRequest struct {
	Collection string `json:"collection" binding:"required,oneof=search click"`
	Color      string `json:"color" binding:"required"`
}

// OwnerRequest is the body for the owner-info endpoint.
type OwnerRequest struct {
	Owner   string `json:"owner" binding:"required"`
	Address string `json:"address"`
	Contact string `json:"contact"`
	Memo    string `json:"memo"`
}

// ModeRequest is the body for the mode endpoint.
type ModeRequest struct {
	Mode string `json:"mode" binding:"required,oneof=search click"`
}

// CollectionQuery selects a collection on delete endpoints.
type CollectionQuery struct {
	Collection string `form:"collection" binding:"required,oneof=search click"`
}

// ParcelResponse wraps a single tracked parcel.
type ParcelResponse struct {
	Parcel ParcelData `json:"parcel"`
}

// ParcelData is the tracked-parcel DTO.
type ParcelData struct {
	ID           string            `json:"id"`
	DisplayLabel string            `json:"displayLabel"`
	Color        string            `json:"color"`
	Collection   string            `json:"collection"`
	OwnerInfo    *models.OwnerInfo `json:"ownerInfo,omitempty"`
	Geometry     models.Geometry   `json:"geometry"`
}

// ViewResponse is the current visible parcel set: every artifact attached
// to the display surface, plus the mode that selected them.
type ViewResponse struct {
	Mode      string               `json:"mode"`
	Artifacts []projector.Artifact `json:"artifacts"`
	Count     int                  `json:"count"`
}

// Click handles POST /api/v1/parcels/click.
func (h *ParcelHandler) Click(c *gin.Context) {
	var req ClickRequest
	if !bindJSON(c, &req) {
		return
	}

	record, err := h.service.ClickAt(c.Request.Context(), *req.Lat, *req.Lng)
	if err != nil {
		h.writeServiceError(c, err, "No parcel found at this location")
		return
	}

	c.JSON(http.StatusOK, ParcelResponse{Parcel: toParcelData(record)})
}

// Search handles POST /api/v1/parcels/search.
func (h *ParcelHandler) Search(c *gin.Context) {
	var req SearchRequest
	if !bindJSON(c, &req) {
		return
	}

	record, err := h.service.SearchAddress(c.Request.Context(), req.Address)
	if err != nil {
		h.writeServiceError(c, err, "No parcel found for this address")
		return
	}

	c.JSON(http.StatusOK, ParcelResponse{Parcel: toParcelData(record)})
}

// SetColor handles PUT /api/v1/parcels/:id/color.
func (h *ParcelHandler) SetColor(c *gin.Context) {
	var req ColorRequest
	if !bindJSON(c, &req) {
		return
	}

	color, err := models.ParseColor(req.Color)
	if err != nil {
		apierrors.BadRequest(c, err.Error(), nil)
		return
	}

	id := c.Param("id")
	if err := h.service.SetColor(c.Request.Context(), models.Collection(req.Collection), id, color); err != nil {
		h.writeServiceError(c, err, "Parcel is not tracked")
		return
	}

	c.Status(http.StatusNoContent)
}

// SaveOwner handles PUT /api/v1/parcels/:id/owner.
func (h *ParcelHandler) SaveOwner(c *gin.Context) {
	var req OwnerRequest
	if !bindJSON(c, &req) {
		return
	}

	record, err := h.service.SaveOwnerInfo(c.Request.Context(), c.Param("id"), models.OwnerInfo{
		Owner:   req.Owner,
		Address: req.Address,
		Contact: req.Contact,
		Memo:    req.Memo,
	})
	if err != nil {
		h.writeServiceError(c, err, "Parcel is not tracked")
		return
	}

	c.JSON(http.StatusOK, ParcelResponse{Parcel: toParcelData(record)})
}

// Remove handles DELETE /api/v1/parcels/:id.
func (h *ParcelHandler) Remove(c *gin.Context) {
	var q CollectionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		apierrors.BadRequest(c, "collection query parameter must be \"search\" or \"click\"", nil)
		return
	}

	if err := h.service.Remove(c.Request.Context(), models.Collection(q.Collection), c.Param("id")); err != nil {
		h.writeServiceError(c, err, "Parcel is not tracked")
		return
	}

	c.Status(http.StatusNoContent)
}

// Clear handles DELETE /api/v1/parcels.
func (h *ParcelHandler) Clear(c *gin.Context) {
	var q CollectionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		apierrors.BadRequest(c, "collection query parameter must be \"search\" or \"click\"", nil)
		return
	}

	n, err := h.service.ClearCollection(c.Request.Context(), models.Collection(q.Collection))
	if err != nil {
		h.writeServiceError(c, err, "")
		return
	}

	c.JSON(http.StatusOK, gin.H{"removed": n})
}

// SetMode handles PUT /api/v1/mode.
func (h *ParcelHandler) SetMode(c *gin.Context) {
	var req ModeRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.service.SetMode(c.Request.Context(), models.Mode(req.Mode)); err != nil {
		h.writeServiceError(c, err, "")
		return
	}

	c.Status(http.StatusNoContent)
}

// View handles GET /api/v1/view.
func (h *ParcelHandler) View(c *gin.Context) {
	artifacts := h.surface.Attached()
	c.JSON(http.StatusOK, ViewResponse{
		Mode:      string(h.service.Mode()),
		Artifacts: artifacts,
		Count:     len(artifacts),
	})
}

// bindJSON binds the request body and writes the error response on
// failure. Returns false when the request was rejected.
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			apierrors.ValidationError(c, validationErrors)
			return false
		}
		apierrors.BadRequest(c, "Invalid request body", nil)
		return false
	}
	return true
}

func (h *ParcelHandler) writeServiceError(c *gin.Context, err error, notFoundMsg string) {
	switch {
	case errors.Is(err, services.ErrInvalidCoordinates):
		apierrors.BadRequest(c, err.Error(), nil)
	case errors.Is(err, services.ErrParcelNotFound),
		errors.Is(err, services.ErrAddressNotFound),
		errors.Is(err, registry.ErrNotTracked):
		apierrors.NotFound(c, notFoundMsg)
	case errors.Is(err, registry.ErrUnknownCollection):
		apierrors.BadRequest(c, err.Error(), nil)
	case errors.Is(err, services.ErrRateLimited):
		apierrors.RateLimited(c, lookup.ProviderVWorld)
	default:
		var exhausted *lookup.KeysExhaustedError
		if errors.As(err, &exhausted) {
			apierrors.UpstreamError(c, "All provider API keys failed", err, exhausted.KeysTried)
			return
		}
		apierrors.InternalServerError(c, "Operation failed", err)
	}
}

func toParcelData(p *models.TrackedParcel) ParcelData {
	color := p.Color
	if color == "" {
		color = models.ColorTransparent
	}
	return ParcelData{
		ID:           p.ID,
		DisplayLabel: p.DisplayLabel,
		Color:        string(color),
		Collection:   string(p.Collection),
		OwnerInfo:    p.OwnerInfo,
		Geometry:     p.Geometry,
	}
}
