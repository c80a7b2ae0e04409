// README: Google Maps proxy handlers. Upstream failures surface as 503.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"campuspool/internal/maps"
	"campuspool/internal/types"
)

type Geocoder interface {
	ReverseGeocode(ctx context.Context, p types.Point) ([]maps.Address, error)
	Autocomplete(ctx context.Context, input string, near *types.Point) ([]maps.Suggestion, error)
	PlaceDetails(ctx context.Context, placeID string) (*maps.PlaceDetails, error)
	Directions(ctx context.Context, origin, destination types.Point) (*maps.Route, error)
}

type MapsHandler struct {
	geo Geocoder
}

func NewMapsHandler(geo Geocoder) *MapsHandler {
	return &MapsHandler{geo: geo}
}

func (h *MapsHandler) ReverseGeocode(c *gin.Context) {
	var req locationReq
	if !bindJSON(c, &req) {
		return
	}
	addrs, err := h.geo.ReverseGeocode(c.Request.Context(), *req.Location)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"results": addrs})
}

type autocompleteReq struct {
	Input    string       `json:"input" binding:"required"`
	Location *types.Point `json:"location"`
}

func (h *MapsHandler) Autocomplete(c *gin.Context) {
	var req autocompleteReq
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.geo.Autocomplete(c.Request.Context(), req.Input, req.Location)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"predictions": out})
}

type placeDetailsReq struct {
	PlaceID string `json:"place_id" binding:"required"`
}

func (h *MapsHandler) PlaceDetails(c *gin.Context) {
	var req placeDetailsReq
	if !bindJSON(c, &req) {
		return
	}
	d, err := h.geo.PlaceDetails(c.Request.Context(), req.PlaceID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

func (h *MapsHandler) Directions(c *gin.Context) {
	var req fareReq
	if !bindJSON(c, &req) {
		return
	}
	route, err := h.geo.Directions(c.Request.Context(), *req.Pickup, *req.Destination)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, route)
}
