// README: Driver availability handlers: go live, go offline, location updates.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"campuspool/internal/modules/availability"
	"campuspool/internal/types"
)

type AvailabilityService interface {
	GoLive(ctx context.Context, cmd availability.GoLiveCommand) (*availability.Availability, error)
	GoOffline(ctx context.Context, driverID types.ID) (*availability.Availability, error)
	UpdateLocation(ctx context.Context, driverID types.ID, p types.Point) error
	Active(ctx context.Context, driverID types.ID) (*availability.Availability, error)
}

type AvailabilityHandler struct {
	availability AvailabilityService
}

func NewAvailabilityHandler(svc AvailabilityService) *AvailabilityHandler {
	return &AvailabilityHandler{availability: svc}
}

type goLiveReq struct {
	Pickup             *types.Point `json:"pickup_location" binding:"required"`
	Destination        *types.Point `json:"destination_location" binding:"required"`
	PickupAddress      string       `json:"pickup_address" binding:"required"`
	DestinationAddress string       `json:"destination_address" binding:"required"`
	Seats              int          `json:"seats_available"`
}

func (h *AvailabilityHandler) GoLive(c *gin.Context) {
	var req goLiveReq
	if !bindJSON(c, &req) {
		return
	}
	a, err := h.availability.GoLive(c.Request.Context(), availability.GoLiveCommand{
		DriverID:           caller(c),
		Pickup:             *req.Pickup,
		Destination:        *req.Destination,
		PickupAddress:      req.PickupAddress,
		DestinationAddress: req.DestinationAddress,
		Seats:              req.Seats,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, a)
}

func (h *AvailabilityHandler) GoOffline(c *gin.Context) {
	a, err := h.availability.GoOffline(c.Request.Context(), caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"message": "You are now offline", "ride_id": a.ID})
}

type locationReq struct {
	Location *types.Point `json:"location" binding:"required"`
}

func (h *AvailabilityHandler) UpdateLocation(c *gin.Context) {
	var req locationReq
	if !bindJSON(c, &req) {
		return
	}
	if err := h.availability.UpdateLocation(c.Request.Context(), caller(c), *req.Location); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *AvailabilityHandler) Live(c *gin.Context) {
	a, err := h.availability.Active(c.Request.Context(), caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, a)
}
