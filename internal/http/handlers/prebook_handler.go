// README: Pre-booking handlers for riders (create/list/cancel) and drivers (nearby/accept).
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"campuspool/internal/http/middleware"
	"campuspool/internal/modules/prebook"
	"campuspool/internal/types"
)

type PreBookService interface {
	Create(ctx context.Context, cmd prebook.CreateCommand) (*prebook.Booking, error)
	Accept(ctx context.Context, id, driverID types.ID) (*prebook.Booking, error)
	Cancel(ctx context.Context, id, riderID types.ID) (*prebook.Booking, error)
	DriverCancel(ctx context.Context, id, driverID types.ID) (*prebook.Booking, error)
	Get(ctx context.Context, id, callerID types.ID, callerIsDriver bool) (*prebook.Booking, error)
	ListForRider(ctx context.Context, riderID types.ID) ([]prebook.Booking, error)
	ListMatchedForDriver(ctx context.Context, driverID types.ID) ([]prebook.Booking, error)
}

type PreBookHandler struct {
	prebook  PreBookService
	matching NearbyService
}

func NewPreBookHandler(svc PreBookService, matchingSvc NearbyService) *PreBookHandler {
	return &PreBookHandler{prebook: svc, matching: matchingSvc}
}

type createPreBookReq struct {
	Pickup             *types.Point `json:"pickup_location" binding:"required"`
	Destination        *types.Point `json:"destination_location" binding:"required"`
	PickupAddress      string       `json:"pickup_address" binding:"required"`
	DestinationAddress string       `json:"destination_address" binding:"required"`
	RequestedAt        time.Time    `json:"requested_datetime" binding:"required"`
	MaxFare            *int64       `json:"max_fare"`
	Notes              string       `json:"notes"`
}

func (h *PreBookHandler) Create(c *gin.Context) {
	var req createPreBookReq
	if !bindJSON(c, &req) {
		return
	}
	b, err := h.prebook.Create(c.Request.Context(), prebook.CreateCommand{
		RiderID:            caller(c),
		Pickup:             *req.Pickup,
		Destination:        *req.Destination,
		PickupAddress:      req.PickupAddress,
		DestinationAddress: req.DestinationAddress,
		RequestedAt:        req.RequestedAt,
		MaxFare:            req.MaxFare,
		Notes:              req.Notes,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, b)
}

func (h *PreBookHandler) Mine(c *gin.Context) {
	list, err := h.prebook.ListForRider(c.Request.Context(), caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeList(c, list)
}

func (h *PreBookHandler) Matched(c *gin.Context) {
	list, err := h.prebook.ListMatchedForDriver(c.Request.Context(), caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeList(c, list)
}

func writeList(c *gin.Context, list []prebook.Booking) {
	if list == nil {
		list = []prebook.Booking{}
	}
	writeJSON(c, http.StatusOK, map[string]any{"prebookings": list, "count": len(list)})
}

func (h *PreBookHandler) Nearby(c *gin.Context) {
	var req nearbyReq
	if !bindJSON(c, &req) {
		return
	}
	matches, err := h.matching.NearbyBookings(c.Request.Context(), *req.Location, req.RadiusKm)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"prebookings": matches, "count": len(matches)})
}

func (h *PreBookHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	isDriver := middleware.CallerRole(c) == "driver"
	b, err := h.prebook.Get(c.Request.Context(), id, caller(c), isDriver)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, b)
}

func (h *PreBookHandler) Accept(c *gin.Context) {
	h.transition(c, h.prebook.Accept)
}

func (h *PreBookHandler) Cancel(c *gin.Context) {
	h.transition(c, h.prebook.Cancel)
}

func (h *PreBookHandler) DriverCancel(c *gin.Context) {
	h.transition(c, h.prebook.DriverCancel)
}

func (h *PreBookHandler) transition(c *gin.Context, fn func(ctx context.Context, id, actorID types.ID) (*prebook.Booking, error)) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	b, err := fn(c.Request.Context(), id, caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, b)
}
