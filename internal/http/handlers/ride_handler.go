// README: Ride handlers: nearby search, fare estimate and the ride request lifecycle.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"campuspool/internal/http/middleware"
	"campuspool/internal/modules/matching"
	"campuspool/internal/modules/pricing"
	"campuspool/internal/modules/ride"
	"campuspool/internal/types"
)

type RideService interface {
	Create(ctx context.Context, cmd ride.CreateCommand) (*ride.Request, error)
	Respond(ctx context.Context, cmd ride.RespondCommand) (*ride.Request, error)
	VerifyOTP(ctx context.Context, cmd ride.VerifyOTPCommand) (*ride.Request, error)
	Complete(ctx context.Context, cmd ride.CompleteCommand) (*ride.Request, error)
	Cancel(ctx context.Context, cmd ride.CancelCommand) (*ride.Request, error)
	RateDriver(ctx context.Context, cmd ride.RateDriverCommand) error
	Get(ctx context.Context, id, callerID types.ID) (*ride.View, error)
	ActiveForRider(ctx context.Context, riderID types.ID) (*ride.View, error)
	ActiveForDriver(ctx context.Context, driverID types.ID) (*ride.View, error)
	PendingForDriver(ctx context.Context, driverID types.ID) ([]ride.View, error)
}

type NearbyService interface {
	NearbyDrivers(ctx context.Context, p types.Point, radiusKm float64) ([]matching.DriverMatch, error)
	NearbyBookings(ctx context.Context, p types.Point, radiusKm float64) ([]matching.BookingMatch, error)
}

type QuoteService interface {
	Quote(ctx context.Context, pickup, destination types.Point) (pricing.Quote, error)
}

type RideHandler struct {
	rides    RideService
	matching NearbyService
	pricing  QuoteService
}

func NewRideHandler(rides RideService, matchingSvc NearbyService, pricingSvc QuoteService) *RideHandler {
	return &RideHandler{rides: rides, matching: matchingSvc, pricing: pricingSvc}
}

type nearbyReq struct {
	Location *types.Point `json:"location" binding:"required"`
	RadiusKm float64      `json:"radius_km"`
}

func (h *RideHandler) Nearby(c *gin.Context) {
	var req nearbyReq
	if !bindJSON(c, &req) {
		return
	}
	drivers, err := h.matching.NearbyDrivers(c.Request.Context(), *req.Location, req.RadiusKm)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"drivers": drivers, "count": len(drivers)})
}

type fareReq struct {
	Pickup      *types.Point `json:"pickup_location" binding:"required"`
	Destination *types.Point `json:"destination_location" binding:"required"`
}

func (h *RideHandler) FareEstimate(c *gin.Context) {
	var req fareReq
	if !bindJSON(c, &req) {
		return
	}
	q, err := h.pricing.Quote(c.Request.Context(), *req.Pickup, *req.Destination)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, q)
}

type requestRideReq struct {
	RideID             string       `json:"ride_id"`
	DriverID           string       `json:"driver_id"`
	Pickup             *types.Point `json:"pickup_location" binding:"required"`
	Destination        *types.Point `json:"destination_location" binding:"required"`
	PickupAddress      string       `json:"pickup_address" binding:"required"`
	DestinationAddress string       `json:"destination_address" binding:"required"`
	RiderLocation      *types.Point `json:"rider_current_location"`
}

func (h *RideHandler) Request(c *gin.Context) {
	var req requestRideReq
	if !bindJSON(c, &req) {
		return
	}
	r, err := h.rides.Create(c.Request.Context(), ride.CreateCommand{
		RiderID:            caller(c),
		AvailabilityID:     types.ID(req.RideID),
		DriverID:           types.ID(req.DriverID),
		Pickup:             *req.Pickup,
		Destination:        *req.Destination,
		PickupAddress:      req.PickupAddress,
		DestinationAddress: req.DestinationAddress,
		RiderLocation:      req.RiderLocation,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, r)
}

// Active returns the caller's in-flight request: the rider's pending/accepted/started one, or
// the driver's accepted/started one.
func (h *RideHandler) Active(c *gin.Context) {
	var (
		v   *ride.View
		err error
	)
	if middleware.CallerRole(c) == string(ride.ActorDriver) {
		v, err = h.rides.ActiveForDriver(c.Request.Context(), caller(c))
	} else {
		v, err = h.rides.ActiveForRider(c.Request.Context(), caller(c))
	}
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, v)
}

func (h *RideHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	v, err := h.rides.Get(c.Request.Context(), id, caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, v)
}

func (h *RideHandler) Cancel(c *gin.Context) {
	h.cancel(c, ride.ActorRider)
}

func (h *RideHandler) DriverCancel(c *gin.Context) {
	h.cancel(c, ride.ActorDriver)
}

func (h *RideHandler) cancel(c *gin.Context, actor ride.ActorType) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	r, err := h.rides.Cancel(c.Request.Context(), ride.CancelCommand{RequestID: id, ActorID: caller(c), Actor: actor})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

type rateReq struct {
	Rating int `json:"rating" binding:"required"`
}

func (h *RideHandler) RateDriver(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req rateReq
	if !bindJSON(c, &req) {
		return
	}
	err := h.rides.RateDriver(c.Request.Context(), ride.RateDriverCommand{RequestID: id, RiderID: caller(c), Rating: req.Rating})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"message": "Rating submitted"})
}

func (h *RideHandler) Pending(c *gin.Context) {
	views, err := h.rides.PendingForDriver(c.Request.Context(), caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if views == nil {
		views = []ride.View{}
	}
	writeJSON(c, http.StatusOK, map[string]any{"requests": views, "count": len(views)})
}

type respondReq struct {
	Action string `json:"action" binding:"required"`
}

func (h *RideHandler) Respond(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req respondReq
	if !bindJSON(c, &req) {
		return
	}
	r, err := h.rides.Respond(c.Request.Context(), ride.RespondCommand{
		RequestID: id,
		DriverID:  caller(c),
		Action:    ride.Action(req.Action),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	r.OTP = ""
	writeJSON(c, http.StatusOK, r)
}

type verifyOTPReq struct {
	OTP string `json:"otp" binding:"required"`
}

func (h *RideHandler) VerifyOTP(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req verifyOTPReq
	if !bindJSON(c, &req) {
		return
	}
	r, err := h.rides.VerifyOTP(c.Request.Context(), ride.VerifyOTPCommand{RequestID: id, DriverID: caller(c), OTP: req.OTP})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

type completeReq struct {
	RiderRating *int `json:"rider_rating"`
}

func (h *RideHandler) Complete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req completeReq
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	r, err := h.rides.Complete(c.Request.Context(), ride.CompleteCommand{RequestID: id, DriverID: caller(c), RiderRating: req.RiderRating})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}
