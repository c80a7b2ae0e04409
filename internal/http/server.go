// README: API gateway; registers HTTP routes and delegates to module services.
package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"campuspool/internal/http/handlers"
	"campuspool/internal/http/middleware"
	"campuspool/internal/infra"
	"campuspool/internal/logger"
)

const (
	roleRider  = "rider"
	roleDriver = "driver"
)

type ServerDeps struct {
	Availability handlers.AvailabilityService
	Rides        handlers.RideService
	PreBook      handlers.PreBookService
	Matching     handlers.NearbyService
	Pricing      handlers.QuoteService
	Users        handlers.ProfileService
	Geocoder     handlers.Geocoder
	Verifier     infra.TokenVerifier
	// Ready reports whether backing stores are reachable. Nil means always ready.
	Ready func(ctx context.Context) error
	Log   logrus.FieldLogger
}

type Server struct {
	deps ServerDeps
	log  logrus.FieldLogger
}

func NewServer(deps ServerDeps) *Server {
	return &Server{deps: deps, log: logger.OrDiscard(deps.Log)}
}

func (s *Server) Routes() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(
		middleware.Tracing("campuspool-api"),
		middleware.Logging(s.log),
		middleware.Recovery(s.log),
		middleware.Metrics(),
	)

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	profile := handlers.NewProfileHandler(s.deps.Users)
	r.GET("/api/profile/confirm/:token", profile.Confirm)

	api := r.Group("/api", middleware.Auth(s.deps.Verifier))
	rider := middleware.RequireRole(roleRider)
	driver := middleware.RequireRole(roleDriver)

	avail := handlers.NewAvailabilityHandler(s.deps.Availability)
	rides := handlers.NewRideHandler(s.deps.Rides, s.deps.Matching, s.deps.Pricing)
	api.POST("/rides/go-live", driver, avail.GoLive)
	api.POST("/rides/go-offline", driver, avail.GoOffline)
	api.PUT("/rides/location", driver, avail.UpdateLocation)
	api.GET("/rides/live", driver, avail.Live)

	api.POST("/rides/nearby", rider, rides.Nearby)
	api.POST("/rides/fare-estimate", rides.FareEstimate)
	api.POST("/rides/request", rider, rides.Request)
	api.GET("/rides/active", rides.Active)
	api.GET("/rides/requests", driver, rides.Pending)
	api.GET("/rides/requests/:id", rides.Get)
	api.POST("/rides/requests/:id/cancel", rider, rides.Cancel)
	api.POST("/rides/requests/:id/rate", rider, rides.RateDriver)
	api.POST("/rides/requests/:id/respond", driver, rides.Respond)
	api.POST("/rides/requests/:id/verify-otp", driver, rides.VerifyOTP)
	api.POST("/rides/requests/:id/complete", driver, rides.Complete)
	api.POST("/rides/requests/:id/driver-cancel", driver, rides.DriverCancel)

	pb := handlers.NewPreBookHandler(s.deps.PreBook, s.deps.Matching)
	api.POST("/prebook", rider, pb.Create)
	api.GET("/prebook/mine", rider, pb.Mine)
	api.POST("/prebook/:id/cancel", rider, pb.Cancel)
	api.POST("/prebook/nearby", driver, pb.Nearby)
	api.GET("/prebook/matched", driver, pb.Matched)
	api.GET("/prebook/:id", pb.Get)
	api.POST("/prebook/:id/accept", driver, pb.Accept)
	api.POST("/prebook/:id/driver-cancel", driver, pb.DriverCancel)

	api.PUT("/profile", profile.Upsert)
	api.GET("/profile", profile.Get)
	api.GET("/profile/statistics", profile.Statistics)
	api.GET("/profile/drivers/:id", profile.DriverInfo)

	if s.deps.Geocoder != nil {
		m := handlers.NewMapsHandler(s.deps.Geocoder)
		api.POST("/maps/reverse-geocode", m.ReverseGeocode)
		api.POST("/maps/autocomplete", m.Autocomplete)
		api.POST("/maps/place-details", m.PlaceDetails)
		api.POST("/maps/directions", m.Directions)
	}
	return r
}

func (s *Server) health(c *gin.Context) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(c.Request.Context()); err != nil {
			s.log.WithError(err).Warn("health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
