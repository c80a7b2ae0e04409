// README: Matching service ranks nearby candidates with the geo scoring formulas.
package matching

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"campuspool/internal/geo"
	"campuspool/internal/logger"
	"campuspool/internal/modules/availability"
	"campuspool/internal/modules/prebook"
	"campuspool/internal/types"
)

const (
	DefaultRadiusKm = 10
	MaxRadiusKm     = 50
)

type Drivers interface {
	FindNearby(ctx context.Context, p types.Point, radiusKm float64) ([]availability.Nearby, error)
}

type Bookings interface {
	OpenCandidates(ctx context.Context) ([]prebook.Candidate, error)
	HoursUntil(b *prebook.Booking) float64
}

type Pricing interface {
	Estimate(ctx context.Context, distanceKm float64) (types.Money, error)
}

type Service struct {
	drivers  Drivers
	bookings Bookings
	pricing  Pricing
	log      logrus.FieldLogger
}

func NewService(drivers Drivers, bookings Bookings, pricing Pricing, log logrus.FieldLogger) *Service {
	return &Service{drivers: drivers, bookings: bookings, pricing: pricing, log: logger.OrDiscard(log)}
}

// NormalizeRadius applies the default and rejects out-of-range radii.
func NormalizeRadius(radiusKm float64) (float64, error) {
	if radiusKm == 0 {
		return DefaultRadiusKm, nil
	}
	if math.IsNaN(radiusKm) || radiusKm < 0 || radiusKm > MaxRadiusKm {
		return 0, fmt.Errorf("%w: radius must be between 0 and %d km", types.ErrInvalidInput, MaxRadiusKm)
	}
	return radiusKm, nil
}

// NearbyDrivers returns live drivers within radiusKm of p, best SmartScore first. Drivers with
// equal scores keep their distance order.
func (s *Service) NearbyDrivers(ctx context.Context, p types.Point, radiusKm float64) ([]DriverMatch, error) {
	radiusKm, err := NormalizeRadius(radiusKm)
	if err != nil {
		return nil, err
	}
	found, err := s.drivers.FindNearby(ctx, p, radiusKm)
	if err != nil {
		return nil, err
	}
	out := make([]DriverMatch, 0, len(found))
	for _, n := range found {
		fare, err := s.pricing.Estimate(ctx, geo.HaversineKm(n.Pickup, n.Destination))
		if err != nil {
			return nil, err
		}
		km := n.DistanceMeters / 1000
		out = append(out, DriverMatch{
			Nearby:        n,
			DistanceKm:    math.Round(km*100) / 100,
			SmartScore:    geo.SmartScore(n.DistanceMeters, n.Driver.Rating, radiusKm*1000),
			SuggestedFare: fare,
			ETAMinutes:    geo.EstimateETAMinutes(km),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SmartScore > out[j].SmartScore })
	return out, nil
}

// NearbyBookings returns open pre-bookings whose rider lives within radiusKm of p, best score
// first. Riders without a saved home location are ranked by their pickup point instead.
func (s *Service) NearbyBookings(ctx context.Context, p types.Point, radiusKm float64) ([]BookingMatch, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	radiusKm, err := NormalizeRadius(radiusKm)
	if err != nil {
		return nil, err
	}
	cands, err := s.bookings.OpenCandidates(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]BookingMatch, 0, len(cands))
	for _, c := range cands {
		anchor := c.Pickup
		if c.HomeLocation != nil {
			anchor = *c.HomeLocation
		}
		km := geo.HaversineKm(p, anchor)
		if km > radiusKm {
			continue
		}
		hours := s.bookings.HoursUntil(&c.Booking)
		out = append(out, BookingMatch{
			Candidate:  c,
			DistanceKm: math.Round(km*100) / 100,
			HoursUntil: math.Round(hours*10) / 10,
			Score:      geo.PreBookScore(km, hours, c.RiderRating),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	s.log.WithFields(logrus.Fields{"candidates": len(cands), "in_radius": len(out)}).Debug("nearby pre-bookings")
	return out, nil
}
