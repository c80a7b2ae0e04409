// README: Pricing service computes cost-sharing fare estimates. It holds no state.
package pricing

import (
	"context"
	"fmt"
	"math"

	"campuspool/internal/geo"
	"campuspool/internal/types"
)

type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Estimate prices a distance. Used by ride requests and pre-bookings when they are created.
func (s *Service) Estimate(_ context.Context, distanceKm float64) (types.Money, error) {
	if math.IsNaN(distanceKm) || math.IsInf(distanceKm, 0) {
		return types.Money{}, fmt.Errorf("%w: distance must be finite", types.ErrInvalidInput)
	}
	return types.NewMoney(geo.CostSharingFare(distanceKm)), nil
}

// Quote prices the straight-line trip between two points.
func (s *Service) Quote(ctx context.Context, pickup, destination types.Point) (Quote, error) {
	if err := pickup.Validate(); err != nil {
		return Quote{}, err
	}
	if err := destination.Validate(); err != nil {
		return Quote{}, err
	}
	km := geo.HaversineKm(pickup, destination)
	fare, err := s.Estimate(ctx, km)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		DistanceKm:    math.Round(km*100) / 100,
		EstimatedFare: fare,
		ETAMinutes:    geo.EstimateETAMinutes(km),
		Breakdown: Breakdown{
			BaseFare:  geo.BaseFare,
			PerKmRate: geo.PerKmRate(km),
			Capped:    fare.Amount >= geo.MaxFare,
		},
	}, nil
}
