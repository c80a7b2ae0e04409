package pricing

import (
	"context"
	"errors"
	"math"
	"testing"

	"campuspool/internal/geo"
	"campuspool/internal/types"
)

func TestService_Estimate(t *testing.T) {
	svc := NewService()
	tests := []struct {
		name     string
		km       float64
		wantFare int64
	}{
		{name: "zero distance is base fare", km: 0, wantFare: 15},
		{name: "short hop uses 8/km", km: 4, wantFare: 47},
		{name: "mid range uses 6/km", km: 10, wantFare: 75},
		{name: "long trip is capped", km: 100, wantFare: 150},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Estimate(context.Background(), tt.km)
			if err != nil {
				t.Fatalf("Estimate() error = %v", err)
			}
			if got.Amount != tt.wantFare {
				t.Errorf("Estimate(%v) = %d, want %d", tt.km, got.Amount, tt.wantFare)
			}
			if got.Currency != types.DefaultCurrency {
				t.Errorf("currency = %q, want %q", got.Currency, types.DefaultCurrency)
			}
		})
	}
}

func TestService_Estimate_RejectsNaN(t *testing.T) {
	_, err := NewService().Estimate(context.Background(), math.NaN())
	if !errors.Is(err, types.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestService_Quote(t *testing.T) {
	svc := NewService()
	pickup := types.Point{Lng: 77.6070, Lat: 12.9756}

	q, err := svc.Quote(context.Background(), pickup, geo.CampusPoint)
	if err != nil {
		t.Fatalf("Quote() error = %v", err)
	}
	if q.DistanceKm < 17 || q.DistanceKm > 20 {
		t.Errorf("distance = %v, want ~18.6km", q.DistanceKm)
	}
	if q.EstimatedFare.Amount != geo.CostSharingFare(geo.HaversineKm(pickup, geo.CampusPoint)) {
		t.Errorf("fare = %d does not match CostSharingFare", q.EstimatedFare.Amount)
	}
	if q.Breakdown.PerKmRate != 5 {
		t.Errorf("per km rate = %v, want 5", q.Breakdown.PerKmRate)
	}
	if q.ETAMinutes < 5 {
		t.Errorf("eta = %d, want >= 5", q.ETAMinutes)
	}
}

func TestService_Quote_InvalidPoint(t *testing.T) {
	_, err := NewService().Quote(context.Background(), types.Point{Lng: 200, Lat: 0}, geo.CampusPoint)
	if !errors.Is(err, types.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
