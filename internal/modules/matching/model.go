// README: Ranked nearby results for riders (live drivers) and drivers (open pre-bookings).
package matching

import (
	"campuspool/internal/modules/availability"
	"campuspool/internal/modules/prebook"
	"campuspool/internal/types"
)

// DriverMatch is a live driver as offered to a rider.
type DriverMatch struct {
	availability.Nearby
	DistanceKm    float64     `json:"distance_km"`
	SmartScore    int         `json:"smart_score"`
	SuggestedFare types.Money `json:"suggested_fare"`
	ETAMinutes    int         `json:"eta_minutes"`
}

// BookingMatch is an open pre-booking as offered to a driver.
type BookingMatch struct {
	prebook.Candidate
	DistanceKm float64 `json:"distance_km"`
	HoursUntil float64 `json:"hours_until"`
	Score      int     `json:"score"`
}
