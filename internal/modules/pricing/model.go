// README: Fare quote returned by the stateless fare-estimate call.
package pricing

import "campuspool/internal/types"

type Breakdown struct {
	BaseFare  int64   `json:"base_fare"`
	PerKmRate float64 `json:"per_km_rate"`
	Capped    bool    `json:"capped"`
}

type Quote struct {
	DistanceKm    float64     `json:"distance_km"`
	EstimatedFare types.Money `json:"estimated_fare"`
	ETAMinutes    int         `json:"eta_minutes"`
	Breakdown     Breakdown   `json:"breakdown"`
}
