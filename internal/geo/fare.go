// README: Cost-sharing fare tiers.
package geo

const (
	BaseFare = 15
	MaxFare  = 150
)

// fareTier is a per-km rate applied to the whole distance when distance <= UpToKm.
type fareTier struct {
	UpToKm float64
	PerKm  float64
}

var fareTiers = []fareTier{
	{UpToKm: 5, PerKm: 8},
	{UpToKm: 15, PerKm: 6},
}

const longDistancePerKm = 5

// PerKmRate returns the rate that CostSharingFare applies for a distance.
func PerKmRate(distanceKm float64) float64 {
	for _, t := range fareTiers {
		if distanceKm <= t.UpToKm {
			return t.PerKm
		}
	}
	return longDistancePerKm
}

// CostSharingFare prices a shared ride: base fare plus a tiered per-km rate,
// never below the base fare and never above MaxFare.
func CostSharingFare(distanceKm float64) int64 {
	if distanceKm <= 0 {
		return BaseFare
	}
	fare := BaseFare + distanceKm*PerKmRate(distanceKm)
	if fare > MaxFare {
		fare = MaxFare
	}
	if fare < BaseFare {
		fare = BaseFare
	}
	return int64(fare + 0.5)
}
