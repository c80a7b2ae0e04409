// README: Smart score for nearby drivers and the pre-booking score.
package geo

import "math"

// SmartScore ranks a driver for a rider on a 0-100 scale from proximity and rating.
func SmartScore(distanceMeters, rating, maxDistanceMeters float64) int {
	total := distanceComponent(distanceMeters, maxDistanceMeters) + ratingComponent(rating)
	return int(math.Round(clamp(total, 0, 100)))
}

// distanceComponent is front-loaded: it stays above 60 until roughly 40% of the radius,
// so very close drivers saturate the score regardless of rating.
func distanceComponent(distanceMeters, maxDistanceMeters float64) float64 {
	if maxDistanceMeters <= 0 {
		return 0
	}
	r := math.Max(0, distanceMeters) / maxDistanceMeters
	if r > 1 {
		r = 1
	}
	return 60 * (1 - r) * (2 - r)
}

func ratingComponent(rating float64) float64 {
	switch {
	case rating >= 4.5:
		return 40
	case rating >= 4.0:
		return 35 + (rating-4.0)*10
	case rating >= 3.0:
		return 20 + (rating-3.0)*15
	case rating > 0:
		return rating * 6.67
	default:
		return 0
	}
}

// PreBookScore ranks an open pre-booking for a driver: closeness to the rider's home,
// lead time before the ride, and the rider's rating. Capped at 100.
func PreBookScore(distanceKm, hoursUntil, rating float64) int {
	dist := math.Max(0, 100-distanceKm*5)
	lead := math.Min(50, math.Max(0, hoursUntil)*2)
	total := dist + lead + math.Max(0, rating)*10
	return int(math.Round(math.Min(100, total)))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
