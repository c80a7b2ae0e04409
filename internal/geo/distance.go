// Package geo holds the pure geographic and scoring math used by matching and pricing.
// Nothing in this package does I/O.
package geo

import (
	"math"

	"campuspool/internal/types"
)

const earthRadiusKm = 6371.0

// CampusPoint is the default destination offered to riders (Kristu Jayanti College, Bengaluru).
var CampusPoint = types.Point{Lng: 77.7334, Lat: 12.8627}

const CampusAddress = "Kristu Jayanti College, K Narayanapura, Kothanur, Bengaluru, Karnataka 560077, India"

// HaversineKm returns the great-circle distance in kilometres between two points.
func HaversineKm(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

const (
	DefaultTrafficFactor = 1.2
	DefaultAvgSpeedKmh   = 25.0
	minETAMinutes        = 5
)

// ETAMinutes estimates travel time from distance, with a five minute floor.
func ETAMinutes(distanceKm, trafficFactor, avgSpeedKmh float64) int {
	if trafficFactor <= 0 {
		trafficFactor = DefaultTrafficFactor
	}
	if avgSpeedKmh <= 0 {
		avgSpeedKmh = DefaultAvgSpeedKmh
	}
	effective := avgSpeedKmh / trafficFactor
	minutes := int(math.Round(60 * distanceKm / effective))
	if minutes < minETAMinutes {
		return minETAMinutes
	}
	return minutes
}

// EstimateETAMinutes is ETAMinutes with campus traffic defaults.
func EstimateETAMinutes(distanceKm float64) int {
	return ETAMinutes(distanceKm, DefaultTrafficFactor, DefaultAvgSpeedKmh)
}
