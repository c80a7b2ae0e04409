// README: Pre-booking aggregate: a rider's scheduled future ride, matched opportunistically by drivers.
package prebook

import (
	"time"

	"campuspool/internal/types"
)

type Status string

const (
	StatusOpen      Status = "open"
	StatusMatched   Status = "matched"
	StatusCancelled Status = "cancelled"
)

const (
	// RiderWindow: a rider may not hold two open or matched bookings this close together.
	RiderWindow = 2 * time.Hour
	// DriverWindow: a driver may not hold two matched bookings this close together.
	DriverWindow = time.Hour
)

type Booking struct {
	ID                 types.ID     `json:"id"`
	RiderID            types.ID     `json:"rider_id"`
	DriverID           types.ID     `json:"matched_driver_id,omitempty"`
	Pickup             types.Point  `json:"pickup_location"`
	Destination        types.Point  `json:"destination_location"`
	PickupAddress      string       `json:"pickup_address"`
	DestinationAddress string       `json:"destination_address"`
	RequestedAt        time.Time    `json:"requested_datetime"`
	MaxFare            *types.Money `json:"max_fare,omitempty"`
	Notes              string       `json:"notes,omitempty"`
	EstimatedFare      types.Money  `json:"estimated_fare"`
	Status             Status       `json:"status"`
	StatusVersion      int          `json:"-"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
	MatchedAt          *time.Time   `json:"matched_at,omitempty"`
	CancelledAt        *time.Time   `json:"cancelled_at,omitempty"`
}

// Candidate is an open booking as seen by a driver browsing for work: the rider's home
// location and rating ride along for ranking.
type Candidate struct {
	Booking
	RiderName    string       `json:"rider_name"`
	RiderRating  float64      `json:"rider_rating"`
	HomeLocation *types.Point `json:"home_location,omitempty"`
}

var AllowedTransitions = map[Status][]Status{
	StatusOpen:    {StatusMatched, StatusCancelled},
	StatusMatched: {StatusOpen, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// withinWindow reports whether a and b are at most w apart, inclusive.
func withinWindow(a, b time.Time, w time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= w
}
