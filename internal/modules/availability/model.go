// README: Driver availability ("live") record and nearby-search result types.
package availability

import (
	"time"

	"campuspool/internal/modules/user"
	"campuspool/internal/types"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Availability is a driver's broadcast that they are driving Pickup -> Destination and can
// take riders. A driver has at most one active record.
type Availability struct {
	ID                 types.ID     `json:"ride_id"`
	DriverID           types.ID     `json:"driver_id"`
	Pickup             types.Point  `json:"pickup_location"`
	Destination        types.Point  `json:"destination_location"`
	PickupAddress      string       `json:"pickup_address"`
	DestinationAddress string       `json:"destination_address"`
	SeatsAvailable     int          `json:"seats_available"`
	Status             Status       `json:"status"`
	CurrentLocation    *types.Point `json:"current_location,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// Nearby is an active availability found by proximity search, with the distance from the
// search point and the driver's public profile. Phone is never populated here.
type Nearby struct {
	Availability
	DistanceMeters float64            `json:"distance_meters"`
	Driver         user.PublicProfile `json:"driver"`
}

// GeoHit is a raw result from the spatial index.
type GeoHit struct {
	DriverID       types.ID
	DistanceMeters float64
}
