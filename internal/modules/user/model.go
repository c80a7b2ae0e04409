// README: User profile, rating aggregate and ride statistics.
package user

import (
	"time"

	"campuspool/internal/types"
)

type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
)

func (r Role) Valid() bool { return r == RoleRider || r == RoleDriver }

type Vehicle struct {
	Model string `json:"model,omitempty"`
	Color string `json:"color,omitempty"`
	Plate string `json:"plate,omitempty"`
}

type User struct {
	ID            types.ID     `json:"id"`
	Name          string       `json:"name"`
	Email         string       `json:"email"`
	Role          Role         `json:"role"`
	Phone         string       `json:"phone_number"`
	HomeAddress   string       `json:"home_address"`
	HomeLocation  *types.Point `json:"home_location,omitempty"`
	Vehicle       Vehicle      `json:"vehicle"`
	DefaultSeats  int          `json:"default_seats"`
	FCMToken      string       `json:"-"`
	EmailVerified bool         `json:"email_verified"`
	AverageRating float64      `json:"average_rating"`
	TotalRides    int          `json:"total_rides"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`

	confirmationToken string
}

// PublicProfile is what the other party of a ride may see. Phone stays empty until a
// request between the two has been accepted; the plate is never shared.
type PublicProfile struct {
	ID           types.ID `json:"id"`
	Name         string   `json:"name"`
	Rating       float64  `json:"rating"`
	TotalRides   int      `json:"total_rides"`
	VehicleModel string   `json:"vehicle_model,omitempty"`
	VehicleColor string   `json:"vehicle_color,omitempty"`
	Phone        string   `json:"phone_number,omitempty"`
}

func (u *User) Public() PublicProfile {
	p := PublicProfile{
		ID:         u.ID,
		Name:       u.Name,
		Rating:     u.AverageRating,
		TotalRides: u.TotalRides,
	}
	if u.Role == RoleDriver {
		p.VehicleModel = u.Vehicle.Model
		p.VehicleColor = u.Vehicle.Color
	}
	return p
}

// MissingFields lists the profile fields a user still has to fill in before riding or driving.
func (u *User) MissingFields() []string {
	var missing []string
	if u.Phone == "" {
		missing = append(missing, "phone_number")
	}
	if u.Role == RoleDriver {
		if u.Vehicle.Model == "" {
			missing = append(missing, "vehicle_model")
		}
		if u.Vehicle.Color == "" {
			missing = append(missing, "vehicle_color")
		}
		if u.Vehicle.Plate == "" {
			missing = append(missing, "vehicle_plate")
		}
	}
	return missing
}

type RecentRide struct {
	RequestID          types.ID  `json:"request_id"`
	OtherParty         string    `json:"other_user"`
	PickupAddress      string    `json:"pickup"`
	DestinationAddress string    `json:"destination"`
	Fare               int64     `json:"fare"`
	CompletedAt        time.Time `json:"completed_at"`
}

// Stats summarises completed rides. TotalAmount is earnings for drivers and spend for riders.
type Stats struct {
	Role          Role         `json:"role"`
	TotalRides    int          `json:"total_rides"`
	TotalAmount   int64        `json:"total_amount"`
	AverageFare   float64      `json:"average_fare"`
	AverageRating float64      `json:"average_rating"`
	RecentRides   []RecentRide `json:"recent_rides"`
}
