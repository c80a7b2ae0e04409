// README: Ride request aggregate and status definitions.
package ride

import (
	"time"

	"campuspool/internal/modules/user"
	"campuspool/internal/types"
)

type Status string

const (
	StatusNone      Status = "none"
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ActiveStatuses are the statuses that count toward "one active request per rider".
var ActiveStatuses = []Status{StatusPending, StatusAccepted, StatusStarted}

func (s Status) Active() bool {
	for _, a := range ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// MaxOTPAttempts is how many wrong OTPs a request tolerates before verification is locked.
// The rider or driver can still cancel it.
const MaxOTPAttempts = 5

type ActorType string

const (
	ActorRider  ActorType = "rider"
	ActorDriver ActorType = "driver"
	ActorSystem ActorType = "system"
)

const (
	ReasonRiderCancel   = "rider_cancel"
	ReasonDriverCancel  = "driver_cancel"
	ReasonOtherAccepted = "other_request_accepted"
	ReasonDriverOffline = "driver_offline"
)

type Request struct {
	ID                 types.ID     `json:"request_id"`
	RiderID            types.ID     `json:"rider_id"`
	DriverID           types.ID     `json:"driver_id"`
	AvailabilityID     types.ID     `json:"ride_id"`
	Pickup             types.Point  `json:"pickup_location"`
	Destination        types.Point  `json:"destination_location"`
	PickupAddress      string       `json:"pickup_address"`
	DestinationAddress string       `json:"destination_address"`
	RiderLocation      *types.Point `json:"rider_current_location,omitempty"`
	EstimatedFare      types.Money  `json:"estimated_fare"`
	Status             Status       `json:"status"`
	StatusVersion      int          `json:"-"`
	OTP                string       `json:"otp,omitempty"`
	OTPAttempts        int          `json:"-"`
	RiderRating        *int         `json:"rider_rating,omitempty"`
	DriverRating       *int         `json:"driver_rating,omitempty"`
	CancelReason       string       `json:"cancel_reason,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
	AcceptedAt         *time.Time   `json:"accepted_at,omitempty"`
	StartedAt          *time.Time   `json:"started_at,omitempty"`
	CompletedAt        *time.Time   `json:"completed_at,omitempty"`
	CancelledAt        *time.Time   `json:"cancelled_at,omitempty"`
}

// View is a request as shown to one of its parties, with the counterpart's profile.
type View struct {
	Request
	Counterpart *user.PublicProfile `json:"counterpart,omitempty"`
}

type Event struct {
	ID         int64
	RequestID  types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  ActorType
	ActorID    *types.ID
	CreatedAt  time.Time
}

// AllowedTransitions represents the ride request state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusPending:  {StatusAccepted, StatusRejected, StatusCancelled},
	StatusAccepted: {StatusStarted, StatusCancelled},
	StatusStarted:  {StatusCompleted},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is a conditional status update: it applies only while the row still has
// status From and version Version.
type Transition struct {
	ID       types.ID
	From     Status
	To       Status
	Version  int
	OTP      string // set on accept
	ClearOTP bool
	Reason   string
	Rating   *int // rider rating recorded on completion
	At       time.Time
}
