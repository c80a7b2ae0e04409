// README: Pre-booking service: create, driver accept, cancel and listing with time-window rules.
package prebook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"campuspool/internal/events"
	"campuspool/internal/geo"
	"campuspool/internal/logger"
	"campuspool/internal/o11y"
	"campuspool/internal/types"
)

var (
	ErrNotFound     = fmt.Errorf("%w: pre-booking not found", types.ErrNotFound)
	ErrInvalidState = fmt.Errorf("%w: action not allowed in the current pre-booking status", types.ErrInvalidState)
	ErrRiderClash   = fmt.Errorf("%w: you already have a pre-booking within 2 hours of this time", types.ErrConflict)
	ErrDriverClash  = fmt.Errorf("%w: you already have a matched pre-booking within 1 hour of this time", types.ErrConflict)
	ErrForbidden    = fmt.Errorf("%w: not a party to this pre-booking", types.ErrForbidden)
	ErrPastTime     = fmt.Errorf("%w: requested time must be in the future", types.ErrInvalidInput)
	ErrBadRequest   = fmt.Errorf("%w: bad pre-booking", types.ErrInvalidInput)
)

const maxNotesLen = 500

type Store interface {
	// CreateIfNoClash inserts b unless the rider holds an open or matched booking within
	// window of b.RequestedAt. The check and insert are serialised per rider.
	CreateIfNoClash(ctx context.Context, b *Booking, window time.Duration) error
	Get(ctx context.Context, id types.ID) (*Booking, error)
	ListByRider(ctx context.Context, riderID types.ID) ([]Booking, error)
	ListMatchedByDriver(ctx context.Context, driverID types.ID) ([]Booking, error)
	OpenCandidates(ctx context.Context, after time.Time) ([]Candidate, error)
	// Match moves an open booking to matched for driverID unless the driver holds another
	// matched booking within window. Serialised per driver.
	Match(ctx context.Context, id, driverID types.ID, version int, window time.Duration, at time.Time) (bool, error)
	// Cancel moves the booking to cancelled from the given status and version.
	Cancel(ctx context.Context, id types.ID, from Status, version int, at time.Time) (bool, error)
	// Release reverts a matched booking to open and clears its driver.
	Release(ctx context.Context, id, driverID types.ID, version int, at time.Time) (bool, error)
}

type Pricing interface {
	Estimate(ctx context.Context, distanceKm float64) (types.Money, error)
}

type Notifier interface {
	Notify(ctx context.Context, userID types.ID, title, body string, data map[string]string) error
}

type Deps struct {
	Store    Store
	Pricing  Pricing
	Notifier Notifier
	Events   events.Publisher
	Clock    func() time.Time
	Log      logrus.FieldLogger
}

type Service struct {
	store    Store
	pricing  Pricing
	notifier Notifier
	events   events.Publisher
	now      func() time.Time
	log      logrus.FieldLogger
}

func NewService(deps Deps) *Service {
	s := &Service{
		store:    deps.Store,
		pricing:  deps.Pricing,
		notifier: deps.Notifier,
		events:   deps.Events,
		now:      deps.Clock,
		log:      logger.OrDiscard(deps.Log),
	}
	if s.events == nil {
		s.events = events.Discard{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type CreateCommand struct {
	RiderID            types.ID
	Pickup             types.Point
	Destination        types.Point
	PickupAddress      string
	DestinationAddress string
	RequestedAt        time.Time
	MaxFare            *int64
	Notes              string
}

func (c *CreateCommand) validate(now time.Time) error {
	if c.RiderID.IsZero() {
		return fmt.Errorf("%w: missing rider id", ErrBadRequest)
	}
	if err := c.Pickup.Validate(); err != nil {
		return err
	}
	if err := c.Destination.Validate(); err != nil {
		return err
	}
	c.PickupAddress = strings.TrimSpace(c.PickupAddress)
	c.DestinationAddress = strings.TrimSpace(c.DestinationAddress)
	if c.PickupAddress == "" || c.DestinationAddress == "" {
		return fmt.Errorf("%w: pickup and destination addresses are required", ErrBadRequest)
	}
	if !c.RequestedAt.After(now) {
		return ErrPastTime
	}
	if c.MaxFare != nil && *c.MaxFare < 0 {
		return fmt.Errorf("%w: max_fare must not be negative", ErrBadRequest)
	}
	c.Notes = strings.TrimSpace(c.Notes)
	if len(c.Notes) > maxNotesLen {
		return fmt.Errorf("%w: notes longer than %d characters", ErrBadRequest, maxNotesLen)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Booking, error) {
	now := s.now()
	if err := cmd.validate(now); err != nil {
		return nil, err
	}
	fare, err := s.pricing.Estimate(ctx, geo.HaversineKm(cmd.Pickup, cmd.Destination))
	if err != nil {
		return nil, err
	}
	b := &Booking{
		ID:                 types.NewID(),
		RiderID:            cmd.RiderID,
		Pickup:             cmd.Pickup,
		Destination:        cmd.Destination,
		PickupAddress:      cmd.PickupAddress,
		DestinationAddress: cmd.DestinationAddress,
		RequestedAt:        cmd.RequestedAt.UTC(),
		Notes:              cmd.Notes,
		EstimatedFare:      fare,
		Status:             StatusOpen,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if cmd.MaxFare != nil {
		m := types.NewMoney(*cmd.MaxFare)
		b.MaxFare = &m
	}
	if err := s.store.CreateIfNoClash(ctx, b, RiderWindow); err != nil {
		return nil, err
	}
	s.record(ctx, b, "", StatusOpen, b.RiderID, now)
	return b, nil
}

// Accept matches an open booking to the calling driver.
func (s *Service) Accept(ctx context.Context, id, driverID types.ID) (*Booking, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.RiderID == driverID {
		return nil, ErrForbidden
	}
	if !CanTransition(b.Status, StatusMatched) {
		return nil, ErrInvalidState
	}
	if !b.RequestedAt.After(s.now()) {
		return nil, ErrInvalidState
	}
	now := s.now()
	ok, err := s.store.Match(ctx, b.ID, driverID, b.StatusVersion, DriverWindow, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidState
	}
	s.record(ctx, b, StatusOpen, StatusMatched, driverID, now)
	b.Status = StatusMatched
	b.StatusVersion++
	b.DriverID = driverID
	b.MatchedAt = &now
	b.UpdatedAt = now
	s.notify(ctx, b.RiderID, "Pre-booking matched", "A driver accepted your ride on "+b.RequestedAt.Format("02 Jan 15:04"), b)
	return b, nil
}

// Cancel is the rider's cancel: open or matched bookings become cancelled.
func (s *Service) Cancel(ctx context.Context, id, riderID types.ID) (*Booking, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.RiderID != riderID {
		return nil, ErrForbidden
	}
	if !CanTransition(b.Status, StatusCancelled) {
		return nil, ErrInvalidState
	}
	now := s.now()
	from := b.Status
	ok, err := s.store.Cancel(ctx, b.ID, from, b.StatusVersion, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidState
	}
	s.record(ctx, b, from, StatusCancelled, riderID, now)
	if from == StatusMatched {
		s.notify(ctx, b.DriverID, "Pre-booking cancelled", "The rider cancelled the ride on "+b.RequestedAt.Format("02 Jan 15:04"), b)
	}
	b.Status = StatusCancelled
	b.StatusVersion++
	b.CancelledAt = &now
	b.UpdatedAt = now
	return b, nil
}

// DriverCancel releases a matched booking back to the open pool.
func (s *Service) DriverCancel(ctx context.Context, id, driverID types.ID) (*Booking, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.DriverID != driverID {
		return nil, ErrForbidden
	}
	if b.Status != StatusMatched {
		return nil, ErrInvalidState
	}
	now := s.now()
	ok, err := s.store.Release(ctx, b.ID, driverID, b.StatusVersion, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidState
	}
	s.record(ctx, b, StatusMatched, StatusOpen, driverID, now)
	b.Status = StatusOpen
	b.StatusVersion++
	b.DriverID = ""
	b.MatchedAt = nil
	b.UpdatedAt = now
	s.notify(ctx, b.RiderID, "Driver cancelled", "Your pre-booking is open again and visible to other drivers.", b)
	return b, nil
}

// Get returns a booking to its rider, its matched driver, or any driver while it is open.
func (s *Service) Get(ctx context.Context, id, callerID types.ID, callerIsDriver bool) (*Booking, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case b.RiderID == callerID, b.DriverID == callerID:
		return b, nil
	case callerIsDriver && b.Status == StatusOpen:
		return b, nil
	default:
		return nil, ErrNotFound
	}
}

func (s *Service) ListForRider(ctx context.Context, riderID types.ID) ([]Booking, error) {
	return s.store.ListByRider(ctx, riderID)
}

func (s *Service) ListMatchedForDriver(ctx context.Context, driverID types.ID) ([]Booking, error) {
	return s.store.ListMatchedByDriver(ctx, driverID)
}

// OpenCandidates lists open bookings still in the future, soonest first.
func (s *Service) OpenCandidates(ctx context.Context) ([]Candidate, error) {
	return s.store.OpenCandidates(ctx, s.now())
}

// HoursUntil is the time from now until the booking, in hours, never negative.
func (s *Service) HoursUntil(b *Booking) float64 {
	h := b.RequestedAt.Sub(s.now()).Hours()
	if h < 0 {
		return 0
	}
	return h
}

func (s *Service) record(ctx context.Context, b *Booking, from, to Status, actorID types.ID, at time.Time) {
	fromLabel := string(from)
	if fromLabel == "" {
		fromLabel = "none"
	}
	o11y.PreBookTransitions.WithLabelValues(fromLabel, string(to)).Inc()
	if err := s.events.Publish(ctx, events.Event{
		Type:        "prebook." + string(to),
		AggregateID: string(b.ID),
		ActorID:     string(actorID),
		Data: map[string]string{
			"rider_id":     string(b.RiderID),
			"from":         fromLabel,
			"requested_at": b.RequestedAt.Format(time.RFC3339),
		},
		OccurredAt: at,
	}); err != nil {
		s.log.WithError(err).WithField("prebook_id", b.ID).Warn("publish pre-booking event")
	}
}

func (s *Service) notify(ctx context.Context, userID types.ID, title, body string, b *Booking) {
	if s.notifier == nil || userID.IsZero() {
		return
	}
	data := map[string]string{"prebook_id": string(b.ID)}
	if err := s.notifier.Notify(ctx, userID, title, body, data); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("push notification failed")
	}
}
