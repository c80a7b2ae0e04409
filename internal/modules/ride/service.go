// README: Ride request service implements the request/accept/OTP/complete lifecycle.
package ride

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"campuspool/internal/events"
	"campuspool/internal/geo"
	"campuspool/internal/logger"
	"campuspool/internal/modules/availability"
	"campuspool/internal/modules/user"
	"campuspool/internal/o11y"
	"campuspool/internal/types"
)

var (
	ErrNotFound      = fmt.Errorf("%w: ride request not found", types.ErrNotFound)
	ErrDriverNotLive = fmt.Errorf("%w: ride not found or no longer available", types.ErrNotFound)
	ErrInvalidState  = fmt.Errorf("%w: action not allowed in the current request status", types.ErrInvalidState)
	ErrActiveRequest = fmt.Errorf("%w: rider already has an active ride request", types.ErrConflict)
	ErrDriverBusy    = fmt.Errorf("%w: driver already has an accepted or started ride", types.ErrConflict)
	ErrAlreadyRated  = fmt.Errorf("%w: driver already rated for this ride", types.ErrConflict)
	ErrForbidden     = fmt.Errorf("%w: not a party to this ride request", types.ErrForbidden)
	ErrOTPFormat     = fmt.Errorf("%w: OTP must be 4 digits", types.ErrInvalidInput)
	ErrOTPMismatch   = fmt.Errorf("%w: incorrect OTP", types.ErrInvalidInput)
	ErrOTPLocked     = fmt.Errorf("%w: too many incorrect OTP attempts, cancel and request again", types.ErrInvalidState)
	ErrInvalidRating = fmt.Errorf("%w: rating must be between 1 and 5", types.ErrInvalidInput)
	ErrSelfRequest   = fmt.Errorf("%w: cannot request your own ride", types.ErrInvalidInput)
	ErrBadRequest    = fmt.Errorf("%w: bad ride request", types.ErrInvalidInput)
)

type Store interface {
	// Create inserts a pending request. Returns ErrActiveRequest when the rider already has one
	// in an active status.
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, id types.ID) (*Request, error)
	ActiveByRider(ctx context.Context, riderID types.ID) (*Request, error)
	ListByDriver(ctx context.Context, driverID types.ID, statuses ...Status) ([]Request, error)
	// UpdateStatus applies t only if the row still matches t.From and t.Version. Returns
	// ErrDriverBusy when accepting would give the driver a second accepted/started request.
	UpdateStatus(ctx context.Context, t Transition) (bool, error)
	CancelPendingByRider(ctx context.Context, riderID, exceptID types.ID, reason string, at time.Time) ([]types.ID, error)
	CancelPendingByDriver(ctx context.Context, driverID types.ID, reason string, at time.Time) ([]types.ID, error)
	SetDriverRating(ctx context.Context, id, riderID types.ID, rating int) (bool, error)
	// RecordOTPFailure bumps the wrong-OTP counter of an accepted request at version and
	// returns the new count, or 0 when the request moved on.
	RecordOTPFailure(ctx context.Context, id types.ID, version int) (int, error)
	AppendEvent(ctx context.Context, e *Event) error
}

// Drivers resolves live driver availability.
type Drivers interface {
	Active(ctx context.Context, driverID types.ID) (*availability.Availability, error)
	Lookup(ctx context.Context, availabilityID types.ID) (*availability.Availability, error)
}

type Pricing interface {
	Estimate(ctx context.Context, distanceKm float64) (types.Money, error)
}

type Users interface {
	ApplyRating(ctx context.Context, userID types.ID, rating int) error
	PublicProfiles(ctx context.Context, ids []types.ID) (map[types.ID]user.PublicProfile, error)
	ContactProfile(ctx context.Context, id types.ID) (user.PublicProfile, error)
}

type Notifier interface {
	Notify(ctx context.Context, userID types.ID, title, body string, data map[string]string) error
}

type Deps struct {
	Store    Store
	Drivers  Drivers
	Pricing  Pricing
	Users    Users
	OTP      OTPGenerator
	Notifier Notifier
	Events   events.Publisher
	Clock    func() time.Time
	Log      logrus.FieldLogger
}

type Service struct {
	store    Store
	drivers  Drivers
	pricing  Pricing
	users    Users
	otp      OTPGenerator
	notifier Notifier
	events   events.Publisher
	now      func() time.Time
	log      logrus.FieldLogger
}

func NewService(deps Deps) *Service {
	s := &Service{
		store:    deps.Store,
		drivers:  deps.Drivers,
		pricing:  deps.Pricing,
		users:    deps.Users,
		otp:      deps.OTP,
		notifier: deps.Notifier,
		events:   deps.Events,
		now:      deps.Clock,
		log:      logger.OrDiscard(deps.Log),
	}
	if s.otp == nil {
		s.otp = RandomOTP{}
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
	AvailabilityID     types.ID // either this or DriverID identifies the target
	DriverID           types.ID
	Pickup             types.Point
	Destination        types.Point
	PickupAddress      string
	DestinationAddress string
	RiderLocation      *types.Point
}

type Action string

const (
	ActionAccept Action = "accept"
	ActionReject Action = "reject"
)

type RespondCommand struct {
	RequestID types.ID
	DriverID  types.ID
	Action    Action
}

type VerifyOTPCommand struct {
	RequestID types.ID
	DriverID  types.ID
	OTP       string
}

type CompleteCommand struct {
	RequestID   types.ID
	DriverID    types.ID
	RiderRating *int
}

type CancelCommand struct {
	RequestID types.ID
	ActorID   types.ID
	Actor     ActorType
}

type RateDriverCommand struct {
	RequestID types.ID
	RiderID   types.ID
	Rating    int
}

func (c *CreateCommand) validate() error {
	if c.RiderID.IsZero() {
		return fmt.Errorf("%w: missing rider id", ErrBadRequest)
	}
	if c.AvailabilityID.IsZero() && c.DriverID.IsZero() {
		return fmt.Errorf("%w: ride_id or driver_id is required", ErrBadRequest)
	}
	if err := c.Pickup.Validate(); err != nil {
		return err
	}
	if err := c.Destination.Validate(); err != nil {
		return err
	}
	if c.RiderLocation != nil {
		if err := c.RiderLocation.Validate(); err != nil {
			return err
		}
	}
	c.PickupAddress = strings.TrimSpace(c.PickupAddress)
	c.DestinationAddress = strings.TrimSpace(c.DestinationAddress)
	if c.PickupAddress == "" || c.DestinationAddress == "" {
		return fmt.Errorf("%w: pickup and destination addresses are required", ErrBadRequest)
	}
	return nil
}

// Create files a pending request to a live driver. The fare is fixed here.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Request, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	avail, err := s.resolveDriver(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if avail.DriverID == cmd.RiderID {
		return nil, ErrSelfRequest
	}
	fare, err := s.pricing.Estimate(ctx, geo.HaversineKm(cmd.Pickup, cmd.Destination))
	if err != nil {
		return nil, err
	}

	now := s.now()
	r := &Request{
		ID:                 types.NewID(),
		RiderID:            cmd.RiderID,
		DriverID:           avail.DriverID,
		AvailabilityID:     avail.ID,
		Pickup:             cmd.Pickup,
		Destination:        cmd.Destination,
		PickupAddress:      cmd.PickupAddress,
		DestinationAddress: cmd.DestinationAddress,
		RiderLocation:      cmd.RiderLocation,
		EstimatedFare:      fare,
		Status:             StatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	err = s.store.Create(ctx, r)
	if errors.Is(err, ErrActiveRequest) {
		// One retry if the blocking request turns out to be stale.
		cleared, rerr := s.reconcileRider(ctx, cmd.RiderID)
		if rerr != nil {
			return nil, rerr
		}
		if !cleared {
			return nil, ErrActiveRequest
		}
		err = s.store.Create(ctx, r)
	}
	if err != nil {
		return nil, err
	}

	s.record(ctx, r, StatusNone, StatusPending, ActorRider, r.RiderID, now)
	s.notify(ctx, r.DriverID, "New ride request", r.PickupAddress+" to "+r.DestinationAddress, r)
	return r, nil
}

func (s *Service) resolveDriver(ctx context.Context, cmd CreateCommand) (*availability.Availability, error) {
	var (
		a   *availability.Availability
		err error
	)
	if !cmd.AvailabilityID.IsZero() {
		a, err = s.drivers.Lookup(ctx, cmd.AvailabilityID)
	} else {
		a, err = s.drivers.Active(ctx, cmd.DriverID)
	}
	if errors.Is(err, types.ErrNotFound) {
		return nil, ErrDriverNotLive
	}
	if err != nil {
		return nil, err
	}
	if !cmd.DriverID.IsZero() && a.DriverID != cmd.DriverID {
		return nil, ErrDriverNotLive
	}
	return a, nil
}

// Respond dispatches a driver's accept or reject.
func (s *Service) Respond(ctx context.Context, cmd RespondCommand) (*Request, error) {
	switch cmd.Action {
	case ActionAccept:
		return s.Accept(ctx, cmd)
	case ActionReject:
		return s.Reject(ctx, cmd)
	default:
		return nil, fmt.Errorf("%w: action must be accept or reject", ErrBadRequest)
	}
}

// Accept moves a pending request to accepted and issues its OTP. Concurrent accepts of the
// same request are settled by the conditional update: one wins, the rest get ErrInvalidState.
// The rider's other pending requests are cancelled afterwards, best-effort.
func (s *Service) Accept(ctx context.Context, cmd RespondCommand) (*Request, error) {
	r, err := s.forDriver(ctx, cmd.RequestID, cmd.DriverID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(r.Status, StatusAccepted) {
		return nil, ErrInvalidState
	}
	stale, err := s.isStale(ctx, r)
	if err != nil {
		return nil, err
	}
	if stale {
		s.cancelStale(ctx, r)
		return nil, ErrInvalidState
	}

	otp, err := s.otp.NewOTP()
	if err != nil {
		return nil, fmt.Errorf("generate otp: %w", err)
	}
	now := s.now()
	ok, err := s.store.UpdateStatus(ctx, Transition{
		ID: r.ID, From: r.Status, To: StatusAccepted, Version: r.StatusVersion, OTP: otp, At: now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		o11y.RideTransitionConflicts.WithLabelValues(string(StatusAccepted)).Inc()
		return nil, ErrInvalidState
	}
	s.record(ctx, r, StatusPending, StatusAccepted, ActorDriver, cmd.DriverID, now)

	cancelled, err := s.store.CancelPendingByRider(ctx, r.RiderID, r.ID, ReasonOtherAccepted, now)
	if err != nil {
		s.log.WithError(err).WithField("rider_id", r.RiderID).Error("cascade cancel of rider's other pending requests")
	}
	s.recordCascade(ctx, cancelled, ReasonOtherAccepted, now)

	// The OTP is read by the rider only; the driver learns it at pickup.
	r.Status = StatusAccepted
	r.StatusVersion++
	r.OTP = ""
	r.AcceptedAt = &now
	r.UpdatedAt = now
	s.notify(ctx, r.RiderID, "Ride accepted", "Your driver is on the way. Share your OTP at pickup.", r)
	return r, nil
}

func (s *Service) Reject(ctx context.Context, cmd RespondCommand) (*Request, error) {
	r, err := s.forDriver(ctx, cmd.RequestID, cmd.DriverID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(r.Status, StatusRejected) {
		return nil, ErrInvalidState
	}
	now := s.now()
	ok, err := s.store.UpdateStatus(ctx, Transition{
		ID: r.ID, From: r.Status, To: StatusRejected, Version: r.StatusVersion, At: now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		o11y.RideTransitionConflicts.WithLabelValues(string(StatusRejected)).Inc()
		return nil, ErrInvalidState
	}
	s.record(ctx, r, StatusPending, StatusRejected, ActorDriver, cmd.DriverID, now)
	r.Status = StatusRejected
	r.StatusVersion++
	r.UpdatedAt = now
	s.notify(ctx, r.RiderID, "Ride request declined", "The driver could not take this ride. Try another nearby driver.", r)
	return r, nil
}

// VerifyOTP starts the ride once the driver enters the rider's OTP. The OTP is consumed.
func (s *Service) VerifyOTP(ctx context.Context, cmd VerifyOTPCommand) (*Request, error) {
	if !validOTP(cmd.OTP) {
		return nil, ErrOTPFormat
	}
	r, err := s.store.Get(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if r.DriverID != cmd.DriverID || r.Status != StatusAccepted {
		return nil, ErrNotFound
	}
	if r.OTPAttempts >= MaxOTPAttempts {
		return nil, ErrOTPLocked
	}
	if subtle.ConstantTimeCompare([]byte(r.OTP), []byte(cmd.OTP)) != 1 {
		attempts, err := s.store.RecordOTPFailure(ctx, r.ID, r.StatusVersion)
		if err != nil {
			return nil, err
		}
		if attempts >= MaxOTPAttempts {
			s.log.WithFields(logrus.Fields{"request_id": r.ID, "driver_id": r.DriverID}).Warn("otp verification locked")
		}
		return nil, ErrOTPMismatch
	}
	now := s.now()
	ok, err := s.store.UpdateStatus(ctx, Transition{
		ID: r.ID, From: StatusAccepted, To: StatusStarted, Version: r.StatusVersion, ClearOTP: true, At: now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		o11y.RideTransitionConflicts.WithLabelValues(string(StatusStarted)).Inc()
		return nil, ErrNotFound
	}
	s.record(ctx, r, StatusAccepted, StatusStarted, ActorDriver, cmd.DriverID, now)
	r.Status = StatusStarted
	r.StatusVersion++
	r.OTP = ""
	r.StartedAt = &now
	r.UpdatedAt = now
	return r, nil
}

// Complete closes a started ride and folds the optional rider rating into the rider's aggregate.
func (s *Service) Complete(ctx context.Context, cmd CompleteCommand) (*Request, error) {
	if cmd.RiderRating != nil && !validRating(*cmd.RiderRating) {
		return nil, ErrInvalidRating
	}
	r, err := s.forDriver(ctx, cmd.RequestID, cmd.DriverID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(r.Status, StatusCompleted) {
		return nil, ErrInvalidState
	}
	now := s.now()
	ok, err := s.store.UpdateStatus(ctx, Transition{
		ID: r.ID, From: StatusStarted, To: StatusCompleted, Version: r.StatusVersion, Rating: cmd.RiderRating, At: now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		o11y.RideTransitionConflicts.WithLabelValues(string(StatusCompleted)).Inc()
		return nil, ErrInvalidState
	}
	s.record(ctx, r, StatusStarted, StatusCompleted, ActorDriver, cmd.DriverID, now)

	if cmd.RiderRating != nil {
		if err := s.users.ApplyRating(ctx, r.RiderID, *cmd.RiderRating); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{"request_id": r.ID, "rider_id": r.RiderID}).Error("apply rider rating")
		}
	}
	r.Status = StatusCompleted
	r.StatusVersion++
	r.RiderRating = cmd.RiderRating
	r.CompletedAt = &now
	r.UpdatedAt = now
	s.notify(ctx, r.RiderID, "Ride completed", "Thanks for riding. Rate your driver from the ride history.", r)
	return r, nil
}

// Cancel lets the rider cancel a pending or accepted request, or the driver back out of an
// accepted one.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Request, error) {
	r, err := s.store.Get(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	var reason string
	var counterpart types.ID
	switch cmd.Actor {
	case ActorRider:
		if r.RiderID != cmd.ActorID {
			return nil, ErrForbidden
		}
		if r.Status != StatusPending && r.Status != StatusAccepted {
			return nil, ErrInvalidState
		}
		reason, counterpart = ReasonRiderCancel, r.DriverID
	case ActorDriver:
		if r.DriverID != cmd.ActorID {
			return nil, ErrForbidden
		}
		if r.Status != StatusAccepted {
			return nil, ErrInvalidState
		}
		reason, counterpart = ReasonDriverCancel, r.RiderID
	default:
		return nil, ErrForbidden
	}

	now := s.now()
	from := r.Status
	ok, err := s.store.UpdateStatus(ctx, Transition{
		ID: r.ID, From: from, To: StatusCancelled, Version: r.StatusVersion, ClearOTP: true, Reason: reason, At: now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		o11y.RideTransitionConflicts.WithLabelValues(string(StatusCancelled)).Inc()
		return nil, ErrInvalidState
	}
	s.record(ctx, r, from, StatusCancelled, cmd.Actor, cmd.ActorID, now)
	r.Status = StatusCancelled
	r.StatusVersion++
	r.OTP = ""
	r.CancelReason = reason
	r.CancelledAt = &now
	r.UpdatedAt = now
	s.notify(ctx, counterpart, "Ride cancelled", r.PickupAddress+" to "+r.DestinationAddress+" was cancelled.", r)
	return r, nil
}

// RateDriver records the rider's one rating of the driver after a completed ride.
func (s *Service) RateDriver(ctx context.Context, cmd RateDriverCommand) error {
	if !validRating(cmd.Rating) {
		return ErrInvalidRating
	}
	r, err := s.store.Get(ctx, cmd.RequestID)
	if err != nil {
		return err
	}
	if r.RiderID != cmd.RiderID {
		return ErrForbidden
	}
	if r.Status != StatusCompleted {
		return ErrInvalidState
	}
	if r.DriverRating != nil {
		return ErrAlreadyRated
	}
	ok, err := s.store.SetDriverRating(ctx, r.ID, cmd.RiderID, cmd.Rating)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyRated
	}
	if err := s.users.ApplyRating(ctx, r.DriverID, cmd.Rating); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"request_id": r.ID, "driver_id": r.DriverID}).Error("apply driver rating")
	}
	return nil
}

// Get returns a request to one of its two parties. Anyone else gets NotFound. The OTP is only
// shown to the rider.
func (s *Service) Get(ctx context.Context, id, callerID types.ID) (*View, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if callerID != r.RiderID && callerID != r.DriverID {
		return nil, ErrNotFound
	}
	if callerID == r.RiderID {
		return s.view(ctx, r, r.DriverID), nil
	}
	r.OTP = ""
	return s.view(ctx, r, r.RiderID), nil
}

// ActiveForRider returns the rider's current request. A pending request whose driver has
// gone offline is cancelled here and reported as NotFound.
func (s *Service) ActiveForRider(ctx context.Context, riderID types.ID) (*View, error) {
	r, err := s.store.ActiveByRider(ctx, riderID)
	if err != nil {
		return nil, err
	}
	stale, err := s.isStale(ctx, r)
	if err != nil {
		return nil, err
	}
	if stale {
		s.cancelStale(ctx, r)
		return nil, ErrNotFound
	}
	return s.view(ctx, r, r.DriverID), nil
}

// ActiveForDriver returns the driver's accepted or started ride.
func (s *Service) ActiveForDriver(ctx context.Context, driverID types.ID) (*View, error) {
	list, err := s.store.ListByDriver(ctx, driverID, StatusAccepted, StatusStarted)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	r := list[0]
	r.OTP = ""
	return s.view(ctx, &r, r.RiderID), nil
}

// PendingForDriver lists requests waiting on the driver, oldest first, with rider profiles.
func (s *Service) PendingForDriver(ctx context.Context, driverID types.ID) ([]View, error) {
	list, err := s.store.ListByDriver(ctx, driverID, StatusPending)
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(list))
	for i := range list {
		ids[i] = list[i].RiderID
	}
	profiles, err := s.users.PublicProfiles(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]View, len(list))
	for i := range list {
		out[i] = View{Request: list[i]}
		if p, ok := profiles[list[i].RiderID]; ok {
			p.Phone = ""
			out[i].Counterpart = &p
		}
	}
	return out, nil
}

// CancelPendingForDriver cancels every pending request addressed to a driver who went offline.
func (s *Service) CancelPendingForDriver(ctx context.Context, driverID types.ID) (int, error) {
	now := s.now()
	ids, err := s.store.CancelPendingByDriver(ctx, driverID, ReasonDriverOffline, now)
	if err != nil {
		return 0, err
	}
	s.recordCascade(ctx, ids, ReasonDriverOffline, now)
	return len(ids), nil
}

func (s *Service) forDriver(ctx context.Context, id, driverID types.ID) (*Request, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.DriverID != driverID {
		return nil, ErrForbidden
	}
	return r, nil
}

// isStale reports whether a pending request targets a driver who is no longer live on the
// same availability record.
func (s *Service) isStale(ctx context.Context, r *Request) (bool, error) {
	if r.Status != StatusPending {
		return false, nil
	}
	a, err := s.drivers.Active(ctx, r.DriverID)
	if errors.Is(err, types.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return !r.AvailabilityID.IsZero() && a.ID != r.AvailabilityID, nil
}

func (s *Service) cancelStale(ctx context.Context, r *Request) bool {
	now := s.now()
	ok, err := s.store.UpdateStatus(ctx, Transition{
		ID: r.ID, From: StatusPending, To: StatusCancelled, Version: r.StatusVersion, Reason: ReasonDriverOffline, At: now,
	})
	if err != nil {
		s.log.WithError(err).WithField("request_id", r.ID).Warn("cancel stale request")
		return false
	}
	if ok {
		s.record(ctx, r, StatusPending, StatusCancelled, ActorSystem, "", now)
		o11y.CascadeCancellations.WithLabelValues("stale").Inc()
	}
	return ok
}

// reconcileRider clears the rider's blocking request if it is stale. Returns true when the
// rider no longer has an active request.
func (s *Service) reconcileRider(ctx context.Context, riderID types.ID) (bool, error) {
	cur, err := s.store.ActiveByRider(ctx, riderID)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	stale, err := s.isStale(ctx, cur)
	if err != nil || !stale {
		return false, err
	}
	return s.cancelStale(ctx, cur), nil
}

func (s *Service) view(ctx context.Context, r *Request, counterpartID types.ID) *View {
	v := &View{Request: *r}
	var (
		p   user.PublicProfile
		err error
	)
	if r.Status == StatusAccepted || r.Status == StatusStarted {
		p, err = s.users.ContactProfile(ctx, counterpartID)
	} else {
		var m map[types.ID]user.PublicProfile
		m, err = s.users.PublicProfiles(ctx, []types.ID{counterpartID})
		if err == nil {
			var ok bool
			if p, ok = m[counterpartID]; !ok {
				err = user.ErrNotFound
			}
			p.Phone = ""
		}
	}
	if err != nil {
		s.log.WithError(err).WithField("user_id", counterpartID).Debug("counterpart profile unavailable")
		return v
	}
	v.Counterpart = &p
	return v
}

func (s *Service) record(ctx context.Context, r *Request, from, to Status, actor ActorType, actorID types.ID, at time.Time) {
	o11y.RideTransitions.WithLabelValues(string(from), string(to)).Inc()
	e := &Event{RequestID: r.ID, FromStatus: from, ToStatus: to, ActorType: actor, CreatedAt: at}
	if !actorID.IsZero() {
		e.ActorID = &actorID
	}
	if err := s.store.AppendEvent(ctx, e); err != nil {
		s.log.WithError(err).WithField("request_id", r.ID).Warn("append ride event")
	}
	if err := s.events.Publish(ctx, events.Event{
		Type:        "ride." + string(to),
		AggregateID: string(r.ID),
		ActorType:   string(actor),
		ActorID:     string(actorID),
		Data: map[string]string{
			"rider_id":  string(r.RiderID),
			"driver_id": string(r.DriverID),
			"from":      string(from),
		},
		OccurredAt: at,
	}); err != nil {
		s.log.WithError(err).WithField("request_id", r.ID).Warn("publish ride event")
	}
}

func (s *Service) recordCascade(ctx context.Context, ids []types.ID, reason string, at time.Time) {
	if len(ids) == 0 {
		return
	}
	o11y.CascadeCancellations.WithLabelValues(reason).Add(float64(len(ids)))
	for _, id := range ids {
		s.record(ctx, &Request{ID: id}, StatusPending, StatusCancelled, ActorSystem, "", at)
	}
	s.log.WithFields(logrus.Fields{"reason": reason, "cancelled": len(ids)}).Info("cascade cancelled pending requests")
}

func (s *Service) notify(ctx context.Context, userID types.ID, title, body string, r *Request) {
	if s.notifier == nil || userID.IsZero() {
		return
	}
	data := map[string]string{"request_id": string(r.ID), "status": string(r.Status)}
	if err := s.notifier.Notify(ctx, userID, title, body, data); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("push notification failed")
	}
}

func validRating(r int) bool {
	return r >= user.MinRating && r <= user.MaxRating
}
