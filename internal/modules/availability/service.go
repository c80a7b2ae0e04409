// README: Availability service: go live, go offline, location updates and nearby search.
package availability

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"campuspool/internal/logger"
	"campuspool/internal/modules/user"
	"campuspool/internal/o11y"
	"campuspool/internal/types"
)

var (
	ErrAlreadyLive = fmt.Errorf("%w: driver is already live, go offline first", types.ErrConflict)
	ErrNotLive     = fmt.Errorf("%w: driver is not currently live", types.ErrNotFound)
	ErrNotFound    = fmt.Errorf("%w: ride not found or no longer available", types.ErrNotFound)
)

const (
	DefaultSeats = 1
	MaxSeats     = 8
)

type Store interface {
	// Create inserts an active record. Returns ErrAlreadyLive when the driver already has one.
	Create(ctx context.Context, a *Availability) error
	Get(ctx context.Context, id types.ID) (*Availability, error)
	ActiveByDriver(ctx context.Context, driverID types.ID) (*Availability, error)
	ActiveByDrivers(ctx context.Context, driverIDs []types.ID) (map[types.ID]Availability, error)
	ListActive(ctx context.Context) ([]Availability, error)
	// Complete flips the driver's active record to completed. Returns ErrNotLive if none.
	Complete(ctx context.Context, driverID types.ID) (*Availability, error)
	UpdateLocation(ctx context.Context, driverID types.ID, p types.Point) (bool, error)
}

// GeoIndex is the proximity index over live drivers' pickup points. The Store stays the
// source of truth; index entries may be stale and are re-checked on read.
type GeoIndex interface {
	Add(ctx context.Context, driverID types.ID, p types.Point) error
	Remove(ctx context.Context, driverIDs ...types.ID) error
	Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]GeoHit, error)
}

// PendingCanceller cancels ride requests still waiting on a driver who went offline.
type PendingCanceller interface {
	CancelPendingForDriver(ctx context.Context, driverID types.ID) (int, error)
}

type Profiles interface {
	PublicProfiles(ctx context.Context, ids []types.ID) (map[types.ID]user.PublicProfile, error)
}

type Deps struct {
	Store    Store
	Index    GeoIndex
	Profiles Profiles
	Rides    PendingCanceller
	Log      logrus.FieldLogger
}

type Service struct {
	store    Store
	index    GeoIndex
	profiles Profiles
	rides    PendingCanceller
	log      logrus.FieldLogger
}

func NewService(deps Deps) *Service {
	return &Service{
		store:    deps.Store,
		index:    deps.Index,
		profiles: deps.Profiles,
		rides:    deps.Rides,
		log:      logger.OrDiscard(deps.Log),
	}
}

// SetPendingCanceller wires the ride lifecycle after construction, since the ride service
// is built on top of this one.
func (s *Service) SetPendingCanceller(c PendingCanceller) {
	s.rides = c
}

type GoLiveCommand struct {
	DriverID           types.ID
	Pickup             types.Point
	Destination        types.Point
	PickupAddress      string
	DestinationAddress string
	Seats              int
}

func (c *GoLiveCommand) normalize() error {
	if c.DriverID.IsZero() {
		return fmt.Errorf("%w: missing driver id", types.ErrInvalidInput)
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
		return fmt.Errorf("%w: pickup and destination addresses are required", types.ErrInvalidInput)
	}
	if c.Seats == 0 {
		c.Seats = DefaultSeats
	}
	if c.Seats < 1 || c.Seats > MaxSeats {
		return fmt.Errorf("%w: seats must be between 1 and %d", types.ErrInvalidInput, MaxSeats)
	}
	return nil
}

func (s *Service) GoLive(ctx context.Context, cmd GoLiveCommand) (*Availability, error) {
	if err := cmd.normalize(); err != nil {
		return nil, err
	}
	a := &Availability{
		ID:                 types.NewID(),
		DriverID:           cmd.DriverID,
		Pickup:             cmd.Pickup,
		Destination:        cmd.Destination,
		PickupAddress:      cmd.PickupAddress,
		DestinationAddress: cmd.DestinationAddress,
		SeatsAvailable:     cmd.Seats,
		Status:             StatusActive,
	}
	if err := s.store.Create(ctx, a); err != nil {
		return nil, err
	}
	if err := s.index.Add(ctx, a.DriverID, a.Pickup); err != nil {
		// Reindex on the next start repairs this; nearby search just misses the driver until then.
		s.log.WithError(err).WithField("driver_id", a.DriverID).Warn("geo index add failed")
	}
	o11y.DriversLive.Inc()
	s.log.WithFields(logrus.Fields{"driver_id": a.DriverID, "ride_id": a.ID}).Info("driver went live")
	return a, nil
}

// GoOffline ends the driver's live record and cancels requests still pending on them.
// The cascade runs after the record is completed and is not rolled back on failure: pending
// requests against an offline driver are also treated as stale by the ride lifecycle on read.
func (s *Service) GoOffline(ctx context.Context, driverID types.ID) (*Availability, error) {
	a, err := s.store.Complete(ctx, driverID)
	if err != nil {
		return nil, err
	}
	o11y.DriversLive.Dec()
	if err := s.index.Remove(ctx, driverID); err != nil {
		s.log.WithError(err).WithField("driver_id", driverID).Warn("geo index remove failed")
	}
	if s.rides != nil {
		n, err := s.rides.CancelPendingForDriver(ctx, driverID)
		if err != nil {
			s.log.WithError(err).WithField("driver_id", driverID).Error("cancel pending requests on go-offline")
		} else if n > 0 {
			s.log.WithFields(logrus.Fields{"driver_id": driverID, "cancelled": n}).Info("cancelled pending requests on go-offline")
		}
	}
	return a, nil
}

func (s *Service) UpdateLocation(ctx context.Context, driverID types.ID, p types.Point) error {
	if err := p.Validate(); err != nil {
		return err
	}
	ok, err := s.store.UpdateLocation(ctx, driverID, p)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotLive
	}
	return nil
}

func (s *Service) Active(ctx context.Context, driverID types.ID) (*Availability, error) {
	return s.store.ActiveByDriver(ctx, driverID)
}

// FindNearby returns live drivers whose pickup point lies within maxKm of p, nearest first.
func (s *Service) FindNearby(ctx context.Context, p types.Point, maxKm float64) ([]Nearby, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if maxKm <= 0 {
		return nil, fmt.Errorf("%w: max distance must be positive", types.ErrInvalidInput)
	}
	hits, err := s.index.Nearby(ctx, p, maxKm)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []Nearby{}, nil
	}

	ids := make([]types.ID, len(hits))
	for i, h := range hits {
		ids[i] = h.DriverID
	}
	live, err := s.store.ActiveByDrivers(ctx, ids)
	if err != nil {
		return nil, err
	}
	profiles, err := s.profiles.PublicProfiles(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]Nearby, 0, len(hits))
	var stale []types.ID
	for _, h := range hits {
		a, ok := live[h.DriverID]
		if !ok {
			stale = append(stale, h.DriverID)
			continue
		}
		profile, ok := profiles[h.DriverID]
		if !ok {
			profile = user.PublicProfile{ID: h.DriverID}
		}
		profile.Phone = ""
		out = append(out, Nearby{Availability: a, DistanceMeters: h.DistanceMeters, Driver: profile})
	}
	if len(stale) > 0 {
		if err := s.index.Remove(ctx, stale...); err != nil {
			s.log.WithError(err).Warn("drop stale geo entries")
		}
	}
	o11y.NearbyResults.Observe(float64(len(out)))
	return out, nil
}

// Reindex rebuilds the spatial index from the store. Run at startup.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	all, err := s.store.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	for _, a := range all {
		if err := s.index.Add(ctx, a.DriverID, a.Pickup); err != nil {
			return 0, fmt.Errorf("reindex driver %s: %w", a.DriverID, err)
		}
	}
	o11y.DriversLive.Set(float64(len(all)))
	return len(all), nil
}

// Lookup resolves an availability ID to its record, only while it is still active.
func (s *Service) Lookup(ctx context.Context, id types.ID) (*Availability, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusActive {
		return nil, ErrNotFound
	}
	return a, nil
}
