// README: User service: profile completion, public profiles, rating aggregate and statistics.
package user

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/sirupsen/logrus"

	"campuspool/internal/logger"
	"campuspool/internal/types"
)

var (
	ErrNotFound       = fmt.Errorf("%w: user not found", types.ErrNotFound)
	ErrInvalidRating  = fmt.Errorf("%w: rating must be between 1 and 5", types.ErrInvalidInput)
	ErrInvalidPhone   = fmt.Errorf("%w: valid 10-digit phone number is required", types.ErrInvalidInput)
	ErrInvalidProfile = fmt.Errorf("%w: invalid profile", types.ErrInvalidInput)
	ErrRoleMismatch   = fmt.Errorf("%w: role does not match the registered role", types.ErrForbidden)
)

const (
	MinRating = 1
	MaxRating = 5
	maxSeats  = 8
)

type Store interface {
	// Upsert inserts or updates the profile fields of u. Rating aggregate, role and
	// confirmation token are only written on insert.
	Upsert(ctx context.Context, u *User) (created bool, err error)
	Get(ctx context.Context, id types.ID) (*User, error)
	GetMany(ctx context.Context, ids []types.ID) ([]User, error)
	// ApplyRating folds one rating into the aggregate in a single statement.
	ApplyRating(ctx context.Context, id types.ID, rating int) (bool, error)
	ConfirmEmail(ctx context.Context, token string) (bool, error)
	Statistics(ctx context.Context, id types.ID, role Role) (*Stats, error)
}

type Service struct {
	store   Store
	baseURL string
	log     logrus.FieldLogger
}

// NewService builds the service. baseURL prefixes the email confirmation links that are logged
// on registration.
func NewService(store Store, baseURL string, log logrus.FieldLogger) *Service {
	return &Service{store: store, baseURL: strings.TrimRight(baseURL, "/"), log: logger.OrDiscard(log)}
}

type UpsertCommand struct {
	UserID       types.ID
	Role         Role
	Name         string
	Email        string
	Phone        string
	HomeAddress  string
	HomeLocation *types.Point
	Vehicle      Vehicle
	DefaultSeats int
	FCMToken     string
}

func (c UpsertCommand) validate() error {
	if c.UserID.IsZero() {
		return fmt.Errorf("%w: missing user id", ErrInvalidProfile)
	}
	if !c.Role.Valid() {
		return fmt.Errorf("%w: role must be rider or driver", ErrInvalidProfile)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProfile)
	}
	if c.Email != "" {
		if _, err := mail.ParseAddress(c.Email); err != nil {
			return fmt.Errorf("%w: invalid email", ErrInvalidProfile)
		}
	}
	if !validPhone(c.Phone) {
		return ErrInvalidPhone
	}
	if c.HomeLocation != nil {
		if err := c.HomeLocation.Validate(); err != nil {
			return err
		}
	}
	if c.Role == RoleDriver {
		if c.Vehicle.Model == "" || c.Vehicle.Color == "" || c.Vehicle.Plate == "" {
			return fmt.Errorf("%w: vehicle model, color and plate are required for drivers", ErrInvalidProfile)
		}
	}
	if c.DefaultSeats < 0 || c.DefaultSeats > maxSeats {
		return fmt.Errorf("%w: default seats must be between 0 and %d", ErrInvalidProfile, maxSeats)
	}
	return nil
}

func validPhone(v string) bool {
	if len(v) != 10 {
		return false
	}
	for _, c := range v {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// UpsertProfile completes or updates the caller's profile. The first call registers the user
// and logs an email confirmation link.
func (s *Service) UpsertProfile(ctx context.Context, cmd UpsertCommand) (*User, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	existing, err := s.store.Get(ctx, cmd.UserID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.Role != cmd.Role {
		return nil, ErrRoleMismatch
	}

	u := &User{
		ID:           cmd.UserID,
		Name:         strings.TrimSpace(cmd.Name),
		Email:        strings.ToLower(strings.TrimSpace(cmd.Email)),
		Role:         cmd.Role,
		Phone:        cmd.Phone,
		HomeAddress:  strings.TrimSpace(cmd.HomeAddress),
		HomeLocation: cmd.HomeLocation,
		Vehicle:      cmd.Vehicle,
		DefaultSeats: cmd.DefaultSeats,
		FCMToken:     cmd.FCMToken,
	}
	if existing == nil {
		u.confirmationToken = newConfirmationToken()
	}
	created, err := s.store.Upsert(ctx, u)
	if err != nil {
		return nil, err
	}
	if created && u.Email != "" {
		s.log.WithFields(logrus.Fields{
			"user_id": u.ID,
			"email":   u.Email,
			"link":    s.baseURL + "/api/profile/confirm/" + u.confirmationToken,
		}).Info("email confirmation link")
	}
	return s.store.Get(ctx, u.ID)
}

func (s *Service) ConfirmEmail(ctx context.Context, token string) error {
	if len(token) != 32 {
		return fmt.Errorf("%w: malformed confirmation token", types.ErrInvalidInput)
	}
	ok, err := s.store.ConfirmEmail(ctx, token)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: confirmation token", types.ErrNotFound)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*User, error) {
	return s.store.Get(ctx, id)
}

// DriverInfo returns the public view of a driver. Riders and other non-drivers are NotFound.
func (s *Service) DriverInfo(ctx context.Context, id types.ID) (PublicProfile, error) {
	u, err := s.store.Get(ctx, id)
	if err != nil {
		return PublicProfile{}, err
	}
	if u.Role != RoleDriver {
		return PublicProfile{}, ErrNotFound
	}
	return u.Public(), nil
}

// PublicProfiles returns public views keyed by ID. Unknown IDs are absent from the map.
func (s *Service) PublicProfiles(ctx context.Context, ids []types.ID) (map[types.ID]PublicProfile, error) {
	out := make(map[types.ID]PublicProfile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	users, err := s.store.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range users {
		out[users[i].ID] = users[i].Public()
	}
	return out, nil
}

// ContactProfile is the public view plus phone number. Only handed out once a ride between the
// two parties has been accepted.
func (s *Service) ContactProfile(ctx context.Context, id types.ID) (PublicProfile, error) {
	u, err := s.store.Get(ctx, id)
	if err != nil {
		return PublicProfile{}, err
	}
	p := u.Public()
	p.Phone = u.Phone
	return p, nil
}

// ApplyRating folds a 1-5 rating into the user's aggregate:
// new_avg = (old_avg*old_total + rating) / (old_total+1).
func (s *Service) ApplyRating(ctx context.Context, id types.ID, rating int) error {
	if rating < MinRating || rating > MaxRating {
		return ErrInvalidRating
	}
	ok, err := s.store.ApplyRating(ctx, id, rating)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// DeviceToken returns the push token registered for a user, or "" when none is set.
func (s *Service) DeviceToken(ctx context.Context, id types.ID) (string, error) {
	u, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return u.FCMToken, nil
}

func (s *Service) Statistics(ctx context.Context, id types.ID) (*Stats, error) {
	u, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	st, err := s.store.Statistics(ctx, id, u.Role)
	if err != nil {
		return nil, err
	}
	st.Role = u.Role
	st.AverageRating = u.AverageRating
	if st.RecentRides == nil {
		st.RecentRides = []RecentRide{}
	}
	return st, nil
}

func newConfirmationToken() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
