// README: Ride request store backed by PostgreSQL. Partial unique indexes enforce one active
// request per rider and one accepted/started request per driver.
package ride

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"campuspool/internal/infra"
	"campuspool/internal/types"
)

const (
	riderActiveIndex = "ride_requests_one_active_per_rider"
	driverBusyIndex  = "ride_requests_one_busy_per_driver"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const requestColumns = `
	id, rider_id, driver_id, availability_id,
	pickup_lng, pickup_lat, dest_lng, dest_lat, pickup_address, destination_address,
	rider_lng, rider_lat, estimated_fare, currency, status, status_version, otp, otp_attempts,
	rider_rating, driver_rating, cancel_reason,
	created_at, updated_at, accepted_at, started_at, completed_at, cancelled_at`

func (s *PGStore) Create(ctx context.Context, r *Request) error {
	var riderLng, riderLat *float64
	if r.RiderLocation != nil {
		riderLng, riderLat = &r.RiderLocation.Lng, &r.RiderLocation.Lat
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO ride_requests (
			id, rider_id, driver_id, availability_id,
			pickup_lng, pickup_lat, dest_lng, dest_lat, pickup_address, destination_address,
			rider_lng, rider_lat, estimated_fare, currency, status, status_version,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16,
			$17, $17
		)`,
		string(r.ID), string(r.RiderID), string(r.DriverID), string(r.AvailabilityID),
		r.Pickup.Lng, r.Pickup.Lat, r.Destination.Lng, r.Destination.Lat, r.PickupAddress, r.DestinationAddress,
		riderLng, riderLat, r.EstimatedFare.Amount, r.EstimatedFare.Currency, string(r.Status), r.StatusVersion,
		r.CreatedAt,
	)
	if infra.IsUniqueViolation(err) {
		return ErrActiveRequest
	}
	return err
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Request, error) {
	row := s.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM ride_requests WHERE id = $1`, string(id))
	r, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *PGStore) ActiveByRider(ctx context.Context, riderID types.ID) (*Request, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+requestColumns+`
		FROM ride_requests
		WHERE rider_id = $1 AND status IN ('pending', 'accepted', 'started')
		ORDER BY created_at DESC
		LIMIT 1`, string(riderID))
	r, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *PGStore) ListByDriver(ctx context.Context, driverID types.ID, statuses ...Status) ([]Request, error) {
	keys := make([]string, len(statuses))
	for i, st := range statuses {
		keys[i] = string(st)
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+requestColumns+`
		FROM ride_requests
		WHERE driver_id = $1 AND status = ANY($2)
		ORDER BY created_at`, string(driverID), keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *PGStore) UpdateStatus(ctx context.Context, t Transition) (bool, error) {
	var otp *string
	if t.OTP != "" {
		otp = &t.OTP
	}
	var reason *string
	if t.Reason != "" {
		reason = &t.Reason
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE ride_requests
		SET status = $1,
		    status_version = status_version + 1,
		    otp = CASE WHEN $2::text IS NOT NULL THEN $2 WHEN $3 THEN NULL ELSE otp END,
		    otp_attempts = CASE WHEN $2::text IS NOT NULL THEN 0 ELSE otp_attempts END,
		    cancel_reason = COALESCE($4, cancel_reason),
		    rider_rating = COALESCE($5, rider_rating),
		    updated_at = $6,
		    accepted_at = CASE WHEN $1 = 'accepted' THEN $6 ELSE accepted_at END,
		    started_at = CASE WHEN $1 = 'started' THEN $6 ELSE started_at END,
		    completed_at = CASE WHEN $1 = 'completed' THEN $6 ELSE completed_at END,
		    cancelled_at = CASE WHEN $1 = 'cancelled' THEN $6 ELSE cancelled_at END
		WHERE id = $7 AND status = $8 AND status_version = $9`,
		string(t.To), otp, t.ClearOTP, reason, t.Rating, t.At,
		string(t.ID), string(t.From), t.Version,
	)
	if infra.IsUniqueViolation(err) {
		if infra.ConstraintName(err) == driverBusyIndex {
			return false, ErrDriverBusy
		}
		return false, ErrActiveRequest
	}
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RecordOTPFailure counts a wrong OTP against an accepted request and returns the new total.
// It returns 0 when the request is no longer accepted at that version.
func (s *PGStore) RecordOTPFailure(ctx context.Context, id types.ID, version int) (int, error) {
	var attempts int
	err := s.db.QueryRow(ctx, `
		UPDATE ride_requests
		SET otp_attempts = otp_attempts + 1, updated_at = NOW()
		WHERE id = $1 AND status = 'accepted' AND status_version = $2
		RETURNING otp_attempts`,
		string(id), version,
	).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return attempts, err
}

func (s *PGStore) CancelPendingByRider(ctx context.Context, riderID, exceptID types.ID, reason string, at time.Time) ([]types.ID, error) {
	return s.cancelPending(ctx, `rider_id = $1 AND id <> $4`, reason, at, string(riderID), string(exceptID))
}

func (s *PGStore) CancelPendingByDriver(ctx context.Context, driverID types.ID, reason string, at time.Time) ([]types.ID, error) {
	return s.cancelPending(ctx, `driver_id = $1`, reason, at, string(driverID))
}

func (s *PGStore) cancelPending(ctx context.Context, where, reason string, at time.Time, args ...any) ([]types.ID, error) {
	params := append([]any{args[0], reason, at}, args[1:]...)
	rows, err := s.db.Query(ctx, `
		UPDATE ride_requests
		SET status = 'cancelled',
		    status_version = status_version + 1,
		    cancel_reason = $2,
		    cancelled_at = $3,
		    updated_at = $3
		WHERE `+where+` AND status = 'pending'
		RETURNING id`, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []types.ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, types.ID(id))
	}
	return ids, rows.Err()
}

func (s *PGStore) SetDriverRating(ctx context.Context, id, riderID types.ID, rating int) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE ride_requests
		SET driver_rating = $3, updated_at = NOW()
		WHERE id = $1 AND rider_id = $2 AND status = 'completed' AND driver_rating IS NULL`,
		string(id), string(riderID), rating)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) AppendEvent(ctx context.Context, e *Event) error {
	var actor *string
	if e.ActorID != nil {
		v := string(*e.ActorID)
		actor = &v
	}
	return s.db.QueryRow(ctx, `
		INSERT INTO ride_request_events (
			request_id, from_status, to_status, actor_type, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		string(e.RequestID), string(e.FromStatus), string(e.ToStatus), string(e.ActorType), actor, e.CreatedAt,
	).Scan(&e.ID)
}

func scanRequest(row pgx.Row) (*Request, error) {
	var r Request
	var riderLng, riderLat *float64
	var otp, reason *string
	var riderRating, driverRating *int32
	err := row.Scan(
		&r.ID, &r.RiderID, &r.DriverID, &r.AvailabilityID,
		&r.Pickup.Lng, &r.Pickup.Lat, &r.Destination.Lng, &r.Destination.Lat, &r.PickupAddress, &r.DestinationAddress,
		&riderLng, &riderLat, &r.EstimatedFare.Amount, &r.EstimatedFare.Currency, &r.Status, &r.StatusVersion, &otp, &r.OTPAttempts,
		&riderRating, &driverRating, &reason,
		&r.CreatedAt, &r.UpdatedAt, &r.AcceptedAt, &r.StartedAt, &r.CompletedAt, &r.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	if riderLng != nil && riderLat != nil {
		r.RiderLocation = &types.Point{Lng: *riderLng, Lat: *riderLat}
	}
	if otp != nil {
		r.OTP = *otp
	}
	if reason != nil {
		r.CancelReason = *reason
	}
	r.RiderRating = intPtr(riderRating)
	r.DriverRating = intPtr(driverRating)
	return &r, nil
}

func intPtr(v *int32) *int {
	if v == nil {
		return nil
	}
	i := int(*v)
	return &i
}
