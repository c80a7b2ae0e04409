// README: Pre-booking store backed by PostgreSQL. Window checks run inside a transaction that
// holds a per-rider or per-driver advisory lock, so two concurrent writers cannot both pass.
package prebook

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"campuspool/internal/types"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const bookingColumns = `
	b.id, b.rider_id, b.driver_id, b.pickup_lng, b.pickup_lat, b.dest_lng, b.dest_lat,
	b.pickup_address, b.destination_address, b.requested_at, b.max_fare, b.notes,
	b.estimated_fare, b.currency, b.status, b.status_version,
	b.created_at, b.updated_at, b.matched_at, b.cancelled_at`

func (s *PGStore) CreateIfNoClash(ctx context.Context, b *Booking, window time.Duration) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if err := advisoryLock(ctx, tx, "prebook:rider:"+string(b.RiderID)); err != nil {
			return err
		}
		var clash bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM prebookings
				WHERE rider_id = $1
				  -- matched counts too: a driver cancel turns it back into open
				  AND status IN ('open', 'matched')
				  AND requested_at BETWEEN $2 AND $3
			)`, string(b.RiderID), b.RequestedAt.Add(-window), b.RequestedAt.Add(window)).Scan(&clash)
		if err != nil {
			return err
		}
		if clash {
			return ErrRiderClash
		}
		var maxFare *int64
		if b.MaxFare != nil {
			maxFare = &b.MaxFare.Amount
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO prebookings (
				id, rider_id, pickup_lng, pickup_lat, dest_lng, dest_lat,
				pickup_address, destination_address, requested_at, max_fare, notes,
				estimated_fare, currency, status, status_version, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)`,
			string(b.ID), string(b.RiderID), b.Pickup.Lng, b.Pickup.Lat, b.Destination.Lng, b.Destination.Lat,
			b.PickupAddress, b.DestinationAddress, b.RequestedAt, maxFare, b.Notes,
			b.EstimatedFare.Amount, b.EstimatedFare.Currency, string(b.Status), b.StatusVersion, b.CreatedAt,
		)
		return err
	})
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Booking, error) {
	row := s.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM prebookings b WHERE b.id = $1`, string(id))
	b, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *PGStore) ListByRider(ctx context.Context, riderID types.ID) ([]Booking, error) {
	return s.list(ctx, `
		SELECT `+bookingColumns+`
		FROM prebookings b
		WHERE b.rider_id = $1
		ORDER BY b.requested_at`, string(riderID))
}

func (s *PGStore) ListMatchedByDriver(ctx context.Context, driverID types.ID) ([]Booking, error) {
	return s.list(ctx, `
		SELECT `+bookingColumns+`
		FROM prebookings b
		WHERE b.driver_id = $1 AND b.status = 'matched'
		ORDER BY b.requested_at`, string(driverID))
}

func (s *PGStore) list(ctx context.Context, query string, args ...any) ([]Booking, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *PGStore) OpenCandidates(ctx context.Context, after time.Time) ([]Candidate, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+bookingColumns+`, u.name, u.average_rating, u.home_lng, u.home_lat
		FROM prebookings b
		JOIN users u ON u.id = b.rider_id
		WHERE b.status = 'open' AND b.requested_at > $1
		ORDER BY b.requested_at`, after)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		var sc bookingScan
		var homeLng, homeLat *float64
		dest := append(sc.targets(&c.Booking), &c.RiderName, &c.RiderRating, &homeLng, &homeLat)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		sc.apply(&c.Booking)
		if homeLng != nil && homeLat != nil {
			c.HomeLocation = &types.Point{Lng: *homeLng, Lat: *homeLat}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PGStore) Match(ctx context.Context, id, driverID types.ID, version int, window time.Duration, at time.Time) (bool, error) {
	var matched bool
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if err := advisoryLock(ctx, tx, "prebook:driver:"+string(driverID)); err != nil {
			return err
		}
		var clash bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1
				FROM prebookings other, prebookings target
				WHERE target.id = $2
				  AND other.driver_id = $1
				  AND other.status = 'matched'
				  AND other.id <> target.id
				  AND other.requested_at BETWEEN target.requested_at - make_interval(secs => $3)
				                             AND target.requested_at + make_interval(secs => $3)
			)`, string(driverID), string(id), window.Seconds()).Scan(&clash)
		if err != nil {
			return err
		}
		if clash {
			return ErrDriverClash
		}
		tag, err := tx.Exec(ctx, `
			UPDATE prebookings
			SET status = 'matched', status_version = status_version + 1,
			    driver_id = $2, matched_at = $4, updated_at = $4
			WHERE id = $1 AND status = 'open' AND status_version = $3`,
			string(id), string(driverID), version, at)
		if err != nil {
			return err
		}
		matched = tag.RowsAffected() == 1
		return nil
	})
	return matched, err
}

func (s *PGStore) Cancel(ctx context.Context, id types.ID, from Status, version int, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE prebookings
		SET status = 'cancelled', status_version = status_version + 1,
		    cancelled_at = $4, updated_at = $4
		WHERE id = $1 AND status = $2 AND status_version = $3`,
		string(id), string(from), version, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) Release(ctx context.Context, id, driverID types.ID, version int, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE prebookings
		SET status = 'open', status_version = status_version + 1,
		    driver_id = NULL, matched_at = NULL, updated_at = $4
		WHERE id = $1 AND driver_id = $2 AND status = 'matched' AND status_version = $3`,
		string(id), string(driverID), version, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func advisoryLock(ctx context.Context, tx pgx.Tx, key string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key)
	return err
}

// bookingScan holds the nullable columns of a booking row while scanning.
type bookingScan struct {
	driverID *string
	maxFare  *int64
}

func (sc *bookingScan) targets(b *Booking) []any {
	return []any{
		&b.ID, &b.RiderID, &sc.driverID, &b.Pickup.Lng, &b.Pickup.Lat, &b.Destination.Lng, &b.Destination.Lat,
		&b.PickupAddress, &b.DestinationAddress, &b.RequestedAt, &sc.maxFare, &b.Notes,
		&b.EstimatedFare.Amount, &b.EstimatedFare.Currency, &b.Status, &b.StatusVersion,
		&b.CreatedAt, &b.UpdatedAt, &b.MatchedAt, &b.CancelledAt,
	}
}

func (sc *bookingScan) apply(b *Booking) {
	if sc.driverID != nil {
		b.DriverID = types.ID(*sc.driverID)
	}
	if sc.maxFare != nil {
		m := types.Money{Amount: *sc.maxFare, Currency: b.EstimatedFare.Currency}
		b.MaxFare = &m
	}
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var sc bookingScan
	if err := row.Scan(sc.targets(&b)...); err != nil {
		return nil, err
	}
	sc.apply(&b)
	return &b, nil
}
