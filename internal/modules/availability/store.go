// README: Availability store backed by PostgreSQL. The partial unique index
// driver_availability_one_active enforces one active record per driver.
package availability

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"campuspool/internal/infra"
	"campuspool/internal/types"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const availabilityColumns = `
	id, driver_id, pickup_lng, pickup_lat, dest_lng, dest_lat,
	pickup_address, destination_address, seats_available, status,
	current_lng, current_lat, created_at, updated_at`

func (s *PGStore) Create(ctx context.Context, a *Availability) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO driver_availability (
			id, driver_id, pickup_lng, pickup_lat, dest_lng, dest_lat,
			pickup_address, destination_address, seats_available, status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING created_at, updated_at`,
		string(a.ID), string(a.DriverID),
		a.Pickup.Lng, a.Pickup.Lat, a.Destination.Lng, a.Destination.Lat,
		a.PickupAddress, a.DestinationAddress, a.SeatsAvailable, string(a.Status),
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if infra.IsUniqueViolation(err) {
		return ErrAlreadyLive
	}
	return err
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Availability, error) {
	row := s.db.QueryRow(ctx, `SELECT `+availabilityColumns+` FROM driver_availability WHERE id = $1`, string(id))
	a, err := scanAvailability(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func (s *PGStore) ActiveByDriver(ctx context.Context, driverID types.ID) (*Availability, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+availabilityColumns+`
		FROM driver_availability
		WHERE driver_id = $1 AND status = 'active'`, string(driverID))
	a, err := scanAvailability(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotLive
	}
	return a, err
}

func (s *PGStore) ActiveByDrivers(ctx context.Context, driverIDs []types.ID) (map[types.ID]Availability, error) {
	keys := make([]string, len(driverIDs))
	for i, id := range driverIDs {
		keys[i] = string(id)
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+availabilityColumns+`
		FROM driver_availability
		WHERE driver_id = ANY($1) AND status = 'active'`, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[types.ID]Availability, len(driverIDs))
	for rows.Next() {
		a, err := scanAvailability(rows)
		if err != nil {
			return nil, err
		}
		out[a.DriverID] = *a
	}
	return out, rows.Err()
}

func (s *PGStore) ListActive(ctx context.Context) ([]Availability, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+availabilityColumns+`
		FROM driver_availability
		WHERE status = 'active'
		ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Availability
	for rows.Next() {
		a, err := scanAvailability(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *PGStore) Complete(ctx context.Context, driverID types.ID) (*Availability, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE driver_availability
		SET status = 'completed', updated_at = NOW()
		WHERE driver_id = $1 AND status = 'active'
		RETURNING `+availabilityColumns, string(driverID))
	a, err := scanAvailability(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotLive
	}
	return a, err
}

func (s *PGStore) UpdateLocation(ctx context.Context, driverID types.ID, p types.Point) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE driver_availability
		SET current_lng = $2, current_lat = $3, updated_at = NOW()
		WHERE driver_id = $1 AND status = 'active'`,
		string(driverID), p.Lng, p.Lat)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanAvailability(row pgx.Row) (*Availability, error) {
	var a Availability
	var curLng, curLat *float64
	err := row.Scan(
		&a.ID, &a.DriverID, &a.Pickup.Lng, &a.Pickup.Lat, &a.Destination.Lng, &a.Destination.Lat,
		&a.PickupAddress, &a.DestinationAddress, &a.SeatsAvailable, &a.Status,
		&curLng, &curLat, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if curLng != nil && curLat != nil {
		a.CurrentLocation = &types.Point{Lng: *curLng, Lat: *curLat}
	}
	return &a, nil
}
