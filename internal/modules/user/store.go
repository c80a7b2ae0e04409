// README: User store backed by PostgreSQL.
package user

import (
	"context"
	"errors"
	"fmt"

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

const userColumns = `
	id, name, email, role, phone_number, home_address, home_lng, home_lat,
	vehicle_model, vehicle_color, vehicle_plate, default_seats, fcm_token,
	email_verified, average_rating, total_rides, created_at, updated_at`

func (s *PGStore) Upsert(ctx context.Context, u *User) (bool, error) {
	var lng, lat *float64
	if u.HomeLocation != nil {
		lng, lat = &u.HomeLocation.Lng, &u.HomeLocation.Lat
	}
	var created bool
	err := s.db.QueryRow(ctx, `
		INSERT INTO users (
			id, name, email, role, phone_number, home_address, home_lng, home_lat,
			vehicle_model, vehicle_color, vehicle_plate, default_seats, fcm_token,
			confirmation_token, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			NULLIF($14, ''), NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			phone_number = EXCLUDED.phone_number,
			home_address = EXCLUDED.home_address,
			home_lng = EXCLUDED.home_lng,
			home_lat = EXCLUDED.home_lat,
			vehicle_model = EXCLUDED.vehicle_model,
			vehicle_color = EXCLUDED.vehicle_color,
			vehicle_plate = EXCLUDED.vehicle_plate,
			default_seats = EXCLUDED.default_seats,
			fcm_token = COALESCE(NULLIF(EXCLUDED.fcm_token, ''), users.fcm_token),
			updated_at = NOW()
		RETURNING (xmax = 0)`,
		string(u.ID), u.Name, u.Email, string(u.Role), u.Phone, u.HomeAddress, lng, lat,
		u.Vehicle.Model, u.Vehicle.Color, u.Vehicle.Plate, u.DefaultSeats, u.FCMToken,
		u.confirmationToken,
	).Scan(&created)
	return created, err
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, string(id))
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func (s *PGStore) GetMany(ctx context.Context, ids []types.ID) ([]User, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = string(id)
	}
	rows, err := s.db.Query(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1)`, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (s *PGStore) ApplyRating(ctx context.Context, id types.ID, rating int) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE users SET
			average_rating = (average_rating * total_rides + $2) / (total_rides + 1),
			total_rides = total_rides + 1,
			updated_at = NOW()
		WHERE id = $1`, string(id), rating)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) ConfirmEmail(ctx context.Context, token string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE users SET email_verified = TRUE, confirmation_token = NULL, updated_at = NOW()
		WHERE confirmation_token = $1`, token)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) Statistics(ctx context.Context, id types.ID, role Role) (*Stats, error) {
	// Column names come from the role switch, never from input.
	self, other := "rider_id", "driver_id"
	if role == RoleDriver {
		self, other = "driver_id", "rider_id"
	}

	var st Stats
	err := s.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT COUNT(*), COALESCE(SUM(estimated_fare), 0), COALESCE(AVG(estimated_fare), 0)::float8
		FROM ride_requests
		WHERE %s = $1 AND status = 'completed'`, self), string(id),
	).Scan(&st.TotalRides, &st.TotalAmount, &st.AverageFare)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT r.id, COALESCE(u.name, ''), r.pickup_address, r.destination_address,
		       r.estimated_fare, r.completed_at
		FROM ride_requests r
		LEFT JOIN users u ON u.id = r.%s
		WHERE r.%s = $1 AND r.status = 'completed'
		ORDER BY r.completed_at DESC
		LIMIT 5`, other, self), string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var rr RecentRide
		if err := rows.Scan(&rr.RequestID, &rr.OtherParty, &rr.PickupAddress, &rr.DestinationAddress, &rr.Fare, &rr.CompletedAt); err != nil {
			return nil, err
		}
		st.RecentRides = append(st.RecentRides, rr)
	}
	return &st, rows.Err()
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var lng, lat *float64
	var phone, model, color, plate, token *string
	err := row.Scan(
		&u.ID, &u.Name, &u.Email, &u.Role, &phone, &u.HomeAddress, &lng, &lat,
		&model, &color, &plate, &u.DefaultSeats, &token,
		&u.EmailVerified, &u.AverageRating, &u.TotalRides, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lng != nil && lat != nil {
		u.HomeLocation = &types.Point{Lng: *lng, Lat: *lat}
	}
	u.Phone = deref(phone)
	u.Vehicle = Vehicle{Model: deref(model), Color: deref(color), Plate: deref(plate)}
	u.FCMToken = deref(token)
	return &u, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
