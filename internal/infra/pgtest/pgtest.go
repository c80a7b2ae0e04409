// Package pgtest connects DB-backed tests to a scratch PostgreSQL database named by
// CAMPUSPOOL_TEST_DSN. Tests skip when it is unset.
package pgtest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"campuspool/internal/infra"
)

const dsnEnv = "CAMPUSPOOL_TEST_DSN"

// Setup applies migrations and truncates every table, so each test starts empty.
func Setup(t testing.TB) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skip(dsnEnv + " not set; skipping DB-backed tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(db.Close)

	root, err := repoRoot()
	if err != nil {
		t.Fatalf("locate repo root: %v", err)
	}
	if err := infra.ApplyMigrations(ctx, db, filepath.Join(root, "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	tables := []string{"ride_request_events", "ride_requests", "prebookings", "driver_availability", "users"}
	if _, err := db.Exec(ctx, "TRUNCATE TABLE "+strings.Join(tables, ", ")); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return db
}

// SeedUsers inserts bare user rows so foreign keys are satisfied.
func SeedUsers(t testing.TB, db *pgxpool.Pool, role string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := db.Exec(context.Background(), `
			INSERT INTO users (id, name, role) VALUES ($1, $1, $2)
			ON CONFLICT (id) DO NOTHING`, id, role)
		if err != nil {
			t.Fatalf("seed user %s: %v", id, err)
		}
	}
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}
