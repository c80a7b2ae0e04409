// README: Concurrency tests for ride request transitions against PostgreSQL (run with -race).
package ride

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campuspool/internal/infra/pgtest"
	"campuspool/internal/modules/availability"
	"campuspool/internal/types"
)

func newDBFixture(t *testing.T) (*Service, *PGStore, *fakeDrivers) {
	t.Helper()
	db := pgtest.Setup(t)
	pgtest.SeedUsers(t, db, "driver", "d_race", "d_other")
	pgtest.SeedUsers(t, db, "rider", "r_race", "r_other")

	store := NewStore(db)
	drivers := &fakeDrivers{live: map[types.ID]availability.Availability{}}
	svc := NewService(Deps{
		Store:   store,
		Drivers: drivers,
		Pricing: flatPricing{},
		Users:   &fakeUsers{ratings: map[types.ID][]int{}},
		Clock:   func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	})
	return svc, store, drivers
}

func createDB(t *testing.T, svc *Service, rider, driver types.ID) *Request {
	t.Helper()
	r, err := svc.Create(context.Background(), CreateCommand{
		RiderID: rider, DriverID: driver,
		Pickup: hebbal, Destination: campus, PickupAddress: "Hebbal", DestinationAddress: "Campus",
	})
	require.NoError(t, err)
	return r
}

func TestConcurrentAcceptSameRequest(t *testing.T) {
	svc, store, drivers := newDBFixture(t)
	drivers.goLive("d_race", hebbal)
	r := createDB(t, svc, "r_race", "d_race")

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Accept(context.Background(), RespondCommand{RequestID: r.ID, DriverID: "d_race"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, types.ErrInvalidState) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, success)

	got, err := store.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, got.Status)
	assert.Equal(t, 1, got.StatusVersion)
	assert.Len(t, got.OTP, 4)
}

func TestConcurrentAcceptVsCancel(t *testing.T) {
	svc, store, drivers := newDBFixture(t)
	drivers.goLive("d_race", hebbal)
	r := createDB(t, svc, "r_race", "d_race")

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := svc.Accept(context.Background(), RespondCommand{RequestID: r.ID, DriverID: "d_race"})
		errs <- err
	}()
	go func() {
		defer wg.Done()
		_, err := svc.Cancel(context.Background(), CancelCommand{RequestID: r.ID, ActorID: "r_race", Actor: ActorRider})
		errs <- err
	}()
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		require.ErrorIs(t, err, types.ErrInvalidState)
	}
	got, err := store.Get(context.Background(), r.ID)
	require.NoError(t, err)
	if success == 2 {
		assert.Equal(t, StatusCancelled, got.Status, "cancel after accept")
	} else {
		assert.Equal(t, 1, success)
		assert.Contains(t, []Status{StatusAccepted, StatusCancelled}, got.Status)
	}
}

func TestStore_OneActivePerRider(t *testing.T) {
	svc, _, drivers := newDBFixture(t)
	drivers.goLive("d_race", hebbal)
	drivers.goLive("d_other", hebbal)
	createDB(t, svc, "r_race", "d_race")

	_, err := svc.Create(context.Background(), CreateCommand{
		RiderID: "r_race", DriverID: "d_other",
		Pickup: hebbal, Destination: campus, PickupAddress: "Hebbal", DestinationAddress: "Campus",
	})
	assert.ErrorIs(t, err, ErrActiveRequest)
}

func TestStore_OneBusyPerDriver(t *testing.T) {
	_, store, _ := newDBFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	for _, rider := range []types.ID{"r_race", "r_other"} {
		require.NoError(t, store.Create(ctx, &Request{
			ID: types.NewID(), RiderID: rider, DriverID: "d_race", AvailabilityID: "a1",
			Pickup: hebbal, Destination: campus, PickupAddress: "Hebbal", DestinationAddress: "Campus",
			EstimatedFare: types.NewMoney(55), Status: StatusPending, CreatedAt: now,
		}))
	}
	pending, err := store.ListByDriver(ctx, "d_race", StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	ok, err := store.UpdateStatus(ctx, Transition{ID: pending[0].ID, From: StatusPending, To: StatusAccepted, OTP: "1234", At: now})
	require.NoError(t, err)
	require.True(t, ok)

	_, err = store.UpdateStatus(ctx, Transition{ID: pending[1].ID, From: StatusPending, To: StatusAccepted, OTP: "5678", At: now})
	assert.ErrorIs(t, err, ErrDriverBusy)

	ids, err := store.CancelPendingByDriver(ctx, "d_race", ReasonDriverOffline, now)
	require.NoError(t, err)
	assert.Equal(t, []types.ID{pending[1].ID}, ids)
}

func TestStore_OTPAttemptsLockVerification(t *testing.T) {
	svc, store, drivers := newDBFixture(t)
	drivers.goLive("d_race", hebbal)
	r := createDB(t, svc, "r_race", "d_race")
	ctx := context.Background()

	accepted, err := svc.Accept(ctx, RespondCommand{RequestID: r.ID, DriverID: "d_race"})
	require.NoError(t, err)
	assert.Empty(t, accepted.OTP)

	stored, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	wrong := "0000"
	if stored.OTP == wrong {
		wrong = "1111"
	}
	for i := 0; i < MaxOTPAttempts; i++ {
		_, err := svc.VerifyOTP(ctx, VerifyOTPCommand{RequestID: r.ID, DriverID: "d_race", OTP: wrong})
		require.ErrorIs(t, err, ErrOTPMismatch)
	}
	stored, err = store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, MaxOTPAttempts, stored.OTPAttempts)

	_, err = svc.VerifyOTP(ctx, VerifyOTPCommand{RequestID: r.ID, DriverID: "d_race", OTP: stored.OTP})
	assert.ErrorIs(t, err, ErrOTPLocked)

	n, err := store.RecordOTPFailure(ctx, r.ID, stored.StatusVersion+1)
	require.NoError(t, err)
	assert.Zero(t, n, "stale version must not count")
}
