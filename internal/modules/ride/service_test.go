package ride

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campuspool/internal/geo"
	"campuspool/internal/modules/availability"
	"campuspool/internal/modules/user"
	"campuspool/internal/types"
)

// memStore mirrors the PostgreSQL store, including both partial unique indexes.
type memStore struct {
	mu     sync.Mutex
	rows   map[types.ID]*Request
	events []Event
}

func newMemStore() *memStore {
	return &memStore{rows: map[types.ID]*Request{}}
}

func (m *memStore) Create(_ context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.rows {
		if x.RiderID == r.RiderID && x.Status.Active() {
			return ErrActiveRequest
		}
	}
	cp := *r
	m.rows[r.ID] = &cp
	return nil
}

// seed inserts a row without index checks.
func (m *memStore) seed(r Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[r.ID] = &r
}

func (m *memStore) Get(_ context.Context, id types.ID) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) ActiveByRider(_ context.Context, riderID types.ID) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Request
	for _, r := range m.rows {
		if r.RiderID == riderID && r.Status.Active() && (best == nil || r.CreatedAt.After(best.CreatedAt)) {
			best = r
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *memStore) ListByDriver(_ context.Context, driverID types.ID, statuses ...Status) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for _, r := range m.rows {
		if r.DriverID != driverID {
			continue
		}
		for _, st := range statuses {
			if r.Status == st {
				out = append(out, *r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) UpdateStatus(_ context.Context, t Transition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[t.ID]
	if !ok || r.Status != t.From || r.StatusVersion != t.Version {
		return false, nil
	}
	if t.To == StatusAccepted {
		for _, x := range m.rows {
			if x.ID != r.ID && x.DriverID == r.DriverID && (x.Status == StatusAccepted || x.Status == StatusStarted) {
				return false, ErrDriverBusy
			}
		}
	}
	r.Status = t.To
	r.StatusVersion++
	switch {
	case t.OTP != "":
		r.OTP = t.OTP
		r.OTPAttempts = 0
	case t.ClearOTP:
		r.OTP = ""
	}
	if t.Reason != "" {
		r.CancelReason = t.Reason
	}
	if t.Rating != nil {
		r.RiderRating = t.Rating
	}
	r.UpdatedAt = t.At
	return true, nil
}

func (m *memStore) cancelWhere(match func(*Request) bool, reason string, at time.Time) []types.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []types.ID
	for _, r := range m.rows {
		if r.Status == StatusPending && match(r) {
			r.Status = StatusCancelled
			r.StatusVersion++
			r.CancelReason = reason
			r.UpdatedAt = at
			ids = append(ids, r.ID)
		}
	}
	return ids
}

func (m *memStore) CancelPendingByRider(_ context.Context, riderID, exceptID types.ID, reason string, at time.Time) ([]types.ID, error) {
	return m.cancelWhere(func(r *Request) bool { return r.RiderID == riderID && r.ID != exceptID }, reason, at), nil
}

func (m *memStore) CancelPendingByDriver(_ context.Context, driverID types.ID, reason string, at time.Time) ([]types.ID, error) {
	return m.cancelWhere(func(r *Request) bool { return r.DriverID == driverID }, reason, at), nil
}

func (m *memStore) SetDriverRating(_ context.Context, id, riderID types.ID, rating int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.RiderID != riderID || r.Status != StatusCompleted || r.DriverRating != nil {
		return false, nil
	}
	r.DriverRating = &rating
	return true, nil
}

func (m *memStore) RecordOTPFailure(_ context.Context, id types.ID, version int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.Status != StatusAccepted || r.StatusVersion != version {
		return 0, nil
	}
	r.OTPAttempts++
	return r.OTPAttempts, nil
}

func (m *memStore) AppendEvent(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.events) + 1)
	m.events = append(m.events, *e)
	return nil
}

func (m *memStore) status(id types.ID) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id].Status
}

type fakeDrivers struct {
	mu   sync.Mutex
	live map[types.ID]availability.Availability // keyed by driver
}

func (f *fakeDrivers) goLive(driverID types.ID, pickup types.Point) availability.Availability {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := availability.Availability{
		ID:          types.NewID(),
		DriverID:    driverID,
		Pickup:      pickup,
		Destination: geo.CampusPoint,
		Status:      availability.StatusActive,
	}
	f.live[driverID] = a
	return a
}

func (f *fakeDrivers) goOffline(driverID types.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, driverID)
}

func (f *fakeDrivers) Active(_ context.Context, driverID types.ID) (*availability.Availability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.live[driverID]
	if !ok {
		return nil, availability.ErrNotLive
	}
	return &a, nil
}

func (f *fakeDrivers) Lookup(_ context.Context, id types.ID) (*availability.Availability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.live {
		if a.ID == id {
			cp := a
			return &cp, nil
		}
	}
	return nil, availability.ErrNotFound
}

type flatPricing struct{}

func (flatPricing) Estimate(_ context.Context, km float64) (types.Money, error) {
	return types.NewMoney(geo.CostSharingFare(km)), nil
}

type fakeUsers struct {
	mu      sync.Mutex
	ratings map[types.ID][]int
}

func (f *fakeUsers) ApplyRating(_ context.Context, id types.ID, rating int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ratings[id] = append(f.ratings[id], rating)
	return nil
}

func (f *fakeUsers) PublicProfiles(_ context.Context, ids []types.ID) (map[types.ID]user.PublicProfile, error) {
	out := map[types.ID]user.PublicProfile{}
	for _, id := range ids {
		out[id] = user.PublicProfile{ID: id, Name: "user " + string(id), Phone: "9000000000"}
	}
	return out, nil
}

func (f *fakeUsers) ContactProfile(_ context.Context, id types.ID) (user.PublicProfile, error) {
	return user.PublicProfile{ID: id, Name: "user " + string(id), Phone: "9000000000"}, nil
}

type fixedOTP string

func (o fixedOTP) NewOTP() (string, error) { return string(o), nil }

type recordingNotifier struct {
	mu    sync.Mutex
	sends map[types.ID]int
}

func (n *recordingNotifier) Notify(_ context.Context, userID types.ID, _, _ string, _ map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sends[userID]++
	return nil
}

type fixture struct {
	svc      *Service
	store    *memStore
	drivers  *fakeDrivers
	users    *fakeUsers
	notifier *recordingNotifier
}

var (
	hebbal  = types.Point{Lng: 77.5900, Lat: 13.0350}
	campus  = geo.CampusPoint
	baseNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    newMemStore(),
		drivers:  &fakeDrivers{live: map[types.ID]availability.Availability{}},
		users:    &fakeUsers{ratings: map[types.ID][]int{}},
		notifier: &recordingNotifier{sends: map[types.ID]int{}},
	}
	var tick atomic.Int64
	f.svc = NewService(Deps{
		Store:    f.store,
		Drivers:  f.drivers,
		Pricing:  flatPricing{},
		Users:    f.users,
		OTP:      fixedOTP("0427"),
		Notifier: f.notifier,
		Clock:    func() time.Time { return baseNow.Add(time.Duration(tick.Add(1)) * time.Second) },
	})
	return f
}

func (f *fixture) request(t *testing.T, rider, driver types.ID) *Request {
	t.Helper()
	r, err := f.svc.Create(context.Background(), CreateCommand{
		RiderID:            rider,
		DriverID:           driver,
		Pickup:             hebbal,
		Destination:        campus,
		PickupAddress:      "Hebbal Flyover",
		DestinationAddress: geo.CampusAddress,
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) accepted(t *testing.T, rider, driver types.ID) *Request {
	t.Helper()
	r := f.request(t, rider, driver)
	r, err := f.svc.Accept(context.Background(), RespondCommand{RequestID: r.ID, DriverID: driver, Action: ActionAccept})
	require.NoError(t, err)
	return r
}

func TestCreate_PendingWithFixedFare(t *testing.T) {
	f := newFixture(t)
	a := f.drivers.goLive("drv", hebbal)

	r := f.request(t, "rdr", "drv")
	assert.Equal(t, StatusPending, r.Status)
	assert.Equal(t, a.ID, r.AvailabilityID)
	want := geo.CostSharingFare(geo.HaversineKm(hebbal, campus))
	assert.Equal(t, want, r.EstimatedFare.Amount)
	assert.Equal(t, types.DefaultCurrency, r.EstimatedFare.Currency)
	assert.Equal(t, 1, f.notifier.sends["drv"])
	require.Len(t, f.store.events, 1)
	assert.Equal(t, StatusNone, f.store.events[0].FromStatus)
}

func TestCreate_ByAvailabilityID(t *testing.T) {
	f := newFixture(t)
	a := f.drivers.goLive("drv", hebbal)

	r, err := f.svc.Create(context.Background(), CreateCommand{
		RiderID: "rdr", AvailabilityID: a.ID,
		Pickup: hebbal, Destination: campus, PickupAddress: "Hebbal", DestinationAddress: "Campus",
	})
	require.NoError(t, err)
	assert.Equal(t, types.ID("drv"), r.DriverID)
}

func TestCreate_Errors(t *testing.T) {
	f := newFixture(t)
	f.drivers.goLive("drv", hebbal)
	base := CreateCommand{
		RiderID: "rdr", DriverID: "drv",
		Pickup: hebbal, Destination: campus, PickupAddress: "Hebbal", DestinationAddress: "Campus",
	}

	tests := []struct {
		name   string
		mutate func(*CreateCommand)
		want   error
	}{
		{name: "no target", mutate: func(c *CreateCommand) { c.DriverID = "" }, want: types.ErrInvalidInput},
		{name: "bad pickup", mutate: func(c *CreateCommand) { c.Pickup = types.Point{Lat: 95} }, want: types.ErrInvalidInput},
		{name: "missing address", mutate: func(c *CreateCommand) { c.DestinationAddress = "" }, want: types.ErrInvalidInput},
		{name: "driver offline", mutate: func(c *CreateCommand) { c.DriverID = "ghost" }, want: types.ErrNotFound},
		{name: "own ride", mutate: func(c *CreateCommand) { c.RiderID = "drv" }, want: ErrSelfRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := base
			tt.mutate(&cmd)
			_, err := f.svc.Create(context.Background(), cmd)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreate_OneActivePerRider(t *testing.T) {
	f := newFixture(t)
	f.drivers.goLive("drv-a", hebbal)
	f.drivers.goLive("drv-b", hebbal)

	f.request(t, "rdr", "drv-a")
	_, err := f.svc.Create(context.Background(), CreateCommand{
		RiderID: "rdr", DriverID: "drv-b",
		Pickup: hebbal, Destination: campus, PickupAddress: "Hebbal", DestinationAddress: "Campus",
	})
	assert.ErrorIs(t, err, types.ErrConflict)
}

func TestCreate_ReplacesStalePending(t *testing.T) {
	f := newFixture(t)
	f.drivers.goLive("drv-a", hebbal)
	f.drivers.goLive("drv-b", hebbal)
	old := f.request(t, "rdr", "drv-a")
	f.drivers.goOffline("drv-a")

	r := f.request(t, "rdr", "drv-b")
	assert.Equal(t, StatusPending, r.Status)
	got, _ := f.store.Get(context.Background(), old.ID)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, ReasonDriverOffline, got.CancelReason)
}

func TestAccept_IssuesOTPAndCascades(t *testing.T) {
	f := newFixture(t)
	f.drivers.goLive("drv-a", hebbal)
	f.drivers.goLive("drv-b", hebbal)
	r := f.request(t, "rdr", "drv-a")
	// A second pending request from the same rider, as left by an older client.
	other := Request{ID: "other", RiderID: "rdr", DriverID: "drv-b", Status: StatusPending, CreatedAt: baseNow}
	f.store.seed(other)

	got, err := f.svc.Accept(context.Background(), RespondCommand{RequestID: r.ID, DriverID: "drv-a"})
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, got.Status)
	assert.Empty(t, got.OTP, "the driver must not see the rider's otp")
	stored, _ := f.store.Get(context.Background(), r.ID)
	assert.Equal(t, "0427", stored.OTP)
	assert.Equal(t, StatusCancelled, f.store.status("other"))
	o, _ := f.store.Get(context.Background(), "other")
	assert.Equal(t, ReasonOtherAccepted, o.CancelReason)
}

func TestAccept_WrongDriverAndWrongState(t *testing.T) {
	f := newFixture(t)
	f.drivers.goLive("drv", hebbal)
	r := f.request(t, "rdr", "drv")

	_, err := f.svc.Accept(context.Background(), RespondCommand{RequestID: r.ID, DriverID: "intruder"})
	assert.ErrorIs(t, err, types.ErrForbidden)

	_, err = f.svc.Accept(context.Background(), RespondCommand{RequestID: r.ID, DriverID: "drv"})
	require.NoError(t, err)
	_, err = f.svc.Accept(context.Background(), RespondCommand{RequestID: r.ID, DriverID: "drv"})
	assert.ErrorIs(t, err, types.ErrInvalidState)
	_, err = f.svc.Reject(context.Background(), RespondCommand{RequestID: r.ID, DriverID: "drv"})
	assert.ErrorIs(t, err, types.ErrInvalidState)
}

func TestAccept_StaleDriverCancelsRequest(t *testing.T) {
	f := newFixture(t)
	f.drivers.goLive("drv", hebbal)
	r := f.request(t, "rdr", "drv")
	f.drivers.goOffline("drv")
	f.drivers.goLive("drv", hebbal) // new availability record

	_, err := f.svc.Accept(context.Background(), RespondCommand{RequestID: r.ID, DriverID: "drv"})
	assert.ErrorIs(t, err, types.ErrInvalidState)
	assert.Equal(t, StatusCancelled, f.store.status(r.ID))
}

func TestAccept_ConcurrentExactlyOneWinner(t *testing.T) {
	f := newFixture(t)
	f.drivers.goLive("drv", hebbal)
	r := f.request(t, "rdr", "drv")

	const n = 16
	var wg sync.WaitGroup
	var wins, lost atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Accept(context.Background(), RespondCommand{RequestID: r.ID, DriverID: "drv"})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, types.ErrInvalidState):
				lost.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(n-1), lost.Load())
}

func TestAccept_DriverAlreadyBusy(t *testing.T) {
	f := newFixture(t)
	f.drivers.goLive("drv", hebbal)
	f.accepted(t, "rdr-a", "drv")
	second := Request{ID: "second", RiderID: "rdr-b", DriverID: "drv", Status: StatusPending, CreatedAt: baseNow}
	f.store.seed(second)
	// Point the seeded request at the live availability so it is not treated as stale.
	a, _ := f.drivers.Active(context.Background(), "drv")
	f.store.rows["second"].AvailabilityID = a.ID

	_, err := f.svc.Accept(context.Background(), RespondCommand{RequestID: "second", DriverID: "drv"})
	assert.ErrorIs(t, err, types.ErrConflict)
}

func TestReject(t *testing.T) {
	f := newFixture(t)
	f.drivers.goLive("drv", hebbal)
	r := f.request(t, "rdr", "drv")

	got, err := f.svc.Respond(context.Background(), RespondCommand{RequestID: r.ID, DriverID: "drv", Action: ActionReject})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, got.Status)
	assert.Equal(t, 1, f.notifier.sends["rdr"])

	// Rider is free to request again.
	f.request(t, "rdr", "drv")

	_, err = f.svc.Respond(context.Background(), RespondCommand{RequestID: r.ID, DriverID: "drv", Action: "maybe"})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestVerifyOTP(t *testing.T) {
	f := newFixture(t)
	f.drivers.goLive("drv", hebbal)
	r := f.accepted(t, "rdr", "drv")
	ctx := context.Background()

	_, err := f.svc.VerifyOTP(ctx, VerifyOTPCommand{RequestID: r.ID, DriverID: "drv", OTP: "42"})
	assert.ErrorIs(t, err, ErrOTPFormat)
	_, err = f.svc.VerifyOTP(ctx, VerifyOTPCommand{RequestID: r.ID, DriverID: "drv", OTP: "1111"})
	assert.ErrorIs(t, err, ErrOTPMismatch)
	_, err = f.svc.VerifyOTP(ctx, VerifyOTPCommand{RequestID: r.ID, DriverID: "other", OTP: "0427"})
	assert.ErrorIs(t, err, types.ErrNotFound)

	got, err := f.svc.VerifyOTP(ctx, VerifyOTPCommand{RequestID: r.ID, DriverID: "drv", OTP: "0427"})
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, got.Status)
	assert.Empty(t, got.OTP)
	stored, _ := f.store.Get(ctx, r.ID)
	assert.Empty(t, stored.OTP, "otp must be consumed")

	_, err = f.svc.VerifyOTP(ctx, VerifyOTPCommand{RequestID: r.ID, DriverID: "drv", OTP: "0427"})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestVerifyOTP_LocksAfterRepeatedMismatches(t *testing.T) {
	f := newFixture(t)
	f.drivers.goLive("drv", hebbal)
	r := f.accepted(t, "rdr", "drv")
	ctx := context.Background()

	for i := 0; i < MaxOTPAttempts; i++ {
		_, err := f.svc.VerifyOTP(ctx, VerifyOTPCommand{RequestID: r.ID, DriverID: "drv", OTP: "9999"})
		require.ErrorIs(t, err, ErrOTPMismatch)
	}
	_, err := f.svc.VerifyOTP(ctx, VerifyOTPCommand{RequestID: r.ID, DriverID: "drv", OTP: "0427"})
	assert.ErrorIs(t, err, types.ErrInvalidState)
	assert.Equal(t, StatusAccepted, f.store.status(r.ID))

	_, err = f.svc.Cancel(ctx, CancelCommand{RequestID: r.ID, ActorID: "rdr", Actor: ActorRider})
	assert.NoError(t, err, "a locked request can still be cancelled")
}

func TestComplete_AppliesRiderRating(t *testing.T) {
	f := newFixture(t)
	f.drivers.goLive("drv", hebbal)
	r := f.accepted(t, "rdr", "drv")
	ctx := context.Background()

	_, err := f.svc.Complete(ctx, CompleteCommand{RequestID: r.ID, DriverID: "drv"})
	assert.ErrorIs(t, err, types.ErrInvalidState, "cannot complete before the OTP is verified")

	_, err = f.svc.VerifyOTP(ctx, VerifyOTPCommand{RequestID: r.ID, DriverID: "drv", OTP: "0427"})
	require.NoError(t, err)

	bad := 6
	_, err = f.svc.Complete(ctx, CompleteCommand{RequestID: r.ID, DriverID: "drv", RiderRating: &bad})
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	four := 4
	got, err := f.svc.Complete(ctx, CompleteCommand{RequestID: r.ID, DriverID: "drv", RiderRating: &four})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, []int{4}, f.users.ratings["rdr"])
	assert.Empty(t, f.users.ratings["drv"])
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("rider cancels pending", func(t *testing.T) {
		f := newFixture(t)
		f.drivers.goLive("drv", hebbal)
		r := f.request(t, "rdr", "drv")
		got, err := f.svc.Cancel(ctx, CancelCommand{RequestID: r.ID, ActorID: "rdr", Actor: ActorRider})
		require.NoError(t, err)
		assert.Equal(t, ReasonRiderCancel, got.CancelReason)
	})

	t.Run("driver cannot cancel pending", func(t *testing.T) {
		f := newFixture(t)
		f.drivers.goLive("drv", hebbal)
		r := f.request(t, "rdr", "drv")
		_, err := f.svc.Cancel(ctx, CancelCommand{RequestID: r.ID, ActorID: "drv", Actor: ActorDriver})
		assert.ErrorIs(t, err, types.ErrInvalidState)
	})

	t.Run("driver cancels accepted and clears otp", func(t *testing.T) {
		f := newFixture(t)
		f.drivers.goLive("drv", hebbal)
		r := f.accepted(t, "rdr", "drv")
		got, err := f.svc.Cancel(ctx, CancelCommand{RequestID: r.ID, ActorID: "drv", Actor: ActorDriver})
		require.NoError(t, err)
		assert.Equal(t, ReasonDriverCancel, got.CancelReason)
		stored, _ := f.store.Get(ctx, r.ID)
		assert.Empty(t, stored.OTP)
	})

	t.Run("started rides cannot be cancelled", func(t *testing.T) {
		f := newFixture(t)
		f.drivers.goLive("drv", hebbal)
		r := f.accepted(t, "rdr", "drv")
		_, err := f.svc.VerifyOTP(ctx, VerifyOTPCommand{RequestID: r.ID, DriverID: "drv", OTP: "0427"})
		require.NoError(t, err)
		_, err = f.svc.Cancel(ctx, CancelCommand{RequestID: r.ID, ActorID: "rdr", Actor: ActorRider})
		assert.ErrorIs(t, err, types.ErrInvalidState)
	})

	t.Run("stranger", func(t *testing.T) {
		f := newFixture(t)
		f.drivers.goLive("drv", hebbal)
		r := f.request(t, "rdr", "drv")
		_, err := f.svc.Cancel(ctx, CancelCommand{RequestID: r.ID, ActorID: "x", Actor: ActorRider})
		assert.ErrorIs(t, err, types.ErrForbidden)
	})
}

func TestRateDriver_Once(t *testing.T) {
	f := newFixture(t)
	f.drivers.goLive("drv", hebbal)
	r := f.accepted(t, "rdr", "drv")
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.RateDriver(ctx, RateDriverCommand{RequestID: r.ID, RiderID: "rdr", Rating: 5}), types.ErrInvalidState)

	_, err := f.svc.VerifyOTP(ctx, VerifyOTPCommand{RequestID: r.ID, DriverID: "drv", OTP: "0427"})
	require.NoError(t, err)
	_, err = f.svc.Complete(ctx, CompleteCommand{RequestID: r.ID, DriverID: "drv"})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.RateDriver(ctx, RateDriverCommand{RequestID: r.ID, RiderID: "rdr", Rating: 0}), types.ErrInvalidInput)
	assert.ErrorIs(t, f.svc.RateDriver(ctx, RateDriverCommand{RequestID: r.ID, RiderID: "drv", Rating: 5}), types.ErrForbidden)
	require.NoError(t, f.svc.RateDriver(ctx, RateDriverCommand{RequestID: r.ID, RiderID: "rdr", Rating: 5}))
	assert.ErrorIs(t, f.svc.RateDriver(ctx, RateDriverCommand{RequestID: r.ID, RiderID: "rdr", Rating: 3}), types.ErrConflict)
	assert.Equal(t, []int{5}, f.users.ratings["drv"])
}

func TestGet_Visibility(t *testing.T) {
	f := newFixture(t)
	f.drivers.goLive("drv", hebbal)
	r := f.accepted(t, "rdr", "drv")
	ctx := context.Background()

	rv, err := f.svc.Get(ctx, r.ID, "rdr")
	require.NoError(t, err)
	assert.Equal(t, "0427", rv.OTP)
	require.NotNil(t, rv.Counterpart)
	assert.Equal(t, "9000000000", rv.Counterpart.Phone, "contact revealed once accepted")

	dv, err := f.svc.Get(ctx, r.ID, "drv")
	require.NoError(t, err)
	assert.Empty(t, dv.OTP)

	_, err = f.svc.Get(ctx, r.ID, "stranger")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestActiveForRider_LazyReconcile(t *testing.T) {
	f := newFixture(t)
	f.drivers.goLive("drv", hebbal)
	r := f.request(t, "rdr", "drv")
	ctx := context.Background()

	v, err := f.svc.ActiveForRider(ctx, "rdr")
	require.NoError(t, err)
	assert.Equal(t, r.ID, v.ID)
	assert.Empty(t, v.Counterpart.Phone, "phone hidden while pending")

	f.drivers.goOffline("drv")
	_, err = f.svc.ActiveForRider(ctx, "rdr")
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Equal(t, StatusCancelled, f.store.status(r.ID))
}

func TestPendingAndActiveForDriver(t *testing.T) {
	f := newFixture(t)
	f.drivers.goLive("drv", hebbal)
	ctx := context.Background()
	a := f.request(t, "rdr-a", "drv")
	f.request(t, "rdr-b", "drv")

	pending, err := f.svc.PendingForDriver(ctx, "drv")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, a.ID, pending[0].ID, "oldest first")
	assert.Empty(t, pending[0].Counterpart.Phone)

	_, err = f.svc.ActiveForDriver(ctx, "drv")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = f.svc.Accept(ctx, RespondCommand{RequestID: a.ID, DriverID: "drv"})
	require.NoError(t, err)
	active, err := f.svc.ActiveForDriver(ctx, "drv")
	require.NoError(t, err)
	assert.Equal(t, a.ID, active.ID)
	assert.Empty(t, active.OTP)
}

func TestCancelPendingForDriver(t *testing.T) {
	f := newFixture(t)
	f.drivers.goLive("drv", hebbal)
	f.request(t, "rdr-a", "drv")
	f.request(t, "rdr-b", "drv")

	n, err := f.svc.CancelPendingForDriver(context.Background(), "drv")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	pending, _ := f.svc.PendingForDriver(context.Background(), "drv")
	assert.Empty(t, pending)
}

func TestRandomOTP_Format(t *testing.T) {
	for i := 0; i < 50; i++ {
		otp, err := RandomOTP{}.NewOTP()
		require.NoError(t, err)
		assert.True(t, validOTP(otp), otp)
	}
}
