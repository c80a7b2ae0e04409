package handlers_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"campuspool/internal/http/handlers"
	httpmiddleware "campuspool/internal/http/middleware"
	"campuspool/internal/infra"
	"campuspool/internal/modules/prebook"
	"campuspool/internal/modules/user"
	"campuspool/internal/types"
)

type stubProfiles struct {
	upserted user.UpsertCommand
	token    string
}

func (s *stubProfiles) UpsertProfile(_ context.Context, cmd user.UpsertCommand) (*user.User, error) {
	s.upserted = cmd
	return &user.User{ID: cmd.UserID, Role: cmd.Role, Name: cmd.Name}, nil
}

func (s *stubProfiles) Get(_ context.Context, id types.ID) (*user.User, error) {
	return &user.User{ID: id, Role: user.RoleDriver}, nil
}

func (s *stubProfiles) Statistics(context.Context, types.ID) (*user.Stats, error) {
	return &user.Stats{}, nil
}

func (s *stubProfiles) DriverInfo(_ context.Context, id types.ID) (user.PublicProfile, error) {
	return user.PublicProfile{ID: id}, nil
}

func (s *stubProfiles) ConfirmEmail(_ context.Context, token string) error {
	s.token = token
	return nil
}

func profileRouter(uid, role string, svc *stubProfiles) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := handlers.NewProfileHandler(svc)
	r.GET("/profile/confirm/:token", h.Confirm)
	api := r.Group("", httpmiddleware.Auth(&stubTokenVerifier{id: &infra.Identity{UID: uid, Role: role}}))
	api.PUT("/profile", h.Upsert)
	api.GET("/profile", h.Get)
	return r
}

func TestProfileUpsert_RoleFromToken(t *testing.T) {
	svc := &stubProfiles{}
	r := profileRouter("u1", "driver", svc)
	w := doRequest(r, http.MethodPut, "/profile", map[string]any{"name": "Asha", "phone_number": "9876543210"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if svc.upserted.Role != user.RoleDriver || svc.upserted.UserID != "u1" {
		t.Errorf("unexpected command %+v", svc.upserted)
	}
}

func TestProfileUpsert_RoleMismatch(t *testing.T) {
	r := profileRouter("u1", "driver", &stubProfiles{})
	w := doRequest(r, http.MethodPut, "/profile", map[string]any{"role": "rider", "name": "Asha", "phone_number": "9876543210"})
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestProfileGet_ReportsMissingFields(t *testing.T) {
	w := doRequest(profileRouter("u1", "driver", &stubProfiles{}), http.MethodGet, "/profile", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !bytesContains(w.Body.String(), `"complete":false`) {
		t.Errorf("driver without phone or vehicle should be incomplete: %s", w.Body.String())
	}
}

func TestProfileConfirm_NoAuth(t *testing.T) {
	svc := &stubProfiles{}
	r := profileRouter("", "", svc)
	req := newUnauthenticated(http.MethodGet, "/profile/confirm/abc")
	w := serve(r, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if svc.token != "abc" {
		t.Errorf("expected token abc, got %q", svc.token)
	}
}

type stubPreBook struct {
	isDriver bool
	acceptBy types.ID
}

func (s *stubPreBook) Create(_ context.Context, cmd prebook.CreateCommand) (*prebook.Booking, error) {
	return &prebook.Booking{ID: "pb1", RiderID: cmd.RiderID, RequestedAt: cmd.RequestedAt}, nil
}

func (s *stubPreBook) Accept(_ context.Context, id, driverID types.ID) (*prebook.Booking, error) {
	s.acceptBy = driverID
	return &prebook.Booking{ID: id, DriverID: driverID, Status: prebook.StatusMatched}, nil
}

func (s *stubPreBook) Cancel(_ context.Context, id, _ types.ID) (*prebook.Booking, error) {
	return &prebook.Booking{ID: id}, nil
}

func (s *stubPreBook) DriverCancel(_ context.Context, id, _ types.ID) (*prebook.Booking, error) {
	return &prebook.Booking{ID: id}, nil
}

func (s *stubPreBook) Get(_ context.Context, id, _ types.ID, callerIsDriver bool) (*prebook.Booking, error) {
	s.isDriver = callerIsDriver
	return &prebook.Booking{ID: id}, nil
}

func (s *stubPreBook) ListForRider(context.Context, types.ID) ([]prebook.Booking, error) {
	return nil, nil
}

func (s *stubPreBook) ListMatchedForDriver(context.Context, types.ID) ([]prebook.Booking, error) {
	return nil, nil
}

func preBookRouter(uid, role string, svc *stubPreBook) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(httpmiddleware.Auth(&stubTokenVerifier{id: &infra.Identity{UID: uid, Role: role}}))
	h := handlers.NewPreBookHandler(svc, stubNearby{})
	r.POST("/prebook", h.Create)
	r.GET("/prebook/mine", h.Mine)
	r.GET("/prebook/:id", h.Get)
	r.POST("/prebook/:id/accept", h.Accept)
	return r
}

func TestPreBook_CreateParsesTime(t *testing.T) {
	at := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	w := doRequest(preBookRouter("r1", "rider", &stubPreBook{}), http.MethodPost, "/prebook", map[string]any{
		"pickup_location":      []float64{77.59, 13.02},
		"destination_location": []float64{77.51, 13.13},
		"pickup_address":       "Hebbal",
		"destination_address":  "Campus",
		"requested_datetime":   at.Format(time.RFC3339),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if !bytesContains(w.Body.String(), at.Format(time.RFC3339)) {
		t.Errorf("requested time not echoed: %s", w.Body.String())
	}

	w = doRequest(preBookRouter("r1", "rider", &stubPreBook{}), http.MethodPost, "/prebook", map[string]any{
		"pickup_location":      []float64{77.59, 13.02},
		"destination_location": []float64{77.51, 13.13},
		"pickup_address":       "Hebbal",
		"destination_address":  "Campus",
		"requested_datetime":   "tomorrow",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad time: expected 400, got %d", w.Code)
	}
}

func TestPreBook_GetPassesDriverFlag(t *testing.T) {
	svc := &stubPreBook{}
	doRequest(preBookRouter("d1", "driver", svc), http.MethodGet, "/prebook/pb1", nil)
	if !svc.isDriver {
		t.Error("expected driver flag")
	}
	doRequest(preBookRouter("r1", "rider", svc), http.MethodGet, "/prebook/pb1", nil)
	if svc.isDriver {
		t.Error("expected rider flag")
	}
}

func TestPreBook_AcceptAndEmptyList(t *testing.T) {
	svc := &stubPreBook{}
	r := preBookRouter("d1", "driver", svc)
	if w := doRequest(r, http.MethodPost, "/prebook/pb1/accept", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if svc.acceptBy != "d1" {
		t.Errorf("expected d1, got %q", svc.acceptBy)
	}
	w := doRequest(r, http.MethodGet, "/prebook/mine", nil)
	if !bytesContains(w.Body.String(), `"prebookings":[]`) {
		t.Errorf("expected empty array, got %s", w.Body.String())
	}
}
