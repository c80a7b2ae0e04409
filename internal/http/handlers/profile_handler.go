// README: Profile handlers: complete/update profile, statistics, public driver info, email confirmation.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"campuspool/internal/http/middleware"
	"campuspool/internal/modules/user"
	"campuspool/internal/types"
)

type ProfileService interface {
	UpsertProfile(ctx context.Context, cmd user.UpsertCommand) (*user.User, error)
	Get(ctx context.Context, id types.ID) (*user.User, error)
	Statistics(ctx context.Context, id types.ID) (*user.Stats, error)
	DriverInfo(ctx context.Context, id types.ID) (user.PublicProfile, error)
	ConfirmEmail(ctx context.Context, token string) error
}

type ProfileHandler struct {
	users ProfileService
}

func NewProfileHandler(svc ProfileService) *ProfileHandler {
	return &ProfileHandler{users: svc}
}

type profileReq struct {
	Role         string       `json:"role"`
	Name         string       `json:"name" binding:"required"`
	Email        string       `json:"email"`
	Phone        string       `json:"phone_number" binding:"required"`
	HomeAddress  string       `json:"home_address"`
	HomeLocation *types.Point `json:"home_location"`
	Vehicle      user.Vehicle `json:"vehicle"`
	DefaultSeats int          `json:"default_seats"`
	FCMToken     string       `json:"fcm_token"`
}

// Upsert takes the role from the token when it carries one; a body role that disagrees is
// rejected.
func (h *ProfileHandler) Upsert(c *gin.Context) {
	var req profileReq
	if !bindJSON(c, &req) {
		return
	}
	role := middleware.CallerRole(c)
	if role == "" {
		role = req.Role
	} else if req.Role != "" && req.Role != role {
		writeServiceError(c, user.ErrRoleMismatch)
		return
	}
	u, err := h.users.UpsertProfile(c.Request.Context(), user.UpsertCommand{
		UserID:       caller(c),
		Role:         user.Role(role),
		Name:         req.Name,
		Email:        req.Email,
		Phone:        req.Phone,
		HomeAddress:  req.HomeAddress,
		HomeLocation: req.HomeLocation,
		Vehicle:      req.Vehicle,
		DefaultSeats: req.DefaultSeats,
		FCMToken:     req.FCMToken,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, u)
}

func (h *ProfileHandler) Get(c *gin.Context) {
	u, err := h.users.Get(c.Request.Context(), caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{
		"profile":        u,
		"missing_fields": u.MissingFields(),
		"complete":       len(u.MissingFields()) == 0,
	})
}

func (h *ProfileHandler) Statistics(c *gin.Context) {
	st, err := h.users.Statistics(c.Request.Context(), caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (h *ProfileHandler) DriverInfo(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	p, err := h.users.DriverInfo(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}

// Confirm is the unauthenticated target of the email confirmation link.
func (h *ProfileHandler) Confirm(c *gin.Context) {
	if err := h.users.ConfirmEmail(c.Request.Context(), c.Param("token")); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"message": "Email confirmed"})
}
