package handler

import (
	"net/http"
	"time"

	"github.com/example/authgate/internal/http/middleware"
	"github.com/example/authgate/internal/http/response"
	"github.com/example/authgate/internal/service"
)

type UserHandler struct {
	sessions *service.SessionManager
	identity *service.LocalIdentityService
}

func NewUserHandler(sessions *service.SessionManager, identity *service.LocalIdentityService) *UserHandler {
	return &UserHandler{sessions: sessions, identity: identity}
}

type sessionView struct {
	TokenID   string    `json:"token_id"`
	DeviceID  string    `json:"device_id,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	IP        string    `json:"ip,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IsCurrent bool      `json:"is_current"`
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, r)
		return
	}
	userID, err := claims.UserID()
	if err != nil {
		response.Unauthorized(w, r)
		return
	}
	user, err := h.identity.GetUser(userID)
	if err != nil {
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "user not found", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, user)
}

func (h *UserHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, r)
		return
	}
	userID, err := claims.UserID()
	if err != nil {
		response.Unauthorized(w, r)
		return
	}
	records, err := h.sessions.ListSessions(r.Context(), userID)
	if err != nil {
		response.StoreUnavailable(w, r)
		return
	}
	views := make([]sessionView, 0, len(records))
	for _, rec := range records {
		views = append(views, sessionView{
			TokenID:   rec.TokenID,
			DeviceID:  rec.DeviceID,
			UserAgent: rec.UserAgent,
			IP:        rec.IP,
			IssuedAt:  rec.IssuedAt,
			ExpiresAt: rec.ExpiresAt,
			// The access token shares the session jti, so the current
			// session is the one matching the presented token id.
			IsCurrent: rec.TokenID == claims.ID,
		})
	}
	response.JSON(w, r, http.StatusOK, views)
}
