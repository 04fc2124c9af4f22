package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/authgate/internal/http/middleware"
	"github.com/example/authgate/internal/http/response"
	"github.com/example/authgate/internal/observability"
	"github.com/example/authgate/internal/security"
	"github.com/example/authgate/internal/service"
)

type AuthHandler struct {
	sessions     *service.SessionManager
	identity     *service.LocalIdentityService
	oauth        *service.OAuthService
	cookieSecure bool
}

func NewAuthHandler(sessions *service.SessionManager, identity *service.LocalIdentityService, oauth *service.OAuthService, cookieSecure bool) *AuthHandler {
	return &AuthHandler{sessions: sessions, identity: identity, oauth: oauth, cookieSecure: cookieSecure}
}

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	DeviceID string `json:"device_id"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	DeviceID string `json:"device_id"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	principal, err := h.identity.Register(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrEmailTaken) {
			response.Error(w, r, http.StatusConflict, "CONFLICT", "email already registered", nil)
			return
		}
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	principal.DeviceID = req.DeviceID
	h.issueAndRespond(w, r, *principal, "local", http.StatusCreated)
}

func (h *AuthHandler) LocalLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	principal, err := h.identity.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			observability.RecordAuthLogin("local", "invalid_credentials")
			observability.Audit(r, "login_failed", "provider", "local")
			response.Unauthorized(w, r)
			return
		}
		observability.RecordAuthLogin("local", "error")
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "login failed", nil)
		return
	}
	principal.DeviceID = req.DeviceID
	h.issueAndRespond(w, r, *principal, "local", http.StatusOK)
}

// OAuthLogin redirects the browser to the provider consent page, with CSRF
// state parked in the store.
func (h *AuthHandler) OAuthLogin(provider string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		url, err := h.oauth.LoginURL(r.Context(), provider)
		if err != nil {
			if errors.Is(err, service.ErrStoreUnavailable) {
				response.StoreUnavailable(w, r)
				return
			}
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "oauth provider not configured", nil)
			return
		}
		http.Redirect(w, r, url, http.StatusTemporaryRedirect)
	}
}

func (h *AuthHandler) OAuthCallback(provider string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := r.URL.Query().Get("state")
		code := r.URL.Query().Get("code")
		if state == "" || code == "" {
			response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "missing state or code", nil)
			return
		}
		principal, err := h.oauth.HandleCallback(r.Context(), provider, state, code)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrOAuthStateInvalid):
				observability.RecordAuthLogin(provider, "state_invalid")
				response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "oauth state invalid or expired", nil)
			case errors.Is(err, service.ErrStoreUnavailable):
				observability.RecordAuthLogin(provider, "store_error")
				response.StoreUnavailable(w, r)
			default:
				observability.RecordAuthLogin(provider, "failure")
				observability.Audit(r, "oauth_callback_failed", "provider", provider)
				response.Error(w, r, http.StatusBadGateway, "OAUTH_FAILED", "oauth login failed", nil)
			}
			return
		}
		h.issueAndRespond(w, r, *principal, provider, http.StatusOK)
	}
}

// Refresh rotates the presented refresh token. The old token is terminal
// after this call no matter where it came from.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw := security.GetCookie(r, "refresh_token")
	if raw == "" {
		var req refreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			raw = req.RefreshToken
		}
	}
	if raw == "" {
		observability.RecordAuthRefresh("missing")
		response.Unauthorized(w, r)
		return
	}

	pair, principal, err := h.sessions.Renew(r.Context(), raw, r.UserAgent(), clientIP(r))
	if err != nil {
		if errors.Is(err, service.ErrStoreUnavailable) {
			observability.RecordAuthRefresh("store_error")
			response.StoreUnavailable(w, r)
			return
		}
		observability.RecordAuthRefresh(refreshOutcome(err))
		observability.Audit(r, "refresh_rejected", "reason", refreshOutcome(err))
		response.Unauthorized(w, r)
		return
	}
	observability.RecordAuthRefresh("success")
	observability.Audit(r, "token_refreshed", "user_id", principal.UserID)
	h.respondWithPair(w, r, pair, http.StatusOK)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	refresh := security.GetCookie(r, "refresh_token")
	if refresh == "" {
		var req logoutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			refresh = req.RefreshToken
		}
	}
	access := middleware.AccessTokenFromContext(r.Context())

	if err := h.sessions.Logout(r.Context(), access, refresh); err != nil {
		observability.RecordAuthLogout("single", "store_error")
		response.StoreUnavailable(w, r)
		return
	}
	observability.RecordAuthLogout("single", "success")
	if claims, ok := middleware.ClaimsFromContext(r.Context()); ok {
		observability.Audit(r, "logout", "user_id", claims.Subject)
	}
	h.clearCookies(w)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
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
	revoked, err := h.sessions.LogoutAll(r.Context(), userID)
	if err != nil {
		observability.RecordAuthLogout("all", "store_error")
		response.StoreUnavailable(w, r)
		return
	}
	observability.RecordAuthLogout("all", "success")
	observability.Audit(r, "logout_all", "user_id", userID, "revoked", revoked)
	h.clearCookies(w)
	response.JSON(w, r, http.StatusOK, map[string]any{"status": "logged_out", "sessions_revoked": revoked})
}

func (h *AuthHandler) issueAndRespond(w http.ResponseWriter, r *http.Request, principal service.Principal, provider string, status int) {
	pair, err := h.sessions.Login(r.Context(), principal, r.UserAgent(), clientIP(r))
	if err != nil {
		if errors.Is(err, service.ErrStoreUnavailable) {
			observability.RecordAuthLogin(provider, "store_error")
			response.StoreUnavailable(w, r)
			return
		}
		observability.RecordAuthLogin(provider, "error")
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "login failed", nil)
		return
	}
	observability.RecordAuthLogin(provider, "success")
	observability.Audit(r, "login", "provider", provider, "user_id", principal.UserID)
	h.respondWithPair(w, r, pair, status)
}

func (h *AuthHandler) respondWithPair(w http.ResponseWriter, r *http.Request, pair *service.TokenPair, status int) {
	accessMaxAge := int(h.sessions.AccessTokenTTL().Seconds())
	refreshMaxAge := int(h.sessions.RefreshTokenTTL().Seconds())
	security.SetAuthCookie(w, "access_token", pair.AccessToken, "/", accessMaxAge, h.cookieSecure)
	security.SetAuthCookie(w, "refresh_token", pair.RefreshToken, "/api/v1/auth", refreshMaxAge, h.cookieSecure)
	if csrf, err := security.NewStateToken(); err == nil {
		security.SetCSRFCookie(w, csrf, refreshMaxAge, h.cookieSecure)
	}
	response.JSON(w, r, status, pair)
}

func (h *AuthHandler) clearCookies(w http.ResponseWriter) {
	security.ClearAuthCookie(w, "access_token", "/")
	security.ClearAuthCookie(w, "refresh_token", "/api/v1/auth")
	security.ClearAuthCookie(w, "csrf_token", "/")
}

func refreshOutcome(err error) string {
	switch {
	case errors.Is(err, service.ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, service.ErrExpiredToken):
		return "expired"
	default:
		return "invalid"
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
