package integration

import (
	"encoding/json"
	"net/http"
	"testing"
)

func TestRegisterLoginAndSessionListing(t *testing.T) {
	baseURL, client, closeFn := newAuthTestServer(t)
	defer closeFn()

	resp, env := doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/local/register", map[string]string{
		"email":     "Ada@Example.com",
		"name":      "Ada",
		"password":  "correct horse battery staple",
		"device_id": "laptop",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, want 201", resp.StatusCode)
	}
	pair := pairFrom(t, env)

	if cookieValue(t, client, baseURL, "csrf_token") == "" {
		t.Fatal("expected csrf_token cookie after register")
	}
	if cookieValue(t, client, baseURL+"/api/v1/auth", "refresh_token") == "" {
		t.Fatal("expected refresh_token cookie scoped to the auth routes")
	}

	resp, env = doJSON(t, client, http.MethodGet, baseURL+"/api/v1/me", nil, map[string]string{
		"Authorization": "Bearer " + pair.AccessToken,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d, want 200", resp.StatusCode)
	}
	var me struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(env.Data, &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.Email != "ada@example.com" {
		t.Fatalf("email = %q, want normalized ada@example.com", me.Email)
	}

	resp, env = doJSON(t, client, http.MethodGet, baseURL+"/api/v1/me/sessions", nil, map[string]string{
		"Authorization": "Bearer " + pair.AccessToken,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sessions status = %d, want 200", resp.StatusCode)
	}
	var sessions []struct {
		TokenID   string `json:"token_id"`
		DeviceID  string `json:"device_id"`
		IsCurrent bool   `json:"is_current"`
	}
	if err := json.Unmarshal(env.Data, &sessions); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	if !sessions[0].IsCurrent {
		t.Fatal("the only session should be marked current")
	}
	if sessions[0].DeviceID != "laptop" {
		t.Fatalf("device_id = %q, want laptop", sessions[0].DeviceID)
	}

	resp, env = doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/local/register", map[string]string{
		"email":    "ada@example.com",
		"name":     "Ada Again",
		"password": "another password entirely",
	}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register status = %d, want 409", resp.StatusCode)
	}
	if env.Error == nil || env.Error.Code != "CONFLICT" {
		t.Fatalf("duplicate register error = %+v, want CONFLICT", env.Error)
	}

	resp, _ = doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/local/login", map[string]string{
		"email":    "ada@example.com",
		"password": "wrong password",
	}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad-password login status = %d, want 401", resp.StatusCode)
	}
}

func TestRefreshRotationMakesOldTokenTerminal(t *testing.T) {
	baseURL, client, closeFn := newAuthTestServer(t)
	defer closeFn()

	resp, env := doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/local/register", map[string]string{
		"email":    "rotate@example.com",
		"name":     "Rotate",
		"password": "correct horse battery staple",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, want 201", resp.StatusCode)
	}
	first := pairFrom(t, env)

	// Cookie-based refresh needs the double-submit header; without it the
	// request must be rejected before any token handling happens.
	resp, _ = doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/refresh", nil, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("refresh without csrf header status = %d, want 403", resp.StatusCode)
	}

	csrf := cookieValue(t, client, baseURL, "csrf_token")
	resp, env = doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/refresh", nil, map[string]string{
		"X-CSRF-Token": csrf,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d, want 200", resp.StatusCode)
	}
	second := pairFrom(t, env)
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh must rotate the refresh token")
	}
	if second.AccessToken == first.AccessToken {
		t.Fatal("refresh must mint a new access token")
	}

	// Replay the consumed token from a cookie-less client. The jar holds
	// the rotated cookie, so a bare request is the only way to present the
	// old one. The bearer header keeps it on the cookie-free CSRF path.
	bare := &http.Client{}
	resp, _ = doJSON(t, bare, http.MethodPost, baseURL+"/api/v1/auth/refresh", map[string]string{
		"refresh_token": first.RefreshToken,
	}, map[string]string{
		"Authorization": "Bearer " + second.AccessToken,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("replayed refresh status = %d, want 401", resp.StatusCode)
	}

	// The rotated pair keeps working.
	resp, _ = doJSON(t, client, http.MethodGet, baseURL+"/api/v1/me", nil, map[string]string{
		"Authorization": "Bearer " + second.AccessToken,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me with rotated access token status = %d, want 200", resp.StatusCode)
	}
}

func TestLogoutClearsSessionAndBlacklistsAccess(t *testing.T) {
	baseURL, client, closeFn := newAuthTestServer(t)
	defer closeFn()

	resp, env := doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/local/register", map[string]string{
		"email":    "leave@example.com",
		"name":     "Leave",
		"password": "correct horse battery staple",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, want 201", resp.StatusCode)
	}
	pair := pairFrom(t, env)
	csrf := cookieValue(t, client, baseURL, "csrf_token")

	resp, _ = doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/logout", nil, map[string]string{
		"Authorization": "Bearer " + pair.AccessToken,
		"X-CSRF-Token":  csrf,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d, want 200", resp.StatusCode)
	}

	// Logout is idempotent: repeating it with the now-blacklisted access
	// token still acknowledges success.
	resp, _ = doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/logout", map[string]string{
		"refresh_token": pair.RefreshToken,
	}, map[string]string{
		"Authorization": "Bearer " + pair.AccessToken,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("repeated logout status = %d, want 200", resp.StatusCode)
	}

	resp, _ = doJSON(t, client, http.MethodGet, baseURL+"/api/v1/me", nil, map[string]string{
		"Authorization": "Bearer " + pair.AccessToken,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me after logout status = %d, want 401", resp.StatusCode)
	}

	bare := &http.Client{}
	resp, _ = doJSON(t, bare, http.MethodPost, baseURL+"/api/v1/auth/refresh", map[string]string{
		"refresh_token": pair.RefreshToken,
	}, map[string]string{
		"Authorization": "Bearer " + pair.AccessToken,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh after logout status = %d, want 401", resp.StatusCode)
	}
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	baseURL, client, closeFn := newAuthTestServer(t)
	defer closeFn()

	resp, env := doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/local/register", map[string]string{
		"email":     "everywhere@example.com",
		"name":      "Everywhere",
		"password":  "correct horse battery staple",
		"device_id": "laptop",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, want 201", resp.StatusCode)
	}
	laptop := pairFrom(t, env)

	resp, env = doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/local/login", map[string]string{
		"email":     "everywhere@example.com",
		"password":  "correct horse battery staple",
		"device_id": "phone",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second login status = %d, want 200", resp.StatusCode)
	}
	phone := pairFrom(t, env)

	resp, env = doJSON(t, client, http.MethodGet, baseURL+"/api/v1/me/sessions", nil, map[string]string{
		"Authorization": "Bearer " + phone.AccessToken,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sessions status = %d, want 200", resp.StatusCode)
	}
	var sessions []struct {
		IsCurrent bool `json:"is_current"`
	}
	if err := json.Unmarshal(env.Data, &sessions); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	current := 0
	for _, s := range sessions {
		if s.IsCurrent {
			current++
		}
	}
	if current != 1 {
		t.Fatalf("got %d current sessions, want exactly 1", current)
	}

	csrf := cookieValue(t, client, baseURL, "csrf_token")
	resp, env = doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/logout-all", nil, map[string]string{
		"Authorization": "Bearer " + phone.AccessToken,
		"X-CSRF-Token":  csrf,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout-all status = %d, want 200", resp.StatusCode)
	}
	var result struct {
		SessionsRevoked int `json:"sessions_revoked"`
	}
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("decode logout-all result: %v", err)
	}
	if result.SessionsRevoked != 2 {
		t.Fatalf("sessions_revoked = %d, want 2", result.SessionsRevoked)
	}

	for name, token := range map[string]string{"laptop": laptop.AccessToken, "phone": phone.AccessToken} {
		resp, _ = doJSON(t, client, http.MethodGet, baseURL+"/api/v1/me", nil, map[string]string{
			"Authorization": "Bearer " + token,
		})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("me with %s access token after logout-all status = %d, want 401", name, resp.StatusCode)
		}
	}

	bare := &http.Client{}
	for name, token := range map[string]string{"laptop": laptop.RefreshToken, "phone": phone.RefreshToken} {
		resp, _ = doJSON(t, bare, http.MethodPost, baseURL+"/api/v1/auth/refresh", map[string]string{
			"refresh_token": token,
		}, map[string]string{
			"Authorization": "Bearer " + phone.AccessToken,
		})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("refresh with %s token after logout-all status = %d, want 401", name, resp.StatusCode)
		}
	}
}
