package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/example/authgate/internal/store"
)

// stubOAuthProvider scripts the three provider calls.
type stubOAuthProvider struct {
	exchangeErr error
	info        *OAuthUserInfo
	infoErr     error
}

func (p *stubOAuthProvider) AuthCodeURL(state string) string {
	return "https://provider.example.com/authorize?state=" + url.QueryEscape(state)
}

func (p *stubOAuthProvider) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	return &oauth2.Token{AccessToken: "provider-token-" + code}, nil
}

func (p *stubOAuthProvider) FetchUserInfo(context.Context, *oauth2.Token) (*OAuthUserInfo, error) {
	if p.infoErr != nil {
		return nil, p.infoErr
	}
	return p.info, nil
}

func newTestOAuthService(provider OAuthProvider) (*OAuthService, *fakeUserRepository, *store.InMemorySessionStore) {
	repo := newFakeUserRepository()
	sessions := store.NewInMemorySessionStore()
	svc := NewOAuthService(sessions, repo, 10*time.Minute)
	svc.RegisterProvider("stub", provider)
	return svc, repo, sessions
}

func stateFromLoginURL(t *testing.T, loginURL string) string {
	t.Helper()
	u, err := url.Parse(loginURL)
	if err != nil {
		t.Fatalf("parse login url: %v", err)
	}
	state := u.Query().Get("state")
	if state == "" {
		t.Fatalf("no state in login url %q", loginURL)
	}
	return state
}

func TestOAuthCallbackCreatesUser(t *testing.T) {
	ctx := context.Background()
	provider := &stubOAuthProvider{info: &OAuthUserInfo{
		ProviderUserID: "ext-1",
		Email:          "Dana@Example.com",
		Name:           "Dana",
		EmailVerified:  true,
	}}
	svc, repo, _ := newTestOAuthService(provider)

	loginURL, err := svc.LoginURL(ctx, "stub")
	if err != nil {
		t.Fatalf("login url: %v", err)
	}
	state := stateFromLoginURL(t, loginURL)

	principal, err := svc.HandleCallback(ctx, "stub", state, "code-1")
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	user, err := repo.FindByID(principal.UserID)
	if err != nil {
		t.Fatalf("created user: %v", err)
	}
	if user.Email != "dana@example.com" {
		t.Fatalf("email = %q, want normalized", user.Email)
	}
	if user.Provider != "stub" || user.ProviderUserID == nil || *user.ProviderUserID != "ext-1" {
		t.Fatalf("provider identity not recorded: %+v", user)
	}
}

func TestOAuthCallbackLinksExistingEmail(t *testing.T) {
	ctx := context.Background()
	provider := &stubOAuthProvider{info: &OAuthUserInfo{
		ProviderUserID: "ext-2",
		Email:          "alice@example.com",
		Name:           "Alice",
		EmailVerified:  true,
	}}
	svc, repo, _ := newTestOAuthService(provider)

	// Local account with the same verified email already exists.
	local := NewLocalIdentityService(repo)
	registered, err := local.Register(ctx, "alice@example.com", "Alice", "a long enough password")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	loginURL, _ := svc.LoginURL(ctx, "stub")
	principal, err := svc.HandleCallback(ctx, "stub", stateFromLoginURL(t, loginURL), "code-2")
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if principal.UserID != registered.UserID {
		t.Fatalf("linked to user %d, want %d", principal.UserID, registered.UserID)
	}

	// A second callback resolves via the provider identity directly.
	loginURL, _ = svc.LoginURL(ctx, "stub")
	again, err := svc.HandleCallback(ctx, "stub", stateFromLoginURL(t, loginURL), "code-3")
	if err != nil {
		t.Fatalf("second callback: %v", err)
	}
	if again.UserID != registered.UserID {
		t.Fatalf("second callback user %d, want %d", again.UserID, registered.UserID)
	}
}

func TestOAuthStateIsSingleUse(t *testing.T) {
	ctx := context.Background()
	provider := &stubOAuthProvider{info: &OAuthUserInfo{
		ProviderUserID: "ext-3", Email: "e@example.com", Name: "E", EmailVerified: true,
	}}
	svc, _, _ := newTestOAuthService(provider)

	loginURL, _ := svc.LoginURL(ctx, "stub")
	state := stateFromLoginURL(t, loginURL)

	if _, err := svc.HandleCallback(ctx, "stub", state, "code"); err != nil {
		t.Fatalf("first callback: %v", err)
	}
	if _, err := svc.HandleCallback(ctx, "stub", state, "code"); !errors.Is(err, ErrOAuthStateInvalid) {
		t.Fatalf("replayed state err = %v, want ErrOAuthStateInvalid", err)
	}
	if _, err := svc.HandleCallback(ctx, "stub", "forged-state", "code"); !errors.Is(err, ErrOAuthStateInvalid) {
		t.Fatalf("forged state err = %v, want ErrOAuthStateInvalid", err)
	}
}

func TestOAuthStateBoundToProvider(t *testing.T) {
	ctx := context.Background()
	provider := &stubOAuthProvider{info: &OAuthUserInfo{
		ProviderUserID: "ext-4", Email: "f@example.com", Name: "F", EmailVerified: true,
	}}
	svc, _, _ := newTestOAuthService(provider)
	svc.RegisterProvider("other", provider)

	loginURL, _ := svc.LoginURL(ctx, "stub")
	state := stateFromLoginURL(t, loginURL)

	if _, err := svc.HandleCallback(ctx, "other", state, "code"); !errors.Is(err, ErrOAuthStateInvalid) {
		t.Fatalf("cross-provider state err = %v, want ErrOAuthStateInvalid", err)
	}
}

func TestOAuthCallbackRejectsUnverifiedEmail(t *testing.T) {
	ctx := context.Background()
	provider := &stubOAuthProvider{info: &OAuthUserInfo{
		ProviderUserID: "ext-5", Email: "g@example.com", Name: "G", EmailVerified: false,
	}}
	svc, _, _ := newTestOAuthService(provider)

	loginURL, _ := svc.LoginURL(ctx, "stub")
	_, err := svc.HandleCallback(ctx, "stub", stateFromLoginURL(t, loginURL), "code")
	if err == nil || !strings.Contains(err.Error(), "not verified") {
		t.Fatalf("unverified email err = %v", err)
	}
}

func TestProviderNamesStableOrder(t *testing.T) {
	provider := &stubOAuthProvider{}
	svc, _, _ := newTestOAuthService(provider)
	svc.RegisterProvider("aaa", provider)

	names := svc.ProviderNames()
	if len(names) != 2 || names[0] != "aaa" || names[1] != "stub" {
		t.Fatalf("names = %v", names)
	}
}

func TestClassifyOAuthError(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "other"},
		{context.Canceled, "context_canceled"},
		{context.DeadlineExceeded, "timeout"},
		{ErrOAuthStateInvalid, "state_invalid"},
		{fmt.Errorf("userinfo status: 502"), "userinfo_status"},
		{fmt.Errorf("missing required userinfo fields"), "invalid_userinfo"},
		{fmt.Errorf("oauth2: cannot fetch token"), "oauth2_exchange"},
		{errors.New("boom"), "other"},
	}
	for _, tc := range cases {
		if got := classifyOAuthError(tc.err); got != tc.want {
			t.Fatalf("classifyOAuthError(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
