package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/example/authgate/internal/domain"
	"github.com/example/authgate/internal/repository"
	"github.com/example/authgate/internal/security"
	"github.com/example/authgate/internal/store"
)

var ErrOAuthStateInvalid = errors.New("oauth state invalid or expired")

// OAuthService drives the SSO login path for all configured providers. CSRF
// state lives in the shared session store under its own prefix; a state is
// single-use.
type OAuthService struct {
	providers map[string]OAuthProvider
	states    store.SessionStore
	users     repository.UserRepository
	stateTTL  time.Duration
}

func NewOAuthService(states store.SessionStore, users repository.UserRepository, stateTTL time.Duration) *OAuthService {
	if stateTTL <= 0 {
		stateTTL = 10 * time.Minute
	}
	return &OAuthService{
		providers: make(map[string]OAuthProvider),
		states:    states,
		users:     users,
		stateTTL:  stateTTL,
	}
}

func (s *OAuthService) RegisterProvider(name string, provider OAuthProvider) {
	s.providers[name] = provider
}

func (s *OAuthService) HasProvider(name string) bool {
	_, ok := s.providers[name]
	return ok
}

// ProviderNames returns the configured providers in stable order.
func (s *OAuthService) ProviderNames() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoginURL stores a fresh CSRF state and returns the provider consent URL.
func (s *OAuthService) LoginURL(ctx context.Context, providerName string) (string, error) {
	provider, ok := s.providers[providerName]
	if !ok {
		return "", fmt.Errorf("unknown oauth provider: %s", providerName)
	}
	state, err := security.NewStateToken()
	if err != nil {
		return "", err
	}
	if err := s.states.PutOAuthState(ctx, state, providerName, s.stateTTL); err != nil {
		return "", ErrStoreUnavailable
	}
	return provider.AuthCodeURL(state), nil
}

// HandleCallback consumes the state, exchanges the code and resolves the
// external identity to a local user, creating or linking one as needed.
func (s *OAuthService) HandleCallback(ctx context.Context, providerName, state, code string) (_ *Principal, err error) {
	defer func() {
		if err != nil {
			slog.DebugContext(ctx, "oauth callback failed",
				"provider", providerName, "class", classifyOAuthError(err))
		}
	}()
	provider, ok := s.providers[providerName]
	if !ok {
		return nil, fmt.Errorf("unknown oauth provider: %s", providerName)
	}
	boundProvider, err := s.states.ConsumeOAuthState(ctx, state)
	if err != nil {
		if errors.Is(err, store.ErrStateNotFound) {
			return nil, ErrOAuthStateInvalid
		}
		return nil, ErrStoreUnavailable
	}
	if boundProvider != providerName {
		return nil, ErrOAuthStateInvalid
	}

	token, err := provider.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	info, err := provider.FetchUserInfo(ctx, token)
	if err != nil {
		return nil, err
	}
	if !info.EmailVerified {
		return nil, fmt.Errorf("%s email not verified", providerName)
	}

	user, err := s.upsertUser(providerName, info)
	if err != nil {
		return nil, err
	}
	return principalFor(user), nil
}

func (s *OAuthService) upsertUser(providerName string, info *OAuthUserInfo) (*domain.User, error) {
	user, err := s.users.FindByProviderIdentity(providerName, info.ProviderUserID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}

	// Same verified email from a different path links to the existing
	// account rather than creating a duplicate.
	user, err = s.users.FindByEmail(normalizeEmail(info.Email))
	if err == nil {
		user.Provider = providerName
		user.ProviderUserID = &info.ProviderUserID
		if err := s.users.Update(user); err != nil {
			return nil, err
		}
		return user, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}

	user = &domain.User{
		Email:          normalizeEmail(info.Email),
		Name:           info.Name,
		Provider:       providerName,
		ProviderUserID: &info.ProviderUserID,
		Roles:          "user",
	}
	if err := s.users.Create(user); err != nil {
		return nil, err
	}
	return user, nil
}

func classifyOAuthError(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "context_canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrOAuthStateInvalid):
		return "state_invalid"
	case err != nil && strings.Contains(err.Error(), "userinfo status:"):
		return "userinfo_status"
	case err != nil && strings.Contains(err.Error(), "missing required userinfo fields"):
		return "invalid_userinfo"
	case err != nil && strings.Contains(err.Error(), "oauth2:"):
		return "oauth2_exchange"
	default:
		return "other"
	}
}
