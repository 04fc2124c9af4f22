package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/authgate/internal/domain"
	"github.com/example/authgate/internal/security"
	"github.com/example/authgate/internal/store"
)

// Principal is a verified identity handed over by an identity provider
// adapter. Claims are immutable once embedded in an access token.
type Principal struct {
	UserID   uint
	Roles    []string
	DeviceID string
}

// TokenPair is the issuance result exposed to the HTTP layer.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type SessionManagerOptions struct {
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	// StoreOpTimeout bounds every session-store round trip.
	StoreOpTimeout time.Duration
	// BlacklistOnRotate revokes the outgoing access token immediately on
	// renewal instead of letting it run to natural expiry.
	BlacklistOnRotate bool
}

// SessionManager owns the refresh-token state machine: issued -> consumed
// (by rotation, logout or expiry). The store holds the validity bit; signed
// tokens are only carriers. Both terminal transitions look identical to a
// verifier, which is what makes replay of a rotated-away token
// indistinguishable from replay of a revoked one.
type SessionManager struct {
	codec *security.TokenCodec
	store store.SessionStore
	opts  SessionManagerOptions
}

func NewSessionManager(codec *security.TokenCodec, sessions store.SessionStore, opts SessionManagerOptions) *SessionManager {
	if opts.AccessTokenTTL <= 0 {
		opts.AccessTokenTTL = 24 * time.Hour
	}
	if opts.RefreshTokenTTL <= 0 {
		opts.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if opts.StoreOpTimeout <= 0 {
		opts.StoreOpTimeout = 2 * time.Second
	}
	return &SessionManager{codec: codec, store: sessions, opts: opts}
}

// Login mints an access+refresh pair for an already-verified principal and
// records the refresh session. The pair shares one jti, so revoking the
// session can also revoke its access token.
func (m *SessionManager) Login(ctx context.Context, principal Principal, ua, ip string) (*TokenPair, error) {
	return m.issuePair(ctx, principal, ua, ip)
}

// Renew rotates a refresh token: exactly one concurrent caller can consume
// the old session, and the old jti can never become valid again. There is no
// renewal path that skips rotation.
func (m *SessionManager) Renew(ctx context.Context, refreshToken string, ua, ip string) (*TokenPair, *Principal, error) {
	claims, err := m.codec.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, nil, mapTokenError(err)
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, nil, ErrInvalidToken
	}

	opCtx, cancel := m.opContext(ctx)
	rec, err := m.store.ConsumeSession(opCtx, claims.ID)
	cancel()
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			// Covers prior rotation, explicit logout and natural expiry
			// alike; distinguishing them would hand an attacker a session
			// status oracle.
			slog.DebugContext(ctx, "refresh token replay or revoked", "jti", claims.ID, "user_id", userID)
			return nil, nil, ErrTokenRevoked
		}
		return nil, nil, storeFailure(ctx, "renew", err)
	}
	if rec.UserID != userID {
		return nil, nil, ErrInvalidToken
	}

	if m.opts.BlacklistOnRotate {
		// Access and refresh share a jti, so the consumed session id is the
		// old access token's blacklist key.
		opCtx, cancel := m.opContext(ctx)
		err := m.store.BlacklistAccessToken(opCtx, rec.TokenID, m.accessRemaining(rec.IssuedAt))
		cancel()
		if err != nil {
			return nil, nil, storeFailure(ctx, "renew", err)
		}
	}

	principal := Principal{UserID: userID, Roles: rec.Roles, DeviceID: rec.DeviceID}
	pair, err := m.issuePair(ctx, principal, ua, ip)
	if err != nil {
		return nil, nil, err
	}
	return pair, &principal, nil
}

// Logout revokes one session. The access token is decoded best-effort: a
// garbled access token must not block refresh-token revocation. Both halves
// are idempotent.
func (m *SessionManager) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if claims, err := m.codec.VerifyAccessToken(accessToken); err == nil {
		opCtx, cancel := m.opContext(ctx)
		err := m.store.BlacklistAccessToken(opCtx, claims.ID, m.remaining(claims.ExpiresAt.Time))
		cancel()
		if err != nil {
			return storeFailure(ctx, "logout", err)
		}
	}

	if refreshToken == "" {
		return nil
	}
	claims, err := m.codec.VerifyRefreshToken(refreshToken)
	if err != nil {
		// Nothing to revoke for a token that never verified.
		return nil
	}
	opCtx, cancel := m.opContext(ctx)
	defer cancel()
	if err := m.store.DeleteSession(opCtx, claims.ID); err != nil {
		return storeFailure(ctx, "logout", err)
	}
	return nil
}

// LogoutAll revokes every outstanding session of one principal. The consumed
// session ids double as the paired access-token jtis, so those are
// blacklisted for their remaining life as well.
func (m *SessionManager) LogoutAll(ctx context.Context, userID uint) (int, error) {
	opCtx, cancel := m.opContext(ctx)
	consumed, err := m.store.ConsumeUserSessions(opCtx, userID)
	cancel()
	if err != nil {
		return len(consumed), storeFailure(ctx, "logout_all", err)
	}
	for _, rec := range consumed {
		opCtx, cancel := m.opContext(ctx)
		err := m.store.BlacklistAccessToken(opCtx, rec.TokenID, m.accessRemaining(rec.IssuedAt))
		cancel()
		if err != nil {
			return len(consumed), storeFailure(ctx, "logout_all", err)
		}
	}
	return len(consumed), nil
}

// VerifyAccess is the hot path: one signature+expiry verification plus one
// blacklist lookup, nothing else. A store failure rejects the token.
func (m *SessionManager) VerifyAccess(ctx context.Context, accessToken string) (*security.Claims, error) {
	claims, err := m.codec.VerifyAccessToken(accessToken)
	if err != nil {
		return nil, mapTokenError(err)
	}
	opCtx, cancel := m.opContext(ctx)
	defer cancel()
	revoked, err := m.store.IsAccessTokenBlacklisted(opCtx, claims.ID)
	if err != nil {
		return nil, storeFailure(ctx, "verify_access", err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// ListSessions exposes the outstanding sessions of a principal for the
// session-management UI.
func (m *SessionManager) ListSessions(ctx context.Context, userID uint) ([]domain.SessionRecord, error) {
	opCtx, cancel := m.opContext(ctx)
	defer cancel()
	records, err := m.store.ListUserSessions(opCtx, userID)
	if err != nil {
		return nil, storeFailure(ctx, "list_sessions", err)
	}
	return records, nil
}

func (m *SessionManager) AccessTokenTTL() time.Duration  { return m.opts.AccessTokenTTL }
func (m *SessionManager) RefreshTokenTTL() time.Duration { return m.opts.RefreshTokenTTL }

func (m *SessionManager) issuePair(ctx context.Context, principal Principal, ua, ip string) (*TokenPair, error) {
	refresh, refreshClaims, err := m.codec.SignRefreshToken(principal.UserID, principal.DeviceID, m.opts.RefreshTokenTTL)
	if err != nil {
		return nil, err
	}
	access, err := m.codec.SignAccessToken(principal.UserID, principal.Roles, principal.DeviceID, m.opts.AccessTokenTTL, refreshClaims.ID)
	if err != nil {
		return nil, err
	}

	rec := domain.SessionRecord{
		TokenID:   refreshClaims.ID,
		UserID:    principal.UserID,
		Roles:     principal.Roles,
		DeviceID:  principal.DeviceID,
		UserAgent: ua,
		IP:        ip,
		IssuedAt:  refreshClaims.IssuedAt.Time,
		ExpiresAt: refreshClaims.ExpiresAt.Time,
	}
	opCtx, cancel := m.opContext(ctx)
	defer cancel()
	if err := m.store.PutSession(opCtx, rec, m.opts.RefreshTokenTTL); err != nil {
		return nil, storeFailure(ctx, "issue", err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(m.opts.AccessTokenTTL.Seconds()),
	}, nil
}

func (m *SessionManager) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.opts.StoreOpTimeout)
}

func (m *SessionManager) remaining(expiry time.Time) time.Duration {
	return expiry.Sub(m.codec.Now())
}

func (m *SessionManager) accessRemaining(issuedAt time.Time) time.Duration {
	return m.remaining(issuedAt.Add(m.opts.AccessTokenTTL))
}

func mapTokenError(err error) error {
	switch {
	case errors.Is(err, security.ErrTokenExpired):
		return ErrExpiredToken
	default:
		return ErrInvalidToken
	}
}

func storeFailure(ctx context.Context, op string, err error) error {
	slog.WarnContext(ctx, "session store failure", "operation", op, "error", err.Error())
	return ErrStoreUnavailable
}
