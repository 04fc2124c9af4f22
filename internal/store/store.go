package store

import (
	"context"
	"errors"
	"time"

	"github.com/example/authgate/internal/domain"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrStateNotFound   = errors.New("oauth state not found")
)

// SessionStore is the revocation store: expiring keys under three logical
// namespaces (sessions, access-token blacklist, OAuth state). All operations
// are atomic at the key level; Consume* calls are the linearization points
// that make rotation exactly-once. Any transport error must be surfaced so
// callers can fail closed, never swallowed.
type SessionStore interface {
	// PutSession records an outstanding refresh token under its jti.
	PutSession(ctx context.Context, rec domain.SessionRecord, ttl time.Duration) error
	// GetSession reads a session without consuming it.
	GetSession(ctx context.Context, tokenID string) (*domain.SessionRecord, error)
	// ConsumeSession atomically reads and deletes a session. At most one
	// concurrent caller observes the record; all others get
	// ErrSessionNotFound.
	ConsumeSession(ctx context.Context, tokenID string) (*domain.SessionRecord, error)
	// DeleteSession removes a session. Deleting an absent key is not an error.
	DeleteSession(ctx context.Context, tokenID string) error
	// ListUserSessions returns the outstanding sessions of one user.
	ListUserSessions(ctx context.Context, userID uint) ([]domain.SessionRecord, error)
	// ConsumeUserSessions atomically removes every outstanding session of one
	// user and returns the records that were actually consumed.
	ConsumeUserSessions(ctx context.Context, userID uint) ([]domain.SessionRecord, error)

	// BlacklistAccessToken marks an access jti revoked until its natural
	// expiry; the entry self-expires with the given ttl.
	BlacklistAccessToken(ctx context.Context, tokenID string, ttl time.Duration) error
	IsAccessTokenBlacklisted(ctx context.Context, tokenID string) (bool, error)

	PutOAuthState(ctx context.Context, state, payload string, ttl time.Duration) error
	// ConsumeOAuthState atomically takes a pending OAuth state; a state can
	// authorize exactly one callback.
	ConsumeOAuthState(ctx context.Context, state string) (string, error)
}

const (
	sessionKeyPrefix   = "session:"
	userIndexKeyPrefix = "user-sessions:"
	blacklistKeyPrefix = "blacklist:"
	stateKeyPrefix     = "oauth-state:"
)
