package service

import "errors"

// Authentication failure taxonomy. The first four are terminal 401s and are
// collapsed into one opaque response at the HTTP layer so callers cannot
// probe whether a given token ever existed; logs keep the distinction.
// ErrStoreUnavailable is transient infrastructure failure and maps to 503;
// it must never be silently treated as "authenticated".
var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("expired token")
	ErrTokenRevoked       = errors.New("token revoked")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrStoreUnavailable   = errors.New("session store unavailable")
)
