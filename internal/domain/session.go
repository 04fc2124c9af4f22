package domain

import "time"

// SessionRecord is the authoritative "this refresh token is still valid" bit.
// One record exists per outstanding refresh token, keyed by its jti in the
// session store. Rotation and logout both remove the record, so absence is
// the single observable terminal state for a refresh token.
type SessionRecord struct {
	TokenID   string    `json:"token_id"`
	UserID    uint      `json:"user_id"`
	Roles     []string  `json:"roles,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	IP        string    `json:"ip,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
