package security

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token decode failures, ordered by what gets checked first: structure, then
// signature, then expiry. Callers never retry any of these.
var (
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenSignature = errors.New("token signature invalid")
	ErrTokenExpired   = errors.New("token expired")
)

type Claims struct {
	TokenType string   `json:"token_type"`
	Roles     []string `json:"roles,omitempty"`
	DeviceID  string   `json:"device_id,omitempty"`
	jwt.RegisteredClaims
}

// UserID parses the subject back into the numeric principal id.
func (c *Claims) UserID() (uint, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil {
		return 0, ErrTokenMalformed
	}
	return uint(id), nil
}

// TokenCodec signs and verifies access/refresh token pairs. It is stateless:
// revocation checks belong to the session manager, not here. Access and
// refresh tokens are signed with distinct symmetric keys so a leaked refresh
// secret cannot forge access tokens or vice versa.
type TokenCodec struct {
	issuer        string
	audience      string
	accessSecret  []byte
	refreshSecret []byte
	now           func() time.Time
}

func NewTokenCodec(issuer, audience, accessSecret, refreshSecret string) *TokenCodec {
	if refreshSecret == "" {
		refreshSecret = accessSecret
	}
	return &TokenCodec{
		issuer:        issuer,
		audience:      audience,
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		now:           time.Now,
	}
}

// WithClock overrides the codec's time source. Tests use this to cross expiry
// boundaries without sleeping.
func (c *TokenCodec) WithClock(now func() time.Time) *TokenCodec {
	c.now = now
	return c
}

func (c *TokenCodec) Now() time.Time { return c.now() }

func (c *TokenCodec) SignAccessToken(userID uint, roles []string, deviceID string, ttl time.Duration, jti string) (string, error) {
	if jti == "" {
		jti = uuid.NewString()
	}
	claims := Claims{
		TokenType: "access",
		Roles:     roles,
		DeviceID:  deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   fmt.Sprintf("%d", userID),
			Audience:  []string{c.audience},
			ExpiresAt: jwt.NewNumericDate(c.now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(c.now()),
			ID:        jti,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.accessSecret)
}

func (c *TokenCodec) SignRefreshToken(userID uint, deviceID string, ttl time.Duration) (string, *Claims, error) {
	claims := Claims{
		TokenType: "refresh",
		DeviceID:  deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   fmt.Sprintf("%d", userID),
			Audience:  []string{c.audience},
			ExpiresAt: jwt.NewNumericDate(c.now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(c.now()),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.refreshSecret)
	if err != nil {
		return "", nil, err
	}
	return signed, &claims, nil
}

func (c *TokenCodec) VerifyAccessToken(raw string) (*Claims, error) {
	return c.verify(raw, c.accessSecret, "access")
}

func (c *TokenCodec) VerifyRefreshToken(raw string) (*Claims, error) {
	return c.verify(raw, c.refreshSecret, "refresh")
}

func (c *TokenCodec) verify(raw string, secret []byte, tokenType string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenSignature
		}
		return secret, nil
	},
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, classifyJWTError(err)
	}
	if !tok.Valid {
		return nil, ErrTokenSignature
	}
	if claims.TokenType != tokenType {
		return nil, ErrTokenMalformed
	}
	if claims.ID == "" {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrSignatureInvalid):
		return ErrTokenSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		// Wrong issuer/audience and other claim failures are structural for
		// our purposes: the token was never valid for this service.
		return ErrTokenMalformed
	}
}
