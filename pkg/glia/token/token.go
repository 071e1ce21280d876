// Package token issues and verifies the short-lived session tokens bot
// integrations carry between requests. Tokens are HS256 JWTs scoped to
// one platform identity; possession of a valid token proves a recent
// successful link check, so the TTL is short and every streaming
// response carries a fresh one.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/glia-ai/glia/pkg/glia/platform"
)

const (
	// RoleBot is the role claim stamped into every session token.
	RoleBot = "bot"

	// DefaultTTL is how long a session token stays valid.
	DefaultTTL = 15 * time.Minute

	// MinSecretLen is the minimum signing secret length, enforced at
	// config validation time.
	MinSecretLen = 32
)

// ErrInvalidToken is returned for tokens that fail signature, role or
// expiry checks.
var ErrInvalidToken = errors.New("invalid session token")

// Claims are the session token claims.
type Claims struct {
	Platform       string `json:"platform"`
	PlatformUserID string `json:"platform_user_id"`
	Role           string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies session tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer creates an issuer. The secret must be at least MinSecretLen
// bytes.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("session token secret too short: %d bytes, need %d", len(secret), MinSecretLen)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl}, nil
}

// Issue creates a token for the given account and platform identity.
func (i *Issuer) Issue(accountID string, p platform.Platform, platformUserID string) (string, error) {
	now := time.Now()
	claims := Claims{
		Platform:       p.String(),
		PlatformUserID: platformUserID,
		Role:           RoleBot,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token. It rejects wrong signing
// methods, expired tokens and tokens whose role is not "bot".
func (i *Issuer) Verify(raw string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Role != RoleBot {
		return nil, fmt.Errorf("%w: role %q", ErrInvalidToken, claims.Role)
	}
	if _, err := platform.Parse(claims.Platform); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &claims, nil
}
