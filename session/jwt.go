// Package session gates privileged song request operations: a short-lived
// signed service token asserts that a call came from a trusted internal
// caller, and the owner session validator turns cookie-held Spotify tokens
// into a per-call owner credential, refreshing transparently when expired.
package session

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultServiceTokenTTL keeps service tokens short-lived; they assert
// inter-service trust, not identity, so there is nothing worth stealing for
// longer than a request round trip.
const DefaultServiceTokenTTL = time.Minute

// ServiceTokenIssuer issues and verifies HS256 service tokens carrying no
// claims beyond issued-at and expiry.
type ServiceTokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewServiceTokenIssuer builds an issuer from the shared secret. An empty
// secret falls back to a development default with a warning, matching how
// the rest of the stack degrades without production config.
func NewServiceTokenIssuer(secret string) *ServiceTokenIssuer {
	if secret == "" {
		slog.Warn("JWT_SECRET not set, using default secret")
		secret = "default-secret"
	}
	return &ServiceTokenIssuer{secret: []byte(secret), ttl: DefaultServiceTokenTTL, now: time.Now}
}

// WithTTL overrides the token lifetime. Zero or negative keeps the default.
func (i *ServiceTokenIssuer) WithTTL(d time.Duration) *ServiceTokenIssuer {
	if d > 0 {
		i.ttl = d
	}
	return i
}

// Issue returns a signed token valid for the configured TTL.
func (i *ServiceTokenIssuer) Issue() (string, error) {
	now := i.now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry. Only HS256 is accepted.
func (i *ServiceTokenIssuer) Verify(token string) error {
	_, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired(), jwt.WithTimeFunc(i.now))
	if err != nil {
		return fmt.Errorf("verify service token: %w", err)
	}
	return nil
}
