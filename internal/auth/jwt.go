package auth

import (
	"errors"
	"fmt"
	"time"

	"telecom-billing/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMissingUser = errors.New("auth: token has no user_id")
	ErrMissingRole = errors.New("auth: token has no role")
)

// Manager verifies access tokens. Issue exists for operators and tests; the
// billing API never hands out tokens itself.
type Manager struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	leeway   time.Duration
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	m := &Manager{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.JWTIssuer,
		audience: cfg.JWTAudience,
		ttl:      cfg.AccessTokenTTL,
		leeway:   cfg.Leeway,
	}
	if m.ttl <= 0 {
		m.ttl = 15 * time.Minute
	}
	return m, nil
}

func (m *Manager) Issue(now time.Time, id Identity) (string, error) {
	if err := validIdentity(id); err != nil {
		return "", err
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Audience:  audienceOrNil(m.audience),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			ID:        uuid.NewString(),
		},
		Identity: id,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Verify parses an HS256 access token and returns its identity. Time-based
// claims are checked against now with the configured leeway.
func (m *Manager) Verify(token string, now time.Time) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(m.leeway),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	var claims Claims
	_, err := jwt.NewParser(opts...).ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("auth: %w", err)
	}
	if err := validIdentity(claims.Identity); err != nil {
		return Identity{}, err
	}
	return claims.Identity, nil
}

func validIdentity(id Identity) error {
	if id.UserID == "" {
		return ErrMissingUser
	}
	if id.Role == "" {
		return ErrMissingRole
	}
	return nil
}

func audienceOrNil(aud string) jwt.ClaimStrings {
	if aud == "" {
		return nil
	}
	return jwt.ClaimStrings{aud}
}
