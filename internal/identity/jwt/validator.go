// Package jwt validates bearer tokens minted by the auth provider.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/cafe-storefront/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

const leeway = 30 * time.Second

// Errors returned by ValidateToken.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrMissingSub   = errors.New("token has no subject")
)

// Config holds token validation settings.
type Config struct {
	Secret string
	// Issuer, when set, must match the iss claim.
	Issuer string
}

// Claims are the claims the storefront reads from a token.
type Claims struct {
	UserRole string `json:"user_role,omitempty"`
	jwt.RegisteredClaims
}

// Validator checks HS256 tokens signed with a shared secret.
type Validator struct {
	secret []byte
	parser *jwt.Parser
	issuer string
}

// NewValidator creates a new token validator.
func NewValidator(cfg Config) (*Validator, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(leeway),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	return &Validator{
		secret: []byte(cfg.Secret),
		parser: jwt.NewParser(opts...),
		issuer: cfg.Issuer,
	}, nil
}

// ValidateToken returns the user id (sub claim) and role of a valid token.
// Any user_role other than admin maps to the user role.
func (v *Validator) ValidateToken(_ context.Context, raw string) (string, domain.Role, error) {
	var claims Claims
	token, err := v.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", "", ErrMissingSub
	}

	role := domain.RoleUser
	if domain.Role(claims.UserRole) == domain.RoleAdmin {
		role = domain.RoleAdmin
	}

	return claims.Subject, role, nil
}

// Issue signs a token for userID. The storefront never issues tokens to clients;
// this serves tests and local tooling that stand in for the auth provider.
func (v *Validator) Issue(userID string, role domain.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserRole: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
