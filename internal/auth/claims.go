package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer is stamped on every token and required when parsing.
const Issuer = "purelink"

// defaultTokenTTL applies when GenerateAccessToken is given no TTL.
const defaultTokenTTL = time.Hour

// CustomClaims are the registered JWT claims plus the caller's role.
type CustomClaims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}

// GenerateAccessToken mints an HS256 bearer token for subject. Tokens are
// checked by signature and expiry only; there is no revocation list.
func GenerateAccessToken(subject string, role Role, secret string, ttl time.Duration) (string, error) {
	switch {
	case subject == "":
		return "", fmt.Errorf("%w: subject is required", ErrTokenInvalid)
	case !IsValidRole(role):
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	issued := time.Now()
	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
		},
		Role: role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// parser accepts only unexpired HS256 tokens from this issuer.
var parser = jwt.NewParser(
	jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	jwt.WithIssuer(Issuer),
	jwt.WithExpirationRequired(),
)

// ParseToken verifies tokenString against secret and returns its claims.
// Every failure wraps ErrTokenInvalid.
func ParseToken(tokenString, secret string) (*CustomClaims, error) {
	claims := &CustomClaims{}
	if _, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if !IsValidRole(claims.Role) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrTokenInvalid, claims.Role)
	}
	return claims, nil
}
