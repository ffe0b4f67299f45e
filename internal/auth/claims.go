package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AssistantClaims are the JWT claims carried by a bearer token presented to
// the fulfillment API. The subject identifies the end user whose devices the
// request is scoped to; no role or session machinery is attached because the
// bridge trusts the assistant platform to have already authorized the caller.
type AssistantClaims struct {
	jwt.RegisteredClaims
}

// defaultAccessTokenTTLMinutes is used when the caller supplies a non-positive TTL.
const defaultAccessTokenTTLMinutes = 15

// GenerateAccessToken creates a signed JWT identifying userID as the caller.
// Tokens are short-lived and validated by signature only (no store lookup).
func GenerateAccessToken(userID, secret string, ttlMinutes int) (string, error) {
	if ttlMinutes <= 0 {
		ttlMinutes = defaultAccessTokenTTLMinutes
	}

	now := time.Now()
	claims := AssistantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlMinutes) * time.Minute)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// ParseToken validates and parses a JWT access token, returning its claims.
// It checks the signature, expiry, and that a subject is present.
func ParseToken(tokenString, secret string) (*AssistantClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AssistantClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*AssistantClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	return claims, nil
}
