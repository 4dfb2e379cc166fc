package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/loftwire/accounts-api/config"
)

// SessionIssuer signs an opaque bearer token asserting a verified identity
// for a bounded time window.
type SessionIssuer interface {
	Issue(userID string) (string, error)
}

var _ SessionIssuer = (*JWTSessionIssuer)(nil)

// JWTSessionIssuer issues HS256-signed JWTs with the user id as subject.
type JWTSessionIssuer struct {
	cfg config.JWTConfig
}

func NewJWTSessionIssuer(cfg config.JWTConfig) *JWTSessionIssuer {
	return &JWTSessionIssuer{cfg: cfg}
}

func (i *JWTSessionIssuer) Issue(userID string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.cfg.Issuer,
			Audience:  jwt.ClaimStrings{i.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.cfg.AccessTokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(i.cfg.SecretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}
