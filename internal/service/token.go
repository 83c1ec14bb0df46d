package service

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenDuration is the validity of read API tokens
const DefaultTokenDuration = 24 * time.Hour

// GenerateToken mints an HS256 read API token for subject
func GenerateToken(secret []byte, subject string, duration time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret is not configured")
	}
	now := time.Now()

	claims := jwt.MapClaims{
		"sub": subject,
		"exp": now.Add(duration).Unix(),
		"iat": now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
