// Package auth - jwt.go handles session token creation, signing, and verification
// using a shared HS256 secret, including lazy secret initialization and claims parsing.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sentinelops/sentinel/internal/db/models"
)

// Issuer is the iss claim of every session token.
const Issuer = "sentinel"

// MinSecretLength is the shortest accepted SENTINEL_JWT_SECRET outside dev mode.
const MinSecretLength = 32

var (
	// ErrTokenExpired is returned for a well-formed token past its exp claim.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid covers malformed tokens, bad signatures and wrong issuers.
	ErrTokenInvalid = errors.New("invalid token")
)

var (
	// jwtSecret holds the validated JWT secret
	jwtSecret     string
	jwtSecretOnce sync.Once
	jwtSecretErr  error
)

// Claims represents the JWT claims structure
type Claims struct {
	UserID         int64       `json:"user_id"`
	Role           models.Role `json:"role"`
	OrganizationID *int64      `json:"org_id"`
	jwt.RegisteredClaims
}

// isDevMode mirrors server.dev_mode without importing the config package.
func isDevMode() bool {
	v := os.Getenv("SENTINEL_SERVER_DEV_MODE")
	return v == "true" || v == "1" || os.Getenv("GIN_MODE") == "debug"
}

// generateRandomSecret creates a cryptographically secure random secret
func generateRandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ValidateJWTSecret checks that the JWT secret is properly configured.
// Outside dev mode SENTINEL_JWT_SECRET must be set and at least 32 characters.
// In dev mode a missing secret is replaced by a random one and a warning is logged.
// Call this at application startup.
func ValidateJWTSecret() error {
	jwtSecretOnce.Do(func() {
		secret := os.Getenv("SENTINEL_JWT_SECRET")

		if secret == "" {
			if !isDevMode() {
				jwtSecretErr = errors.New("SENTINEL_JWT_SECRET is required; generate one with: openssl rand -hex 32")
				return
			}
			secret, jwtSecretErr = generateRandomSecret()
			if jwtSecretErr != nil {
				return
			}
			slog.Warn("SENTINEL_JWT_SECRET not set, using an ephemeral secret; sessions will not survive a restart")
		} else if len(secret) < MinSecretLength {
			if !isDevMode() {
				jwtSecretErr = fmt.Errorf("SENTINEL_JWT_SECRET must be at least %d characters", MinSecretLength)
				return
			}
			slog.Warn("SENTINEL_JWT_SECRET is shorter than recommended", "min_length", MinSecretLength)
		}

		jwtSecret = secret
	})

	return jwtSecretErr
}

// GetJWTSecret retrieves the validated JWT secret.
// Panics if the secret is not configured.
func GetJWTSecret() string {
	if jwtSecret == "" {
		if err := ValidateJWTSecret(); err != nil {
			panic(err)
		}
	}
	return jwtSecret
}

// GenerateJWT signs a session token for a principal. It returns the token and its expiry.
func GenerateJWT(userID int64, role models.Role, orgID *int64, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := &Claims{
		UserID:         userID,
		Role:           role,
		OrganizationID: orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    Issuer,
			Subject:   fmt.Sprintf("%d", userID),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(GetJWTSecret()))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateJWT parses and validates a session token. Expired tokens return
// ErrTokenExpired; every other failure returns ErrTokenInvalid so callers never
// learn which check failed.
func ValidateJWT(tokenString string) (*Claims, error) {
	secret := GetJWTSecret()

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == 0 {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
