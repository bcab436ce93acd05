// Package auth provides authentication primitives for Sentinel: session tokens,
// API keys, password hashing and API key scopes.
// Two credential types reach the API: JWTs (issued on password, LDAP or SSO login,
// verified statelessly) and API keys (long-lived, bcrypt-hashed, narrowed by scopes).
// See internal/middleware/auth.go for the request-time logic that uses these primitives.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyLength is the length of the random part of the API key in bytes
	APIKeyLength = 32

	// DisplayPrefixLength is the number of random characters kept in the lookup prefix
	DisplayPrefixLength = 8

	// BcryptCost is the cost factor for API key hashing
	BcryptCost = 12
)

// GenerateAPIKey creates a new random API key with the given prefix.
// Returns: full key (to show once), bcrypt hash (to store), lookup prefix.
// The lookup prefix is "<prefix>_" plus the first random characters; it is
// stored in clear so the key can be found without scanning every hash.
func GenerateAPIKey(prefix string) (key string, hash string, displayPrefix string, err error) {
	randomBytes := make([]byte, APIKeyLength)
	if _, err = rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	randomPart := base64.RawURLEncoding.EncodeToString(randomBytes)

	fullKey := fmt.Sprintf("%s_%s", prefix, randomPart)

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), BcryptCost)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to hash API key: %w", err)
	}

	return fullKey, string(hashBytes), LookupPrefix(fullKey), nil
}

// LookupPrefix returns the stored prefix for a presented key, or "" when the
// key is too short to have been issued by GenerateAPIKey.
func LookupPrefix(key string) string {
	i := strings.IndexByte(key, '_')
	if i <= 0 || len(key) < i+1+DisplayPrefixLength {
		return ""
	}
	return key[:i+1+DisplayPrefixLength]
}

// IsAPIKey reports whether a bearer credential looks like an API key issued
// with prefix rather than a JWT.
func IsAPIKey(credential, prefix string) bool {
	return prefix != "" && strings.HasPrefix(credential, prefix+"_")
}

// ValidateAPIKey checks if a provided key matches the stored hash
func ValidateAPIKey(providedKey, storedHash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(providedKey))
	return err == nil
}

// ExtractBearerToken extracts the credential from an Authorization header.
// Expected format: "Bearer <token>"
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}

	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errors.New("token is empty after Bearer prefix")
	}

	return token, nil
}
