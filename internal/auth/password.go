// Package auth - password.go hashes and verifies local account passwords with bcrypt.
package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordCost is the bcrypt cost for account passwords
const PasswordCost = bcrypt.DefaultCost

// MinPasswordLength is enforced when passwords are set through the API.
const MinPasswordLength = 12

// dummyHash is compared against when the account does not exist so a failed
// login takes the same time whether or not the username is known.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("sentinel-timing-equaliser"), PasswordCost)

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > 72 {
		return "", errors.New("password must be at most 72 bytes")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash. Malformed or placeholder
// hashes never match.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// EqualiseTiming performs a throwaway bcrypt comparison.
func EqualiseTiming(password string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}
