// Package crypto provides AES-256-GCM authenticated encryption for short-lived
// values the server hands to a browser and must get back untampered, such as the
// OAuth state and nonce of an SSO login. Sealing the value into a cookie means no
// server-side session table is needed and any instance can finish the login.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

var (
	// ErrKeyLengthInvalid is returned when a master key is not exactly 32 bytes (required for AES-256).
	ErrKeyLengthInvalid = errors.New("crypto: key must be exactly 32 bytes for AES-256")
	// ErrCiphertextCorrupted is returned when the ciphertext fails base64 decoding or is too short to contain a valid nonce.
	ErrCiphertextCorrupted = errors.New("crypto: ciphertext is corrupted or tampered")
	// ErrDecryptionFailed is returned when authentication fails: tampering, a wrong key or a wrong purpose.
	ErrDecryptionFailed = errors.New("crypto: decryption operation failed")
	// ErrSaltTooShort is returned when the provided salt is fewer than 16 bytes.
	ErrSaltTooShort = errors.New("crypto: salt must be at least 16 bytes")
	// ErrExpired is returned by OpenJSON for an envelope past its expiry.
	ErrExpired = errors.New("crypto: sealed value expired")
)

// TokenCipher seals and opens values bound to a purpose string. A value sealed
// for one purpose cannot be opened as another.
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher creates a cipher with a 32-byte master key
func NewTokenCipher(masterKey []byte) (*TokenCipher, error) {
	if len(masterKey) != 32 {
		return nil, ErrKeyLengthInvalid
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	return &TokenCipher{aead: aead}, nil
}

// DeriveTokenCipher creates a cipher by deriving a key from a passphrase with PBKDF2-SHA256.
func DeriveTokenCipher(passphrase string, salt []byte, iterations int) (*TokenCipher, error) {
	if len(salt) < 16 {
		return nil, ErrSaltTooShort
	}
	if iterations < 10000 {
		iterations = 100000
	}
	return NewTokenCipher(pbkdf2.Key([]byte(passphrase), salt, iterations, 32, sha256.New))
}

// Seal encrypts plaintext for purpose and returns URL-safe base64.
func (tc *TokenCipher) Seal(purpose string, plaintext []byte) (string, error) {
	nonce := make([]byte, tc.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: read nonce: %w", err)
	}
	sealed := tc.aead.Seal(nonce, nonce, plaintext, []byte(purpose))
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. The purpose must match the one used to seal.
func (tc *TokenCipher) Open(purpose, encoded string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrCiphertextCorrupted
	}
	n := tc.aead.NonceSize()
	if len(raw) < n+tc.aead.Overhead() {
		return nil, ErrCiphertextCorrupted
	}
	plaintext, err := tc.aead.Open(nil, raw[:n], raw[n:], []byte(purpose))
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

type envelope struct {
	ExpiresAt int64           `json:"exp"`
	Value     json.RawMessage `json:"v"`
}

// SealJSON marshals v and seals it together with an expiry ttl from now.
func (tc *TokenCipher) SealJSON(purpose string, v any, ttl time.Duration) (string, error) {
	value, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("crypto: marshal: %w", err)
	}
	body, err := json.Marshal(envelope{ExpiresAt: time.Now().Add(ttl).Unix(), Value: value})
	if err != nil {
		return "", fmt.Errorf("crypto: marshal: %w", err)
	}
	return tc.Seal(purpose, body)
}

// OpenJSON opens a SealJSON value into v, rejecting expired envelopes.
func (tc *TokenCipher) OpenJSON(purpose, encoded string, v any) error {
	body, err := tc.Open(purpose, encoded)
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return ErrCiphertextCorrupted
	}
	if time.Now().Unix() > env.ExpiresAt {
		return ErrExpired
	}
	if err := json.Unmarshal(env.Value, v); err != nil {
		return ErrCiphertextCorrupted
	}
	return nil
}

// GenerateKey creates a cryptographically secure random 32-byte key
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// RandomString returns n random bytes encoded as URL-safe base64, for OAuth
// state and nonce values.
func RandomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("crypto: random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
