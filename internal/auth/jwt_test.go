package auth

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sentinelops/sentinel/internal/db/models"
)

const testSecret = "test-jwt-secret-that-is-32-chars-!"

// resetJWTSecret resets the package-level sync.Once so tests can set a fresh secret.
// This is only safe to call from test code.
func resetJWTSecret() {
	jwtSecret = ""
	jwtSecretOnce = sync.Once{}
	jwtSecretErr = nil
}

func TestMain(m *testing.M) {
	os.Setenv("SENTINEL_JWT_SECRET", testSecret)
	os.Exit(m.Run())
}

func int64Ptr(v int64) *int64 { return &v }

func TestValidateJWTSecret(t *testing.T) {
	t.Cleanup(resetJWTSecret)

	t.Run("valid secret from env", func(t *testing.T) {
		resetJWTSecret()
		t.Setenv("SENTINEL_JWT_SECRET", "exactly-32-char-secret-for-test!!")
		if err := ValidateJWTSecret(); err != nil {
			t.Errorf("ValidateJWTSecret() unexpected error: %v", err)
		}
	})

	t.Run("production mode requires secret", func(t *testing.T) {
		resetJWTSecret()
		t.Setenv("SENTINEL_JWT_SECRET", "")
		t.Setenv("SENTINEL_SERVER_DEV_MODE", "")
		t.Setenv("GIN_MODE", "release")
		if err := ValidateJWTSecret(); err == nil {
			t.Error("ValidateJWTSecret() expected error in production mode without secret, got nil")
		}
	})

	t.Run("production mode rejects short secret", func(t *testing.T) {
		resetJWTSecret()
		t.Setenv("SENTINEL_JWT_SECRET", "too-short")
		t.Setenv("SENTINEL_SERVER_DEV_MODE", "")
		t.Setenv("GIN_MODE", "release")
		if err := ValidateJWTSecret(); err == nil {
			t.Error("ValidateJWTSecret() expected error for short secret, got nil")
		}
	})

	t.Run("dev mode generates random secret", func(t *testing.T) {
		resetJWTSecret()
		t.Setenv("SENTINEL_JWT_SECRET", "")
		t.Setenv("SENTINEL_SERVER_DEV_MODE", "true")
		if err := ValidateJWTSecret(); err != nil {
			t.Errorf("ValidateJWTSecret() unexpected error in dev mode: %v", err)
		}
		if len(GetJWTSecret()) < MinSecretLength {
			t.Errorf("generated secret too short: %d", len(GetJWTSecret()))
		}
	})
}

func TestGenerateAndValidateJWT(t *testing.T) {
	resetJWTSecret()
	t.Setenv("SENTINEL_JWT_SECRET", testSecret)

	t.Run("round trip with organization", func(t *testing.T) {
		token, exp, err := GenerateJWT(42, models.RolePlatformOwner, int64Ptr(7), time.Hour)
		if err != nil {
			t.Fatalf("GenerateJWT() error: %v", err)
		}
		if time.Until(exp) < 59*time.Minute {
			t.Errorf("expiry %s is not about one hour ahead", exp)
		}

		claims, err := ValidateJWT(token)
		if err != nil {
			t.Fatalf("ValidateJWT() error: %v", err)
		}
		if claims.UserID != 42 {
			t.Errorf("claims.UserID = %d, want 42", claims.UserID)
		}
		if claims.Role != models.RolePlatformOwner {
			t.Errorf("claims.Role = %q, want platform_owner", claims.Role)
		}
		if claims.OrganizationID == nil || *claims.OrganizationID != 7 {
			t.Errorf("claims.OrganizationID = %v, want 7", claims.OrganizationID)
		}
		if claims.Issuer != Issuer {
			t.Errorf("claims.Issuer = %q, want %q", claims.Issuer, Issuer)
		}
		if claims.ID == "" {
			t.Error("claims.ID (jti) should be set")
		}
		if claims.NotBefore == nil || claims.IssuedAt == nil {
			t.Error("nbf and iat should be set")
		}
	})

	t.Run("global role without organization", func(t *testing.T) {
		token, _, err := GenerateJWT(1, models.RolePlatformFounder, nil, time.Hour)
		if err != nil {
			t.Fatalf("GenerateJWT() error: %v", err)
		}
		claims, err := ValidateJWT(token)
		if err != nil {
			t.Fatalf("ValidateJWT() error: %v", err)
		}
		if claims.OrganizationID != nil {
			t.Errorf("claims.OrganizationID = %v, want nil", *claims.OrganizationID)
		}
	})

	t.Run("two tokens have distinct jti", func(t *testing.T) {
		a, _, _ := GenerateJWT(1, models.RoleSOCAnalyst, int64Ptr(1), time.Hour)
		b, _, _ := GenerateJWT(1, models.RoleSOCAnalyst, int64Ptr(1), time.Hour)
		ca, _ := ValidateJWT(a)
		cb, _ := ValidateJWT(b)
		if ca.ID == cb.ID {
			t.Error("consecutive tokens share a jti")
		}
	})

	t.Run("expired token is distinct error", func(t *testing.T) {
		claims := &Claims{
			UserID: 42,
			Role:   models.RoleSOCAnalyst,
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
				IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Hour)),
				Issuer:    Issuer,
			},
		}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := ValidateJWT(signed); !errors.Is(err, ErrTokenExpired) {
			t.Errorf("ValidateJWT() error = %v, want ErrTokenExpired", err)
		}
	})

	t.Run("wrong secret is invalid", func(t *testing.T) {
		claims := &Claims{
			UserID: 42,
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				Issuer:    Issuer,
			},
		}
		signed, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("another-secret-of-sufficient-length!!"))
		if _, err := ValidateJWT(signed); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("ValidateJWT() error = %v, want ErrTokenInvalid", err)
		}
	})

	t.Run("wrong issuer is invalid", func(t *testing.T) {
		claims := &Claims{
			UserID: 42,
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				Issuer:    "someone-else",
			},
		}
		signed, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		if _, err := ValidateJWT(signed); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("ValidateJWT() error = %v, want ErrTokenInvalid", err)
		}
	})

	t.Run("none algorithm is invalid", func(t *testing.T) {
		claims := &Claims{
			UserID: 42,
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				Issuer:    Issuer,
			},
		}
		signed, _ := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		if _, err := ValidateJWT(signed); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("ValidateJWT() error = %v, want ErrTokenInvalid", err)
		}
	})

	t.Run("garbage is invalid", func(t *testing.T) {
		for _, tok := range []string{"", "not.a.jwt", "a.b"} {
			if _, err := ValidateJWT(tok); !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ValidateJWT(%q) error = %v, want ErrTokenInvalid", tok, err)
			}
		}
	})
}
