package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Role.Valid
// ---------------------------------------------------------------------------

func TestRoleValid(t *testing.T) {
	for _, r := range AllRoles {
		if !r.Valid() {
			t.Errorf("Role(%q).Valid() = false, want true", r)
		}
	}
	for _, r := range []Role{"", "admin", "PLATFORM_OWNER", "root"} {
		if r.Valid() {
			t.Errorf("Role(%q).Valid() = true, want false", r)
		}
	}
}

// ---------------------------------------------------------------------------
// User.EffectiveStatus
// ---------------------------------------------------------------------------

func TestUserEffectiveStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(24 * time.Hour)

	tests := []struct {
		name string
		user User
		want AccountStatus
	}{
		{"active without expiry", User{IsActive: true, Status: StatusActive}, StatusActive},
		{"active before expiry", User{IsActive: true, Status: StatusActive, AccountExpiresAt: &future}, StatusActive},
		{"active past expiry is expired", User{IsActive: true, Status: StatusActive, AccountExpiresAt: &past}, StatusExpired},
		{"suspended past expiry stays suspended", User{IsActive: true, Status: StatusSuspended, AccountExpiresAt: &past}, StatusSuspended},
		{"pending", User{IsActive: true, Status: StatusPending}, StatusPending},
		{"stored expired", User{IsActive: true, Status: StatusExpired}, StatusExpired},
		{"soft deleted wins over active", User{IsActive: false, Status: StatusActive}, StatusDeleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.user.EffectiveStatus(now); got != tt.want {
				t.Errorf("EffectiveStatus() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUserCanAuthenticate(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)

	if !(&User{IsActive: true, Status: StatusActive}).CanAuthenticate(now) {
		t.Error("active user should authenticate")
	}
	if (&User{IsActive: true, Status: StatusActive, AccountExpiresAt: &past}).CanAuthenticate(now) {
		t.Error("expired user should not authenticate")
	}
	if (&User{IsActive: true, Status: StatusPending}).CanAuthenticate(now) {
		t.Error("pending user should not authenticate")
	}
}

// ---------------------------------------------------------------------------
// CanTransition
// ---------------------------------------------------------------------------

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to AccountStatus
		want     bool
	}{
		{StatusPending, StatusActive, true},
		{StatusActive, StatusSuspended, true},
		{StatusSuspended, StatusActive, true},
		{StatusExpired, StatusActive, true},
		{StatusActive, StatusExpired, false},
		{StatusPending, StatusSuspended, false},
		{StatusSuspended, StatusSuspended, false},
		{StatusActive, StatusActive, false},
		{StatusDeleted, StatusActive, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestUserJSON_OmitsSecrets(t *testing.T) {
	sub := "idp|123"
	u := User{ID: 7, Username: "ana", PasswordHash: "$2a$10$secret", OIDCSub: &sub}
	b, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for _, leaked := range []string{"password_hash", "$2a$10$secret", "oidc_sub", "is_active"} {
		if strings.Contains(string(b), leaked) {
			t.Errorf("JSON leaks %q: %s", leaked, b)
		}
	}
}
