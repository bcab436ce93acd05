// Package models defines the database model types for Sentinel.
// Each type corresponds to a database table and uses struct tags for both JSON
// serialization and sqlx row scanning. Models are data plus small invariants;
// query logic lives in the repositories package.
package models

import "time"

// APIKey is a pre-issued credential. It authenticates as its owning user,
// narrowed to Scopes.
type APIKey struct {
	ID         int64      `db:"id" json:"id"`
	UserID     int64      `db:"user_id" json:"user_id"`
	Name       string     `db:"name" json:"name"`
	KeyHash    string     `db:"key_hash" json:"-"`
	KeyPrefix  string     `db:"key_prefix" json:"key_prefix"`
	Scopes     []string   `db:"-" json:"scopes"`
	ExpiresAt  *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// IsExpired reports whether the key has an expiry in the past.
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}
