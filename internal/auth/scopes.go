// Package auth - scopes.go defines the permission scopes an API key may carry
// and helpers to validate and check them.
package auth

import (
	"fmt"
)

// Scope represents a permission an API key may be granted
type Scope string

const (
	// ScopeFindingsWrite allows pushing findings for the key owner's organization
	ScopeFindingsWrite Scope = "findings:write"
	// ScopeFindingsRead allows listing findings
	ScopeFindingsRead Scope = "findings:read"
	// ScopeAuditRead allows reading audit logs with the owner's role
	ScopeAuditRead Scope = "audit:read"
)

// AllScopes returns all valid scopes
func AllScopes() []Scope {
	return []Scope{ScopeFindingsWrite, ScopeFindingsRead, ScopeAuditRead}
}

// ValidScopes returns a map of valid scope strings
func ValidScopes() map[string]bool {
	valid := make(map[string]bool)
	for _, scope := range AllScopes() {
		valid[string(scope)] = true
	}
	return valid
}

// ValidateScopes checks if all provided scopes are valid
func ValidateScopes(scopes []string) error {
	if len(scopes) == 0 {
		return fmt.Errorf("at least one scope is required")
	}
	valid := ValidScopes()
	for _, scope := range scopes {
		if !valid[scope] {
			return fmt.Errorf("invalid scope: %s", scope)
		}
	}
	return nil
}

// HasScope checks if a scope list contains required. A write scope implies
// the matching read scope.
func HasScope(scopes []string, required Scope) bool {
	for _, scope := range scopes {
		if scope == string(required) {
			return true
		}
		if required == ScopeFindingsRead && scope == string(ScopeFindingsWrite) {
			return true
		}
	}
	return false
}
