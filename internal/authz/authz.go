// Package authz is the single authorization predicate for Sentinel.
//
// Every access decision, whether made by route middleware, a handler comparing
// a resource's organization, or the notification hub filtering events, goes
// through the functions in this package. Founder-tier access is the top of the
// role order, not a separate bypass: a global role passes the tenant check
// because TenantScope returns a global scope for it.
package authz

import (
	"errors"
	"log/slog"

	"github.com/sentinelops/sentinel/internal/db/models"
	"github.com/sentinelops/sentinel/internal/telemetry"
)

// ErrMisconfiguredPrincipal is returned for a tenant-scoped role with no organization.
// Such a principal is denied everything rather than treated as global.
var ErrMisconfiguredPrincipal = errors.New("tenant-scoped principal has no organization")

// Rank returns the position of r in the role order. Unknown roles rank 0.
func Rank(r models.Role) int {
	switch r {
	case models.RolePlatformFounder, models.RoleFounder:
		return 4
	case models.RolePlatformOwner:
		return 3
	case models.RoleSecurityAdmin:
		return 2
	case models.RoleSOCAnalyst:
		return 1
	default:
		return 0
	}
}

// IsGlobal reports whether r sees every organization.
func IsGlobal(r models.Role) bool {
	return r == models.RolePlatformFounder || r == models.RoleFounder
}

// AuthMethod records how a principal authenticated
type AuthMethod string

const (
	AuthJWT    AuthMethod = "jwt"
	AuthAPIKey AuthMethod = "api_key"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID         int64
	Username       string
	Role           models.Role
	OrganizationID *int64
	AuthMethod     AuthMethod
	// Scopes narrows API-key principals; session principals carry none.
	Scopes []string
	// APIKeyID is set when AuthMethod is AuthAPIKey
	APIKeyID int64
}

// IsAPIKey reports whether the principal authenticated with an API key.
func (p *Principal) IsAPIKey() bool {
	return p != nil && p.AuthMethod == AuthAPIKey
}

// AtLeast reports whether the principal's role ranks at or above minimum.
// Unknown roles never pass, whatever the minimum.
func AtLeast(p *Principal, minimum models.Role) bool {
	if p == nil {
		return false
	}
	rank := Rank(p.Role)
	return rank > 0 && rank >= Rank(minimum)
}

// Scope is the set of organizations a principal may see.
type Scope struct {
	Global         bool
	OrganizationID int64
}

// Includes reports whether orgID is visible within the scope.
func (s Scope) Includes(orgID int64) bool {
	return s.Global || s.OrganizationID == orgID
}

// OrgFilter returns nil for a global scope and the organization id otherwise,
// ready to use as an optional query argument.
func (s Scope) OrgFilter() *int64 {
	if s.Global {
		return nil
	}
	id := s.OrganizationID
	return &id
}

// TenantScope resolves the organizations a principal may see. A non-global
// principal without an organization is an anomaly: it is logged, counted and
// denied.
func TenantScope(p *Principal) (Scope, error) {
	if p == nil || Rank(p.Role) == 0 {
		return Scope{}, ErrMisconfiguredPrincipal
	}
	if IsGlobal(p.Role) {
		return Scope{Global: true}, nil
	}
	if p.OrganizationID == nil {
		slog.Warn("authz anomaly: tenant-scoped principal without organization",
			"user_id", p.UserID, "role", p.Role)
		telemetry.AuthzAnomaliesTotal.Inc()
		return Scope{}, ErrMisconfiguredPrincipal
	}
	return Scope{OrganizationID: *p.OrganizationID}, nil
}

// CanAccessOrg reports whether the principal may see data owned by orgID.
func CanAccessOrg(p *Principal, orgID int64) bool {
	scope, err := TenantScope(p)
	if err != nil {
		return false
	}
	return scope.Includes(orgID)
}

// CanManageRole reports whether actor may assign or modify accounts holding target.
// Nobody manages roles above their own, and only global roles manage global roles.
func CanManageRole(actor *Principal, target models.Role) bool {
	if actor == nil || !target.Valid() || Rank(actor.Role) == 0 {
		return false
	}
	if IsGlobal(target) && !IsGlobal(actor.Role) {
		return false
	}
	return Rank(target) <= Rank(actor.Role)
}
