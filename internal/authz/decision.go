package authz

import (
	"errors"

	"github.com/sentinelops/sentinel/internal/db/models"
	"github.com/sentinelops/sentinel/internal/telemetry"
)

// Decision is the outcome of Allow.
type Decision int

const (
	DecisionAllow Decision = iota
	DecisionDenyRole
	DecisionDenyTenant
	DecisionDenyMisconfigured
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionDenyRole:
		return "deny_role"
	case DecisionDenyTenant:
		return "deny_tenant"
	case DecisionDenyMisconfigured:
		return "deny_misconfigured"
	default:
		return "unknown"
	}
}

// Allowed reports whether d permits the request.
func (d Decision) Allowed() bool { return d == DecisionAllow }

// Requirement describes who may reach an operation.
type Requirement struct {
	// Minimum is the lowest role allowed.
	Minimum models.Role
	// GlobalOnly restricts the operation to global roles.
	GlobalOnly bool
}

// RequiredRoles is a shorthand for a minimum-role requirement.
func RequiredRoles(minimum models.Role) Requirement {
	return Requirement{Minimum: minimum}
}

// GlobalRoles is the requirement for cross-tenant operations.
func GlobalRoles() Requirement {
	return Requirement{Minimum: models.RolePlatformFounder, GlobalOnly: true}
}

// Allow evaluates the full predicate: role rank first, then tenant ownership of
// the resource when resourceOrgID is non-nil. A nil resourceOrgID means the
// operation is not bound to a single organization (e.g. listing, which applies
// TenantScope in the query instead).
func Allow(p *Principal, req Requirement, resourceOrgID *int64) Decision {
	d := evaluate(p, req, resourceOrgID)
	telemetry.AuthzDecisionsTotal.WithLabelValues(d.String()).Inc()
	return d
}

func evaluate(p *Principal, req Requirement, resourceOrgID *int64) Decision {
	if p == nil || !AtLeast(p, req.Minimum) {
		return DecisionDenyRole
	}
	if req.GlobalOnly && !IsGlobal(p.Role) {
		return DecisionDenyRole
	}
	scope, err := TenantScope(p)
	if errors.Is(err, ErrMisconfiguredPrincipal) {
		return DecisionDenyMisconfigured
	}
	if resourceOrgID != nil && !scope.Includes(*resourceOrgID) {
		return DecisionDenyTenant
	}
	return DecisionAllow
}
