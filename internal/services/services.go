// Package services implements the operations that span several repositories and
// must be audited: logins, account lifecycle, groups, organizations and API keys.
//
// Every mutating operation runs in a single transaction through
// audit.Recorder.InTx, so the state change and its audit entry commit or roll
// back together. Handlers translate the returned errors with apperrors.Respond.
package services

import (
	"time"

	"github.com/sentinelops/sentinel/internal/apperrors"
	"github.com/sentinelops/sentinel/internal/audit"
	"github.com/sentinelops/sentinel/internal/authz"
	"github.com/sentinelops/sentinel/internal/db/models"
)

// RequestMeta carries the request attributes copied into audit entries.
type RequestMeta struct {
	IPAddress string
	RequestID string
	UserAgent string
}

// entry returns an audit entry stamped with the request attributes and, when
// actor is known, the actor's user and organization. Callers acting on another
// tenant's records overwrite OrganizationID with the target's organization.
func (m RequestMeta) entry(level models.AuditLevel, category, message string, actor *authz.Principal, md audit.Metadata) audit.Entry {
	e := audit.Entry{
		Level:     level,
		Category:  category,
		Source:    "api",
		Message:   message,
		Metadata:  md,
		IPAddress: m.IPAddress,
		RequestID: m.RequestID,
	}
	if actor != nil {
		uid := actor.UserID
		e.UserID = &uid
		e.OrganizationID = actor.OrganizationID
		if e.Metadata == nil {
			e.Metadata = audit.Metadata{}
		}
		e.Metadata["actor_role"] = string(actor.Role)
		if actor.IsAPIKey() {
			e.Metadata["api_key_id"] = actor.APIKeyID
		}
	}
	if m.UserAgent != "" {
		if e.Metadata == nil {
			e.Metadata = audit.Metadata{}
		}
		e.Metadata["user_agent"] = m.UserAgent
	}
	return e
}

// clock is swapped in tests.
type clock func() time.Time

func (c clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c()
}

// principalFor builds the session principal for a stored user.
func principalFor(u *models.User) *authz.Principal {
	return &authz.Principal{
		UserID:         u.ID,
		Username:       u.Username,
		Role:           u.Role,
		OrganizationID: u.OrganizationID,
		AuthMethod:     authz.AuthJWT,
	}
}

// scopeOf resolves the tenant scope of actor, turning a misconfigured principal
// into a plain authorization denial.
func scopeOf(actor *authz.Principal) (authz.Scope, error) {
	scope, err := authz.TenantScope(actor)
	if err != nil {
		return authz.Scope{}, apperrors.Forbidden(err.Error())
	}
	return scope, nil
}
