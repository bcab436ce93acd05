// Package middleware (rbac.go) implements role and scope checks for routes.
//
// Roles are read from the principal that AuthMiddleware loaded from the
// database on this request, never from token claims, so a demotion or
// suspension takes effect on the caller's next request.

package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/sentinelops/sentinel/internal/apperrors"
	"github.com/sentinelops/sentinel/internal/auth"
	"github.com/sentinelops/sentinel/internal/authz"
	"github.com/sentinelops/sentinel/internal/db/models"
)

// RequireRole allows principals ranked at or above minimum.
func RequireRole(minimum models.Role) gin.HandlerFunc {
	return require(authz.RequiredRoles(minimum))
}

// RequireGlobalRole allows only cross-tenant roles.
func RequireGlobalRole() gin.HandlerFunc {
	return require(authz.GlobalRoles())
}

func require(req authz.Requirement) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := Principal(c)
		if p == nil {
			apperrors.Respond(c, errMissingCredentials)
			return
		}
		if d := authz.Allow(p, req, nil); !d.Allowed() {
			deny(c, d.String())
			return
		}
		c.Next()
	}
}

// RequireScope narrows API-key principals to keys granted scope. Session
// principals carry their role's full authority and pass.
func RequireScope(scope auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := Principal(c)
		if p == nil {
			apperrors.Respond(c, errMissingCredentials)
			return
		}
		if p.IsAPIKey() && !auth.HasScope(p.Scopes, scope) {
			deny(c, "missing_scope:"+string(scope))
			return
		}
		c.Next()
	}
}

// RequireAPIKeyScope admits only API-key principals holding scope. It guards
// machine-to-machine endpoints such as finding submission.
func RequireAPIKeyScope(scope auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := Principal(c)
		if p == nil {
			apperrors.Respond(c, errMissingCredentials)
			return
		}
		if !p.IsAPIKey() {
			deny(c, "api_key_required")
			return
		}
		if !auth.HasScope(p.Scopes, scope) {
			deny(c, "missing_scope:"+string(scope))
			return
		}
		c.Next()
	}
}

// RequireSession rejects API-key principals. Account administration is only
// reachable with an interactive session.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := Principal(c)
		if p == nil {
			apperrors.Respond(c, errMissingCredentials)
			return
		}
		if p.IsAPIKey() {
			deny(c, "session_required")
			return
		}
		c.Next()
	}
}

func deny(c *gin.Context, reason string) {
	apperrors.Respond(c, apperrors.Forbidden(reason))
}
