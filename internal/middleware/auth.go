// Package middleware provides Gin HTTP middleware for authentication, authorization,
// rate limiting, security headers, and audit logging.
//
// Middleware ordering matters and is enforced in router.go:
//
//	RequestID → Metrics → Logger → Security → CORS → RateLimit → Auth → RBAC → Audit → Handler
//
// Security headers run early so they appear on all responses including errors.
// Rate limiting runs before auth to block brute-force attempts before any DB work.
// Auth resolves the principal from the database on every request; RBAC reads it.
package middleware

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/sentinelops/sentinel/internal/apperrors"
	"github.com/sentinelops/sentinel/internal/auth"
	"github.com/sentinelops/sentinel/internal/authz"
)

// Context keys set by AuthMiddleware for handlers and later middleware.
const (
	UserIDKey     = "user_id"
	OrgIDKey      = "organization_id"
	AuthMethodKey = "auth_method"
	APIKeyIDKey   = "api_key_id"
)

var (
	errMissingCredentials = apperrors.ErrAuthenticationRequired
	errInvalidToken       = &apperrors.AuthenticationError{Message: "invalid token"}
	errTokenExpired       = &apperrors.AuthenticationError{Message: "token expired"}
)

// PrincipalResolver loads the live principal for a token subject. Role,
// organization and account status come from the database, not from the token.
type PrincipalResolver interface {
	CurrentPrincipal(ctx context.Context, userID int64) (*authz.Principal, error)
}

// APIKeyAuthenticator resolves a raw API key to its owner's principal.
type APIKeyAuthenticator interface {
	Prefix() string
	Authenticate(ctx context.Context, raw string) (*authz.Principal, error)
}

// AuthMiddleware authenticates the bearer credential. Credentials carrying the
// API key prefix go to keys (when non-nil); everything else must be a session
// JWT. A valid token whose account is no longer active is rejected with 403.
func AuthMiddleware(users PrincipalResolver, keys APIKeyAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := authenticate(c, users, keys)
		if err != nil {
			apperrors.Respond(c, err)
			return
		}
		SetPrincipal(c, p)
		c.Next()
	}
}

func authenticate(c *gin.Context, users PrincipalResolver, keys APIKeyAuthenticator) (*authz.Principal, error) {
	ctx := c.Request.Context()
	token, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
	if err != nil {
		return nil, errMissingCredentials
	}

	if keys != nil && auth.IsAPIKey(token, keys.Prefix()) {
		return keys.Authenticate(ctx, token)
	}

	claims, err := auth.ValidateJWT(token)
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return nil, errTokenExpired
	case err != nil:
		slog.Debug("rejected bearer token", "request_id", c.GetString(RequestIDKey), "error", err)
		return nil, errInvalidToken
	}

	p, err := users.CurrentPrincipal(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	p.AuthMethod = authz.AuthJWT
	return p, nil
}

// SetPrincipal attaches p to the request context and the gin context.
func SetPrincipal(c *gin.Context, p *authz.Principal) {
	c.Request = c.Request.WithContext(authz.WithPrincipal(c.Request.Context(), p))
	c.Set(UserIDKey, p.UserID)
	c.Set(AuthMethodKey, string(p.AuthMethod))
	if p.OrganizationID != nil {
		c.Set(OrgIDKey, *p.OrganizationID)
	}
	if p.IsAPIKey() {
		c.Set(APIKeyIDKey, p.APIKeyID)
	}
}

// Principal returns the authenticated principal of the request, or nil.
func Principal(c *gin.Context) *authz.Principal {
	p, _ := authz.FromContext(c.Request.Context())
	return p
}
