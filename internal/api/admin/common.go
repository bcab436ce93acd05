// Package admin implements the HTTP handlers for authentication and tenant
// administration: sessions, users, organizations, groups, API keys and audit logs.
//
// Handlers bind and validate the request, resolve the authenticated principal set
// by middleware.AuthMiddleware and delegate to the services package. All errors
// are written through apperrors.Respond so status codes and bodies stay uniform.
package admin

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sentinelops/sentinel/internal/apperrors"
	"github.com/sentinelops/sentinel/internal/authz"
	"github.com/sentinelops/sentinel/internal/middleware"
	"github.com/sentinelops/sentinel/internal/services"
)

// requestMeta copies the audit-relevant request attributes.
func requestMeta(c *gin.Context) services.RequestMeta {
	return services.RequestMeta{
		IPAddress: c.ClientIP(),
		RequestID: c.GetString(middleware.RequestIDKey),
		UserAgent: c.Request.UserAgent(),
	}
}

// pathID parses a numeric path parameter. A malformed id is reported as not
// found, the same as an id outside the caller's tenant.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id < 1 {
		apperrors.Respond(c, apperrors.ErrNotFound)
		return 0, false
	}
	return id, true
}

// bind decodes the JSON body into req, answering 422 on failure.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		apperrors.Respond(c, apperrors.FromBinding(err))
		return false
	}
	return true
}

// principal returns the authenticated caller. Routes are mounted behind
// AuthMiddleware, so a missing principal is a wiring fault.
func principal(c *gin.Context) (*authz.Principal, bool) {
	p := middleware.Principal(c)
	if p == nil {
		apperrors.Respond(c, apperrors.ErrAuthenticationRequired)
		return nil, false
	}
	return p, true
}
