// audit.go records refused and failed requests on privileged routes. Successful
// actions are audited by the services inside their own transactions; this
// middleware only covers outcomes that never reach a commit.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/sentinelops/sentinel/internal/apperrors"
	"github.com/sentinelops/sentinel/internal/audit"
	"github.com/sentinelops/sentinel/internal/db/models"
)

// AuditDenialsMiddleware writes a BestEffort audit entry for every 403 and 500
// answered to an authenticated caller. Writes use conn directly, outside any
// request transaction, and never change the response.
func AuditDenialsMiddleware(recorder *audit.Recorder, conn sqlx.ExtContext) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status != http.StatusForbidden && status != http.StatusInternalServerError {
			return
		}
		p := Principal(c)
		if p == nil {
			return
		}

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		uid := p.UserID
		e := audit.Entry{
			Source:         "api",
			UserID:         &uid,
			OrganizationID: p.OrganizationID,
			IPAddress:      c.ClientIP(),
			RequestID:      c.GetString(RequestIDKey),
			Metadata: audit.Metadata{
				"method":      c.Request.Method,
				"route":       route,
				"status":      status,
				"auth_method": string(p.AuthMethod),
			},
		}
		if p.IsAPIKey() {
			e.Metadata["api_key_id"] = p.APIKeyID
		}

		if status == http.StatusForbidden {
			e.Level = models.AuditWarning
			e.Category = models.CategoryAuthz
			e.Message = "access denied"
			if reason := c.GetString(apperrors.DeniedReasonKey); reason != "" {
				e.Metadata["reason"] = reason
			}
		} else {
			e.Level = models.AuditError
			e.Category = models.CategorySystem
			e.Message = "request failed"
			if last := c.Errors.Last(); last != nil {
				e.Metadata["error"] = last.Error()
			}
		}

		_ = recorder.Write(c.Request.Context(), conn, audit.BestEffort, e)
	}
}
