// stats.go implements the dashboard summary: account states, recent findings
// by severity and recent audit activity by level, all within the caller's
// tenant scope.
package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sentinelops/sentinel/internal/apperrors"
	"github.com/sentinelops/sentinel/internal/authz"
	"github.com/sentinelops/sentinel/internal/db/models"
)

const (
	defaultStatsDays = 1
	maxStatsDays     = 90
)

// UserCounter is implemented by repositories.UserRepository.
type UserCounter interface {
	CountByStatus(ctx context.Context, scope authz.Scope) (map[models.AccountStatus]int, error)
}

// FindingCounter is implemented by repositories.FindingRepository.
type FindingCounter interface {
	CountBySeverity(ctx context.Context, scope authz.Scope, since time.Time) (map[models.Severity]int, error)
}

// AuditCounter is implemented by repositories.AuditRepository.
type AuditCounter interface {
	CountByLevel(ctx context.Context, scope authz.Scope, since time.Time) (map[models.AuditLevel]int, error)
}

// StatsHandler handles stats-related API requests
type StatsHandler struct {
	users    UserCounter
	findings FindingCounter
	audit    AuditCounter
	now      func() time.Time
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(users UserCounter, findings FindingCounter, audit AuditCounter) *StatsHandler {
	return &StatsHandler{users: users, findings: findings, audit: audit, now: time.Now}
}

// DashboardStats represents the response for dashboard statistics
type DashboardStats struct {
	Since              time.Time                    `json:"since"`
	UsersByStatus      map[models.AccountStatus]int `json:"users_by_status"`
	FindingsBySeverity map[models.Severity]int      `json:"findings_by_severity"`
	AuditByLevel       map[models.AuditLevel]int    `json:"audit_by_level"`
}

// @Summary      Get dashboard statistics
// @Description  Account counts by status, plus findings by severity and audit entries by level over the last `days` days. Scoped roles see their own organization only.
// @Tags         Stats
// @Security     Bearer
// @Produce      json
// @Param        days  query  int  false  "Window in days, 1 to 90 (default 1)"
// @Success      200  {object}  DashboardStats
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      422  {object}  map[string]interface{}  "Validation failed"
// @Router       /api/admin/stats [get]
// GetDashboardStats returns dashboard statistics for the caller's scope.
func (h *StatsHandler) GetDashboardStats(c *gin.Context) {
	_, scope, ok := callerScope(c)
	if !ok {
		return
	}
	days := defaultStatsDays
	if v := c.Query("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxStatsDays {
			apperrors.Respond(c, apperrors.Invalid("days", "must be an integer between 1 and 90"))
			return
		}
		days = n
	}

	ctx := c.Request.Context()
	stats := DashboardStats{Since: h.now().UTC().AddDate(0, 0, -days)}
	var err error
	if stats.UsersByStatus, err = h.users.CountByStatus(ctx, scope); err != nil {
		apperrors.Respond(c, err)
		return
	}
	if stats.FindingsBySeverity, err = h.findings.CountBySeverity(ctx, scope, stats.Since); err != nil {
		apperrors.Respond(c, err)
		return
	}
	if stats.AuditByLevel, err = h.audit.CountByLevel(ctx, scope, stats.Since); err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
