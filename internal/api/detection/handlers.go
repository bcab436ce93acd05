// Package detection implements the HTTP surface of the findings collaborator:
// machine submission of findings with a scoped API key and tenant-scoped reads
// for analysts.
package detection

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sentinelops/sentinel/internal/api/paging"
	"github.com/sentinelops/sentinel/internal/apperrors"
	"github.com/sentinelops/sentinel/internal/authz"
	"github.com/sentinelops/sentinel/internal/db/models"
	"github.com/sentinelops/sentinel/internal/db/repositories"
	"github.com/sentinelops/sentinel/internal/findings"
	"github.com/sentinelops/sentinel/internal/middleware"
)

// FindingStore is the subset of findings.Ingestor used by Handlers.
type FindingStore interface {
	Ingest(ctx context.Context, p *authz.Principal, f findings.Finding) (*models.Finding, error)
	List(ctx context.Context, p *authz.Principal, f repositories.FindingFilters, limit, offset int) ([]*models.Finding, int, error)
}

// Handlers handles finding endpoints
type Handlers struct {
	store FindingStore
}

// NewHandlers creates a new Handlers instance
func NewHandlers(store FindingStore) *Handlers {
	return &Handlers{store: store}
}

// @Summary      Submit finding
// @Description  Requires an API key with the findings:write scope. organization_id defaults to the key owner's organization.
// @Tags         Findings
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  findings.Finding  true  "Finding"
// @Success      201  {object}  map[string]interface{}  "finding: models.Finding"
// @Failure      403  {object}  map[string]interface{}  "Forbidden"
// @Failure      422  {object}  map[string]interface{}  "Validation failed"
// @Router       /api/findings [post]
// SubmitHandler stores a pushed finding.
func (h *Handlers) SubmitHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := middleware.Principal(c)
		if p == nil {
			apperrors.Respond(c, apperrors.ErrAuthenticationRequired)
			return
		}
		var req findings.Finding
		if err := c.ShouldBindJSON(&req); err != nil {
			apperrors.Respond(c, apperrors.FromBinding(err))
			return
		}
		finding, err := h.store.Ingest(c.Request.Context(), p, req)
		if err != nil {
			apperrors.Respond(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"finding": finding})
	}
}

// ListHandler lists findings of the caller's organization, newest first.
func (h *Handlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := middleware.Principal(c)
		if p == nil {
			apperrors.Respond(c, apperrors.ErrAuthenticationRequired)
			return
		}
		filters := repositories.FindingFilters{
			Severity: models.Severity(c.Query("severity")),
			Source:   c.Query("source"),
		}
		if filters.Severity != "" && !filters.Severity.Valid() {
			apperrors.Respond(c, apperrors.Invalid("severity", "must be low, medium, high or critical"))
			return
		}
		pg := paging.Parse(c)
		items, total, err := h.store.List(c.Request.Context(), p, filters, pg.PerPage, pg.Offset())
		if err != nil {
			apperrors.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, paging.Response("findings", items, pg, total))
	}
}
