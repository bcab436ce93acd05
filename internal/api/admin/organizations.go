// organizations.go implements handlers for tenant management. Every route here is
// restricted to global roles.
package admin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sentinelops/sentinel/internal/api/paging"
	"github.com/sentinelops/sentinel/internal/apperrors"
	"github.com/sentinelops/sentinel/internal/authz"
	"github.com/sentinelops/sentinel/internal/db/models"
	"github.com/sentinelops/sentinel/internal/services"
)

// OrganizationService is the subset of services.Organizations used here.
type OrganizationService interface {
	List(ctx context.Context, actor *authz.Principal, search string, limit, offset int) ([]*models.Organization, int, error)
	Get(ctx context.Context, actor *authz.Principal, id int64) (*models.Organization, error)
	Create(ctx context.Context, actor *authz.Principal, in services.OrganizationInput, meta services.RequestMeta) (*models.Organization, error)
	Update(ctx context.Context, actor *authz.Principal, id int64, in services.OrganizationInput, meta services.RequestMeta) (*models.Organization, error)
}

// OrganizationHandlers handles organization management endpoints
type OrganizationHandlers struct {
	orgs OrganizationService
}

// NewOrganizationHandlers creates a new OrganizationHandlers instance
func NewOrganizationHandlers(orgs OrganizationService) *OrganizationHandlers {
	return &OrganizationHandlers{orgs: orgs}
}

// OrganizationRequest is the body of organization create and update. Omitted
// fields keep their current value on update.
type OrganizationRequest struct {
	Name             *string                  `json:"name"`
	Slug             *string                  `json:"slug"`
	Domain           *string                  `json:"domain"`
	SubscriptionPlan *models.SubscriptionPlan `json:"subscription_plan"`
	MaxDevices       *int                     `json:"max_devices" binding:"omitempty,gte=0"`
	MaxScansPerDay   *int                     `json:"max_scans_per_day" binding:"omitempty,gte=0"`
	LogRetentionDays *int                     `json:"log_retention_days" binding:"omitempty,gte=1"`
	IsActive         *bool                    `json:"is_active"`
}

func (r OrganizationRequest) input() services.OrganizationInput {
	return services.OrganizationInput{
		Name:             r.Name,
		Slug:             r.Slug,
		Domain:           r.Domain,
		SubscriptionPlan: r.SubscriptionPlan,
		MaxDevices:       r.MaxDevices,
		MaxScansPerDay:   r.MaxScansPerDay,
		LogRetentionDays: r.LogRetentionDays,
		IsActive:         r.IsActive,
	}
}

// @Summary      List organizations
// @Tags         Organizations
// @Security     Bearer
// @Produce      json
// @Param        page      query  int     false  "Page number (default 1)"
// @Param        per_page  query  int     false  "Items per page, max 100 (default 20)"
// @Param        search    query  string  false  "Name or slug contains"
// @Success      200  {object}  map[string]interface{}  "organizations: []models.Organization, pagination: map"
// @Failure      403  {object}  map[string]interface{}  "Forbidden"
// @Router       /api/admin/organizations [get]
// ListOrganizationsHandler lists every tenant.
func (h *OrganizationHandlers) ListOrganizationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		pg := paging.Parse(c)
		orgs, total, err := h.orgs.List(c.Request.Context(), p, c.Query("search"), pg.PerPage, pg.Offset())
		if err != nil {
			apperrors.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, paging.Response("organizations", orgs, pg, total))
	}
}

// GetOrganizationHandler returns one organization.
func (h *OrganizationHandlers) GetOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		org, err := h.orgs.Get(c.Request.Context(), p, id)
		if err != nil {
			apperrors.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"organization": org})
	}
}

// @Summary      Create organization
// @Tags         Organizations
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  OrganizationRequest  true  "Organization"
// @Success      201  {object}  map[string]interface{}  "organization: models.Organization"
// @Failure      409  {object}  map[string]interface{}  "Slug already exists"
// @Failure      422  {object}  map[string]interface{}  "Validation failed"
// @Router       /api/admin/organizations [post]
// CreateOrganizationHandler creates a tenant.
func (h *OrganizationHandlers) CreateOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		var req OrganizationRequest
		if !bind(c, &req) {
			return
		}
		org, err := h.orgs.Create(c.Request.Context(), p, req.input(), requestMeta(c))
		if err != nil {
			apperrors.Respond(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"organization": org})
	}
}

// UpdateOrganizationHandler applies a partial update.
func (h *OrganizationHandlers) UpdateOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req OrganizationRequest
		if !bind(c, &req) {
			return
		}
		org, err := h.orgs.Update(c.Request.Context(), p, id, req.input(), requestMeta(c))
		if err != nil {
			apperrors.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"organization": org})
	}
}
