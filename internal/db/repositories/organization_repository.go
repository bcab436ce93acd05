// organization_repository.go implements OrganizationRepository. Organizations
// are never deleted; Update may flip is_active to soft-disable a tenant.
package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sentinelops/sentinel/internal/db/models"
)

const organizationColumns = `id, name, slug, domain, subscription_plan, max_devices,
	max_scans_per_day, log_retention_days, is_active, created_at, updated_at`

// OrganizationRepository handles organization database operations
type OrganizationRepository struct {
	db sqlx.ExtContext
}

// NewOrganizationRepository creates a new OrganizationRepository
func NewOrganizationRepository(db sqlx.ExtContext) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *OrganizationRepository) WithTx(tx *sqlx.Tx) *OrganizationRepository {
	return &OrganizationRepository{db: tx}
}

// Create inserts an organization. A duplicate slug is a ConflictError.
func (r *OrganizationRepository) Create(ctx context.Context, org *models.Organization) error {
	query := `
		INSERT INTO organizations (name, slug, domain, subscription_plan, max_devices,
			max_scans_per_day, log_retention_days, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRowxContext(ctx, query,
		org.Name,
		org.Slug,
		org.Domain,
		org.SubscriptionPlan,
		org.MaxDevices,
		org.MaxScansPerDay,
		org.LogRetentionDays,
		org.IsActive,
	).Scan(&org.ID, &org.CreatedAt, &org.UpdatedAt)
	return mapWriteErr(err, "organization")
}

// GetByID retrieves an organization by id
func (r *OrganizationRepository) GetByID(ctx context.Context, id int64) (*models.Organization, error) {
	var org models.Organization
	err := sqlx.GetContext(ctx, r.db, &org, `SELECT `+organizationColumns+` FROM organizations WHERE id = $1`, id)
	if err != nil {
		return nil, mapReadErr(err, "organization")
	}
	return &org, nil
}

// GetBySlug retrieves an organization by slug
func (r *OrganizationRepository) GetBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	var org models.Organization
	err := sqlx.GetContext(ctx, r.db, &org, `SELECT `+organizationColumns+` FROM organizations WHERE slug = $1`, slug)
	if err != nil {
		return nil, mapReadErr(err, "organization")
	}
	return &org, nil
}

// List returns every organization ordered by name. Only global roles reach it.
func (r *OrganizationRepository) List(ctx context.Context, search string, limit, offset int) ([]*models.Organization, int, error) {
	var c conditions
	if search != "" {
		c.add("(name ILIKE ? OR slug ILIKE ?)", "%"+search+"%")
	}

	var total int
	if err := sqlx.GetContext(ctx, r.db, &total, `SELECT COUNT(*) FROM organizations`+c.where(), c.args...); err != nil {
		return nil, 0, fmt.Errorf("count organizations: %w", err)
	}

	pageClause, args := c.page(limit, offset)
	orgs := []*models.Organization{}
	query := `SELECT ` + organizationColumns + ` FROM organizations` + c.where() + ` ORDER BY name, id` + pageClause
	if err := sqlx.SelectContext(ctx, r.db, &orgs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list organizations: %w", err)
	}
	return orgs, total, nil
}

// Update stores the mutable fields of org.
func (r *OrganizationRepository) Update(ctx context.Context, org *models.Organization) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE organizations
		SET name = $1, domain = $2, subscription_plan = $3, max_devices = $4,
			max_scans_per_day = $5, log_retention_days = $6, is_active = $7, updated_at = NOW()
		WHERE id = $8`,
		org.Name,
		org.Domain,
		org.SubscriptionPlan,
		org.MaxDevices,
		org.MaxScansPerDay,
		org.LogRetentionDays,
		org.IsActive,
		org.ID,
	)
	return expectAffected(res, err, "organization")
}

// RetentionPolicy is the audit retention of one organization
type RetentionPolicy struct {
	OrganizationID   int64 `db:"id"`
	LogRetentionDays int   `db:"log_retention_days"`
}

// RetentionPolicies lists the audit retention of every organization.
func (r *OrganizationRepository) RetentionPolicies(ctx context.Context) ([]RetentionPolicy, error) {
	var out []RetentionPolicy
	err := sqlx.SelectContext(ctx, r.db, &out, `SELECT id, log_retention_days FROM organizations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list retention policies: %w", err)
	}
	return out, nil
}

// Count returns the number of organizations.
func (r *OrganizationRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, r.db, &n, `SELECT COUNT(*) FROM organizations`); err != nil {
		return 0, fmt.Errorf("count organizations: %w", err)
	}
	return n, nil
}
