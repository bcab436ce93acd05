package services

import (
	"context"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/sentinelops/sentinel/internal/apperrors"
	"github.com/sentinelops/sentinel/internal/audit"
	"github.com/sentinelops/sentinel/internal/authz"
	"github.com/sentinelops/sentinel/internal/db/models"
	"github.com/sentinelops/sentinel/internal/db/repositories"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}$`)

// OrganizationInput carries the writable organization fields. Nil fields are
// left unchanged on update and take defaults on create.
type OrganizationInput struct {
	Name             *string
	Slug             *string
	Domain           *string
	SubscriptionPlan *models.SubscriptionPlan
	MaxDevices       *int
	MaxScansPerDay   *int
	LogRetentionDays *int
	IsActive         *bool
}

// Organizations manages tenants. Every operation requires a global role.
type Organizations struct {
	db       *sqlx.DB
	orgs     *repositories.OrganizationRepository
	recorder *audit.Recorder
	// defaultRetentionDays applies when a new organization does not set one
	defaultRetentionDays int
}

// NewOrganizations creates the organization service.
func NewOrganizations(conn *sqlx.DB, recorder *audit.Recorder, defaultRetentionDays int) *Organizations {
	return &Organizations{
		db:                   conn,
		orgs:                 repositories.NewOrganizationRepository(conn),
		recorder:             recorder,
		defaultRetentionDays: defaultRetentionDays,
	}
}

func requireGlobal(actor *authz.Principal) error {
	if actor == nil || !authz.IsGlobal(actor.Role) {
		return apperrors.Forbidden("global role required")
	}
	return nil
}

// List returns every organization.
func (o *Organizations) List(ctx context.Context, actor *authz.Principal, search string, limit, offset int) ([]*models.Organization, int, error) {
	if err := requireGlobal(actor); err != nil {
		return nil, 0, err
	}
	return o.orgs.List(ctx, search, limit, offset)
}

// Get returns one organization.
func (o *Organizations) Get(ctx context.Context, actor *authz.Principal, id int64) (*models.Organization, error) {
	if err := requireGlobal(actor); err != nil {
		return nil, err
	}
	return o.orgs.GetByID(ctx, id)
}

// Create adds an organization.
func (o *Organizations) Create(ctx context.Context, actor *authz.Principal, in OrganizationInput, meta RequestMeta) (*models.Organization, error) {
	if err := requireGlobal(actor); err != nil {
		return nil, err
	}
	org := &models.Organization{
		SubscriptionPlan: models.PlanFree,
		MaxDevices:       10,
		MaxScansPerDay:   5,
		LogRetentionDays: o.defaultRetentionDays,
		IsActive:         true,
	}
	if in.Slug != nil {
		org.Slug = strings.ToLower(strings.TrimSpace(*in.Slug))
	}
	verr := &apperrors.ValidationError{}
	if !slugPattern.MatchString(org.Slug) {
		verr.Add("slug", "must be 2-63 lowercase letters, digits or hyphens")
	}
	applyOrganization(org, in, verr)
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	err := o.recorder.InTx(ctx, o.db, func(tx *audit.Tx) error {
		if err := o.orgs.WithTx(tx.Tx).Create(ctx, org); err != nil {
			return err
		}
		return tx.Record(ctx, meta.entry(models.AuditInfo, models.CategoryAdmin, "organization created", actor, audit.Metadata{
			"target_organization_id": org.ID,
			"slug":                   org.Slug,
			"subscription_plan":      string(org.SubscriptionPlan),
		}))
	})
	if err != nil {
		return nil, err
	}
	return org, nil
}

// Update changes the mutable fields of an organization. The slug is fixed.
func (o *Organizations) Update(ctx context.Context, actor *authz.Principal, id int64, in OrganizationInput, meta RequestMeta) (*models.Organization, error) {
	if err := requireGlobal(actor); err != nil {
		return nil, err
	}
	org, err := o.orgs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	verr := &apperrors.ValidationError{}
	if in.Slug != nil && *in.Slug != org.Slug {
		verr.Add("slug", "cannot be changed")
	}
	changed := applyOrganization(org, in, verr)
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	if len(changed) == 0 {
		return org, nil
	}

	err = o.recorder.InTx(ctx, o.db, func(tx *audit.Tx) error {
		if err := o.orgs.WithTx(tx.Tx).Update(ctx, org); err != nil {
			return err
		}
		level := models.AuditInfo
		if in.IsActive != nil && !*in.IsActive {
			level = models.AuditWarning
		}
		return tx.Record(ctx, meta.entry(level, models.CategoryAdmin, "organization updated", actor, audit.Metadata{
			"target_organization_id": org.ID,
			"changed":                changed,
		}))
	})
	if err != nil {
		return nil, err
	}
	return org, nil
}

// applyOrganization copies the set fields of in onto org, recording problems
// in verr, and returns the names of the fields that changed.
func applyOrganization(org *models.Organization, in OrganizationInput, verr *apperrors.ValidationError) []string {
	changed := []string{}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			verr.Add("name", "is required")
		} else if name != org.Name {
			org.Name = name
			changed = append(changed, "name")
		}
	} else if org.Name == "" {
		verr.Add("name", "is required")
	}
	if in.Domain != nil {
		org.Domain = in.Domain
		changed = append(changed, "domain")
	}
	if in.SubscriptionPlan != nil {
		if !in.SubscriptionPlan.Valid() {
			verr.Add("subscription_plan", "unknown plan")
		} else if *in.SubscriptionPlan != org.SubscriptionPlan {
			org.SubscriptionPlan = *in.SubscriptionPlan
			changed = append(changed, "subscription_plan")
		}
	}
	setLimit := func(field string, v *int, dst *int, min int) {
		if v == nil {
			return
		}
		if *v < min {
			verr.Add(field, "is out of range")
			return
		}
		if *v != *dst {
			*dst = *v
			changed = append(changed, field)
		}
	}
	setLimit("max_devices", in.MaxDevices, &org.MaxDevices, 0)
	setLimit("max_scans_per_day", in.MaxScansPerDay, &org.MaxScansPerDay, 0)
	setLimit("log_retention_days", in.LogRetentionDays, &org.LogRetentionDays, 1)
	if in.IsActive != nil && *in.IsActive != org.IsActive {
		org.IsActive = *in.IsActive
		changed = append(changed, "is_active")
	}
	return changed
}
