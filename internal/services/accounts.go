package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sentinelops/sentinel/internal/apperrors"
	"github.com/sentinelops/sentinel/internal/audit"
	"github.com/sentinelops/sentinel/internal/auth"
	"github.com/sentinelops/sentinel/internal/authz"
	"github.com/sentinelops/sentinel/internal/db/models"
	"github.com/sentinelops/sentinel/internal/db/repositories"
)

// unusablePasswordHash is stored for directory and SSO accounts. It is not a
// valid bcrypt hash, so it never verifies.
const unusablePasswordHash = "!"

// CreateUserInput is the admin request to create an account.
type CreateUserInput struct {
	Username         string
	Email            string
	Password         string
	FullName         string
	Role             models.Role
	OrganizationID   *int64
	AccountType      models.AccountType
	AccountExpiresAt *time.Time
	AuthSource       models.AuthSource
	// Pending creates the account in the pending state, awaiting activation.
	Pending bool
}

// Accounts manages user accounts and their lifecycle.
type Accounts struct {
	db       *sqlx.DB
	users    *repositories.UserRepository
	recorder *audit.Recorder
	clock    clock
}

// NewAccounts creates the account service.
func NewAccounts(conn *sqlx.DB, recorder *audit.Recorder) *Accounts {
	return &Accounts{
		db:       conn,
		users:    repositories.NewUserRepository(conn),
		recorder: recorder,
	}
}

// List returns the live accounts visible to actor.
func (a *Accounts) List(ctx context.Context, actor *authz.Principal, f repositories.UserFilters, limit, offset int) ([]*models.User, int, error) {
	scope, err := scopeOf(actor)
	if err != nil {
		return nil, 0, err
	}
	return a.users.List(ctx, scope, f, limit, offset)
}

// Get returns one account. Accounts in other organizations are not found.
func (a *Accounts) Get(ctx context.Context, actor *authz.Principal, id int64) (*models.User, error) {
	scope, err := scopeOf(actor)
	if err != nil {
		return nil, err
	}
	return a.users.GetInScope(ctx, scope, id)
}

// Create adds an account. Tenant-scoped actors always create in their own
// organization; global actors choose the organization.
func (a *Accounts) Create(ctx context.Context, actor *authz.Principal, in CreateUserInput, meta RequestMeta) (*models.User, error) {
	scope, err := scopeOf(actor)
	if err != nil {
		return nil, err
	}
	if !authz.CanManageRole(actor, in.Role) {
		if !in.Role.Valid() {
			return nil, apperrors.Invalid("role", "unknown role")
		}
		return nil, apperrors.Forbidden("role above actor")
	}

	orgID := in.OrganizationID
	if !scope.Global {
		if orgID != nil && *orgID != scope.OrganizationID {
			return nil, apperrors.Forbidden("create outside own organization")
		}
		own := scope.OrganizationID
		orgID = &own
	}

	u, err := a.newUser(in, orgID)
	if err != nil {
		return nil, err
	}

	err = a.recorder.InTx(ctx, a.db, func(tx *audit.Tx) error {
		if err := a.users.WithTx(tx.Tx).Create(ctx, u); err != nil {
			return err
		}
		e := meta.entry(models.AuditInfo, models.CategoryAdmin, "user created", actor, audit.Metadata{
			"target_user_id":  u.ID,
			"username":        u.Username,
			"role":            string(u.Role),
			"organization_id": u.OrganizationID,
			"status":          string(u.Status),
		})
		e.OrganizationID = u.OrganizationID
		return tx.Record(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (a *Accounts) newUser(in CreateUserInput, orgID *int64) (*models.User, error) {
	verr := &apperrors.ValidationError{}
	username := strings.TrimSpace(in.Username)
	if username == "" {
		verr.Add("username", "is required")
	}
	if !strings.Contains(in.Email, "@") {
		verr.Add("email", "must be an email address")
	}
	if orgID == nil && !authz.IsGlobal(in.Role) {
		verr.Add("organization_id", "is required for this role")
	}

	accountType := in.AccountType
	if accountType == "" {
		accountType = models.AccountStandard
	}
	if !accountType.Valid() {
		verr.Add("account_type", "unknown account type")
	}
	if accountType == models.AccountTemporary && in.AccountExpiresAt == nil {
		verr.Add("account_expires_at", "is required for temporary accounts")
	}
	if in.AccountExpiresAt != nil && !in.AccountExpiresAt.After(a.clock.now()) {
		verr.Add("account_expires_at", "must be in the future")
	}

	source := in.AuthSource
	if source == "" {
		source = models.AuthSourceLocal
	}
	hash := unusablePasswordHash
	switch source {
	case models.AuthSourceLocal:
		h, err := auth.HashPassword(in.Password)
		if err != nil {
			verr.Add("password", err.Error())
		}
		hash = h
	case models.AuthSourceLDAP, models.AuthSourceOIDC:
		if in.Password != "" {
			verr.Add("password", "must be empty for directory and SSO accounts")
		}
	default:
		verr.Add("auth_source", "unknown auth source")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	status := models.StatusActive
	if in.Pending {
		status = models.StatusPending
	}
	return &models.User{
		Username:         username,
		Email:            strings.ToLower(strings.TrimSpace(in.Email)),
		PasswordHash:     hash,
		FullName:         in.FullName,
		Role:             in.Role,
		OrganizationID:   orgID,
		Status:           status,
		AccountType:      accountType,
		AccountExpiresAt: in.AccountExpiresAt,
		AuthSource:       source,
	}, nil
}

// target loads a managed account and checks that actor may modify it.
func (a *Accounts) target(ctx context.Context, actor *authz.Principal, id int64) (*models.User, error) {
	scope, err := scopeOf(actor)
	if err != nil {
		return nil, err
	}
	u, err := a.users.GetInScope(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if u.ID == actor.UserID {
		return nil, apperrors.Forbidden("cannot modify own account")
	}
	if !authz.CanManageRole(actor, u.Role) {
		return nil, apperrors.Forbidden("target role above actor")
	}
	return u, nil
}

// ChangeRole assigns a new role. Both the current and the new role must be
// manageable by the actor.
func (a *Accounts) ChangeRole(ctx context.Context, actor *authz.Principal, id int64, role models.Role, meta RequestMeta) (*models.User, error) {
	if !role.Valid() {
		return nil, apperrors.Invalid("role", "unknown role")
	}
	u, err := a.target(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !authz.CanManageRole(actor, role) {
		return nil, apperrors.Forbidden("role above actor")
	}
	if u.OrganizationID == nil && !authz.IsGlobal(role) {
		return nil, apperrors.Invalid("role", "requires an organization")
	}
	if u.Role == role {
		return u, nil
	}

	old := u.Role
	err = a.recorder.InTx(ctx, a.db, func(tx *audit.Tx) error {
		if err := a.users.WithTx(tx.Tx).UpdateRole(ctx, u.ID, role); err != nil {
			return err
		}
		e := meta.entry(models.AuditInfo, models.CategoryAdmin, "user role changed", actor, audit.Metadata{
			"target_user_id": u.ID,
			"username":       u.Username,
			"old_role":       string(old),
			"new_role":       string(role),
		})
		e.OrganizationID = u.OrganizationID
		return tx.Record(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	u.Role = role
	return u, nil
}

// Delete soft-deletes an account. Founder-tier accounts cannot be deleted
// through the API.
func (a *Accounts) Delete(ctx context.Context, actor *authz.Principal, id int64, meta RequestMeta) error {
	u, err := a.target(ctx, actor, id)
	if err != nil {
		return err
	}
	if authz.IsGlobal(u.Role) {
		return apperrors.Forbidden("target is top-tier")
	}
	return a.recorder.InTx(ctx, a.db, func(tx *audit.Tx) error {
		if err := a.users.WithTx(tx.Tx).SoftDelete(ctx, u.ID); err != nil {
			return err
		}
		e := meta.entry(models.AuditWarning, models.CategoryAdmin, "user deleted", actor, audit.Metadata{
			"target_user_id":  u.ID,
			"username":        u.Username,
			"role":            string(u.Role),
			"organization_id": u.OrganizationID,
		})
		e.OrganizationID = u.OrganizationID
		return tx.Record(ctx, e)
	})
}

// transition describes one admin lifecycle action.
type transition struct {
	action  string
	message string
	from    models.AccountStatus
	to      models.AccountStatus
	level   models.AuditLevel
}

var (
	activate   = transition{"activate", "user activated", models.StatusPending, models.StatusActive, models.AuditInfo}
	suspend    = transition{"suspend", "user suspended", models.StatusActive, models.StatusSuspended, models.AuditWarning}
	reactivate = transition{"reactivate", "user reactivated", models.StatusSuspended, models.StatusActive, models.AuditInfo}
	extend     = transition{"extend", "user extended", models.StatusExpired, models.StatusActive, models.AuditInfo}
)

// Activate moves a pending account to active.
func (a *Accounts) Activate(ctx context.Context, actor *authz.Principal, id int64, meta RequestMeta) (*models.User, error) {
	return a.apply(ctx, actor, id, activate, nil, meta)
}

// Suspend moves an active account to suspended. Existing tokens stop working
// on the next request.
func (a *Accounts) Suspend(ctx context.Context, actor *authz.Principal, id int64, meta RequestMeta) (*models.User, error) {
	return a.apply(ctx, actor, id, suspend, nil, meta)
}

// Reactivate moves a suspended account back to active.
func (a *Accounts) Reactivate(ctx context.Context, actor *authz.Principal, id int64, meta RequestMeta) (*models.User, error) {
	return a.apply(ctx, actor, id, reactivate, nil, meta)
}

// Extend reactivates an expired account with a new expiry.
func (a *Accounts) Extend(ctx context.Context, actor *authz.Principal, id int64, expiresAt time.Time, meta RequestMeta) (*models.User, error) {
	if !expiresAt.After(a.clock.now()) {
		return nil, apperrors.Invalid("account_expires_at", "must be in the future")
	}
	return a.apply(ctx, actor, id, extend, &expiresAt, meta)
}

func (a *Accounts) apply(ctx context.Context, actor *authz.Principal, id int64, t transition, expiresAt *time.Time, meta RequestMeta) (*models.User, error) {
	u, err := a.target(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	from := u.EffectiveStatus(a.clock.now())
	if from != t.from || !models.CanTransition(from, t.to) {
		return nil, apperrors.Invalid("status", fmt.Sprintf("cannot %s an account that is %s", t.action, from))
	}

	md := audit.Metadata{
		"target_user_id": u.ID,
		"username":       u.Username,
		"action":         t.action,
		"from":           string(from),
		"to":             string(t.to),
	}
	if expiresAt != nil {
		md["account_expires_at"] = expiresAt.UTC().Format(time.RFC3339)
	}

	err = a.recorder.InTx(ctx, a.db, func(tx *audit.Tx) error {
		if err := a.users.WithTx(tx.Tx).UpdateStatus(ctx, u.ID, t.to, expiresAt); err != nil {
			return err
		}
		e := meta.entry(t.level, models.CategoryAdmin, t.message, actor, md)
		e.OrganizationID = u.OrganizationID
		return tx.Record(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	u.Status = t.to
	if expiresAt != nil {
		u.AccountExpiresAt = expiresAt
	}
	return u, nil
}
