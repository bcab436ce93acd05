// user_repository.go implements UserRepository: account lookup for login and
// token validation, tenant-scoped listing, and the lifecycle updates driven by
// the accounts service.
package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sentinelops/sentinel/internal/authz"
	"github.com/sentinelops/sentinel/internal/db/models"
)

const userColumns = `id, username, email, password_hash, full_name, role, organization_id,
	status, is_active, account_type, account_expires_at, auth_source, oidc_sub,
	last_login, created_at, updated_at`

// UserRepository handles user database operations
type UserRepository struct {
	db sqlx.ExtContext
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db sqlx.ExtContext) *UserRepository {
	return &UserRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *UserRepository) WithTx(tx *sqlx.Tx) *UserRepository {
	return &UserRepository{db: tx}
}

// UserFilters narrows List results
type UserFilters struct {
	Search string
	Role   models.Role
	Status models.AccountStatus
}

// Create inserts a user and fills in ID and timestamps. Duplicate usernames or
// emails surface as *apperrors.ConflictError.
func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	query := `
		INSERT INTO users (username, email, password_hash, full_name, role, organization_id,
			status, account_type, account_expires_at, auth_source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, is_active, created_at, updated_at`

	err := r.db.QueryRowxContext(ctx, query,
		u.Username,
		u.Email,
		u.PasswordHash,
		u.FullName,
		u.Role,
		u.OrganizationID,
		u.Status,
		u.AccountType,
		u.AccountExpiresAt,
		u.AuthSource,
	).Scan(&u.ID, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return mapWriteErr(err, "user")
}

// GetByID retrieves a user by id, including soft-deleted rows. Callers decide
// what a deleted account means through EffectiveStatus.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := sqlx.GetContext(ctx, r.db, &u, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, mapReadErr(err, "user")
	}
	return &u, nil
}

// GetInScope retrieves a live (not soft-deleted) user visible in scope. Rows in
// other tenants are reported exactly like absent rows.
func (r *UserRepository) GetInScope(ctx context.Context, scope authz.Scope, id int64) (*models.User, error) {
	var c conditions
	c.add("id = ?", id)
	c.raw("is_active")
	c.scope(scope, "organization_id")

	var u models.User
	err := sqlx.GetContext(ctx, r.db, &u, `SELECT `+userColumns+` FROM users`+c.where(), c.args...)
	if err != nil {
		return nil, mapReadErr(err, "user")
	}
	return &u, nil
}

// GetByLogin retrieves a user by username or (case-insensitive) email.
func (r *UserRepository) GetByLogin(ctx context.Context, login string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		WHERE username = $1 OR LOWER(email) = LOWER($1)
		ORDER BY (username = $1) DESC
		LIMIT 1`

	var u models.User
	if err := sqlx.GetContext(ctx, r.db, &u, query, login); err != nil {
		return nil, mapReadErr(err, "user")
	}
	return &u, nil
}

// GetByEmail retrieves a user by email, case-insensitively.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := sqlx.GetContext(ctx, r.db, &u, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email)
	if err != nil {
		return nil, mapReadErr(err, "user")
	}
	return &u, nil
}

// GetByOIDCSub retrieves a user by OIDC subject identifier
func (r *UserRepository) GetByOIDCSub(ctx context.Context, sub string) (*models.User, error) {
	var u models.User
	err := sqlx.GetContext(ctx, r.db, &u, `SELECT `+userColumns+` FROM users WHERE oidc_sub = $1`, sub)
	if err != nil {
		return nil, mapReadErr(err, "user")
	}
	return &u, nil
}

// List returns live users visible in scope, newest first, and the total count.
func (r *UserRepository) List(ctx context.Context, scope authz.Scope, f UserFilters, limit, offset int) ([]*models.User, int, error) {
	var c conditions
	c.raw("is_active")
	c.scope(scope, "organization_id")
	if f.Search != "" {
		c.add(`(username ILIKE ? ESCAPE '\' OR email ILIKE ? ESCAPE '\' OR full_name ILIKE ? ESCAPE '\')`, containsPattern(f.Search))
	}
	if f.Role != "" {
		c.add("role = ?", f.Role)
	}
	if f.Status != "" {
		c.add("status = ?", f.Status)
	}

	var total int
	if err := sqlx.GetContext(ctx, r.db, &total, `SELECT COUNT(*) FROM users`+c.where(), c.args...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	pageClause, args := c.page(limit, offset)
	users := []*models.User{}
	query := `SELECT ` + userColumns + ` FROM users` + c.where() + ` ORDER BY created_at DESC, id DESC` + pageClause
	if err := sqlx.SelectContext(ctx, r.db, &users, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	return users, total, nil
}

// UpdateRole changes a live user's role.
func (r *UserRepository) UpdateRole(ctx context.Context, id int64, role models.Role) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET role = $1, updated_at = NOW() WHERE id = $2 AND is_active`, role, id)
	return expectAffected(res, err, "user")
}

// UpdateStatus stores a lifecycle status. A non-nil expiresAt replaces
// account_expires_at; nil leaves it untouched.
func (r *UserRepository) UpdateStatus(ctx context.Context, id int64, status models.AccountStatus, expiresAt *time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET status = $1,
			account_expires_at = COALESCE($2, account_expires_at),
			updated_at = NOW()
		WHERE id = $3 AND is_active`, status, expiresAt, id)
	return expectAffected(res, err, "user")
}

// ListLapsed returns up to limit active users whose account_expires_at is
// before now, oldest expiry first.
func (r *UserRepository) ListLapsed(ctx context.Context, now time.Time, limit int) ([]*models.User, error) {
	var users []*models.User
	err := sqlx.SelectContext(ctx, r.db, &users, `SELECT `+userColumns+` FROM users
		WHERE is_active AND status = $1 AND account_expires_at < $2
		ORDER BY account_expires_at, id LIMIT $3`, models.StatusActive, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list lapsed users: %w", err)
	}
	return users, nil
}

// MarkExpired moves a lapsed active account to expired. It reports false when
// the row no longer qualifies, for example because it was extended meanwhile.
func (r *UserRepository) MarkExpired(ctx context.Context, id int64, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET status = $1, updated_at = NOW()
		WHERE id = $2 AND is_active AND status = $3 AND account_expires_at < $4`,
		models.StatusExpired, id, models.StatusActive, now)
	if err != nil {
		return false, fmt.Errorf("failed to expire user %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to expire user %d: %w", id, err)
	}
	return n == 1, nil
}

// SoftDelete marks a user deleted. The row is kept for audit references.
func (r *UserRepository) SoftDelete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET is_active = FALSE, updated_at = NOW() WHERE id = $1 AND is_active`, id)
	return expectAffected(res, err, "user")
}

// UpdateLastLogin records a successful login.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET last_login = $1 WHERE id = $2`, at, id)
	return expectAffected(res, err, "user")
}

// LinkOIDCSub stores the IdP subject on first SSO login.
func (r *UserRepository) LinkOIDCSub(ctx context.Context, id int64, sub string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET oidc_sub = $1, updated_at = NOW() WHERE id = $2`, sub, id)
	return expectAffected(res, err, "user")
}

// SetPasswordHash replaces a local user's password hash.
func (r *UserRepository) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2 AND is_active`, hash, id)
	return expectAffected(res, err, "user")
}

// CountByStatus returns live user counts in scope keyed by stored status.
func (r *UserRepository) CountByStatus(ctx context.Context, scope authz.Scope) (map[models.AccountStatus]int, error) {
	var c conditions
	c.raw("is_active")
	c.scope(scope, "organization_id")
	counts, err := countGrouped(ctx, r.db, `SELECT status AS k, COUNT(*) AS n FROM users`+c.where()+` GROUP BY status`, c.args)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	out := make(map[models.AccountStatus]int, len(counts))
	for k, n := range counts {
		out[models.AccountStatus(k)] = n
	}
	return out, nil
}
