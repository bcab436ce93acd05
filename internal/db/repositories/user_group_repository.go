// user_group_repository.go implements UserGroupRepository for organization-scoped
// groups and their memberships.
package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sentinelops/sentinel/internal/authz"
	"github.com/sentinelops/sentinel/internal/db/models"
)

const groupSelect = `
	SELECT g.id, g.organization_id, g.name, g.description, g.access_level, g.permissions,
		g.created_at, g.updated_at,
		(SELECT COUNT(*) FROM user_group_members m WHERE m.group_id = g.id) AS member_count
	FROM user_groups g`

// UserGroupRepository handles user group database operations
type UserGroupRepository struct {
	db sqlx.ExtContext
}

// NewUserGroupRepository creates a new UserGroupRepository
func NewUserGroupRepository(db sqlx.ExtContext) *UserGroupRepository {
	return &UserGroupRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *UserGroupRepository) WithTx(tx *sqlx.Tx) *UserGroupRepository {
	return &UserGroupRepository{db: tx}
}

type groupRow struct {
	models.UserGroup
	PermissionsJSON []byte `db:"permissions"`
}

func (row *groupRow) decode() (*models.UserGroup, error) {
	g := row.UserGroup
	g.Permissions = map[string]bool{}
	if len(row.PermissionsJSON) > 0 {
		if err := json.Unmarshal(row.PermissionsJSON, &g.Permissions); err != nil {
			return nil, fmt.Errorf("decode permissions for group %d: %w", g.ID, err)
		}
	}
	return &g, nil
}

// Create inserts a group. A duplicate name within the organization is a ConflictError.
func (r *UserGroupRepository) Create(ctx context.Context, g *models.UserGroup) error {
	if g.Permissions == nil {
		g.Permissions = map[string]bool{}
	}
	perms, err := json.Marshal(g.Permissions)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}

	err = r.db.QueryRowxContext(ctx, `
		INSERT INTO user_groups (organization_id, name, description, access_level, permissions)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		g.OrganizationID, g.Name, g.Description, g.AccessLevel, perms,
	).Scan(&g.ID, &g.CreatedAt, &g.UpdatedAt)
	return mapWriteErr(err, "group")
}

// GetInScope retrieves a group visible in scope.
func (r *UserGroupRepository) GetInScope(ctx context.Context, scope authz.Scope, id int64) (*models.UserGroup, error) {
	var c conditions
	c.add("g.id = ?", id)
	c.scope(scope, "g.organization_id")

	var row groupRow
	if err := sqlx.GetContext(ctx, r.db, &row, groupSelect+c.where(), c.args...); err != nil {
		return nil, mapReadErr(err, "group")
	}
	return row.decode()
}

// List returns groups visible in scope ordered by name.
func (r *UserGroupRepository) List(ctx context.Context, scope authz.Scope, limit, offset int) ([]*models.UserGroup, int, error) {
	var c conditions
	c.scope(scope, "g.organization_id")

	var total int
	if err := sqlx.GetContext(ctx, r.db, &total, `SELECT COUNT(*) FROM user_groups g`+c.where(), c.args...); err != nil {
		return nil, 0, fmt.Errorf("count groups: %w", err)
	}

	pageClause, args := c.page(limit, offset)
	var rows []groupRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, groupSelect+c.where()+` ORDER BY g.name, g.id`+pageClause, args...); err != nil {
		return nil, 0, fmt.Errorf("list groups: %w", err)
	}

	groups := make([]*models.UserGroup, 0, len(rows))
	for i := range rows {
		g, err := rows[i].decode()
		if err != nil {
			return nil, 0, err
		}
		groups = append(groups, g)
	}
	return groups, total, nil
}

// Delete removes a group; memberships cascade.
func (r *UserGroupRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM user_groups WHERE id = $1`, id)
	return expectAffected(res, err, "group")
}

// AddMember adds userID to groupID. Adding twice is a ConflictError.
func (r *UserGroupRepository) AddMember(ctx context.Context, groupID, userID int64) (*models.UserGroupMember, error) {
	m := &models.UserGroupMember{GroupID: groupID, UserID: userID}
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO user_group_members (user_id, group_id)
		VALUES ($1, $2)
		RETURNING id, joined_at`, userID, groupID,
	).Scan(&m.ID, &m.JoinedAt)
	if err != nil {
		return nil, mapWriteErr(err, "group member")
	}
	return m, nil
}

// RemoveMember removes userID from groupID.
func (r *UserGroupRepository) RemoveMember(ctx context.Context, groupID, userID int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM user_group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	return expectAffected(res, err, "group member")
}

// ListMembers returns a group's live members ordered by join time.
func (r *UserGroupRepository) ListMembers(ctx context.Context, groupID int64) ([]*models.UserGroupMember, error) {
	members := []*models.UserGroupMember{}
	err := sqlx.SelectContext(ctx, r.db, &members, `
		SELECT m.id, m.user_id, m.group_id, u.username, m.joined_at
		FROM user_group_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.group_id = $1 AND u.is_active
		ORDER BY m.joined_at, m.id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	return members, nil
}

// ListForUser returns the groups a user belongs to.
func (r *UserGroupRepository) ListForUser(ctx context.Context, userID int64) ([]*models.UserGroup, error) {
	var rows []groupRow
	err := sqlx.SelectContext(ctx, r.db, &rows, groupSelect+`
		JOIN user_group_members um ON um.group_id = g.id
		WHERE um.user_id = $1
		ORDER BY g.name, g.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list groups for user: %w", err)
	}
	groups := make([]*models.UserGroup, 0, len(rows))
	for i := range rows {
		g, err := rows[i].decode()
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}
