// Package models - user_group.go defines organization-scoped user groups that
// layer finer-grained permissions on top of a user's role.
package models

import "time"

// AccessLevel is the coarse permission level granted by a group
type AccessLevel string

const (
	AccessRead  AccessLevel = "read"
	AccessWrite AccessLevel = "write"
	AccessAdmin AccessLevel = "admin"
)

// Valid reports whether l is a known access level.
func (l AccessLevel) Valid() bool {
	return l == AccessRead || l == AccessWrite || l == AccessAdmin
}

// UserGroup belongs to exactly one organization.
type UserGroup struct {
	ID             int64           `db:"id" json:"id"`
	OrganizationID int64           `db:"organization_id" json:"organization_id"`
	Name           string          `db:"name" json:"name"`
	Description    string          `db:"description" json:"description"`
	AccessLevel    AccessLevel     `db:"access_level" json:"access_level"`
	Permissions    map[string]bool `db:"-" json:"permissions"`
	MemberCount    int             `db:"member_count" json:"member_count"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// Allows reports whether the group grants the named permission.
func (g *UserGroup) Allows(permission string) bool {
	if g.AccessLevel == AccessAdmin {
		return true
	}
	return g.Permissions[permission]
}

// UserGroupMember records when a user joined a group
type UserGroupMember struct {
	ID       int64     `db:"id" json:"id"`
	UserID   int64     `db:"user_id" json:"user_id"`
	GroupID  int64     `db:"group_id" json:"group_id"`
	Username string    `db:"username" json:"username"`
	JoinedAt time.Time `db:"joined_at" json:"joined_at"`
}
