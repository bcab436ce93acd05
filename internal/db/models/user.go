// Package models - user.go defines the User principal together with its role,
// account status and the lifecycle transitions between statuses.
package models

import "time"

// Role is a principal's privilege tier. The ordering between roles lives in the
// authz package; this type only names the values stored in users.role.
type Role string

const (
	RolePlatformFounder Role = "platform_founder"
	RoleFounder         Role = "founder"
	RolePlatformOwner   Role = "platform_owner"
	RoleSecurityAdmin   Role = "security_admin"
	RoleSOCAnalyst      Role = "soc_analyst"
)

// AllRoles lists every role accepted by the users.role check constraint.
var AllRoles = []Role{RolePlatformFounder, RoleFounder, RolePlatformOwner, RoleSecurityAdmin, RoleSOCAnalyst}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	for _, known := range AllRoles {
		if r == known {
			return true
		}
	}
	return false
}

// AccountStatus is the lifecycle state stored in users.status
type AccountStatus string

const (
	StatusPending   AccountStatus = "pending"
	StatusActive    AccountStatus = "active"
	StatusSuspended AccountStatus = "suspended"
	StatusExpired   AccountStatus = "expired"
	// StatusDeleted is never stored in users.status; it is reported for soft-deleted
	// rows (is_active = false).
	StatusDeleted AccountStatus = "deleted"
)

// AccountType distinguishes permanent staff from time-limited accounts
type AccountType string

const (
	AccountStandard   AccountType = "standard"
	AccountContractor AccountType = "contractor"
	AccountTemporary  AccountType = "temporary"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	return t == AccountStandard || t == AccountContractor || t == AccountTemporary
}

// AuthSource selects how a user's password is verified
type AuthSource string

const (
	AuthSourceLocal AuthSource = "local"
	AuthSourceLDAP  AuthSource = "ldap"
	AuthSourceOIDC  AuthSource = "oidc"
)

// User represents a principal
type User struct {
	ID               int64         `db:"id" json:"id"`
	Username         string        `db:"username" json:"username"`
	Email            string        `db:"email" json:"email"`
	PasswordHash     string        `db:"password_hash" json:"-"`
	FullName         string        `db:"full_name" json:"full_name"`
	Role             Role          `db:"role" json:"role"`
	OrganizationID   *int64        `db:"organization_id" json:"organization_id"`
	Status           AccountStatus `db:"status" json:"status"`
	IsActive         bool          `db:"is_active" json:"-"`
	AccountType      AccountType   `db:"account_type" json:"account_type"`
	AccountExpiresAt *time.Time    `db:"account_expires_at" json:"account_expires_at,omitempty"`
	AuthSource       AuthSource    `db:"auth_source" json:"auth_source"`
	OIDCSub          *string       `db:"oidc_sub" json:"-"`
	LastLogin        *time.Time    `db:"last_login" json:"last_login,omitempty"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updated_at"`
}

// EffectiveStatus returns the status that authorization decisions must use.
// The time-based active → expired transition is applied here, lazily, so no
// background sweep is required: an active account past account_expires_at is
// reported as expired even though the stored status still says active.
func (u *User) EffectiveStatus(now time.Time) AccountStatus {
	if !u.IsActive {
		return StatusDeleted
	}
	if u.Status == StatusActive && u.AccountExpiresAt != nil && now.After(*u.AccountExpiresAt) {
		return StatusExpired
	}
	return u.Status
}

// CanAuthenticate reports whether the account may hold a session at now.
func (u *User) CanAuthenticate(now time.Time) bool {
	return u.EffectiveStatus(now) == StatusActive
}

// transitions lists the admin-triggered status changes. active → expired is
// absent on purpose: it only ever happens through EffectiveStatus.
var transitions = map[AccountStatus][]AccountStatus{
	StatusPending:   {StatusActive},
	StatusActive:    {StatusSuspended},
	StatusSuspended: {StatusActive},
	StatusExpired:   {StatusActive},
}

// CanTransition reports whether an admin may move an account from one status to another.
func CanTransition(from, to AccountStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
