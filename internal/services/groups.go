package services

import (
	"context"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/sentinelops/sentinel/internal/apperrors"
	"github.com/sentinelops/sentinel/internal/audit"
	"github.com/sentinelops/sentinel/internal/authz"
	"github.com/sentinelops/sentinel/internal/db/models"
	"github.com/sentinelops/sentinel/internal/db/repositories"
)

// GroupInput is the request to create a group.
type GroupInput struct {
	Name           string
	Description    string
	AccessLevel    models.AccessLevel
	Permissions    map[string]bool
	OrganizationID *int64
}

// GroupDetail is a group together with its members.
type GroupDetail struct {
	*models.UserGroup
	Members []*models.UserGroupMember `json:"members"`
}

// Groups manages organization-scoped user groups.
type Groups struct {
	db       *sqlx.DB
	groups   *repositories.UserGroupRepository
	users    *repositories.UserRepository
	recorder *audit.Recorder
}

// NewGroups creates the group service.
func NewGroups(conn *sqlx.DB, recorder *audit.Recorder) *Groups {
	return &Groups{
		db:       conn,
		groups:   repositories.NewUserGroupRepository(conn),
		users:    repositories.NewUserRepository(conn),
		recorder: recorder,
	}
}

// List returns the groups visible to actor.
func (g *Groups) List(ctx context.Context, actor *authz.Principal, limit, offset int) ([]*models.UserGroup, int, error) {
	scope, err := scopeOf(actor)
	if err != nil {
		return nil, 0, err
	}
	return g.groups.List(ctx, scope, limit, offset)
}

// Get returns a group and its members.
func (g *Groups) Get(ctx context.Context, actor *authz.Principal, id int64) (*GroupDetail, error) {
	scope, err := scopeOf(actor)
	if err != nil {
		return nil, err
	}
	group, err := g.groups.GetInScope(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	members, err := g.groups.ListMembers(ctx, group.ID)
	if err != nil {
		return nil, err
	}
	return &GroupDetail{UserGroup: group, Members: members}, nil
}

// Create adds a group to the actor's organization, or to in.OrganizationID
// for global actors.
func (g *Groups) Create(ctx context.Context, actor *authz.Principal, in GroupInput, meta RequestMeta) (*models.UserGroup, error) {
	scope, err := scopeOf(actor)
	if err != nil {
		return nil, err
	}

	verr := &apperrors.ValidationError{}
	var orgID int64
	switch {
	case !scope.Global:
		if in.OrganizationID != nil && *in.OrganizationID != scope.OrganizationID {
			return nil, apperrors.Forbidden("create outside own organization")
		}
		orgID = scope.OrganizationID
	case in.OrganizationID != nil:
		orgID = *in.OrganizationID
	default:
		verr.Add("organization_id", "is required")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		verr.Add("name", "is required")
	}
	level := in.AccessLevel
	if level == "" {
		level = models.AccessRead
	}
	if !level.Valid() {
		verr.Add("access_level", "must be read, write or admin")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	group := &models.UserGroup{
		OrganizationID: orgID,
		Name:           name,
		Description:    in.Description,
		AccessLevel:    level,
		Permissions:    in.Permissions,
	}
	err = g.recorder.InTx(ctx, g.db, func(tx *audit.Tx) error {
		if err := g.groups.WithTx(tx.Tx).Create(ctx, group); err != nil {
			return err
		}
		e := meta.entry(models.AuditInfo, models.CategoryAdmin, "group created", actor, audit.Metadata{
			"group_id":     group.ID,
			"name":         group.Name,
			"access_level": string(group.AccessLevel),
		})
		e.OrganizationID = &orgID
		return tx.Record(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

// Delete removes a group and its memberships.
func (g *Groups) Delete(ctx context.Context, actor *authz.Principal, id int64, meta RequestMeta) error {
	scope, err := scopeOf(actor)
	if err != nil {
		return err
	}
	group, err := g.groups.GetInScope(ctx, scope, id)
	if err != nil {
		return err
	}
	return g.recorder.InTx(ctx, g.db, func(tx *audit.Tx) error {
		if err := g.groups.WithTx(tx.Tx).Delete(ctx, group.ID); err != nil {
			return err
		}
		e := meta.entry(models.AuditWarning, models.CategoryAdmin, "group deleted", actor, audit.Metadata{
			"group_id":     group.ID,
			"name":         group.Name,
			"member_count": group.MemberCount,
		})
		e.OrganizationID = &group.OrganizationID
		return tx.Record(ctx, e)
	})
}

// AddMember adds a user of the group's organization to the group.
func (g *Groups) AddMember(ctx context.Context, actor *authz.Principal, groupID, userID int64, meta RequestMeta) (*models.UserGroupMember, error) {
	scope, err := scopeOf(actor)
	if err != nil {
		return nil, err
	}
	group, err := g.groups.GetInScope(ctx, scope, groupID)
	if err != nil {
		return nil, err
	}
	user, err := g.users.GetInScope(ctx, authz.Scope{OrganizationID: group.OrganizationID}, userID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.Invalid("user_id", "is not a member of the group's organization")
	}
	if err != nil {
		return nil, err
	}

	var member *models.UserGroupMember
	err = g.recorder.InTx(ctx, g.db, func(tx *audit.Tx) error {
		m, err := g.groups.WithTx(tx.Tx).AddMember(ctx, group.ID, user.ID)
		if err != nil {
			return err
		}
		m.Username = user.Username
		member = m
		e := meta.entry(models.AuditInfo, models.CategoryAdmin, "group member added", actor, audit.Metadata{
			"group_id":       group.ID,
			"target_user_id": user.ID,
			"username":       user.Username,
		})
		e.OrganizationID = &group.OrganizationID
		return tx.Record(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	return member, nil
}

// RemoveMember removes a user from a group.
func (g *Groups) RemoveMember(ctx context.Context, actor *authz.Principal, groupID, userID int64, meta RequestMeta) error {
	scope, err := scopeOf(actor)
	if err != nil {
		return err
	}
	group, err := g.groups.GetInScope(ctx, scope, groupID)
	if err != nil {
		return err
	}
	return g.recorder.InTx(ctx, g.db, func(tx *audit.Tx) error {
		if err := g.groups.WithTx(tx.Tx).RemoveMember(ctx, group.ID, userID); err != nil {
			return err
		}
		e := meta.entry(models.AuditInfo, models.CategoryAdmin, "group member removed", actor, audit.Metadata{
			"group_id":       group.ID,
			"target_user_id": userID,
		})
		e.OrganizationID = &group.OrganizationID
		return tx.Record(ctx, e)
	})
}
