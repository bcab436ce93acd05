// groups.go implements handlers for organization-scoped user groups and their
// membership.
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

// GroupService is the subset of services.Groups used by GroupHandlers.
type GroupService interface {
	List(ctx context.Context, actor *authz.Principal, limit, offset int) ([]*models.UserGroup, int, error)
	Get(ctx context.Context, actor *authz.Principal, id int64) (*services.GroupDetail, error)
	Create(ctx context.Context, actor *authz.Principal, in services.GroupInput, meta services.RequestMeta) (*models.UserGroup, error)
	Delete(ctx context.Context, actor *authz.Principal, id int64, meta services.RequestMeta) error
	AddMember(ctx context.Context, actor *authz.Principal, groupID, userID int64, meta services.RequestMeta) (*models.UserGroupMember, error)
	RemoveMember(ctx context.Context, actor *authz.Principal, groupID, userID int64, meta services.RequestMeta) error
}

// GroupHandlers handles user group endpoints
type GroupHandlers struct {
	groups GroupService
}

// NewGroupHandlers creates a new GroupHandlers instance
func NewGroupHandlers(groups GroupService) *GroupHandlers {
	return &GroupHandlers{groups: groups}
}

// CreateGroupRequest is the body of POST /api/admin/groups.
type CreateGroupRequest struct {
	Name           string             `json:"name" binding:"required,max=128"`
	Description    string             `json:"description"`
	AccessLevel    models.AccessLevel `json:"access_level"`
	Permissions    map[string]bool    `json:"permissions"`
	OrganizationID *int64             `json:"organization_id"`
}

// AddMemberRequest is the body of POST /api/admin/groups/{id}/members.
type AddMemberRequest struct {
	UserID int64 `json:"user_id" binding:"required,gt=0"`
}

// ListGroupsHandler lists the groups of the caller's organization.
func (h *GroupHandlers) ListGroupsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		pg := paging.Parse(c)
		groups, total, err := h.groups.List(c.Request.Context(), p, pg.PerPage, pg.Offset())
		if err != nil {
			apperrors.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, paging.Response("groups", groups, pg, total))
	}
}

// GetGroupHandler returns a group with its members.
func (h *GroupHandlers) GetGroupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		group, err := h.groups.Get(c.Request.Context(), p, id)
		if err != nil {
			apperrors.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"group": group})
	}
}

// CreateGroupHandler creates a group.
func (h *GroupHandlers) CreateGroupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		var req CreateGroupRequest
		if !bind(c, &req) {
			return
		}
		group, err := h.groups.Create(c.Request.Context(), p, services.GroupInput{
			Name:           req.Name,
			Description:    req.Description,
			AccessLevel:    req.AccessLevel,
			Permissions:    req.Permissions,
			OrganizationID: req.OrganizationID,
		}, requestMeta(c))
		if err != nil {
			apperrors.Respond(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"group": group})
	}
}

// DeleteGroupHandler deletes a group and its memberships.
func (h *GroupHandlers) DeleteGroupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		if err := h.groups.Delete(c.Request.Context(), p, id, requestMeta(c)); err != nil {
			apperrors.Respond(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// AddMemberHandler adds a user of the group's organization to the group.
func (h *GroupHandlers) AddMemberHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req AddMemberRequest
		if !bind(c, &req) {
			return
		}
		member, err := h.groups.AddMember(c.Request.Context(), p, id, req.UserID, requestMeta(c))
		if err != nil {
			apperrors.Respond(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"member": member})
	}
}

// RemoveMemberHandler removes a user from a group.
func (h *GroupHandlers) RemoveMemberHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		groupID, ok := pathID(c, "id")
		if !ok {
			return
		}
		userID, ok := pathID(c, "user_id")
		if !ok {
			return
		}
		if err := h.groups.RemoveMember(c.Request.Context(), p, groupID, userID, requestMeta(c)); err != nil {
			apperrors.Respond(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
