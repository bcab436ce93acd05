// users.go implements handlers for user account administration: listing, creation,
// role changes, soft deletion and the lifecycle transitions.
package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sentinelops/sentinel/internal/api/paging"
	"github.com/sentinelops/sentinel/internal/apperrors"
	"github.com/sentinelops/sentinel/internal/authz"
	"github.com/sentinelops/sentinel/internal/db/models"
	"github.com/sentinelops/sentinel/internal/db/repositories"
	"github.com/sentinelops/sentinel/internal/services"
)

// AccountService is the subset of services.Accounts used by UserHandlers.
type AccountService interface {
	List(ctx context.Context, actor *authz.Principal, f repositories.UserFilters, limit, offset int) ([]*models.User, int, error)
	Get(ctx context.Context, actor *authz.Principal, id int64) (*models.User, error)
	Create(ctx context.Context, actor *authz.Principal, in services.CreateUserInput, meta services.RequestMeta) (*models.User, error)
	ChangeRole(ctx context.Context, actor *authz.Principal, id int64, role models.Role, meta services.RequestMeta) (*models.User, error)
	Delete(ctx context.Context, actor *authz.Principal, id int64, meta services.RequestMeta) error
	Activate(ctx context.Context, actor *authz.Principal, id int64, meta services.RequestMeta) (*models.User, error)
	Suspend(ctx context.Context, actor *authz.Principal, id int64, meta services.RequestMeta) (*models.User, error)
	Reactivate(ctx context.Context, actor *authz.Principal, id int64, meta services.RequestMeta) (*models.User, error)
	Extend(ctx context.Context, actor *authz.Principal, id int64, expiresAt time.Time, meta services.RequestMeta) (*models.User, error)
}

// UserHandlers handles user management endpoints
type UserHandlers struct {
	accounts AccountService
}

// NewUserHandlers creates a new UserHandlers instance
func NewUserHandlers(accounts AccountService) *UserHandlers {
	return &UserHandlers{accounts: accounts}
}

// @Summary      List users
// @Description  Paginated list of users visible to the caller. Scoped roles see their own organization only.
// @Tags         Users
// @Security     Bearer
// @Produce      json
// @Param        page      query  int     false  "Page number (default 1)"
// @Param        per_page  query  int     false  "Items per page, max 100 (default 20)"
// @Param        search    query  string  false  "Username, email or name contains"
// @Param        role      query  string  false  "Filter by role"
// @Param        status    query  string  false  "Filter by account status"
// @Success      200  {object}  map[string]interface{}  "users: []models.User, pagination: map"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      403  {object}  map[string]interface{}  "Forbidden"
// @Router       /api/admin/users [get]
// ListUsersHandler lists users with pagination
func (h *UserHandlers) ListUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		pg := paging.Parse(c)
		filters := repositories.UserFilters{
			Search: c.Query("search"),
			Role:   models.Role(c.Query("role")),
			Status: models.AccountStatus(c.Query("status")),
		}
		if filters.Role != "" && !filters.Role.Valid() {
			apperrors.Respond(c, apperrors.Invalid("role", "is not a known role"))
			return
		}

		users, total, err := h.accounts.List(c.Request.Context(), p, filters, pg.PerPage, pg.Offset())
		if err != nil {
			apperrors.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, paging.Response("users", users, pg, total))
	}
}

// GetUserHandler returns one user. Users outside the caller's tenant are not found.
func (h *UserHandlers) GetUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		user, err := h.accounts.Get(c.Request.Context(), p, id)
		if err != nil {
			apperrors.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// CreateUserRequest represents the request to create a new user
type CreateUserRequest struct {
	Username         string             `json:"username" binding:"required,min=3,max=64"`
	Email            string             `json:"email" binding:"required,email"`
	Password         string             `json:"password"`
	FullName         string             `json:"full_name"`
	Role             models.Role        `json:"role" binding:"required"`
	OrganizationID   *int64             `json:"organization_id"`
	AccountType      models.AccountType `json:"account_type"`
	AccountExpiresAt *time.Time         `json:"account_expires_at"`
	AuthSource       models.AuthSource  `json:"auth_source"`
	Pending          bool               `json:"pending"`
}

// @Summary      Create user
// @Description  Create a user in the caller's organization. Global roles may pass organization_id.
// @Tags         Users
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CreateUserRequest  true  "User"
// @Success      201  {object}  map[string]interface{}  "user: models.User"
// @Failure      403  {object}  map[string]interface{}  "Forbidden"
// @Failure      409  {object}  map[string]interface{}  "Username or email already exists"
// @Failure      422  {object}  map[string]interface{}  "Validation failed"
// @Router       /api/admin/users [post]
// CreateUserHandler creates a user
func (h *UserHandlers) CreateUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		var req CreateUserRequest
		if !bind(c, &req) {
			return
		}
		user, err := h.accounts.Create(c.Request.Context(), p, services.CreateUserInput{
			Username:         req.Username,
			Email:            req.Email,
			Password:         req.Password,
			FullName:         req.FullName,
			Role:             req.Role,
			OrganizationID:   req.OrganizationID,
			AccountType:      req.AccountType,
			AccountExpiresAt: req.AccountExpiresAt,
			AuthSource:       req.AuthSource,
			Pending:          req.Pending,
		}, requestMeta(c))
		if err != nil {
			apperrors.Respond(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"user": user})
	}
}

// ChangeRoleRequest is the body of PUT /api/admin/users/role.
type ChangeRoleRequest struct {
	UserID int64       `json:"user_id" binding:"required,gt=0"`
	Role   models.Role `json:"role" binding:"required"`
}

// @Summary      Change user role
// @Tags         Users
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  ChangeRoleRequest  true  "Target and new role"
// @Success      200  {object}  map[string]interface{}  "user: models.User"
// @Failure      403  {object}  map[string]interface{}  "Forbidden"
// @Failure      404  {object}  map[string]interface{}  "User not found"
// @Router       /api/admin/users/role [put]
// ChangeRoleHandler changes a user's role. The change and its audit entry
// commit together.
func (h *UserHandlers) ChangeRoleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		var req ChangeRoleRequest
		if !bind(c, &req) {
			return
		}
		user, err := h.accounts.ChangeRole(c.Request.Context(), p, req.UserID, req.Role, requestMeta(c))
		if err != nil {
			apperrors.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// @Summary      Delete user
// @Description  Soft-deletes a user. Global-role accounts cannot be deleted.
// @Tags         Users
// @Security     Bearer
// @Param        id  path  int  true  "User ID"
// @Success      204
// @Failure      403  {object}  map[string]interface{}  "Forbidden"
// @Failure      404  {object}  map[string]interface{}  "User not found"
// @Router       /api/admin/users/{id} [delete]
// DeleteUserHandler soft-deletes a user
func (h *UserHandlers) DeleteUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		if err := h.accounts.Delete(c.Request.Context(), p, id, requestMeta(c)); err != nil {
			apperrors.Respond(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type transitionFunc func(ctx context.Context, actor *authz.Principal, id int64, meta services.RequestMeta) (*models.User, error)

func (h *UserHandlers) transition(fn transitionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		user, err := fn(c.Request.Context(), p, id, requestMeta(c))
		if err != nil {
			apperrors.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// ActivateUserHandler moves a pending account to active.
func (h *UserHandlers) ActivateUserHandler() gin.HandlerFunc {
	return h.transition(h.accounts.Activate)
}

// SuspendUserHandler suspends an active account.
func (h *UserHandlers) SuspendUserHandler() gin.HandlerFunc {
	return h.transition(h.accounts.Suspend)
}

// ReactivateUserHandler lifts a suspension.
func (h *UserHandlers) ReactivateUserHandler() gin.HandlerFunc {
	return h.transition(h.accounts.Reactivate)
}

// ExtendRequest is the body of POST /api/admin/users/{id}/extend.
type ExtendRequest struct {
	AccountExpiresAt time.Time `json:"account_expires_at" binding:"required"`
}

// ExtendUserHandler gives an expired account a new expiry date.
func (h *UserHandlers) ExtendUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req ExtendRequest
		if !bind(c, &req) {
			return
		}
		user, err := h.accounts.Extend(c.Request.Context(), p, id, req.AccountExpiresAt, requestMeta(c))
		if err != nil {
			apperrors.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}
