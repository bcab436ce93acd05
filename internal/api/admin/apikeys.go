// apikeys.go implements handlers for managing the caller's own API keys.
package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sentinelops/sentinel/internal/apperrors"
	"github.com/sentinelops/sentinel/internal/authz"
	"github.com/sentinelops/sentinel/internal/db/models"
	"github.com/sentinelops/sentinel/internal/services"
)

// APIKeyService is the subset of services.APIKeys used by APIKeyHandlers.
type APIKeyService interface {
	List(ctx context.Context, actor *authz.Principal) ([]*models.APIKey, error)
	Create(ctx context.Context, actor *authz.Principal, name string, scopes []string, expiresAt *time.Time, meta services.RequestMeta) (*services.CreatedAPIKey, error)
	Revoke(ctx context.Context, actor *authz.Principal, id int64, meta services.RequestMeta) error
}

// APIKeyHandlers handles API key management endpoints
type APIKeyHandlers struct {
	keys APIKeyService
}

// NewAPIKeyHandlers creates a new APIKeyHandlers instance
func NewAPIKeyHandlers(keys APIKeyService) *APIKeyHandlers {
	return &APIKeyHandlers{keys: keys}
}

// CreateAPIKeyRequest represents the request to create an API key
type CreateAPIKeyRequest struct {
	Name      string     `json:"name" binding:"required,max=128"`
	Scopes    []string   `json:"scopes" binding:"required,min=1"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// @Summary      List API keys
// @Tags         API Keys
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "keys: []models.APIKey"
// @Router       /api/admin/apikeys [get]
// ListAPIKeysHandler lists the caller's keys. Hashes are never returned.
func (h *APIKeyHandlers) ListAPIKeysHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		keys, err := h.keys.List(c.Request.Context(), p)
		if err != nil {
			apperrors.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"keys": keys})
	}
}

// @Summary      Create API key
// @Description  The plaintext key is returned once in this response and cannot be retrieved later.
// @Tags         API Keys
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CreateAPIKeyRequest  true  "Key"
// @Success      201  {object}  services.CreatedAPIKey
// @Failure      422  {object}  map[string]interface{}  "Validation failed"
// @Router       /api/admin/apikeys [post]
// CreateAPIKeyHandler issues a key for the caller.
func (h *APIKeyHandlers) CreateAPIKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		var req CreateAPIKeyRequest
		if !bind(c, &req) {
			return
		}
		created, err := h.keys.Create(c.Request.Context(), p, req.Name, req.Scopes, req.ExpiresAt, requestMeta(c))
		if err != nil {
			apperrors.Respond(c, err)
			return
		}
		c.JSON(http.StatusCreated, created)
	}
}

// RevokeAPIKeyHandler deletes one of the caller's keys.
func (h *APIKeyHandlers) RevokeAPIKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		if err := h.keys.Revoke(c.Request.Context(), p, id, requestMeta(c)); err != nil {
			apperrors.Respond(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
