// auth.go implements the session endpoints: password login, logout, token refresh,
// the current-user lookup and the OIDC single sign-on redirect and callback.
package admin

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sentinelops/sentinel/internal/apperrors"
	"github.com/sentinelops/sentinel/internal/authz"
	"github.com/sentinelops/sentinel/internal/db/models"
	"github.com/sentinelops/sentinel/internal/services"
)

// SSOStateCookie carries the encrypted SSO state between redirect and callback.
const SSOStateCookie = "sentinel_sso_state"

// SessionService is the subset of services.Sessions used by AuthHandlers.
type SessionService interface {
	Login(ctx context.Context, login, password string, meta services.RequestMeta) (*services.LoginResult, error)
	Logout(ctx context.Context, p *authz.Principal, meta services.RequestMeta) error
	Refresh(ctx context.Context, p *authz.Principal) (*services.LoginResult, error)
	Me(ctx context.Context, p *authz.Principal) (*models.User, error)
	BeginSSO() (*services.SSORedirect, error)
	CompleteSSO(ctx context.Context, stateCookie, state, code string, meta services.RequestMeta) (*services.LoginResult, error)
}

// AuthHandlers handles authentication endpoints
type AuthHandlers struct {
	sessions     SessionService
	secureCookie bool
}

// NewAuthHandlers creates a new AuthHandlers instance. secureCookie marks the
// SSO state cookie Secure and should be set whenever TLS terminates in front
// of the server.
func NewAuthHandlers(sessions SessionService, secureCookie bool) *AuthHandlers {
	return &AuthHandlers{sessions: sessions, secureCookie: secureCookie}
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// @Summary      Log in
// @Description  Exchange a username (or email) and password for a session token.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  LoginRequest  true  "Credentials"
// @Success      200  {object}  services.LoginResult
// @Failure      401  {object}  map[string]interface{}  "Invalid credentials"
// @Failure      422  {object}  map[string]interface{}  "Validation failed"
// @Router       /api/auth/login [post]
// LoginHandler authenticates a password login.
func (h *AuthHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if !bind(c, &req) {
			return
		}
		res, err := h.sessions.Login(c.Request.Context(), req.Username, req.Password, requestMeta(c))
		if err != nil {
			apperrors.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// @Summary      Log out
// @Tags         Authentication
// @Security     Bearer
// @Success      204
// @Router       /api/auth/logout [post]
// LogoutHandler records the end of the caller's session. Tokens are stateless,
// so the client discards its copy.
func (h *AuthHandlers) LogoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		if err := h.sessions.Logout(c.Request.Context(), p, requestMeta(c)); err != nil {
			apperrors.Respond(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// @Summary      Refresh token
// @Tags         Authentication
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  services.LoginResult
// @Router       /api/auth/refresh [post]
// RefreshHandler issues a new token carrying the caller's current role.
func (h *AuthHandlers) RefreshHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		res, err := h.sessions.Refresh(c.Request.Context(), p)
		if err != nil {
			apperrors.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// @Summary      Current user
// @Tags         Authentication
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "user: models.User, auth_method: string"
// @Router       /api/auth/me [get]
// MeHandler returns the authenticated user.
func (h *AuthHandlers) MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		user, err := h.sessions.Me(c.Request.Context(), p)
		if err != nil {
			apperrors.Respond(c, err)
			return
		}
		body := gin.H{
			"user":        user,
			"auth_method": p.AuthMethod,
		}
		if p.IsAPIKey() {
			body["scopes"] = p.Scopes
		}
		c.JSON(http.StatusOK, body)
	}
}

// @Summary      Begin SSO login
// @Tags         Authentication
// @Success      302
// @Failure      404  {object}  map[string]interface{}  "SSO not configured"
// @Router       /api/auth/sso/login [get]
// SSOLoginHandler redirects the browser to the identity provider.
func (h *AuthHandlers) SSOLoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		redirect, err := h.sessions.BeginSSO()
		if err != nil {
			respondSSO(c, err)
			return
		}
		h.setStateCookie(c, redirect.StateCookie, int(redirect.MaxAge.Seconds()))
		c.Redirect(http.StatusFound, redirect.URL)
	}
}

// @Summary      Complete SSO login
// @Tags         Authentication
// @Produce      json
// @Param        state  query  string  true  "OAuth state"
// @Param        code   query  string  true  "Authorization code"
// @Success      200  {object}  services.LoginResult
// @Failure      401  {object}  map[string]interface{}  "Invalid credentials"
// @Router       /api/auth/sso/callback [get]
// SSOCallbackHandler exchanges the authorization code and issues a session.
func (h *AuthHandlers) SSOCallbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie, _ := c.Cookie(SSOStateCookie)
		// The state cookie is single use whatever the outcome.
		h.setStateCookie(c, "", -1)

		res, err := h.sessions.CompleteSSO(c.Request.Context(), cookie, c.Query("state"), c.Query("code"), requestMeta(c))
		if err != nil {
			respondSSO(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func (h *AuthHandlers) setStateCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SSOStateCookie, value, maxAge, "/api/auth/sso", "", h.secureCookie, true)
}

func respondSSO(c *gin.Context, err error) {
	if errors.Is(err, services.ErrSSODisabled) {
		apperrors.Respond(c, apperrors.NotFound("sso"))
		return
	}
	apperrors.Respond(c, err)
}
