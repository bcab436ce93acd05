package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/sentinelops/sentinel/internal/apperrors"
	"github.com/sentinelops/sentinel/internal/auth"
	"github.com/sentinelops/sentinel/internal/authz"
	"github.com/sentinelops/sentinel/internal/db/models"
)

// guarded builds a router that installs p (when non-nil) and then guard.
func guarded(p *authz.Principal, guard gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if p != nil {
			SetPrincipal(c, p)
		}
		c.Next()
	})
	r.GET("/", guard, func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func statusOf(r http.Handler) int {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w.Code
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name string
		p    *authz.Principal
		want int
	}{
		{"no principal", nil, http.StatusUnauthorized},
		{"analyst below owner", &authz.Principal{UserID: 1, Role: models.RoleSOCAnalyst, OrganizationID: orgPtr(1)}, http.StatusForbidden},
		{"security admin below owner", &authz.Principal{UserID: 1, Role: models.RoleSecurityAdmin, OrganizationID: orgPtr(1)}, http.StatusForbidden},
		{"owner", &authz.Principal{UserID: 1, Role: models.RolePlatformOwner, OrganizationID: orgPtr(1)}, http.StatusOK},
		{"founder", &authz.Principal{UserID: 1, Role: models.RoleFounder}, http.StatusOK},
		{"owner without organization", &authz.Principal{UserID: 1, Role: models.RolePlatformOwner}, http.StatusForbidden},
		{"unknown role", &authz.Principal{UserID: 1, Role: "root", OrganizationID: orgPtr(1)}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusOf(guarded(tt.p, RequireRole(models.RolePlatformOwner))); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRequireGlobalRole(t *testing.T) {
	owner := &authz.Principal{UserID: 1, Role: models.RolePlatformOwner, OrganizationID: orgPtr(1)}
	founder := &authz.Principal{UserID: 2, Role: models.RoleFounder}
	platformFounder := &authz.Principal{UserID: 3, Role: models.RolePlatformFounder}

	if got := statusOf(guarded(owner, RequireGlobalRole())); got != http.StatusForbidden {
		t.Errorf("owner: status = %d, want 403", got)
	}
	if got := statusOf(guarded(founder, RequireGlobalRole())); got != http.StatusOK {
		t.Errorf("founder: status = %d, want 200", got)
	}
	if got := statusOf(guarded(platformFounder, RequireGlobalRole())); got != http.StatusOK {
		t.Errorf("platform founder: status = %d, want 200", got)
	}
}

func TestRequireScope(t *testing.T) {
	session := &authz.Principal{UserID: 1, Role: models.RolePlatformOwner, OrganizationID: orgPtr(1), AuthMethod: authz.AuthJWT}
	reader := &authz.Principal{UserID: 1, Role: models.RolePlatformOwner, OrganizationID: orgPtr(1),
		AuthMethod: authz.AuthAPIKey, Scopes: []string{string(auth.ScopeAuditRead)}, APIKeyID: 5}
	writer := &authz.Principal{UserID: 1, Role: models.RolePlatformOwner, OrganizationID: orgPtr(1),
		AuthMethod: authz.AuthAPIKey, Scopes: []string{string(auth.ScopeFindingsWrite)}, APIKeyID: 6}

	guard := RequireScope(auth.ScopeAuditRead)
	if got := statusOf(guarded(session, guard)); got != http.StatusOK {
		t.Errorf("session: status = %d, want 200", got)
	}
	if got := statusOf(guarded(reader, guard)); got != http.StatusOK {
		t.Errorf("scoped key: status = %d, want 200", got)
	}
	if got := statusOf(guarded(writer, guard)); got != http.StatusForbidden {
		t.Errorf("unscoped key: status = %d, want 403", got)
	}
}

func TestRequireAPIKeyScope(t *testing.T) {
	session := &authz.Principal{UserID: 1, Role: models.RoleFounder, AuthMethod: authz.AuthJWT}
	writer := &authz.Principal{UserID: 1, Role: models.RoleSecurityAdmin, OrganizationID: orgPtr(1),
		AuthMethod: authz.AuthAPIKey, Scopes: []string{string(auth.ScopeFindingsWrite)}, APIKeyID: 6}
	reader := &authz.Principal{UserID: 1, Role: models.RoleSecurityAdmin, OrganizationID: orgPtr(1),
		AuthMethod: authz.AuthAPIKey, Scopes: []string{string(auth.ScopeFindingsRead)}, APIKeyID: 7}

	guard := RequireAPIKeyScope(auth.ScopeFindingsWrite)
	if got := statusOf(guarded(session, guard)); got != http.StatusForbidden {
		t.Errorf("session: status = %d, want 403", got)
	}
	if got := statusOf(guarded(writer, guard)); got != http.StatusOK {
		t.Errorf("writer key: status = %d, want 200", got)
	}
	if got := statusOf(guarded(reader, guard)); got != http.StatusForbidden {
		t.Errorf("reader key: status = %d, want 403", got)
	}
}

func TestRequireSession_RecordsDenialReason(t *testing.T) {
	key := &authz.Principal{UserID: 1, Role: models.RolePlatformOwner, OrganizationID: orgPtr(1), AuthMethod: authz.AuthAPIKey, APIKeyID: 3}

	var reason string
	r := gin.New()
	r.Use(func(c *gin.Context) {
		SetPrincipal(c, key)
		c.Next()
		reason = c.GetString(apperrors.DeniedReasonKey)
	})
	r.GET("/", RequireSession(), func(c *gin.Context) { c.Status(http.StatusOK) })

	if got := statusOf(r); got != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", got)
	}
	if reason != "session_required" {
		t.Errorf("reason = %q, want session_required", reason)
	}
}
