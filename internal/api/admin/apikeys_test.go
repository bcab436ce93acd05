package admin

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/sentinelops/sentinel/internal/apperrors"
	"github.com/sentinelops/sentinel/internal/authz"
	"github.com/sentinelops/sentinel/internal/db/models"
	"github.com/sentinelops/sentinel/internal/services"
)

type fakeAPIKeys struct {
	keys       []*models.APIKey
	lastScopes []string
	lastExpiry *time.Time
}

func (f *fakeAPIKeys) List(_ context.Context, actor *authz.Principal) ([]*models.APIKey, error) {
	var out []*models.APIKey
	for _, k := range f.keys {
		if k.UserID == actor.UserID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *fakeAPIKeys) Create(_ context.Context, actor *authz.Principal, name string, scopes []string, expiresAt *time.Time, _ services.RequestMeta) (*services.CreatedAPIKey, error) {
	if actor.IsAPIKey() {
		return nil, apperrors.Forbidden("api keys cannot create api keys")
	}
	f.lastScopes, f.lastExpiry = scopes, expiresAt
	k := &models.APIKey{ID: int64(len(f.keys) + 1), UserID: actor.UserID, Name: name, KeyPrefix: "snt_abcd", Scopes: scopes}
	f.keys = append(f.keys, k)
	return &services.CreatedAPIKey{APIKey: k, Key: "snt_abcd_secret"}, nil
}

func (f *fakeAPIKeys) Revoke(_ context.Context, actor *authz.Principal, id int64, _ services.RequestMeta) error {
	for i, k := range f.keys {
		if k.ID == id && k.UserID == actor.UserID {
			f.keys = append(f.keys[:i], f.keys[i+1:]...)
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func TestAPIKeyHandlers(t *testing.T) {
	f := &fakeAPIKeys{}
	h := NewAPIKeyHandlers(f)
	r := newRouter(adminPrincipal(3))
	r.GET("/apikeys", h.ListAPIKeysHandler())
	r.POST("/apikeys", h.CreateAPIKeyHandler())
	r.DELETE("/apikeys/:id", h.RevokeAPIKeyHandler())

	w := serve(r, http.MethodPost, "/apikeys", map[string]any{
		"name": "edr-connector", "scopes": []string{"findings:write"}, "expires_at": "2027-03-01T00:00:00Z",
	})
	wantStatus(t, w, http.StatusCreated)
	body := decode(t, w)
	if body["key"] != "snt_abcd_secret" || body["key_prefix"] != "snt_abcd" {
		t.Errorf("created body = %v", body)
	}
	if _, leaked := body["key_hash"]; leaked {
		t.Error("key hash serialized")
	}
	if f.lastExpiry == nil || f.lastExpiry.Year() != 2027 {
		t.Errorf("expires_at = %v", f.lastExpiry)
	}

	w = serve(r, http.MethodGet, "/apikeys", nil)
	wantStatus(t, w, http.StatusOK)
	keys := decode(t, w)["keys"].([]any)
	if len(keys) != 1 {
		t.Fatalf("keys = %v", keys)
	}
	if _, ok := keys[0].(map[string]any)["key"]; ok {
		t.Error("listed key carries the secret")
	}

	wantStatus(t, serve(r, http.MethodDelete, "/apikeys/1", nil), http.StatusNoContent)
	wantStatus(t, serve(r, http.MethodDelete, "/apikeys/1", nil), http.StatusNotFound)
}

func TestCreateAPIKeyHandler_Validation(t *testing.T) {
	r := newRouter(adminPrincipal(3))
	r.POST("/apikeys", NewAPIKeyHandlers(&fakeAPIKeys{}).CreateAPIKeyHandler())

	for name, body := range map[string]any{
		"missing name":  map[string]any{"scopes": []string{"findings:read"}},
		"empty scopes":  map[string]any{"name": "k", "scopes": []string{}},
		"missing scope": map[string]any{"name": "k"},
	} {
		t.Run(name, func(t *testing.T) {
			wantStatus(t, serve(r, http.MethodPost, "/apikeys", body), http.StatusUnprocessableEntity)
		})
	}
}

func TestCreateAPIKeyHandler_KeyCannotMintKeys(t *testing.T) {
	p := adminPrincipal(3)
	p.AuthMethod = authz.AuthAPIKey
	r := newRouter(p)
	r.POST("/apikeys", NewAPIKeyHandlers(&fakeAPIKeys{}).CreateAPIKeyHandler())

	wantStatus(t, serve(r, http.MethodPost, "/apikeys", map[string]any{"name": "k", "scopes": []string{"findings:read"}}), http.StatusForbidden)
}
