package azuread

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sentinelops/sentinel/internal/config"
)

func TestNewProvider_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.AzureADConfig
	}{
		{"disabled", config.AzureADConfig{}},
		{"missing tenant", config.AzureADConfig{Enabled: true, ClientID: "client", ClientSecret: "secret"}},
		{"multi-tenant endpoint", config.AzureADConfig{Enabled: true, TenantID: "common", ClientID: "client", ClientSecret: "secret"}},
		{"missing client id", config.AzureADConfig{Enabled: true, TenantID: "tenant", ClientSecret: "secret"}},
		{"missing client secret", config.AzureADConfig{Enabled: true, TenantID: "tenant", ClientID: "client"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewProvider(context.Background(), &tt.cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestIssuerURL(t *testing.T) {
	if got := IssuerURL("", "contoso"); got != "https://login.microsoftonline.com/contoso/v2.0" {
		t.Errorf("IssuerURL = %q", got)
	}
	if got := IssuerURL("https://login.microsoftonline.us/", "t1"); got != "https://login.microsoftonline.us/t1/v2.0" {
		t.Errorf("IssuerURL with sovereign authority = %q", got)
	}
}

func TestNewProvider_DiscoversTenantIssuer(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tenant-a/v2.0/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		issuer := srv.URL + "/tenant-a/v2.0"
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 issuer,
			"authorization_endpoint": srv.URL + "/tenant-a/oauth2/v2.0/authorize",
			"token_endpoint":         srv.URL + "/tenant-a/oauth2/v2.0/token",
			"jwks_uri":               srv.URL + "/tenant-a/discovery/v2.0/keys",
		})
	}))
	defer srv.Close()

	p, err := NewProvider(context.Background(), &config.AzureADConfig{
		Enabled:      true,
		TenantID:     "tenant-a",
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "https://sentinel.example.com/api/auth/sso/callback",
		Authority:    srv.URL,
	})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	url := p.AuthURL("st", "nc")
	if !strings.HasPrefix(url, srv.URL+"/tenant-a/oauth2/v2.0/authorize?") {
		t.Errorf("AuthURL = %q", url)
	}
	if !strings.Contains(url, "client_id=client") || !strings.Contains(url, "nonce=nc") {
		t.Errorf("AuthURL missing client_id or nonce: %q", url)
	}
}

func TestNewProvider_UnknownTenant(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewProvider(context.Background(), &config.AzureADConfig{
		Enabled: true, TenantID: "missing", ClientID: "client", ClientSecret: "secret", Authority: srv.URL,
	})
	if err == nil {
		t.Error("expected discovery error for unknown tenant")
	}
}
