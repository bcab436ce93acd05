// Package azuread configures single sign-on against a Microsoft Entra ID
// (Azure AD) tenant. The tenant's v2.0 issuer is derived from the tenant ID, so
// ID tokens from any other tenant fail issuer verification.
package azuread

import (
	"context"
	"fmt"
	"strings"

	"github.com/sentinelops/sentinel/internal/auth/oidc"
	"github.com/sentinelops/sentinel/internal/config"
)

// DefaultAuthority is the public-cloud login host.
const DefaultAuthority = "https://login.microsoftonline.com"

// IssuerURL returns the v2.0 issuer for tenantID under authority.
func IssuerURL(authority, tenantID string) string {
	if authority == "" {
		authority = DefaultAuthority
	}
	return strings.TrimRight(authority, "/") + "/" + tenantID + "/v2.0"
}

// NewProvider performs discovery against the tenant's issuer and returns a
// generic OIDC provider bound to it.
func NewProvider(ctx context.Context, cfg *config.AzureADConfig) (*oidc.Provider, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("Azure AD is not enabled")
	}
	switch {
	case cfg.TenantID == "":
		return nil, fmt.Errorf("Azure AD tenant ID is required")
	case cfg.TenantID == "common" || cfg.TenantID == "organizations" || cfg.TenantID == "consumers":
		// Multi-tenant endpoints issue tokens whose issuer varies per tenant.
		return nil, fmt.Errorf("Azure AD tenant ID must name a single tenant, got %q", cfg.TenantID)
	case cfg.ClientID == "":
		return nil, fmt.Errorf("Azure AD client ID is required")
	case cfg.ClientSecret == "":
		return nil, fmt.Errorf("Azure AD client secret is required")
	}

	return oidc.NewProvider(ctx, &config.OIDCConfig{
		Enabled:      true,
		IssuerURL:    IssuerURL(cfg.Authority, cfg.TenantID),
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       []string{"openid", "email", "profile"},
	})
}
