// Package oidc implements the OpenID Connect authorization-code flow used for
// single sign-on. It only proves who the caller is; mapping the identity to an
// existing Sentinel account is the session service's job.
package oidc

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/sentinelops/sentinel/internal/config"
)

var (
	// ErrMissingIDToken is returned when the token response carries no id_token.
	ErrMissingIDToken = errors.New("oidc: token response has no id_token")
	// ErrNonceMismatch is returned when the ID token nonce differs from the one sent.
	ErrNonceMismatch = errors.New("oidc: nonce mismatch")
	// ErrEmailUnverified is returned when the IdP explicitly marks the email unverified.
	ErrEmailUnverified = errors.New("oidc: email not verified")
)

// Identity is the verified subset of ID token claims Sentinel relies on.
type Identity struct {
	Subject string
	Email   string
	Name    string
}

// Provider wraps the discovered IdP endpoints and the ID token verifier.
type Provider struct {
	verifier *oidc.IDTokenVerifier
	config   *oauth2.Config
	provider *oidc.Provider
}

// NewProvider performs OIDC discovery against cfg.IssuerURL. ctx bounds the
// discovery request only.
func NewProvider(ctx context.Context, cfg *config.OIDCConfig) (*Provider, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("OIDC is not enabled")
	}
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("OIDC issuer URL is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("OIDC client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("OIDC client secret is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	return &Provider{
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       cfg.Scopes,
		},
		provider: provider,
	}, nil
}

// AuthURL returns the IdP authorization URL carrying state and nonce.
func (p *Provider) AuthURL(state, nonce string) string {
	return p.config.AuthCodeURL(state, oidc.Nonce(nonce))
}

// EndSessionEndpoint returns the IdP end_session_endpoint, or "" when the
// discovery document does not advertise one.
func (p *Provider) EndSessionEndpoint() string {
	if p.provider == nil {
		return ""
	}
	var claims struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := p.provider.Claims(&claims); err != nil {
		return ""
	}
	return claims.EndSessionEndpoint
}

// Exchange trades the authorization code for tokens, verifies the ID token
// signature, audience, expiry and nonce, and returns the caller's identity.
func (p *Provider) Exchange(ctx context.Context, code, nonce string) (*Identity, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code for token: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, ErrMissingIDToken
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}
	if idToken.Nonce != nonce {
		return nil, ErrNonceMismatch
	}

	return identityFromToken(idToken)
}

func identityFromToken(idToken *oidc.IDToken) (*Identity, error) {
	var claims struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified *bool  `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse ID token claims: %w", err)
	}

	if claims.Sub == "" {
		return nil, fmt.Errorf("ID token missing 'sub' claim")
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("ID token missing 'email' claim")
	}
	if claims.EmailVerified != nil && !*claims.EmailVerified {
		return nil, ErrEmailUnverified
	}
	if claims.Name == "" {
		claims.Name = claims.Email
	}

	return &Identity{Subject: claims.Sub, Email: claims.Email, Name: claims.Name}, nil
}
