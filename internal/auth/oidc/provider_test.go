package oidc

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/sentinelops/sentinel/internal/config"
)

const (
	testIssuer   = "https://idp.example.com"
	testClientID = "test-client"
)

// testIdP serves a token endpoint returning an ID token signed with key.
type testIdP struct {
	key    *rsa.PrivateKey
	claims jwt.MapClaims
	server *httptest.Server
}

func newTestIdP(t *testing.T) *testIdP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	idp := &testIdP{key: key}
	idp.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"access_token": "at", "token_type": "Bearer", "expires_in": 300}
		if idp.claims != nil {
			signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, idp.claims).SignedString(idp.key)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			resp["id_token"] = signed
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(idp.server.Close)
	return idp
}

func (idp *testIdP) provider() *Provider {
	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&idp.key.PublicKey}}
	return &Provider{
		verifier: oidc.NewVerifier(testIssuer, keySet, &oidc.Config{ClientID: testClientID}),
		config: &oauth2.Config{
			ClientID:     testClientID,
			ClientSecret: "test-secret",
			RedirectURL:  "http://localhost/api/auth/sso/callback",
			Scopes:       []string{"openid", "email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  testIssuer + "/authorize",
				TokenURL: idp.server.URL + "/token",
			},
		},
	}
}

func baseClaims(nonce string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   testIssuer,
		"aud":   testClientID,
		"sub":   "idp-user-1",
		"email": "alice@example.com",
		"name":  "Alice",
		"nonce": nonce,
		"iat":   now.Unix(),
		"exp":   now.Add(5 * time.Minute).Unix(),
	}
}

func TestNewProvider_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.OIDCConfig
	}{
		{"disabled", config.OIDCConfig{}},
		{"missing issuer", config.OIDCConfig{Enabled: true, ClientID: "c", ClientSecret: "s"}},
		{"missing client id", config.OIDCConfig{Enabled: true, IssuerURL: testIssuer, ClientSecret: "s"}},
		{"missing client secret", config.OIDCConfig{Enabled: true, IssuerURL: testIssuer, ClientID: "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewProvider(context.Background(), &tt.cfg); err == nil {
				t.Error("NewProvider() expected error, got nil")
			}
		})
	}
}

func TestAuthURL(t *testing.T) {
	p := newTestIdP(t).provider()
	url := p.AuthURL("state-123", "nonce-456")
	for _, want := range []string{"state=state-123", "nonce=nonce-456", "client_id=test-client", "response_type=code"} {
		if !strings.Contains(url, want) {
			t.Errorf("AuthURL() = %q, want to contain %q", url, want)
		}
	}
}

func TestEndSessionEndpoint_NoDiscovery(t *testing.T) {
	if got := newTestIdP(t).provider().EndSessionEndpoint(); got != "" {
		t.Errorf("EndSessionEndpoint() = %q, want empty", got)
	}
}

func TestExchange(t *testing.T) {
	t.Run("valid token", func(t *testing.T) {
		idp := newTestIdP(t)
		idp.claims = baseClaims("n1")
		id, err := idp.provider().Exchange(context.Background(), "code", "n1")
		if err != nil {
			t.Fatalf("Exchange() error: %v", err)
		}
		if id.Subject != "idp-user-1" || id.Email != "alice@example.com" || id.Name != "Alice" {
			t.Errorf("Exchange() = %+v", id)
		}
	})

	t.Run("name defaults to email", func(t *testing.T) {
		idp := newTestIdP(t)
		idp.claims = baseClaims("n1")
		delete(idp.claims, "name")
		id, err := idp.provider().Exchange(context.Background(), "code", "n1")
		if err != nil {
			t.Fatal(err)
		}
		if id.Name != "alice@example.com" {
			t.Errorf("Name = %q", id.Name)
		}
	})

	t.Run("nonce mismatch", func(t *testing.T) {
		idp := newTestIdP(t)
		idp.claims = baseClaims("other")
		if _, err := idp.provider().Exchange(context.Background(), "code", "n1"); !errors.Is(err, ErrNonceMismatch) {
			t.Errorf("error = %v, want ErrNonceMismatch", err)
		}
	})

	t.Run("unverified email", func(t *testing.T) {
		idp := newTestIdP(t)
		idp.claims = baseClaims("n1")
		idp.claims["email_verified"] = false
		if _, err := idp.provider().Exchange(context.Background(), "code", "n1"); !errors.Is(err, ErrEmailUnverified) {
			t.Errorf("error = %v, want ErrEmailUnverified", err)
		}
	})

	t.Run("missing email", func(t *testing.T) {
		idp := newTestIdP(t)
		idp.claims = baseClaims("n1")
		delete(idp.claims, "email")
		if _, err := idp.provider().Exchange(context.Background(), "code", "n1"); err == nil {
			t.Error("Exchange() accepted token without email")
		}
	})

	t.Run("wrong audience", func(t *testing.T) {
		idp := newTestIdP(t)
		idp.claims = baseClaims("n1")
		idp.claims["aud"] = "someone-else"
		if _, err := idp.provider().Exchange(context.Background(), "code", "n1"); err == nil {
			t.Error("Exchange() accepted token for another audience")
		}
	})

	t.Run("no id token", func(t *testing.T) {
		idp := newTestIdP(t)
		if _, err := idp.provider().Exchange(context.Background(), "code", "n1"); !errors.Is(err, ErrMissingIDToken) {
			t.Errorf("error = %v, want ErrMissingIDToken", err)
		}
	})

	t.Run("token endpoint unreachable", func(t *testing.T) {
		p := newTestIdP(t).provider()
		p.config.Endpoint.TokenURL = "http://127.0.0.1:1/token"
		if _, err := p.Exchange(context.Background(), "code", "n1"); err == nil {
			t.Error("Exchange() expected error for unreachable token endpoint")
		}
	})
}
