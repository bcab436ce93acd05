// Package ldap verifies passwords against a directory for users whose
// auth_source is "ldap". Sentinel never stores those passwords.
package ldap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/sentinelops/sentinel/internal/config"
)

// ErrInvalidCredentials is returned for an unknown user, an ambiguous match or a
// rejected bind. Callers must not distinguish between them.
var ErrInvalidCredentials = errors.New("ldap: invalid credentials")

// conn is the subset of *ldap.Conn the authenticator uses.
type conn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	StartTLS(cfg *tls.Config) error
	Close() error
}

// Authenticator binds as a service account, finds the user's DN and re-binds
// as that DN with the supplied password.
type Authenticator struct {
	cfg  config.LDAPConfig
	dial func(url string, timeout time.Duration) (conn, error)
}

// New returns an Authenticator for cfg.
func New(cfg config.LDAPConfig) *Authenticator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Authenticator{cfg: cfg, dial: dialURL}
}

func dialURL(url string, timeout time.Duration) (conn, error) {
	c, err := ldap.DialURL(url, ldap.DialWithDialer(&net.Dialer{Timeout: timeout}))
	if err != nil {
		return nil, err
	}
	c.SetTimeout(timeout)
	return c, nil
}

// Authenticate returns nil when password is the directory password of username.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// An empty password would be an unauthenticated bind, which most servers accept.
	if username == "" || password == "" {
		return ErrInvalidCredentials
	}

	c, err := a.dial(a.cfg.URL, a.cfg.Timeout)
	if err != nil {
		return fmt.Errorf("ldap dial: %w", err)
	}
	defer c.Close()

	if a.cfg.StartTLS {
		if err := c.StartTLS(&tls.Config{MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("ldap starttls: %w", err)
		}
	}

	if a.cfg.BindDN != "" {
		if err := c.Bind(a.cfg.BindDN, a.cfg.BindPassword); err != nil {
			return fmt.Errorf("ldap service bind: %w", err)
		}
	}

	res, err := c.Search(ldap.NewSearchRequest(
		a.cfg.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases,
		2, int(a.cfg.Timeout.Seconds()), false,
		fmt.Sprintf(a.cfg.UserFilter, ldap.EscapeFilter(username)),
		[]string{"dn"},
		nil,
	))
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("ldap search: %w", err)
	}
	if len(res.Entries) != 1 {
		return ErrInvalidCredentials
	}

	if err := c.Bind(res.Entries[0].DN, password); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("ldap user bind: %w", err)
	}
	return nil
}
