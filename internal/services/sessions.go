package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sentinelops/sentinel/internal/apperrors"
	"github.com/sentinelops/sentinel/internal/audit"
	"github.com/sentinelops/sentinel/internal/auth"
	"github.com/sentinelops/sentinel/internal/auth/ldap"
	"github.com/sentinelops/sentinel/internal/auth/oidc"
	"github.com/sentinelops/sentinel/internal/authz"
	"github.com/sentinelops/sentinel/internal/crypto"
	"github.com/sentinelops/sentinel/internal/db/models"
	"github.com/sentinelops/sentinel/internal/db/repositories"
	"github.com/sentinelops/sentinel/internal/telemetry"
)

// ErrSSODisabled is returned by the SSO operations when no provider is configured.
var ErrSSODisabled = errors.New("single sign-on is not configured")

// ssoStatePurpose binds sealed SSO state cookies to their use.
const ssoStatePurpose = "sso-state"

// ssoStateTTL bounds the time between the login redirect and the callback.
const ssoStateTTL = 10 * time.Minute

// DirectoryAuthenticator verifies a password against an external directory.
type DirectoryAuthenticator interface {
	Authenticate(ctx context.Context, username, password string) error
}

// SSOProvider is the identity provider side of the SSO flow.
type SSOProvider interface {
	AuthURL(state, nonce string) string
	Exchange(ctx context.Context, code, nonce string) (*oidc.Identity, error)
}

// LoginResult is returned by a successful login or refresh.
type LoginResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// SSORedirect is the start of an SSO login: the browser is sent to URL with
// StateCookie set.
type SSORedirect struct {
	URL         string
	StateCookie string
	MaxAge      time.Duration
}

type ssoState struct {
	State string `json:"s"`
	Nonce string `json:"n"`
}

// Sessions issues and refreshes session tokens.
type Sessions struct {
	db       *sqlx.DB
	users    *repositories.UserRepository
	recorder *audit.Recorder
	tokenTTL time.Duration

	directory   DirectoryAuthenticator
	sso         SSOProvider
	stateCipher *crypto.TokenCipher
	clock       clock
}

// SessionOption configures optional login methods.
type SessionOption func(*Sessions)

// WithDirectory enables password verification for auth_source=ldap accounts.
func WithDirectory(d DirectoryAuthenticator) SessionOption {
	return func(s *Sessions) { s.directory = d }
}

// WithSSO enables the OIDC login flow. The cipher seals the state cookie.
func WithSSO(p SSOProvider, stateCipher *crypto.TokenCipher) SessionOption {
	return func(s *Sessions) {
		s.sso = p
		s.stateCipher = stateCipher
	}
}

// NewSessions creates the session service.
func NewSessions(conn *sqlx.DB, recorder *audit.Recorder, tokenTTL time.Duration, opts ...SessionOption) *Sessions {
	s := &Sessions{
		db:       conn,
		users:    repositories.NewUserRepository(conn),
		recorder: recorder,
		tokenTTL: tokenTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SSOEnabled reports whether the OIDC flow is configured.
func (s *Sessions) SSOEnabled() bool {
	return s.sso != nil && s.stateCipher != nil
}

// Login authenticates a username (or email) and password. Every failure,
// whether the account is unknown, the password is wrong or the account is not
// active, returns the same AuthenticationError.
func (s *Sessions) Login(ctx context.Context, login, password string, meta RequestMeta) (*LoginResult, error) {
	user, err := s.users.GetByLogin(ctx, login)
	if errors.Is(err, apperrors.ErrNotFound) {
		auth.EqualiseTiming(password)
		return nil, s.loginFailed(ctx, "password", login, nil, "unknown_user", meta)
	}
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}

	method, reason, err := s.verifyPassword(ctx, user, password)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return nil, s.loginFailed(ctx, method, login, user, reason, meta)
	}
	if status := user.EffectiveStatus(s.clock.now()); status != models.StatusActive {
		return nil, s.loginFailed(ctx, method, login, user, "account_"+string(status), meta)
	}

	return s.loginSucceeded(ctx, method, user, meta, nil)
}

// verifyPassword returns a non-empty failure reason when the password does not
// match. An error means the check itself could not run.
func (s *Sessions) verifyPassword(ctx context.Context, user *models.User, password string) (method, reason string, err error) {
	switch user.AuthSource {
	case models.AuthSourceLDAP:
		if s.directory == nil {
			auth.EqualiseTiming(password)
			return "ldap", "ldap_disabled", nil
		}
		err := s.directory.Authenticate(ctx, user.Username, password)
		if errors.Is(err, ldap.ErrInvalidCredentials) {
			return "ldap", "bad_password", nil
		}
		if err != nil {
			telemetry.LoginAttemptsTotal.WithLabelValues("ldap", "failure").Inc()
			return "ldap", "", fmt.Errorf("directory authentication: %w", err)
		}
		return "ldap", "", nil
	case models.AuthSourceOIDC:
		auth.EqualiseTiming(password)
		return "password", "sso_only", nil
	default:
		if !auth.CheckPassword(user.PasswordHash, password) {
			return "password", "bad_password", nil
		}
		return "password", "", nil
	}
}

// loginFailed records the failure and returns the uniform credential error.
func (s *Sessions) loginFailed(ctx context.Context, method, login string, user *models.User, reason string, meta RequestMeta) error {
	telemetry.LoginAttemptsTotal.WithLabelValues(method, "failure").Inc()

	e := meta.entry(models.AuditWarning, models.CategoryAuth, "login failed", nil, audit.Metadata{
		"username": login,
		"method":   method,
		"reason":   reason,
	})
	if user != nil {
		uid := user.ID
		e.UserID = &uid
		e.OrganizationID = user.OrganizationID
	}
	_ = s.recorder.Write(ctx, s.db, audit.BestEffort, e)

	return &apperrors.AuthenticationError{Message: apperrors.ErrInvalidCredentials.Message, Reason: reason}
}

// loginSucceeded updates last_login and writes the audit entry in one
// transaction, then mints the token. extra runs inside the same transaction.
func (s *Sessions) loginSucceeded(ctx context.Context, method string, user *models.User, meta RequestMeta, extra func(tx *audit.Tx) error) (*LoginResult, error) {
	now := s.clock.now()
	err := s.recorder.InTx(ctx, s.db, func(tx *audit.Tx) error {
		if extra != nil {
			if err := extra(tx); err != nil {
				return err
			}
		}
		if err := s.users.WithTx(tx.Tx).UpdateLastLogin(ctx, user.ID, now); err != nil {
			return err
		}
		return tx.Record(ctx, meta.entry(models.AuditInfo, models.CategoryAuth, "login succeeded",
			principalFor(user), audit.Metadata{"username": user.Username, "method": method}))
	})
	if err != nil {
		return nil, fmt.Errorf("record login: %w", err)
	}
	user.LastLogin = &now

	token, expiresAt, err := auth.GenerateJWT(user.ID, user.Role, user.OrganizationID, s.tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("mint token: %w", err)
	}
	telemetry.LoginAttemptsTotal.WithLabelValues(method, "success").Inc()
	slog.Info("login succeeded", "user_id", user.ID, "method", method, "request_id", meta.RequestID)
	return &LoginResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// Logout records the end of a session. Tokens are stateless and expire on
// their own; the audit entry is the record that the user signed out.
func (s *Sessions) Logout(ctx context.Context, p *authz.Principal, meta RequestMeta) error {
	return s.recorder.Write(ctx, s.db, audit.FailClosed,
		meta.entry(models.AuditInfo, models.CategoryAuth, "logout", p, audit.Metadata{"username": p.Username}))
}

// Refresh issues a new token for a session principal whose account is still active.
func (s *Sessions) Refresh(ctx context.Context, p *authz.Principal) (*LoginResult, error) {
	if p.IsAPIKey() {
		return nil, apperrors.Forbidden("api keys cannot refresh sessions")
	}
	user, err := s.activeUser(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := auth.GenerateJWT(user.ID, user.Role, user.OrganizationID, s.tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("mint token: %w", err)
	}
	return &LoginResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// Me returns the caller's own account.
func (s *Sessions) Me(ctx context.Context, p *authz.Principal) (*models.User, error) {
	return s.activeUser(ctx, p.UserID)
}

// CurrentPrincipal reloads a user and returns its session principal, or
// apperrors.ErrAccountNotActive when the account may no longer act. The role
// and organization come from the database, not from the token, so a demotion
// takes effect on the next request.
func (s *Sessions) CurrentPrincipal(ctx context.Context, userID int64) (*authz.Principal, error) {
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return principalFor(user), nil
}

func (s *Sessions) activeUser(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.ErrAccountNotActive
	}
	if err != nil {
		return nil, err
	}
	if !user.CanAuthenticate(s.clock.now()) {
		return nil, apperrors.ErrAccountNotActive
	}
	return user, nil
}

// BeginSSO starts the OIDC flow. The state and nonce travel in a sealed cookie
// so no server-side session is kept.
func (s *Sessions) BeginSSO() (*SSORedirect, error) {
	if !s.SSOEnabled() {
		return nil, ErrSSODisabled
	}
	state, err := crypto.RandomString(24)
	if err != nil {
		return nil, err
	}
	nonce, err := crypto.RandomString(24)
	if err != nil {
		return nil, err
	}
	cookie, err := s.stateCipher.SealJSON(ssoStatePurpose, ssoState{State: state, Nonce: nonce}, ssoStateTTL)
	if err != nil {
		return nil, fmt.Errorf("seal sso state: %w", err)
	}
	return &SSORedirect{URL: s.sso.AuthURL(state, nonce), StateCookie: cookie, MaxAge: ssoStateTTL}, nil
}

// CompleteSSO handles the IdP callback. The verified identity must match an
// existing active account whose auth_source is oidc, first by linked subject and
// then by email; accounts are never created here.
func (s *Sessions) CompleteSSO(ctx context.Context, stateCookie, state, code string, meta RequestMeta) (*LoginResult, error) {
	if !s.SSOEnabled() {
		return nil, ErrSSODisabled
	}

	var sealed ssoState
	if err := s.stateCipher.OpenJSON(ssoStatePurpose, stateCookie, &sealed); err != nil {
		return nil, s.loginFailed(ctx, "oidc", "", nil, "bad_state_cookie", meta)
	}
	if subtle.ConstantTimeCompare([]byte(sealed.State), []byte(state)) != 1 {
		return nil, s.loginFailed(ctx, "oidc", "", nil, "state_mismatch", meta)
	}

	identity, err := s.sso.Exchange(ctx, code, sealed.Nonce)
	if err != nil {
		slog.Warn("sso exchange failed", "error", err, "request_id", meta.RequestID)
		return nil, s.loginFailed(ctx, "oidc", "", nil, "exchange_failed", meta)
	}

	user, err := s.users.GetByOIDCSub(ctx, identity.Subject)
	linked := err == nil
	if errors.Is(err, apperrors.ErrNotFound) {
		user, err = s.users.GetByEmail(ctx, identity.Email)
	}
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, s.loginFailed(ctx, "oidc", identity.Email, nil, "no_account", meta)
	}
	if err != nil {
		return nil, fmt.Errorf("look up sso user: %w", err)
	}
	if user.AuthSource != models.AuthSourceOIDC {
		return nil, s.loginFailed(ctx, "oidc", identity.Email, user, "not_sso_account", meta)
	}
	if !linked && user.OIDCSub != nil && *user.OIDCSub != identity.Subject {
		return nil, s.loginFailed(ctx, "oidc", identity.Email, user, "subject_mismatch", meta)
	}
	if status := user.EffectiveStatus(s.clock.now()); status != models.StatusActive {
		return nil, s.loginFailed(ctx, "oidc", identity.Email, user, "account_"+string(status), meta)
	}

	var link func(tx *audit.Tx) error
	if user.OIDCSub == nil {
		link = func(tx *audit.Tx) error {
			return s.users.WithTx(tx.Tx).LinkOIDCSub(ctx, user.ID, identity.Subject)
		}
	}
	return s.loginSucceeded(ctx, "oidc", user, meta, link)
}
