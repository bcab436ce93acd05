package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sentinelops/sentinel/internal/apperrors"
	"github.com/sentinelops/sentinel/internal/audit"
	"github.com/sentinelops/sentinel/internal/auth"
	"github.com/sentinelops/sentinel/internal/authz"
	"github.com/sentinelops/sentinel/internal/db/models"
	"github.com/sentinelops/sentinel/internal/db/repositories"
	"github.com/sentinelops/sentinel/internal/safego"
	"github.com/sentinelops/sentinel/internal/telemetry"
)

// ErrInvalidAPIKey is the uniform error for an unknown, mismatched or expired key.
var ErrInvalidAPIKey = &apperrors.AuthenticationError{Message: "invalid api key"}

// principalSource reloads the live principal of a key's owner.
type principalSource interface {
	CurrentPrincipal(ctx context.Context, userID int64) (*authz.Principal, error)
}

// APIKeys issues, lists, revokes and authenticates API keys.
type APIKeys struct {
	db       *sqlx.DB
	keys     *repositories.APIKeyRepository
	recorder *audit.Recorder
	owners   principalSource
	prefix   string
	clock    clock
}

// NewAPIKeys creates the API key service. owners resolves the owning user of a
// presented key; it is normally the Sessions service.
func NewAPIKeys(conn *sqlx.DB, recorder *audit.Recorder, owners principalSource, prefix string) *APIKeys {
	return &APIKeys{
		db:       conn,
		keys:     repositories.NewAPIKeyRepository(conn),
		recorder: recorder,
		owners:   owners,
		prefix:   prefix,
	}
}

// Prefix returns the prefix that marks a bearer credential as an API key.
func (k *APIKeys) Prefix() string {
	return k.prefix
}

// CreatedAPIKey is returned once, at creation; Key is never retrievable again.
type CreatedAPIKey struct {
	*models.APIKey
	Key string `json:"key"`
}

// List returns the caller's own keys.
func (k *APIKeys) List(ctx context.Context, actor *authz.Principal) ([]*models.APIKey, error) {
	return k.keys.ListByUser(ctx, actor.UserID)
}

// Create issues a key for the caller. Keys cannot mint further keys.
func (k *APIKeys) Create(ctx context.Context, actor *authz.Principal, name string, scopes []string, expiresAt *time.Time, meta RequestMeta) (*CreatedAPIKey, error) {
	if actor.IsAPIKey() {
		return nil, apperrors.Forbidden("api keys cannot create api keys")
	}
	verr := &apperrors.ValidationError{}
	name = strings.TrimSpace(name)
	if name == "" {
		verr.Add("name", "is required")
	}
	if err := auth.ValidateScopes(scopes); err != nil {
		verr.Add("scopes", err.Error())
	}
	if expiresAt != nil && !expiresAt.After(k.clock.now()) {
		verr.Add("expires_at", "must be in the future")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	raw, hash, prefix, err := auth.GenerateAPIKey(k.prefix)
	if err != nil {
		return nil, err
	}
	key := &models.APIKey{
		UserID:    actor.UserID,
		Name:      name,
		KeyHash:   hash,
		KeyPrefix: prefix,
		Scopes:    scopes,
		ExpiresAt: expiresAt,
	}
	err = k.recorder.InTx(ctx, k.db, func(tx *audit.Tx) error {
		if err := k.keys.WithTx(tx.Tx).Create(ctx, key); err != nil {
			return err
		}
		return tx.Record(ctx, meta.entry(models.AuditInfo, models.CategoryAuth, "api key created", actor, audit.Metadata{
			"api_key_id": key.ID,
			"name":       key.Name,
			"key_prefix": key.KeyPrefix,
			"scopes":     key.Scopes,
		}))
	})
	if err != nil {
		return nil, err
	}
	return &CreatedAPIKey{APIKey: key, Key: raw}, nil
}

// Revoke deletes one of the caller's keys.
func (k *APIKeys) Revoke(ctx context.Context, actor *authz.Principal, id int64, meta RequestMeta) error {
	key, err := k.keys.GetForUser(ctx, actor.UserID, id)
	if err != nil {
		return err
	}
	return k.recorder.InTx(ctx, k.db, func(tx *audit.Tx) error {
		if err := k.keys.WithTx(tx.Tx).Delete(ctx, actor.UserID, key.ID); err != nil {
			return err
		}
		return tx.Record(ctx, meta.entry(models.AuditWarning, models.CategoryAuth, "api key revoked", actor, audit.Metadata{
			"api_key_id": key.ID,
			"name":       key.Name,
			"key_prefix": key.KeyPrefix,
		}))
	})
}

// Authenticate resolves a presented key to its owner's principal narrowed by
// the key's scopes. The owner's account must still be active.
func (k *APIKeys) Authenticate(ctx context.Context, raw string) (*authz.Principal, error) {
	prefix := auth.LookupPrefix(raw)
	if prefix == "" {
		telemetry.LoginAttemptsTotal.WithLabelValues("api_key", "failure").Inc()
		return nil, ErrInvalidAPIKey
	}
	candidates, err := k.keys.FindByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var match *models.APIKey
	for _, c := range candidates {
		if auth.ValidateAPIKey(raw, c.KeyHash) {
			match = c
			break
		}
	}
	if match == nil || match.IsExpired(k.clock.now()) {
		telemetry.LoginAttemptsTotal.WithLabelValues("api_key", "failure").Inc()
		return nil, ErrInvalidAPIKey
	}

	owner, err := k.owners.CurrentPrincipal(ctx, match.UserID)
	if err != nil {
		return nil, err
	}
	telemetry.LoginAttemptsTotal.WithLabelValues("api_key", "success").Inc()

	keyID := match.ID
	safego.Go("api-key-last-used", func() {
		bg, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := k.keys.TouchLastUsed(bg, keyID, k.clock.now()); err != nil {
			slog.Warn("failed to update api key last used", "api_key_id", keyID, "error", err)
		}
	})

	return &authz.Principal{
		UserID:         owner.UserID,
		Username:       owner.Username,
		Role:           owner.Role,
		OrganizationID: owner.OrganizationID,
		AuthMethod:     authz.AuthAPIKey,
		Scopes:         match.Scopes,
		APIKeyID:       match.ID,
	}, nil
}
