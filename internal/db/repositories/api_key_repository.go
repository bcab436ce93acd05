// api_key_repository.go implements APIKeyRepository, providing database queries for API key
// lookup by prefix, creation, revocation and last-used timestamp updates.
package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sentinelops/sentinel/internal/db/models"
)

const apiKeyColumns = `id, user_id, name, key_hash, key_prefix, scopes, expires_at, last_used_at, created_at`

// APIKeyRepository handles API key database operations
type APIKeyRepository struct {
	db sqlx.ExtContext
}

// NewAPIKeyRepository creates a new APIKeyRepository
func NewAPIKeyRepository(db sqlx.ExtContext) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *APIKeyRepository) WithTx(tx *sqlx.Tx) *APIKeyRepository {
	return &APIKeyRepository{db: tx}
}

type apiKeyRow struct {
	models.APIKey
	ScopesJSON []byte `db:"scopes"`
}

func (row *apiKeyRow) decode() (*models.APIKey, error) {
	k := row.APIKey
	k.Scopes = []string{}
	if len(row.ScopesJSON) > 0 {
		if err := json.Unmarshal(row.ScopesJSON, &k.Scopes); err != nil {
			return nil, fmt.Errorf("decode scopes for api key %d: %w", k.ID, err)
		}
	}
	return &k, nil
}

func decodeAPIKeys(rows []apiKeyRow) ([]*models.APIKey, error) {
	keys := make([]*models.APIKey, 0, len(rows))
	for i := range rows {
		k, err := rows[i].decode()
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Create inserts an API key and fills in ID and CreatedAt.
func (r *APIKeyRepository) Create(ctx context.Context, k *models.APIKey) error {
	if k.Scopes == nil {
		k.Scopes = []string{}
	}
	scopesJSON, err := json.Marshal(k.Scopes)
	if err != nil {
		return fmt.Errorf("encode scopes: %w", err)
	}

	err = r.db.QueryRowxContext(ctx, `
		INSERT INTO api_keys (user_id, name, key_hash, key_prefix, scopes, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		k.UserID, k.Name, k.KeyHash, k.KeyPrefix, scopesJSON, k.ExpiresAt,
	).Scan(&k.ID, &k.CreatedAt)
	return mapWriteErr(err, "api key")
}

// FindByPrefix returns the keys sharing a display prefix. Callers compare the
// presented key against each hash; the prefix alone never authenticates.
func (r *APIKeyRepository) FindByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	var rows []apiKeyRow
	err := sqlx.SelectContext(ctx, r.db, &rows, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1`, prefix)
	if err != nil {
		return nil, fmt.Errorf("find api keys: %w", err)
	}
	return decodeAPIKeys(rows)
}

// GetForUser retrieves one key owned by userID.
func (r *APIKeyRepository) GetForUser(ctx context.Context, userID, id int64) (*models.APIKey, error) {
	var row apiKeyRow
	err := sqlx.GetContext(ctx, r.db, &row, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return nil, mapReadErr(err, "api key")
	}
	return row.decode()
}

// ListByUser returns a user's keys, newest first.
func (r *APIKeyRepository) ListByUser(ctx context.Context, userID int64) ([]*models.APIKey, error) {
	var rows []apiKeyRow
	err := sqlx.SelectContext(ctx, r.db, &rows,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return decodeAPIKeys(rows)
}

// Delete revokes a key owned by userID.
func (r *APIKeyRepository) Delete(ctx context.Context, userID, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1 AND user_id = $2`, id, userID)
	return expectAffected(res, err, "api key")
}

// TouchLastUsed records that a key authenticated a request.
func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}
