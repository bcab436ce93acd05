// audit_repository.go implements AuditRepository: the append-only write path
// used by the audit recorder, tenant-scoped reads for the admin API, and the
// archive-then-purge queries used by the retention job.
package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sentinelops/sentinel/internal/authz"
	"github.com/sentinelops/sentinel/internal/db/models"
)

const auditColumns = `id, level, category, source, message, metadata, user_id,
	organization_id, ip_address, request_id, created_at`

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db sqlx.ExtContext
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db sqlx.ExtContext) *AuditRepository {
	return &AuditRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *AuditRepository) WithTx(tx *sqlx.Tx) *AuditRepository {
	return &AuditRepository{db: tx}
}

// AuditFilters contains filters for querying audit logs
type AuditFilters struct {
	Category       string
	Level          models.AuditLevel
	OrganizationID *int64
	UserID         *int64
	// Search matches message and source case-insensitively
	Search string
	Since  *time.Time
	Until  *time.Time
}

type auditRow struct {
	models.AuditLog
	MetadataJSON []byte `db:"metadata"`
}

func (row *auditRow) decode() (*models.AuditLog, error) {
	log := row.AuditLog
	log.Metadata = map[string]any{}
	if len(row.MetadataJSON) > 0 {
		if err := json.Unmarshal(row.MetadataJSON, &log.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for audit log %d: %w", log.ID, err)
		}
	}
	return &log, nil
}

// Create appends an audit log entry and fills in ID and CreatedAt. Metadata is
// marshalled as a JSON object; a nil map is stored as {}.
func (r *AuditRepository) Create(ctx context.Context, log *models.AuditLog) error {
	metadata := log.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}

	query := `
		INSERT INTO audit_logs (level, category, source, message, metadata, user_id,
			organization_id, ip_address, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	err = r.db.QueryRowxContext(ctx, query,
		log.Level,
		log.Category,
		log.Source,
		log.Message,
		metadataJSON,
		log.UserID,
		log.OrganizationID,
		log.IPAddress,
		log.RequestID,
	).Scan(&log.ID, &log.CreatedAt)
	if err != nil {
		return mapWriteErr(err, "audit log")
	}
	return nil
}

func (r *AuditRepository) filter(scope authz.Scope, f AuditFilters) conditions {
	var c conditions
	c.scope(scope, "organization_id")
	if f.OrganizationID != nil {
		c.add("organization_id = ?", *f.OrganizationID)
	}
	if f.UserID != nil {
		c.add("user_id = ?", *f.UserID)
	}
	if f.Category != "" {
		c.add("category = ?", f.Category)
	}
	if f.Level != "" {
		c.add("level = ?", f.Level)
	}
	if f.Search != "" {
		c.add(`(message ILIKE ? ESCAPE '\' OR source ILIKE ? ESCAPE '\')`, containsPattern(f.Search))
	}
	if f.Since != nil {
		c.add("created_at >= ?", *f.Since)
	}
	if f.Until != nil {
		c.add("created_at < ?", *f.Until)
	}
	return c
}

// List returns audit logs visible in scope ordered newest first with id as the
// tie-break, so repeated reads without intervening writes return identical pages.
func (r *AuditRepository) List(ctx context.Context, scope authz.Scope, f AuditFilters, limit, offset int) ([]*models.AuditLog, int, error) {
	c := r.filter(scope, f)

	var total int
	if err := sqlx.GetContext(ctx, r.db, &total, `SELECT COUNT(*) FROM audit_logs`+c.where(), c.args...); err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}

	pageClause, args := c.page(limit, offset)
	var rows []auditRow
	query := `SELECT ` + auditColumns + ` FROM audit_logs` + c.where() + ` ORDER BY created_at DESC, id DESC` + pageClause
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list audit logs: %w", err)
	}

	logs := make([]*models.AuditLog, 0, len(rows))
	for i := range rows {
		log, err := rows[i].decode()
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, log)
	}
	return logs, total, nil
}

// Each streams every matching row in List order to fn without loading the
// whole result set. Returning an error from fn stops the iteration.
func (r *AuditRepository) Each(ctx context.Context, scope authz.Scope, f AuditFilters, fn func(*models.AuditLog) error) error {
	c := r.filter(scope, f)
	query := `SELECT ` + auditColumns + ` FROM audit_logs` + c.where() + ` ORDER BY created_at DESC, id DESC`
	return r.each(ctx, query, c.args, fn)
}

func (r *AuditRepository) each(ctx context.Context, query string, args []any, fn func(*models.AuditLog) error) error {
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row auditRow
		if err := rows.StructScan(&row); err != nil {
			return fmt.Errorf("scan audit log: %w", err)
		}
		log, err := row.decode()
		if err != nil {
			return err
		}
		if err := fn(log); err != nil {
			return err
		}
	}
	return rows.Err()
}

// expiredCondition selects rows of one organization (nil = rows with no
// organization) created before cutoff, up to and including maxID.
func expiredCondition(orgID *int64, cutoff time.Time, maxID int64) conditions {
	var c conditions
	if orgID == nil {
		c.raw("organization_id IS NULL")
	} else {
		c.add("organization_id = ?", *orgID)
	}
	c.add("created_at < ?", cutoff)
	if maxID > 0 {
		c.add("id <= ?", maxID)
	}
	return c
}

// EachExpired streams rows older than cutoff for one organization in id order.
// It is used by the retention job to archive rows before PurgeExpired removes them.
func (r *AuditRepository) EachExpired(ctx context.Context, orgID *int64, cutoff time.Time, fn func(*models.AuditLog) error) error {
	c := expiredCondition(orgID, cutoff, 0)
	query := `SELECT ` + auditColumns + ` FROM audit_logs` + c.where() + ` ORDER BY id`
	return r.each(ctx, query, c.args, fn)
}

// PurgeExpired deletes rows older than cutoff for one organization with id at
// most maxID, so rows written after the archive snapshot are never removed.
// This is the only delete path for audit logs.
func (r *AuditRepository) PurgeExpired(ctx context.Context, orgID *int64, cutoff time.Time, maxID int64) (int64, error) {
	c := expiredCondition(orgID, cutoff, maxID)
	res, err := r.db.ExecContext(ctx, `DELETE FROM audit_logs`+c.where(), c.args...)
	if err != nil {
		return 0, fmt.Errorf("purge audit logs: %w", err)
	}
	return res.RowsAffected()
}

// CountByLevel returns counts of audit entries in scope created at or after
// since, keyed by level.
func (r *AuditRepository) CountByLevel(ctx context.Context, scope authz.Scope, since time.Time) (map[models.AuditLevel]int, error) {
	var c conditions
	c.scope(scope, "organization_id")
	c.add("created_at >= ?", since)
	counts, err := countGrouped(ctx, r.db, `SELECT level AS k, COUNT(*) AS n FROM audit_logs`+c.where()+` GROUP BY level`, c.args)
	if err != nil {
		return nil, fmt.Errorf("count audit logs: %w", err)
	}
	out := make(map[models.AuditLevel]int, len(counts))
	for k, n := range counts {
		out[models.AuditLevel(k)] = n
	}
	return out, nil
}
