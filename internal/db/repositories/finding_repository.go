// finding_repository.go implements FindingRepository for results pushed by
// detection collaborators.
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

const findingColumns = `id, organization_id, source, severity, title, details, detected_at, received_at`

// FindingRepository handles finding database operations
type FindingRepository struct {
	db sqlx.ExtContext
}

// NewFindingRepository creates a new FindingRepository
func NewFindingRepository(db sqlx.ExtContext) *FindingRepository {
	return &FindingRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *FindingRepository) WithTx(tx *sqlx.Tx) *FindingRepository {
	return &FindingRepository{db: tx}
}

// FindingFilters narrows List results
type FindingFilters struct {
	Severity models.Severity
	Source   string
}

type findingRow struct {
	models.Finding
	DetailsJSON []byte `db:"details"`
}

// Create inserts a finding and fills in ID and ReceivedAt.
func (r *FindingRepository) Create(ctx context.Context, f *models.Finding) error {
	details := f.Details
	if details == nil {
		details = map[string]any{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode finding details: %w", err)
	}

	err = r.db.QueryRowxContext(ctx, `
		INSERT INTO findings (organization_id, source, severity, title, details, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, received_at`,
		f.OrganizationID, f.Source, f.Severity, f.Title, detailsJSON, f.DetectedAt,
	).Scan(&f.ID, &f.ReceivedAt)
	return mapWriteErr(err, "finding")
}

// List returns findings visible in scope, most recently detected first.
func (r *FindingRepository) List(ctx context.Context, scope authz.Scope, f FindingFilters, limit, offset int) ([]*models.Finding, int, error) {
	var c conditions
	c.scope(scope, "organization_id")
	if f.Severity != "" {
		c.add("severity = ?", f.Severity)
	}
	if f.Source != "" {
		c.add("source = ?", f.Source)
	}

	var total int
	if err := sqlx.GetContext(ctx, r.db, &total, `SELECT COUNT(*) FROM findings`+c.where(), c.args...); err != nil {
		return nil, 0, fmt.Errorf("count findings: %w", err)
	}

	pageClause, args := c.page(limit, offset)
	var rows []findingRow
	query := `SELECT ` + findingColumns + ` FROM findings` + c.where() + ` ORDER BY detected_at DESC, id DESC` + pageClause
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list findings: %w", err)
	}

	out := make([]*models.Finding, 0, len(rows))
	for i := range rows {
		finding := rows[i].Finding
		finding.Details = map[string]any{}
		if len(rows[i].DetailsJSON) > 0 {
			if err := json.Unmarshal(rows[i].DetailsJSON, &finding.Details); err != nil {
				return nil, 0, fmt.Errorf("decode details for finding %d: %w", finding.ID, err)
			}
		}
		out = append(out, &finding)
	}
	return out, total, nil
}

// CountBySeverity returns counts of findings in scope detected at or after
// since, keyed by severity.
func (r *FindingRepository) CountBySeverity(ctx context.Context, scope authz.Scope, since time.Time) (map[models.Severity]int, error) {
	var c conditions
	c.scope(scope, "organization_id")
	c.add("detected_at >= ?", since)
	counts, err := countGrouped(ctx, r.db, `SELECT severity AS k, COUNT(*) AS n FROM findings`+c.where()+` GROUP BY severity`, c.args)
	if err != nil {
		return nil, fmt.Errorf("count findings: %w", err)
	}
	out := make(map[models.Severity]int, len(counts))
	for k, n := range counts {
		out[models.Severity(k)] = n
	}
	return out, nil
}
