// Package findings accepts results from external detection collaborators
// (scanners, anomaly detectors) and turns them into tenant-scoped findings,
// audit entries and live notifications.
//
// Collaborators either push findings over the API with a findings:write API
// key, or run in-process as a Source drained by a Pump. Both paths go through
// Ingestor.Ingest, which enforces the same tenant rules.
package findings

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sentinelops/sentinel/internal/apperrors"
	"github.com/sentinelops/sentinel/internal/audit"
	"github.com/sentinelops/sentinel/internal/authz"
	"github.com/sentinelops/sentinel/internal/db/models"
	"github.com/sentinelops/sentinel/internal/db/repositories"
	"github.com/sentinelops/sentinel/internal/notify"
	"github.com/sentinelops/sentinel/internal/telemetry"
)

const (
	maxTitleLength = 500
	// maxClockSkew is how far in the future detected_at may be
	maxClockSkew = 5 * time.Minute
)

// Finding is a detection result as submitted by a collaborator.
type Finding struct {
	OrganizationID *int64          `json:"organization_id"`
	Source         string          `json:"source"`
	Severity       models.Severity `json:"severity"`
	Title          string          `json:"title"`
	Details        map[string]any  `json:"details"`
	DetectedAt     time.Time       `json:"detected_at"`
}

// Publisher delivers notification events.
type Publisher interface {
	Publish(ctx context.Context, ev notify.Event)
}

// Ingestor validates, stores and announces findings.
type Ingestor struct {
	db        *sqlx.DB
	findings  *repositories.FindingRepository
	recorder  *audit.Recorder
	publisher Publisher
	now       func() time.Time
}

// NewIngestor creates an Ingestor. publisher may be nil when notifications are disabled.
func NewIngestor(conn *sqlx.DB, recorder *audit.Recorder, publisher Publisher) *Ingestor {
	return &Ingestor{
		db:        conn,
		findings:  repositories.NewFindingRepository(conn),
		recorder:  recorder,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Ingest stores f on behalf of p. A tenant-scoped principal may only submit
// findings for its own organization; global principals must name one.
func (i *Ingestor) Ingest(ctx context.Context, p *authz.Principal, f Finding) (*models.Finding, error) {
	orgID, err := i.resolveOrganization(p, f.OrganizationID)
	if err != nil {
		return nil, err
	}
	finding, err := i.validate(f, orgID)
	if err != nil {
		return nil, err
	}

	md := audit.Metadata{
		"severity": string(finding.Severity),
		"title":    finding.Title,
	}
	if p.IsAPIKey() {
		md["api_key_id"] = p.APIKeyID
	}
	err = i.recorder.InTx(ctx, i.db, func(tx *audit.Tx) error {
		if err := i.findings.WithTx(tx.Tx).Create(ctx, finding); err != nil {
			return err
		}
		md["finding_id"] = finding.ID
		uid := p.UserID
		return tx.Record(ctx, audit.Entry{
			Level:          finding.Severity.AuditLevel(),
			Category:       models.CategoryDetection,
			Source:         finding.Source,
			Message:        "finding received: " + finding.Title,
			Metadata:       md,
			UserID:         &uid,
			OrganizationID: &finding.OrganizationID,
		})
	})
	if err != nil {
		return nil, err
	}

	telemetry.FindingsIngestedTotal.WithLabelValues(string(finding.Severity)).Inc()
	i.announce(ctx, finding)
	return finding, nil
}

func (i *Ingestor) resolveOrganization(p *authz.Principal, requested *int64) (int64, error) {
	scope, err := authz.TenantScope(p)
	if err != nil {
		return 0, apperrors.Forbidden(err.Error())
	}
	if scope.Global {
		if requested == nil {
			return 0, apperrors.Invalid("organization_id", "is required")
		}
		return *requested, nil
	}
	if requested != nil && *requested != scope.OrganizationID {
		return 0, apperrors.Forbidden("finding for another organization")
	}
	return scope.OrganizationID, nil
}

func (i *Ingestor) validate(f Finding, orgID int64) (*models.Finding, error) {
	verr := &apperrors.ValidationError{}
	if !f.Severity.Valid() {
		verr.Add("severity", "must be low, medium, high or critical")
	}
	title := strings.TrimSpace(f.Title)
	switch {
	case title == "":
		verr.Add("title", "is required")
	case len(title) > maxTitleLength:
		verr.Add("title", fmt.Sprintf("must be at most %d characters", maxTitleLength))
	}
	source := strings.TrimSpace(f.Source)
	if source == "" {
		verr.Add("source", "is required")
	}
	now := i.now()
	detected := f.DetectedAt
	if detected.IsZero() {
		detected = now
	} else if detected.After(now.Add(maxClockSkew)) {
		verr.Add("detected_at", "is in the future")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return &models.Finding{
		OrganizationID: orgID,
		Source:         source,
		Severity:       f.Severity,
		Title:          title,
		Details:        f.Details,
		DetectedAt:     detected,
	}, nil
}

func (i *Ingestor) announce(ctx context.Context, f *models.Finding) {
	if i.publisher == nil {
		return
	}
	ev, err := notify.NewEvent(notify.TypeFinding, &f.OrganizationID, string(f.Severity.AuditLevel()), f)
	if err != nil {
		slog.Warn("finding notification not encoded", "finding_id", f.ID, "error", err)
		return
	}
	i.publisher.Publish(ctx, ev)
}

// List returns the findings visible to p.
func (i *Ingestor) List(ctx context.Context, p *authz.Principal, f repositories.FindingFilters, limit, offset int) ([]*models.Finding, int, error) {
	scope, err := authz.TenantScope(p)
	if err != nil {
		return nil, 0, apperrors.Forbidden(err.Error())
	}
	return i.findings.List(ctx, scope, f, limit, offset)
}
