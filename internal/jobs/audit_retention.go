// audit_retention.go implements AuditRetentionJob, the only deletion path for
// audit logs. On each run it archives every organization's rows older than the
// organization's log_retention_days to archive storage as gzip NDJSON, signs
// the archive when a signing key is configured, and only then purges the
// archived rows. Rows with no organization use audit.default_retention_days.
// A retention of zero or less keeps rows forever.
package jobs

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sentinelops/sentinel/internal/audit"
	"github.com/sentinelops/sentinel/internal/config"
	"github.com/sentinelops/sentinel/internal/db/models"
	"github.com/sentinelops/sentinel/internal/db/repositories"
	"github.com/sentinelops/sentinel/internal/storage"
	"github.com/sentinelops/sentinel/internal/telemetry"
	"github.com/sentinelops/sentinel/pkg/checksum"
)

// AuditRetentionJob archives and purges expired audit rows on an interval.
type AuditRetentionJob struct {
	db       *sqlx.DB
	store    storage.Storage
	signer   *audit.Signer
	recorder *audit.Recorder
	cfg      config.AuditConfig
	interval time.Duration
	now      func() time.Time
	stopChan chan struct{}
}

// NewAuditRetentionJob creates the job. signer may be nil, in which case
// archives are written without a detached signature.
func NewAuditRetentionJob(
	db *sqlx.DB,
	store storage.Storage,
	signer *audit.Signer,
	recorder *audit.Recorder,
	cfg config.AuditConfig,
) *AuditRetentionJob {
	hours := cfg.Retention.CheckIntervalHours
	if hours <= 0 {
		hours = 24
	}
	return &AuditRetentionJob{
		db:       db,
		store:    store,
		signer:   signer,
		recorder: recorder,
		cfg:      cfg,
		interval: time.Duration(hours) * time.Hour,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start runs one pass immediately, then repeats on the configured interval
// until ctx is cancelled or Stop is called.
func (j *AuditRetentionJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	slog.Info("audit retention job started",
		"interval", j.interval.String(),
		"signed", j.signer != nil)

	j.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			j.RunOnce(ctx)
		case <-j.stopChan:
			slog.Info("audit retention job stopped")
			return
		case <-ctx.Done():
			slog.Info("audit retention job context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (j *AuditRetentionJob) Stop() {
	close(j.stopChan)
}

// retentionTarget is one partition of the audit table with its retention.
type retentionTarget struct {
	orgID *int64
	days  int
}

func (t retentionTarget) label() string {
	if t.orgID == nil {
		return "system"
	}
	return "org-" + strconv.FormatInt(*t.orgID, 10)
}

// RunOnce performs a single archive-and-purge pass. A failure for one
// organization is logged and does not stop the others.
func (j *AuditRetentionJob) RunOnce(ctx context.Context) {
	policies, err := repositories.NewOrganizationRepository(j.db).RetentionPolicies(ctx)
	if err != nil {
		slog.Error("audit retention: failed to list retention policies", "error", err)
		return
	}

	targets := make([]retentionTarget, 0, len(policies)+1)
	for _, p := range policies {
		id := p.OrganizationID
		targets = append(targets, retentionTarget{orgID: &id, days: p.LogRetentionDays})
	}
	targets = append(targets, retentionTarget{days: j.cfg.DefaultRetentionDays})

	var total int64
	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		n, err := j.archive(ctx, t)
		if err != nil {
			slog.Error("audit retention: archive failed",
				"partition", t.label(),
				"retention_days", t.days,
				"error", err)
			continue
		}
		total += n
	}
	if total > 0 {
		slog.Info("audit retention pass complete", "purged_rows", total)
	}
}

// archive exports one partition's expired rows and purges them. It returns the
// number of rows deleted.
func (j *AuditRetentionJob) archive(ctx context.Context, t retentionTarget) (int64, error) {
	now := j.now().UTC()
	cutoff := now.AddDate(0, 0, -t.days)

	tmp, err := os.CreateTemp("", "audit-archive-*.ndjson.gz")
	if err != nil {
		return 0, fmt.Errorf("create temp archive: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	rows, maxID, err := writeArchive(ctx, tmp, repositories.NewAuditRepository(j.db), t.orgID, cutoff)
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		return 0, nil
	}

	key := fmt.Sprintf("audit/%s/%s-%d.ndjson.gz", t.label(), now.Format("20060102T150405Z"), maxID)
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewind archive: %w", err)
	}
	info, err := tmp.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat archive: %w", err)
	}
	uploaded, err := j.store.Upload(ctx, key, tmp, info.Size())
	if err != nil {
		return 0, fmt.Errorf("upload archive: %w", err)
	}
	// The store hashed what it received; compare against the local file.
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewind archive: %w", err)
	}
	if err := checksum.Verify(tmp, uploaded.Checksum); err != nil {
		j.discard(key, false)
		return 0, fmt.Errorf("verify archive %s: %w", key, err)
	}

	md := audit.Metadata{
		"archive":        uploaded.Path,
		"sha256":         uploaded.Checksum,
		"rows":           rows,
		"max_id":         maxID,
		"cutoff":         cutoff.Format(time.RFC3339),
		"retention_days": t.days,
	}
	if j.signer != nil {
		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			return 0, fmt.Errorf("rewind archive: %w", err)
		}
		sig, err := j.signer.Sign(tmp)
		if err != nil {
			return 0, err
		}
		if _, err := j.store.Upload(ctx, key+".sig", bytes.NewReader(sig), int64(len(sig))); err != nil {
			return 0, fmt.Errorf("upload signature: %w", err)
		}
		md["signature"] = key + ".sig"
		md["key_id"] = j.signer.KeyID()
	}

	// The purge and its audit entry commit together.
	var purged int64
	err = j.recorder.InTx(ctx, j.db, func(tx *audit.Tx) error {
		n, err := repositories.NewAuditRepository(tx.Tx).PurgeExpired(ctx, t.orgID, cutoff, maxID)
		if err != nil {
			return err
		}
		purged = n
		md["purged"] = n
		return tx.Record(ctx, audit.Entry{
			Level:          models.AuditInfo,
			Category:       models.CategorySystem,
			Source:         "retention",
			Message:        "audit logs archived",
			Metadata:       md,
			OrganizationID: t.orgID,
		})
	})
	if err != nil {
		// The rows are still in the database and the next pass archives them
		// again, so drop this pass's copy.
		j.discard(key, md["signature"] != nil)
		return 0, fmt.Errorf("purge archived rows: %w", err)
	}

	telemetry.AuditArchivedRowsTotal.Add(float64(purged))
	slog.Info("audit logs archived",
		"partition", t.label(),
		"archive", uploaded.Path,
		"rows", rows,
		"purged", purged)
	return purged, nil
}

func (j *AuditRetentionJob) discard(key string, signed bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	keys := []string{key}
	if signed {
		keys = append(keys, key+".sig")
	}
	for _, k := range keys {
		if err := j.store.Delete(ctx, k); err != nil {
			slog.Warn("audit retention: failed to remove unpurged archive", "archive", k, "error", err)
		}
	}
}

// writeArchive streams expired rows into w as gzip-compressed NDJSON and
// returns the row count and highest id written.
func writeArchive(ctx context.Context, w io.Writer, repo *repositories.AuditRepository, orgID *int64, cutoff time.Time) (int, int64, error) {
	gz := gzip.NewWriter(w)
	enc := json.NewEncoder(gz)

	var rows int
	var maxID int64
	err := repo.EachExpired(ctx, orgID, cutoff, func(log *models.AuditLog) error {
		if err := enc.Encode(log); err != nil {
			return fmt.Errorf("encode audit log %d: %w", log.ID, err)
		}
		rows++
		if log.ID > maxID {
			maxID = log.ID
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	if err := gz.Close(); err != nil {
		return 0, 0, fmt.Errorf("finish archive: %w", err)
	}
	return rows, maxID, nil
}
