package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sentinelops/sentinel/internal/db"
	"github.com/sentinelops/sentinel/internal/db/models"
	"github.com/sentinelops/sentinel/internal/db/repositories"
	"github.com/sentinelops/sentinel/internal/safego"
	"github.com/sentinelops/sentinel/internal/telemetry"
)

// Policy decides what happens to the triggering action when the audit write fails.
type Policy int

const (
	// FailClosed propagates the write error so the caller's transaction rolls back.
	FailClosed Policy = iota
	// BestEffort logs and counts the error and lets the action proceed.
	BestEffort
)

func (p Policy) String() string {
	if p == BestEffort {
		return "best_effort"
	}
	return "fail_closed"
}

// Publisher receives committed entries for live notification.
type Publisher interface {
	PublishAudit(log *models.AuditLog)
}

// Recorder writes audit entries and dispatches them after commit.
type Recorder struct {
	shipper   Shipper
	publisher Publisher
	// shipTimeout bounds each post-commit Ship call
	shipTimeout time.Duration
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithShipper sets the secondary shipper.
func WithShipper(s Shipper) Option {
	return func(r *Recorder) { r.shipper = s }
}

// WithPublisher sets the notification publisher.
func WithPublisher(p Publisher) Option {
	return func(r *Recorder) { r.publisher = p }
}

// NewRecorder returns a Recorder. Without options it only writes to the database.
func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{shipTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record writes e through ext, which is normally the caller's transaction. The
// stored row is returned so the caller can Dispatch it once the transaction
// has committed. Any error must abort the caller's transaction.
func (r *Recorder) Record(ctx context.Context, ext sqlx.ExtContext, e Entry) (*models.AuditLog, error) {
	if err := e.Validate(); err != nil {
		telemetry.AuditWritesTotal.WithLabelValues(e.Category, "error").Inc()
		return nil, err
	}
	log := e.toModel()
	if err := repositories.NewAuditRepository(ext).Create(ctx, log); err != nil {
		telemetry.AuditWritesTotal.WithLabelValues(e.Category, "error").Inc()
		return nil, err
	}
	telemetry.AuditWritesTotal.WithLabelValues(e.Category, "ok").Inc()
	return log, nil
}

// Write records e in its own statement and dispatches it immediately. It is
// for entries that are not tied to a state change, such as failed logins and
// access denials. Under BestEffort a failure is logged and nil is returned.
//
// A failed statement aborts a PostgreSQL transaction, so BestEffort entries must
// never be written inside the caller's transaction.
func (r *Recorder) Write(ctx context.Context, ext sqlx.ExtContext, policy Policy, e Entry) error {
	log, err := r.Record(ctx, ext, e)
	if err != nil {
		if policy == BestEffort {
			slog.Error("audit write failed",
				"policy", policy.String(),
				"category", e.Category,
				"message", e.Message,
				"request_id", e.RequestID,
				"error", err)
			return nil
		}
		return err
	}
	r.Dispatch(log)
	return nil
}

// Tx collects the entries recorded inside one transaction.
type Tx struct {
	*sqlx.Tx
	r       *Recorder
	written []*models.AuditLog
}

// Record writes e in this transaction. Returning its error from the InTx
// callback rolls the action back.
func (t *Tx) Record(ctx context.Context, e Entry) error {
	log, err := t.r.Record(ctx, t.Tx, e)
	if err != nil {
		return err
	}
	t.written = append(t.written, log)
	return nil
}

// InTx runs fn in a transaction on conn and dispatches the entries fn recorded
// once the transaction has committed. Nothing is dispatched on rollback.
func (r *Recorder) InTx(ctx context.Context, conn *sqlx.DB, fn func(tx *Tx) error) error {
	var at *Tx
	err := db.WithTx(ctx, conn, func(tx *sqlx.Tx) error {
		at = &Tx{Tx: tx, r: r}
		return fn(at)
	})
	if err != nil {
		return err
	}
	r.Dispatch(at.written...)
	return nil
}

// Dispatch hands committed entries to the shipper and the publisher. Shipping
// runs in the background; publishing never blocks.
func (r *Recorder) Dispatch(logs ...*models.AuditLog) {
	for _, log := range logs {
		if log == nil {
			continue
		}
		if r.publisher != nil {
			r.publisher.PublishAudit(log)
		}
		if r.shipper != nil {
			log := log
			safego.Go("audit-ship", func() {
				ctx, cancel := context.WithTimeout(context.Background(), r.shipTimeout)
				defer cancel()
				if err := r.shipper.Ship(ctx, log); err != nil {
					slog.Warn("audit shipping failed", "audit_id", log.ID, "error", err)
				}
			})
		}
	}
}
