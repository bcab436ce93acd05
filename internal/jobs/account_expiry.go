// account_expiry.go implements AccountExpiryJob, which persists the implicit
// active → expired transition. Authentication already treats a lapsed account
// as expired; the sweep makes the stored status agree and writes one audit
// entry per account so the transition shows up in the trail.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sentinelops/sentinel/internal/audit"
	"github.com/sentinelops/sentinel/internal/db/models"
	"github.com/sentinelops/sentinel/internal/db/repositories"
)

// expiryBatchSize bounds the users handled per pass.
const expiryBatchSize = 200

// errNoLongerLapsed rolls back a sweep transaction whose user was extended
// between the listing and the update.
var errNoLongerLapsed = errors.New("account no longer lapsed")

// AccountExpiryJob marks lapsed accounts expired on an interval.
type AccountExpiryJob struct {
	db       *sqlx.DB
	recorder *audit.Recorder
	interval time.Duration
	now      func() time.Time
	stopChan chan struct{}
}

// NewAccountExpiryJob creates the job. interval must be positive.
func NewAccountExpiryJob(db *sqlx.DB, recorder *audit.Recorder, interval time.Duration) *AccountExpiryJob {
	return &AccountExpiryJob{
		db:       db,
		recorder: recorder,
		interval: interval,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start runs one pass immediately and then on every tick until ctx is
// cancelled or Stop is called.
func (j *AccountExpiryJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	slog.Info("account expiry job started", "interval", j.interval.String())
	j.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			j.RunOnce(ctx)
		case <-j.stopChan:
			slog.Info("account expiry job stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals the background loop to exit.
func (j *AccountExpiryJob) Stop() {
	close(j.stopChan)
}

// RunOnce expires every lapsed account in batches and returns how many were
// changed.
func (j *AccountExpiryJob) RunOnce(ctx context.Context) int {
	users := repositories.NewUserRepository(j.db)
	expired := 0
	for ctx.Err() == nil {
		now := j.now().UTC()
		lapsed, err := users.ListLapsed(ctx, now, expiryBatchSize)
		if err != nil {
			slog.Error("account expiry: listing failed", "error", err)
			return expired
		}
		progressed := false
		for _, u := range lapsed {
			ok, err := j.expire(ctx, u, now)
			if err != nil {
				slog.Error("account expiry: update failed", "user_id", u.ID, "error", err)
				continue
			}
			if ok {
				expired++
				progressed = true
			}
		}
		// A short batch is the last one; a batch of only failures would repeat forever.
		if len(lapsed) < expiryBatchSize || !progressed {
			break
		}
	}
	if expired > 0 {
		slog.Info("account expiry pass complete", "expired", expired)
	}
	return expired
}

func (j *AccountExpiryJob) expire(ctx context.Context, u *models.User, now time.Time) (bool, error) {
	err := j.recorder.InTx(ctx, j.db, func(tx *audit.Tx) error {
		ok, err := repositories.NewUserRepository(tx.Tx).MarkExpired(ctx, u.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return errNoLongerLapsed
		}
		md := audit.Metadata{
			"target_user_id": u.ID,
			"username":       u.Username,
			"action":         "expire",
			"from":           string(models.StatusActive),
			"to":             string(models.StatusExpired),
		}
		if u.AccountExpiresAt != nil {
			md["account_expires_at"] = u.AccountExpiresAt.UTC().Format(time.RFC3339)
		}
		return tx.Record(ctx, audit.Entry{
			Level:          models.AuditInfo,
			Category:       models.CategoryAdmin,
			Source:         "lifecycle",
			Message:        "account expired",
			Metadata:       md,
			OrganizationID: u.OrganizationID,
		})
	})
	if errors.Is(err, errNoLongerLapsed) {
		return false, nil
	}
	return err == nil, err
}
