package findings

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sentinelops/sentinel/internal/authz"
)

// Source is an in-process detection collaborator. The channel is closed when
// the source has nothing more to report.
type Source interface {
	Name() string
	Findings(ctx context.Context) (<-chan Finding, error)
}

// Pump drains a Source into an Ingestor, acting as a fixed principal, usually
// a dedicated service account of the organization being scanned.
type Pump struct {
	ingestor  *Ingestor
	principal *authz.Principal
}

// NewPump creates a Pump.
func NewPump(ingestor *Ingestor, principal *authz.Principal) *Pump {
	return &Pump{ingestor: ingestor, principal: principal}
}

// Run consumes src until its channel closes or ctx is cancelled. Findings that
// fail validation are logged and skipped. It returns the number ingested.
func (p *Pump) Run(ctx context.Context, src Source) (int, error) {
	ch, err := src.Findings(ctx)
	if err != nil {
		return 0, err
	}
	ingested := 0
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return ingested, nil
			}
			return ingested, ctx.Err()
		case f, ok := <-ch:
			if !ok {
				return ingested, nil
			}
			if f.Source == "" {
				f.Source = src.Name()
			}
			if _, err := p.ingestor.Ingest(ctx, p.principal, f); err != nil {
				slog.Warn("finding rejected", "source", src.Name(), "title", f.Title, "error", err)
				continue
			}
			ingested++
		}
	}
}
