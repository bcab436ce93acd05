// Package notify fans live events (committed audit entries, new findings) out to
// connected subscribers. Delivery is read-only and filtered per event: before an
// event is queued for a subscriber the hub re-runs authz.CanAccessOrg against the
// subscriber's current principal, so a stream never carries another tenant's data
// even if the subscriber's role or organization changed after it connected.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelops/sentinel/internal/auth"
	"github.com/sentinelops/sentinel/internal/authz"
	"github.com/sentinelops/sentinel/internal/db/models"
	"github.com/sentinelops/sentinel/internal/telemetry"
)

// Event types
const (
	TypeAudit   = "audit"
	TypeFinding = "finding"
)

var (
	// ErrSlowSubscriber ends a subscription whose buffer filled up.
	ErrSlowSubscriber = errors.New("subscriber too slow")
	// ErrSubscriberInactive ends a subscription whose account is no longer active.
	ErrSubscriberInactive = errors.New("subscriber no longer active")
	// ErrHubClosed ends every subscription when the hub shuts down.
	ErrHubClosed = errors.New("notification hub closed")
)

// Event is a single notification. OrganizationID nil marks a platform-level
// event that only global roles receive.
type Event struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	OrganizationID *int64          `json:"organization_id,omitempty"`
	Level          string          `json:"level,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      time.Time       `json:"created_at"`
}

// NewEvent builds an event with a fresh id, encoding payload as JSON.
func NewEvent(typ string, orgID *int64, level string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode event payload: %w", err)
	}
	return Event{
		ID:             uuid.NewString(),
		Type:           typ,
		OrganizationID: orgID,
		Level:          level,
		Payload:        raw,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// PrincipalChecker reloads a subscriber's principal from the account store. It
// returns an error when the account may no longer receive events.
type PrincipalChecker interface {
	CurrentPrincipal(ctx context.Context, userID int64) (*authz.Principal, error)
}

// Relay carries events between instances. Publish sends to every instance,
// including this one; Run delivers received events until ctx ends.
type Relay interface {
	Publish(ctx context.Context, ev Event) error
	Run(ctx context.Context, deliver func(Event)) error
}

// Subscription is one connected stream.
type Subscription struct {
	id        uint64
	events    chan Event
	principal atomic.Pointer[authz.Principal]
	done      chan struct{}
	once      sync.Once
	err       error
}

// Events returns the subscriber's queue. It is never closed; select on Done.
func (s *Subscription) Events() <-chan Event { return s.events }

// Done is closed when the hub ends the subscription.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports why the subscription ended. Valid after Done is closed.
func (s *Subscription) Err() error {
	<-s.done
	return s.err
}

// Principal returns the principal events are currently filtered against.
func (s *Subscription) Principal() *authz.Principal { return s.principal.Load() }

func (s *Subscription) end(err error) bool {
	ended := false
	s.once.Do(func() {
		s.err = err
		close(s.done)
		ended = true
	})
	return ended
}

// HubConfig configures a Hub.
type HubConfig struct {
	BufferSize      int
	RecheckInterval time.Duration
	Checker         PrincipalChecker
	Relay           Relay
}

// Hub is the in-process fan-out point.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	bufferSize int
	recheck    time.Duration
	checker    PrincipalChecker
	relay      Relay
}

// NewHub returns a Hub. Start its background work with Run.
func NewHub(cfg HubConfig) *Hub {
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 64
	}
	if cfg.RecheckInterval <= 0 {
		cfg.RecheckInterval = 30 * time.Second
	}
	return &Hub{
		subs:       make(map[uint64]*Subscription),
		bufferSize: cfg.BufferSize,
		recheck:    cfg.RecheckInterval,
		checker:    cfg.Checker,
		relay:      cfg.Relay,
	}
}

// Subscribe registers p. Principals that resolve to no tenant scope are refused.
func (h *Hub) Subscribe(p *authz.Principal) (*Subscription, error) {
	if _, err := authz.TenantScope(p); err != nil {
		return nil, err
	}

	s := &Subscription{
		events: make(chan Event, h.bufferSize),
		done:   make(chan struct{}),
	}
	pc := *p
	s.principal.Store(&pc)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	h.nextID++
	s.id = h.nextID
	h.subs[s.id] = s
	telemetry.NotificationSubscribers.Inc()
	return s, nil
}

// Unsubscribe removes s. Safe to call more than once.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.remove(s, nil)
}

func (h *Hub) remove(s *Subscription, reason error) {
	h.mu.Lock()
	_, ok := h.subs[s.id]
	delete(h.subs, s.id)
	h.mu.Unlock()
	if ok {
		telemetry.NotificationSubscribers.Dec()
	}
	s.end(reason)
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) snapshot() []*Subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	return subs
}

// Publish sends ev to every instance through the relay, or delivers it locally
// when there is no relay or the relay fails.
func (h *Hub) Publish(ctx context.Context, ev Event) {
	if h.relay != nil {
		err := h.relay.Publish(ctx, ev)
		if err == nil {
			return
		}
		slog.Warn("notification relay publish failed, delivering locally", "event_id", ev.ID, "error", err)
	}
	h.Deliver(ev)
}

// Deliver queues ev for every local subscriber allowed to see it. It never
// blocks: a subscriber whose buffer is full is disconnected.
func (h *Hub) Deliver(ev Event) {
	for _, s := range h.snapshot() {
		if !visible(s.Principal(), ev) {
			telemetry.NotificationsDroppedTotal.WithLabelValues("tenant").Inc()
			continue
		}
		select {
		case s.events <- ev:
			telemetry.NotificationsDeliveredTotal.Inc()
		default:
			telemetry.NotificationsDroppedTotal.WithLabelValues("slow").Inc()
			slog.Warn("dropping slow notification subscriber", "user_id", s.Principal().UserID)
			h.remove(s, ErrSlowSubscriber)
		}
	}
}

// visible applies the same rules as the REST readers: audit entries need the
// audit viewer role (and audit:read for API keys), then the tenant check.
func visible(p *authz.Principal, ev Event) bool {
	if ev.Type == TypeAudit {
		if !authz.AtLeast(p, models.RolePlatformOwner) {
			return false
		}
		if p.IsAPIKey() && !auth.HasScope(p.Scopes, auth.ScopeAuditRead) {
			return false
		}
	}
	if ev.OrganizationID == nil {
		scope, err := authz.TenantScope(p)
		return err == nil && scope.Global
	}
	return authz.CanAccessOrg(p, *ev.OrganizationID)
}

// PublishAudit publishes a committed audit entry to its organization.
func (h *Hub) PublishAudit(log *models.AuditLog) {
	ev, err := NewEvent(TypeAudit, log.OrganizationID, string(log.Level), log)
	if err != nil {
		slog.Error("failed to build audit notification", "audit_id", log.ID, "error", err)
		return
	}
	h.Publish(context.Background(), ev)
}

// Recheck reloads every subscriber's principal through the checker, ending
// subscriptions whose account is no longer active.
func (h *Hub) Recheck(ctx context.Context) {
	if h.checker == nil {
		return
	}
	for _, s := range h.snapshot() {
		old := s.Principal()
		fresh, err := h.checker.CurrentPrincipal(ctx, old.UserID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			telemetry.NotificationsDroppedTotal.WithLabelValues("inactive").Inc()
			slog.Info("ending notification stream", "user_id", old.UserID, "reason", err)
			h.remove(s, ErrSubscriberInactive)
			continue
		}
		next := *fresh
		next.AuthMethod = old.AuthMethod
		next.Scopes = old.Scopes
		next.APIKeyID = old.APIKeyID
		s.principal.Store(&next)
	}
}

// Run rechecks subscribers every RecheckInterval and, with a relay, delivers
// relayed events. It returns when ctx ends, closing every subscription.
func (h *Hub) Run(ctx context.Context) {
	if h.relay != nil {
		go func() {
			for ctx.Err() == nil {
				err := h.relay.Run(ctx, h.Deliver)
				if ctx.Err() != nil {
					return
				}
				slog.Error("notification relay stopped, retrying", "error", err)
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
		}()
	}

	ticker := time.NewTicker(h.recheck)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.Close()
			return
		case <-ticker.C:
			h.Recheck(ctx)
		}
	}
}

// Close ends all subscriptions and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := h.subs
	h.subs = make(map[uint64]*Subscription)
	h.mu.Unlock()

	for _, s := range subs {
		telemetry.NotificationSubscribers.Dec()
		s.end(ErrHubClosed)
	}
}
