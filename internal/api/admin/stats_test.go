package admin

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/sentinelops/sentinel/internal/authz"
	"github.com/sentinelops/sentinel/internal/db/models"
)

type fakeCounters struct {
	scopes  []authz.Scope
	since   time.Time
	failing string
}

func (f *fakeCounters) CountByStatus(_ context.Context, scope authz.Scope) (map[models.AccountStatus]int, error) {
	f.scopes = append(f.scopes, scope)
	if f.failing == "users" {
		return nil, errors.New("db down")
	}
	return map[models.AccountStatus]int{models.StatusActive: 4, models.StatusSuspended: 1}, nil
}

func (f *fakeCounters) CountBySeverity(_ context.Context, scope authz.Scope, since time.Time) (map[models.Severity]int, error) {
	f.scopes = append(f.scopes, scope)
	f.since = since
	if f.failing == "findings" {
		return nil, errors.New("db down")
	}
	return map[models.Severity]int{models.SeverityHigh: 2}, nil
}

func (f *fakeCounters) CountByLevel(_ context.Context, scope authz.Scope, _ time.Time) (map[models.AuditLevel]int, error) {
	f.scopes = append(f.scopes, scope)
	return map[models.AuditLevel]int{models.AuditWarning: 3}, nil
}

var statsNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func newStatsRouter(p *authz.Principal, counters *fakeCounters) http.Handler {
	h := NewStatsHandler(counters, counters, counters)
	h.now = func() time.Time { return statsNow }
	r := newRouter(p)
	r.GET("/stats", h.GetDashboardStats)
	return r
}

func TestGetDashboardStats_Success(t *testing.T) {
	counters := &fakeCounters{}
	w := serve(newStatsRouter(adminPrincipal(3), counters), http.MethodGet, "/stats?days=7", nil)
	wantStatus(t, w, http.StatusOK)

	body := decode(t, w)
	users, _ := body["users_by_status"].(map[string]any)
	if users["active"] != float64(4) || users["suspended"] != float64(1) {
		t.Errorf("users_by_status = %v", body["users_by_status"])
	}
	findings, _ := body["findings_by_severity"].(map[string]any)
	if findings["high"] != float64(2) {
		t.Errorf("findings_by_severity = %v", body["findings_by_severity"])
	}
	levels, _ := body["audit_by_level"].(map[string]any)
	if levels["warning"] != float64(3) {
		t.Errorf("audit_by_level = %v", body["audit_by_level"])
	}

	if want := statsNow.AddDate(0, 0, -7); !counters.since.Equal(want) {
		t.Errorf("since = %v, want %v", counters.since, want)
	}
	for _, s := range counters.scopes {
		if s.Global || s.OrganizationID != 3 {
			t.Errorf("scope = %+v, want organization 3", s)
		}
	}
}

func TestGetDashboardStats_DefaultWindowGlobal(t *testing.T) {
	counters := &fakeCounters{}
	w := serve(newStatsRouter(ownerPrincipal(), counters), http.MethodGet, "/stats", nil)
	wantStatus(t, w, http.StatusOK)

	if want := statsNow.AddDate(0, 0, -1); !counters.since.Equal(want) {
		t.Errorf("since = %v, want %v", counters.since, want)
	}
	if len(counters.scopes) != 3 || !counters.scopes[0].Global {
		t.Errorf("scopes = %+v, want three global lookups", counters.scopes)
	}
}

func TestGetDashboardStats_InvalidDays(t *testing.T) {
	for _, days := range []string{"0", "91", "week"} {
		counters := &fakeCounters{}
		w := serve(newStatsRouter(ownerPrincipal(), counters), http.MethodGet, "/stats?days="+days, nil)
		if w.Code != http.StatusUnprocessableEntity {
			t.Errorf("days=%s status = %d, want 422", days, w.Code)
		}
		if len(counters.scopes) != 0 {
			t.Errorf("days=%s: counters queried on invalid input", days)
		}
	}
}

func TestGetDashboardStats_Errors(t *testing.T) {
	tests := []struct {
		name string
		p    *authz.Principal
		fail string
		want int
	}{
		{"unauthenticated", nil, "", http.StatusUnauthorized},
		{"user count fails", ownerPrincipal(), "users", http.StatusInternalServerError},
		{"finding count fails", ownerPrincipal(), "findings", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(newStatsRouter(tt.p, &fakeCounters{failing: tt.fail}), http.MethodGet, "/stats", nil)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
