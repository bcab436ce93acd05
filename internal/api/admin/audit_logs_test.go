package admin

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/sentinelops/sentinel/internal/audit"
	"github.com/sentinelops/sentinel/internal/authz"
	"github.com/sentinelops/sentinel/internal/db/models"
	"github.com/sentinelops/sentinel/internal/db/repositories"
)

type fakeAuditReader struct {
	logs       []*models.AuditLog
	lastScope  authz.Scope
	lastFilter repositories.AuditFilters
	eachCalled bool
}

func (f *fakeAuditReader) visible(scope authz.Scope) []*models.AuditLog {
	var out []*models.AuditLog
	for _, l := range f.logs {
		if scope.Global || (l.OrganizationID != nil && *l.OrganizationID == scope.OrganizationID) {
			out = append(out, l)
		}
	}
	return out
}

func (f *fakeAuditReader) List(_ context.Context, scope authz.Scope, fl repositories.AuditFilters, _, _ int) ([]*models.AuditLog, int, error) {
	f.lastScope, f.lastFilter = scope, fl
	out := f.visible(scope)
	return out, len(out), nil
}

func (f *fakeAuditReader) Each(_ context.Context, scope authz.Scope, fl repositories.AuditFilters, fn func(*models.AuditLog) error) error {
	f.eachCalled = true
	f.lastScope, f.lastFilter = scope, fl
	for _, l := range f.visible(scope) {
		if err := fn(l); err != nil {
			return err
		}
	}
	return nil
}

func sampleAuditLogs() []*models.AuditLog {
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	return []*models.AuditLog{
		{ID: 3, Level: models.AuditInfo, Category: "admin", Message: "role changed", OrganizationID: int64Ptr(3), CreatedAt: at},
		{ID: 2, Level: models.AuditWarning, Category: "auth", Message: "login failed", OrganizationID: int64Ptr(8), CreatedAt: at},
		{ID: 1, Level: models.AuditInfo, Category: "system", Message: "server started", CreatedAt: at},
	}
}

func newAuditHandlers(t *testing.T) (*AuditLogHandlers, *fakeAuditReader, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet sqlmock expectations: %v", err)
		}
		db.Close()
	})
	reader := &fakeAuditReader{logs: sampleAuditLogs()}
	return NewAuditLogHandlers(reader, audit.NewRecorder(), sqlx.NewDb(db, "sqlmock")), reader, mock
}

func TestListAuditLogsHandler_ScopedToTenant(t *testing.T) {
	h, reader, _ := newAuditHandlers(t)
	r := newRouter(adminPrincipal(3))
	r.GET("/audit-logs", h.ListAuditLogsHandler())

	// Asking for another tenant's rows still applies the caller's scope.
	w := serve(r, http.MethodGet, "/audit-logs?organization_id=8&category=admin&since=2026-03-01T00:00:00Z", nil)
	wantStatus(t, w, http.StatusOK)

	if reader.lastScope.Global || reader.lastScope.OrganizationID != 3 {
		t.Errorf("scope = %+v, want organization 3", reader.lastScope)
	}
	if reader.lastFilter.OrganizationID == nil || *reader.lastFilter.OrganizationID != 8 || reader.lastFilter.Category != "admin" {
		t.Errorf("filters = %+v", reader.lastFilter)
	}
	if reader.lastFilter.Since == nil || reader.lastFilter.Since.Day() != 1 {
		t.Errorf("since = %v", reader.lastFilter.Since)
	}
	logs := decode(t, w)["audit_logs"].([]any)
	if len(logs) != 1 {
		t.Errorf("audit_logs = %v, want only organization 3", logs)
	}
}

func TestListAuditLogsHandler_GlobalSeesAll(t *testing.T) {
	h, reader, _ := newAuditHandlers(t)
	r := newRouter(ownerPrincipal())
	r.GET("/audit-logs", h.ListAuditLogsHandler())

	w := serve(r, http.MethodGet, "/audit-logs", nil)
	wantStatus(t, w, http.StatusOK)
	if !reader.lastScope.Global {
		t.Error("platform owner scope not global")
	}
	if pg := decode(t, w)["pagination"].(map[string]any); pg["total"] != float64(3) {
		t.Errorf("pagination = %v", pg)
	}
}

func TestListAuditLogsHandler_BadFilters(t *testing.T) {
	h, _, _ := newAuditHandlers(t)
	r := newRouter(ownerPrincipal())
	r.GET("/audit-logs", h.ListAuditLogsHandler())

	w := serve(r, http.MethodGet, "/audit-logs?level=loud&user_id=x&until=yesterday", nil)
	wantStatus(t, w, http.StatusUnprocessableEntity)
	fields := decode(t, w)["fields"].(map[string]any)
	for _, f := range []string{"level", "user_id", "until"} {
		if _, ok := fields[f]; !ok {
			t.Errorf("fields = %v, missing %s", fields, f)
		}
	}
}

func TestListAuditLogsHandler_ScopedRoleWithoutOrganization(t *testing.T) {
	h, _, _ := newAuditHandlers(t)
	p := adminPrincipal(3)
	p.OrganizationID = nil
	r := newRouter(p)
	r.GET("/audit-logs", h.ListAuditLogsHandler())

	wantStatus(t, serve(r, http.MethodGet, "/audit-logs", nil), http.StatusForbidden)
}

func TestExportAuditLogsHandler(t *testing.T) {
	h, _, mock := newAuditHandlers(t)
	mock.ExpectQuery("INSERT INTO audit_logs").
		WithArgs(models.AuditInfo, models.CategoryAdmin, "api", "audit logs exported",
			sqlmock.AnyArg(), int64Ptr(1), nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(4, time.Now()))

	r := newRouter(ownerPrincipal())
	r.GET("/audit-logs/export", h.ExportAuditLogsHandler())

	w := serve(r, http.MethodGet, "/audit-logs/export?category=auth", nil)
	wantStatus(t, w, http.StatusOK)
	if ct := w.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, `attachment; filename="audit-logs-`) {
		t.Errorf("Content-Disposition = %q", cd)
	}

	var lines int
	sc := bufio.NewScanner(w.Body)
	for sc.Scan() {
		var l models.AuditLog
		if err := json.Unmarshal(sc.Bytes(), &l); err != nil {
			t.Fatalf("line %d: %v", lines, err)
		}
		lines++
	}
	if lines != 3 {
		t.Errorf("exported %d lines, want 3", lines)
	}
}

func TestExportAuditLogsHandler_AuditWriteFailsClosed(t *testing.T) {
	h, reader, mock := newAuditHandlers(t)
	mock.ExpectQuery("INSERT INTO audit_logs").WillReturnError(errors.New("disk full"))

	r := newRouter(ownerPrincipal())
	r.GET("/audit-logs/export", h.ExportAuditLogsHandler())

	w := serve(r, http.MethodGet, "/audit-logs/export", nil)
	wantStatus(t, w, http.StatusInternalServerError)
	if reader.eachCalled {
		t.Error("rows streamed although the export could not be audited")
	}
}
