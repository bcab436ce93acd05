package services

import (
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sentinelops/sentinel/internal/audit"
	"github.com/sentinelops/sentinel/internal/authz"
	"github.com/sentinelops/sentinel/internal/db/models"
)

var fixedNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
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
	return sqlx.NewDb(db, "sqlmock"), mock
}

// capturePublisher collects dispatched audit entries.
type capturePublisher struct {
	logs []*models.AuditLog
}

func (p *capturePublisher) PublishAudit(log *models.AuditLog) {
	p.logs = append(p.logs, log)
}

func (p *capturePublisher) messages() []string {
	out := make([]string, 0, len(p.logs))
	for _, l := range p.logs {
		out = append(out, l.Message)
	}
	return out
}

func newRecorder() (*audit.Recorder, *capturePublisher) {
	pub := &capturePublisher{}
	return audit.NewRecorder(audit.WithPublisher(pub)), pub
}

func int64Ptr(v int64) *int64 { return &v }

var userCols = []string{
	"id", "username", "email", "password_hash", "full_name", "role", "organization_id",
	"status", "is_active", "account_type", "account_expires_at", "auth_source", "oidc_sub",
	"last_login", "created_at", "updated_at",
}

// userFixture describes one users row returned by a mocked query.
type userFixture struct {
	id        int64
	username  string
	hash      string
	role      models.Role
	org       *int64
	status    models.AccountStatus
	isActive  bool
	expiresAt *time.Time
	source    models.AuthSource
	oidcSub   *string
}

func activeUser(id int64, username string, role models.Role, org *int64) userFixture {
	return userFixture{
		id: id, username: username, hash: "$2a$10$unused", role: role, org: org,
		status: models.StatusActive, isActive: true, source: models.AuthSourceLocal,
	}
}

func (f userFixture) rows() *sqlmock.Rows {
	var org, expires, sub any
	if f.org != nil {
		org = *f.org
	}
	if f.expiresAt != nil {
		expires = *f.expiresAt
	}
	if f.oidcSub != nil {
		sub = *f.oidcSub
	}
	return sqlmock.NewRows(userCols).AddRow(
		f.id, f.username, f.username+"@example.com", f.hash, "Test User", string(f.role), org,
		string(f.status), f.isActive, "standard", expires, string(f.source), sub,
		nil, fixedNow.Add(-30*24*time.Hour), fixedNow.Add(-30*24*time.Hour),
	)
}

func auditInsertRows(id int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "created_at"}).AddRow(id, fixedNow)
}

func principal(id int64, role models.Role, org *int64) *authz.Principal {
	return &authz.Principal{UserID: id, Username: "actor", Role: role, OrganizationID: org, AuthMethod: authz.AuthJWT}
}

var meta = RequestMeta{IPAddress: "203.0.113.9", RequestID: "req-1"}

func uniqueViolation(constraint string) error {
	return &pq.Error{Code: "23505", Constraint: constraint}
}
