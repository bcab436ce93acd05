package services

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/sentinel/internal/apperrors"
	"github.com/sentinelops/sentinel/internal/db/models"
)

var orgCols = []string{"id", "name", "slug", "domain", "subscription_plan", "max_devices",
	"max_scans_per_day", "log_retention_days", "is_active", "created_at", "updated_at"}

func orgRows(id int64, slug string) *sqlmock.Rows {
	return sqlmock.NewRows(orgCols).AddRow(id, "Acme", slug, nil, "pro", 50, 10, 90, true, fixedNow, fixedNow)
}

func newTestOrganizations(t *testing.T) (*Organizations, sqlmock.Sqlmock, *capturePublisher) {
	t.Helper()
	db, mock := newMockDB(t)
	rec, pub := newRecorder()
	return NewOrganizations(db, rec, 90), mock, pub
}

func strPtr(s string) *string { return &s }

func TestOrganizations_RequireGlobalRole(t *testing.T) {
	o, _, _ := newTestOrganizations(t)
	owner := principal(1, models.RolePlatformOwner, int64Ptr(4))

	_, _, err := o.List(context.Background(), owner, "", 20, 0)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	_, err = o.Get(context.Background(), owner, 4)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	_, err = o.Create(context.Background(), owner, OrganizationInput{Name: strPtr("x"), Slug: strPtr("xx")}, meta)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestOrganizationsCreate(t *testing.T) {
	founder := principal(1, models.RolePlatformFounder, nil)

	t.Run("defaults and audit", func(t *testing.T) {
		o, mock, pub := newTestOrganizations(t)
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO organizations").
			WithArgs("Acme", "acme", nil, models.PlanFree, 10, 5, 90, true).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(8, fixedNow, fixedNow))
		mock.ExpectQuery("INSERT INTO audit_logs").
			WithArgs(models.AuditInfo, models.CategoryAdmin, "api", "organization created", sqlmock.AnyArg(),
				int64Ptr(1), nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(auditInsertRows(1))
		mock.ExpectCommit()

		org, err := o.Create(context.Background(), founder, OrganizationInput{Name: strPtr("Acme"), Slug: strPtr("ACME")}, meta)
		require.NoError(t, err)
		assert.Equal(t, int64(8), org.ID)
		assert.Equal(t, "acme", org.Slug)
		assert.Equal(t, []string{"organization created"}, pub.messages())
	})

	t.Run("invalid slug and plan", func(t *testing.T) {
		o, _, _ := newTestOrganizations(t)
		plan := models.SubscriptionPlan("gold")
		_, err := o.Create(context.Background(), founder, OrganizationInput{
			Name: strPtr("Acme"), Slug: strPtr("-bad slug"), SubscriptionPlan: &plan,
		}, meta)
		var verr *apperrors.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Fields, "slug")
		assert.Contains(t, verr.Fields, "subscription_plan")
	})

	t.Run("duplicate slug", func(t *testing.T) {
		o, mock, _ := newTestOrganizations(t)
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO organizations").WillReturnError(uniqueViolation("organizations_slug_key"))
		mock.ExpectRollback()

		_, err := o.Create(context.Background(), founder, OrganizationInput{Name: strPtr("Acme"), Slug: strPtr("acme")}, meta)
		var conflict *apperrors.ConflictError
		assert.ErrorAs(t, err, &conflict)
	})
}

func TestOrganizationsUpdate(t *testing.T) {
	founder := principal(1, models.RoleFounder, nil)

	t.Run("deactivation is a warning", func(t *testing.T) {
		o, mock, pub := newTestOrganizations(t)
		inactive := false
		mock.ExpectQuery("FROM organizations WHERE id = ").WithArgs(int64(8)).WillReturnRows(orgRows(8, "acme"))
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE organizations").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO audit_logs").WillReturnRows(auditInsertRows(2))
		mock.ExpectCommit()

		org, err := o.Update(context.Background(), founder, 8, OrganizationInput{IsActive: &inactive}, meta)
		require.NoError(t, err)
		assert.False(t, org.IsActive)
		require.Len(t, pub.logs, 1)
		assert.Equal(t, models.AuditWarning, pub.logs[0].Level)
		assert.Equal(t, []string{"is_active"}, pub.logs[0].Metadata["changed"])
	})

	t.Run("slug is immutable", func(t *testing.T) {
		o, mock, _ := newTestOrganizations(t)
		mock.ExpectQuery("FROM organizations WHERE id = ").WillReturnRows(orgRows(8, "acme"))

		_, err := o.Update(context.Background(), founder, 8, OrganizationInput{Slug: strPtr("other")}, meta)
		var verr *apperrors.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("retention below one day is invalid", func(t *testing.T) {
		for _, days := range []int{0, -1} {
			o, mock, pub := newTestOrganizations(t)
			mock.ExpectQuery("FROM organizations WHERE id = ").WillReturnRows(orgRows(8, "acme"))

			_, err := o.Update(context.Background(), founder, 8, OrganizationInput{LogRetentionDays: &days}, meta)
			var verr *apperrors.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, "log_retention_days")
			assert.Empty(t, pub.logs)
		}
	})

	t.Run("no changes writes nothing", func(t *testing.T) {
		o, mock, pub := newTestOrganizations(t)
		mock.ExpectQuery("FROM organizations WHERE id = ").WillReturnRows(orgRows(8, "acme"))

		_, err := o.Update(context.Background(), founder, 8, OrganizationInput{Name: strPtr("Acme")}, meta)
		require.NoError(t, err)
		assert.Empty(t, pub.logs)
	})
}
