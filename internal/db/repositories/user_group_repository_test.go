package repositories

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/sentinel/internal/apperrors"
	"github.com/sentinelops/sentinel/internal/authz"
	"github.com/sentinelops/sentinel/internal/db/models"
)

var groupCols = []string{
	"id", "organization_id", "name", "description", "access_level", "permissions",
	"created_at", "updated_at", "member_count",
}

func newGroupRepo(t *testing.T) (*UserGroupRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewUserGroupRepository(db), mock
}

func TestGroupCreate(t *testing.T) {
	repo, mock := newGroupRepo(t)
	mock.ExpectQuery("INSERT INTO user_groups").
		WithArgs(int64(1), "Tier 1", "", models.AccessRead, []byte(`{"findings:triage":true}`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(5, fixedTime, fixedTime))

	g := &models.UserGroup{
		OrganizationID: 1, Name: "Tier 1", AccessLevel: models.AccessRead,
		Permissions: map[string]bool{"findings:triage": true},
	}
	require.NoError(t, repo.Create(context.Background(), g))
	assert.Equal(t, int64(5), g.ID)
}

func TestGroupCreate_DuplicateName(t *testing.T) {
	repo, mock := newGroupRepo(t)
	mock.ExpectQuery("INSERT INTO user_groups").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "user_groups_org_name_key"})

	err := repo.Create(context.Background(), &models.UserGroup{OrganizationID: 1, Name: "Tier 1"})
	var conflict *apperrors.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "group already exists", conflict.Error())
}

func TestGroupGetInScope(t *testing.T) {
	repo, mock := newGroupRepo(t)
	mock.ExpectQuery(`WHERE g.id = \$1 AND g.organization_id = \$2`).
		WithArgs(int64(5), int64(1)).
		WillReturnRows(sqlmock.NewRows(groupCols).
			AddRow(5, 1, "Tier 1", "first line", "write", []byte(`{"scans:run":true}`), fixedTime, fixedTime, 3))

	g, err := repo.GetInScope(context.Background(), authz.Scope{OrganizationID: 1}, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, g.MemberCount)
	assert.True(t, g.Allows("scans:run"))
}

func TestGroupGetInScope_OtherTenant(t *testing.T) {
	repo, mock := newGroupRepo(t)
	mock.ExpectQuery(`WHERE g.id = \$1 AND g.organization_id = \$2`).
		WithArgs(int64(5), int64(2)).
		WillReturnRows(sqlmock.NewRows(groupCols))

	_, err := repo.GetInScope(context.Background(), authz.Scope{OrganizationID: 2}, 5)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGroupList(t *testing.T) {
	repo, mock := newGroupRepo(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM user_groups g WHERE g.organization_id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`ORDER BY g.name, g.id LIMIT \$2 OFFSET \$3`).
		WithArgs(int64(1), 20, 0).
		WillReturnRows(sqlmock.NewRows(groupCols).
			AddRow(5, 1, "Tier 1", "", "read", []byte(`{}`), fixedTime, fixedTime, 0))

	groups, total, err := repo.List(context.Background(), authz.Scope{OrganizationID: 1}, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, groups, 1)
	assert.NotNil(t, groups[0].Permissions)
}

func TestGroupMembers(t *testing.T) {
	repo, mock := newGroupRepo(t)

	mock.ExpectQuery("INSERT INTO user_group_members").
		WithArgs(int64(7), int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "joined_at"}).AddRow(1, fixedTime))
	m, err := repo.AddMember(context.Background(), 5, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), m.UserID)

	mock.ExpectQuery("INSERT INTO user_group_members").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "user_group_members_user_group_key"})
	_, err = repo.AddMember(context.Background(), 5, 7)
	var conflict *apperrors.ConflictError
	assert.ErrorAs(t, err, &conflict)

	mock.ExpectQuery("FROM user_group_members m").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "group_id", "username", "joined_at"}).
			AddRow(1, 7, 5, "ana", fixedTime))
	members, err := repo.ListMembers(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "ana", members[0].Username)

	mock.ExpectExec("DELETE FROM user_group_members").
		WithArgs(int64(5), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.RemoveMember(context.Background(), 5, 7), apperrors.ErrNotFound)
}

func TestGroupDelete(t *testing.T) {
	repo, mock := newGroupRepo(t)
	mock.ExpectExec("DELETE FROM user_groups WHERE id").
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, repo.Delete(context.Background(), 5))
}

func TestGroupListForUser(t *testing.T) {
	repo, mock := newGroupRepo(t)
	mock.ExpectQuery(`JOIN user_group_members um ON um.group_id = g.id`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(groupCols).
			AddRow(5, 1, "Tier 1", "", "admin", []byte(`{}`), fixedTime, fixedTime, 2))

	groups, err := repo.ListForUser(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.True(t, groups[0].Allows("anything"))
}
