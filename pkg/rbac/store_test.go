package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func uniqueViolation() error {
	return &pq.Error{Code: "23505"}
}

func TestCreateUserAssignsID(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(0, 1))

	user := &User{Email: "a@example.com", PasswordHash: "hash"}
	err := store.CreateUser(context.Background(), user)

	assert.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.False(t, user.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO users").WillReturnError(uniqueViolation())

	err := store.CreateUser(context.Background(), &User{Email: "a@example.com"})

	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestGetUserByEmailNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM users WHERE email").
		WithArgs("missing@example.com").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "email", "password_hash", "first_name", "last_name", "active", "role_id", "created_at", "updated_at",
		}))

	user, err := store.GetUserByEmail(context.Background(), "missing@example.com")

	assert.Nil(t, user)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetUserByEmailLoadsRoleAndPermissions(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("FROM users WHERE email").
		WithArgs("admin@example.com").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "email", "password_hash", "first_name", "last_name", "active", "role_id", "created_at", "updated_at",
		}).AddRow("u1", "admin@example.com", "hash", "Admin", "User", true, "r1", now, now))
	mock.ExpectQuery("FROM roles WHERE id").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "created_at", "updated_at"}).
			AddRow("r1", "Admin", "System administrator", now, now))
	mock.ExpectQuery("JOIN role_permissions").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "resource", "action", "created_at", "updated_at"}).
			AddRow("p1", "user:read", "Read users", "users", "read", now, now))

	user, err := store.GetUserByEmail(context.Background(), "admin@example.com")

	require.NoError(t, err)
	require.NotNil(t, user.Role)
	assert.Equal(t, "Admin", user.Role.Name)
	require.Len(t, user.Role.Permissions, 1)
	assert.Equal(t, ActionRead, user.Role.Permissions[0].Action)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRoleLinksAllPermissions(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO roles").WillReturnResult(sqlmock.NewResult(0, 1))
	existsRows := func() *sqlmock.Rows { return sqlmock.NewRows([]string{"exists"}).AddRow(true) }
	mock.ExpectQuery("SELECT EXISTS").WithArgs("p1").WillReturnRows(existsRows())
	mock.ExpectQuery("SELECT EXISTS").WithArgs("p2").WillReturnRows(existsRows())
	mock.ExpectExec("INSERT INTO role_permissions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO role_permissions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.CreateRole(context.Background(), &Role{Name: "Editor"}, []string{"p1", "p2"})

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRoleRollsBackOnUnknownPermission(t *testing.T) {
	store, mock := newMockStore(t)

	// The whole batch is validated before any link insert, so one unknown id
	// must abort without touching role_permissions.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO roles").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	err := store.CreateRole(context.Background(), &Role{Name: "Editor"}, []string{"p1", "missing"})

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddRolePermissionsDuplicateLink(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("INSERT INTO role_permissions").WillReturnError(uniqueViolation())
	mock.ExpectRollback()

	err := store.AddRolePermissions(context.Background(), "r1", []string{"p1"})

	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestUpdateRoleNameCollision(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE roles").WillReturnError(uniqueViolation())

	err := store.UpdateRole(context.Background(), &Role{ID: "r1", Name: "Admin"})

	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestDeleteRoleNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM roles").WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.DeleteRole(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCountUsersByRole(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT COUNT").WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := store.CountUsersByRole(context.Background(), "r1")

	assert.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestDeleteSessionsByTokenIdempotent(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM sessions").WithArgs("tok").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.DeleteSessionsByToken(context.Background(), "tok")

	assert.NoError(t, err, "deleting zero rows is not an error")
}

func TestDeleteExpiredSessionsReturnsCount(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM sessions").
		WillReturnResult(sqlmock.NewResult(0, 5))

	n, err := store.DeleteExpiredSessions(context.Background())

	assert.NoError(t, err)
	assert.EqualValues(t, 5, n)
}

func TestGetRolePermissionLinkNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM role_permissions").WithArgs("r1", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "role_id", "permission_id", "created_at"}))

	link, err := store.GetRolePermissionLink(context.Background(), "r1", "p1")

	assert.Nil(t, link)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreatePermissionDuplicateName(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO permissions").WillReturnError(uniqueViolation())

	err := store.CreatePermission(context.Background(), &Permission{Name: "user:read"})

	assert.ErrorIs(t, err, ErrDuplicate)
}
