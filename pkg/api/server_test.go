package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatehouse-io/gatehouse/pkg/auth"
	"github.com/gatehouse-io/gatehouse/pkg/middleware"
	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/rbac"
)

// memStore is an in-memory implementation of the Store interface (plus the
// session methods the auth service and authenticator need).
type memStore struct {
	users    map[string]*rbac.User
	roles    map[string]*rbac.Role
	perms    map[string]*rbac.Permission
	links    map[string]*rbac.RolePermission
	sessions map[string]*rbac.Session
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[string]*rbac.User),
		roles:    make(map[string]*rbac.Role),
		perms:    make(map[string]*rbac.Permission),
		links:    make(map[string]*rbac.RolePermission),
		sessions: make(map[string]*rbac.Session),
	}
}

func (m *memStore) roleWithPermissions(id string) *rbac.Role {
	role, ok := m.roles[id]
	if !ok {
		return nil
	}
	out := *role
	out.Permissions = nil
	for _, link := range m.links {
		if link.RoleID == id {
			if p, ok := m.perms[link.PermissionID]; ok {
				out.Permissions = append(out.Permissions, *p)
			}
		}
	}
	return &out
}

func (m *memStore) CreateUser(_ context.Context, user *rbac.User) error {
	for _, u := range m.users {
		if u.Email == user.Email {
			return rbac.ErrDuplicate
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	copied := *user
	m.users[user.ID] = &copied
	return nil
}

func (m *memStore) GetUserByID(_ context.Context, id string, withRole bool) (*rbac.User, error) {
	user, ok := m.users[id]
	if !ok {
		return nil, rbac.ErrNotFound
	}
	out := *user
	if withRole && out.RoleID != nil {
		out.Role = m.roleWithPermissions(*out.RoleID)
	}
	return &out, nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (*rbac.User, error) {
	for _, user := range m.users {
		if user.Email == email {
			out := *user
			if out.RoleID != nil {
				out.Role = m.roleWithPermissions(*out.RoleID)
			}
			return &out, nil
		}
	}
	return nil, rbac.ErrNotFound
}

func (m *memStore) ListUsers(_ context.Context) ([]rbac.User, error) {
	var users []rbac.User
	for _, user := range m.users {
		out := *user
		if out.RoleID != nil {
			if role, ok := m.roles[*out.RoleID]; ok {
				out.Role = &rbac.Role{ID: role.ID, Name: role.Name}
			}
		}
		users = append(users, out)
	}
	return users, nil
}

func (m *memStore) UpdateUser(_ context.Context, user *rbac.User) error {
	if _, ok := m.users[user.ID]; !ok {
		return rbac.ErrNotFound
	}
	for id, u := range m.users {
		if id != user.ID && u.Email == user.Email {
			return rbac.ErrDuplicate
		}
	}
	copied := *user
	m.users[user.ID] = &copied
	return nil
}

func (m *memStore) UpdateUserPassword(_ context.Context, id, passwordHash string) error {
	user, ok := m.users[id]
	if !ok {
		return rbac.ErrNotFound
	}
	user.PasswordHash = passwordHash
	return nil
}

func (m *memStore) DeleteUser(_ context.Context, id string) error {
	if _, ok := m.users[id]; !ok {
		return rbac.ErrNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *memStore) CountUsersByRole(_ context.Context, roleID string) (int, error) {
	count := 0
	for _, user := range m.users {
		if user.RoleID != nil && *user.RoleID == roleID {
			count++
		}
	}
	return count, nil
}

func (m *memStore) CreateRole(_ context.Context, role *rbac.Role, permissionIDs []string) error {
	for _, r := range m.roles {
		if r.Name == role.Name {
			return rbac.ErrDuplicate
		}
	}
	for _, pid := range permissionIDs {
		if _, ok := m.perms[pid]; !ok {
			return rbac.ErrNotFound
		}
	}
	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	copied := *role
	m.roles[role.ID] = &copied
	for _, pid := range permissionIDs {
		link := &rbac.RolePermission{ID: uuid.NewString(), RoleID: role.ID, PermissionID: pid}
		m.links[link.ID] = link
	}
	return nil
}

func (m *memStore) GetRoleByID(_ context.Context, id string) (*rbac.Role, error) {
	role := m.roleWithPermissions(id)
	if role == nil {
		return nil, rbac.ErrNotFound
	}
	return role, nil
}

func (m *memStore) GetRoleByName(_ context.Context, name string) (*rbac.Role, error) {
	for _, role := range m.roles {
		if role.Name == name {
			out := *role
			return &out, nil
		}
	}
	return nil, rbac.ErrNotFound
}

func (m *memStore) ListRoles(_ context.Context) ([]rbac.Role, error) {
	var roles []rbac.Role
	for id := range m.roles {
		roles = append(roles, *m.roleWithPermissions(id))
	}
	return roles, nil
}

func (m *memStore) UpdateRole(_ context.Context, role *rbac.Role) error {
	if _, ok := m.roles[role.ID]; !ok {
		return rbac.ErrNotFound
	}
	for id, r := range m.roles {
		if id != role.ID && r.Name == role.Name {
			return rbac.ErrDuplicate
		}
	}
	copied := *role
	m.roles[role.ID] = &copied
	return nil
}

func (m *memStore) DeleteRole(_ context.Context, id string) error {
	if _, ok := m.roles[id]; !ok {
		return rbac.ErrNotFound
	}
	delete(m.roles, id)
	return nil
}

func (m *memStore) AddRolePermissions(_ context.Context, roleID string, permissionIDs []string) error {
	for _, pid := range permissionIDs {
		if _, ok := m.perms[pid]; !ok {
			return rbac.ErrNotFound
		}
	}
	for _, pid := range permissionIDs {
		for _, link := range m.links {
			if link.RoleID == roleID && link.PermissionID == pid {
				return rbac.ErrDuplicate
			}
		}
	}
	for _, pid := range permissionIDs {
		link := &rbac.RolePermission{ID: uuid.NewString(), RoleID: roleID, PermissionID: pid}
		m.links[link.ID] = link
	}
	return nil
}

func (m *memStore) GetRolePermissionLink(_ context.Context, roleID, permissionID string) (*rbac.RolePermission, error) {
	for _, link := range m.links {
		if link.RoleID == roleID && link.PermissionID == permissionID {
			out := *link
			return &out, nil
		}
	}
	return nil, rbac.ErrNotFound
}

func (m *memStore) DeleteRolePermissionLink(_ context.Context, linkID string) error {
	if _, ok := m.links[linkID]; !ok {
		return rbac.ErrNotFound
	}
	delete(m.links, linkID)
	return nil
}

func (m *memStore) CountRolePermissionsByPermission(_ context.Context, permissionID string) (int, error) {
	count := 0
	for _, link := range m.links {
		if link.PermissionID == permissionID {
			count++
		}
	}
	return count, nil
}

func (m *memStore) CreatePermission(_ context.Context, p *rbac.Permission) error {
	for _, existing := range m.perms {
		if existing.Name == p.Name {
			return rbac.ErrDuplicate
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	copied := *p
	m.perms[p.ID] = &copied
	return nil
}

func (m *memStore) GetPermissionByID(_ context.Context, id string) (*rbac.Permission, error) {
	p, ok := m.perms[id]
	if !ok {
		return nil, rbac.ErrNotFound
	}
	out := *p
	return &out, nil
}

func (m *memStore) GetPermissionByName(_ context.Context, name string) (*rbac.Permission, error) {
	for _, p := range m.perms {
		if p.Name == name {
			out := *p
			return &out, nil
		}
	}
	return nil, rbac.ErrNotFound
}

func (m *memStore) ListPermissions(_ context.Context) ([]rbac.Permission, error) {
	var permissions []rbac.Permission
	for _, p := range m.perms {
		permissions = append(permissions, *p)
	}
	return permissions, nil
}

func (m *memStore) ListPermissionsByResource(_ context.Context, resource string) ([]rbac.Permission, error) {
	var permissions []rbac.Permission
	for _, p := range m.perms {
		if p.Resource == resource {
			permissions = append(permissions, *p)
		}
	}
	return permissions, nil
}

func (m *memStore) UpdatePermission(_ context.Context, p *rbac.Permission) error {
	if _, ok := m.perms[p.ID]; !ok {
		return rbac.ErrNotFound
	}
	for id, existing := range m.perms {
		if id != p.ID && existing.Name == p.Name {
			return rbac.ErrDuplicate
		}
	}
	copied := *p
	m.perms[p.ID] = &copied
	return nil
}

func (m *memStore) DeletePermission(_ context.Context, id string) error {
	if _, ok := m.perms[id]; !ok {
		return rbac.ErrNotFound
	}
	delete(m.perms, id)
	return nil
}

func (m *memStore) CreateSession(_ context.Context, session *rbac.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	copied := *session
	m.sessions[session.Token] = &copied
	return nil
}

func (m *memStore) GetSessionByToken(_ context.Context, token string) (*rbac.Session, error) {
	session, ok := m.sessions[token]
	if !ok {
		return nil, rbac.ErrNotFound
	}
	out := *session
	return &out, nil
}

func (m *memStore) DeleteSessionsByToken(_ context.Context, token string) error {
	delete(m.sessions, token)
	return nil
}

// testEnv bundles a fully wired server over a memStore.
type testEnv struct {
	server *Server
	store  *memStore
	hasher *auth.Hasher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newMemStore()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	hasher := auth.NewHasher(bcrypt.MinCost)
	tokens := auth.NewTokenProvider([]byte("test-secret"), time.Hour)
	authService := auth.NewService(store, hasher, tokens)
	authn := middleware.NewAuthenticator(store, tokens, logger, nil)
	authz := middleware.NewAuthorizer(logger, nil)
	server := NewServer(store, authService, hasher, authn, authz, logger, nil)
	return &testEnv{server: server, store: store, hasher: hasher}
}

// seedRBAC creates the users/roles/permissions CRUD grid, an Admin role with
// everything, a Viewer role with read-only access, and one user per role.
func (e *testEnv) seedRBAC(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	var allIDs, readIDs []string
	for _, resource := range []string{rbac.ResourceUsers, rbac.ResourceRoles, rbac.ResourcePermissions} {
		for _, action := range rbac.Actions() {
			p := &rbac.Permission{
				Name:     resource + ":" + string(action),
				Resource: resource,
				Action:   action,
			}
			require.NoError(t, e.store.CreatePermission(ctx, p))
			allIDs = append(allIDs, p.ID)
			if action == rbac.ActionRead {
				readIDs = append(readIDs, p.ID)
			}
		}
	}

	admin := &rbac.Role{Name: "Admin"}
	require.NoError(t, e.store.CreateRole(ctx, admin, allIDs))
	viewer := &rbac.Role{Name: "Viewer"}
	require.NoError(t, e.store.CreateRole(ctx, viewer, readIDs))

	e.createUser(t, "admin@example.com", "Admin@123", &admin.ID)
	e.createUser(t, "viewer@example.com", "Viewer@123", &viewer.ID)
}

func (e *testEnv) createUser(t *testing.T, email, password string, roleID *string) *rbac.User {
	t.Helper()
	hash, err := e.hasher.Hash(password)
	require.NoError(t, err)
	user := &rbac.User{Email: email, PasswordHash: hash, Active: true, RoleID: roleID}
	require.NoError(t, e.store.CreateUser(context.Background(), user))
	return user
}

func (e *testEnv) do(method, path, token, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	return w
}

func decodeBody(w *httptest.ResponseRecorder, dest interface{}) error {
	return json.Unmarshal(w.Body.Bytes(), dest)
}

func (e *testEnv) login(t *testing.T, email, password string) string {
	t.Helper()
	w := e.do(http.MethodPost, "/api/auth/login", "", `{"email":"`+email+`","password":"`+password+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, decodeBody(w, &body))
	require.NotEmpty(t, body.Token)
	return body.Token
}
