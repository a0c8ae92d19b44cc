package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Sentinel errors returned by the store; handlers map them to HTTP statuses.
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// Store handles persistence for users, roles, permissions, links, and sessions
type Store struct {
	db *sql.DB
}

// NewStore creates a new store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks and connection metrics.
func (s *Store) DB() *sql.DB {
	return s.db
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// ---- users ----

// CreateUser inserts a user. The ID and timestamps are assigned here when unset.
// Returns ErrDuplicate when the email is taken.
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, first_name, last_name, active, role_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, user.ID, user.Email, user.PasswordHash, user.FirstName, user.LastName, user.Active, user.RoleID, user.CreatedAt, user.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("user email %s: %w", user.Email, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

const userColumns = "id, email, password_hash, first_name, last_name, active, role_id, created_at, updated_at"

func scanUser(row *sql.Row) (*User, error) {
	var user User
	var roleID sql.NullString
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.FirstName, &user.LastName,
		&user.Active, &roleID, &user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if roleID.Valid {
		id := roleID.String
		user.RoleID = &id
	}
	return &user, nil
}

// GetUserByID retrieves a user by id. When withRole is set, the user's role and
// the role's full permission set are loaded eagerly.
func (s *Store) GetUserByID(ctx context.Context, id string, withRole bool) (*User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id)
	user, err := scanUser(row)
	if err != nil {
		return nil, err
	}
	if withRole && user.RoleID != nil {
		role, err := s.GetRoleByID(ctx, *user.RoleID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		user.Role = role
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email, eagerly loading role and permissions.
// Email matching is exact and case-sensitive.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = $1", email)
	user, err := scanUser(row)
	if err != nil {
		return nil, err
	}
	if user.RoleID != nil {
		role, err := s.GetRoleByID(ctx, *user.RoleID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		user.Role = role
	}
	return user, nil
}

// ListUsers lists all users with their role id and name (no permission closure)
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.email, u.first_name, u.last_name, u.active, u.role_id, u.created_at, u.updated_at,
		       r.id, r.name
		FROM users u
		LEFT JOIN roles r ON r.id = u.role_id
		ORDER BY u.created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var user User
		var roleID, rID, rName sql.NullString
		if err := rows.Scan(&user.ID, &user.Email, &user.FirstName, &user.LastName, &user.Active,
			&roleID, &user.CreatedAt, &user.UpdatedAt, &rID, &rName); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		if roleID.Valid {
			id := roleID.String
			user.RoleID = &id
		}
		if rID.Valid {
			user.Role = &Role{ID: rID.String, Name: rName.String}
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// UpdateUser updates the mutable profile fields of a user. Returns ErrDuplicate
// when the new email belongs to another user and ErrNotFound when no row matched.
func (s *Store) UpdateUser(ctx context.Context, user *User) error {
	user.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET email = $1, first_name = $2, last_name = $3, active = $4, role_id = $5, updated_at = $6
		WHERE id = $7
	`, user.Email, user.FirstName, user.LastName, user.Active, user.RoleID, user.UpdatedAt, user.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("user email %s: %w", user.Email, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("user %s: %w", user.ID, ErrNotFound)
	}
	return nil
}

// UpdateUserPassword replaces the stored password hash
func (s *Store) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3
	`, passwordHash, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteUser deletes a user by id
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}

// CountUsersByRole returns the number of users referencing the role
func (s *Store) CountUsersByRole(ctx context.Context, roleID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE role_id = $1", roleID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count users by role: %w", err)
	}
	return count, nil
}

// ---- roles ----

// CreateRole inserts a role and, when permissionIDs is non-empty, links every
// permission in one transaction. Unknown permission ids roll the whole
// operation back with ErrNotFound; a duplicate name yields ErrDuplicate.
func (s *Store) CreateRole(ctx context.Context, role *Role, permissionIDs []string) error {
	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO roles (id, name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, role.ID, role.Name, role.Description, role.CreatedAt, role.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("role name %s: %w", role.Name, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}

	if err := linkPermissions(ctx, tx, role.ID, permissionIDs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role: %w", err)
	}
	return nil
}

// linkPermissions validates that every permission id exists, then creates one
// link per id. Runs inside the caller's transaction so a missing id aborts the
// whole batch (all-or-nothing).
func linkPermissions(ctx context.Context, tx *sql.Tx, roleID string, permissionIDs []string) error {
	for _, pid := range permissionIDs {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM permissions WHERE id = $1)", pid).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check permission %s: %w", pid, err)
		}
		if !exists {
			return fmt.Errorf("permission %s: %w", pid, ErrNotFound)
		}
	}
	for _, pid := range permissionIDs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO role_permissions (id, role_id, permission_id, created_at)
			VALUES ($1, $2, $3, $4)
		`, uuid.NewString(), roleID, pid, time.Now().UTC())
		if isUniqueViolation(err) {
			return fmt.Errorf("role %s already holds permission %s: %w", roleID, pid, ErrDuplicate)
		}
		if err != nil {
			return fmt.Errorf("failed to link permission %s: %w", pid, err)
		}
	}
	return nil
}

// GetRoleByID retrieves a role by id with its full permission set
func (s *Store) GetRoleByID(ctx context.Context, id string) (*Role, error) {
	var role Role
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, updated_at FROM roles WHERE id = $1
	`, id).Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("role %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	if err := s.loadRolePermissions(ctx, &role); err != nil {
		return nil, err
	}
	return &role, nil
}

// GetRoleByName retrieves a role by its unique name (no permission closure)
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	var role Role
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, updated_at FROM roles WHERE name = $1
	`, name).Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("role %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &role, nil
}

func (s *Store) loadRolePermissions(ctx context.Context, role *Role) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.description, p.resource, p.action, p.created_at, p.updated_at
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1
		ORDER BY p.name ASC
	`, role.ID)
	if err != nil {
		return fmt.Errorf("failed to load role permissions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Resource, &p.Action, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return fmt.Errorf("failed to scan permission: %w", err)
		}
		role.Permissions = append(role.Permissions, p)
	}
	return rows.Err()
}

// ListRoles lists all roles with their permission sets
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, created_at, updated_at FROM roles ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range roles {
		if err := s.loadRolePermissions(ctx, &roles[i]); err != nil {
			return nil, err
		}
	}
	return roles, nil
}

// UpdateRole updates a role's name and description. A name collision with a
// different role yields ErrDuplicate.
func (s *Store) UpdateRole(ctx context.Context, role *Role) error {
	role.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE roles SET name = $1, description = $2, updated_at = $3 WHERE id = $4
	`, role.Name, role.Description, role.UpdatedAt, role.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("role name %s: %w", role.Name, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("role %s: %w", role.ID, ErrNotFound)
	}
	return nil
}

// DeleteRole deletes a role by id. Callers must enforce the referencing-user
// check first; the database will also refuse while users reference the role.
func (s *Store) DeleteRole(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM roles WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("role %s: %w", id, ErrNotFound)
	}
	return nil
}

// AddRolePermissions links each permission id to the role, all-or-nothing
func (s *Store) AddRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := linkPermissions(ctx, tx, roleID, permissionIDs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role permissions: %w", err)
	}
	return nil
}

// GetRolePermissionLink finds the link row for a (role, permission) pair
func (s *Store) GetRolePermissionLink(ctx context.Context, roleID, permissionID string) (*RolePermission, error) {
	var link RolePermission
	err := s.db.QueryRowContext(ctx, `
		SELECT id, role_id, permission_id, created_at
		FROM role_permissions
		WHERE role_id = $1 AND permission_id = $2
	`, roleID, permissionID).Scan(&link.ID, &link.RoleID, &link.PermissionID, &link.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("role permission link: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role permission link: %w", err)
	}
	return &link, nil
}

// DeleteRolePermissionLink removes a link by its own id
func (s *Store) DeleteRolePermissionLink(ctx context.Context, linkID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM role_permissions WHERE id = $1", linkID)
	if err != nil {
		return fmt.Errorf("failed to delete role permission link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete role permission link: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("role permission link %s: %w", linkID, ErrNotFound)
	}
	return nil
}

// CountRolePermissionsByPermission returns the number of links referencing the permission
func (s *Store) CountRolePermissionsByPermission(ctx context.Context, permissionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM role_permissions WHERE permission_id = $1", permissionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count role permissions: %w", err)
	}
	return count, nil
}

// ---- permissions ----

// CreatePermission inserts a permission. A duplicate name yields ErrDuplicate.
func (s *Store) CreatePermission(ctx context.Context, p *Permission) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permissions (id, name, description, resource, action, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.Name, p.Description, p.Resource, p.Action, p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("permission name %s: %w", p.Name, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create permission: %w", err)
	}
	return nil
}

const permissionColumns = "id, name, description, resource, action, created_at, updated_at"

// GetPermissionByID retrieves a permission by id
func (s *Store) GetPermissionByID(ctx context.Context, id string) (*Permission, error) {
	var p Permission
	err := s.db.QueryRowContext(ctx, "SELECT "+permissionColumns+" FROM permissions WHERE id = $1", id).
		Scan(&p.ID, &p.Name, &p.Description, &p.Resource, &p.Action, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("permission %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return &p, nil
}

// GetPermissionByName retrieves a permission by its unique name
func (s *Store) GetPermissionByName(ctx context.Context, name string) (*Permission, error) {
	var p Permission
	err := s.db.QueryRowContext(ctx, "SELECT "+permissionColumns+" FROM permissions WHERE name = $1", name).
		Scan(&p.ID, &p.Name, &p.Description, &p.Resource, &p.Action, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("permission %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return &p, nil
}

func (s *Store) queryPermissions(ctx context.Context, query string, args ...interface{}) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var permissions []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Resource, &p.Action, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		permissions = append(permissions, p)
	}
	return permissions, rows.Err()
}

// ListPermissions lists all permissions
func (s *Store) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.queryPermissions(ctx, "SELECT "+permissionColumns+" FROM permissions ORDER BY name ASC")
}

// ListPermissionsByResource lists permissions for one resource
func (s *Store) ListPermissionsByResource(ctx context.Context, resource string) ([]Permission, error) {
	return s.queryPermissions(ctx,
		"SELECT "+permissionColumns+" FROM permissions WHERE resource = $1 ORDER BY name ASC", resource)
}

// UpdatePermission updates a permission. A name collision with a different
// permission yields ErrDuplicate.
func (s *Store) UpdatePermission(ctx context.Context, p *Permission) error {
	p.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE permissions SET name = $1, description = $2, resource = $3, action = $4, updated_at = $5
		WHERE id = $6
	`, p.Name, p.Description, p.Resource, p.Action, p.UpdatedAt, p.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("permission name %s: %w", p.Name, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to update permission: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update permission: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("permission %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

// DeletePermission deletes a permission by id. Callers must enforce the
// referencing-link check first.
func (s *Store) DeletePermission(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM permissions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete permission: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete permission: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("permission %s: %w", id, ErrNotFound)
	}
	return nil
}

// ---- sessions ----

// CreateSession records an issued token with its own authoritative expiry
func (s *Store) CreateSession(ctx context.Context, session *Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	session.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, token, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, session.ID, session.UserID, session.Token, session.ExpiresAt, session.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSessionByToken finds the session for the exact token string
func (s *Store) GetSessionByToken(ctx context.Context, token string) (*Session, error) {
	var session Session
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, token, expires_at, created_at FROM sessions WHERE token = $1
	`, token).Scan(&session.ID, &session.UserID, &session.Token, &session.ExpiresAt, &session.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// DeleteSessionsByToken deletes every session for the exact token string.
// Deleting zero rows is not an error; logout is idempotent.
func (s *Store) DeleteSessionsByToken(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE token = $1", token); err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}
	return nil
}

// DeleteExpiredSessions purges sessions whose expiry has elapsed and returns
// the number of rows removed
func (s *Store) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at <= $1", time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return n, nil
}
