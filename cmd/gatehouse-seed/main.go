// Command gatehouse-seed bootstraps a fresh database: the twelve CRUD
// permissions, the Admin and User roles, and the initial admin account.
// Safe to run repeatedly; existing rows are left alone.
package main

import (
	"context"
	"database/sql"
	"errors"
	"os"

	_ "github.com/lib/pq"

	"github.com/gatehouse-io/gatehouse/pkg/auth"
	"github.com/gatehouse-io/gatehouse/pkg/config"
	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/rbac"
)

const (
	adminEmail    = "admin@example.com"
	adminPassword = "Admin@123"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.InfoLevel, os.Stderr).WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.LogLevel, os.Stdout)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Error("Failed to open database")
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	if err := rbac.RunMigrations(ctx, db); err != nil {
		logger.WithError(err).Error("Failed to run migrations")
		os.Exit(1)
	}

	store := rbac.NewStore(db)
	if err := seed(ctx, store, auth.NewHasher(cfg.Auth.BcryptCost), logger); err != nil {
		logger.WithError(err).Error("Seeding failed")
		os.Exit(1)
	}
	logger.Info("Database seeded successfully")
}

func seed(ctx context.Context, store *rbac.Store, hasher *auth.Hasher, logger *observability.Logger) error {
	singulars := map[string]string{
		rbac.ResourceUsers:       "user",
		rbac.ResourceRoles:       "role",
		rbac.ResourcePermissions: "permission",
	}
	descriptions := map[rbac.Action]string{
		rbac.ActionCreate: "Create",
		rbac.ActionRead:   "Read",
		rbac.ActionUpdate: "Update",
		rbac.ActionDelete: "Delete",
	}

	var permissionIDs []string
	var readPermissionIDs []string
	for _, resource := range []string{rbac.ResourceUsers, rbac.ResourceRoles, rbac.ResourcePermissions} {
		for _, action := range rbac.Actions() {
			name := singulars[resource] + ":" + string(action)
			permission, err := ensurePermission(ctx, store, &rbac.Permission{
				Name:        name,
				Description: descriptions[action] + " " + resource,
				Resource:    resource,
				Action:      action,
			})
			if err != nil {
				return err
			}
			permissionIDs = append(permissionIDs, permission.ID)
			if action == rbac.ActionRead {
				readPermissionIDs = append(readPermissionIDs, permission.ID)
			}
		}
	}
	logger.WithField("count", len(permissionIDs)).Info("Permissions ensured")

	adminRole, err := ensureRole(ctx, store, &rbac.Role{
		Name:        "Admin",
		Description: "System administrator with full access",
	}, permissionIDs)
	if err != nil {
		return err
	}
	if _, err := ensureRole(ctx, store, &rbac.Role{
		Name:        "User",
		Description: "Regular user with limited access",
	}, readPermissionIDs); err != nil {
		return err
	}
	logger.Info("Roles ensured")

	if _, err := store.GetUserByEmail(ctx, adminEmail); err == nil {
		return nil
	} else if !errors.Is(err, rbac.ErrNotFound) {
		return err
	}
	hash, err := hasher.Hash(adminPassword)
	if err != nil {
		return err
	}
	if err := store.CreateUser(ctx, &rbac.User{
		Email:        adminEmail,
		PasswordHash: hash,
		FirstName:    "Admin",
		LastName:     "User",
		Active:       true,
		RoleID:       &adminRole.ID,
	}); err != nil {
		return err
	}
	logger.WithField("email", adminEmail).Info("Admin user created")
	return nil
}

func ensurePermission(ctx context.Context, store *rbac.Store, p *rbac.Permission) (*rbac.Permission, error) {
	existing, err := store.GetPermissionByName(ctx, p.Name)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, rbac.ErrNotFound) {
		return nil, err
	}
	if err := store.CreatePermission(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func ensureRole(ctx context.Context, store *rbac.Store, role *rbac.Role, permissionIDs []string) (*rbac.Role, error) {
	existing, err := store.GetRoleByName(ctx, role.Name)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, rbac.ErrNotFound) {
		return nil, err
	}
	if err := store.CreateRole(ctx, role, permissionIDs); err != nil {
		return nil, err
	}
	return role, nil
}
