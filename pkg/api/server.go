// Package api wires the HTTP surface: route registration with per-route
// permission requirements, and the handlers for auth, users, roles, and
// permissions.
package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gatehouse-io/gatehouse/pkg/auth"
	"github.com/gatehouse-io/gatehouse/pkg/middleware"
	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/rbac"
)

// Store is the persistence surface the handlers need.
type Store interface {
	CreateUser(ctx context.Context, user *rbac.User) error
	GetUserByID(ctx context.Context, id string, withRole bool) (*rbac.User, error)
	GetUserByEmail(ctx context.Context, email string) (*rbac.User, error)
	ListUsers(ctx context.Context) ([]rbac.User, error)
	UpdateUser(ctx context.Context, user *rbac.User) error
	UpdateUserPassword(ctx context.Context, id, passwordHash string) error
	DeleteUser(ctx context.Context, id string) error
	CountUsersByRole(ctx context.Context, roleID string) (int, error)

	CreateRole(ctx context.Context, role *rbac.Role, permissionIDs []string) error
	GetRoleByID(ctx context.Context, id string) (*rbac.Role, error)
	GetRoleByName(ctx context.Context, name string) (*rbac.Role, error)
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	UpdateRole(ctx context.Context, role *rbac.Role) error
	DeleteRole(ctx context.Context, id string) error
	AddRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error
	GetRolePermissionLink(ctx context.Context, roleID, permissionID string) (*rbac.RolePermission, error)
	DeleteRolePermissionLink(ctx context.Context, linkID string) error
	CountRolePermissionsByPermission(ctx context.Context, permissionID string) (int, error)

	CreatePermission(ctx context.Context, p *rbac.Permission) error
	GetPermissionByID(ctx context.Context, id string) (*rbac.Permission, error)
	GetPermissionByName(ctx context.Context, name string) (*rbac.Permission, error)
	ListPermissions(ctx context.Context) ([]rbac.Permission, error)
	ListPermissionsByResource(ctx context.Context, resource string) ([]rbac.Permission, error)
	UpdatePermission(ctx context.Context, p *rbac.Permission) error
	DeletePermission(ctx context.Context, id string) error
}

// Server is the HTTP API server
type Server struct {
	store   Store
	router  *mux.Router
	authn   *middleware.Authenticator
	authz   *middleware.Authorizer
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewServer creates the API server and registers all routes.
func NewServer(
	store Store,
	authService *auth.Service,
	hasher *auth.Hasher,
	authn *middleware.Authenticator,
	authz *middleware.Authorizer,
	logger *observability.Logger,
	metrics *observability.Metrics,
) *Server {
	s := &Server{
		store:   store,
		router:  mux.NewRouter(),
		authn:   authn,
		authz:   authz,
		logger:  logger,
		metrics: metrics,
	}

	s.router.Use(observability.RequestIDMiddleware)
	s.router.Use(observability.RecoverMiddleware(logger))

	api := s.router.PathPrefix("/api").Subrouter()

	authHandlers := NewAuthHandlers(authService, logger, metrics)
	api.Handle("/auth/register", s.wrap("/api/auth/register", http.HandlerFunc(authHandlers.Register))).Methods(http.MethodPost)
	api.Handle("/auth/login", s.wrap("/api/auth/login", http.HandlerFunc(authHandlers.Login))).Methods(http.MethodPost)
	api.Handle("/auth/logout", s.wrap("/api/auth/logout", http.HandlerFunc(authHandlers.Logout))).Methods(http.MethodPost)

	userHandlers := NewUserHandlers(store, hasher, logger)
	api.Handle("/users", s.guard("/api/users", rbac.ActionRead, rbac.ResourceUsers, userHandlers.List)).Methods(http.MethodGet)
	api.Handle("/users", s.guard("/api/users", rbac.ActionCreate, rbac.ResourceUsers, userHandlers.Create)).Methods(http.MethodPost)
	api.Handle("/users/{id}", s.guard("/api/users/{id}", rbac.ActionRead, rbac.ResourceUsers, userHandlers.Get)).Methods(http.MethodGet)
	api.Handle("/users/{id}", s.guard("/api/users/{id}", rbac.ActionUpdate, rbac.ResourceUsers, userHandlers.Update)).Methods(http.MethodPut)
	api.Handle("/users/{id}", s.guard("/api/users/{id}", rbac.ActionDelete, rbac.ResourceUsers, userHandlers.Delete)).Methods(http.MethodDelete)
	// Password change only requires authentication; the current-password check
	// is the gate.
	api.Handle("/users/{id}/change-password", s.authenticated("/api/users/{id}/change-password", userHandlers.ChangePassword)).Methods(http.MethodPost)

	roleHandlers := NewRoleHandlers(store, logger)
	api.Handle("/roles", s.guard("/api/roles", rbac.ActionRead, rbac.ResourceRoles, roleHandlers.List)).Methods(http.MethodGet)
	api.Handle("/roles", s.guard("/api/roles", rbac.ActionCreate, rbac.ResourceRoles, roleHandlers.Create)).Methods(http.MethodPost)
	api.Handle("/roles/{id}", s.guard("/api/roles/{id}", rbac.ActionRead, rbac.ResourceRoles, roleHandlers.Get)).Methods(http.MethodGet)
	api.Handle("/roles/{id}", s.guard("/api/roles/{id}", rbac.ActionUpdate, rbac.ResourceRoles, roleHandlers.Update)).Methods(http.MethodPut)
	api.Handle("/roles/{id}", s.guard("/api/roles/{id}", rbac.ActionDelete, rbac.ResourceRoles, roleHandlers.Delete)).Methods(http.MethodDelete)
	api.Handle("/roles/{id}/permissions", s.guard("/api/roles/{id}/permissions", rbac.ActionUpdate, rbac.ResourceRoles, roleHandlers.AddPermissions)).Methods(http.MethodPost)
	api.Handle("/roles/{roleId}/permissions/{permissionId}", s.guard("/api/roles/{roleId}/permissions/{permissionId}", rbac.ActionUpdate, rbac.ResourceRoles, roleHandlers.RemovePermission)).Methods(http.MethodDelete)

	permHandlers := NewPermissionHandlers(store, logger)
	api.Handle("/permissions", s.guard("/api/permissions", rbac.ActionRead, rbac.ResourcePermissions, permHandlers.List)).Methods(http.MethodGet)
	api.Handle("/permissions", s.guard("/api/permissions", rbac.ActionCreate, rbac.ResourcePermissions, permHandlers.Create)).Methods(http.MethodPost)
	api.Handle("/permissions/resource/{resource}", s.guard("/api/permissions/resource/{resource}", rbac.ActionRead, rbac.ResourcePermissions, permHandlers.ListByResource)).Methods(http.MethodGet)
	api.Handle("/permissions/{id}", s.guard("/api/permissions/{id}", rbac.ActionRead, rbac.ResourcePermissions, permHandlers.Get)).Methods(http.MethodGet)
	api.Handle("/permissions/{id}", s.guard("/api/permissions/{id}", rbac.ActionUpdate, rbac.ResourcePermissions, permHandlers.Update)).Methods(http.MethodPut)
	api.Handle("/permissions/{id}", s.guard("/api/permissions/{id}", rbac.ActionDelete, rbac.ResourcePermissions, permHandlers.Delete)).Methods(http.MethodDelete)

	return s
}

// guard chains authentication and a permission requirement in front of h.
func (s *Server) guard(path string, action rbac.Action, resource string, h http.HandlerFunc) http.Handler {
	req := rbac.Requirement{Action: action, Resource: resource}
	return s.wrap(path, s.authn.Handler(s.authz.RequirePermission(req)(h)))
}

// authenticated chains only authentication in front of h.
func (s *Server) authenticated(path string, h http.HandlerFunc) http.Handler {
	return s.wrap(path, s.authn.Handler(h))
}

func (s *Server) wrap(path string, h http.Handler) http.Handler {
	if s.metrics == nil {
		return h
	}
	return s.metrics.InstrumentHandler(path, h)
}

// Router exposes the underlying router for route-level tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
