package api

import (
	"errors"
	"net/http"

	"github.com/gatehouse-io/gatehouse/pkg/httputil"
	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/rbac"
)

// RoleHandlers serves role administration, including permission assignment.
type RoleHandlers struct {
	store  Store
	logger *observability.Logger
}

// NewRoleHandlers creates handlers backed by the store.
func NewRoleHandlers(store Store, logger *observability.Logger) *RoleHandlers {
	return &RoleHandlers{store: store, logger: logger}
}

// List handles GET /api/roles
func (h *RoleHandlers) List(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("failed to list roles")
		httputil.WriteInternalError(w, "Error fetching roles")
		return
	}
	if roles == nil {
		roles = []rbac.Role{}
	}
	httputil.WriteSuccess(w, roles)
}

// Get handles GET /api/roles/{id}
func (h *RoleHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id := httputil.PathVar(r, "id")
	role, err := h.store.GetRoleByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			httputil.WriteNotFound(w, "Role not found")
			return
		}
		h.logger.WithError(err).Error("failed to fetch role")
		httputil.WriteInternalError(w, "Error fetching role")
		return
	}
	httputil.WriteSuccess(w, role)
}

type createRoleRequest struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	PermissionIDs []string `json:"permissionIds,omitempty"`
}

// Create handles POST /api/roles. Permission links are created in the same
// transaction as the role; one unknown permission id fails the whole request.
func (h *RoleHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "Name is required")
		return
	}

	existing, err := h.store.GetRoleByName(r.Context(), req.Name)
	if err != nil && !errors.Is(err, rbac.ErrNotFound) {
		h.logger.WithError(err).Error("failed to check existing role")
		httputil.WriteInternalError(w, "Error creating role")
		return
	}
	if existing != nil {
		httputil.WriteBadRequest(w, "Role already exists with this name")
		return
	}

	role := &rbac.Role{Name: req.Name, Description: req.Description}
	if err := h.store.CreateRole(r.Context(), role, req.PermissionIDs); err != nil {
		switch {
		case errors.Is(err, rbac.ErrNotFound):
			httputil.WriteNotFound(w, "Permission not found")
		case errors.Is(err, rbac.ErrDuplicate):
			httputil.WriteBadRequest(w, "Role already exists with this name")
		default:
			h.logger.WithError(err).Error("failed to create role")
			httputil.WriteInternalError(w, "Error creating role")
		}
		return
	}

	created, err := h.store.GetRoleByID(r.Context(), role.ID)
	if err != nil {
		created = role
	}
	httputil.WriteCreated(w, created)
}

type updateRoleRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Update handles PUT /api/roles/{id}. Renaming to the current name is a no-op;
// renaming onto another role's name is a conflict.
func (h *RoleHandlers) Update(w http.ResponseWriter, r *http.Request) {
	id := httputil.PathVar(r, "id")
	var req updateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.store.GetRoleByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			httputil.WriteNotFound(w, "Role not found")
			return
		}
		h.logger.WithError(err).Error("failed to fetch role")
		httputil.WriteInternalError(w, "Error updating role")
		return
	}

	if req.Name != nil && *req.Name != role.Name {
		taken, err := h.store.GetRoleByName(r.Context(), *req.Name)
		if err != nil && !errors.Is(err, rbac.ErrNotFound) {
			h.logger.WithError(err).Error("failed to check role name")
			httputil.WriteInternalError(w, "Error updating role")
			return
		}
		if taken != nil {
			httputil.WriteBadRequest(w, "Role name is already taken")
			return
		}
		role.Name = *req.Name
	}
	if req.Description != nil {
		role.Description = *req.Description
	}

	if err := h.store.UpdateRole(r.Context(), role); err != nil {
		switch {
		case errors.Is(err, rbac.ErrNotFound):
			httputil.WriteNotFound(w, "Role not found")
		case errors.Is(err, rbac.ErrDuplicate):
			httputil.WriteBadRequest(w, "Role name is already taken")
		default:
			h.logger.WithError(err).Error("failed to update role")
			httputil.WriteInternalError(w, "Error updating role")
		}
		return
	}

	updated, err := h.store.GetRoleByID(r.Context(), id)
	if err != nil {
		updated = role
	}
	httputil.WriteSuccess(w, updated)
}

// Delete handles DELETE /api/roles/{id}. A role still assigned to users cannot
// be deleted; the response carries how many users reference it.
func (h *RoleHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	id := httputil.PathVar(r, "id")
	if _, err := h.store.GetRoleByID(r.Context(), id); err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			httputil.WriteNotFound(w, "Role not found")
			return
		}
		h.logger.WithError(err).Error("failed to fetch role")
		httputil.WriteInternalError(w, "Error deleting role")
		return
	}

	count, err := h.store.CountUsersByRole(r.Context(), id)
	if err != nil {
		h.logger.WithError(err).Error("failed to count role users")
		httputil.WriteInternalError(w, "Error deleting role")
		return
	}
	if count > 0 {
		httputil.WriteConflictCount(w, "Cannot delete role that is assigned to users", count)
		return
	}

	if err := h.store.DeleteRole(r.Context(), id); err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			httputil.WriteNotFound(w, "Role not found")
			return
		}
		h.logger.WithError(err).Error("failed to delete role")
		httputil.WriteInternalError(w, "Error deleting role")
		return
	}
	httputil.WriteMessage(w, "Role deleted successfully")
}

type addPermissionsRequest struct {
	PermissionIDs []string `json:"permissionIds"`
}

// AddPermissions handles POST /api/roles/{id}/permissions. The whole batch is
// validated before any link is created.
func (h *RoleHandlers) AddPermissions(w http.ResponseWriter, r *http.Request) {
	id := httputil.PathVar(r, "id")
	var req addPermissionsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.PermissionIDs) == 0 {
		httputil.WriteBadRequest(w, "Permission IDs are required")
		return
	}

	if _, err := h.store.GetRoleByID(r.Context(), id); err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			httputil.WriteNotFound(w, "Role not found")
			return
		}
		h.logger.WithError(err).Error("failed to fetch role")
		httputil.WriteInternalError(w, "Error adding permissions to role")
		return
	}

	if err := h.store.AddRolePermissions(r.Context(), id, req.PermissionIDs); err != nil {
		switch {
		case errors.Is(err, rbac.ErrNotFound):
			httputil.WriteNotFound(w, "Permission not found")
		case errors.Is(err, rbac.ErrDuplicate):
			httputil.WriteBadRequest(w, "Permission is already assigned to this role")
		default:
			h.logger.WithError(err).Error("failed to add permissions to role")
			httputil.WriteInternalError(w, "Error adding permissions to role")
		}
		return
	}

	updated, err := h.store.GetRoleByID(r.Context(), id)
	if err != nil {
		h.logger.WithError(err).Error("failed to reload role")
		httputil.WriteInternalError(w, "Error adding permissions to role")
		return
	}
	httputil.WriteSuccess(w, updated)
}

// RemovePermission handles DELETE /api/roles/{roleId}/permissions/{permissionId}
func (h *RoleHandlers) RemovePermission(w http.ResponseWriter, r *http.Request) {
	roleID := httputil.PathVar(r, "roleId")
	permissionID := httputil.PathVar(r, "permissionId")

	if _, err := h.store.GetRoleByID(r.Context(), roleID); err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			httputil.WriteNotFound(w, "Role not found")
			return
		}
		h.logger.WithError(err).Error("failed to fetch role")
		httputil.WriteInternalError(w, "Error removing permission from role")
		return
	}

	link, err := h.store.GetRolePermissionLink(r.Context(), roleID, permissionID)
	if err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			httputil.WriteNotFound(w, "Permission not assigned to this role")
			return
		}
		h.logger.WithError(err).Error("failed to fetch role permission")
		httputil.WriteInternalError(w, "Error removing permission from role")
		return
	}

	if err := h.store.DeleteRolePermissionLink(r.Context(), link.ID); err != nil {
		h.logger.WithError(err).Error("failed to remove permission from role")
		httputil.WriteInternalError(w, "Error removing permission from role")
		return
	}
	httputil.WriteMessage(w, "Permission removed from role successfully")
}
