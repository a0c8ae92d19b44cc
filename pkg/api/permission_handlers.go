package api

import (
	"errors"
	"net/http"

	"github.com/gatehouse-io/gatehouse/pkg/httputil"
	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/rbac"
)

// PermissionHandlers serves permission administration.
type PermissionHandlers struct {
	store  Store
	logger *observability.Logger
}

// NewPermissionHandlers creates handlers backed by the store.
func NewPermissionHandlers(store Store, logger *observability.Logger) *PermissionHandlers {
	return &PermissionHandlers{store: store, logger: logger}
}

// List handles GET /api/permissions
func (h *PermissionHandlers) List(w http.ResponseWriter, r *http.Request) {
	permissions, err := h.store.ListPermissions(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("failed to list permissions")
		httputil.WriteInternalError(w, "Error fetching permissions")
		return
	}
	if permissions == nil {
		permissions = []rbac.Permission{}
	}
	httputil.WriteSuccess(w, permissions)
}

// ListByResource handles GET /api/permissions/resource/{resource}
func (h *PermissionHandlers) ListByResource(w http.ResponseWriter, r *http.Request) {
	resource := httputil.PathVar(r, "resource")
	permissions, err := h.store.ListPermissionsByResource(r.Context(), resource)
	if err != nil {
		h.logger.WithError(err).Error("failed to list permissions by resource")
		httputil.WriteInternalError(w, "Error fetching permissions by resource")
		return
	}
	if permissions == nil {
		permissions = []rbac.Permission{}
	}
	httputil.WriteSuccess(w, permissions)
}

// Get handles GET /api/permissions/{id}
func (h *PermissionHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id := httputil.PathVar(r, "id")
	permission, err := h.store.GetPermissionByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			httputil.WriteNotFound(w, "Permission not found")
			return
		}
		h.logger.WithError(err).Error("failed to fetch permission")
		httputil.WriteInternalError(w, "Error fetching permission")
		return
	}
	httputil.WriteSuccess(w, permission)
}

type createPermissionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
}

// Create handles POST /api/permissions
func (h *PermissionHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "Name is required")
		return
	}
	if !rbac.Action(req.Action).Valid() {
		httputil.WriteBadRequest(w, "Invalid action. Must be one of: create, read, update, delete")
		return
	}

	existing, err := h.store.GetPermissionByName(r.Context(), req.Name)
	if err != nil && !errors.Is(err, rbac.ErrNotFound) {
		h.logger.WithError(err).Error("failed to check existing permission")
		httputil.WriteInternalError(w, "Error creating permission")
		return
	}
	if existing != nil {
		httputil.WriteBadRequest(w, "Permission already exists with this name")
		return
	}

	permission := &rbac.Permission{
		Name:        req.Name,
		Description: req.Description,
		Resource:    req.Resource,
		Action:      rbac.Action(req.Action),
	}
	if err := h.store.CreatePermission(r.Context(), permission); err != nil {
		if errors.Is(err, rbac.ErrDuplicate) {
			httputil.WriteBadRequest(w, "Permission already exists with this name")
			return
		}
		h.logger.WithError(err).Error("failed to create permission")
		httputil.WriteInternalError(w, "Error creating permission")
		return
	}
	httputil.WriteCreated(w, permission)
}

type updatePermissionRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Resource    *string `json:"resource,omitempty"`
	Action      *string `json:"action,omitempty"`
}

// Update handles PUT /api/permissions/{id}
func (h *PermissionHandlers) Update(w http.ResponseWriter, r *http.Request) {
	id := httputil.PathVar(r, "id")
	var req updatePermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Action != nil && !rbac.Action(*req.Action).Valid() {
		httputil.WriteBadRequest(w, "Invalid action. Must be one of: create, read, update, delete")
		return
	}

	permission, err := h.store.GetPermissionByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			httputil.WriteNotFound(w, "Permission not found")
			return
		}
		h.logger.WithError(err).Error("failed to fetch permission")
		httputil.WriteInternalError(w, "Error updating permission")
		return
	}

	if req.Name != nil && *req.Name != permission.Name {
		taken, err := h.store.GetPermissionByName(r.Context(), *req.Name)
		if err != nil && !errors.Is(err, rbac.ErrNotFound) {
			h.logger.WithError(err).Error("failed to check permission name")
			httputil.WriteInternalError(w, "Error updating permission")
			return
		}
		if taken != nil {
			httputil.WriteBadRequest(w, "Permission name is already taken")
			return
		}
		permission.Name = *req.Name
	}
	if req.Description != nil {
		permission.Description = *req.Description
	}
	if req.Resource != nil {
		permission.Resource = *req.Resource
	}
	if req.Action != nil {
		permission.Action = rbac.Action(*req.Action)
	}

	if err := h.store.UpdatePermission(r.Context(), permission); err != nil {
		switch {
		case errors.Is(err, rbac.ErrNotFound):
			httputil.WriteNotFound(w, "Permission not found")
		case errors.Is(err, rbac.ErrDuplicate):
			httputil.WriteBadRequest(w, "Permission name is already taken")
		default:
			h.logger.WithError(err).Error("failed to update permission")
			httputil.WriteInternalError(w, "Error updating permission")
		}
		return
	}
	httputil.WriteSuccess(w, permission)
}

// Delete handles DELETE /api/permissions/{id}. A permission still linked to
// roles cannot be deleted; the response carries the link count.
func (h *PermissionHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	id := httputil.PathVar(r, "id")
	if _, err := h.store.GetPermissionByID(r.Context(), id); err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			httputil.WriteNotFound(w, "Permission not found")
			return
		}
		h.logger.WithError(err).Error("failed to fetch permission")
		httputil.WriteInternalError(w, "Error deleting permission")
		return
	}

	count, err := h.store.CountRolePermissionsByPermission(r.Context(), id)
	if err != nil {
		h.logger.WithError(err).Error("failed to count permission links")
		httputil.WriteInternalError(w, "Error deleting permission")
		return
	}
	if count > 0 {
		httputil.WriteConflictCount(w, "Cannot delete permission that is assigned to roles", count)
		return
	}

	if err := h.store.DeletePermission(r.Context(), id); err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			httputil.WriteNotFound(w, "Permission not found")
			return
		}
		h.logger.WithError(err).Error("failed to delete permission")
		httputil.WriteInternalError(w, "Error deleting permission")
		return
	}
	httputil.WriteMessage(w, "Permission deleted successfully")
}
