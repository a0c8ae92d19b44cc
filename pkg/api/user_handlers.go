package api

import (
	"errors"
	"net/http"

	"github.com/gatehouse-io/gatehouse/pkg/auth"
	"github.com/gatehouse-io/gatehouse/pkg/httputil"
	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/rbac"
)

// UserHandlers serves user administration and password changes.
type UserHandlers struct {
	store  Store
	hasher *auth.Hasher
	logger *observability.Logger
}

// NewUserHandlers creates handlers backed by the store.
func NewUserHandlers(store Store, hasher *auth.Hasher, logger *observability.Logger) *UserHandlers {
	return &UserHandlers{store: store, hasher: hasher, logger: logger}
}

// List handles GET /api/users
func (h *UserHandlers) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("failed to list users")
		httputil.WriteInternalError(w, "Error fetching users")
		return
	}
	if users == nil {
		users = []rbac.User{}
	}
	httputil.WriteSuccess(w, users)
}

// Get handles GET /api/users/{id}; the role and its permissions are included.
func (h *UserHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id := httputil.PathVar(r, "id")
	user, err := h.store.GetUserByID(r.Context(), id, true)
	if err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			httputil.WriteNotFound(w, "User not found")
			return
		}
		h.logger.WithError(err).Error("failed to fetch user")
		httputil.WriteInternalError(w, "Error fetching user")
		return
	}
	httputil.WriteSuccess(w, user)
}

type createUserRequest struct {
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	RoleID    *string `json:"roleId,omitempty"`
	Active    *bool   `json:"active,omitempty"`
}

// Create handles POST /api/users
func (h *UserHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "Email and password are required")
		return
	}

	existing, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil && !errors.Is(err, rbac.ErrNotFound) {
		h.logger.WithError(err).Error("failed to check existing user")
		httputil.WriteInternalError(w, "Error creating user")
		return
	}
	if existing != nil {
		httputil.WriteBadRequest(w, "User already exists with this email")
		return
	}

	hash, err := h.hasher.Hash(req.Password)
	if err != nil {
		h.logger.WithError(err).Error("failed to hash password")
		httputil.WriteInternalError(w, "Error creating user")
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	user := &rbac.User{
		Email:        req.Email,
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Active:       active,
		RoleID:       req.RoleID,
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, rbac.ErrDuplicate) {
			httputil.WriteBadRequest(w, "User already exists with this email")
			return
		}
		h.logger.WithError(err).Error("failed to create user")
		httputil.WriteInternalError(w, "Error creating user")
		return
	}

	created, err := h.store.GetUserByID(r.Context(), user.ID, true)
	if err != nil {
		created = user
	}
	httputil.WriteCreated(w, created)
}

type updateUserRequest struct {
	Email     *string `json:"email,omitempty"`
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
	RoleID    *string `json:"roleId,omitempty"`
	Active    *bool   `json:"active,omitempty"`
}

// Update handles PUT /api/users/{id}. Absent fields keep their current value.
func (h *UserHandlers) Update(w http.ResponseWriter, r *http.Request) {
	id := httputil.PathVar(r, "id")
	var req updateUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.store.GetUserByID(r.Context(), id, false)
	if err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			httputil.WriteNotFound(w, "User not found")
			return
		}
		h.logger.WithError(err).Error("failed to fetch user")
		httputil.WriteInternalError(w, "Error updating user")
		return
	}

	if req.Email != nil && *req.Email != user.Email {
		taken, err := h.store.GetUserByEmail(r.Context(), *req.Email)
		if err != nil && !errors.Is(err, rbac.ErrNotFound) {
			h.logger.WithError(err).Error("failed to check email")
			httputil.WriteInternalError(w, "Error updating user")
			return
		}
		if taken != nil {
			httputil.WriteBadRequest(w, "Email is already taken")
			return
		}
		user.Email = *req.Email
	}
	if req.FirstName != nil {
		user.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		user.LastName = *req.LastName
	}
	if req.RoleID != nil {
		user.RoleID = req.RoleID
	}
	if req.Active != nil {
		user.Active = *req.Active
	}

	if err := h.store.UpdateUser(r.Context(), user); err != nil {
		switch {
		case errors.Is(err, rbac.ErrNotFound):
			httputil.WriteNotFound(w, "User not found")
		case errors.Is(err, rbac.ErrDuplicate):
			httputil.WriteBadRequest(w, "Email is already taken")
		default:
			h.logger.WithError(err).Error("failed to update user")
			httputil.WriteInternalError(w, "Error updating user")
		}
		return
	}

	updated, err := h.store.GetUserByID(r.Context(), id, true)
	if err != nil {
		updated = user
	}
	httputil.WriteSuccess(w, updated)
}

// Delete handles DELETE /api/users/{id}
func (h *UserHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	id := httputil.PathVar(r, "id")
	if err := h.store.DeleteUser(r.Context(), id); err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			httputil.WriteNotFound(w, "User not found")
			return
		}
		h.logger.WithError(err).Error("failed to delete user")
		httputil.WriteInternalError(w, "Error deleting user")
		return
	}
	httputil.WriteMessage(w, "User deleted successfully")
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ChangePassword handles POST /api/users/{id}/change-password. The current
// password must verify against the stored hash before the new one is set.
func (h *UserHandlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	id := httputil.PathVar(r, "id")
	var req changePasswordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.store.GetUserByID(r.Context(), id, false)
	if err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			httputil.WriteNotFound(w, "User not found")
			return
		}
		h.logger.WithError(err).Error("failed to fetch user")
		httputil.WriteInternalError(w, "Error changing password")
		return
	}

	if err := h.hasher.Compare(user.PasswordHash, req.CurrentPassword); err != nil {
		httputil.WriteUnauthorized(w, "Current password is incorrect")
		return
	}

	hash, err := h.hasher.Hash(req.NewPassword)
	if err != nil {
		h.logger.WithError(err).Error("failed to hash password")
		httputil.WriteInternalError(w, "Error changing password")
		return
	}
	if err := h.store.UpdateUserPassword(r.Context(), id, hash); err != nil {
		h.logger.WithError(err).Error("failed to update password")
		httputil.WriteInternalError(w, "Error changing password")
		return
	}

	httputil.WriteMessage(w, "Password updated successfully")
}
