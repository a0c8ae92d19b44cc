package api

import (
	"errors"
	"net/http"

	"github.com/gatehouse-io/gatehouse/pkg/auth"
	"github.com/gatehouse-io/gatehouse/pkg/httputil"
	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/rbac"
)

// AuthHandlers serves registration, login, and logout.
type AuthHandlers struct {
	auth    *auth.Service
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewAuthHandlers creates handlers backed by the credential service.
func NewAuthHandlers(service *auth.Service, logger *observability.Logger, metrics *observability.Metrics) *AuthHandlers {
	return &AuthHandlers{auth: service, logger: logger, metrics: metrics}
}

type registerRequest struct {
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	RoleID    *string `json:"roleId,omitempty"`
}

type registerResponse struct {
	Message string     `json:"message"`
	User    *rbac.User `json:"user"`
}

// Register handles POST /api/auth/register
func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "Email and password are required")
		return
	}

	user, err := h.auth.Register(r.Context(), auth.RegisterParams{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		RoleID:    req.RoleID,
	})
	if err != nil {
		if errors.Is(err, auth.ErrEmailTaken) {
			httputil.WriteBadRequest(w, "User already exists with this email")
			return
		}
		h.logger.WithError(err).Error("registration failed")
		httputil.WriteInternalError(w, "Error registering user")
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, registerResponse{
		Message: "User registered successfully",
		User:    user,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Message string     `json:"message"`
	Token   string     `json:"token"`
	User    *rbac.User `json:"user"`
}

// Login handles POST /api/auth/login
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.countLogin("failure")
			httputil.WriteUnauthorized(w, "Invalid credentials")
			return
		}
		h.logger.WithError(err).Error("login failed")
		httputil.WriteInternalError(w, "Error logging in")
		return
	}

	h.countLogin("success")
	httputil.WriteSuccess(w, loginResponse{
		Message: "Login successful",
		Token:   result.Token,
		User:    result.User,
	})
}

// Logout handles POST /api/auth/logout. The token to revoke comes from the
// Authorization header; revocation is idempotent.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	token := httputil.BearerToken(r)
	if token == "" {
		httputil.WriteBadRequest(w, "Token is required")
		return
	}

	if err := h.auth.Logout(r.Context(), token); err != nil {
		h.logger.WithError(err).Error("logout failed")
		httputil.WriteInternalError(w, "Error logging out")
		return
	}

	httputil.WriteMessage(w, "Logout successful")
}

func (h *AuthHandlers) countLogin(outcome string) {
	if h.metrics != nil {
		h.metrics.LoginsTotal.WithLabelValues(outcome).Inc()
	}
}
