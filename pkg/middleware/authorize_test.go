package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gatehouse-io/gatehouse/pkg/auth"
	"github.com/gatehouse-io/gatehouse/pkg/rbac"
)

func runAuthz(ident *auth.Identity, req rbac.Requirement) *httptest.ResponseRecorder {
	authz := NewAuthorizer(testLogger(), nil)
	handler := authz.RequirePermission(req)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	if ident != nil {
		r = r.WithContext(auth.WithIdentity(r.Context(), ident))
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	return w
}

func viewerIdentity() *auth.Identity {
	return &auth.Identity{User: &rbac.User{
		ID: "u1",
		Role: &rbac.Role{
			Name: "Viewer",
			Permissions: []rbac.Permission{
				{Name: "user:read", Resource: rbac.ResourceUsers, Action: rbac.ActionRead},
			},
		},
	}}
}

func TestRequirePermissionAllows(t *testing.T) {
	w := runAuthz(viewerIdentity(), rbac.Requirement{Action: rbac.ActionRead, Resource: rbac.ResourceUsers})

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequirePermissionDeniesMissingPermission(t *testing.T) {
	w := runAuthz(viewerIdentity(), rbac.Requirement{Action: rbac.ActionDelete, Resource: rbac.ResourceUsers})

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "Insufficient permissions")
}

func TestRequirePermissionDeniesRolelessUser(t *testing.T) {
	ident := &auth.Identity{User: &rbac.User{ID: "u2"}}

	w := runAuthz(ident, rbac.Requirement{Action: rbac.ActionRead, Resource: rbac.ResourceUsers})

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequirePermissionUnauthenticated(t *testing.T) {
	w := runAuthz(nil, rbac.Requirement{Action: rbac.ActionRead, Resource: rbac.ResourceUsers})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Authentication required")
}
