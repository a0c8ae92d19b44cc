package middleware

import (
	"net/http"

	"github.com/gatehouse-io/gatehouse/pkg/auth"
	"github.com/gatehouse-io/gatehouse/pkg/httputil"
	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/rbac"
)

// Authorizer enforces permission requirements on routes. It runs after the
// Authenticator and reads the identity it attached.
type Authorizer struct {
	checker *rbac.Checker
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewAuthorizer creates an Authorizer.
func NewAuthorizer(logger *observability.Logger, metrics *observability.Metrics) *Authorizer {
	return &Authorizer{checker: rbac.NewChecker(), logger: logger, metrics: metrics}
}

// RequirePermission returns middleware that denies the request unless the
// authenticated user holds a permission matching req exactly.
func (a *Authorizer) RequirePermission(req rbac.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident := auth.IdentityFromContext(r.Context())
			if ident == nil || ident.User == nil {
				httputil.WriteUnauthorized(w, "Authentication required")
				return
			}

			decision := a.checker.Check(ident.User, req)
			if !decision.Allowed {
				a.logger.WithFields(map[string]any{
					"user_id":     ident.User.ID,
					"requirement": req.String(),
					"reason":      decision.Reason,
				}).Debug("authorization denied")
				if a.metrics != nil {
					a.metrics.AuthzDenialsTotal.WithLabelValues(req.String()).Inc()
				}
				httputil.WriteForbidden(w, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
