package auth

import (
	"context"

	"github.com/gatehouse-io/gatehouse/pkg/contextkeys"
	"github.com/gatehouse-io/gatehouse/pkg/rbac"
)

// Identity is the authenticated caller attached to a request context: the
// resolved user carrying its role and the role's full permission set.
type Identity struct {
	User *rbac.User
}

// HasPermission reports whether the identity's role grants the requirement.
func (i *Identity) HasPermission(req rbac.Requirement) bool {
	if i == nil || i.User == nil || i.User.Role == nil {
		return false
	}
	for _, p := range i.User.Role.Permissions {
		if p.Action == req.Action && p.Resource == req.Resource {
			return true
		}
	}
	return false
}

// WithIdentity attaches the identity to the context
func WithIdentity(ctx context.Context, ident *Identity) context.Context {
	return context.WithValue(ctx, contextkeys.IdentityKey, ident)
}

// IdentityFromContext returns the identity set by the authentication
// middleware, or nil when the request was not authenticated.
func IdentityFromContext(ctx context.Context) *Identity {
	ident, ok := ctx.Value(contextkeys.IdentityKey).(*Identity)
	if !ok {
		return nil
	}
	return ident
}
