package authn

import (
	"context"

	"github.com/gatehouse-auth/gatehouse/internal/authz"
	"github.com/gatehouse-auth/gatehouse/internal/directory"
)

type userContextKey struct{}

// ContextWithPrincipalUser binds both the policy-facing principal and the
// full user snapshot to the request context.
func ContextWithPrincipalUser(ctx context.Context, p authz.Principal, user *directory.User) context.Context {
	ctx = authz.ContextWithPrincipal(ctx, p)
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext returns the authenticated user snapshot, or nil.
func UserFromContext(ctx context.Context) *directory.User {
	user, _ := ctx.Value(userContextKey{}).(*directory.User)
	return user
}
