// Package authz evaluates declarative role policies against the principal
// resolved for a request.
package authz

import "context"

// Principal is the immutable identity snapshot bound to a request: a user
// id plus the set of role names held. An anonymous principal carries no
// roles and is distinguishable from an authenticated but role-less user.
type Principal struct {
	UserID        int64
	roles         map[string]struct{}
	authenticated bool
}

// NewPrincipal builds an authenticated principal with the given roles.
func NewPrincipal(userID int64, roles []string) Principal {
	set := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return Principal{UserID: userID, roles: set, authenticated: true}
}

// Anonymous returns the unauthenticated principal.
func Anonymous() Principal {
	return Principal{}
}

// Authenticated reports whether the principal represents a verified identity.
func (p Principal) Authenticated() bool {
	return p.authenticated
}

// HasRole reports membership of a role name. Always false for the
// anonymous principal.
func (p Principal) HasRole(name string) bool {
	_, ok := p.roles[name]
	return ok
}

// Roles returns the held role names.
func (p Principal) Roles() []string {
	names := make([]string, 0, len(p.roles))
	for name := range p.roles {
		names = append(names, name)
	}
	return names
}

type principalContextKey struct{}

// ContextWithPrincipal binds the principal to the request context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the bound principal, or Anonymous when the
// request never passed authentication.
func PrincipalFromContext(ctx context.Context) Principal {
	if p, ok := ctx.Value(principalContextKey{}).(Principal); ok {
		return p
	}
	return Anonymous()
}
