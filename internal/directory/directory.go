package directory

import (
	"context"
	"strings"
)

// Directory is the persistence surface the security core requires. Lookup
// misses return shared.ErrNotFound; saves are fire-and-forget with commit
// timing controlled by the implementation.
type Directory interface {
	FindUserByID(ctx context.Context, id int64) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindRoleByName(ctx context.Context, name string) (Role, error)
	SaveUser(ctx context.Context, user *User) error
	SaveRole(ctx context.Context, role *Role) error
}

// RoleRef identifies a role either by name or by instance. Public
// operations resolve a RoleRef to a canonical Role through the directory
// before any set operation, so loosely specified roles behave identically.
type RoleRef struct {
	name     string
	instance *Role
}

// RoleByName references a role by its name.
func RoleByName(name string) RoleRef {
	return RoleRef{name: name}
}

// RoleInstance references a role by a fetched instance.
func RoleInstance(role Role) RoleRef {
	return RoleRef{instance: &role}
}

// Resolve canonicalizes the reference against the directory. Resolution of
// an instance still goes through the directory so stale copies cannot leak
// into role sets.
func (ref RoleRef) Resolve(ctx context.Context, dir Directory) (Role, error) {
	name := ref.name
	if ref.instance != nil {
		name = ref.instance.Name
	}
	return dir.FindRoleByName(ctx, strings.TrimSpace(name))
}
