package directory

import (
	"context"
	"fmt"
	"strings"

	"github.com/gatehouse-auth/gatehouse/internal/credential"
)

// Manager implements the administrative mutations on users and roles.
// Lookup misses surface to the caller as shared.ErrNotFound so an operator
// (for example the admin CLI) knows the target did not exist.
type Manager struct {
	dir          Directory
	codec        *credential.Codec
	defaultRoles []string
}

// NewManager constructs a Manager. defaultRoles are attached to every
// created user in addition to the requested ones.
func NewManager(dir Directory, codec *credential.Codec, defaultRoles []string) *Manager {
	return &Manager{dir: dir, codec: codec, defaultRoles: defaultRoles}
}

// CreateUser hashes the password and persists a new user with the resolved
// roles. Unknown role names fail the whole operation.
func (m *Manager) CreateUser(ctx context.Context, email, password string, active bool, roles []RoleRef) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil, fmt.Errorf("directory: email required")
	}

	hash, err := m.codec.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("directory: hash password: %w", err)
	}

	user := &User{Email: email, PasswordHash: hash, Active: active}
	for _, name := range m.defaultRoles {
		roles = append(roles, RoleByName(name))
	}
	for _, ref := range roles {
		role, err := ref.Resolve(ctx, m.dir)
		if err != nil {
			return nil, fmt.Errorf("directory: resolve role: %w", err)
		}
		user.AddRole(role)
	}

	if err := m.dir.SaveUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// CreateRole persists a new role.
func (m *Manager) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("directory: role name required")
	}
	role := Role{Name: name, Description: strings.TrimSpace(description)}
	if err := m.dir.SaveRole(ctx, &role); err != nil {
		return Role{}, err
	}
	return role, nil
}

// AddRoleToUser adds a role to a user's set. The user is re-fetched so the
// mutation applies to a current snapshot.
func (m *Manager) AddRoleToUser(ctx context.Context, email string, ref RoleRef) (*User, error) {
	user, role, err := m.prepareRoleModify(ctx, email, ref)
	if err != nil {
		return nil, err
	}
	user.AddRole(role)
	if err := m.dir.SaveUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// RemoveRoleFromUser removes a role from a user's set. Removing a role the
// user does not hold saves unchanged state and is not an error.
func (m *Manager) RemoveRoleFromUser(ctx context.Context, email string, ref RoleRef) (*User, error) {
	user, role, err := m.prepareRoleModify(ctx, email, ref)
	if err != nil {
		return nil, err
	}
	user.RemoveRole(role)
	if err := m.dir.SaveUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// ActivateUser marks the user active.
func (m *Manager) ActivateUser(ctx context.Context, email string) (*User, error) {
	return m.toggleActive(ctx, email, true)
}

// DeactivateUser marks the user inactive.
func (m *Manager) DeactivateUser(ctx context.Context, email string) (*User, error) {
	return m.toggleActive(ctx, email, false)
}

func (m *Manager) toggleActive(ctx context.Context, email string, active bool) (*User, error) {
	user, err := m.dir.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user.Active != active {
		user.Active = active
		if err := m.dir.SaveUser(ctx, user); err != nil {
			return nil, err
		}
	}
	return user, nil
}

func (m *Manager) prepareRoleModify(ctx context.Context, email string, ref RoleRef) (*User, Role, error) {
	user, err := m.dir.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, Role{}, err
	}
	role, err := ref.Resolve(ctx, m.dir)
	if err != nil {
		return nil, Role{}, err
	}
	return user, role, nil
}
