// Package directory models users and roles and abstracts their persistence.
package directory

import "time"

// Role is a named capability tag. Two roles with the same name are
// interchangeable regardless of other attributes.
type Role struct {
	ID          int64
	Name        string
	Description string
}

// Equal compares roles by name only.
func (r Role) Equal(other Role) bool {
	return r.Name == other.Name
}

// User is a mutable account record. Engines operate on a snapshot fetched
// per request; concurrent updates to the tracking fields are last-write-wins.
type User struct {
	ID            int64
	Email         string
	PasswordHash  string
	Active        bool
	ConfirmedAt   *time.Time
	AuthToken     string
	RememberToken string

	LastLoginAt    *time.Time
	CurrentLoginAt *time.Time
	LastLoginIP    string
	CurrentLoginIP string
	LoginCount     *int64

	Roles []Role

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Confirmed reports whether the account has confirmed its email address.
func (u *User) Confirmed() bool {
	return u.ConfirmedAt != nil
}

// HasRole reports whether the user holds a role with the given name.
func (u *User) HasRole(name string) bool {
	for _, r := range u.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// AddRole adds a role to the user's set. Adding a role the user already
// holds is a no-op.
func (u *User) AddRole(role Role) {
	if u.HasRole(role.Name) {
		return
	}
	u.Roles = append(u.Roles, role)
}

// RemoveRole removes a role from the user's set. Removing a role the user
// does not hold is a no-op.
func (u *User) RemoveRole(role Role) {
	for i, r := range u.Roles {
		if r.Name == role.Name {
			u.Roles = append(u.Roles[:i], u.Roles[i+1:]...)
			return
		}
	}
}

// RoleNames returns the user's role names in set order.
func (u *User) RoleNames() []string {
	names := make([]string, len(u.Roles))
	for i, r := range u.Roles {
		names[i] = r.Name
	}
	return names
}
