package authz

// policyMode selects how a role list is evaluated.
type policyMode int

const (
	modeAll policyMode = iota
	modeAny
)

// Policy is a declarative role requirement attached to a route: either all
// of the listed roles or at least one of them.
type Policy struct {
	mode  policyMode
	roles []string
}

// RequireAll builds a policy satisfied only by principals holding every
// listed role.
func RequireAll(roles ...string) Policy {
	return Policy{mode: modeAll, roles: roles}
}

// AcceptAny builds a policy satisfied by principals holding at least one
// listed role.
func AcceptAny(roles ...string) Policy {
	return Policy{mode: modeAny, roles: roles}
}

// Allows evaluates the policy against a principal's role set.
func (p Policy) Allows(principal Principal) bool {
	switch p.mode {
	case modeAll:
		for _, role := range p.roles {
			if !principal.HasRole(role) {
				return false
			}
		}
		return true
	default:
		for _, role := range p.roles {
			if principal.HasRole(role) {
				return true
			}
		}
		return len(p.roles) == 0
	}
}

// Roles returns the role names the policy evaluates.
func (p Policy) Roles() []string {
	return p.roles
}
