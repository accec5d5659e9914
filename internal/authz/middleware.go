package authz

import (
	"log/slog"
	"net/http"

	"github.com/gatehouse-auth/gatehouse/internal/shared"
)

// Authorizer wires role policies into HTTP middleware. A policy failure is
// not an authentication failure: the response is a redirect with a flashed
// message, never a 401 challenge.
type Authorizer struct {
	Logger              *slog.Logger
	LoginView           string
	UnauthorizedView    string
	UnauthorizedMessage string
	FlashEnabled        bool
}

// AuthenticationRequired guards a route against anonymous principals. The
// anonymous case redirects to the login view rather than denying outright.
func (a Authorizer) AuthenticationRequired() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := PrincipalFromContext(r.Context())
			if principal.Authenticated() {
				next.ServeHTTP(w, r)
				return
			}
			if a.FlashEnabled {
				if sess := shared.SessionFromContext(r.Context()); sess != nil {
					sess.AddFlash(shared.FlashMessage{Kind: "info", Message: "Please log in to access this page."})
				}
			}
			target := a.LoginView
			if target == "" {
				target = "/login"
			}
			http.Redirect(w, r, target, http.StatusFound)
		})
	}
}

// RolesRequired guards a route with a policy requiring every listed role.
func (a Authorizer) RolesRequired(roles ...string) func(http.Handler) http.Handler {
	return a.guard(RequireAll(roles...))
}

// RolesAccepted guards a route with a policy requiring at least one listed
// role.
func (a Authorizer) RolesAccepted(roles ...string) func(http.Handler) http.Handler {
	return a.guard(AcceptAny(roles...))
}

func (a Authorizer) guard(policy Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := PrincipalFromContext(r.Context())
			if policy.Allows(principal) {
				next.ServeHTTP(w, r)
				return
			}
			if a.Logger != nil {
				a.Logger.Info("role policy denied",
					slog.Any("required", policy.Roles()),
					slog.Any("provided", principal.Roles()),
					slog.Int64("user_id", principal.UserID),
					slog.String("path", r.URL.Path))
			}
			a.redirectUnauthorized(w, r)
		})
	}
}

func (a Authorizer) redirectUnauthorized(w http.ResponseWriter, r *http.Request) {
	if a.FlashEnabled {
		if sess := shared.SessionFromContext(r.Context()); sess != nil {
			msg := a.UnauthorizedMessage
			if msg == "" {
				msg = "You do not have permission to view this resource."
			}
			sess.AddFlash(shared.FlashMessage{Kind: "error", Message: msg})
		}
	}

	target := a.UnauthorizedView
	if target == "" {
		target = r.Referer()
	}
	if target == "" {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusFound)
}
