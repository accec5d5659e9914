package authn

import (
	"fmt"
	"log/slog"
	"net/http"
)

// RealmFunc computes the Basic-auth realm for a request, for routes whose
// protection space depends on policy context.
type RealmFunc func(r *http.Request) string

// RequireBasicAuth protects a route with HTTP Basic authentication. An
// empty realm falls back to the configured default.
func (e *Engine) RequireBasicAuth(realm string) func(http.Handler) http.Handler {
	return e.RequireBasicAuthRealm(func(*http.Request) string { return realm })
}

// RequireBasicAuthRealm is RequireBasicAuth with a per-request realm.
func (e *Engine) RequireBasicAuthRealm(realm RealmFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			email, password, ok := r.BasicAuth()
			if ok {
				user, err := e.VerifyCredentials(r.Context(), email, password)
				if err == nil {
					e.observe("basic", true)
					e.publishIdentityChanged(r.Context(), user, "basic")
					ctx := ContextWithPrincipalUser(r.Context(), e.principalFor(user), user)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			e.observe("basic", false)
			name := ""
			if realm != nil {
				name = realm(r)
			}
			if name == "" {
				name = e.cfg.DefaultRealm
			}
			if e.logger != nil {
				e.logger.Info("basic auth challenge", slog.String("path", r.URL.Path))
			}
			w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", name))
			http.Error(w, unauthorizedBody, http.StatusUnauthorized)
		})
	}
}

// RequireToken protects a route with bearer-token authentication. Failures
// produce a bare 401 without a challenge header.
func (e *Engine) RequireToken() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tok := e.TokenFromRequest(r); tok != "" {
				user, err := e.VerifyToken(r.Context(), tok)
				if err == nil {
					e.observe("token", true)
					ctx := ContextWithPrincipalUser(r.Context(), e.principalFor(user), user)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}
			e.observe("token", false)
			w.WriteHeader(http.StatusUnauthorized)
		})
	}
}

const unauthorizedBody = "The server could not verify that you are authorized " +
	"to access the URL requested."
