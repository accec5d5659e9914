// Package authn verifies request credentials (HTTP Basic or bearer token)
// and binds the resulting principal to the request.
package authn

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gatehouse-auth/gatehouse/internal/authz"
	"github.com/gatehouse-auth/gatehouse/internal/credential"
	"github.com/gatehouse-auth/gatehouse/internal/directory"
	"github.com/gatehouse-auth/gatehouse/internal/events"
	"github.com/gatehouse-auth/gatehouse/internal/observability"
	"github.com/gatehouse-auth/gatehouse/internal/shared"
	"github.com/gatehouse-auth/gatehouse/internal/token"
)

// Config selects where tokens travel and the default Basic-auth realm.
// RequireConfirmed blocks credential login for accounts that never
// confirmed their email address.
type Config struct {
	TokenHeader      string
	TokenParam       string
	DefaultRealm     string
	RequireConfirmed bool
}

// Engine resolves principals from request credentials. Every verification
// failure is uniform: the caller learns only "not authenticated".
type Engine struct {
	dir     directory.Directory
	codec   *credential.Codec
	tokens  *token.Codec
	bus     *events.Bus
	metrics *observability.Metrics
	logger  *slog.Logger
	cfg     Config
}

// NewEngine constructs an Engine. bus and metrics may be nil.
func NewEngine(dir directory.Directory, codec *credential.Codec, tokens *token.Codec, bus *events.Bus, metrics *observability.Metrics, logger *slog.Logger, cfg Config) *Engine {
	return &Engine{dir: dir, codec: codec, tokens: tokens, bus: bus, metrics: metrics, logger: logger, cfg: cfg}
}

// VerifyCredentials checks an email/password pair against the directory.
// Unknown user, inactive account and password mismatch all collapse into
// shared.ErrInvalidCredentials. An unconfirmed account with a correct
// password surfaces shared.ErrConfirmationRequired so the caller can point
// at the confirmation flow.
func (e *Engine) VerifyCredentials(ctx context.Context, email, password string) (*directory.User, error) {
	user, err := e.dir.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.Active {
		return nil, shared.ErrInvalidCredentials
	}
	if !e.codec.Verify(password, user.PasswordHash) {
		return nil, shared.ErrInvalidCredentials
	}
	if e.cfg.RequireConfirmed && !user.Confirmed() {
		return nil, shared.ErrConfirmationRequired
	}
	return user, nil
}

// VerifyToken parses a bearer token, re-fetches the referenced user and
// compares the stored email fingerprint against a fresh one, so tokens go
// stale when the email changes. Any failure along the way is treated as
// verification failure.
func (e *Engine) VerifyToken(ctx context.Context, tok string) (*directory.User, error) {
	userID, fingerprint, err := e.tokens.ParseAuthToken(tok)
	if err != nil {
		return nil, shared.ErrInvalidToken
	}
	user, err := e.dir.FindUserByID(ctx, userID)
	if err != nil {
		return nil, shared.ErrInvalidToken
	}
	if token.Fingerprint(user.Email) != fingerprint {
		return nil, shared.ErrInvalidToken
	}
	return user, nil
}

// TokenFromRequest extracts the bearer token from the configured header or,
// failing that, the configured query parameter. The header wins when both
// are supplied.
func (e *Engine) TokenFromRequest(r *http.Request) string {
	if tok := r.Header.Get(e.cfg.TokenHeader); tok != "" {
		return tok
	}
	return r.URL.Query().Get(e.cfg.TokenParam)
}

func (e *Engine) principalFor(user *directory.User) authz.Principal {
	return authz.NewPrincipal(user.ID, user.RoleNames())
}

func (e *Engine) observe(mode string, ok bool) {
	if e.metrics != nil {
		e.metrics.ObserveAuth(mode, ok)
	}
}

func (e *Engine) publishIdentityChanged(ctx context.Context, user *directory.User, authType string) {
	if e.bus != nil {
		e.bus.Publish(ctx, events.Event{
			Kind:     events.IdentityChanged,
			UserID:   user.ID,
			Email:    user.Email,
			AuthType: authType,
		})
	}
}
