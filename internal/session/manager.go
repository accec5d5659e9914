// Package session orchestrates login and logout side effects on top of the
// shared session primitive: token issuance, login tracking and identity
// events.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gatehouse-auth/gatehouse/internal/directory"
	"github.com/gatehouse-auth/gatehouse/internal/events"
	"github.com/gatehouse-auth/gatehouse/internal/shared"
	"github.com/gatehouse-auth/gatehouse/internal/token"
)

// ErrLoginRejected indicates the session primitive refused to bind the
// identity, e.g. for a disabled account.
var ErrLoginRejected = errors.New("session: login rejected")

// AuthTypePassword marks sessions established by credential verification.
const AuthTypePassword = "password"

// AuthTypeRemember marks sessions re-established from a remember-me cookie.
const AuthTypeRemember = "remember"

// RememberCookieName is the cookie carrying the remember-me token.
const RememberCookieName = "remember_token"

// Manager drives the login/logout lifecycle.
type Manager struct {
	dir       directory.Directory
	tokens    *token.Codec
	store     *shared.SessionStore
	bus       *events.Bus
	trackable bool
	logger    *slog.Logger
}

// NewManager constructs a Manager. When trackable is set, logins record
// timestamps, IP addresses and a counter on the user record.
func NewManager(dir directory.Directory, tokens *token.Codec, store *shared.SessionStore, bus *events.Bus, trackable bool, logger *slog.Logger) *Manager {
	return &Manager{dir: dir, tokens: tokens, store: store, bus: bus, trackable: trackable, logger: logger}
}

// Login binds the user identity to the session and applies the login side
// effects: issue the authentication token if absent, refresh the
// remember-me token when requested, update tracking state, persist the user
// and broadcast identity-changed.
func (m *Manager) Login(ctx context.Context, sess *shared.Session, user *directory.User, remember bool, remoteIP string) error {
	if sess == nil || user == nil || !user.Active {
		return ErrLoginRejected
	}
	sess.SetIdentity(strconv.FormatInt(user.ID, 10), AuthTypePassword)

	if user.AuthToken == "" {
		tok, err := m.tokens.IssueAuthToken(user.ID, user.Email)
		if err != nil {
			return err
		}
		user.AuthToken = tok
	}

	if remember {
		tok, err := m.tokens.IssueRememberToken(user.ID, user.PasswordHash)
		if err != nil {
			return err
		}
		user.RememberToken = tok
	}

	if m.trackable {
		m.track(user, remoteIP)
	}

	if err := m.dir.SaveUser(ctx, user); err != nil {
		return err
	}

	if m.bus != nil {
		m.bus.Publish(ctx, events.Event{
			Kind:     events.IdentityChanged,
			UserID:   user.ID,
			Email:    user.Email,
			AuthType: AuthTypePassword,
			RemoteIP: remoteIP,
		})
	}
	if m.logger != nil {
		m.logger.Debug("user logged in", slog.Int64("user_id", user.ID))
	}
	return nil
}

// RememberCookie builds the cookie delivering the remember-me token issued
// at login. Callers set it only when the user asked to be remembered.
func (m *Manager) RememberCookie(user *directory.User) *http.Cookie {
	return &http.Cookie{
		Name:     RememberCookieName,
		Value:    user.RememberToken,
		Path:     "/",
		MaxAge:   int(m.tokens.RememberWindow() / time.Second),
		HttpOnly: true,
		Secure:   m.store.Secure(),
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearRememberCookie builds the expired cookie that removes the remember-me
// token from the client on logout.
func (m *Manager) ClearRememberCookie() *http.Cookie {
	return &http.Cookie{
		Name:     RememberCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.store.Secure(),
		SameSite: http.SameSiteLaxMode,
	}
}

// RestoreRemembered re-establishes the session identity from the request's
// remember-me cookie. The token must verify within its window, reference an
// active user and carry the fingerprint of the current password hash; any
// failure surfaces as shared.ErrInvalidToken and leaves the session
// anonymous.
func (m *Manager) RestoreRemembered(ctx context.Context, r *http.Request, sess *shared.Session) (*directory.User, error) {
	cookie, err := r.Cookie(RememberCookieName)
	if err != nil || cookie.Value == "" {
		return nil, fmt.Errorf("%w: no remember cookie", shared.ErrInvalidToken)
	}

	userID, fingerprint, err := m.tokens.ParseRememberToken(cookie.Value)
	if err != nil {
		return nil, err
	}

	user, err := m.dir.FindUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown subject", shared.ErrInvalidToken)
	}
	if !user.Active || fingerprint != token.Fingerprint(user.PasswordHash) {
		return nil, fmt.Errorf("%w: stale remember token", shared.ErrInvalidToken)
	}

	if sess != nil {
		sess.SetIdentity(strconv.FormatInt(user.ID, 10), AuthTypeRemember)
	}
	if m.logger != nil {
		m.logger.Debug("session restored from remember token", slog.Int64("user_id", user.ID))
	}
	return user, nil
}

// Logout clears the session identity, broadcasts identity-cleared and
// destroys the underlying session. It is unconditional and never fails.
func (m *Manager) Logout(ctx context.Context, sess *shared.Session) {
	var userID int64
	if sess != nil {
		userID, _ = strconv.ParseInt(sess.UserID(), 10, 64)
		sess.ClearIdentity()
		m.store.Destroy(sess)
	}
	if m.bus != nil {
		m.bus.Publish(ctx, events.Event{Kind: events.IdentityCleared, UserID: userID})
	}
}

// track shifts the current login markers into the last-login slots and
// records the new ones. A first login fills both slots. Concurrent logins
// race last-write-wins; that is accepted semantics.
func (m *Manager) track(user *directory.User, remoteIP string) {
	now := time.Now().UTC()
	if user.CurrentLoginAt != nil {
		user.LastLoginAt = user.CurrentLoginAt
	} else {
		user.LastLoginAt = &now
	}
	user.CurrentLoginAt = &now

	if user.CurrentLoginIP != "" {
		user.LastLoginIP = user.CurrentLoginIP
	} else {
		user.LastLoginIP = remoteIP
	}
	user.CurrentLoginIP = remoteIP

	var count int64
	if user.LoginCount != nil {
		count = *user.LoginCount
	}
	count++
	user.LoginCount = &count
}
