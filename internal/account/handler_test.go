package account_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-auth/gatehouse/internal/account"
	"github.com/gatehouse-auth/gatehouse/internal/authn"
	"github.com/gatehouse-auth/gatehouse/internal/credential"
	"github.com/gatehouse-auth/gatehouse/internal/directory"
	"github.com/gatehouse-auth/gatehouse/internal/events"
	"github.com/gatehouse-auth/gatehouse/internal/session"
	"github.com/gatehouse-auth/gatehouse/internal/shared"
	"github.com/gatehouse-auth/gatehouse/internal/token"
)

type memDirectory struct {
	users  map[int64]*directory.User
	nextID int64
}

func newMemDirectory() *memDirectory {
	return &memDirectory{users: map[int64]*directory.User{}, nextID: 1}
}

func (d *memDirectory) FindUserByID(ctx context.Context, id int64) (*directory.User, error) {
	if u, ok := d.users[id]; ok {
		clone := *u
		return &clone, nil
	}
	return nil, shared.ErrNotFound
}

func (d *memDirectory) FindUserByEmail(ctx context.Context, email string) (*directory.User, error) {
	for _, u := range d.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (d *memDirectory) FindRoleByName(ctx context.Context, name string) (directory.Role, error) {
	return directory.Role{}, shared.ErrNotFound
}

func (d *memDirectory) SaveUser(ctx context.Context, user *directory.User) error {
	if user.ID == 0 {
		user.ID = d.nextID
		d.nextID++
	}
	clone := *user
	d.users[user.ID] = &clone
	return nil
}

func (d *memDirectory) SaveRole(ctx context.Context, role *directory.Role) error { return nil }

type captureMailer struct {
	lastEmail        string
	lastToken        string
	lastConfirmEmail string
	lastConfirmToken string
}

func (m *captureMailer) SendResetInstructions(ctx context.Context, email, resetToken string) error {
	m.lastEmail = email
	m.lastToken = resetToken
	return nil
}

func (m *captureMailer) SendConfirmationInstructions(ctx context.Context, email, confirmToken string) error {
	m.lastConfirmEmail = email
	m.lastConfirmToken = confirmToken
	return nil
}

type fixture struct {
	dir       *memDirectory
	store     *shared.SessionStore
	passwords *credential.Codec
	tokens    *token.Codec
	mailer    *captureMailer
	router    chi.Router
}

func newFixture(t *testing.T) *fixture {
	return buildFixture(t, false, false)
}

func newTrackingFixture(t *testing.T, trackable bool) *fixture {
	return buildFixture(t, trackable, false)
}

func newConfirmableFixture(t *testing.T) *fixture {
	return buildFixture(t, false, true)
}

func buildFixture(t *testing.T, trackable, confirmable bool) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := shared.NewSessionStore(client, "gatehouse_session", "session-secret", time.Hour, false)
	passwords := credential.NewCodec("", false)
	tokens := token.NewCodec("test-secret", token.Options{
		AuthSalt:       "auth-salt",
		RememberSalt:   "remember-salt",
		ResetSalt:      "reset-salt",
		ConfirmSalt:    "confirm-salt",
		RememberWithin: 24 * time.Hour,
		ResetWithin:    time.Hour,
		ConfirmWithin:  time.Hour,
	})

	dir := newMemDirectory()
	bus := events.NewBus(nil)
	mailer := &captureMailer{}

	engine := authn.NewEngine(dir, passwords, tokens, bus, nil, nil, authn.Config{
		TokenHeader:      "Authentication-Token",
		TokenParam:       "auth_token",
		DefaultRealm:     "Login Required",
		RequireConfirmed: confirmable,
	})
	sessions := session.NewManager(dir, tokens, store, bus, trackable, nil)
	manager := directory.NewManager(dir, passwords, nil)
	service := account.NewService(dir, manager, passwords, tokens, bus, mailer, nil,
		account.ServiceConfig{Confirmable: confirmable})
	handler := account.NewHandler(nil, engine, sessions, service, nil, account.HandlerConfig{
		PostLoginView: "/",
		FlashEnabled:  false,
	})

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := store.Load(r.Context(), r)
			require.NoError(t, err)
			ctx := shared.ContextWithSession(r.Context(), sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	handler.MountRoutes(router)

	return &fixture{dir: dir, store: store, passwords: passwords, tokens: tokens, mailer: mailer, router: router}
}

func (f *fixture) seedUser(t *testing.T, email, password string, active bool) *directory.User {
	t.Helper()
	hash, err := f.passwords.Hash(password)
	require.NoError(t, err)
	user := &directory.User{Email: email, PasswordHash: hash, Active: active}
	require.NoError(t, f.dir.SaveUser(context.Background(), user))
	return user
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)
	return res
}

type envelope struct {
	Meta     map[string]int  `json:"meta"`
	Response json.RawMessage `json:"response"`
}

func decodeEnvelope(t *testing.T, res *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &env))
	return env
}

func TestLoginSuccess(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user@test.local", "correctpass", true)

	res := f.do(t, http.MethodPost, "/auth", `{"email":"user@test.local","password":"correctpass"}`)

	require.Equal(t, http.StatusOK, res.Code)
	env := decodeEnvelope(t, res)
	assert.Equal(t, http.StatusOK, env.Meta["code"])

	var payload struct {
		User struct {
			ID                  string `json:"id"`
			AuthenticationToken string `json:"authentication_token"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(env.Response, &payload))
	assert.Equal(t, "1", payload.User.ID)
	assert.NotEmpty(t, payload.User.AuthenticationToken)

	// The issued auth token was persisted on the account.
	stored, err := f.dir.FindUserByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, stored.AuthToken, payload.User.AuthenticationToken)
}

func TestLoginWrongPassword(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user@test.local", "correctpass", true)

	res := f.do(t, http.MethodPost, "/auth", `{"email":"user@test.local","password":"wrongpass"}`)

	require.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.String(), "Invalid email or password")
}

func TestLoginInactiveAccount(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user@test.local", "correctpass", false)

	res := f.do(t, http.MethodPost, "/auth", `{"email":"user@test.local","password":"correctpass"}`)

	require.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.String(), "Invalid email or password")
}

func TestLoginMalformedBody(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, http.MethodPost, "/auth", `{"email":`)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = f.do(t, http.MethodPost, "/auth", `{"email":"not-an-email","password":"x"}`)
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestRegisterAndDuplicate(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, http.MethodPost, "/register", `{"email":"new@test.local","password":"longenough"}`)
	require.Equal(t, http.StatusOK, res.Code)

	stored, err := f.dir.FindUserByEmail(context.Background(), "new@test.local")
	require.NoError(t, err)
	assert.True(t, stored.Active)
	assert.True(t, f.passwords.Verify("longenough", stored.PasswordHash))

	res = f.do(t, http.MethodPost, "/register", `{"email":"new@test.local","password":"longenough"}`)
	require.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.String(), "already exists")
}

func TestResetFlow(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user@test.local", "oldpassword", true)

	res := f.do(t, http.MethodPost, "/reset", `{"email":"ghost@test.local"}`)
	require.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.String(), "does not exist")

	res = f.do(t, http.MethodPost, "/reset", `{"email":"user@test.local"}`)
	require.Equal(t, http.StatusOK, res.Code)
	require.NotEmpty(t, f.mailer.lastToken)
	assert.Equal(t, "user@test.local", f.mailer.lastEmail)

	res = f.do(t, http.MethodPost, "/reset/"+f.mailer.lastToken, `{"password":"brandnewpass"}`)
	require.Equal(t, http.StatusOK, res.Code)

	stored, err := f.dir.FindUserByEmail(context.Background(), "user@test.local")
	require.NoError(t, err)
	assert.True(t, f.passwords.Verify("brandnewpass", stored.PasswordHash))
	assert.False(t, f.passwords.Verify("oldpassword", stored.PasswordHash))
}

func TestResetInvalidToken(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, http.MethodPost, "/reset/not-a-real-token", `{"password":"brandnewpass"}`)
	require.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.String(), "Invalid reset password token")
}

func TestLogoutRedirects(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, http.MethodPost, "/logout", "")
	assert.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/", res.Header().Get("Location"))
}

func rememberCookie(res *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range res.Result().Cookies() {
		if c.Name == session.RememberCookieName {
			return c
		}
	}
	return nil
}

func TestLoginRememberSetsCookie(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user@test.local", "correctpass", true)

	res := f.do(t, http.MethodPost, "/auth", `{"email":"user@test.local","password":"correctpass","remember":true}`)
	require.Equal(t, http.StatusOK, res.Code)

	cookie := rememberCookie(res)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Positive(t, cookie.MaxAge)

	// The cookie carries the remember token bound to the current hash.
	id, fp, err := f.tokens.ParseRememberToken(cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	stored, err := f.dir.FindUserByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, token.Fingerprint(stored.PasswordHash), fp)
	assert.Equal(t, stored.RememberToken, cookie.Value)
}

func TestLoginWithoutRememberSetsNoCookie(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user@test.local", "correctpass", true)

	res := f.do(t, http.MethodPost, "/auth", `{"email":"user@test.local","password":"correctpass"}`)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Nil(t, rememberCookie(res))
}

func TestLogoutClearsRememberCookie(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, http.MethodPost, "/logout", "")
	require.Equal(t, http.StatusSeeOther, res.Code)

	cookie := rememberCookie(res)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Negative(t, cookie.MaxAge)
}

func TestConfirmationFlow(t *testing.T) {
	f := newConfirmableFixture(t)

	res := f.do(t, http.MethodPost, "/register", `{"email":"new@test.local","password":"longenough"}`)
	require.Equal(t, http.StatusOK, res.Code)
	require.NotEmpty(t, f.mailer.lastConfirmToken)
	assert.Equal(t, "new@test.local", f.mailer.lastConfirmEmail)

	// Unconfirmed accounts cannot establish a credential session.
	res = f.do(t, http.MethodPost, "/auth", `{"email":"new@test.local","password":"longenough"}`)
	require.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.String(), "Email requires confirmation")

	res = f.do(t, http.MethodPost, "/confirm/"+f.mailer.lastConfirmToken, "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), "your email has been confirmed")

	stored, err := f.dir.FindUserByEmail(context.Background(), "new@test.local")
	require.NoError(t, err)
	assert.True(t, stored.Confirmed())

	// Confirmation unlocks login.
	res = f.do(t, http.MethodPost, "/auth", `{"email":"new@test.local","password":"longenough"}`)
	require.Equal(t, http.StatusOK, res.Code)

	// A second confirmation attempt reports the account as confirmed.
	res = f.do(t, http.MethodPost, "/confirm/"+f.mailer.lastConfirmToken, "")
	require.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.String(), "already been confirmed")
}

func TestConfirmationRequestEndpoint(t *testing.T) {
	f := newConfirmableFixture(t)
	f.seedUser(t, "user@test.local", "correctpass", true)

	res := f.do(t, http.MethodPost, "/confirm", `{"email":"ghost@test.local"}`)
	require.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.String(), "does not exist")

	res = f.do(t, http.MethodPost, "/confirm", `{"email":"user@test.local"}`)
	require.Equal(t, http.StatusOK, res.Code)
	require.NotEmpty(t, f.mailer.lastConfirmToken)

	res = f.do(t, http.MethodPost, "/confirm/"+f.mailer.lastConfirmToken, "")
	require.Equal(t, http.StatusOK, res.Code)

	res = f.do(t, http.MethodPost, "/confirm", `{"email":"user@test.local"}`)
	require.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.String(), "already been confirmed")
}

func TestConfirmInvalidToken(t *testing.T) {
	f := newConfirmableFixture(t)

	res := f.do(t, http.MethodPost, "/confirm/not-a-real-token", "")
	require.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.String(), "Invalid confirmation token")
}

func TestLoginTracksRemoteAddress(t *testing.T) {
	cases := map[string]struct {
		remoteAddr string
		want       string
	}{
		"ipv4 with port": {remoteAddr: "203.0.113.9:41234", want: "203.0.113.9"},
		"bare ipv4":      {remoteAddr: "203.0.113.9", want: "203.0.113.9"},
		"ipv6 with port": {remoteAddr: "[2001:db8::1]:41234", want: "2001:db8::1"},
		"bare ipv6":      {remoteAddr: "2001:db8::1", want: "2001:db8::1"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newTrackingFixture(t, true)
			f.seedUser(t, "user@test.local", "correctpass", true)

			req := httptest.NewRequest(http.MethodPost, "/auth", strings.NewReader(`{"email":"user@test.local","password":"correctpass"}`))
			req.Header.Set("Content-Type", "application/json")
			req.RemoteAddr = tc.remoteAddr
			res := httptest.NewRecorder()
			f.router.ServeHTTP(res, req)
			require.Equal(t, http.StatusOK, res.Code)

			stored, err := f.dir.FindUserByID(context.Background(), 1)
			require.NoError(t, err)
			assert.Equal(t, tc.want, stored.CurrentLoginIP)
		})
	}
}
