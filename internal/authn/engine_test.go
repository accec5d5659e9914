package authn_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-auth/gatehouse/internal/authn"
	"github.com/gatehouse-auth/gatehouse/internal/authz"
	"github.com/gatehouse-auth/gatehouse/internal/credential"
	"github.com/gatehouse-auth/gatehouse/internal/directory"
	"github.com/gatehouse-auth/gatehouse/internal/events"
	"github.com/gatehouse-auth/gatehouse/internal/shared"
	"github.com/gatehouse-auth/gatehouse/internal/token"
)

type stubDirectory struct {
	users []*directory.User
}

func (d *stubDirectory) FindUserByID(ctx context.Context, id int64) (*directory.User, error) {
	for _, u := range d.users {
		if u.ID == id {
			clone := *u
			return &clone, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (d *stubDirectory) FindUserByEmail(ctx context.Context, email string) (*directory.User, error) {
	for _, u := range d.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (d *stubDirectory) FindRoleByName(ctx context.Context, name string) (directory.Role, error) {
	return directory.Role{}, shared.ErrNotFound
}

func (d *stubDirectory) SaveUser(ctx context.Context, user *directory.User) error { return nil }

func (d *stubDirectory) SaveRole(ctx context.Context, role *directory.Role) error { return nil }

func newTokenCodec() *token.Codec {
	return token.NewCodec("test-secret", token.Options{
		AuthSalt:       "auth-salt",
		RememberSalt:   "remember-salt",
		ResetSalt:      "reset-salt",
		RememberWithin: 24 * time.Hour,
		ResetWithin:    24 * time.Hour,
	})
}

func newEngine(t *testing.T, dir *stubDirectory, bus *events.Bus) *authn.Engine {
	t.Helper()
	return authn.NewEngine(dir, credential.NewCodec("", false), newTokenCodec(), bus, nil, nil, authn.Config{
		TokenHeader:  "Authentication-Token",
		TokenParam:   "auth_token",
		DefaultRealm: "Login Required",
	})
}

func seedUser(t *testing.T, id int64, email, password string, active bool, roles ...string) *directory.User {
	t.Helper()
	hash, err := credential.NewCodec("", false).Hash(password)
	require.NoError(t, err)
	user := &directory.User{ID: id, Email: email, PasswordHash: hash, Active: active}
	for _, name := range roles {
		user.AddRole(directory.Role{Name: name})
	}
	return user
}

func okHandler(saw *authz.Principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*saw = authz.PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestBasicAuthSuccess(t *testing.T) {
	dir := &stubDirectory{users: []*directory.User{seedUser(t, 1, "user@test.local", "correctpass", true, "admin")}}
	bus := events.NewBus(nil)
	var published []events.Event
	bus.Subscribe(events.IdentityChanged, func(ctx context.Context, ev events.Event) {
		published = append(published, ev)
	})
	engine := newEngine(t, dir, bus)

	var principal authz.Principal
	handler := engine.RequireBasicAuth("")(okHandler(&principal))

	req := httptest.NewRequest(http.MethodGet, "/api/secure", nil)
	req.SetBasicAuth("user@test.local", "correctpass")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	assert.Equal(t, http.StatusOK, res.Code)
	assert.True(t, principal.Authenticated())
	assert.True(t, principal.HasRole("admin"))
	require.Len(t, published, 1)
	assert.Equal(t, int64(1), published[0].UserID)
	assert.Equal(t, "basic", published[0].AuthType)
}

func TestBasicAuthChallengeOnFailure(t *testing.T) {
	dir := &stubDirectory{users: []*directory.User{seedUser(t, 1, "user@test.local", "correctpass", true)}}
	engine := newEngine(t, dir, nil)

	handler := engine.RequireBasicAuth("Admin Area")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("protected handler must not run")
	}))

	for name, setup := range map[string]func(*http.Request){
		"wrong password": func(r *http.Request) { r.SetBasicAuth("user@test.local", "wrongpass") },
		"unknown user":   func(r *http.Request) { r.SetBasicAuth("ghost@test.local", "correctpass") },
		"no header":      func(r *http.Request) {},
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/secure", nil)
		setup(req)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)

		assert.Equal(t, http.StatusUnauthorized, res.Code, name)
		assert.Equal(t, `Basic realm="Admin Area"`, res.Header().Get("WWW-Authenticate"), name)
	}
}

func TestBasicAuthDefaultRealm(t *testing.T) {
	engine := newEngine(t, &stubDirectory{}, nil)

	handler := engine.RequireBasicAuth("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/api/secure", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	assert.Equal(t, `Basic realm="Login Required"`, res.Header().Get("WWW-Authenticate"))
}

func TestBasicAuthComputedRealm(t *testing.T) {
	engine := newEngine(t, &stubDirectory{}, nil)

	handler := engine.RequireBasicAuthRealm(func(r *http.Request) string {
		return "Zone " + r.URL.Path
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/ops", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	assert.Equal(t, `Basic realm="Zone /ops"`, res.Header().Get("WWW-Authenticate"))
}

func TestBasicAuthInactiveUserRejected(t *testing.T) {
	dir := &stubDirectory{users: []*directory.User{seedUser(t, 1, "user@test.local", "correctpass", false)}}
	engine := newEngine(t, dir, nil)

	_, err := engine.VerifyCredentials(context.Background(), "user@test.local", "correctpass")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestTokenAuthViaHeaderAndQuery(t *testing.T) {
	user := seedUser(t, 7, "user@test.local", "pw", true, "editor")
	dir := &stubDirectory{users: []*directory.User{user}}
	engine := newEngine(t, dir, nil)

	tok, err := newTokenCodec().IssueAuthToken(7, "user@test.local")
	require.NoError(t, err)

	var principal authz.Principal
	handler := engine.RequireToken()(okHandler(&principal))

	req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	req.Header.Set("Authentication-Token", tok)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	assert.Equal(t, http.StatusOK, res.Code)
	assert.True(t, principal.HasRole("editor"))

	req = httptest.NewRequest(http.MethodGet, "/api/data?auth_token="+tok, nil)
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	assert.Equal(t, http.StatusOK, res.Code)
}

func TestTokenHeaderWinsOverQuery(t *testing.T) {
	user := seedUser(t, 7, "user@test.local", "pw", true)
	dir := &stubDirectory{users: []*directory.User{user}}
	engine := newEngine(t, dir, nil)

	valid, err := newTokenCodec().IssueAuthToken(7, "user@test.local")
	require.NoError(t, err)

	handler := engine.RequireToken()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Garbage in the header is not rescued by a valid query parameter.
	req := httptest.NewRequest(http.MethodGet, "/api/data?auth_token="+valid, nil)
	req.Header.Set("Authentication-Token", "garbage")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Empty(t, res.Header().Get("WWW-Authenticate"))
}

func TestTokenStaleAfterEmailChange(t *testing.T) {
	user := seedUser(t, 7, "old@test.local", "pw", true)
	dir := &stubDirectory{users: []*directory.User{user}}
	engine := newEngine(t, dir, nil)

	tok, err := newTokenCodec().IssueAuthToken(7, "old@test.local")
	require.NoError(t, err)

	_, err = engine.VerifyToken(context.Background(), tok)
	require.NoError(t, err)

	// Email rotated: fingerprint no longer matches.
	user.Email = "new@test.local"
	_, err = engine.VerifyToken(context.Background(), tok)
	assert.ErrorIs(t, err, shared.ErrInvalidToken)
}

func TestTokenUnknownUserRejected(t *testing.T) {
	engine := newEngine(t, &stubDirectory{}, nil)

	tok, err := newTokenCodec().IssueAuthToken(404, "ghost@test.local")
	require.NoError(t, err)

	_, err = engine.VerifyToken(context.Background(), tok)
	assert.ErrorIs(t, err, shared.ErrInvalidToken)
}
