package token_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-auth/gatehouse/internal/shared"
	"github.com/gatehouse-auth/gatehouse/internal/token"
)

func newCodec(t *testing.T) *token.Codec {
	t.Helper()
	return token.NewCodec("test-secret-key", token.Options{
		AuthSalt:       "auth-salt",
		RememberSalt:   "remember-salt",
		ResetSalt:      "reset-salt",
		ConfirmSalt:    "confirm-salt",
		RememberWithin: 365 * 24 * time.Hour,
		ResetWithin:    5 * 24 * time.Hour,
		ConfirmWithin:  5 * 24 * time.Hour,
	})
}

func TestAuthTokenRoundTrip(t *testing.T) {
	codec := newCodec(t)

	tok, err := codec.IssueAuthToken(42, "user@test.local")
	require.NoError(t, err)

	id, fp, err := codec.ParseAuthToken(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, token.Fingerprint("user@test.local"), fp)
}

func TestAuthTokenTamperingRejected(t *testing.T) {
	codec := newCodec(t)

	tok, err := codec.IssueAuthToken(42, "user@test.local")
	require.NoError(t, err)

	// Every single-byte mutation must fail signature verification.
	for i := 0; i < len(tok); i++ {
		mutated := []byte(tok)
		if mutated[i] == 'A' {
			mutated[i] = 'B'
		} else {
			mutated[i] = 'A'
		}
		_, _, err := codec.ParseAuthToken(string(mutated))
		require.Error(t, err, "mutation at byte %d accepted", i)
		assert.True(t, errors.Is(err, shared.ErrInvalidToken))
	}
}

func TestAuthTokenMalformed(t *testing.T) {
	codec := newCodec(t)

	for _, tok := range []string{"", "abc", "a.b", "a.b.c.d", "!!.!!.!!"} {
		_, _, err := codec.ParseAuthToken(tok)
		assert.ErrorIs(t, err, shared.ErrInvalidToken, "token %q", tok)
	}
}

func TestAuthTokenCrossPurposeRejected(t *testing.T) {
	codec := newCodec(t)

	// A remember token must not parse as an authentication token: the
	// signing keys differ per salt.
	tok, err := codec.IssueRememberToken(42, "$2a$10$hash")
	require.NoError(t, err)

	_, _, err = codec.ParseAuthToken(tok)
	assert.ErrorIs(t, err, shared.ErrInvalidToken)
}

func TestRememberTokenChangesWithPasswordHash(t *testing.T) {
	codec := newCodec(t)

	before, err := codec.IssueRememberToken(7, "hash-one")
	require.NoError(t, err)
	after, err := codec.IssueRememberToken(7, "hash-two")
	require.NoError(t, err)
	assert.NotEqual(t, before, after)

	_, fp, err := codec.ParseRememberToken(before)
	require.NoError(t, err)
	assert.NotEqual(t, token.Fingerprint("hash-two"), fp)
}

func TestRememberTokenExpiry(t *testing.T) {
	codec := token.NewCodec("test-secret-key", token.Options{
		AuthSalt:       "auth-salt",
		RememberSalt:   "remember-salt",
		ResetSalt:      "reset-salt",
		RememberWithin: -time.Second,
		ResetWithin:    5 * 24 * time.Hour,
	})

	// Signed before the (already elapsed) window: rejected as expired.
	tok, err := codec.IssueRememberToken(7, "hash")
	require.NoError(t, err)
	_, _, err = codec.ParseRememberToken(tok)
	assert.ErrorIs(t, err, shared.ErrInvalidToken)
}

func TestConfirmTokenRoundTrip(t *testing.T) {
	codec := newCodec(t)

	tok, err := codec.IssueConfirmToken(9, "user@test.local")
	require.NoError(t, err)

	id, fp, err := codec.ParseConfirmToken(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)
	assert.Equal(t, token.Fingerprint("user@test.local"), fp)

	// Confirm tokens do not parse under the auth key.
	_, _, err = codec.ParseAuthToken(tok)
	assert.ErrorIs(t, err, shared.ErrInvalidToken)
}

func TestResetTokenRoundTrip(t *testing.T) {
	codec := newCodec(t)

	tok, err := codec.IssueResetToken(9)
	require.NoError(t, err)

	id, err := codec.ParseResetToken(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)
}

func TestParseWindow(t *testing.T) {
	cases := map[string]time.Duration{
		"5 days":     5 * 24 * time.Hour,
		"1 day":      24 * time.Hour,
		"10 minutes": 10 * time.Minute,
		"30 seconds": 30 * time.Second,
		"2 hours":    2 * time.Hour,
	}
	for value, want := range cases {
		got, err := token.ParseWindow(value)
		require.NoError(t, err, value)
		assert.Equal(t, want, got, value)
	}

	for _, value := range []string{"", "days", "5", "five days", "5 fortnights", "-1 days"} {
		_, err := token.ParseWindow(value)
		assert.Error(t, err, value)
	}
}
