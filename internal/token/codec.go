package token

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/gatehouse-auth/gatehouse/internal/shared"
)

var errInvalidSubject = fmt.Errorf("%w: invalid subject", shared.ErrInvalidToken)

// Codec groups the purpose-scoped serializers behind the token operations
// the engines need. Each token kind signs with its own salt-derived key.
type Codec struct {
	auth           *Serializer
	remember       *Serializer
	reset          *Serializer
	confirm        *Serializer
	rememberWithin time.Duration
	resetWithin    time.Duration
	confirmWithin  time.Duration
}

// Options carries the salts and expiry windows for NewCodec.
type Options struct {
	AuthSalt       string
	RememberSalt   string
	ResetSalt      string
	ConfirmSalt    string
	RememberWithin time.Duration
	ResetWithin    time.Duration
	ConfirmWithin  time.Duration
}

type tokenPayload struct {
	UserID      string `json:"id"`
	Fingerprint string `json:"fp"`
}

type resetPayload struct {
	UserID string `json:"id"`
}

// NewCodec constructs a Codec signing with keys derived from secret.
func NewCodec(secret string, opts Options) *Codec {
	return &Codec{
		auth:           NewSerializer(secret, opts.AuthSalt),
		remember:       NewSerializer(secret, opts.RememberSalt),
		reset:          NewSerializer(secret, opts.ResetSalt),
		confirm:        NewSerializer(secret, opts.ConfirmSalt),
		rememberWithin: opts.RememberWithin,
		resetWithin:    opts.ResetWithin,
		confirmWithin:  opts.ConfirmWithin,
	}
}

// Fingerprint returns the md5 hex digest of data. md5 is used here only as a
// non-secret change detector (stale email or password hash); tamper
// resistance comes from the outer HMAC signature, not this digest. A
// stronger digest would be a drop-in swap but would invalidate tokens in
// flight.
func Fingerprint(data string) string {
	sum := md5.Sum([]byte(data))
	return hex.EncodeToString(sum[:])
}

// IssueAuthToken signs a long-lived bearer token carrying the user id and an
// email fingerprint. There is no built-in expiry: rotating the email or the
// signing key invalidates outstanding tokens.
func (c *Codec) IssueAuthToken(userID int64, email string) (string, error) {
	return c.auth.Sign(tokenPayload{
		UserID:      strconv.FormatInt(userID, 10),
		Fingerprint: Fingerprint(email),
	})
}

// ParseAuthToken verifies an authentication token and returns the referenced
// user id and the email fingerprint recorded at issue time.
func (c *Codec) ParseAuthToken(tok string) (int64, string, error) {
	return c.parse(c.auth, tok, 0)
}

// IssueRememberToken signs a remember-me token derived from the user id and
// the current password hash. Any password change invalidates it.
func (c *Codec) IssueRememberToken(userID int64, passwordHash string) (string, error) {
	return c.remember.Sign(tokenPayload{
		UserID:      strconv.FormatInt(userID, 10),
		Fingerprint: Fingerprint(passwordHash),
	})
}

// ParseRememberToken verifies a remember-me token within its expiry window.
func (c *Codec) ParseRememberToken(tok string) (int64, string, error) {
	return c.parse(c.remember, tok, c.rememberWithin)
}

// RememberWindow exposes the configured remember-me validity window.
func (c *Codec) RememberWindow() time.Duration {
	return c.rememberWithin
}

// IssueResetToken signs a time-bounded password reset token.
func (c *Codec) IssueResetToken(userID int64) (string, error) {
	return c.reset.Sign(resetPayload{UserID: strconv.FormatInt(userID, 10)})
}

// ParseResetToken verifies a reset token and returns the user id.
func (c *Codec) ParseResetToken(tok string) (int64, error) {
	var payload resetPayload
	if err := c.reset.Parse(tok, c.resetWithin, &payload); err != nil {
		return 0, err
	}
	return parseUserID(payload.UserID)
}

// IssueConfirmToken signs a time-bounded email confirmation token. The email
// fingerprint pins the token to the address it was sent to, so changing the
// email reissues confirmation.
func (c *Codec) IssueConfirmToken(userID int64, email string) (string, error) {
	return c.confirm.Sign(tokenPayload{
		UserID:      strconv.FormatInt(userID, 10),
		Fingerprint: Fingerprint(email),
	})
}

// ParseConfirmToken verifies a confirmation token within its window and
// returns the user id and email fingerprint.
func (c *Codec) ParseConfirmToken(tok string) (int64, string, error) {
	return c.parse(c.confirm, tok, c.confirmWithin)
}

func (c *Codec) parse(s *Serializer, tok string, maxAge time.Duration) (int64, string, error) {
	var payload tokenPayload
	if err := s.Parse(tok, maxAge, &payload); err != nil {
		return 0, "", err
	}
	id, err := parseUserID(payload.UserID)
	if err != nil {
		return 0, "", err
	}
	return id, payload.Fingerprint, nil
}

func parseUserID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errInvalidSubject
	}
	return id, nil
}
