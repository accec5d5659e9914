// Package token issues and parses signed, tamper-evident tokens: the
// long-lived authentication token, the remember-me token and the password
// reset token.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gatehouse-auth/gatehouse/internal/shared"
)

// Serializer signs small JSON payloads with HMAC-SHA256 and an issue
// timestamp. Tokens are URL-safe: payload, timestamp and signature are
// base64url segments joined by dots. The signing key is derived from the
// server secret and a purpose salt, so rotating either invalidates every
// outstanding token of that purpose.
type Serializer struct {
	key []byte
}

// NewSerializer derives a purpose-scoped serializer from the server secret.
func NewSerializer(secret, salt string) *Serializer {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(salt))
	return &Serializer{key: mac.Sum(nil)}
}

// Sign serializes v into a signed token string.
func (s *Serializer) Sign(v any) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("token: marshal payload: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(body)

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(time.Now().Unix()))
	ts := base64.RawURLEncoding.EncodeToString(buf)

	signed := payload + "." + ts
	return signed + "." + s.signature(signed), nil
}

// Parse verifies the token signature and its age, then unmarshals the
// payload into v. A zero maxAge disables the age check; a negative maxAge
// rejects every token as expired. Every failure mode (malformed structure,
// bad signature, expiry) surfaces as shared.ErrInvalidToken.
func (s *Serializer) Parse(token string, maxAge time.Duration, v any) error {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return fmt.Errorf("%w: malformed structure", shared.ErrInvalidToken)
	}

	signed := parts[0] + "." + parts[1]
	expected := s.signature(signed)
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return fmt.Errorf("%w: signature mismatch", shared.ErrInvalidToken)
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil || len(raw) != 8 {
		return fmt.Errorf("%w: malformed timestamp", shared.ErrInvalidToken)
	}
	if maxAge != 0 {
		issued := time.Unix(int64(binary.BigEndian.Uint64(raw)), 0)
		if maxAge < 0 || time.Since(issued) > maxAge {
			return fmt.Errorf("%w: expired", shared.ErrInvalidToken)
		}
	}

	body, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return fmt.Errorf("%w: malformed payload", shared.ErrInvalidToken)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: malformed payload", shared.ErrInvalidToken)
	}
	return nil
}

func (s *Serializer) signature(signed string) string {
	mac := hmac.New(sha256.New, s.key)
	_, _ = mac.Write([]byte(signed))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// ParseWindow converts an expiry window expressed as "<amount> <unit>"
// (for example "5 days" or "10 minutes") into a duration.
func ParseWindow(value string) (time.Duration, error) {
	fields := strings.Fields(value)
	if len(fields) != 2 {
		return 0, fmt.Errorf("token: invalid window %q", value)
	}
	amount, err := strconv.Atoi(fields[0])
	if err != nil || amount < 0 {
		return 0, fmt.Errorf("token: invalid window amount %q", value)
	}
	var unit time.Duration
	switch strings.TrimSuffix(strings.ToLower(fields[1]), "s") + "s" {
	case "seconds":
		unit = time.Second
	case "minutes":
		unit = time.Minute
	case "hours":
		unit = time.Hour
	case "days":
		unit = 24 * time.Hour
	default:
		return 0, fmt.Errorf("token: invalid window unit %q", value)
	}
	return time.Duration(amount) * unit, nil
}
