// Package credential hashes and verifies stored password secrets.
package credential

import (
	"crypto/hmac"
	"crypto/sha512"

	"golang.org/x/crypto/bcrypt"
)

// Codec hashes secrets with bcrypt, optionally pre-hashing them through a
// keyed HMAC. The pre-hash stage runs the raw secret through
// HMAC-SHA512(key=salt) and feeds the 64-byte digest to bcrypt, which keeps
// the slow-hash input under bcrypt's 72-byte limit regardless of how long
// the original secret is.
type Codec struct {
	salt    []byte
	useHMAC bool
	cost    int
}

// NewCodec constructs a Codec. When useHMAC is true, salt keys the pre-hash.
func NewCodec(salt string, useHMAC bool) *Codec {
	return &Codec{salt: []byte(salt), useHMAC: useHMAC, cost: bcrypt.DefaultCost}
}

// Hash produces the stored hash for a secret.
func (c *Codec) Hash(secret string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword(c.preHash(secret), c.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify reports whether secret matches storedHash. A malformed stored hash
// fails closed: the result is false, never an error the caller could
// misread as success.
func (c *Codec) Verify(secret, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), c.preHash(secret)) == nil
}

func (c *Codec) preHash(secret string) []byte {
	if !c.useHMAC {
		return []byte(secret)
	}
	mac := hmac.New(sha512.New, c.salt)
	_, _ = mac.Write([]byte(secret))
	return mac.Sum(nil)
}
