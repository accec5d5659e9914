package shared

import "errors"

var (
	// ErrNotFound indicates a user or role lookup miss.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken indicates a bad signature, malformed token or stale fingerprint.
	ErrInvalidToken = errors.New("invalid token")
	// ErrConfirmationRequired indicates login was refused because the
	// account's email address is not confirmed yet.
	ErrConfirmationRequired = errors.New("confirmation required")
	// ErrConfiguration indicates required configuration is missing at startup.
	ErrConfiguration = errors.New("configuration error")
	// ErrDuplicate indicates a uniqueness conflict, e.g. an email already registered.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)
