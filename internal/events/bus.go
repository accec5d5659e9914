// Package events provides an explicit observer registry for security
// events. Subscribers are registered at startup; there is no ambient global
// dispatch state.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Kind names a security event.
type Kind string

const (
	// IdentityChanged fires on successful login, carrying the principal id.
	IdentityChanged Kind = "identity-changed"
	// IdentityCleared fires on logout.
	IdentityCleared Kind = "identity-cleared"
	// UserRegistered fires when a new account is created.
	UserRegistered Kind = "user-registered"
	// PasswordResetRequested fires when reset instructions are issued.
	PasswordResetRequested Kind = "password-reset-requested"
	// UserConfirmed fires when an account confirms its email address.
	UserConfirmed Kind = "user-confirmed"
)

// Event is the payload delivered to subscribers.
type Event struct {
	Kind     Kind
	UserID   int64
	Email    string
	AuthType string
	RemoteIP string
	At       time.Time
}

// Handler consumes a published event. Handlers run synchronously on the
// publishing request path and should hand heavy work off themselves.
type Handler func(ctx context.Context, ev Event)

// Bus is the observer registry.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Kind][]Handler
	logger *slog.Logger
}

// NewBus constructs an empty Bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{subs: make(map[Kind][]Handler), logger: logger}
}

// Subscribe registers a handler for a kind. Intended for startup wiring.
func (b *Bus) Subscribe(kind Kind, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[kind] = append(b.subs[kind], fn)
}

// Publish delivers the event to every subscriber of its kind.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.RLock()
	handlers := b.subs[ev.Kind]
	b.mu.RUnlock()

	if b.logger != nil {
		b.logger.Debug("security event",
			slog.String("kind", string(ev.Kind)),
			slog.Int64("user_id", ev.UserID))
	}
	for _, fn := range handlers {
		fn(ctx, ev)
	}
}
