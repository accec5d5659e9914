// Package account implements the outward-facing account flows:
// registration, login/logout endpoints, password reset and email
// confirmation.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gatehouse-auth/gatehouse/internal/credential"
	"github.com/gatehouse-auth/gatehouse/internal/directory"
	"github.com/gatehouse-auth/gatehouse/internal/events"
	"github.com/gatehouse-auth/gatehouse/internal/shared"
	"github.com/gatehouse-auth/gatehouse/internal/token"
)

// ErrAlreadyConfirmed indicates a confirmation operation on an account that
// has already confirmed its email address.
var ErrAlreadyConfirmed = errors.New("account: already confirmed")

// Mailer delivers instruction emails. Delivery itself is an external
// collaborator; the core only hands over the recipient and token.
type Mailer interface {
	SendResetInstructions(ctx context.Context, email, resetToken string) error
	SendConfirmationInstructions(ctx context.Context, email, confirmToken string) error
}

// LogMailer is the default Mailer: it logs instead of sending, for
// deployments that wire delivery elsewhere.
type LogMailer struct {
	Logger *slog.Logger
}

// SendResetInstructions logs the reset issuance without the token value.
func (m LogMailer) SendResetInstructions(ctx context.Context, email, resetToken string) error {
	if m.Logger != nil {
		m.Logger.Info("password reset instructions issued", slog.String("email", email))
	}
	return nil
}

// SendConfirmationInstructions logs the confirmation issuance without the
// token value.
func (m LogMailer) SendConfirmationInstructions(ctx context.Context, email, confirmToken string) error {
	if m.Logger != nil {
		m.Logger.Info("confirmation instructions issued", slog.String("email", email))
	}
	return nil
}

// ServiceConfig toggles optional account behaviors.
type ServiceConfig struct {
	// Confirmable sends confirmation instructions on registration and
	// gates nothing by itself; login gating lives in the authn engine.
	Confirmable bool
}

// Service owns account lifecycle operations.
type Service struct {
	dir    directory.Directory
	mgr    *directory.Manager
	codec  *credential.Codec
	tokens *token.Codec
	bus    *events.Bus
	mailer Mailer
	logger *slog.Logger
	cfg    ServiceConfig
}

// NewService constructs a Service.
func NewService(dir directory.Directory, mgr *directory.Manager, codec *credential.Codec, tokens *token.Codec, bus *events.Bus, mailer Mailer, logger *slog.Logger, cfg ServiceConfig) *Service {
	if mailer == nil {
		mailer = LogMailer{Logger: logger}
	}
	return &Service{dir: dir, mgr: mgr, codec: codec, tokens: tokens, bus: bus, mailer: mailer, logger: logger, cfg: cfg}
}

// Register creates an active account and broadcasts user-registered. With
// confirmation enabled it also issues confirmation instructions for the new
// address.
func (s *Service) Register(ctx context.Context, email, password string) (*directory.User, error) {
	if _, err := s.dir.FindUserByEmail(ctx, email); err == nil {
		return nil, shared.ErrDuplicate
	} else if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	user, err := s.mgr.CreateUser(ctx, email, password, true, nil)
	if err != nil {
		return nil, err
	}
	if s.cfg.Confirmable {
		if err := s.sendConfirmation(ctx, user); err != nil {
			return nil, err
		}
	}
	if s.bus != nil {
		s.bus.Publish(ctx, events.Event{Kind: events.UserRegistered, UserID: user.ID, Email: user.Email})
	}
	return user, nil
}

// RequestConfirmation reissues confirmation instructions for an account.
func (s *Service) RequestConfirmation(ctx context.Context, email string) error {
	user, err := s.dir.FindUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user.Confirmed() {
		return ErrAlreadyConfirmed
	}
	return s.sendConfirmation(ctx, user)
}

// ConfirmEmail completes confirmation. The token names the subject and pins
// the email address it was sent to; a changed address invalidates it.
func (s *Service) ConfirmEmail(ctx context.Context, confirmToken string) (*directory.User, error) {
	userID, fingerprint, err := s.tokens.ParseConfirmToken(confirmToken)
	if err != nil {
		return nil, err
	}
	user, err := s.dir.FindUserByID(ctx, userID)
	if err != nil {
		return nil, shared.ErrInvalidToken
	}
	if fingerprint != token.Fingerprint(user.Email) {
		return nil, shared.ErrInvalidToken
	}
	if user.Confirmed() {
		return nil, ErrAlreadyConfirmed
	}

	now := time.Now().UTC()
	user.ConfirmedAt = &now
	if err := s.dir.SaveUser(ctx, user); err != nil {
		return nil, err
	}
	if s.bus != nil {
		s.bus.Publish(ctx, events.Event{Kind: events.UserConfirmed, UserID: user.ID, Email: user.Email})
	}
	return user, nil
}

func (s *Service) sendConfirmation(ctx context.Context, user *directory.User) error {
	tok, err := s.tokens.IssueConfirmToken(user.ID, user.Email)
	if err != nil {
		return err
	}
	if err := s.mailer.SendConfirmationInstructions(ctx, user.Email, tok); err != nil {
		return fmt.Errorf("account: send confirmation instructions: %w", err)
	}
	return nil
}

// RequestReset issues a reset token for the account, hands it to the
// mailer and broadcasts password-reset-requested.
func (s *Service) RequestReset(ctx context.Context, email string) error {
	user, err := s.dir.FindUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	tok, err := s.tokens.IssueResetToken(user.ID)
	if err != nil {
		return err
	}
	if err := s.mailer.SendResetInstructions(ctx, user.Email, tok); err != nil {
		return fmt.Errorf("account: send reset instructions: %w", err)
	}
	if s.bus != nil {
		s.bus.Publish(ctx, events.Event{Kind: events.PasswordResetRequested, UserID: user.ID, Email: user.Email})
	}
	return nil
}

// ResetPassword completes a reset: the token names the subject, the new
// secret is re-hashed and the remember token is dropped so every
// outstanding remember-me credential dies with the old password.
func (s *Service) ResetPassword(ctx context.Context, resetToken, newPassword string) (*directory.User, error) {
	userID, err := s.tokens.ParseResetToken(resetToken)
	if err != nil {
		return nil, err
	}
	user, err := s.dir.FindUserByID(ctx, userID)
	if err != nil {
		return nil, shared.ErrInvalidToken
	}
	if err := s.rehash(ctx, user, newPassword); err != nil {
		return nil, err
	}
	return user, nil
}

// ChangePassword verifies the current secret before replacing it.
func (s *Service) ChangePassword(ctx context.Context, user *directory.User, current, next string) error {
	if !s.codec.Verify(current, user.PasswordHash) {
		return shared.ErrInvalidCredentials
	}
	return s.rehash(ctx, user, next)
}

func (s *Service) rehash(ctx context.Context, user *directory.User, password string) error {
	hash, err := s.codec.Hash(password)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	user.RememberToken = ""
	return s.dir.SaveUser(ctx, user)
}
