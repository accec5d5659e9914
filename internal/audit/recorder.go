// Package audit persists security events into a queryable trail. Events are
// recorded off the request path through the job queue.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatehouse-auth/gatehouse/internal/events"
	"github.com/gatehouse-auth/gatehouse/jobs"
)

// Entry is one row of the audit trail.
type Entry struct {
	ID       int64     `json:"id"`
	Kind     string    `json:"kind"`
	UserID   int64     `json:"user_id"`
	Email    string    `json:"email,omitempty"`
	AuthType string    `json:"auth_type,omitempty"`
	RemoteIP string    `json:"remote_ip,omitempty"`
	At       time.Time `json:"at"`
}

// Recorder writes audit entries to PostgreSQL.
type Recorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRecorder constructs a Recorder.
func NewRecorder(pool *pgxpool.Pool, logger *slog.Logger) *Recorder {
	return &Recorder{pool: pool, logger: logger}
}

// Record inserts a single entry.
func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	at := entry.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO security_events (kind, user_id, email, auth_type, remote_ip, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.Kind, entry.UserID,
		optionalText(entry.Email), optionalText(entry.AuthType), optionalText(entry.RemoteIP),
		pgtype.Timestamptz{Time: at.UTC(), Valid: true},
	)
	return err
}

// TaskHandler returns the Asynq handler that persists queued audit tasks.
func (r *Recorder) TaskHandler() asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload jobs.AuditPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		return r.Record(ctx, Entry{
			Kind:     payload.Kind,
			UserID:   payload.UserID,
			Email:    payload.Email,
			AuthType: payload.AuthType,
			RemoteIP: payload.RemoteIP,
			At:       payload.At,
		})
	}
}

// Enqueuer submits audit payloads to the job queue.
type Enqueuer interface {
	EnqueueAuditEvent(ctx context.Context, payload jobs.AuditPayload) (*asynq.TaskInfo, error)
}

// BindBus subscribes an enqueuing observer to every security event kind.
// Enqueue failures are logged and swallowed so the request path never fails
// on audit trouble.
func BindBus(bus *events.Bus, enqueuer Enqueuer, logger *slog.Logger) {
	kinds := []events.Kind{
		events.IdentityChanged,
		events.IdentityCleared,
		events.UserRegistered,
		events.PasswordResetRequested,
		events.UserConfirmed,
	}
	for _, kind := range kinds {
		bus.Subscribe(kind, func(ctx context.Context, ev events.Event) {
			payload := jobs.AuditPayload{
				Kind:     string(ev.Kind),
				UserID:   ev.UserID,
				Email:    ev.Email,
				AuthType: ev.AuthType,
				RemoteIP: ev.RemoteIP,
				At:       ev.At,
			}
			if _, err := enqueuer.EnqueueAuditEvent(ctx, payload); err != nil && logger != nil {
				logger.Warn("enqueue audit event",
					slog.String("kind", payload.Kind),
					slog.Any("error", err))
			}
		})
	}
}

func optionalText(v string) pgtype.Text {
	return pgtype.Text{String: v, Valid: v != ""}
}
