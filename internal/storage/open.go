package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "matchbot/pkg/logx"
)

// Config configures storage. Only the sqlite driver is implemented; the
// queue has no meaning without a persistent backend.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Store is the persistence API used by the dispatcher, handlers and stats.
type Store interface {
	// Enqueue inserts a new pending action. Used by external collaborators
	// (trigger scripts) and tests; the dispatcher itself never creates work.
	Enqueue(ctx context.Context, a QueueAction) error

	// Due returns up to limit pending actions with scheduled_at <= now,
	// ordered ascending by scheduled_at (oldest first).
	Due(ctx context.Context, now time.Time, limit int) ([]QueueAction, error)

	// Claim transitions an action pending -> processing. It is a conditional
	// update: the claim is won only if the row was still pending, so two
	// pollers can never both execute the same action.
	Claim(ctx context.Context, id string) (bool, error)

	// Complete marks a processing action completed and stamps executed_at.
	Complete(ctx context.Context, id string, at time.Time) error

	// Reschedule puts a failed attempt back to pending at a later time.
	// The error message is truncated to MaxErrorLen.
	Reschedule(ctx context.Context, id string, retryCount int, at time.Time, errMsg string) error

	// Fail marks an action terminally failed. scheduled_at is left untouched.
	Fail(ctx context.Context, id string, retryCount int, errMsg string) error

	// SetDecision attaches the decision, its reason and the model used onto
	// the queue row's payload and bookkeeping columns.
	SetDecision(ctx context.Context, id, decision, reason, model string) error

	// Settings returns per-actor configuration. ok is false when the actor
	// has no settings row.
	Settings(ctx context.Context, actorID string) (ActorSettings, bool, error)

	// Profile returns a profile record by id. ok is false when missing.
	Profile(ctx context.Context, id string) (Profile, bool, error)

	// HasOutcome reports whether a decision was already recorded for the
	// ordered (actor, target) pair.
	HasOutcome(ctx context.Context, actorID, targetID string) (bool, error)

	// InsertOutcome records a decision. The (actor, target) pair is unique.
	InsertOutcome(ctx context.Context, o Outcome) error

	// AppendActivity appends one activity-log row.
	AppendActivity(ctx context.Context, e ActivityEntry) error

	// TerminalCounts returns lifetime completed/failed totals from the queue
	// table, so summaries survive process restarts.
	TerminalCounts(ctx context.Context) (completed, failed int64, err error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
