package storage

import (
	"time"
)

// ActionType tags one kind of scheduled work.
type ActionType string

const (
	ActionRespondToLike   ActionType = "respond_to_like"
	ActionSendChatMessage ActionType = "send_chat_message"
	ActionViewProfile     ActionType = "view_profile"
)

// ActionStatus is the queue lifecycle state.
// Completed and Failed are terminal; the dispatcher never mutates them again.
type ActionStatus string

const (
	StatusPending    ActionStatus = "pending"
	StatusProcessing ActionStatus = "processing"
	StatusCompleted  ActionStatus = "completed"
	StatusFailed     ActionStatus = "failed"
)

const (
	// MaxRetries is process-wide; a retry_count reaching it turns the action Failed.
	MaxRetries = 3

	// RetryDelay is the fixed backoff before a retried action becomes due again.
	RetryDelay = 5 * time.Minute

	// MaxErrorLen caps the persisted error_message.
	MaxErrorLen = 500
)

// QueueAction is one unit of scheduled, retryable work.
type QueueAction struct {
	ID         string
	ActorID    string
	TargetID   string
	Type       ActionType
	Status     ActionStatus
	RetryCount int

	// Payload is an opaque key/value bag carrying handler context
	// (trigger reason, chat room reference, recorded decision, ...).
	Payload map[string]string

	ErrorMessage string
	Model        string
	RawResponse  string

	ScheduledAt time.Time
	ExecutedAt  time.Time // zero until completed
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ActorSettings is per-actor behavioral configuration.
//
// Chattiness is stored and surfaced but not consumed by any handler yet;
// collaborators that enqueue chat replies are expected to gate on it.
type ActorSettings struct {
	ActorID      string
	ResponseRate float64 // probability of a favorable fallback decision, [0,1]
	Chattiness   float64 // [0,1]
	MinDelay     time.Duration
	MaxDelay     time.Duration
	ActiveFrom   int // hour of day, inclusive
	ActiveTo     int // hour of day, exclusive
	Temperature  float64
	Enabled      bool
}

// DefaultResponseRate applies when an actor has no settings row.
const DefaultResponseRate = 0.7

// Profile carries the attributes consumed for prompt construction.
// Interests is kept raw: rows arrive as either a JSON array or a plain string.
type Profile struct {
	ID          string
	Nickname    string
	BirthDate   string // "2006-01-02"
	Gender      string
	Bio         string
	Interests   string
	Personality string
	Location    string
	Job         string
}

// Outcome records one decision between an actor and a target.
// The (actor_id, target_id) pair is unique: at most one decision per pair.
type Outcome struct {
	ID       string
	ActorID  string
	TargetID string
	Action   string // "like" or "pass"
	At       time.Time
}

// ActivityEntry is one append-only activity-log row.
type ActivityEntry struct {
	ID       string
	ActorID  string
	TargetID string
	Activity string
	Reason   string
	Model    string
	At       time.Time
}

// TruncateError caps an error message at MaxErrorLen.
func TruncateError(msg string) string {
	if len(msg) <= MaxErrorLen {
		return msg
	}
	return msg[:MaxErrorLen]
}
