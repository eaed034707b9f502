package audit

import (
	"time"

	"onboarding-calls/pkg/utils"
)

// Event is an immutable, append-only record of something that happened to a call.
//
// Invariants:
// - Events are never updated or deleted.
// - Recording is best-effort; a failed append never fails the operation it describes.
//
// Storage (Postgres): table call_events, INSERT-only.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	// Target identifiers (optional, depending on the event type).
	CallID  *string `json:"callId,omitempty" db:"call_id"`
	RiderID *string `json:"riderId,omitempty" db:"rider_id"`

	// ActorUserID is the authenticated operator causing the event, if any.
	ActorUserID *string `json:"actorUserId,omitempty" db:"actor_user_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	Metadata utils.JSONMap `json:"metadata" db:"metadata"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

type EventType string

const (
	EventTriggerAccepted EventType = "trigger_accepted"
	EventTriggerFailed   EventType = "trigger_failed"
	EventCallbackApplied EventType = "callback_applied"
	EventCorrelationMiss EventType = "correlation_miss"
	EventImportBatch     EventType = "import_batch"
)

// Ref returns a pointer for optional id fields; empty strings stay nil.
func Ref(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
