package calls

import (
	"strings"
	"time"
)

// PENDING -> RUNNING|COMPLETED|FAILED|CANCELED
// RUNNING -> COMPLETED|FAILED|CANCELED
// terminal -> nothing
//
// PENDING may jump straight to a terminal state because a callback can overtake
// the trigger response, and a failed trigger never reaches RUNNING.
var transitions = map[CallStatus][]CallStatus{
	CallStatusPending: {CallStatusRunning, CallStatusCompleted, CallStatusFailed, CallStatusCanceled},
	CallStatusRunning: {CallStatusCompleted, CallStatusFailed, CallStatusCanceled},
}

func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusCanceled:
		return true
	default:
		return false
	}
}

func (s CallStatus) Valid() bool {
	switch s {
	case CallStatusPending, CallStatusRunning, CallStatusCompleted, CallStatusFailed, CallStatusCanceled:
		return true
	default:
		return false
	}
}

// IsOpen reports whether the call is still waiting for an outcome.
func (s CallStatus) IsOpen() bool {
	return s == CallStatusPending || s == CallStatusRunning
}

// CanTransition reports whether from -> to is a real move allowed by the lifecycle.
// Same-state is not a transition.
func CanTransition(from, to CallStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseCallStatus maps provider and spreadsheet spellings onto CallStatus.
func ParseCallStatus(s string) (CallStatus, bool) {
	k := strings.ToLower(strings.TrimSpace(s))
	k = strings.NewReplacer(" ", "_", "-", "_").Replace(k)
	switch k {
	case "pending", "created", "new":
		return CallStatusPending, true
	case "running", "in_progress", "inprogress", "queued", "started", "ringing", "ongoing":
		return CallStatusRunning, true
	case "completed", "complete", "done", "finished", "success", "succeeded", "ended":
		return CallStatusCompleted, true
	case "failed", "failure", "error", "errored":
		return CallStatusFailed, true
	case "canceled", "cancelled", "aborted":
		return CallStatusCanceled, true
	default:
		return "", false
	}
}

// transition moves c to status `to` when the lifecycle allows it and stamps
// completed_at the first time the call becomes terminal. It reports whether
// the status changed.
func (c *Call) transition(to CallStatus, now time.Time) bool {
	if c.Status == to || !CanTransition(c.Status, to) {
		return false
	}
	c.Status = to
	if to.IsTerminal() && c.CompletedAt == nil {
		c.CompletedAt = timePtr(now)
	}
	return true
}
