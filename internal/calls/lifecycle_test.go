package calls

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	allowed := [][2]CallStatus{
		{CallStatusPending, CallStatusRunning},
		{CallStatusPending, CallStatusFailed},
		{CallStatusPending, CallStatusCompleted},
		{CallStatusRunning, CallStatusCompleted},
		{CallStatusRunning, CallStatusCanceled},
	}
	for _, p := range allowed {
		if !CanTransition(p[0], p[1]) {
			t.Fatalf("expected %s -> %s allowed", p[0], p[1])
		}
	}

	denied := [][2]CallStatus{
		{CallStatusRunning, CallStatusPending},
		{CallStatusCompleted, CallStatusFailed},
		{CallStatusFailed, CallStatusRunning},
		{CallStatusCanceled, CallStatusCompleted},
		{CallStatusRunning, CallStatusRunning},
	}
	for _, p := range denied {
		if CanTransition(p[0], p[1]) {
			t.Fatalf("expected %s -> %s denied", p[0], p[1])
		}
	}
}

func TestParseCallStatus(t *testing.T) {
	cases := map[string]CallStatus{
		"completed":   CallStatusCompleted,
		"COMPLETED":   CallStatusCompleted,
		"in-progress": CallStatusRunning,
		"in_progress": CallStatusRunning,
		"cancelled":   CallStatusCanceled,
		" failed ":    CallStatusFailed,
		"error":       CallStatusFailed,
	}
	for in, want := range cases {
		got, ok := ParseCallStatus(in)
		if !ok || got != want {
			t.Fatalf("ParseCallStatus(%q) = %q,%v want %q", in, got, ok, want)
		}
	}
	if _, ok := ParseCallStatus("sideways"); ok {
		t.Fatalf("expected unknown status rejected")
	}
}

func TestTransition_CompletedAtSetOnce(t *testing.T) {
	c := Call{Status: CallStatusRunning}
	t1 := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	if !c.transition(CallStatusCompleted, t1) {
		t.Fatalf("expected transition")
	}
	if c.CompletedAt == nil || !c.CompletedAt.Equal(t1) {
		t.Fatalf("expected completed_at stamped")
	}
	if c.transition(CallStatusFailed, t1.Add(time.Hour)) {
		t.Fatalf("terminal call must not transition")
	}
	if c.Status != CallStatusCompleted || !c.CompletedAt.Equal(t1) {
		t.Fatalf("terminal state mutated: %s %v", c.Status, c.CompletedAt)
	}
}
