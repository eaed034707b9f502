package riders

import (
	"testing"
	"time"

	"onboarding-calls/pkg/opt"
)

func TestParseContactStatus(t *testing.T) {
	cases := map[string]ContactStatus{
		"completed":  ContactCompleted,
		" Answered ": ContactCompleted,
		"no answer":  ContactNoAnswer,
		"no-answer":  ContactNoAnswer,
		"voice_mail": ContactVoicemail,
		"VOICEMAIL":  ContactVoicemail,
		"pending":    ContactPending,
	}
	for in, want := range cases {
		got, ok := ParseContactStatus(in)
		if !ok || got != want {
			t.Fatalf("ParseContactStatus(%q) = %q,%v want %q", in, got, ok, want)
		}
	}
	if _, ok := ParseContactStatus("maybe"); ok {
		t.Fatalf("expected unknown status to be rejected")
	}
}

func TestParseDocumentsStatus(t *testing.T) {
	if s, ok := ParseDocumentsStatus("partial"); !ok || s != DocumentsPartial {
		t.Fatalf("unexpected %q %v", s, ok)
	}
	if _, ok := ParseDocumentsStatus(""); ok {
		t.Fatalf("expected empty to be rejected")
	}
}

func TestApplyContact_AbsentFlagsKeepValues(t *testing.T) {
	done := ContactCompleted
	r := Rider{UrgentFlag: true, LegalIssueFlag: true, LastContactStatus: &done}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	r.ApplyContact(ContactUpdate{At: now, HumanRequested: opt.Some(true), Urgent: opt.NullOf[bool]()})

	if !r.UrgentFlag || !r.LegalIssueFlag {
		t.Fatalf("absent or null flags must not reset stored values")
	}
	if !r.HumanRequestedFlag {
		t.Fatalf("expected present flag to apply")
	}
	if r.LastContactStatus == nil || *r.LastContactStatus != ContactCompleted {
		t.Fatalf("expected contact status kept")
	}
	if r.LastContactAt == nil || !r.LastContactAt.Equal(now) {
		t.Fatalf("expected timestamp to move")
	}
	if !r.UpdatedAt.Equal(now) {
		t.Fatalf("expected updated_at bumped")
	}
}

func TestApplyContact_PresentFalseOverwrites(t *testing.T) {
	r := Rider{UrgentFlag: true}
	r.ApplyContact(ContactUpdate{At: time.Now(), Urgent: opt.Some(false), Status: opt.Some(ContactNoAnswer)})
	if r.UrgentFlag {
		t.Fatalf("expected explicit false to overwrite")
	}
	if *r.LastContactStatus != ContactNoAnswer {
		t.Fatalf("unexpected status %v", *r.LastContactStatus)
	}
}

func TestMatches(t *testing.T) {
	madrid := "Madrid"
	r := Rider{Name: "Ana Ruiz", Phone: "+34600111222", City: &madrid}

	lower := "madrid "
	if !r.Matches(Identity{Name: "ana ruiz", Phone: "+34600111222", City: &lower}) {
		t.Fatalf("expected case-insensitive match")
	}
	if r.Matches(Identity{Name: "Ana Ruiz", Phone: "+34600111222"}) {
		t.Fatalf("nil city must not match a set city")
	}
	if r.Matches(Identity{Name: "Ana Ruiz", Phone: "+34600999999", City: &madrid}) {
		t.Fatalf("different phone must not match")
	}
}

func TestAwaitingContact(t *testing.T) {
	if !(Rider{}).AwaitingContact() {
		t.Fatalf("nil status should be pending")
	}
	vm := ContactVoicemail
	if (Rider{LastContactStatus: &vm}).AwaitingContact() {
		t.Fatalf("voicemail is not pending")
	}
}
