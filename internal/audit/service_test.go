package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestService_AppendRequiresType(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{CallID: Ref("c1")}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected invalid event, got %v", err)
	}
}

func TestService_AppendsImmutableEvents(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{Type: EventCallbackApplied, CallID: Ref("c1"), Message: "merged"}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event")
	}
	if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp assigned")
	}
	if evs[0].Metadata == nil {
		t.Fatalf("expected metadata defaulted")
	}
	if *evs[0].CallID != "c1" {
		t.Fatalf("expected call id captured")
	}
}

type failingRepo struct{}

func (failingRepo) Append(context.Context, Event) error { return errors.New("db down") }

func TestService_RecordIsBestEffort(t *testing.T) {
	svc := NewService(failingRepo{})
	svc.Record(context.Background(), Event{Type: EventTriggerFailed})

	var nilSvc *Service
	nilSvc.Record(context.Background(), Event{Type: EventTriggerFailed})
}

func TestRef(t *testing.T) {
	if Ref("") != nil {
		t.Fatalf("expected nil for empty")
	}
	if *Ref("x") != "x" {
		t.Fatalf("expected value")
	}
}

type writeOnlyRepo struct{}

func (writeOnlyRepo) Append(context.Context, Event) error { return nil }

func TestService_CallEvents(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	svc := NewService(repo)
	t0 := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)

	_ = svc.Append(ctx, Event{ID: "b", Type: EventCallbackApplied, CallID: Ref("c1"), CreatedAt: t0.Add(time.Minute)})
	_ = svc.Append(ctx, Event{ID: "a", Type: EventTriggerAccepted, CallID: Ref("c1"), CreatedAt: t0})
	_ = svc.Append(ctx, Event{ID: "x", Type: EventTriggerAccepted, CallID: Ref("c2"), CreatedAt: t0})
	_ = svc.Append(ctx, Event{ID: "y", Type: EventImportBatch, CreatedAt: t0})

	evs, err := svc.CallEvents(ctx, "c1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(evs) != 2 || evs[0].ID != "a" || evs[1].ID != "b" {
		t.Fatalf("expected c1 history oldest first, got %+v", evs)
	}

	evs, err = svc.CallEvents(ctx, "unknown")
	if err != nil || evs == nil || len(evs) != 0 {
		t.Fatalf("expected empty non-nil history, got %v %v", evs, err)
	}

	if _, err := NewService(writeOnlyRepo{}).CallEvents(ctx, "c1"); !errors.Is(err, ErrNotReadable) {
		t.Fatalf("expected ErrNotReadable, got %v", err)
	}
}
