package audit

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is the in-process event log used by tests.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

// Append stores a copy so later mutation of e.Metadata by the caller is not visible.
func (r *MemoryRepo) Append(_ context.Context, e Event) error {
	e.Metadata = e.Metadata.Clone()
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

// ForCall mirrors the Postgres ordering: created_at, then id.
func (r *MemoryRepo) ForCall(_ context.Context, callID string) ([]Event, error) {
	out := r.filter(func(e Event) bool { return e.CallID != nil && *e.CallID == callID })
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Events returns everything in append order.
func (r *MemoryRepo) Events() []Event {
	return r.filter(func(Event) bool { return true })
}

func (r *MemoryRepo) OfType(t EventType) []Event {
	return r.filter(func(e Event) bool { return e.Type == t })
}

func (r *MemoryRepo) filter(keep func(Event) bool) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
