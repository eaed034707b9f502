package calls

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"onboarding-calls/internal/riders"
)

// MemoryStore is an in-memory Store useful for tests.
// It is not intended for production use.
//
// WithTx serialises all transactions and works on a snapshot that replaces
// the committed state only when fn succeeds.
type MemoryStore struct {
	mu     sync.RWMutex
	riders map[string]riders.Rider
	calls  map[string]Call
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{riders: map[string]riders.Rider{}, calls: map[string]Call{}}
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{riders: make(map[string]riders.Rider, len(s.riders)), calls: make(map[string]Call, len(s.calls))}
	for k, v := range s.riders {
		tx.riders[k] = cloneRider(v)
	}
	for k, v := range s.calls {
		tx.calls[k] = cloneCall(v)
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.riders = tx.riders
	s.calls = tx.calls
	return nil
}

func (s *MemoryStore) GetCall(ctx context.Context, id string) (CallWithRider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.calls[id]
	if !ok {
		return CallWithRider{}, ErrNotFound
	}
	return CallWithRider{Call: cloneCall(c), Rider: cloneRider(s.riders[c.RiderID])}, nil
}

func (s *MemoryStore) ListCalls(ctx context.Context, f CallFilter) (CallPage, error) {
	f = f.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(f.Search))
	var rows []CallWithRider
	for _, c := range s.calls {
		r := s.riders[c.RiderID]
		if f.Status != nil && c.Status != *f.Status {
			continue
		}
		if f.ContactStatus != nil && (c.ContactStatus == nil || *c.ContactStatus != *f.ContactStatus) {
			continue
		}
		if q != "" && !matchesSearch(q, c, r) {
			continue
		}
		rows = append(rows, CallWithRider{Call: cloneCall(c), Rider: cloneRider(r)})
	}
	sort.Slice(rows, func(i, j int) bool { return newerCall(rows[i].Call, rows[j].Call) })

	page := CallPage{Items: []CallWithRider{}, Total: len(rows), Page: f.Page, PageSize: f.PageSize}
	if off := f.Offset(); off < len(rows) {
		end := min(off+f.PageSize, len(rows))
		page.Items = rows[off:end]
	}
	return page, nil
}

func (s *MemoryStore) PendingRiders(ctx context.Context, limit, offset int) ([]riders.Rider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []riders.Rider
	for _, r := range s.riders {
		if r.AwaitingContact() {
			out = append(out, cloneRider(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UrgentFlag != out[j].UrgentFlag {
			return out[i].UrgentFlag
		}
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if offset >= len(out) {
		return []riders.Rider{}, nil
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	return out[offset:min(offset+limit, len(out))], nil
}

func (s *MemoryStore) CountPendingRiders(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.riders {
		if r.AwaitingContact() {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CallsBetween(ctx context.Context, from, to time.Time) ([]Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Call
	for _, c := range s.calls {
		if !c.CreatedAt.Before(from) && c.CreatedAt.Before(to) {
			out = append(out, cloneCall(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return newerCall(out[i], out[j]) })
	return out, nil
}

// Rider returns a committed rider by id, for tests.
func (s *MemoryStore) Rider(id string) (riders.Rider, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.riders[id]
	return cloneRider(r), ok
}

// Counts returns the number of committed riders and calls, for tests.
func (s *MemoryStore) Counts() (ridersN, callsN int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.riders), len(s.calls)
}

type memTx struct {
	riders map[string]riders.Rider
	calls  map[string]Call
}

func (t *memTx) FindCallByID(ctx context.Context, id string) (Call, error) {
	c, ok := t.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return cloneCall(c), nil
}

func (t *memTx) FindCallByRunID(ctx context.Context, runID string) (Call, error) {
	for _, c := range t.calls {
		if c.RunID != nil && *c.RunID == runID {
			return cloneCall(c), nil
		}
	}
	return Call{}, ErrNotFound
}

func (t *memTx) LockCall(ctx context.Context, id string) (Call, error) {
	return t.FindCallByID(ctx, id)
}

func (t *memTx) LockRider(ctx context.Context, id string) (riders.Rider, error) {
	r, ok := t.riders[id]
	if !ok {
		return riders.Rider{}, ErrNotFound
	}
	return cloneRider(r), nil
}

func (t *memTx) LockRiderByExternalID(ctx context.Context, externalID int64) (riders.Rider, error) {
	for _, r := range t.riders {
		if r.ExternalID != nil && *r.ExternalID == externalID {
			return cloneRider(r), nil
		}
	}
	return riders.Rider{}, ErrNotFound
}

func (t *memTx) FindRiderByIdentity(ctx context.Context, id riders.Identity) (riders.Rider, error) {
	var best *riders.Rider
	for _, r := range t.riders {
		if !r.Matches(id) {
			continue
		}
		if best == nil || r.UpdatedAt.After(best.UpdatedAt) || (r.UpdatedAt.Equal(best.UpdatedAt) && r.ID > best.ID) {
			rr := r
			best = &rr
		}
	}
	if best == nil {
		return riders.Rider{}, ErrNotFound
	}
	return cloneRider(*best), nil
}

func (t *memTx) LatestOpenCall(ctx context.Context, riderID string) (Call, error) {
	return t.latest(riderID, func(c Call) bool {
		return c.Status.IsOpen() || c.ContactStatus == nil || *c.ContactStatus == riders.ContactPending
	})
}

func (t *memTx) LatestCall(ctx context.Context, riderID string) (Call, error) {
	return t.latest(riderID, func(Call) bool { return true })
}

func (t *memTx) latest(riderID string, keep func(Call) bool) (Call, error) {
	var best *Call
	for _, c := range t.calls {
		if c.RiderID != riderID || !keep(c) {
			continue
		}
		if best == nil || newerCall(c, *best) {
			cc := c
			best = &cc
		}
	}
	if best == nil {
		return Call{}, ErrNotFound
	}
	return cloneCall(*best), nil
}

var errDuplicate = errors.New("calls: duplicate key")

func (t *memTx) InsertRider(ctx context.Context, r riders.Rider) error {
	if _, ok := t.riders[r.ID]; ok {
		return errDuplicate
	}
	if r.ExternalID != nil {
		if _, err := t.LockRiderByExternalID(ctx, *r.ExternalID); err == nil {
			return errDuplicate
		}
	}
	t.riders[r.ID] = cloneRider(r)
	return nil
}

func (t *memTx) UpdateRider(ctx context.Context, r riders.Rider) error {
	if _, ok := t.riders[r.ID]; !ok {
		return ErrNotFound
	}
	t.riders[r.ID] = cloneRider(r)
	return nil
}

func (t *memTx) InsertCall(ctx context.Context, c Call) error {
	if _, ok := t.calls[c.ID]; ok {
		return errDuplicate
	}
	if _, ok := t.riders[c.RiderID]; !ok {
		return ErrNotFound
	}
	if err := t.checkRunID(c); err != nil {
		return err
	}
	t.calls[c.ID] = cloneCall(c)
	return nil
}

func (t *memTx) UpdateCall(ctx context.Context, c Call) error {
	if _, ok := t.calls[c.ID]; !ok {
		return ErrNotFound
	}
	if err := t.checkRunID(c); err != nil {
		return err
	}
	t.calls[c.ID] = cloneCall(c)
	return nil
}

func (t *memTx) checkRunID(c Call) error {
	if c.RunID == nil {
		return nil
	}
	for id, other := range t.calls {
		if id != c.ID && other.RunID != nil && *other.RunID == *c.RunID {
			return errDuplicate
		}
	}
	return nil
}

// newerCall orders by created_at DESC, id DESC.
func newerCall(a, b Call) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func matchesSearch(q string, c Call, r riders.Rider) bool {
	if strings.Contains(strings.ToLower(r.Name), q) || strings.Contains(strings.ToLower(r.Phone), q) {
		return true
	}
	return c.RunID != nil && strings.Contains(strings.ToLower(*c.RunID), q)
}

func cloneCall(c Call) Call {
	c.Metadata = c.Metadata.Clone()
	return c
}

func cloneRider(r riders.Rider) riders.Rider {
	r.DocumentDetails = r.DocumentDetails.Clone()
	return r
}
