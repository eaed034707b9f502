package calls

import (
	"context"
	"errors"
	"time"

	"onboarding-calls/internal/riders"
)

var ErrNotFound = errors.New("calls: not found")

// Tx is the transactional scope for one logical event. Call and rider writes
// made through the same Tx commit or roll back together.
//
// Lock order is always rider first, then its calls. Lock* methods and the
// Latest* lookups hold row locks until the transaction ends.
type Tx interface {
	FindCallByID(ctx context.Context, id string) (Call, error)
	FindCallByRunID(ctx context.Context, runID string) (Call, error)
	LockCall(ctx context.Context, id string) (Call, error)

	LockRider(ctx context.Context, id string) (riders.Rider, error)
	LockRiderByExternalID(ctx context.Context, externalID int64) (riders.Rider, error)
	FindRiderByIdentity(ctx context.Context, id riders.Identity) (riders.Rider, error)

	// LatestOpenCall returns the rider's newest call that is PENDING/RUNNING
	// or has no (or a PENDING) contact outcome.
	LatestOpenCall(ctx context.Context, riderID string) (Call, error)
	LatestCall(ctx context.Context, riderID string) (Call, error)

	InsertRider(ctx context.Context, r riders.Rider) error
	UpdateRider(ctx context.Context, r riders.Rider) error
	InsertCall(ctx context.Context, c Call) error
	UpdateCall(ctx context.Context, c Call) error
}

// Store owns Rider and Call persistence.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetCall(ctx context.Context, id string) (CallWithRider, error)
	ListCalls(ctx context.Context, f CallFilter) (CallPage, error)
	PendingRiders(ctx context.Context, limit, offset int) ([]riders.Rider, error)
	CountPendingRiders(ctx context.Context) (int, error)
	// CallsBetween returns calls created in [from, to).
	CallsBetween(ctx context.Context, from, to time.Time) ([]Call, error)
}

const (
	defaultPageSize = 25
	maxPageSize     = 200
)

type CallFilter struct {
	Search        string
	Status        *CallStatus
	ContactStatus *riders.ContactStatus
	Page          int
	PageSize      int
}

// Normalize clamps paging to page >= 1 and 1 <= size <= 200.
func (f CallFilter) Normalize() CallFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
	return f
}

func (f CallFilter) Offset() int { return (f.Page - 1) * f.PageSize }

type CallPage struct {
	Items    []CallWithRider `json:"items"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"pageSize"`
}
