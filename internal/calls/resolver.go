package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"onboarding-calls/internal/riders"
	"onboarding-calls/pkg/opt"
	"onboarding-calls/pkg/utils"
)

var (
	// ErrMissingCorrelation means the payload carried none of call id, run id or external id.
	ErrMissingCorrelation = errors.New("calls: missing correlation id")
	// ErrCorrelationMiss means identifiers were present but matched nothing.
	ErrCorrelationMiss = errors.New("calls: correlation miss")
)

// CorrelationKeys are the identifiers a callback may carry, in priority order.
type CorrelationKeys struct {
	CallID     string
	RunID      string
	ExternalID opt.Value[int64]
}

func (k CorrelationKeys) Empty() bool {
	return strings.TrimSpace(k.CallID) == "" && strings.TrimSpace(k.RunID) == "" && !k.ExternalID.IsPresent()
}

type MatchedBy string

const (
	MatchedByCallID     MatchedBy = "call_id"
	MatchedByRunID      MatchedBy = "run_id"
	MatchedByExternalID MatchedBy = "external_id"
)

// Resolution is a locked call and rider ready for merging.
type Resolution struct {
	Call      Call
	Rider     riders.Rider
	MatchedBy MatchedBy
	// Created is set when the call was created for a rider with no calls.
	Created bool
}

// Resolve finds the call a callback refers to. First match wins:
//
//  1. call id (only when it parses as a UUID)
//  2. run id
//  3. external id -> rider -> latest open call, else latest call, else a new call
//
// An external id never creates a rider. The returned rows are locked in tx.
// A created call is inserted before Resolve returns; seed provides its status
// and contact outcome, both defaulting to COMPLETED.
func Resolve(ctx context.Context, tx Tx, keys CorrelationKeys, seed Result, now time.Time) (Resolution, error) {
	if keys.Empty() {
		return Resolution{}, ErrMissingCorrelation
	}

	if id := strings.TrimSpace(keys.CallID); id != "" {
		if _, err := uuid.Parse(id); err == nil {
			res, err := resolveCall(ctx, tx, func() (Call, error) { return tx.FindCallByID(ctx, id) })
			if err == nil {
				res.MatchedBy = MatchedByCallID
				return res, nil
			}
			if !errors.Is(err, ErrNotFound) {
				return Resolution{}, err
			}
		}
	}

	if runID := strings.TrimSpace(keys.RunID); runID != "" {
		res, err := resolveCall(ctx, tx, func() (Call, error) { return tx.FindCallByRunID(ctx, runID) })
		if err == nil {
			res.MatchedBy = MatchedByRunID
			return res, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Resolution{}, err
		}
	}

	if ext, ok := keys.ExternalID.Get(); ok {
		res, err := resolveByExternalID(ctx, tx, ext, seed, now)
		if err == nil {
			res.MatchedBy = MatchedByExternalID
			return res, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Resolution{}, err
		}
	}

	return Resolution{}, ErrCorrelationMiss
}

// resolveCall finds a call without locking, then locks rider and call in
// protocol order and returns the locked state.
func resolveCall(ctx context.Context, tx Tx, find func() (Call, error)) (Resolution, error) {
	found, err := find()
	if err != nil {
		return Resolution{}, err
	}
	rider, err := tx.LockRider(ctx, found.RiderID)
	if err != nil {
		return Resolution{}, fmt.Errorf("lock rider %s: %w", found.RiderID, err)
	}
	call, err := tx.LockCall(ctx, found.ID)
	if err != nil {
		return Resolution{}, fmt.Errorf("lock call %s: %w", found.ID, err)
	}
	return Resolution{Call: call, Rider: rider}, nil
}

func resolveByExternalID(ctx context.Context, tx Tx, ext int64, seed Result, now time.Time) (Resolution, error) {
	rider, err := tx.LockRiderByExternalID(ctx, ext)
	if err != nil {
		return Resolution{}, err
	}

	call, err := tx.LatestOpenCall(ctx, rider.ID)
	if err == nil {
		return Resolution{Call: call, Rider: rider}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Resolution{}, err
	}

	call, err = tx.LatestCall(ctx, rider.ID)
	if err == nil {
		return Resolution{Call: call, Rider: rider}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Resolution{}, err
	}

	call = newCallbackCall(rider.ID, seed, now)
	if err := tx.InsertCall(ctx, call); err != nil {
		return Resolution{}, fmt.Errorf("insert callback call: %w", err)
	}
	return Resolution{Call: call, Rider: rider, Created: true}, nil
}

// newCallbackCall builds the call created when a callback names a rider with no calls.
func newCallbackCall(riderID string, seed Result, now time.Time) Call {
	status := seed.Status.Or(CallStatusCompleted)
	if !status.Valid() {
		status = CallStatusCompleted
	}
	contact := seed.ContactStatus.Or(riders.ContactCompleted)

	c := Call{
		ID:            uuid.NewString(),
		RiderID:       riderID,
		Status:        status,
		ContactStatus: &contact,
		ContactedAt:   timePtr(now),
		Attempts:      1,
		Metadata:      utils.JSONMap{metaSource: SourceCallback},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if status.IsTerminal() {
		c.CompletedAt = timePtr(now)
	}
	return c
}
