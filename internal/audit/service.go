package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"onboarding-calls/pkg/logger"
	"onboarding-calls/pkg/utils"
)

// Repository is the persistence contract for call events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Reader lists the history of one call, oldest first.
type Reader interface {
	ForCall(ctx context.Context, callID string) ([]Event, error)
}

// ErrNotReadable is returned by CallEvents when the repository is write-only.
var ErrNotReadable = errors.New("audit: repository cannot list events")

// Service records call events.
//
// IMPORTANT:
// - Events are internal-only.
// - Callers should treat recording as best-effort (see Record).
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.Metadata == nil {
		e.Metadata = utils.JSONMap{}
	}
	return s.repo.Append(ctx, e)
}

// Record appends e and logs instead of returning a failure.
func (s *Service) Record(ctx context.Context, e Event) {
	if s == nil {
		return
	}
	if err := s.Append(ctx, e); err != nil {
		logger.From(ctx).Warn("call event not recorded", "type", string(e.Type), "err", err)
	}
}

// CallEvents returns the recorded history of callID.
func (s *Service) CallEvents(ctx context.Context, callID string) ([]Event, error) {
	r, ok := s.repo.(Reader)
	if !ok {
		return nil, ErrNotReadable
	}
	events, err := r.ForCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []Event{}
	}
	return events, nil
}
