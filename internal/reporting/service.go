package reporting

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"onboarding-calls/internal/calls"
	"onboarding-calls/pkg/apperr"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository is the read side reporting needs. calls.Store satisfies it.
type Repository interface {
	CallsBetween(ctx context.Context, from, to time.Time) ([]calls.Call, error)
	CountPendingRiders(ctx context.Context) (int, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

// CallsSummary aggregates calls created in the range. The call scan and the
// pending rider count run concurrently.
func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, apperr.Wrap(apperr.KindBadRequest, "from must be before to", ErrInvalidRequest)
	}
	if s.repo == nil {
		return CallsSummary{}, apperr.Internal("reporting: repository not configured")
	}

	var (
		rows    []calls.Call
		pending int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = s.repo.CallsBetween(gctx, req.Range.From, req.Range.To)
		return err
	})
	g.Go(func() error {
		var err error
		pending, err = s.repo.CountPendingRiders(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return CallsSummary{}, apperr.Wrap(apperr.KindInternal, "could not build calls summary", err)
	}

	out := summarize(rows)
	out.Range = req.Range
	out.PendingRiders = pending
	return out, nil
}

func summarize(rows []calls.Call) CallsSummary {
	out := CallsSummary{ByStatus: map[string]int{}, ByContactStatus: map[string]int{}}
	terminal := 0
	for _, c := range rows {
		out.TotalCalls++
		out.ByStatus[string(c.Status)]++
		if c.ContactStatus != nil {
			out.ByContactStatus[string(*c.ContactStatus)]++
		}
		if c.UrgentFlag {
			out.Escalations.Urgent++
		}
		if c.LegalIssueFlag {
			out.Escalations.LegalIssue++
		}
		if c.HumanRequestedFlag {
			out.Escalations.HumanRequested++
		}
		if c.Status.IsTerminal() {
			terminal++
		}
	}
	if terminal > 0 {
		out.CompletionRate = float64(out.ByStatus[string(calls.CallStatusCompleted)]) / float64(terminal)
	}
	return out
}
