package calls

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"onboarding-calls/internal/audit"
	"onboarding-calls/internal/riders"
	"onboarding-calls/internal/telephony"
	"onboarding-calls/pkg/apperr"
	"onboarding-calls/pkg/logger"
	"onboarding-calls/pkg/utils"
)

// ErrRunIDInUse means the provider answered a trigger with a run id that
// already belongs to another call. The trigger's call is marked FAILED.
var ErrRunIDInUse = errors.New("calls: provider returned a run id already in use")

// Guard serialises triggers per rider across processes.
type Guard interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// EventRecorder receives best-effort call events.
type EventRecorder interface {
	Record(ctx context.Context, e audit.Event)
}

// Service runs the trigger and callback flows.
//
// Invariants:
// - Call and rider writes for one event share a transaction.
// - The provider is called outside any transaction.
// - run_id is set once; completed_at is set once.
type Service struct {
	store       Store
	provider    telephony.WorkflowProvider
	guard       Guard
	events      EventRecorder
	callbackURL string
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

type Option func(*Service)

func WithGuard(g Guard) Option { return func(s *Service) { s.guard = g } }

func WithEvents(e EventRecorder) Option { return func(s *Service) { s.events = e } }

func WithCallbackURL(u string) Option { return func(s *Service) { s.callbackURL = u } }

func WithClock(clock func() time.Time) Option { return func(s *Service) { s.clock = clock } }

func NewService(store Store, provider telephony.WorkflowProvider, opts ...Option) *Service {
	s := &Service{store: store, provider: provider, clock: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// TriggerInput is a validated trigger request. Phone is E.164.
type TriggerInput struct {
	Name              string
	Phone             string
	ExternalID        *int64
	City              *string
	SignupDate        *time.Time
	FlowType          *string
	DocumentsUploaded *riders.DocumentsStatus
	LicenseCountry    *string
	ResidencyStatus   *string
	// InitiatedBy is the operator's user id, empty for system triggers.
	InitiatedBy string
}

type TriggerResult struct {
	Rider riders.Rider `json:"rider"`
	Call  Call         `json:"call"`
}

// Trigger upserts the rider, records a PENDING call, asks the provider to
// start the workflow and finalises the call as RUNNING or FAILED.
//
// On provider failure the FAILED call is persisted and the returned error is
// an apperr provider error whose Details hold the TriggerResult.
func (s *Service) Trigger(ctx context.Context, in TriggerInput) (TriggerResult, error) {
	log := logger.From(ctx)
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Phone) == "" {
		return TriggerResult{}, apperr.Validation("driverName and phoneNumber are required")
	}

	if s.guard != nil {
		key := guardKey(in)
		ok, err := s.guard.Acquire(ctx, key)
		switch {
		case err != nil:
			log.Warn("trigger guard unavailable", "err", err)
		case !ok:
			return TriggerResult{}, apperr.Conflict("a call is already being triggered for this rider")
		default:
			defer func() {
				if err := s.guard.Release(context.WithoutCancel(ctx), key); err != nil {
					log.Warn("trigger guard release failed", "err", err)
				}
			}()
		}
	}

	now := s.clock().UTC()
	var out TriggerResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		rider, err := upsertTriggerRider(ctx, tx, in, now)
		if err != nil {
			return err
		}
		call := Call{
			ID:        uuid.NewString(),
			RiderID:   rider.ID,
			Status:    CallStatusPending,
			Attempts:  1,
			Metadata:  utils.JSONMap{metaSource: SourceTrigger},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if in.InitiatedBy != "" {
			call.InitiatedBy = strPtr(in.InitiatedBy)
		}
		if err := tx.InsertCall(ctx, call); err != nil {
			return err
		}
		out = TriggerResult{Rider: rider, Call: call}
		return nil
	})
	if err != nil {
		return TriggerResult{}, apperr.Wrap(apperr.KindInternal, "could not record call", err).WithOp("calls.Trigger")
	}
	log = log.With("call_id", out.Call.ID, "rider_id", out.Rider.ID)

	run, provErr := s.provider.StartWorkflow(ctx, telephony.WorkflowRequest{
		PhoneNumber: out.Rider.Phone,
		CallbackURL: s.callbackURL,
		Context:     workflowContext(out.Rider, out.Call),
	})

	done := s.clock().UTC()
	err = s.store.WithTx(context.WithoutCancel(ctx), func(ctx context.Context, tx Tx) error {
		rider, err := tx.LockRider(ctx, out.Rider.ID)
		if err != nil {
			return err
		}
		call, err := tx.LockCall(ctx, out.Call.ID)
		if err != nil {
			return err
		}
		if provErr == nil && call.RunID == nil && run.RunID != "" {
			owner, err := tx.FindCallByRunID(ctx, run.RunID)
			switch {
			case err == nil && owner.ID != call.ID:
				provErr = fmt.Errorf("%w: %s is held by call %s", ErrRunIDInUse, run.RunID, owner.ID)
			case err != nil && !errors.Is(err, ErrNotFound):
				return err
			}
		}
		call.Metadata = call.Metadata.Clone()
		finishTrigger(&call, s.provider.Name(), run, provErr, done)
		if err := tx.UpdateCall(ctx, call); err != nil {
			return err
		}
		out = TriggerResult{Rider: rider, Call: call}
		return nil
	})
	if err != nil {
		return TriggerResult{}, apperr.Wrap(apperr.KindInternal, "could not finalise call", err).WithOp("calls.Trigger")
	}

	if provErr != nil {
		log.Error("workflow start failed", "provider", s.provider.Name(), "err", provErr)
		s.record(ctx, audit.Event{
			Type:        audit.EventTriggerFailed,
			CallID:      audit.Ref(out.Call.ID),
			RiderID:     audit.Ref(out.Rider.ID),
			ActorUserID: audit.Ref(in.InitiatedBy),
			Message:     provErr.Error(),
		})
		msg := "voice provider rejected the call"
		if errors.Is(provErr, ErrRunIDInUse) {
			msg = "voice provider returned a run id already in use"
		}
		return out, apperr.Wrap(apperr.KindProvider, msg, provErr).
			WithOp("calls.Trigger").
			WithDetails(out)
	}

	log.Info("workflow started", "run_id", run.RunID, "status", string(out.Call.Status))
	s.record(ctx, audit.Event{
		Type:        audit.EventTriggerAccepted,
		CallID:      audit.Ref(out.Call.ID),
		RiderID:     audit.Ref(out.Rider.ID),
		ActorUserID: audit.Ref(in.InitiatedBy),
		Metadata:    utils.JSONMap{"runId": run.RunID},
	})
	return out, nil
}

// finishTrigger records the provider outcome on a locked call.
// A callback may already have moved the call on, so the lifecycle and the
// stored run id win over the trigger response.
func finishTrigger(c *Call, provider string, run telephony.WorkflowRun, provErr error, now time.Time) {
	receipt := map[string]any{
		"provider":   provider,
		"at":         now.Format(time.RFC3339Nano),
		"ok":         provErr == nil,
		"statusCode": run.StatusCode,
	}
	if run.Raw != nil {
		receipt["response"] = run.Raw
	}

	if provErr != nil {
		receipt["error"] = provErr.Error()
		if errors.Is(provErr, ErrRunIDInUse) {
			receipt["conflictingRunId"] = run.RunID
		}
		c.transition(CallStatusFailed, now)
		if c.ErrorMessage == nil {
			c.ErrorMessage = strPtr(provErr.Error())
		}
	} else {
		receipt["runId"] = run.RunID
		if c.RunID == nil && run.RunID != "" {
			c.RunID = strPtr(run.RunID)
		}
		c.transition(CallStatusRunning, now)
	}
	if c.Metadata == nil {
		c.Metadata = utils.JSONMap{}
	}
	c.Metadata[metaTrigger] = receipt
	c.UpdatedAt = now
}

func upsertTriggerRider(ctx context.Context, tx Tx, in TriggerInput, now time.Time) (riders.Rider, error) {
	if in.ExternalID != nil {
		r, err := tx.LockRiderByExternalID(ctx, *in.ExternalID)
		if err == nil {
			applyTriggerInput(&r, in, now)
			return r, tx.UpdateRider(ctx, r)
		}
		if !errors.Is(err, ErrNotFound) {
			return riders.Rider{}, err
		}
	}

	r, err := tx.FindRiderByIdentity(ctx, riders.Identity{Name: in.Name, Phone: in.Phone, City: in.City})
	switch {
	case err == nil && (r.ExternalID == nil || in.ExternalID == nil || *r.ExternalID == *in.ExternalID):
		applyTriggerInput(&r, in, now)
		return r, tx.UpdateRider(ctx, r)
	case err != nil && !errors.Is(err, ErrNotFound):
		return riders.Rider{}, err
	}

	r = riders.Rider{
		ID:              uuid.NewString(),
		DocumentDetails: utils.JSONMap{},
		CreatedAt:       now,
	}
	applyTriggerInput(&r, in, now)
	return r, tx.InsertRider(ctx, r)
}

// applyTriggerInput copies supplied fields; omitted optional fields keep their stored value.
func applyTriggerInput(r *riders.Rider, in TriggerInput, now time.Time) {
	r.Name = strings.TrimSpace(in.Name)
	r.Phone = in.Phone
	if in.ExternalID != nil && r.ExternalID == nil {
		id := *in.ExternalID
		r.ExternalID = &id
	}
	if in.City != nil {
		r.City = in.City
	}
	if in.SignupDate != nil {
		r.SignupDate = in.SignupDate
	}
	if in.FlowType != nil {
		r.FlowType = in.FlowType
	}
	if in.DocumentsUploaded != nil {
		r.DocumentsUploaded = in.DocumentsUploaded
	}
	if in.LicenseCountry != nil {
		r.LicenseCountry = in.LicenseCountry
	}
	if in.ResidencyStatus != nil {
		r.ResidencyStatus = in.ResidencyStatus
	}
	r.UpdatedAt = now
}

func guardKey(in TriggerInput) string {
	if in.ExternalID != nil {
		return "ext:" + strconv.FormatInt(*in.ExternalID, 10)
	}
	return "phone:" + in.Phone
}

// workflowContext is the rider snapshot sent to the provider. source.rider_call_id
// is the key callbacks are expected to echo back.
func workflowContext(r riders.Rider, c Call) map[string]any {
	snap := map[string]any{
		"driver_name":  r.Name,
		"phone_number": r.Phone,
		"source": map[string]any{
			"rider_call_id": c.ID,
			"rider_id":      r.ID,
			"external_id":   r.ExternalID,
		},
	}
	if r.ExternalID != nil {
		snap["external_id"] = *r.ExternalID
	}
	if r.City != nil {
		snap["city"] = *r.City
	}
	if r.SignupDate != nil {
		snap["signup_date"] = r.SignupDate.Format("2006-01-02")
	}
	if r.FlowType != nil {
		snap["flow_type"] = *r.FlowType
	}
	if r.DocumentsUploaded != nil {
		snap["documents_uploaded"] = string(*r.DocumentsUploaded)
	}
	if r.LicenseCountry != nil {
		snap["license_country"] = *r.LicenseCountry
	}
	if r.ResidencyStatus != nil {
		snap["residency_status"] = *r.ResidencyStatus
	}
	return snap
}

// CallbackOutcome summarises one applied callback.
type CallbackOutcome struct {
	CallID        string     `json:"callId"`
	RiderID       string     `json:"riderId"`
	Status        CallStatus `json:"status"`
	MatchedBy     MatchedBy  `json:"matchedBy"`
	Created       bool       `json:"created"`
	StatusChanged bool       `json:"statusChanged"`
}

// HandleCallback correlates a provider callback and merges it into the call
// and the rider's contact projection in one transaction.
//
// Errors: missing identifiers -> apperr bad request (wraps ErrMissingCorrelation);
// nothing matched -> apperr not found (wraps ErrCorrelationMiss); anything else
// is internal and nothing is written.
func (s *Service) HandleCallback(ctx context.Context, keys CorrelationKeys, res Result) (CallbackOutcome, error) {
	log := logger.From(ctx)
	now := s.clock().UTC()

	var (
		out    CallbackOutcome
		merged MergeOutcome
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		resolved, err := Resolve(ctx, tx, keys, res, now)
		if err != nil {
			return err
		}

		call, mo := Merge(resolved.Call, res, now)
		if err := tx.UpdateCall(ctx, call); err != nil {
			return fmt.Errorf("update call: %w", err)
		}
		rider := resolved.Rider
		rider.ApplyContact(res.ContactUpdate(now))
		if err := tx.UpdateRider(ctx, rider); err != nil {
			return fmt.Errorf("update rider: %w", err)
		}

		merged = mo
		out = CallbackOutcome{
			CallID:        call.ID,
			RiderID:       rider.ID,
			Status:        call.Status,
			MatchedBy:     resolved.MatchedBy,
			Created:       resolved.Created,
			StatusChanged: mo.StatusChanged,
		}
		return nil
	})

	switch {
	case errors.Is(err, ErrMissingCorrelation):
		return CallbackOutcome{}, apperr.Wrap(apperr.KindBadRequest, "missing correlation id: send rider_call_id, run_id or external_id", err)
	case errors.Is(err, ErrCorrelationMiss):
		log.Warn("callback did not match any call", "call_id", keys.CallID, "run_id", keys.RunID, "external_id", keys.ExternalID.String())
		s.record(ctx, audit.Event{
			Type:     audit.EventCorrelationMiss,
			Message:  "callback did not match any call",
			Metadata: utils.JSONMap{"callId": keys.CallID, "runId": keys.RunID, "externalId": keys.ExternalID.String()},
		})
		return CallbackOutcome{}, apperr.Wrap(apperr.KindNotFound, "no call matches the callback", err)
	case err != nil:
		return CallbackOutcome{}, apperr.Wrap(apperr.KindInternal, "could not apply callback", err).WithOp("calls.HandleCallback")
	}

	if merged.RunIDConflict {
		log.Warn("callback run id differs from stored run id", "call_id", out.CallID, "run_id", keys.RunID)
	}
	if merged.StatusIgnored {
		log.Info("callback status not applied", "call_id", out.CallID, "status", string(out.Status), "requested", res.Status.String())
	}
	log.Info("callback applied", "call_id", out.CallID, "rider_id", out.RiderID, "matched_by", string(out.MatchedBy), "created", out.Created)
	s.record(ctx, audit.Event{
		Type:    audit.EventCallbackApplied,
		CallID:  audit.Ref(out.CallID),
		RiderID: audit.Ref(out.RiderID),
		Metadata: utils.JSONMap{
			"matchedBy":     string(out.MatchedBy),
			"created":       out.Created,
			"statusChanged": out.StatusChanged,
			"status":        string(out.Status),
		},
	})
	return out, nil
}

func (s *Service) ListCalls(ctx context.Context, f CallFilter) (CallPage, error) {
	page, err := s.store.ListCalls(ctx, f)
	if err != nil {
		return CallPage{}, apperr.Wrap(apperr.KindInternal, "could not list calls", err)
	}
	return page, nil
}

func (s *Service) GetCall(ctx context.Context, id string) (CallWithRider, error) {
	if _, err := uuid.Parse(id); err != nil {
		return CallWithRider{}, apperr.NotFound("call not found")
	}
	c, err := s.store.GetCall(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return CallWithRider{}, apperr.NotFound("call not found")
	}
	if err != nil {
		return CallWithRider{}, apperr.Wrap(apperr.KindInternal, "could not load call", err)
	}
	return c, nil
}

func (s *Service) PendingRiders(ctx context.Context, limit, offset int) ([]riders.Rider, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	out, err := s.store.PendingRiders(ctx, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "could not list pending riders", err)
	}
	return out, nil
}

func (s *Service) record(ctx context.Context, e audit.Event) {
	if s.events != nil {
		s.events.Record(ctx, e)
	}
}
