package calls

import (
	"time"

	"onboarding-calls/internal/riders"
	"onboarding-calls/pkg/opt"
	"onboarding-calls/pkg/utils"
)

// Result is a partially populated call outcome, from a callback or an import row.
// Only present values are ever written; absent and explicit null leave stored data alone.
type Result struct {
	RunID          opt.Value[string]
	Status         opt.Value[CallStatus]
	ContactStatus  opt.Value[riders.ContactStatus]
	Summary        opt.Value[string]
	Transcript     opt.Value[string]
	Sentiment      opt.Value[string]
	Urgent         opt.Value[bool]
	LegalIssue     opt.Value[bool]
	HumanRequested opt.Value[bool]
}

// HasContactFields reports whether the result carries anything beyond identifiers.
func (r Result) HasContactFields() bool {
	return r.Status.IsPresent() || r.ContactStatus.IsPresent() || r.Summary.IsPresent() ||
		r.Transcript.IsPresent() || r.Sentiment.IsPresent() || r.Urgent.IsPresent() ||
		r.LegalIssue.IsPresent() || r.HumanRequested.IsPresent()
}

// ContactUpdate is the rider projection of this result.
func (r Result) ContactUpdate(at time.Time) riders.ContactUpdate {
	return riders.ContactUpdate{
		At:             at,
		Status:         r.ContactStatus,
		Urgent:         r.Urgent,
		LegalIssue:     r.LegalIssue,
		HumanRequested: r.HumanRequested,
	}
}

type MergeOutcome struct {
	StatusChanged bool
	// StatusIgnored is set when the payload named a status the lifecycle does not allow.
	StatusIgnored bool
	RunIDSet      bool
	// RunIDConflict is set when the payload carried a run id different from the stored one.
	RunIDConflict bool
	// Completed is set when this merge stamped completed_at.
	Completed bool
}

// Merge applies a callback result to c and returns the updated copy.
// The input call (including its metadata map) is not mutated.
func Merge(c Call, r Result, now time.Time) (Call, MergeOutcome) {
	out := c
	out.Metadata = c.Metadata.Clone()
	res := mergeFields(&out, r, now)

	receipt := map[string]any{"receivedAt": now.UTC().Format(time.RFC3339Nano), "runId": nil}
	if out.RunID != nil {
		receipt["runId"] = *out.RunID
	}
	if rid, ok := r.RunID.Get(); ok && res.RunIDConflict {
		receipt["conflictingRunId"] = rid
	}
	out.Metadata[metaCallback] = receipt
	return out, res
}

// mergeFields applies r onto c in place. c.Metadata must already be owned by the caller.
func mergeFields(c *Call, r Result, now time.Time) MergeOutcome {
	var res MergeOutcome
	if c.Metadata == nil {
		c.Metadata = utils.JSONMap{}
	}

	if rid, ok := r.RunID.Get(); ok && rid != "" {
		switch {
		case c.RunID == nil || *c.RunID == "":
			c.RunID = strPtr(rid)
			res.RunIDSet = true
		case *c.RunID != rid:
			res.RunIDConflict = true
		}
	}

	if s, ok := r.Status.Get(); ok && s.Valid() {
		hadCompleted := c.CompletedAt != nil
		if c.transition(s, now) {
			res.StatusChanged = true
			res.Completed = !hadCompleted && c.CompletedAt != nil
		} else if s != c.Status {
			res.StatusIgnored = true
		}
	}

	if cs, ok := r.ContactStatus.Get(); ok {
		c.ContactStatus = &cs
	}
	if v, ok := r.Summary.Get(); ok {
		c.Summary = strPtr(v)
	}
	if v, ok := r.Transcript.Get(); ok {
		c.Transcript = strPtr(v)
	}
	if v, ok := r.Sentiment.Get(); ok {
		c.Sentiment = strPtr(v)
	}
	r.Urgent.Apply(&c.UrgentFlag)
	r.LegalIssue.Apply(&c.LegalIssueFlag)
	r.HumanRequested.Apply(&c.HumanRequestedFlag)

	c.ContactedAt = timePtr(now)
	c.UpdatedAt = now

	mergeWorkflowResult(c.Metadata, r, c.RunID, res.RunIDConflict)
	return res
}

// mergeWorkflowResult merges present fields into metadata.workflowResult.
// runId always mirrors the stored run id; a conflicting incoming one goes
// under conflictingRunId. Sibling keys and unrelated nested objects are left
// as they are.
func mergeWorkflowResult(meta utils.JSONMap, r Result, stored *string, conflict bool) {
	wr := map[string]any{}
	for k, v := range meta.Object(metaWorkflowResult) {
		wr[k] = v
	}

	put := func(key string, v any, ok bool) {
		if ok {
			wr[key] = v
		}
	}
	if rid, ok := r.RunID.Get(); ok && rid != "" && stored != nil {
		wr["runId"] = *stored
		if conflict {
			wr["conflictingRunId"] = rid
		} else {
			delete(wr, "conflictingRunId")
		}
	}
	st, ok := r.Status.Get()
	put("status", string(st), ok)
	cs, ok := r.ContactStatus.Get()
	put("contactStatus", string(cs), ok)
	v, ok := r.Summary.Get()
	put("summary", v, ok)
	v, ok = r.Transcript.Get()
	put("transcript", v, ok)
	v, ok = r.Sentiment.Get()
	put("sentiment", v, ok)
	b, ok := r.Urgent.Get()
	put("urgentFlag", b, ok)
	b, ok = r.LegalIssue.Get()
	put("legalIssueFlag", b, ok)
	b, ok = r.HumanRequested.Get()
	put("humanRequestedFlag", b, ok)

	if len(wr) > 0 {
		meta[metaWorkflowResult] = wr
	}
}
