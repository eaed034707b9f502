// Package webhook receives workflow-provider callbacks and turns their loosely
// shaped JSON into correlation keys and a partial call result.
package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"onboarding-calls/internal/calls"
	"onboarding-calls/internal/ingest"
	"onboarding-calls/internal/riders"
	"onboarding-calls/pkg/opt"
)

// ErrNotObject is returned when the callback body is valid JSON but not an object.
var ErrNotObject = errors.New("webhook: payload is not a JSON object")

// Decode parses a callback body keeping numbers as json.Number so large
// external ids survive intact.
func Decode(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode callback: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return m, nil
}

// probe reads one candidate location for a logical field.
type probe[T any] struct {
	path   string
	decode func(any) opt.Value[T]
}

// first returns the first Present probe result. Null is only reported when no
// probe produced a value and at least one location held an explicit null.
func first[T any](root map[string]any, probes []probe[T]) opt.Value[T] {
	sawNull := false
	for _, p := range probes {
		raw, ok := lookup(root, p.path)
		if !ok {
			continue
		}
		v := p.decode(raw)
		if v.IsPresent() {
			return v
		}
		if v.IsNull() {
			sawNull = true
		}
	}
	if sawNull {
		return opt.NullOf[T]()
	}
	return opt.None[T]()
}

// lookup walks a dotted path through nested objects.
func lookup(root map[string]any, path string) (any, bool) {
	var cur any = root
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func text(v any) opt.Value[string] {
	switch t := v.(type) {
	case nil:
		return opt.NullOf[string]()
	case string:
		return ingest.NonEmpty(t)
	case json.Number:
		return opt.Some(t.String())
	}
	return opt.None[string]()
}

func callStatus(v any) opt.Value[calls.CallStatus] {
	s, ok := text(v).Get()
	if !ok {
		return opt.None[calls.CallStatus]()
	}
	if st, ok := calls.ParseCallStatus(s); ok {
		return opt.Some(st)
	}
	return opt.None[calls.CallStatus]()
}

func contactStatus(v any) opt.Value[riders.ContactStatus] {
	s, ok := text(v).Get()
	if !ok {
		return opt.None[riders.ContactStatus]()
	}
	if st, ok := riders.ParseContactStatus(s); ok {
		return opt.Some(st)
	}
	return opt.None[riders.ContactStatus]()
}

// transcriptText accepts a plain string or a list of turns such as
// [{"role":"agent","content":"hi"}], joined one turn per line.
func transcriptText(v any) opt.Value[string] {
	turns, ok := v.([]any)
	if !ok {
		return text(v)
	}
	var lines []string
	for _, turn := range turns {
		switch t := turn.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				lines = append(lines, s)
			}
		case map[string]any:
			msg := firstString(t, "content", "text", "message")
			if msg == "" {
				continue
			}
			if role := firstString(t, "role", "speaker"); role != "" {
				msg = role + ": " + msg
			}
			lines = append(lines, msg)
		}
	}
	return ingest.NonEmpty(strings.Join(lines, "\n"))
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func externalID(v any) opt.Value[int64] {
	if v == nil {
		return opt.NullOf[int64]()
	}
	return ingest.LooseInt(v)
}

// contextExternalID reads the generic "context" field, which may be a bare
// number, a numeric string or an object carrying the id.
func contextExternalID(v any) opt.Value[int64] {
	if m, ok := v.(map[string]any); ok {
		for _, k := range []string{"external_id", "externalId", "driver_id"} {
			if id := externalID(m[k]); id.IsPresent() {
				return id
			}
		}
		return opt.None[int64]()
	}
	return externalID(v)
}

var (
	callIDProbes = []probe[string]{
		{"context.source.rider_call_id", text},
		{"source.rider_call_id", text},
		{"rider_call_id", text},
		{"riderCallId", text},
		{"context.rider_call_id", text},
		{"call_id", text},
		{"callId", text},
	}
	runIDProbes = []probe[string]{
		{"run_id", text},
		{"runId", text},
		{"workflow_run_id", text},
		{"data.run_id", text},
		{"run.id", text},
	}
	externalIDProbes = []probe[int64]{
		{"external_id", externalID},
		{"externalId", externalID},
		{"driver_id", externalID},
		{"context.source.external_id", externalID},
		{"source.external_id", externalID},
		{"context", contextExternalID},
	}
	statusProbes = []probe[calls.CallStatus]{
		{"status", callStatus},
		{"call_status", callStatus},
		{"data.status", callStatus},
		{"run.status", callStatus},
	}
	contactStatusProbes = []probe[riders.ContactStatus]{
		{"contact_status", contactStatus},
		{"contactStatus", contactStatus},
		{"outcome", contactStatus},
		{"call_outcome", contactStatus},
		{"result.contact_status", contactStatus},
		{"result.outcome", contactStatus},
		{"data.contact_status", contactStatus},
	}
	summaryProbes = []probe[string]{
		{"summary", text},
		{"call_summary", text},
		{"result.summary", text},
		{"data.summary", text},
	}
	transcriptProbes = []probe[string]{
		{"transcript", transcriptText},
		{"result.transcript", transcriptText},
		{"data.transcript", transcriptText},
	}
	sentimentProbes = []probe[string]{
		{"sentiment", text},
		{"result.sentiment", text},
		{"data.sentiment", text},
	}
	urgentProbes = []probe[bool]{
		{"urgent_flag", ingest.LooseBoolValue},
		{"urgentFlag", ingest.LooseBoolValue},
		{"urgent", ingest.LooseBoolValue},
		{"is_urgent", ingest.LooseBoolValue},
		{"result.urgent_flag", ingest.LooseBoolValue},
	}
	legalProbes = []probe[bool]{
		{"legal_issue_flag", ingest.LooseBoolValue},
		{"legalIssueFlag", ingest.LooseBoolValue},
		{"legal_issue", ingest.LooseBoolValue},
		{"has_legal_issue", ingest.LooseBoolValue},
		{"result.legal_issue_flag", ingest.LooseBoolValue},
	}
	humanProbes = []probe[bool]{
		{"human_requested_flag", ingest.LooseBoolValue},
		{"humanRequestedFlag", ingest.LooseBoolValue},
		{"human_requested", ingest.LooseBoolValue},
		{"wants_human", ingest.LooseBoolValue},
		{"transfer_to_human", ingest.LooseBoolValue},
		{"result.human_requested_flag", ingest.LooseBoolValue},
	}
)

// Extract reads correlation keys and result fields from a decoded callback.
func Extract(payload map[string]any) (calls.CorrelationKeys, calls.Result) {
	keys := calls.CorrelationKeys{
		CallID:     first(payload, callIDProbes).Or(""),
		RunID:      first(payload, runIDProbes).Or(""),
		ExternalID: first(payload, externalIDProbes),
	}
	res := calls.Result{
		RunID:          first(payload, runIDProbes),
		Status:         first(payload, statusProbes),
		ContactStatus:  first(payload, contactStatusProbes),
		Summary:        first(payload, summaryProbes),
		Transcript:     first(payload, transcriptProbes),
		Sentiment:      first(payload, sentimentProbes),
		Urgent:         first(payload, urgentProbes),
		LegalIssue:     first(payload, legalProbes),
		HumanRequested: first(payload, humanProbes),
	}
	return keys, res
}
