package telephony

import (
	"context"
	"errors"
)

// WorkflowProvider starts an outbound voice workflow for one call.
//
// Rules:
// - No provider HTTP calls outside telephony adapters.
// - Implementations never retry; a failed start is terminal for that call.
// - Keep request/response types provider-agnostic; raw payloads go in WorkflowRun.Raw.
type WorkflowProvider interface {
	Name() string
	StartWorkflow(ctx context.Context, req WorkflowRequest) (WorkflowRun, error)
}

// WorkflowRequest is what the provider needs to dial a rider and report back.
type WorkflowRequest struct {
	// PhoneNumber is E.164.
	PhoneNumber string `json:"phone_number"`
	// CallbackURL is optional; the provider's workflow may have one configured.
	CallbackURL string `json:"callback_url,omitempty"`
	// Context carries the rider snapshot and source.rider_call_id, the key
	// callbacks are correlated on.
	Context map[string]any `json:"context"`
}

// WorkflowRun is the provider's acceptance of a workflow start.
type WorkflowRun struct {
	RunID      string         `json:"run_id"`
	StatusCode int            `json:"status_code"`
	Raw        map[string]any `json:"raw,omitempty"`
}

// ErrProvider is wrapped by every provider failure (transport, non-2xx, bad body).
var ErrProvider = errors.New("telephony: provider error")
