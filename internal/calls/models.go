package calls

import (
	"time"

	"onboarding-calls/internal/riders"
	"onboarding-calls/pkg/utils"
)

// Call is one attempt to reach a rider through the voice workflow provider.
//
// ID is the primary correlation key sent to the provider as source.rider_call_id.
// RunID is assigned by the provider, unique when present and immutable once set.
// CompletedAt is set exactly once, when Status first becomes terminal.
// Metadata accumulates provenance across merges and is never replaced wholesale.
type Call struct {
	ID          string  `json:"id" db:"id"`
	RiderID     string  `json:"riderId" db:"rider_id"`
	InitiatedBy *string `json:"initiatedBy,omitempty" db:"initiated_by"`
	RunID       *string `json:"runId,omitempty" db:"run_id"`

	Status        CallStatus            `json:"status" db:"status"`
	ContactStatus *riders.ContactStatus `json:"contactStatus,omitempty" db:"contact_status"`
	ContactedAt   *time.Time            `json:"contactedAt,omitempty" db:"contacted_at"`

	Transcript *string `json:"transcript,omitempty" db:"transcript"`
	Summary    *string `json:"summary,omitempty" db:"summary"`
	Sentiment  *string `json:"sentiment,omitempty" db:"sentiment"`
	Attempts   int     `json:"attempts" db:"attempts"`

	UrgentFlag         bool `json:"urgentFlag" db:"urgent_flag"`
	LegalIssueFlag     bool `json:"legalIssueFlag" db:"legal_issue_flag"`
	HumanRequestedFlag bool `json:"humanRequestedFlag" db:"human_requested_flag"`

	Metadata     utils.JSONMap `json:"metadata" db:"metadata"`
	ErrorMessage *string       `json:"errorMessage,omitempty" db:"error_message"`

	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time  `json:"updatedAt" db:"updated_at"`
	CompletedAt *time.Time `json:"completedAt,omitempty" db:"completed_at"`
}

type CallStatus string

const (
	CallStatusPending   CallStatus = "PENDING"
	CallStatusRunning   CallStatus = "RUNNING"
	CallStatusCompleted CallStatus = "COMPLETED"
	CallStatusFailed    CallStatus = "FAILED"
	CallStatusCanceled  CallStatus = "CANCELED"
)

// CallWithRider is a listing row: the call plus its rider.
type CallWithRider struct {
	Call
	Rider riders.Rider `json:"rider" db:"rider"`
}

// Metadata keys written by this service.
const (
	metaSource         = "source"
	metaWorkflowResult = "workflowResult"
	metaCallback       = "happyrobotCallback"
	metaTrigger        = "happyrobotTrigger"
	metaImport         = "import"
)

// Metadata source values.
const (
	SourceTrigger  = "trigger"
	SourceCallback = "callback"
	SourceImport   = "import"
)

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }
