package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest asks for call metrics over calls created in [From, To).
type CallsSummaryRequest struct {
	Range TimeRange `json:"range"`
}

type Escalations struct {
	Urgent         int `json:"urgent"`
	LegalIssue     int `json:"legalIssue"`
	HumanRequested int `json:"humanRequested"`
}

type CallsSummary struct {
	Range TimeRange `json:"range"`

	TotalCalls      int            `json:"totalCalls"`
	ByStatus        map[string]int `json:"byStatus"`
	ByContactStatus map[string]int `json:"byContactStatus"`
	Escalations     Escalations    `json:"escalations"`

	// CompletionRate is COMPLETED calls over calls that reached a terminal state.
	CompletionRate float64 `json:"completionRate"`

	// PendingRiders is a current count, not bounded by Range.
	PendingRiders int `json:"pendingRiders"`
}
