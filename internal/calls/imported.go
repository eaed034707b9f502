package calls

import (
	"time"

	"github.com/google/uuid"

	"onboarding-calls/pkg/opt"
	"onboarding-calls/pkg/utils"
)

// MergeImport applies a spreadsheet row to an existing call. It follows the
// callback merge rules but stamps import provenance instead of a callback receipt.
// contactedAt is the row's contact time, or now when the row has none.
func MergeImport(c Call, r Result, contactedAt, now time.Time, provenance map[string]any) (Call, MergeOutcome) {
	out := c
	out.Metadata = c.Metadata.Clone()
	res := mergeFields(&out, r, now)
	out.ContactedAt = timePtr(contactedAt)
	out.Metadata[metaImport] = importReceipt(provenance, now)
	return out, res
}

// NewImportedCall builds a call for a row that has no matching call.
// Status defaults to COMPLETED.
func NewImportedCall(riderID string, r Result, contactedAt, now time.Time, provenance map[string]any) Call {
	c := Call{
		ID:        uuid.NewString(),
		RiderID:   riderID,
		Status:    CallStatusPending,
		Attempts:  1,
		Metadata:  utils.JSONMap{metaSource: SourceImport},
		CreatedAt: now,
	}
	if !r.Status.IsPresent() {
		r.Status = opt.Some(CallStatusCompleted)
	}
	mergeFields(&c, r, now)
	c.ContactedAt = timePtr(contactedAt)
	c.Metadata[metaImport] = importReceipt(provenance, now)
	return c
}

func importReceipt(provenance map[string]any, now time.Time) map[string]any {
	receipt := map[string]any{"importedAt": now.UTC().Format(time.RFC3339Nano)}
	for k, v := range provenance {
		receipt[k] = v
	}
	return receipt
}
