package riders

import (
	"strings"
	"time"

	"onboarding-calls/pkg/opt"
	"onboarding-calls/pkg/utils"
)

// Rider is one driver going through onboarding.
//
// ExternalID is unique when present. (Name, Phone, City) is only a soft match key.
// The LastContact* fields and escalation flags mirror the most recently updated call.
type Rider struct {
	ID         string  `json:"id" db:"id"`
	ExternalID *int64  `json:"externalId,omitempty" db:"external_id"`
	Name       string  `json:"name" db:"name"`
	Phone      string  `json:"phone" db:"phone"`
	City       *string `json:"city,omitempty" db:"city"`

	SignupDate        *time.Time       `json:"signupDate,omitempty" db:"signup_date"`
	FlowType          *string          `json:"flowType,omitempty" db:"flow_type"`
	DocumentsUploaded *DocumentsStatus `json:"documentsUploaded,omitempty" db:"documents_uploaded"`
	LicenseCountry    *string          `json:"licenseCountry,omitempty" db:"license_country"`
	ResidencyStatus   *string          `json:"residencyStatus,omitempty" db:"residency_status"`
	DocumentDetails   utils.JSONMap    `json:"documentDetails" db:"document_details"`

	LastContactAt      *time.Time     `json:"lastContactAt,omitempty" db:"last_contact_at"`
	LastContactStatus  *ContactStatus `json:"lastContactStatus,omitempty" db:"last_contact_status"`
	UrgentFlag         bool           `json:"urgentFlag" db:"urgent_flag"`
	LegalIssueFlag     bool           `json:"legalIssueFlag" db:"legal_issue_flag"`
	HumanRequestedFlag bool           `json:"humanRequestedFlag" db:"human_requested_flag"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Identity is the soft match key used when no external id is known.
type Identity struct {
	Name  string
	Phone string
	City  *string
}

// DocumentsStatus summarises per-document upload flags.
type DocumentsStatus string

const (
	DocumentsNone    DocumentsStatus = "NONE"
	DocumentsPartial DocumentsStatus = "PARTIAL"
	DocumentsAll     DocumentsStatus = "ALL"
)

func ParseDocumentsStatus(s string) (DocumentsStatus, bool) {
	switch fold(s) {
	case "NONE", "NO":
		return DocumentsNone, true
	case "PARTIAL", "SOME":
		return DocumentsPartial, true
	case "ALL", "YES", "COMPLETE":
		return DocumentsAll, true
	default:
		return "", false
	}
}

// ContactStatus is the outcome of trying to reach the rider.
type ContactStatus string

const (
	ContactPending   ContactStatus = "PENDING"
	ContactNoAnswer  ContactStatus = "NO_ANSWER"
	ContactVoicemail ContactStatus = "VOICEMAIL"
	ContactCompleted ContactStatus = "COMPLETED"
)

// ParseContactStatus maps the spellings providers and spreadsheets use onto ContactStatus.
func ParseContactStatus(s string) (ContactStatus, bool) {
	switch fold(s) {
	case "PENDING", "QUEUED", "NOT_CONTACTED":
		return ContactPending, true
	case "NO_ANSWER", "NOANSWER", "UNANSWERED", "MISSED", "BUSY", "NOT_ANSWERED":
		return ContactNoAnswer, true
	case "VOICEMAIL", "VOICE_MAIL", "MACHINE", "ANSWERING_MACHINE":
		return ContactVoicemail, true
	case "COMPLETED", "COMPLETE", "ANSWERED", "SUCCESS", "CONTACTED", "REACHED":
		return ContactCompleted, true
	default:
		return "", false
	}
}

// ContactUpdate is the projection of a merged call onto its rider.
type ContactUpdate struct {
	At             time.Time
	Status         opt.Value[ContactStatus]
	Urgent         opt.Value[bool]
	LegalIssue     opt.Value[bool]
	HumanRequested opt.Value[bool]
}

// ApplyContact refreshes the contact projection. The timestamp always moves;
// status and flags only change when present.
func (r *Rider) ApplyContact(u ContactUpdate) {
	at := u.At
	r.LastContactAt = &at
	if s, ok := u.Status.Get(); ok {
		r.LastContactStatus = &s
	}
	u.Urgent.Apply(&r.UrgentFlag)
	u.LegalIssue.Apply(&r.LegalIssueFlag)
	u.HumanRequested.Apply(&r.HumanRequestedFlag)
	r.UpdatedAt = at
}

// AwaitingContact reports whether the rider belongs in the pending-contact list.
func (r Rider) AwaitingContact() bool {
	return r.LastContactStatus == nil || *r.LastContactStatus == ContactPending
}

// Matches reports whether the rider equals the soft identity key.
// Name comparison ignores case and surrounding space; a nil city only matches a nil city.
func (r Rider) Matches(id Identity) bool {
	if !strings.EqualFold(strings.TrimSpace(r.Name), strings.TrimSpace(id.Name)) || r.Phone != id.Phone {
		return false
	}
	if r.City == nil || id.City == nil {
		return r.City == nil && id.City == nil
	}
	return strings.EqualFold(strings.TrimSpace(*r.City), strings.TrimSpace(*id.City))
}

func fold(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}
