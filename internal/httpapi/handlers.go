package httpapi

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"onboarding-calls/internal/audit"
	"onboarding-calls/internal/auth"
	"onboarding-calls/internal/calls"
	"onboarding-calls/internal/ingest"
	"onboarding-calls/internal/reporting"
	"onboarding-calls/internal/riders"
	"onboarding-calls/pkg/apperr"
	"onboarding-calls/pkg/phone"
	"onboarding-calls/pkg/validator"

	"github.com/gin-gonic/gin"
)

const maxImportBytes = 20 << 20

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Calls    *calls.Service
	Importer *ingest.Importer
	Reports  *reporting.Service
	Events   *audit.Service
	Validate *validator.Validator
	// Region is used to normalise phone numbers written without a country prefix.
	Region string
	// Health pings dependencies; nil reports ok.
	Health func(ctx context.Context) error
}

func (h Handlers) Healthz(c *gin.Context) {
	if h.Health != nil {
		if err := h.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- Calls ---

type triggerRequest struct {
	DriverName        string  `json:"driverName" validate:"required,max=200"`
	PhoneNumber       string  `json:"phoneNumber" validate:"required,e164"`
	ExternalID        *int64  `json:"externalId" validate:"omitempty,gt=0"`
	SignupDate        *string `json:"signupDate"`
	FlowType          *string `json:"flowType" validate:"omitempty,max=100"`
	DocumentsUploaded *string `json:"documentsUploaded" validate:"omitempty,oneof=NONE PARTIAL ALL"`
	LicenseCountry    *string `json:"licenseCountry" validate:"omitempty,max=100"`
	ResidencyStatus   *string `json:"residencyStatus" validate:"omitempty,max=100"`
	City              *string `json:"city" validate:"omitempty,max=100"`
}

// normalize trims strings, uppercases the documents status and rewrites the
// phone number to E.164 when it parses in region. National numbers are
// therefore accepted; anything still not E.164 fails the e164 rule.
func (r *triggerRequest) normalize(region string) {
	r.DriverName = strings.TrimSpace(r.DriverName)
	r.PhoneNumber = phone.NormalizeE164(r.PhoneNumber, region)
	for _, p := range []**string{&r.SignupDate, &r.FlowType, &r.LicenseCountry, &r.ResidencyStatus, &r.City} {
		if *p == nil {
			continue
		}
		v := strings.TrimSpace(**p)
		if v == "" {
			*p = nil
			continue
		}
		*p = &v
	}
	if r.DocumentsUploaded != nil {
		v := strings.ToUpper(strings.TrimSpace(*r.DocumentsUploaded))
		r.DocumentsUploaded = &v
		if v == "" {
			r.DocumentsUploaded = nil
		}
	}
}

func (h Handlers) toTriggerInput(ctx context.Context, req triggerRequest) (calls.TriggerInput, error) {
	in := calls.TriggerInput{
		Name:            req.DriverName,
		Phone:           req.PhoneNumber,
		ExternalID:      req.ExternalID,
		City:            req.City,
		FlowType:        req.FlowType,
		LicenseCountry:  req.LicenseCountry,
		ResidencyStatus: req.ResidencyStatus,
	}
	if req.SignupDate != nil {
		d, ok := ingest.LooseDate(*req.SignupDate).Get()
		if !ok {
			return calls.TriggerInput{}, apperr.Validation("invalid request").
				WithDetails(map[string]string{"signupDate": "must be a date such as 2026-03-05 or 05/03/2026"})
		}
		in.SignupDate = &d
	}
	if req.DocumentsUploaded != nil {
		d, _ := riders.ParseDocumentsStatus(*req.DocumentsUploaded)
		in.DocumentsUploaded = &d
	}
	if id, ok := auth.IdentityFrom(ctx); ok {
		in.InitiatedBy = id.UserID
	}
	return in, nil
}

// TriggerCall upserts the rider and starts the onboarding workflow.
// 201 with {rider, call} on success; 502 with the FAILED call in details when
// the provider rejects the request.
func (h Handlers) TriggerCall(c *gin.Context) {
	if h.Calls == nil || h.Validate == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.normalize(h.Region)
	if err := h.Validate.Struct(req); err != nil {
		RespondError(c, err)
		return
	}
	in, err := h.toTriggerInput(c.Request.Context(), req)
	if err != nil {
		RespondError(c, err)
		return
	}

	res, err := h.Calls.Trigger(c.Request.Context(), in)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h Handlers) ListCalls(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	f := calls.CallFilter{Search: c.Query("q")}
	if s := c.Query("status"); s != "" {
		st, ok := calls.ParseCallStatus(s)
		if !ok {
			RespondError(c, apperr.BadRequest("unknown status "+strconv.Quote(s)))
			return
		}
		f.Status = &st
	}
	if s := c.Query("contactStatus"); s != "" {
		st, ok := riders.ParseContactStatus(s)
		if !ok {
			RespondError(c, apperr.BadRequest("unknown contactStatus "+strconv.Quote(s)))
			return
		}
		f.ContactStatus = &st
	}
	var err error
	if f.Page, err = queryInt(c, "page"); err != nil {
		RespondError(c, err)
		return
	}
	if f.PageSize, err = queryInt(c, "pageSize"); err != nil {
		RespondError(c, err)
		return
	}

	page, err := h.Calls.ListCalls(c.Request.Context(), f)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h Handlers) GetCall(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	call, err := h.Calls.GetCall(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

// CallEvents lists the recorded history of one call, oldest first.
func (h Handlers) CallEvents(c *gin.Context) {
	if h.Calls == nil || h.Events == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call events not configured"})
		return
	}
	ctx := c.Request.Context()
	call, err := h.Calls.GetCall(ctx, c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	events, err := h.Events.CallEvents(ctx, call.ID)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": events})
}

// --- Riders ---

func (h Handlers) PendingRiders(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		RespondError(c, err)
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		RespondError(c, err)
		return
	}
	list, err := h.Calls.PendingRiders(c.Request.Context(), limit, max(offset, 0))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": list})
}

// --- Imports ---

// Import accepts the table as the raw body or as a multipart "file" field.
func (h Handlers) Import(c *gin.Context) {
	if h.Importer == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "importer not configured"})
		return
	}
	schema, ok := ingest.ParseSchema(c.Query("schema"))
	if !ok {
		RespondError(c, apperr.BadRequest("schema must be auto, legacy or v2"))
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxImportBytes)
	var src io.Reader = c.Request.Body
	if mt, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type")); mt == "multipart/form-data" {
		fh, err := c.FormFile("file")
		if err != nil {
			RespondError(c, apperr.Wrap(apperr.KindBadRequest, "multipart upload needs a file field", err))
			return
		}
		f, err := fh.Open()
		if err != nil {
			RespondError(c, apperr.Wrap(apperr.KindBadRequest, "could not open upload", err))
			return
		}
		defer f.Close()
		src = f
	}

	sum, err := h.Importer.Import(c.Request.Context(), src, schema)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// --- Reports ---

// CallsSummary reports on calls created in [from, to). Defaults to the last 7 days.
func (h Handlers) CallsSummary(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reports not configured"})
		return
	}
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -7)
	if s := c.Query("from"); s != "" {
		v, ok := ingest.LooseDate(s).Get()
		if !ok {
			RespondError(c, apperr.BadRequest("from must be a date"))
			return
		}
		from = v
	}
	if s := c.Query("to"); s != "" {
		v, ok := ingest.LooseDate(s).Get()
		if !ok {
			RespondError(c, apperr.BadRequest("to must be a date"))
			return
		}
		to = v
	}

	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		Range: reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// queryInt returns 0 for a missing parameter.
func queryInt(c *gin.Context, name string) (int, error) {
	s := c.Query(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, apperr.BadRequest(name + " must be an integer")
	}
	return n, nil
}
