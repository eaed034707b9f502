package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"onboarding-calls/internal/audit"
	"onboarding-calls/internal/auth"
	"onboarding-calls/internal/calls"
	"onboarding-calls/internal/ingest"
	"onboarding-calls/internal/reporting"
	"onboarding-calls/internal/telephony"
	"onboarding-calls/pkg/validator"
)

const operatorID = "11111111-1111-1111-1111-111111111111"

type testAPI struct {
	store    *calls.MemoryStore
	r        *gin.Engine
	provider *httptest.Server
	fail     atomic.Bool
	runs     atomic.Int64
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	a := &testAPI{store: calls.NewMemoryStore()}

	a.provider = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.fail.Load() {
			http.Error(w, `{"error":"workflow disabled"}`, http.StatusUnprocessableEntity)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"queued_run_ids":["run_%d"]}`, a.runs.Add(1))
	}))
	t.Cleanup(a.provider.Close)

	client := telephony.NewHappyRobotClient(telephony.HappyRobotConfig{WorkflowURL: a.provider.URL, APIKey: "k", Timeout: 5 * time.Second}, nil)
	events := audit.NewService(audit.NewMemoryRepo())
	svc := calls.NewService(a.store, client, calls.WithEvents(events))
	h := Handlers{
		Calls:    svc,
		Importer: ingest.NewImporter(a.store, events, "ES"),
		Reports:  reporting.NewService(a.store),
		Events:   events,
		Validate: validator.New(),
		Region:   "ES",
	}

	a.r = gin.New()
	a.r.GET("/healthz", h.Healthz)
	v1 := a.r.Group("/v1", func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), auth.Identity{UserID: operatorID, Role: "operator"}))
		c.Next()
	})
	v1.POST("/calls/trigger", h.TriggerCall)
	v1.GET("/calls", h.ListCalls)
	v1.GET("/calls/:id", h.GetCall)
	v1.GET("/calls/:id/events", h.CallEvents)
	v1.GET("/riders/pending", h.PendingRiders)
	v1.POST("/imports", h.Import)
	v1.GET("/reports/calls-summary", h.CallsSummary)
	return a
}

func (a *testAPI) do(method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)
	return w
}

type triggerResponse struct {
	Rider struct {
		ID    string `json:"id"`
		Phone string `json:"phone"`
	} `json:"rider"`
	Call struct {
		ID           string  `json:"id"`
		Status       string  `json:"status"`
		RunID        *string `json:"runId"`
		ErrorMessage *string `json:"errorMessage"`
	} `json:"call"`
}

func TestTriggerCall_Created(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(http.MethodPost, "/v1/calls/trigger",
		[]byte(`{"driverName":"Ana","phoneNumber":"+34600111222","externalId":42,"signupDate":"05/03/2026","documentsUploaded":"partial"}`),
		"application/json")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var out triggerResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Call.Status != "RUNNING" || out.Call.RunID == nil || *out.Call.RunID != "run_1" {
		t.Fatalf("expected RUNNING call with run id, got %+v", out.Call)
	}

	got, err := a.store.GetCall(context.Background(), out.Call.ID)
	if err != nil {
		t.Fatalf("get call: %v", err)
	}
	if got.Rider.SignupDate == nil || got.Rider.SignupDate.Month() != time.March || got.Rider.SignupDate.Day() != 5 {
		t.Fatalf("expected day-first signup date, got %v", got.Rider.SignupDate)
	}
	if got.InitiatedBy == nil || *got.InitiatedBy != operatorID {
		t.Fatalf("expected call attributed to the operator, got %v", got.InitiatedBy)
	}
}

func TestTriggerCall_ValidationDetails(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(http.MethodPost, "/v1/calls/trigger", []byte(`{"phoneNumber":"12","documentsUploaded":"some"}`), "application/json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var body struct {
		Details map[string]string `json:"details"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	for _, f := range []string{"driverName", "phoneNumber", "documentsUploaded"} {
		if body.Details[f] == "" {
			t.Fatalf("expected detail for %s, got %v", f, body.Details)
		}
	}

	w = a.do(http.MethodPost, "/v1/calls/trigger", []byte(`{"driverName":"Ana","phoneNumber":"600111222","signupDate":"someday"}`), "application/json")
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "signupDate") {
		t.Fatalf("expected signupDate validation error, got %d %s", w.Code, w.Body.String())
	}
	if r, c := a.store.Counts(); r != 0 || c != 0 {
		t.Fatalf("validation failures must not write, got riders=%d calls=%d", r, c)
	}
}

func TestTriggerCall_NationalPhoneIsNormalized(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(http.MethodPost, "/v1/calls/trigger", []byte(`{"driverName":"Ana","phoneNumber":"600 111 222"}`), "application/json")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var out triggerResponse
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if out.Rider.Phone != "+34600111222" {
		t.Fatalf("expected E.164 phone, got %q", out.Rider.Phone)
	}

	// Numbers that do not parse in the default region still fail validation.
	w = a.do(http.MethodPost, "/v1/calls/trigger", []byte(`{"driverName":"Bea","phoneNumber":"0034-abc"}`), "application/json")
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "phoneNumber") {
		t.Fatalf("expected phoneNumber validation error, got %d %s", w.Code, w.Body.String())
	}
}

func TestTriggerCall_ProviderFailure(t *testing.T) {
	a := newTestAPI(t)
	a.fail.Store(true)

	w := a.do(http.MethodPost, "/v1/calls/trigger", []byte(`{"driverName":"Ana","phoneNumber":"600 111 222"}`), "application/json")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Details triggerResponse `json:"details"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Details.Call.Status != "FAILED" || body.Details.Call.ErrorMessage == nil {
		t.Fatalf("expected FAILED call in details, got %+v", body.Details.Call)
	}
	if body.Details.Rider.Phone != "+34600111222" {
		t.Fatalf("expected normalized phone, got %q", body.Details.Rider.Phone)
	}

	w = a.do(http.MethodGet, "/v1/calls/"+body.Details.Call.ID, nil, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"FAILED"`) {
		t.Fatalf("expected persisted FAILED call, got %d %s", w.Code, w.Body.String())
	}
}

func TestListAndPending(t *testing.T) {
	a := newTestAPI(t)
	for _, body := range []string{
		`{"driverName":"Ana","phoneNumber":"+34600111222"}`,
		`{"driverName":"Bea","phoneNumber":"+34600333444"}`,
	} {
		if w := a.do(http.MethodPost, "/v1/calls/trigger", []byte(body), "application/json"); w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
		}
	}

	w := a.do(http.MethodGet, "/v1/calls?q=bea&status=running&pageSize=1", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var page struct {
		Total int `json:"total"`
		Items []struct {
			Rider struct {
				Name string `json:"name"`
			} `json:"rider"`
		} `json:"items"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &page)
	if page.Total != 1 || len(page.Items) != 1 || page.Items[0].Rider.Name != "Bea" {
		t.Fatalf("unexpected page %s", w.Body.String())
	}

	if w := a.do(http.MethodGet, "/v1/calls?status=bogus", nil, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", w.Code)
	}
	if w := a.do(http.MethodGet, "/v1/calls?page=x", nil, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad page, got %d", w.Code)
	}
	if w := a.do(http.MethodGet, "/v1/calls/not-a-uuid", nil, ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w = a.do(http.MethodGet, "/v1/riders/pending", nil, "")
	var pending struct {
		Items []json.RawMessage `json:"items"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &pending)
	if w.Code != http.StatusOK || len(pending.Items) != 2 {
		t.Fatalf("expected two pending riders, got %d %s", w.Code, w.Body.String())
	}
}

func TestImport_RawAndMultipart(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(http.MethodPost, "/v1/imports?schema=v2", []byte("name,phone,city,doc_dni\nAna,600111222,Madrid,yes\n"), "text/csv")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ridersCreated":1`) {
		t.Fatalf("raw import: %d %s", w.Code, w.Body.String())
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "riders.csv")
	_, _ = fw.Write([]byte("external_id,phone,contact_status\n7,+34600999888,no answer\n"))
	_ = mw.Close()
	w = a.do(http.MethodPost, "/v1/imports", buf.Bytes(), mw.FormDataContentType())
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"schema":"legacy"`) || !strings.Contains(w.Body.String(), `"callsCreated":1`) {
		t.Fatalf("multipart import: %d %s", w.Code, w.Body.String())
	}

	if w := a.do(http.MethodPost, "/v1/imports?schema=xml", []byte("a\n1\n"), "text/csv"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown schema, got %d", w.Code)
	}
}

func TestCallsSummaryAndHealth(t *testing.T) {
	a := newTestAPI(t)
	a.do(http.MethodPost, "/v1/calls/trigger", []byte(`{"driverName":"Ana","phoneNumber":"+34600111222"}`), "application/json")

	w := a.do(http.MethodGet, "/v1/reports/calls-summary", nil, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"totalCalls":1`) {
		t.Fatalf("summary: %d %s", w.Code, w.Body.String())
	}
	if w := a.do(http.MethodGet, "/v1/reports/calls-summary?from=2026-05-02&to=2026-05-01", nil, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted range, got %d", w.Code)
	}
	if w := a.do(http.MethodGet, "/healthz", nil, ""); w.Code != http.StatusOK {
		t.Fatalf("healthz: %d", w.Code)
	}
}

func TestCallEvents(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(http.MethodPost, "/v1/calls/trigger", []byte(`{"driverName":"Ana","phoneNumber":"+34600111222"}`), "application/json")
	var out triggerResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}

	w = a.do(http.MethodGet, "/v1/calls/"+out.Call.ID+"/events", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var page struct {
		Items []audit.Event `json:"items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Type != audit.EventTriggerAccepted {
		t.Fatalf("expected one trigger_accepted event, got %+v", page.Items)
	}
	if page.Items[0].ActorUserID == nil || *page.Items[0].ActorUserID != operatorID {
		t.Fatalf("expected operator as actor, got %v", page.Items[0].ActorUserID)
	}

	w = a.do(http.MethodGet, "/v1/calls/00000000-0000-0000-0000-000000000000/events", nil, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown call, got %d", w.Code)
	}
}
