package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHappyRobotClient_StartWorkflow(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key-1" {
			t.Errorf("missing bearer auth, got %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"queued_run_ids":["run_1"],"status":"queued"}`))
	}))
	defer srv.Close()

	c := NewHappyRobotClient(HappyRobotConfig{WorkflowURL: srv.URL, APIKey: "key-1"}, srv.Client())
	run, err := c.StartWorkflow(context.Background(), WorkflowRequest{
		PhoneNumber: "+34600111222",
		CallbackURL: "https://api.example.com/webhooks/happyrobot",
		Context:     map[string]any{"source": map[string]any{"rider_call_id": "c1"}},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if run.RunID != "run_1" {
		t.Fatalf("expected run_1, got %q", run.RunID)
	}
	if got["phone_number"] != "+34600111222" {
		t.Fatalf("unexpected body %v", got)
	}
	src := got["context"].(map[string]any)["source"].(map[string]any)
	if src["rider_call_id"] != "c1" {
		t.Fatalf("expected rider_call_id in context, got %v", src)
	}
}

func TestHappyRobotClient_Non2xxIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewHappyRobotClient(HappyRobotConfig{WorkflowURL: srv.URL}, srv.Client())
	run, err := c.StartWorkflow(context.Background(), WorkflowRequest{PhoneNumber: "+34600111222"})
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if run.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected status recorded, got %d", run.StatusCode)
	}
}

func TestHappyRobotClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewHappyRobotClient(HappyRobotConfig{WorkflowURL: url}, nil)
	if _, err := c.StartWorkflow(context.Background(), WorkflowRequest{}); !IsProviderError(err) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestExtractRunID(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{`{"queued_run_ids":["a","b"]}`, "a"},
		{`{"queued_run_ids":[],"run_id":"r"}`, "r"},
		{`{"queued_run_id":"q"}`, "q"},
		{`{"runId":"camel"}`, "camel"},
		{`{"data":{"run_id":"nested"}}`, "nested"},
		{`{"run":{"id":"deep"}}`, "deep"},
		{`{"nothing":true}`, ""},
	}
	for _, tc := range cases {
		var m map[string]any
		if err := json.Unmarshal([]byte(tc.body), &m); err != nil {
			t.Fatalf("bad fixture: %v", err)
		}
		if got := ExtractRunID(m); got != tc.want {
			t.Fatalf("ExtractRunID(%s) = %q want %q", tc.body, got, tc.want)
		}
	}
}
