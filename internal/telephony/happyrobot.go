package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxResponseBody = 1 << 20

// HappyRobotClient starts HappyRobot workflows over their webhook trigger API.
type HappyRobotClient struct {
	workflowURL string
	apiKey      string
	httpClient  *http.Client
}

type HappyRobotConfig struct {
	WorkflowURL string
	APIKey      string
	Timeout     time.Duration
}

func NewHappyRobotClient(cfg HappyRobotConfig, httpClient *http.Client) *HappyRobotClient {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &HappyRobotClient{workflowURL: cfg.WorkflowURL, apiKey: cfg.APIKey, httpClient: httpClient}
}

func (c *HappyRobotClient) Name() string { return "happyrobot" }

// StartWorkflow posts the request and extracts the queued run id.
// Any transport error, non-2xx status or response without a run id wraps ErrProvider.
func (c *HappyRobotClient) StartWorkflow(ctx context.Context, req WorkflowRequest) (WorkflowRun, error) {
	if strings.TrimSpace(c.workflowURL) == "" {
		return WorkflowRun{}, fmt.Errorf("%w: workflow url not configured", ErrProvider)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return WorkflowRun{}, fmt.Errorf("encode workflow request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.workflowURL, bytes.NewReader(body))
	if err != nil {
		return WorkflowRun{}, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return WorkflowRun{}, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return WorkflowRun{}, fmt.Errorf("%w: read response: %v", ErrProvider, err)
	}
	run := WorkflowRun{StatusCode: resp.StatusCode}
	if len(bytes.TrimSpace(raw)) > 0 {
		var parsed map[string]any
		if err := json.Unmarshal(raw, &parsed); err == nil {
			run.Raw = parsed
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return run, fmt.Errorf("%w: status %d: %s", ErrProvider, resp.StatusCode, snippet(raw))
	}
	run.RunID = ExtractRunID(run.Raw)
	if run.RunID == "" {
		return run, fmt.Errorf("%w: response carried no run id", ErrProvider)
	}
	return run, nil
}

var runIDPaths = [][]string{
	{"queued_run_ids"},
	{"queued_run_id"},
	{"run_id"},
	{"runId"},
	{"id"},
	{"data", "run_id"},
	{"data", "id"},
	{"run", "id"},
}

// ExtractRunID returns the first non-empty run id found in a trigger response.
// queued_run_ids is a list; its first element is used.
func ExtractRunID(body map[string]any) string {
	for _, path := range runIDPaths {
		v, ok := lookup(body, path)
		if !ok {
			continue
		}
		if list, ok := v.([]any); ok {
			if len(list) == 0 {
				continue
			}
			v = list[0]
		}
		if s := scalarString(v); s != "" {
			return s
		}
	}
	return ""
}

func lookup(m map[string]any, path []string) (any, bool) {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return ""
	}
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 300 {
		s = s[:300] + "..."
	}
	return s
}

// IsProviderError reports whether err came from a provider adapter.
func IsProviderError(err error) bool { return errors.Is(err, ErrProvider) }
