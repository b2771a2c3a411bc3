// Package agent is a client for the long-running browser agent provider used
// to research contacts. Tasks are created with a natural-language prompt and
// polled until the provider reports a terminal status.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-cli/internal/resilience"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "https://api.browser-use.com/api/v1"

// Client defines the agent provider operations.
type Client interface {
	CreateTask(ctx context.Context, req CreateTaskRequest) (*CreateTaskResponse, error)
	GetTask(ctx context.Context, id string) (*TaskResponse, error)
}

// CreateTaskRequest is the body for POST /tasks.
type CreateTaskRequest struct {
	Prompt string `json:"prompt"`
}

// CreateTaskResponse is the handle returned by POST /tasks. Providers name
// the fields either id/url or task_id/live_url.
type CreateTaskResponse struct {
	ID  string
	URL string
}

// UnmarshalJSON accepts both field spellings.
func (r *CreateTaskResponse) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID      string `json:"id"`
		TaskID  string `json:"task_id"`
		URL     string `json:"url"`
		LiveURL string `json:"live_url"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.ID = firstNonEmpty(raw.ID, raw.TaskID)
	r.URL = firstNonEmpty(raw.URL, raw.LiveURL)
	return nil
}

// TaskResponse is the response from GET /tasks/{id}. Output is left raw; its
// shape varies by provider version and is decoded by the result parser.
type TaskResponse struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	Output      json.RawMessage `json:"output"`
	Error       string          `json:"error"`
	OutputFiles json.RawMessage `json:"output_files"`
}

// Phase is the provider status collapsed to what the reconciler acts on.
type Phase string

const (
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// PhaseOf maps a provider status string onto a Phase. Unknown statuses are
// treated as still running.
func PhaseOf(status string) Phase {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "completed", "done", "finished", "succeeded":
		return PhaseCompleted
	case "failed", "error", "cancelled", "canceled":
		return PhaseFailed
	default:
		return PhaseRunning
	}
}

// APIError is returned when the provider responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("agent: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new agent provider client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) CreateTask(ctx context.Context, req CreateTaskRequest) (*CreateTaskResponse, error) {
	var resp CreateTaskResponse
	if err := c.post(ctx, "/tasks", req, &resp); err != nil {
		return nil, eris.Wrap(err, "agent: create task")
	}
	if resp.ID == "" {
		return nil, eris.New("agent: create task: response has no task id")
	}
	return &resp, nil
}

func (c *httpClient) GetTask(ctx context.Context, id string) (*TaskResponse, error) {
	var resp TaskResponse
	if err := c.get(ctx, "/tasks/"+url.PathEscape(id), &resp); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("agent: get task %s", id))
	}
	return &resp, nil
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *httpClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	return c.do(req, out)
}

func (c *httpClient) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		return resilience.ClassifyHTTP("agent", resp.StatusCode, apiErr)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
