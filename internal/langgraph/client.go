// Package langgraph is an HTTP client for LangGraph-compatible assistant APIs.
package langgraph

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/agentdesk/internal/domain"
)

const (
	// APIKeyHeader is the header the assistant API reads its key from.
	APIKeyHeader = "X-Api-Key"

	defaultRequestTimeout = 30 * time.Second
	maxErrorBody          = 4 << 10
	maxSSELine            = 1 << 20
)

// Config holds client settings.
type Config struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	// HTTPClient is optional; its Transport is wrapped to attach the API key.
	HTTPClient *http.Client
}

// Client talks to one assistant API deployment.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	timeout time.Duration
}

// apiKeyTransport attaches the API key to every request the client sends.
type apiKeyTransport struct {
	key  string
	base http.RoundTripper
}

func (t *apiKeyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if t.key != "" {
		r = r.Clone(r.Context())
		r.Header.Set(APIKeyHeader, t.key)
	}
	return t.base.RoundTrip(r)
}

// NewClient creates a client for the deployment at cfg.BaseURL.
func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if raw == "" {
		return nil, fmt.Errorf("assistant API URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid assistant API URL %q", cfg.BaseURL)
	}

	base := http.DefaultTransport
	var jar http.CookieJar
	if cfg.HTTPClient != nil {
		if cfg.HTTPClient.Transport != nil {
			base = cfg.HTTPClient.Transport
		}
		jar = cfg.HTTPClient.Jar
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &Client{
		baseURL: u,
		http: &http.Client{
			Transport: &apiKeyTransport{key: cfg.APIKey, base: base},
			Jar:       jar,
		},
		timeout: timeout,
	}, nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

// do sends a JSON request and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.send(ctx, op, method, path, body)
	if err != nil {
		return err
	}
	defer closeBody(resp.Body)

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.UpstreamError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// send performs the request and converts non-2xx replies to UpstreamError.
// The caller owns the returned body.
func (c *Client) send(ctx context.Context, op, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.UpstreamError{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer closeBody(resp.Body)
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &domain.UpstreamError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return resp, nil
}

func closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		slog.Debug("failed to close response body", "error", err)
	}
}

// Info checks that the deployment is reachable.
func (c *Client) Info(ctx context.Context) error {
	return c.do(ctx, "info", http.MethodGet, "/info", nil, nil)
}

// SearchAssistants lists the assistants exposed by the deployment, returning
// the raw upstream payload untouched.
func (c *Client) SearchAssistants(ctx context.Context) (json.RawMessage, error) {
	req := map[string]any{
		"metadata": map[string]any{},
		"graph_id": "",
		"limit":    50,
		"offset":   0,
	}
	var out json.RawMessage
	if err := c.do(ctx, "search assistants", http.MethodPost, "/assistants/search", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ThreadSearch filters a thread listing.
type ThreadSearch struct {
	Metadata map[string]any `json:"metadata,omitempty"`
	Limit    int            `json:"limit"`
	Offset   int            `json:"offset"`
}

// SearchThreads lists threads visible to the API key.
func (c *Client) SearchThreads(ctx context.Context, q ThreadSearch) ([]domain.Thread, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	var out []domain.Thread
	if err := c.do(ctx, "search threads", http.MethodPost, "/threads/search", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateThread creates an empty thread and returns its ID.
func (c *Client) CreateThread(ctx context.Context, metadata map[string]any) (string, error) {
	body := map[string]any{}
	if metadata != nil {
		body["metadata"] = metadata
	}
	var out domain.Thread
	if err := c.do(ctx, "create thread", http.MethodPost, "/threads", body, &out); err != nil {
		return "", err
	}
	if out.ThreadID == "" {
		return "", &domain.UpstreamError{Op: "create thread", Status: http.StatusOK, Body: "response has no thread_id"}
	}
	return out.ThreadID, nil
}

// GetThreadState returns the current values of a thread.
func (c *Client) GetThreadState(ctx context.Context, threadID string) (ValuesState, error) {
	var out struct {
		Values ValuesState `json:"values"`
	}
	path := "/threads/" + url.PathEscape(threadID) + "/state"
	if err := c.do(ctx, "get thread state", http.MethodGet, path, nil, &out); err != nil {
		return ValuesState{}, err
	}
	return out.Values, nil
}

// RunInput starts a streamed run.
type RunInput struct {
	AssistantID string         `json:"assistant_id"`
	Input       map[string]any `json:"input,omitempty"`
	StreamMode  []string       `json:"stream_mode"`
}

// StreamEvent is one server-sent event from a run stream.
type StreamEvent struct {
	Event string
	Data  json.RawMessage
}

// StreamRun starts a run on threadID and yields its events as they arrive.
// The sequence ends after the "end" event, on EOF, or on the first error.
func (c *Client) StreamRun(ctx context.Context, threadID string, in RunInput) iter.Seq2[StreamEvent, error] {
	return func(yield func(StreamEvent, error) bool) {
		if len(in.StreamMode) == 0 {
			in.StreamMode = []string{"values"}
		}
		path := "/threads/" + url.PathEscape(threadID) + "/runs/stream"
		resp, err := c.send(ctx, "stream run", http.MethodPost, path, in)
		if err != nil {
			yield(StreamEvent{}, err)
			return
		}
		defer closeBody(resp.Body)

		for ev, err := range readSSE(resp.Body) {
			if err != nil {
				yield(StreamEvent{}, &domain.UpstreamError{Op: "stream run", Status: resp.StatusCode, Err: err})
				return
			}
			if !yield(ev, nil) {
				return
			}
			if ev.Event == "end" {
				return
			}
		}
	}
}

// readSSE parses a text/event-stream body.
func readSSE(r io.Reader) iter.Seq2[StreamEvent, error] {
	return func(yield func(StreamEvent, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64<<10), maxSSELine)

		var event string
		var data []string
		flush := func() bool {
			if event == "" && len(data) == 0 {
				return true
			}
			ev := StreamEvent{Event: event, Data: json.RawMessage(strings.Join(data, "\n"))}
			if ev.Event == "" {
				ev.Event = "message"
			}
			event, data = "", nil
			return yield(ev, nil)
		}

		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if !flush() {
					return
				}
			case strings.HasPrefix(line, ":"):
				// keepalive comment
			case strings.HasPrefix(line, "event:"):
				event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			}
		}
		if err := scanner.Err(); err != nil {
			yield(StreamEvent{}, err)
			return
		}
		flush()
	}
}
