package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/agentdesk/internal/domain"
)

// Storage keys for the agentdesk server session.
const (
	keyServer = "auth:server"
	keyToken  = "auth:token"

	defaultServer = "http://localhost:4000"
)

// bearerTransport attaches the session token to every server request.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if t.token != "" {
		r = r.Clone(r.Context())
		r.Header.Set("Authorization", "Bearer "+t.token)
	}
	return t.base.RoundTrip(r)
}

// serverClient talks to the agentdesk HTTP API.
type serverClient struct {
	baseURL string
	http    *http.Client
}

// serverError is a non-2xx reply from the server.
type serverError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *serverError) Error() string {
	return fmt.Sprintf("%s %s: %s (%d)", e.Method, e.Path, e.Message, e.Status)
}

func newServerClient(baseURL, token string) *serverClient {
	return &serverClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Transport: &bearerTransport{token: token, base: http.DefaultTransport},
			Timeout:   30 * time.Second,
		},
	}
}

type loginResponse struct {
	Token string            `json:"token"`
	User  domain.PublicUser `json:"user"`
}

type userResponse struct {
	User domain.PublicUser `json:"user"`
}

func (c *serverClient) login(ctx context.Context, username, password string) (loginResponse, error) {
	var out loginResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, &out)
	return out, err
}

func (c *serverClient) me(ctx context.Context) (domain.PublicUser, error) {
	var out userResponse
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &out); err != nil {
		return domain.PublicUser{}, err
	}
	return out.User, nil
}

func (c *serverClient) logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
}

type agentListResponse struct {
	Agents     []domain.Agent `json:"agents"`
	Pagination struct {
		Total int `json:"total"`
		Page  int `json:"page"`
		Pages int `json:"pages"`
	} `json:"pagination"`
}

// listAgents pages through every active agent.
func (c *serverClient) listAgents(ctx context.Context) ([]domain.Agent, error) {
	var all []domain.Agent
	for page := 1; ; page++ {
		var out agentListResponse
		path := fmt.Sprintf("/api/agents?active=true&limit=100&page=%d", page)
		if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
			return nil, err
		}
		all = append(all, out.Agents...)
		if page >= out.Pagination.Pages || len(out.Agents) == 0 {
			return all, nil
		}
	}
}

// agentByAssistant returns the agent fronting assistantID, or nil when no
// active agent does.
func (c *serverClient) agentByAssistant(ctx context.Context, assistantID string) (*domain.Agent, error) {
	var out domain.Agent
	err := c.do(ctx, http.MethodGet, "/api/agents/by-assistant/"+url.PathEscape(assistantID), nil, &out)
	var se *serverError
	if errors.As(err, &se) && se.Status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *serverClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4<<10)).Decode(&apiErr)
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return &serverError{Method: method, Path: path, Status: resp.StatusCode, Message: apiErr.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
