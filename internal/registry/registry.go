// Package registry implements the agent catalog operations on top of the
// store.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/langgraph"
	"github.com/ashureev/agentdesk/internal/store"
	"golang.org/x/sync/errgroup"
)

// Paging defaults.
const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// ListParams selects one page of agents.
type ListParams struct {
	Page   int
	Limit  int
	Active *bool
}

// Page is one page of a listing.
type Page struct {
	Agents []*domain.Agent `json:"agents"`
	Total  int             `json:"total"`
	Page   int             `json:"page"`
	Pages  int             `json:"pages"`
}

// AssistantSource lists the assistants of one deployment.
type AssistantSource interface {
	SearchAssistants(ctx context.Context) (json.RawMessage, error)
}

// SourceFactory connects to the deployment at apiURL.
type SourceFactory func(apiURL, apiKey string) (AssistantSource, error)

func langgraphSource(apiURL, apiKey string) (AssistantSource, error) {
	client, err := langgraph.NewClient(langgraph.Config{BaseURL: apiURL, APIKey: apiKey})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Service manages the agent catalog.
type Service struct {
	agents    store.AgentRepository
	newSource SourceFactory
}

// NewService creates a registry over agents. A nil factory uses the
// LangGraph client.
func NewService(agents store.AgentRepository, newSource SourceFactory) *Service {
	if newSource == nil {
		newSource = langgraphSource
	}
	return &Service{agents: agents, newSource: newSource}
}

// List returns one page of agents. Non-admin callers only ever see active
// agents, whatever filter they ask for.
func (s *Service) List(ctx context.Context, p ListParams, role domain.Role) (Page, error) {
	if p.Page < 1 {
		p.Page = DefaultPage
	}
	if p.Limit < 1 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}

	filter := store.AgentFilter{Active: p.Active, Offset: (p.Page - 1) * p.Limit, Limit: p.Limit}
	if role != domain.RoleAdmin {
		active := true
		filter.Active = &active
	}

	var (
		agents []*domain.Agent
		total  int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		agents, err = s.agents.ListAgents(gctx, filter)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.agents.CountAgents(gctx, filter)
		return err
	})
	if err := g.Wait(); err != nil {
		return Page{}, fmt.Errorf("list agents: %w", err)
	}
	if agents == nil {
		agents = []*domain.Agent{}
	}

	return Page{
		Agents: agents,
		Total:  total,
		Page:   p.Page,
		Pages:  (total + p.Limit - 1) / p.Limit,
	}, nil
}

// Get returns the agent with id.
func (s *Service) Get(ctx context.Context, id string) (*domain.Agent, error) {
	agent, err := s.agents.GetAgent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	if agent == nil {
		return nil, domain.ErrNotFound
	}
	return agent, nil
}

// GetByAssistantID resolves the agent that fronts an assistant. Only admins
// can resolve inactive agents.
func (s *Service) GetByAssistantID(ctx context.Context, assistantID string, role domain.Role) (*domain.Agent, error) {
	agent, err := s.agents.GetAgentByAssistantID(ctx, assistantID, role != domain.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("get agent by assistant: %w", err)
	}
	if agent == nil {
		return nil, domain.ErrNotFound
	}
	return agent, nil
}

// Create validates and stores a new agent. Agents are active unless the
// input says otherwise.
func (s *Service) Create(ctx context.Context, in domain.AgentInput) (*domain.Agent, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}
	agent := &domain.Agent{Active: true}
	apply(agent, in)

	if err := s.agents.CreateAgent(ctx, agent); err != nil {
		return nil, err
	}
	slog.Info("Agent created", "agent_id", agent.ID, "display_name", agent.DisplayName)
	return agent, nil
}

// Update replaces the writable fields of an agent. The active flag is kept
// when the input omits it.
func (s *Service) Update(ctx context.Context, id string, in domain.AgentInput) (*domain.Agent, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}
	agent, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	apply(agent, in)

	if err := s.agents.UpdateAgent(ctx, agent); err != nil {
		return nil, err
	}
	slog.Info("Agent updated", "agent_id", agent.ID)
	return agent, nil
}

// Delete permanently removes an agent.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.agents.DeleteAgent(ctx, id); err != nil {
		return err
	}
	slog.Info("Agent deleted", "agent_id", id)
	return nil
}

// ToggleActive flips the active flag and returns the updated agent.
func (s *Service) ToggleActive(ctx context.Context, id string) (*domain.Agent, error) {
	agent, err := s.agents.ToggleAgentActive(ctx, id)
	if err != nil {
		return nil, err
	}
	slog.Info("Agent active flag toggled", "agent_id", id, "active", agent.Active)
	return agent, nil
}

// FetchAvailable lists the assistants deployed at apiURL, returning the
// upstream payload unchanged.
func (s *Service) FetchAvailable(ctx context.Context, apiURL, apiKey string) (json.RawMessage, error) {
	src, err := s.newSource(apiURL, apiKey)
	if err != nil {
		return nil, &domain.ValidationError{Violations: []string{err.Error()}}
	}
	raw, err := src.SearchAssistants(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch available agents: %w", err)
	}
	return raw, nil
}

func apply(agent *domain.Agent, in domain.AgentInput) {
	agent.DisplayName = in.DisplayName
	agent.GraphName = in.GraphName
	agent.Category = in.Category
	agent.Description = in.Description
	agent.AssistantID = in.AssistantID
	agent.StarterQuestions = in.StarterQuestions
	if agent.StarterQuestions == nil {
		agent.StarterQuestions = []string{}
	}
	if in.Active != nil {
		agent.Active = *in.Active
	}
}
