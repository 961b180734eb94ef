// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/agentdesk/internal/domain"
)

// AgentFilter narrows and pages an agent listing.
type AgentFilter struct {
	// Active restricts the listing to agents with this flag when non-nil.
	Active *bool
	Offset int
	Limit  int
}

// UserRepository persists user accounts.
type UserRepository interface {
	// GetUser retrieves a user by ID. It returns nil, nil when absent.
	GetUser(ctx context.Context, id string) (*domain.User, error)

	// GetUserByUsername retrieves a user by exact username. It returns nil, nil when absent.
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)

	// CreateUser inserts a new user. ID and timestamps are filled in when empty.
	CreateUser(ctx context.Context, user *domain.User) error

	// UpdateLastLogin records a successful login.
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error

	// UpdateUserName changes the display name and returns the updated user.
	UpdateUserName(ctx context.Context, id, name string) (*domain.User, error)

	// SetUserActive flips the active flag of the named user.
	SetUserActive(ctx context.Context, username string, active bool) error
}

// AgentRepository persists the agent catalog.
type AgentRepository interface {
	// ListAgents returns agents matching filter, most recently updated first.
	ListAgents(ctx context.Context, filter AgentFilter) ([]*domain.Agent, error)

	// CountAgents counts agents matching filter, ignoring paging.
	CountAgents(ctx context.Context, filter AgentFilter) (int, error)

	// GetAgent retrieves an agent by ID. It returns nil, nil when absent.
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)

	// GetAgentByAssistantID retrieves the most recently updated agent
	// pointing at assistantID. It returns nil, nil when absent.
	GetAgentByAssistantID(ctx context.Context, assistantID string, activeOnly bool) (*domain.Agent, error)

	// CreateAgent inserts an agent. It returns domain.ErrDuplicateName on a
	// display name collision.
	CreateAgent(ctx context.Context, agent *domain.Agent) error

	// UpdateAgent overwrites the writable fields of an existing agent.
	UpdateAgent(ctx context.Context, agent *domain.Agent) error

	// DeleteAgent permanently removes an agent.
	DeleteAgent(ctx context.Context, id string) error

	// ToggleAgentActive flips the active flag in a single statement and
	// returns the updated agent.
	ToggleAgentActive(ctx context.Context, id string) (*domain.Agent, error)
}

// Repository is the full persistence surface of the server.
type Repository interface {
	UserRepository
	AgentRepository

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
