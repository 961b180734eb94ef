package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxStarterQuestions is the most starter questions an agent may carry.
	MaxStarterQuestions = 6
	// MaxStarterQuestionLength is the per-question character limit.
	MaxStarterQuestionLength = 150
)

// Agent is an admin-curated pointer to an external assistant.
type Agent struct {
	ID               string    `json:"id"`
	DisplayName      string    `json:"displayName"`
	GraphName        string    `json:"graphName"`
	Category         string    `json:"category"`
	Description      string    `json:"description"`
	AssistantID      string    `json:"assistantId"`
	Active           bool      `json:"active"`
	StarterQuestions []string  `json:"starterQuestions"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// MarshalJSON adds the lastModified alias clients key their tables on.
func (a Agent) MarshalJSON() ([]byte, error) {
	type plain Agent
	questions := a.StarterQuestions
	if questions == nil {
		questions = []string{}
	}
	p := plain(a)
	p.StarterQuestions = questions
	return json.Marshal(struct {
		plain
		LastModified time.Time `json:"lastModified"`
	}{plain: p, LastModified: a.UpdatedAt})
}

// AgentInput is the writable subset of an agent used by create and update.
type AgentInput struct {
	DisplayName      string   `json:"displayName" yaml:"displayName"`
	GraphName        string   `json:"graphName" yaml:"graphName"`
	Category         string   `json:"category" yaml:"category"`
	Description      string   `json:"description" yaml:"description"`
	AssistantID      string   `json:"assistantId" yaml:"assistantId"`
	Active           *bool    `json:"active,omitempty" yaml:"active,omitempty"`
	StarterQuestions []string `json:"starterQuestions" yaml:"starterQuestions"`
}

// Normalize trims surrounding whitespace from every text field.
func (in AgentInput) Normalize() AgentInput {
	out := in
	out.DisplayName = strings.TrimSpace(in.DisplayName)
	out.GraphName = strings.TrimSpace(in.GraphName)
	out.Category = strings.TrimSpace(in.Category)
	out.Description = strings.TrimSpace(in.Description)
	out.AssistantID = strings.TrimSpace(in.AssistantID)
	if in.StarterQuestions != nil {
		out.StarterQuestions = make([]string, len(in.StarterQuestions))
		copy(out.StarterQuestions, in.StarterQuestions)
	}
	return out
}

// Validate collects every violation in the input. It returns nil when the
// input is acceptable.
func (in AgentInput) Validate() error {
	var violations []string
	if strings.TrimSpace(in.DisplayName) == "" {
		violations = append(violations, "Display name is required")
	}
	if strings.TrimSpace(in.GraphName) == "" {
		violations = append(violations, "Graph name is required")
	}
	if strings.TrimSpace(in.Category) == "" {
		violations = append(violations, "Category is required")
	}
	if strings.TrimSpace(in.AssistantID) == "" {
		violations = append(violations, "Assistant ID is required")
	}
	if len(in.StarterQuestions) > MaxStarterQuestions {
		violations = append(violations,
			fmt.Sprintf("An agent can have a maximum of %d starter questions", MaxStarterQuestions))
	}
	for i, q := range in.StarterQuestions {
		if utf8.RuneCountInString(q) > MaxStarterQuestionLength {
			violations = append(violations,
				fmt.Sprintf("Starter question %d must be %d characters or less", i+1, MaxStarterQuestionLength))
		}
	}
	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}
