package langgraph

import (
	"encoding/json"
	"fmt"
)

// Message types used by LangGraph chat graphs.
const (
	MessageHuman = "human"
	MessageAI    = "ai"
	MessageTool  = "tool"
)

// ToolCall is a tool invocation requested by an AI message.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Message is one entry of a thread's "messages" state.
type Message struct {
	ID         string     `json:"id,omitempty"`
	Type       string     `json:"type"`
	Content    any        `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Text returns the message content flattened to a string. Content may be a
// plain string or a list of typed parts.
func (m Message) Text() string {
	switch c := m.Content.(type) {
	case nil:
		return ""
	case string:
		return c
	case []any:
		var out string
		for _, part := range c {
			if p, ok := part.(map[string]any); ok {
				if text, ok := p["text"].(string); ok {
					out += text
				}
			}
		}
		return out
	default:
		return fmt.Sprint(c)
	}
}

// ValuesState is the payload of a "values" stream event.
type ValuesState struct {
	Messages []Message `json:"messages"`
}

// DecodeValues parses a "values" event payload.
func DecodeValues(data json.RawMessage) (ValuesState, error) {
	var st ValuesState
	if err := json.Unmarshal(data, &st); err != nil {
		return ValuesState{}, fmt.Errorf("decode values event: %w", err)
	}
	return st, nil
}
