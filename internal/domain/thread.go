package domain

import (
	"encoding/json"
	"fmt"
)

// Thread is one conversation as tracked by the external assistant API.
// Fields keeps every top-level property so timestamp inference can probe
// keys the API does not document.
type Thread struct {
	ThreadID string         `json:"thread_id"`
	Values   map[string]any `json:"values,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Fields   map[string]any `json:"-"`
}

// UnmarshalJSON decodes the known fields and keeps the raw key-value view.
func (t *Thread) UnmarshalJSON(data []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode thread: %w", err)
	}
	*t = Thread{Fields: fields}
	if id, ok := fields["thread_id"].(string); ok {
		t.ThreadID = id
	}
	if v, ok := fields["values"].(map[string]any); ok {
		t.Values = v
	}
	if m, ok := fields["metadata"].(map[string]any); ok {
		t.Metadata = m
	}
	return nil
}

// MarshalJSON writes the raw view back out, with the known fields on top.
func (t Thread) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(t.Fields)+3)
	for k, v := range t.Fields {
		out[k] = v
	}
	out["thread_id"] = t.ThreadID
	if t.Values != nil {
		out["values"] = t.Values
	}
	if t.Metadata != nil {
		out["metadata"] = t.Metadata
	}
	return json.Marshal(out)
}
