// Package runtime supervises headless agent containers. Each task agent,
// critic, and ephemeral worker runs as one containerized process; the
// runtime tracks its status state machine and ordered event log.
package runtime

import (
	"encoding/json"
	"fmt"
)

// StreamEventType represents the type of stream event from an agent process.
type StreamEventType string

const (
	// StreamEventSystem indicates a system message (session setup, context load).
	StreamEventSystem StreamEventType = "system"
	// StreamEventAssistant indicates an assistant message or tool use.
	StreamEventAssistant StreamEventType = "assistant"
	// StreamEventResult indicates the final result message.
	StreamEventResult StreamEventType = "result"
	// StreamEventError indicates an error.
	StreamEventError StreamEventType = "error"
)

// StreamEvent represents a parsed event from the agent's stream-json output.
type StreamEvent struct {
	// Type is the event type.
	Type StreamEventType `json:"type"`
	// Message contains the event content when applicable.
	Message string `json:"message,omitempty"`
	// Error contains error details when Type is StreamEventError.
	Error string `json:"error,omitempty"`
	// Raw contains the original JSON for debugging.
	Raw json.RawMessage `json:"-"`
}

// parseStreamEvent parses a JSON line into a StreamEvent.
func parseStreamEvent(data []byte) (StreamEvent, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return StreamEvent{}, fmt.Errorf("unmarshal json: %w", err)
	}

	event := StreamEvent{Raw: append([]byte(nil), data...)}

	if t, ok := raw["type"].(string); ok {
		event.Type = StreamEventType(t)
	}

	switch event.Type {
	case StreamEventSystem, StreamEventAssistant:
		if msg, ok := raw["message"].(string); ok {
			event.Message = msg
		} else if content, ok := raw["content"].(string); ok {
			event.Message = content
		}
	case StreamEventResult:
		if result, ok := raw["result"].(string); ok {
			event.Message = result
		} else if content, ok := raw["content"].(string); ok {
			event.Message = content
		}
	case StreamEventError:
		if errMsg, ok := raw["error"].(string); ok {
			event.Error = errMsg
		} else if msg, ok := raw["message"].(string); ok {
			event.Error = msg
		}
	}

	return event, nil
}
