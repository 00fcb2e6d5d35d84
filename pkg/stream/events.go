// Package stream normalizes raw agent events into a closed event vocabulary
// and renders normalized events as AI SDK UI-message-stream SSE frames.
//
// Workers emit heterogeneous line-JSON on stdout (two dialects: the
// Anthropic-style indexed block stream and the simplified line protocol of
// the in-house wrappers). The Parser converts both into Event values;
// the Formatter converts Event values into well-bracketed SSE frames.
package stream

// EventType enumerates the normalized event vocabulary. The set is closed:
// both the parser and the formatter know every member, and anything a
// worker emits outside of it maps to EventRaw or EventUnknown.
type EventType string

const (
	EventStart         EventType = "start"
	EventDone          EventType = "done"
	EventError         EventType = "error"
	EventPing          EventType = "ping"
	EventStatus        EventType = "status"
	EventText          EventType = "text"
	EventTextDelta     EventType = "text_delta"
	EventThinking      EventType = "thinking"
	EventThinkingDelta EventType = "thinking_delta"
	EventToolUseStart  EventType = "tool_use_start"
	EventToolUseDelta  EventType = "tool_use_delta"
	EventToolUseEnd    EventType = "tool_use_end"
	EventToolResult    EventType = "tool_result"
	EventMetadata      EventType = "metadata"
	EventUsage         EventType = "usage"
	EventResult        EventType = "result"
	EventTodoCreate    EventType = "todo_create"
	EventTodoUpdate    EventType = "todo_update"
	EventTodoDone      EventType = "todo_done"
	EventRaw           EventType = "raw"
	EventUnknown       EventType = "unknown"
)

// Event is a normalized agent event.
type Event struct {
	Type EventType
	Data map[string]any
	// Index is the block index for the Anthropic indexed-block dialect;
	// nil for the simplified line dialects.
	Index *int
	// ID is the stable block or tool-call id, when one exists.
	ID string
}

// Str returns the string at key, or "" when absent or not a string.
func str(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// obj returns the nested object at key, or nil.
func obj(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	o, _ := m[key].(map[string]any)
	return o
}

// list returns the slice at key, or nil.
func list(m map[string]any, key string) []any {
	if m == nil {
		return nil
	}
	l, _ := m[key].([]any)
	return l
}

// num returns the numeric value at key as an int. JSON numbers decode as
// float64; string-encoded integers are not accepted.
func num(m map[string]any, key string) int {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// truthy reports whether the value at key is a true boolean.
func truthy(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	b, _ := m[key].(bool)
	return b
}
