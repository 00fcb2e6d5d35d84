// Package sandbox executes agent workers and streams their line-JSON
// output as events.
//
// Two backends exist: SubprocessRunner launches the worker directly on the
// host, DockerRunner runs it inside a per-session container. Both satisfy
// Runner and both guarantee that the returned channel delivers a terminal
// event (done, error, or exit) before it closes.
package sandbox

import (
	"context"
	"encoding/json"

	"github.com/mobox-ai/mobox/pkg/agent"
)

// AgentEvent is one decoded line from a worker's stdout.
type AgentEvent struct {
	Type string
	Data map[string]any

	// fields holds the full decoded object. The Anthropic dialect puts
	// payloads beside "type" rather than under "data", so downstream
	// parsing needs more than Type and Data.
	fields map[string]any
}

// Object returns the full decoded event object for parsing.
func (e AgentEvent) Object() map[string]any {
	if e.fields != nil {
		return e.fields
	}
	data := e.Data
	if data == nil {
		data = map[string]any{}
	}
	return map[string]any{"type": e.Type, "data": data}
}

// decodeLine turns one stdout line into an AgentEvent. Non-JSON lines
// become raw events so broken workers still surface something.
func decodeLine(line string) AgentEvent {
	var fields map[string]any
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return AgentEvent{Type: "raw", Data: map[string]any{"content": line}}
	}
	typ, _ := fields["type"].(string)
	if typ == "" {
		typ = "unknown"
	}
	data, _ := fields["data"].(map[string]any)
	return AgentEvent{Type: typ, Data: data, fields: fields}
}

func errorEvent(message string, details string) AgentEvent {
	data := map[string]any{"message": message}
	if details != "" {
		data["details"] = details
	}
	return AgentEvent{Type: "error", Data: data}
}

func statusEvent(message string) AgentEvent {
	return AgentEvent{Type: "status", Data: map[string]any{"message": message}}
}

// RunRequest carries everything a backend needs to execute one turn.
type RunRequest struct {
	SessionID string
	Agent     *agent.Config
	Prompt    string
	// History is the serialized prior conversation, empty for new sessions.
	History string
	// Env is the resolved worker environment from agent.ResolveEnv.
	Env map[string]string
}

// Runner executes one agent turn and streams the worker's events.
//
// Run returns immediately; events arrive on the channel until the worker
// finishes or ctx is canceled, then the channel closes. Implementations
// never error the call itself: failures arrive as error events so the
// handler can render them into the response stream.
type Runner interface {
	Run(ctx context.Context, req RunRequest) <-chan AgentEvent
}
