package stream

import (
	"strings"

	"github.com/google/uuid"
)

// Dialect selects the raw-event vocabulary a parser understands.
type Dialect string

const (
	// DialectClaude covers both the Anthropic indexed-block stream and the
	// simplified line protocol emitted by the in-house Claude wrapper.
	DialectClaude Dialect = "claude"
	// DialectDeepAgents covers the deepagents/langchain line protocol.
	DialectDeepAgents Dialect = "deepagents"
)

// ParserFor returns a parser for an agent's declared framework tag.
// Unknown frameworks get a parser that maps everything to EventUnknown.
func ParserFor(framework string) *Parser {
	switch framework {
	case "claude":
		return &Parser{dialect: DialectClaude}
	case "deepagents", "langchain":
		return &Parser{dialect: DialectDeepAgents}
	default:
		return &Parser{}
	}
}

// Parser converts raw agent events into normalized Events while
// accumulating the text, reasoning, and vendor session id that the
// persistence committer reads once the stream ends.
//
// Parse never fails: malformed events come back as EventRaw or
// EventUnknown. A Parser is not safe for concurrent use; every request
// owns its own.
type Parser struct {
	dialect Dialect

	text         strings.Builder
	thinking     strings.Builder
	sdkSessionID string

	// Indexed-block state for the Anthropic streaming dialect.
	textIDs        map[int]string
	thinkingIDs    map[int]string
	toolIDs        map[int]string
	activeText     map[int]struct{}
	activeThinking map[int]struct{}
}

// Text returns the accumulated assistant text, in emission order.
func (p *Parser) Text() string { return p.text.String() }

// Thinking returns the accumulated reasoning text, in emission order.
func (p *Parser) Thinking() string { return p.thinking.String() }

// SDKSessionID returns the captured vendor session id, or "".
func (p *Parser) SDKSessionID() string { return p.sdkSessionID }

// Parse normalizes one raw event. The argument is the full decoded JSON
// object from the worker's stdout line: the Anthropic dialect carries its
// payloads beside "type" rather than under "data".
func (p *Parser) Parse(raw map[string]any) Event {
	switch p.dialect {
	case DialectClaude:
		return p.parseClaude(raw)
	case DialectDeepAgents:
		return p.parseDeepAgents(raw)
	default:
		return Event{Type: EventUnknown, Data: raw}
	}
}

func (p *Parser) parseClaude(raw map[string]any) Event {
	eventType := str(raw, "type")
	data := obj(raw, "data")

	// Anthropic indexed-block streaming.
	switch eventType {
	case "message_start":
		message := obj(raw, "message")
		if id := str(message, "id"); id != "" {
			p.sdkSessionID = id
		}
		return Event{Type: EventStart, Data: map[string]any{
			"model": message["model"],
			"usage": obj(message, "usage"),
		}}

	case "content_block_start":
		idx := num(raw, "index")
		block := obj(raw, "content_block")
		switch str(block, "type") {
		case "text":
			id := newBlockID("text")
			p.blockMaps()
			p.textIDs[idx] = id
			p.activeText[idx] = struct{}{}
			return Event{Type: EventText, Index: &idx, ID: id}
		case "tool_use":
			toolID := str(block, "id")
			if toolID == "" {
				toolID = newBlockID("call")
			}
			p.blockMaps()
			p.toolIDs[idx] = toolID
			input := obj(block, "input")
			if input == nil {
				input = map[string]any{}
			}
			return Event{
				Type:  EventToolUseStart,
				Data:  map[string]any{"id": toolID, "name": block["name"], "input": input},
				Index: &idx,
				ID:    toolID,
			}
		case "thinking":
			id := newBlockID("thinking")
			p.blockMaps()
			p.thinkingIDs[idx] = id
			p.activeThinking[idx] = struct{}{}
			return Event{Type: EventThinking, Index: &idx, ID: id}
		}

	case "content_block_delta":
		idx := num(raw, "index")
		delta := obj(raw, "delta")
		switch str(delta, "type") {
		case "text_delta":
			text := str(delta, "text")
			p.text.WriteString(text)
			p.blockMaps()
			return Event{Type: EventTextDelta, Data: map[string]any{"delta": text}, Index: &idx, ID: p.textIDs[idx]}
		case "thinking_delta":
			thinking := str(delta, "thinking")
			p.thinking.WriteString(thinking)
			p.blockMaps()
			return Event{Type: EventThinkingDelta, Data: map[string]any{"delta": thinking}, Index: &idx, ID: p.thinkingIDs[idx]}
		case "input_json_delta":
			p.blockMaps()
			return Event{Type: EventToolUseDelta, Data: map[string]any{"partial_json": str(delta, "partial_json")}, Index: &idx, ID: p.toolIDs[idx]}
		}

	case "content_block_stop":
		idx := num(raw, "index")
		p.blockMaps()
		delete(p.activeText, idx)
		delete(p.activeThinking, idx)
		if toolID, ok := p.toolIDs[idx]; ok {
			return Event{Type: EventToolUseEnd, Data: map[string]any{"id": toolID}, Index: &idx}
		}
		return Event{Type: EventUnknown, Index: &idx}

	case "message_delta":
		return Event{Type: EventUsage, Data: map[string]any{
			"usage":       obj(raw, "usage"),
			"stop_reason": obj(raw, "delta")["stop_reason"],
		}}

	case "message_stop":
		return Event{Type: EventDone}

	case "ping":
		return Event{Type: EventPing}

	case "error":
		errObj := obj(raw, "error")
		if errObj == nil {
			errObj = data
		}
		message := str(errObj, "message")
		if message == "" {
			message = "An error occurred"
		}
		return Event{Type: EventError, Data: map[string]any{"message": message}}
	}

	// Simplified line protocol from the in-house Claude wrapper.
	switch eventType {
	case "start":
		return Event{Type: EventStart, Data: orEmpty(data)}

	case "status":
		return Event{Type: EventStatus, Data: map[string]any{"message": str(data, "message")}}

	case "text":
		content := str(data, "content")
		p.text.WriteString(content)
		return Event{Type: EventTextDelta, Data: map[string]any{"delta": content, "content": content}}

	case "thinking":
		content := terminated(str(data, "content"))
		p.thinking.WriteString(content)
		return Event{Type: EventThinking, Data: map[string]any{"content": content}}

	case "think":
		thought := terminated(str(data, "thought"))
		p.thinking.WriteString(thought)
		return Event{Type: EventThinking, Data: map[string]any{"content": thought, "source": "think_tool"}}

	case "tool_use":
		if str(data, "name") == "TodoWrite" {
			if items := todoItems(obj(data, "input")); len(items) > 0 {
				return Event{Type: EventTodoUpdate, Data: map[string]any{"items": items}}
			}
		}
		return Event{Type: EventToolUseStart, Data: orEmpty(data), ID: str(data, "id")}

	case "tool_result":
		return Event{Type: EventToolResult, Data: orEmpty(data), ID: str(data, "tool_use_id")}

	case "result":
		p.captureSDKSessionID(data)
		return Event{Type: EventResult, Data: orEmpty(data)}

	case "usage":
		return Event{Type: EventUsage, Data: map[string]any{"usage": orEmpty(data)}}

	case "usage_total":
		return Event{Type: EventUsage, Data: map[string]any{"usage": orEmpty(data), "total": true}}

	case "todos", "todo_create":
		return Event{Type: EventTodoCreate, Data: map[string]any{"items": list(data, "items")}}

	case "todo_update":
		return Event{Type: EventTodoUpdate, Data: map[string]any{"items": list(data, "items")}}

	case "todo_done":
		return Event{Type: EventTodoDone, Data: map[string]any{"item": orEmpty(obj(data, "item")), "index": num(data, "index")}}

	case "subagent_spawn":
		subagentType := str(data, "subagent_type")
		if subagentType == "" {
			subagentType = "subagent"
		}
		message := "Spawning " + subagentType + "..."
		if description := str(data, "description"); description != "" {
			message = "Spawning " + subagentType + ": " + description
		}
		return Event{Type: EventStatus, Data: map[string]any{"message": message}}

	case "done":
		return Event{Type: EventDone}
	}

	return Event{Type: EventUnknown, Data: raw}
}

func (p *Parser) parseDeepAgents(raw map[string]any) Event {
	eventType := str(raw, "type")
	data := obj(raw, "data")

	switch eventType {
	case "start":
		return Event{Type: EventStart, Data: orEmpty(data)}

	case "status":
		return Event{Type: EventStatus, Data: map[string]any{"message": str(data, "message")}}

	case "text":
		content := str(data, "content")
		p.text.WriteString(content)
		return Event{Type: EventTextDelta, Data: map[string]any{"delta": content}}

	case "thinking":
		content := terminated(str(data, "content"))
		p.thinking.WriteString(content)
		return Event{Type: EventThinking, Data: map[string]any{"content": content}}

	case "think":
		thought := terminated(str(data, "thought"))
		p.thinking.WriteString(thought)
		return Event{Type: EventThinking, Data: map[string]any{"content": thought, "source": "think_tool"}}

	case "tool_use":
		return Event{Type: EventToolUseStart, Data: orEmpty(data), ID: str(data, "id")}

	case "tool_call_start":
		return Event{
			Type: EventToolUseStart,
			Data: map[string]any{"id": str(data, "id"), "name": str(data, "name")},
			ID:   str(data, "id"),
		}

	case "search":
		id := str(data, "id")
		if id == "" {
			id = newBlockID("search")
		}
		topic := str(data, "topic")
		if topic == "" {
			topic = "general"
		}
		return Event{
			Type: EventToolUseStart,
			Data: map[string]any{
				"id":    id,
				"name":  "internet_search",
				"input": map[string]any{"query": str(data, "query"), "topic": topic},
			},
			ID: str(data, "id"),
		}

	case "search_result":
		return Event{Type: EventToolResult, Data: map[string]any{
			"count":   num(data, "count"),
			"results": list(data, "results"),
		}}

	case "file_op":
		id := str(data, "id")
		if id == "" {
			id = newBlockID("call")
		}
		operation := str(data, "operation")
		if operation == "" {
			operation = "file_op"
		}
		return Event{
			Type: EventToolUseStart,
			Data: map[string]any{
				"id":    id,
				"name":  operation,
				"input": map[string]any{"path": str(data, "path"), "operation": operation},
			},
			ID: str(data, "id"),
		}

	case "think_result":
		id := str(data, "id")
		if id == "" {
			id = newBlockID("think")
		}
		return Event{
			Type: EventToolResult,
			Data: map[string]any{"name": str(data, "name"), "acknowledged": truthy(data, "acknowledged")},
			ID:   id,
		}

	case "tool_result":
		return Event{Type: EventToolResult, Data: orEmpty(data), ID: str(data, "tool_use_id")}

	case "todos", "todo_create":
		return Event{Type: EventTodoCreate, Data: map[string]any{"items": list(data, "items")}}

	case "todo_update":
		return Event{Type: EventTodoUpdate, Data: map[string]any{"items": list(data, "items")}}

	case "todo_done":
		return Event{Type: EventTodoDone, Data: map[string]any{"item": orEmpty(obj(data, "item")), "index": num(data, "index")}}

	case "subagent_start":
		agent := str(data, "agent")
		if agent == "" {
			agent = "unknown"
		}
		content := "Starting " + agent + ": " + str(data, "task") + "\n"
		p.thinking.WriteString(content)
		return Event{Type: EventThinking, Data: map[string]any{"content": content, "subagent": agent}}

	case "subagent_complete":
		agent := str(data, "agent")
		if agent == "" {
			agent = "unknown"
		}
		content := agent + " completed.\n"
		p.thinking.WriteString(content)
		return Event{Type: EventThinking, Data: map[string]any{"content": content, "subagent": agent}}

	case "usage":
		return Event{Type: EventUsage, Data: map[string]any{"usage": orEmpty(data)}}

	case "usage_total":
		return Event{Type: EventUsage, Data: map[string]any{"usage": orEmpty(data), "total": true}}

	case "result":
		p.captureSDKSessionID(data)
		return Event{Type: EventResult, Data: orEmpty(data)}

	case "error":
		message := str(data, "message")
		if message == "" {
			message = "An error occurred"
		}
		return Event{Type: EventError, Data: map[string]any{"message": message}}

	case "done":
		return Event{Type: EventDone}
	}

	return Event{Type: EventRaw, Data: raw}
}

// blockMaps lazily allocates the indexed-block state.
func (p *Parser) blockMaps() {
	if p.textIDs == nil {
		p.textIDs = make(map[int]string)
		p.thinkingIDs = make(map[int]string)
		p.toolIDs = make(map[int]string)
		p.activeText = make(map[int]struct{})
		p.activeThinking = make(map[int]struct{})
	}
}

func (p *Parser) captureSDKSessionID(data map[string]any) {
	for _, key := range []string{"session_id", "sessionId"} {
		if id := str(data, key); id != "" {
			p.sdkSessionID = id
			return
		}
	}
}

// todoItems normalizes a TodoWrite input into {content, status} items.
func todoItems(input map[string]any) []any {
	todos := list(input, "todos")
	items := make([]any, 0, len(todos))
	for _, t := range todos {
		todo, ok := t.(map[string]any)
		if !ok {
			continue
		}
		content := str(todo, "content")
		if content == "" {
			content = str(todo, "activeForm")
		}
		status := str(todo, "status")
		if status == "" {
			status = "pending"
		}
		items = append(items, map[string]any{"content": content, "status": status})
	}
	return items
}

// terminated appends a trailing newline when missing, so downstream delta
// concatenation produces well-separated reasoning lines.
func terminated(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// newBlockID mints a short stable id like "text_1a2b3c4d".
func newBlockID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
