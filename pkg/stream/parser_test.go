package stream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawEvent(t *testing.T, line string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &m))
	return m
}

func TestParserFor(t *testing.T) {
	tests := []struct {
		framework string
		dialect   Dialect
	}{
		{"claude", DialectClaude},
		{"deepagents", DialectDeepAgents},
		{"langchain", DialectDeepAgents},
		{"", Dialect("")},
		{"mystery", Dialect("")},
	}
	for _, tt := range tests {
		t.Run(tt.framework, func(t *testing.T) {
			assert.Equal(t, tt.dialect, ParserFor(tt.framework).dialect)
		})
	}
}

func TestParser_ClaudeSimplifiedDialect(t *testing.T) {
	p := ParserFor("claude")

	t.Run("status", func(t *testing.T) {
		ev := p.Parse(rawEvent(t, `{"type":"status","data":{"message":"Working..."}}`))
		assert.Equal(t, EventStatus, ev.Type)
		assert.Equal(t, "Working...", ev.Data["message"])
	})

	t.Run("text accumulates", func(t *testing.T) {
		ev := p.Parse(rawEvent(t, `{"type":"text","data":{"content":"Hello "}}`))
		assert.Equal(t, EventTextDelta, ev.Type)
		assert.Equal(t, "Hello ", ev.Data["delta"])

		ev = p.Parse(rawEvent(t, `{"type":"text","data":{"content":"world"}}`))
		assert.Equal(t, "world", ev.Data["delta"])
		assert.Equal(t, "Hello world", p.Text())
	})

	t.Run("thinking gets trailing newline", func(t *testing.T) {
		ev := p.Parse(rawEvent(t, `{"type":"thinking","data":{"content":"pondering"}}`))
		assert.Equal(t, EventThinking, ev.Type)
		assert.Equal(t, "pondering\n", ev.Data["content"])
		assert.Equal(t, "pondering\n", p.Thinking())
	})

	t.Run("think tool is tagged", func(t *testing.T) {
		ev := p.Parse(rawEvent(t, `{"type":"think","data":{"thought":"hmm\n"}}`))
		assert.Equal(t, EventThinking, ev.Type)
		assert.Equal(t, "hmm\n", ev.Data["content"])
		assert.Equal(t, "think_tool", ev.Data["source"])
	})

	t.Run("result captures sdk session id", func(t *testing.T) {
		ev := p.Parse(rawEvent(t, `{"type":"result","data":{"session_id":"sdk-123","total_cost_usd":0.04}}`))
		assert.Equal(t, EventResult, ev.Type)
		assert.Equal(t, "sdk-123", p.SDKSessionID())
	})

	t.Run("done", func(t *testing.T) {
		assert.Equal(t, EventDone, p.Parse(rawEvent(t, `{"type":"done"}`)).Type)
	})

	t.Run("unrecognized type maps to unknown", func(t *testing.T) {
		ev := p.Parse(rawEvent(t, `{"type":"telemetry","data":{"x":1}}`))
		assert.Equal(t, EventUnknown, ev.Type)
	})
}

func TestParser_ClaudeTodoWriteRewrite(t *testing.T) {
	p := ParserFor("claude")

	ev := p.Parse(rawEvent(t, `{"type":"tool_use","data":{"id":"toolu_1","name":"TodoWrite","input":{"todos":[{"content":"first","status":"pending"},{"activeForm":"Doing second","status":"in_progress"}]}}}`))
	require.Equal(t, EventTodoUpdate, ev.Type)

	items, ok := ev.Data["items"].([]any)
	require.True(t, ok)
	require.Len(t, items, 2)
	first, ok := items[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "first", first["content"])
	assert.Equal(t, "pending", first["status"])
	second, ok := items[1].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Doing second", second["content"])
	assert.Equal(t, "in_progress", second["status"])

	// Empty todo lists fall through to a plain tool call.
	ev = p.Parse(rawEvent(t, `{"type":"tool_use","data":{"id":"toolu_2","name":"TodoWrite","input":{"todos":[]}}}`))
	assert.Equal(t, EventToolUseStart, ev.Type)
}

func TestParser_ClaudeIndexedBlocks(t *testing.T) {
	p := ParserFor("claude")

	ev := p.Parse(rawEvent(t, `{"type":"message_start","message":{"id":"msg_01","model":"claude-sonnet-4"}}`))
	assert.Equal(t, EventStart, ev.Type)
	assert.Equal(t, "msg_01", p.SDKSessionID())

	ev = p.Parse(rawEvent(t, `{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`))
	require.Equal(t, EventText, ev.Type)
	require.NotNil(t, ev.Index)
	assert.Equal(t, 0, *ev.Index)
	require.NotEmpty(t, ev.ID)
	textID := ev.ID

	ev = p.Parse(rawEvent(t, `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}`))
	assert.Equal(t, EventTextDelta, ev.Type)
	assert.Equal(t, textID, ev.ID)
	assert.Equal(t, "Hi", ev.Data["delta"])
	assert.Equal(t, "Hi", p.Text())

	ev = p.Parse(rawEvent(t, `{"type":"content_block_stop","index":0}`))
	assert.Equal(t, EventUnknown, ev.Type)

	ev = p.Parse(rawEvent(t, `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_abc","name":"Bash","input":{"command":"ls"}}}`))
	require.Equal(t, EventToolUseStart, ev.Type)
	assert.Equal(t, "toolu_abc", ev.ID)
	assert.Equal(t, "Bash", ev.Data["name"])

	ev = p.Parse(rawEvent(t, `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"comm"}}`))
	assert.Equal(t, EventToolUseDelta, ev.Type)
	assert.Equal(t, "toolu_abc", ev.ID)

	ev = p.Parse(rawEvent(t, `{"type":"content_block_stop","index":1}`))
	require.Equal(t, EventToolUseEnd, ev.Type)
	assert.Equal(t, "toolu_abc", ev.Data["id"])

	ev = p.Parse(rawEvent(t, `{"type":"content_block_start","index":2,"content_block":{"type":"thinking"}}`))
	require.Equal(t, EventThinking, ev.Type)
	thinkingID := ev.ID

	ev = p.Parse(rawEvent(t, `{"type":"content_block_delta","index":2,"delta":{"type":"thinking_delta","thinking":"deep"}}`))
	assert.Equal(t, EventThinkingDelta, ev.Type)
	assert.Equal(t, thinkingID, ev.ID)
	assert.Equal(t, "deep", p.Thinking())

	ev = p.Parse(rawEvent(t, `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":5}}`))
	assert.Equal(t, EventUsage, ev.Type)

	assert.Equal(t, EventPing, p.Parse(rawEvent(t, `{"type":"ping"}`)).Type)
	assert.Equal(t, EventDone, p.Parse(rawEvent(t, `{"type":"message_stop"}`)).Type)
}

func TestParser_DeepAgentsDialect(t *testing.T) {
	p := ParserFor("deepagents")

	t.Run("search synthesizes internet_search call", func(t *testing.T) {
		ev := p.Parse(rawEvent(t, `{"type":"search","data":{"query":"go generics"}}`))
		require.Equal(t, EventToolUseStart, ev.Type)
		assert.Equal(t, "internet_search", ev.Data["name"])
		input, ok := ev.Data["input"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "go generics", input["query"])
		assert.Equal(t, "general", input["topic"])
		assert.NotEmpty(t, ev.Data["id"])
	})

	t.Run("search_result carries count and results", func(t *testing.T) {
		ev := p.Parse(rawEvent(t, `{"type":"search_result","data":{"count":2,"results":[{"url":"a"},{"url":"b"}]}}`))
		require.Equal(t, EventToolResult, ev.Type)
		assert.Equal(t, 2, ev.Data["count"])
		assert.Len(t, ev.Data["results"], 2)
	})

	t.Run("file_op maps to a tool call", func(t *testing.T) {
		ev := p.Parse(rawEvent(t, `{"type":"file_op","data":{"id":"tc_1","operation":"write","path":"/tmp/out.md"}}`))
		require.Equal(t, EventToolUseStart, ev.Type)
		assert.Equal(t, "tc_1", ev.Data["id"])
		assert.Equal(t, "write", ev.Data["name"])
		input, ok := ev.Data["input"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "/tmp/out.md", input["path"])
		assert.Equal(t, "write", input["operation"])
	})

	t.Run("file_op without id synthesizes one", func(t *testing.T) {
		ev := p.Parse(rawEvent(t, `{"type":"file_op","data":{"operation":"read","path":"notes.txt"}}`))
		require.Equal(t, EventToolUseStart, ev.Type)
		assert.NotEmpty(t, ev.Data["id"])
	})

	t.Run("think_result maps to a tool result", func(t *testing.T) {
		ev := p.Parse(rawEvent(t, `{"type":"think_result","data":{"name":"think_tool","acknowledged":true}}`))
		require.Equal(t, EventToolResult, ev.Type)
		assert.NotEmpty(t, ev.ID)
		assert.Equal(t, "think_tool", ev.Data["name"])
		assert.Equal(t, true, ev.Data["acknowledged"])
	})

	t.Run("subagent lifecycle feeds thinking", func(t *testing.T) {
		ev := p.Parse(rawEvent(t, `{"type":"subagent_start","data":{"agent":"researcher","task":"find sources"}}`))
		require.Equal(t, EventThinking, ev.Type)
		assert.Equal(t, "Starting researcher: find sources\n", ev.Data["content"])

		ev = p.Parse(rawEvent(t, `{"type":"subagent_complete","data":{"agent":"researcher"}}`))
		require.Equal(t, EventThinking, ev.Type)
		assert.Equal(t, "researcher completed.\n", ev.Data["content"])

		assert.Equal(t, "Starting researcher: find sources\nresearcher completed.\n", p.Thinking())
	})

	t.Run("usage_total flags total", func(t *testing.T) {
		ev := p.Parse(rawEvent(t, `{"type":"usage_total","data":{"input_tokens":10,"output_tokens":20}}`))
		require.Equal(t, EventUsage, ev.Type)
		assert.Equal(t, true, ev.Data["total"])
	})

	t.Run("error defaults its message", func(t *testing.T) {
		ev := p.Parse(rawEvent(t, `{"type":"error","data":{}}`))
		require.Equal(t, EventError, ev.Type)
		assert.Equal(t, "An error occurred", ev.Data["message"])
	})

	t.Run("unrecognized type maps to raw", func(t *testing.T) {
		ev := p.Parse(rawEvent(t, `{"type":"trace","data":{"span":"x"}}`))
		assert.Equal(t, EventRaw, ev.Type)
	})
}

// Every parsed event must land in the normalized vocabulary, whatever the
// input looks like.
func TestParser_OutputIsClosedSet(t *testing.T) {
	known := map[EventType]struct{}{
		EventStart: {}, EventDone: {}, EventError: {}, EventPing: {},
		EventStatus: {}, EventText: {}, EventTextDelta: {},
		EventThinking: {}, EventThinkingDelta: {},
		EventToolUseStart: {}, EventToolUseDelta: {}, EventToolUseEnd: {},
		EventToolResult: {}, EventMetadata: {}, EventUsage: {}, EventResult: {},
		EventTodoCreate: {}, EventTodoUpdate: {}, EventTodoDone: {},
		EventRaw: {}, EventUnknown: {},
	}

	lines := []string{
		`{}`,
		`{"type":""}`,
		`{"type":"status"}`,
		`{"type":"content_block_delta"}`,
		`{"type":"content_block_start","index":3,"content_block":{"type":"mystery"}}`,
		`{"type":"tool_use","data":null}`,
		`{"type":"garbage","data":{"nested":{"deep":[1,2,3]}}}`,
		`{"type":42}`,
	}

	for _, framework := range []string{"claude", "deepagents", "other"} {
		p := ParserFor(framework)
		for _, line := range lines {
			ev := p.Parse(rawEvent(t, line))
			_, ok := known[ev.Type]
			assert.True(t, ok, "framework=%s line=%s produced %q", framework, line, ev.Type)
		}
	}
}
