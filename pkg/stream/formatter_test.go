package stream

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeFrame(t *testing.T, frame string) map[string]any {
	t.Helper()
	require.True(t, strings.HasPrefix(frame, "data: "), "frame %q", frame)
	require.True(t, strings.HasSuffix(frame, "\n\n"), "frame %q", frame)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSuffix(strings.TrimPrefix(frame, "data: "), "\n\n")), &m))
	return m
}

func frameTypes(t *testing.T, frames []string) []string {
	t.Helper()
	types := make([]string, 0, len(frames))
	for _, f := range frames {
		if f == DoneFrame {
			types = append(types, "[DONE]")
			continue
		}
		types = append(types, decodeFrame(t, f)["type"].(string))
	}
	return types
}

// checkBracketing walks a full stream and verifies every text and
// reasoning block opens before its deltas and closes exactly once.
func checkBracketing(t *testing.T, frames []string) {
	t.Helper()
	open := map[string]bool{}
	closed := map[string]bool{}
	for _, f := range frames {
		if f == DoneFrame {
			continue
		}
		m := decodeFrame(t, f)
		id, _ := m["id"].(string)
		switch m["type"] {
		case "text-start", "reasoning-start":
			assert.False(t, open[id], "block %s reopened while open", id)
			open[id] = true
			closed[id] = false
		case "text-delta", "reasoning-delta":
			assert.True(t, open[id], "delta for unopened block %s", id)
		case "text-end", "reasoning-end":
			assert.True(t, open[id], "close of unopened block %s", id)
			open[id] = false
			closed[id] = true
		}
	}
	for id, stillOpen := range open {
		assert.False(t, stillOpen, "block %s never closed", id)
	}
}

func TestFormatter_StartAndEnd(t *testing.T) {
	f := NewFormatter()

	start := f.Start()
	require.Len(t, start, 1)
	m := decodeFrame(t, start[0])
	assert.Equal(t, "start", m["type"])
	assert.Equal(t, f.MessageID(), m["messageId"])

	end := f.End()
	assert.Equal(t, []string{"finish", "[DONE]"}, frameTypes(t, end))
}

func TestFormatter_StatusOpensProcessingBlock(t *testing.T) {
	f := NewFormatter()

	frames := f.Format(Event{Type: EventStatus, Data: map[string]any{"message": "Creating sandbox..."}})
	require.Len(t, frames, 2)

	startFrame := decodeFrame(t, frames[0])
	assert.Equal(t, "reasoning-start", startFrame["type"])
	meta, ok := startFrame["providerMetadata"].(map[string]any)
	require.True(t, ok)
	mobox, ok := meta["mobox"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "processing", mobox["variant"])

	delta := decodeFrame(t, frames[1])
	assert.Equal(t, "reasoning-delta", delta["type"])
	assert.Equal(t, "Creating sandbox...\n", delta["delta"])

	// Second status reuses the open block.
	frames = f.Format(Event{Type: EventStatus, Data: map[string]any{"message": "Starting agent..."}})
	assert.Equal(t, []string{"reasoning-delta"}, frameTypes(t, frames))

	// Empty messages emit nothing.
	assert.Empty(t, f.Format(Event{Type: EventStatus, Data: map[string]any{}}))
}

func TestFormatter_TextDeltaClosesReasoning(t *testing.T) {
	f := NewFormatter()

	f.Format(Event{Type: EventStatus, Data: map[string]any{"message": "Working"}})
	frames := f.Format(Event{Type: EventTextDelta, Data: map[string]any{"delta": "Hello"}})
	assert.Equal(t, []string{"reasoning-end", "text-start", "text-delta"}, frameTypes(t, frames))

	// Subsequent deltas reuse the open simple text block with a stable id.
	first := decodeFrame(t, frames[2])
	frames = f.Format(Event{Type: EventTextDelta, Data: map[string]any{"delta": " world"}})
	require.Equal(t, []string{"text-delta"}, frameTypes(t, frames))
	assert.Equal(t, first["id"], decodeFrame(t, frames[0])["id"])

	end := f.End()
	assert.Equal(t, []string{"text-end", "finish", "[DONE]"}, frameTypes(t, end))
}

func TestFormatter_ThinkingBlockLifecycle(t *testing.T) {
	f := NewFormatter()

	frames := f.Format(Event{Type: EventThinking, Data: map[string]any{"content": "step one\n"}})
	assert.Equal(t, []string{"reasoning-start", "reasoning-delta"}, frameTypes(t, frames))
	meta := decodeFrame(t, frames[0])["providerMetadata"].(map[string]any)["mobox"].(map[string]any)
	assert.Equal(t, "thinking", meta["variant"])

	// A status closes the thinking block and opens processing.
	frames = f.Format(Event{Type: EventStatus, Data: map[string]any{"message": "Running tool"}})
	assert.Equal(t, []string{"reasoning-end", "reasoning-start", "reasoning-delta"}, frameTypes(t, frames))

	// Thinking again closes processing and reopens a thinking block.
	frames = f.Format(Event{Type: EventThinking, Data: map[string]any{"content": "step two\n"}})
	assert.Equal(t, []string{"reasoning-end", "reasoning-start", "reasoning-delta"}, frameTypes(t, frames))
}

func TestFormatter_TodoBlocksAreSelfClosing(t *testing.T) {
	f := NewFormatter()

	items := []any{map[string]any{"content": "a", "status": "pending"}}
	frames := f.Format(Event{Type: EventTodoCreate, Data: map[string]any{"items": items}})
	require.Equal(t, []string{"reasoning-start", "reasoning-delta", "reasoning-end"}, frameTypes(t, frames))

	meta := decodeFrame(t, frames[0])["providerMetadata"].(map[string]any)["mobox"].(map[string]any)
	assert.Equal(t, "todos", meta["variant"])

	delta := decodeFrame(t, frames[1])["delta"].(string)
	var decoded []any
	require.NoError(t, json.Unmarshal([]byte(delta), &decoded))
	require.Len(t, decoded, 1)

	assert.Empty(t, f.Format(Event{Type: EventTodoUpdate, Data: map[string]any{"items": []any{}}}))
}

func TestFormatter_TodoDone(t *testing.T) {
	f := NewFormatter()

	long := strings.Repeat("x", 80)
	frames := f.Format(Event{Type: EventTodoDone, Data: map[string]any{"item": map[string]any{"content": long}}})
	require.Equal(t, []string{"reasoning-start", "reasoning-delta"}, frameTypes(t, frames))
	delta := decodeFrame(t, frames[1])["delta"].(string)
	assert.Equal(t, "Completed: "+strings.Repeat("x", 50)+"...\n", delta)
}

func TestFormatter_ToolFrames(t *testing.T) {
	f := NewFormatter()

	t.Run("start with input", func(t *testing.T) {
		frames := f.Format(Event{Type: EventToolUseStart, Data: map[string]any{
			"id": "toolu_1", "name": "Bash", "input": map[string]any{"command": "ls"},
		}})
		require.Equal(t, []string{"tool-input-start", "tool-input-available"}, frameTypes(t, frames))
		avail := decodeFrame(t, frames[1])
		assert.Equal(t, "toolu_1", avail["toolCallId"])
		assert.Equal(t, "Bash", avail["toolName"])
	})

	t.Run("start without input", func(t *testing.T) {
		frames := f.Format(Event{Type: EventToolUseStart, Data: map[string]any{"id": "toolu_2", "name": "Read"}})
		assert.Equal(t, []string{"tool-input-start"}, frameTypes(t, frames))
	})

	t.Run("input delta", func(t *testing.T) {
		frames := f.Format(Event{Type: EventToolUseDelta, ID: "toolu_2", Data: map[string]any{"partial_json": `{"path`}})
		require.Equal(t, []string{"tool-input-delta"}, frameTypes(t, frames))
		assert.Equal(t, `{"path`, decodeFrame(t, frames[0])["inputTextDelta"])
	})

	t.Run("result", func(t *testing.T) {
		frames := f.Format(Event{Type: EventToolResult, Data: map[string]any{
			"tool_use_id": "toolu_1", "content": "file.txt",
		}})
		require.Equal(t, []string{"tool-output-available"}, frameTypes(t, frames))
		assert.Equal(t, "toolu_1", decodeFrame(t, frames[0])["toolCallId"])
	})

	t.Run("search result without id gets one minted", func(t *testing.T) {
		frames := f.Format(Event{Type: EventToolResult, Data: map[string]any{
			"count": 1, "results": []any{map[string]any{"url": "a"}},
		}})
		require.Equal(t, []string{"tool-output-available"}, frameTypes(t, frames))
		m := decodeFrame(t, frames[0])
		assert.True(t, strings.HasPrefix(m["toolCallId"].(string), "search_"))
		output := m["output"].(map[string]any)
		assert.Contains(t, output, "count")
		assert.Contains(t, output, "results")
	})
}

func TestFormatter_UsageFrame(t *testing.T) {
	f := NewFormatter()

	frames := f.Format(Event{Type: EventUsage, Data: map[string]any{
		"usage": map[string]any{"input_tokens": float64(10), "output_tokens": float64(25)},
		"total": true,
	}})
	require.Equal(t, []string{"data-usage"}, frameTypes(t, frames))
	data := decodeFrame(t, frames[0])["data"].(map[string]any)
	assert.Equal(t, float64(10), data["inputTokens"])
	assert.Equal(t, float64(25), data["outputTokens"])
	assert.Equal(t, true, data["isTotal"])

	assert.Empty(t, f.Format(Event{Type: EventUsage, Data: map[string]any{}}))
}

func TestFormatter_ResultFrames(t *testing.T) {
	t.Run("cost summary", func(t *testing.T) {
		f := NewFormatter()
		frames := f.Format(Event{Type: EventResult, Data: map[string]any{
			"total_cost_usd": 0.04, "num_turns": float64(3), "duration_ms": float64(1200), "session_id": "sdk-1",
		}})
		require.Equal(t, []string{"data-usage"}, frameTypes(t, frames))
		data := decodeFrame(t, frames[0])["data"].(map[string]any)
		assert.Equal(t, 0.04, data["totalCostUSD"])
		assert.Equal(t, "sdk-1", data["sdkSessionId"])
		assert.Equal(t, false, data["isError"])
	})

	t.Run("error result closes open text", func(t *testing.T) {
		f := NewFormatter()
		f.Format(Event{Type: EventTextDelta, Data: map[string]any{"delta": "partial"}})
		frames := f.Format(Event{Type: EventResult, Data: map[string]any{"is_error": true}})
		require.Equal(t, []string{"text-end", "error"}, frameTypes(t, frames))
		assert.Equal(t, "Agent execution failed", decodeFrame(t, frames[1])["errorText"])
	})
}

func TestFormatter_ErrorFrame(t *testing.T) {
	f := NewFormatter()
	f.Format(Event{Type: EventTextDelta, Data: map[string]any{"delta": "so far"}})
	frames := f.Format(Event{Type: EventError, Data: map[string]any{"message": "boom"}})
	require.Equal(t, []string{"text-end", "error"}, frameTypes(t, frames))
	assert.Equal(t, "boom", decodeFrame(t, frames[1])["errorText"])
}

func TestFormatter_IndexedBlocksCloseAtEnd(t *testing.T) {
	f := NewFormatter()
	idx0, idx1 := 0, 1

	var all []string
	all = append(all, f.Start()...)
	all = append(all, f.Format(Event{Type: EventText, Index: &idx0, ID: "text_aaaa"})...)
	all = append(all, f.Format(Event{Type: EventTextDelta, Index: &idx0, ID: "text_aaaa", Data: map[string]any{"delta": "hi"}})...)
	all = append(all, f.Format(Event{Type: EventThinking, Index: &idx1, ID: "thinking_bbbb"})...)
	all = append(all, f.Format(Event{Type: EventThinkingDelta, Index: &idx1, ID: "thinking_bbbb", Data: map[string]any{"delta": "mm"}})...)

	end := f.End()
	assert.Equal(t, []string{"text-end", "reasoning-end", "finish", "[DONE]"}, frameTypes(t, end))
	assert.Equal(t, "text_aaaa", decodeFrame(t, end[0])["id"])
	assert.Equal(t, "thinking_bbbb", decodeFrame(t, end[1])["id"])

	all = append(all, end...)
	checkBracketing(t, all)
}

// Full conversational run through the simplified dialect: status, todos,
// thinking, text, tool call, usage, result.
func TestFormatter_FullStreamIsWellBracketed(t *testing.T) {
	p := ParserFor("claude")
	f := NewFormatter()

	lines := []string{
		`{"type":"start","data":{}}`,
		`{"type":"status","data":{"message":"Starting agent..."}}`,
		`{"type":"todo_create","data":{"items":[{"content":"plan","status":"pending"}]}}`,
		`{"type":"thinking","data":{"content":"Let me look."}}`,
		`{"type":"tool_use","data":{"id":"toolu_9","name":"Bash","input":{"command":"ls"}}}`,
		`{"type":"tool_result","data":{"tool_use_id":"toolu_9","content":"ok"}}`,
		`{"type":"text","data":{"content":"All done."}}`,
		`{"type":"usage_total","data":{"input_tokens":100,"output_tokens":40}}`,
		`{"type":"result","data":{"session_id":"sdk-9","total_cost_usd":0.01,"duration_ms":900}}`,
		`{"type":"done"}`,
	}

	var all []string
	all = append(all, f.Start()...)
	for _, line := range lines {
		all = append(all, f.Format(p.Parse(rawEvent(t, line)))...)
	}
	all = append(all, f.End()...)

	checkBracketing(t, all)
	require.Equal(t, DoneFrame, all[len(all)-1])
	assert.Equal(t, "finish", decodeFrame(t, all[len(all)-2])["type"])
	assert.Equal(t, "All done.", p.Text())
	assert.Equal(t, "Let me look.\n", p.Thinking())
	assert.Equal(t, "sdk-9", p.SDKSessionID())
}
