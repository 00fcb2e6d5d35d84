package stream

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// frame renders one SSE frame carrying a JSON payload.
func frame(payload map[string]any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		// Payloads are built from decoded JSON, so this only fires on
		// programmer error. Emit a diagnostic frame instead of panicking
		// mid-stream.
		return "data: {\"type\":\"error\",\"errorText\":\"internal encoding error\"}\n\n"
	}
	return fmt.Sprintf("data: %s\n\n", data)
}

// DoneFrame is the literal stream terminator the AI SDK client waits for.
const DoneFrame = "data: [DONE]\n\n"

func frameStart(messageID string) string {
	return frame(map[string]any{"type": "start", "messageId": messageID})
}

func frameTextStart(id string) string {
	return frame(map[string]any{"type": "text-start", "id": id})
}

func frameTextDelta(id, delta string) string {
	return frame(map[string]any{"type": "text-delta", "id": id, "delta": delta})
}

func frameTextEnd(id string) string {
	return frame(map[string]any{"type": "text-end", "id": id})
}

func frameReasoningStart(id, variant string) string {
	return frame(map[string]any{
		"type":             "reasoning-start",
		"id":               id,
		"providerMetadata": map[string]any{"mobox": map[string]any{"variant": variant}},
	})
}

func frameReasoningDelta(id, delta string) string {
	return frame(map[string]any{"type": "reasoning-delta", "id": id, "delta": delta})
}

func frameReasoningEnd(id string) string {
	return frame(map[string]any{"type": "reasoning-end", "id": id})
}

func frameToolInputStart(callID, name string) string {
	return frame(map[string]any{"type": "tool-input-start", "toolCallId": callID, "toolName": name})
}

func frameToolInputDelta(callID, delta string) string {
	return frame(map[string]any{"type": "tool-input-delta", "toolCallId": callID, "inputTextDelta": delta})
}

func frameToolInputAvailable(callID, name string, input map[string]any) string {
	return frame(map[string]any{"type": "tool-input-available", "toolCallId": callID, "toolName": name, "input": input})
}

func frameToolOutputAvailable(callID string, output map[string]any) string {
	return frame(map[string]any{"type": "tool-output-available", "toolCallId": callID, "output": output})
}

func frameFinish() string {
	return frame(map[string]any{"type": "finish"})
}

func frameError(text string) string {
	if text == "" {
		text = "An error occurred"
	}
	return frame(map[string]any{"type": "error", "errorText": text})
}

func frameDataUsage(usage map[string]any) string {
	return frame(map[string]any{"type": "data-usage", "data": usage})
}

// Formatter converts normalized Events into AI SDK UI-message-stream v1
// SSE frames. It owns the block lifecycle: every text-start and
// reasoning-start it emits is matched by an end frame no later than End().
//
// Reasoning blocks carry a variant under providerMetadata.mobox so the UI
// can render processing status, todo lists, and model reasoning
// differently. A Formatter serves exactly one response stream.
type Formatter struct {
	messageID string

	simpleTextID      string
	simpleTextStarted bool
	processingID      string
	processingStarted bool
	thinkingID        string
	thinkingStarted   bool
	todosID           string

	// Indexed blocks from the Anthropic streaming dialect.
	textIDs        map[int]string
	thinkingIDs    map[int]string
	activeText     map[int]struct{}
	activeThinking map[int]struct{}
}

// NewFormatter returns a formatter with a fresh message id.
func NewFormatter() *Formatter {
	return &Formatter{
		messageID:      uuid.NewString(),
		simpleTextID:   newBlockID("text"),
		processingID:   newBlockID("processing"),
		thinkingID:     newBlockID("thinking"),
		todosID:        newBlockID("todos"),
		textIDs:        make(map[int]string),
		thinkingIDs:    make(map[int]string),
		activeText:     make(map[int]struct{}),
		activeThinking: make(map[int]struct{}),
	}
}

// MessageID returns the id announced in the start frame.
func (f *Formatter) MessageID() string { return f.messageID }

// Start emits the stream's opening frame.
func (f *Formatter) Start() []string {
	return []string{frameStart(f.messageID)}
}

// Format renders one normalized event as zero or more SSE frames.
func (f *Formatter) Format(event Event) []string {
	var out []string

	switch event.Type {
	case EventStatus:
		message := str(event.Data, "message")
		if message == "" {
			return nil
		}
		if f.thinkingStarted {
			out = append(out, frameReasoningEnd(f.thinkingID))
			f.thinkingStarted = false
		}
		if !f.processingStarted {
			out = append(out, frameReasoningStart(f.processingID, "processing"))
			f.processingStarted = true
		}
		out = append(out, frameReasoningDelta(f.processingID, message+"\n"))

	case EventTodoCreate, EventTodoUpdate:
		items := list(event.Data, "items")
		if len(items) == 0 {
			return nil
		}
		encoded, err := json.Marshal(items)
		if err != nil {
			return nil
		}
		out = append(out,
			frameReasoningStart(f.todosID, "todos"),
			frameReasoningDelta(f.todosID, string(encoded)),
			frameReasoningEnd(f.todosID),
		)

	case EventTodoDone:
		content := str(obj(event.Data, "item"), "content")
		if content == "" {
			content = "Task"
		}
		if len(content) > 50 {
			content = string([]rune(content)[:50])
		}
		if f.thinkingStarted {
			out = append(out, frameReasoningEnd(f.thinkingID))
			f.thinkingStarted = false
		}
		if !f.processingStarted {
			out = append(out, frameReasoningStart(f.processingID, "processing"))
			f.processingStarted = true
		}
		out = append(out, frameReasoningDelta(f.processingID, "Completed: "+content+"...\n"))

	case EventText:
		if event.Index == nil {
			return nil
		}
		id := event.ID
		if id == "" {
			id = newBlockID("text")
		}
		f.textIDs[*event.Index] = id
		f.activeText[*event.Index] = struct{}{}
		out = append(out, frameTextStart(id))

	case EventTextDelta:
		delta := str(event.Data, "delta")
		if delta == "" {
			delta = str(event.Data, "content")
		}
		if delta == "" {
			return nil
		}
		if f.processingStarted {
			out = append(out, frameReasoningEnd(f.processingID))
			f.processingStarted = false
		}
		if f.thinkingStarted {
			out = append(out, frameReasoningEnd(f.thinkingID))
			f.thinkingStarted = false
		}
		id := event.ID
		if id == "" && event.Index != nil {
			id = f.textIDs[*event.Index]
		}
		if id == "" {
			if !f.simpleTextStarted {
				out = append(out, frameTextStart(f.simpleTextID))
				f.simpleTextStarted = true
			}
			id = f.simpleTextID
		}
		out = append(out, frameTextDelta(id, delta))

	case EventThinking:
		if event.Index != nil {
			id := event.ID
			if id == "" {
				id = newBlockID("thinking")
			}
			f.thinkingIDs[*event.Index] = id
			f.activeThinking[*event.Index] = struct{}{}
			out = append(out, frameReasoningStart(id, "thinking"))
			return out
		}
		content := str(event.Data, "content")
		if content == "" {
			return nil
		}
		if f.processingStarted {
			out = append(out, frameReasoningEnd(f.processingID))
			f.processingStarted = false
		}
		if !f.thinkingStarted {
			out = append(out, frameReasoningStart(f.thinkingID, "thinking"))
			f.thinkingStarted = true
		}
		out = append(out, frameReasoningDelta(f.thinkingID, content))

	case EventThinkingDelta:
		delta := str(event.Data, "delta")
		if delta == "" {
			return nil
		}
		id := event.ID
		if id == "" && event.Index != nil {
			id = f.thinkingIDs[*event.Index]
		}
		out = append(out, frameReasoningDelta(id, delta))

	case EventToolUseStart:
		id := str(event.Data, "id")
		if id == "" {
			id = newBlockID("call")
		}
		name := str(event.Data, "name")
		if name == "" {
			name = "unknown"
		}
		out = append(out, frameToolInputStart(id, name))
		if input := obj(event.Data, "input"); len(input) > 0 {
			out = append(out, frameToolInputAvailable(id, name, input))
		}

	case EventToolUseDelta:
		if event.ID == "" {
			return nil
		}
		if delta := str(event.Data, "partial_json"); delta != "" {
			out = append(out, frameToolInputDelta(event.ID, delta))
		}

	case EventToolResult:
		id := str(event.Data, "tool_use_id")
		if id == "" {
			id = event.ID
		}
		_, hasResults := event.Data["results"]
		if id == "" && hasResults {
			id = newBlockID("search")
		}
		var output map[string]any
		if hasResults {
			output = map[string]any{
				"count":   event.Data["count"],
				"results": event.Data["results"],
			}
		} else {
			output = event.Data
		}
		if id != "" && len(output) > 0 {
			out = append(out, frameToolOutputAvailable(id, output))
		}

	case EventUsage:
		usage := obj(event.Data, "usage")
		if len(usage) == 0 {
			return nil
		}
		out = append(out, frameDataUsage(map[string]any{
			"inputTokens":     usage["input_tokens"],
			"outputTokens":    usage["output_tokens"],
			"reasoningTokens": usage["reasoning_tokens"],
			"cachedTokens":    usage["cached_tokens"],
			"stopReason":      event.Data["stop_reason"],
			"isTotal":         truthy(event.Data, "total"),
		}))

	case EventResult:
		if truthy(event.Data, "is_error") {
			if f.simpleTextStarted {
				out = append(out, frameTextEnd(f.simpleTextID))
				f.simpleTextStarted = false
			}
			out = append(out, frameError("Agent execution failed"))
		}
		if event.Data["total_cost_usd"] != nil || num(event.Data, "duration_ms") != 0 {
			sdkSessionID := str(event.Data, "session_id")
			if sdkSessionID == "" {
				sdkSessionID = str(event.Data, "sessionId")
			}
			out = append(out, frameDataUsage(map[string]any{
				"totalCostUSD": event.Data["total_cost_usd"],
				"numTurns":     event.Data["num_turns"],
				"durationMs":   event.Data["duration_ms"],
				"sdkSessionId": sdkSessionID,
				"isError":      truthy(event.Data, "is_error"),
			}))
		}

	case EventError:
		if f.simpleTextStarted {
			out = append(out, frameTextEnd(f.simpleTextID))
			f.simpleTextStarted = false
		}
		message := str(event.Data, "message")
		if message == "" {
			message = "Unknown error"
		}
		out = append(out, frameError(message))
	}

	return out
}

// End closes every block still open, then emits the finish frame and the
// [DONE] terminator. Indexed blocks close in ascending index order so the
// tail of the stream is deterministic.
func (f *Formatter) End() []string {
	var out []string
	if f.processingStarted {
		out = append(out, frameReasoningEnd(f.processingID))
		f.processingStarted = false
	}
	if f.thinkingStarted {
		out = append(out, frameReasoningEnd(f.thinkingID))
		f.thinkingStarted = false
	}
	for _, idx := range sortedKeys(f.activeText) {
		out = append(out, frameTextEnd(f.textIDs[idx]))
		delete(f.activeText, idx)
	}
	for _, idx := range sortedKeys(f.activeThinking) {
		out = append(out, frameReasoningEnd(f.thinkingIDs[idx]))
		delete(f.activeThinking, idx)
	}
	if f.simpleTextStarted {
		out = append(out, frameTextEnd(f.simpleTextID))
		f.simpleTextStarted = false
	}
	out = append(out, frameFinish(), DoneFrame)
	return out
}

func sortedKeys(set map[int]struct{}) []int {
	keys := make([]int, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
