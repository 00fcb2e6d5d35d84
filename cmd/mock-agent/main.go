// Mock agent worker for local development. It reads the prompt from the
// workspace prepared by the gateway and emits a scripted line-JSON event
// stream in the simplified dialect, so the full chat pipeline can be
// exercised without any agent image or API keys.
//
// Point an agent descriptor at it:
//
//	command: ["mock-agent"]
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

func emit(event map[string]any) {
	raw, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Println(string(raw))
	os.Stdout.Sync()
	time.Sleep(50 * time.Millisecond)
}

func data(typ string, data map[string]any) map[string]any {
	return map[string]any{"type": typ, "data": data}
}

func main() {
	workspace := os.Getenv("AGENT_WORKSPACE")
	prompt := "(no prompt)"
	if workspace != "" {
		if raw, err := os.ReadFile(filepath.Join(workspace, "prompt.txt")); err == nil {
			prompt = string(raw)
		}
	}
	history := false
	if workspace != "" {
		if _, err := os.Stat(filepath.Join(workspace, "history.txt")); err == nil {
			history = true
		}
	}

	emit(data("status", map[string]any{"message": "Mock agent started"}))
	emit(data("todos", map[string]any{"items": []any{
		map[string]any{"content": "Read the prompt", "status": "pending"},
		map[string]any{"content": "Produce an answer", "status": "pending"},
	}}))
	emit(data("thinking", map[string]any{"content": "Reading the prompt.\n"}))
	emit(data("todo_done", map[string]any{
		"index": 0,
		"item":  map[string]any{"content": "Read the prompt"},
	}))
	emit(data("tool_use", map[string]any{
		"id":    "toolu_mock_1",
		"name":  "echo",
		"input": map[string]any{"text": prompt},
	}))
	emit(data("tool_result", map[string]any{
		"tool_use_id": "toolu_mock_1",
		"content":     prompt,
	}))
	emit(data("text", map[string]any{"content": "You said: " + prompt}))
	if history {
		emit(data("text", map[string]any{"content": "\n(continuing an earlier conversation)"}))
	}
	emit(data("todo_done", map[string]any{
		"index": 1,
		"item":  map[string]any{"content": "Produce an answer"},
	}))
	emit(data("result", map[string]any{
		"session_id":     "mock-session",
		"total_cost_usd": 0.0,
		"num_turns":      1,
		"duration_ms":    400,
		"usage": map[string]any{
			"input_tokens":  12,
			"output_tokens": 24,
			"total_tokens":  36,
		},
	}))
	emit(data("done", nil))
}
