package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mobox-ai/mobox/pkg/agent"
	"github.com/mobox-ai/mobox/pkg/config"
	"github.com/mobox-ai/mobox/pkg/sandbox"
	"github.com/mobox-ai/mobox/pkg/services"
	"github.com/mobox-ai/mobox/pkg/stream"
)

// auditEventTypes maps normalized event types to the event_type stored in
// the audit trail. Events outside this map are streamed but not persisted.
var auditEventTypes = map[stream.EventType]string{
	stream.EventToolUseStart: "tool_use",
	stream.EventToolResult:   "tool_result",
	stream.EventResult:       "result",
	stream.EventError:        "error",
	stream.EventTodoCreate:   "todo_create",
	stream.EventTodoUpdate:   "todo_update",
	stream.EventTodoDone:     "todo_done",
}

// Chat executes one agent turn and streams the response as AI SDK
// UI-message-stream SSE frames. The turn's outcome is persisted after the
// stream ends, on a background goroutine so a client disconnect cannot
// lose it.
func (s *Server) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err.Error())
		return
	}
	if detail := req.Validate(); detail != "" {
		abortBadRequest(c, detail)
		return
	}

	// Resolve the agent: an existing session's agent wins, otherwise the
	// request must name one.
	agentID := req.AgentID
	if req.SessionID != "" {
		existing, err := s.sessions.Get(c.Request.Context(), req.SessionID)
		if err == nil {
			agentID = existing.AgentID
			slog.Info("Using agent from existing session",
				"agent_id", agentID, "session_id", req.SessionID)
		}
	}
	if agentID == "" {
		abortBadRequest(c, "agent_id is required when creating a new session")
		return
	}

	agentConfig, err := agent.Load(s.settings.AgentsDir, agentID)
	if err != nil {
		abortNotFound(c, fmt.Sprintf("Agent '%s' not found", agentID))
		return
	}
	if s.settings.SandboxBackend == config.BackendDocker && agentConfig.Image == "" {
		abortBadRequest(c, fmt.Sprintf("Agent '%s' has no image configured", agentID))
		return
	}

	sess, created, err := s.sessions.GetOrCreate(
		c.Request.Context(), req.SessionID, agentID, agentConfig.Name, req.Prompt)
	if err != nil {
		abortWithServiceError(c, err, "")
		return
	}
	sessionID := sess.ID

	// The user message is saved before anything else can fail.
	if _, err := s.messages.AddUserMessage(c.Request.Context(), sessionID, req.Prompt); err != nil {
		abortWithServiceError(c, err, "")
		return
	}
	slog.Info("Saved user message", "session_id", sessionID)

	env := agentConfig.ResolveEnv()
	if len(agentConfig.EnvVars) > 0 && len(env) == 0 {
		slog.Error("No declared env vars resolved for agent",
			"agent_id", agentID, "env_vars", agentConfig.EnvVars)
		c.AbortWithStatusJSON(http.StatusInternalServerError,
			gin.H{"detail": "Service temporarily unavailable"})
		return
	}

	// Prior conversation goes to the worker only for existing sessions.
	history := ""
	if !created {
		history, err = s.messages.History(c.Request.Context(), sessionID)
		if err != nil {
			abortWithServiceError(c, err, "")
			return
		}
	}

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("x-vercel-ai-ui-message-stream", "v1")
	c.Status(http.StatusOK)

	parser := stream.ParserFor(agentConfig.Framework)
	formatter := stream.NewFormatter()
	state := &services.StreamState{}

	writeFrames := func(frames []string) {
		for _, f := range frames {
			fmt.Fprint(c.Writer, f)
		}
		c.Writer.Flush()
	}

	writeFrames(formatter.Start())

	slog.Info("Starting agent run", "session_id", sessionID, "agent_id", agentID)
	events := s.runner.Run(c.Request.Context(), sandbox.RunRequest{
		SessionID: sessionID,
		Agent:     agentConfig,
		Prompt:    req.Prompt,
		History:   history,
		Env:       env,
	})

	for agentEvent := range events {
		event := parser.Parse(agentEvent.Object())
		collect(state, event)

		if auditType, ok := auditEventTypes[event.Type]; ok {
			name := ""
			if event.Type == stream.EventToolUseStart {
				name, _ = event.Data["name"].(string)
			}
			state.Events = append(state.Events, services.PendingEvent{
				EventType: auditType,
				EventName: name,
				Data:      event.Data,
			})
		}

		writeFrames(formatter.Format(event))

		if event.Type == stream.EventDone {
			break
		}
	}

	writeFrames(formatter.End())

	state.Text = parser.Text()
	state.Thinking = parser.Thinking()
	if state.SDKSessionID == "" {
		state.SDKSessionID = parser.SDKSessionID()
	}

	go func() {
		if err := s.committer.CommitAssistantTurn(sessionID, state); err != nil {
			slog.Error("Failed to persist assistant turn",
				"session_id", sessionID, "error", err)
		}
	}()
}

// collect folds one normalized event into the turn's pending state.
func collect(st *services.StreamState, event stream.Event) {
	switch event.Type {
	case stream.EventStatus:
		if msg, _ := event.Data["message"].(string); msg != "" {
			st.Status = append(st.Status, msg)
		}

	case stream.EventTodoCreate:
		if items, _ := event.Data["items"].([]any); len(items) > 0 {
			st.Status = append(st.Status, fmt.Sprintf("Planning: %d tasks", len(items)))
			st.Todos = items
		}

	case stream.EventTodoUpdate:
		if items, _ := event.Data["items"].([]any); len(items) > 0 {
			st.Status = append(st.Status, fmt.Sprintf("Updated: %d tasks", len(items)))
			st.Todos = items
		}

	case stream.EventTodoDone:
		item, _ := event.Data["item"].(map[string]any)
		index := asInt(event.Data["index"])
		content, _ := item["content"].(string)
		if content == "" {
			content = "Task"
		}
		st.Status = append(st.Status, fmt.Sprintf("Completed: %s...", truncateRunes(content, 50)))
		if index >= 0 && index < len(st.Todos) {
			prev, _ := st.Todos[index].(map[string]any)
			merged := make(map[string]any, len(prev)+len(item)+1)
			for k, v := range prev {
				merged[k] = v
			}
			merged["status"] = "completed"
			for k, v := range item {
				merged[k] = v
			}
			st.Todos[index] = merged
		}

	case stream.EventUsage:
		usage, ok := event.Data["usage"].(map[string]any)
		if !ok {
			return
		}
		in := asInt(usage["input_tokens"])
		out := asInt(usage["output_tokens"])
		if total, _ := event.Data["total"].(bool); total {
			st.Usage.InputTokens = in
			st.Usage.OutputTokens = out
			if t, ok := usage["total_tokens"]; ok && t != nil {
				st.Usage.TotalTokens = asInt(t)
			} else {
				st.Usage.TotalTokens = in + out
			}
		} else {
			st.Usage.InputTokens += in
			st.Usage.OutputTokens += out
			st.Usage.TotalTokens = st.Usage.InputTokens + st.Usage.OutputTokens
		}

	case stream.EventResult:
		for _, key := range []string{"session_id", "sessionId"} {
			if id, _ := event.Data[key].(string); id != "" {
				st.SDKSessionID = id
				break
			}
		}
		if cost, ok := event.Data["total_cost_usd"].(float64); ok {
			st.Usage.CostUSD = cost
		}
		if usage, ok := event.Data["usage"].(map[string]any); ok {
			if v, ok := usage["input_tokens"]; ok {
				st.Usage.InputTokens = asInt(v)
			}
			if v, ok := usage["output_tokens"]; ok {
				st.Usage.OutputTokens = asInt(v)
			}
			if v, ok := usage["total_tokens"]; ok {
				st.Usage.TotalTokens = asInt(v)
			} else {
				st.Usage.TotalTokens = st.Usage.InputTokens + st.Usage.OutputTokens
			}
		}
	}
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	}
	return 0
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
