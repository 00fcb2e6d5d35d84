package api

import (
	"time"

	"github.com/mobox-ai/mobox/pkg/models"
)

// claudeContextWindow is the context window reported for usage displays.
const claudeContextWindow = 200000

// ChatSessionResponse is returned by the session endpoints.
type ChatSessionResponse struct {
	ID           string  `json:"id"`
	Title        *string `json:"title"`
	AgentID      string  `json:"agent_id"`
	AgentName    *string `json:"agent_name"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
	SDKSessionID *string `json:"sdk_session_id"`
}

func sessionResponse(s *models.ChatSession) ChatSessionResponse {
	agentID := s.AgentID
	if agentID == "" {
		agentID = "hello-world"
	}
	return ChatSessionResponse{
		ID:           s.ID,
		Title:        optional(s.Title),
		AgentID:      agentID,
		AgentName:    optional(s.AgentName),
		CreatedAt:    isoTime(s.CreatedAt),
		UpdatedAt:    isoTime(s.UpdatedAt),
		SDKSessionID: optional(s.SDKSessionID),
	}
}

// ChatMessageResponse is one message in a paginated listing.
type ChatMessageResponse struct {
	ID        string         `json:"id"`
	ChatID    string         `json:"chat_id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	CreatedAt string         `json:"created_at"`
	Metadata  map[string]any `json:"metadata"`
}

func messageResponse(m *models.ChatMessage) ChatMessageResponse {
	return ChatMessageResponse{
		ID:        m.ID,
		ChatID:    m.ChatID,
		Role:      m.Role,
		Content:   m.Content,
		CreatedAt: isoTime(m.CreatedAt),
		Metadata:  m.Metadata,
	}
}

// PaginatedMessagesResponse is returned by GET /sessions/:id/messages.
type PaginatedMessagesResponse struct {
	Messages []ChatMessageResponse `json:"messages"`
	Total    int                   `json:"total"`
	Limit    int                   `json:"limit"`
	Offset   int                   `json:"offset"`
	HasMore  bool                  `json:"has_more"`
}

// ChatContextResponse aggregates a session's usage for context display.
type ChatContextResponse struct {
	ChatID            string  `json:"chat_id"`
	TotalInputTokens  int     `json:"total_input_tokens"`
	TotalOutputTokens int     `json:"total_output_tokens"`
	TotalTokens       int     `json:"total_tokens"`
	TotalCostUSD      float64 `json:"total_cost_usd"`
	AgentID           string  `json:"agent_id"`
	AgentName         *string `json:"agent_name"`
	ContextWindow     int     `json:"context_window"`
}

// ChatEventResponse is one audit-trail event.
type ChatEventResponse struct {
	ID        string         `json:"id"`
	ChatID    string         `json:"chat_id"`
	MessageID *string        `json:"message_id"`
	EventType string         `json:"event_type"`
	EventName *string        `json:"event_name"`
	EventData map[string]any `json:"event_data"`
	CreatedAt string         `json:"created_at"`
}

func eventResponse(e *models.ChatEvent) ChatEventResponse {
	return ChatEventResponse{
		ID:        e.ID,
		ChatID:    e.ChatID,
		MessageID: optional(e.MessageID),
		EventType: e.EventType,
		EventName: optional(e.EventName),
		EventData: e.EventData,
		CreatedAt: isoTime(e.CreatedAt),
	}
}

// PaginatedEventsResponse is returned by GET /sessions/:id/events.
type PaginatedEventsResponse struct {
	Events  []ChatEventResponse `json:"events"`
	Total   int                 `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
	HasMore bool                `json:"has_more"`
}

// AgentResponse describes one installed agent.
type AgentResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Framework   string `json:"framework"`
}

// DeleteSessionResponse is returned by DELETE /sessions/:id.
type DeleteSessionResponse struct {
	Message   string `json:"message"`
	DeletedID string `json:"deleted_id"`
}

// DeleteAllSessionsResponse is returned by DELETE /sessions.
type DeleteAllSessionsResponse struct {
	Message      string `json:"message"`
	DeletedCount int64  `json:"deleted_count"`
}

func isoTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// optional maps empty strings to JSON null, matching the nullable columns
// they come from.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
