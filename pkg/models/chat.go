// Package models contains request/response models and business domain types.
package models

import "time"

// TitlePlaceholder is the title given to sessions created without a prompt.
const TitlePlaceholder = "New Chat"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TitleFromPrompt derives a session title from the first prompt:
// the first 50 characters, with "..." appended when truncated.
func TitleFromPrompt(prompt string) string {
	const maxTitleLen = 50
	runes := []rune(prompt)
	if len(runes) > maxTitleLen {
		return string(runes[:maxTitleLen]) + "..."
	}
	return prompt
}

// ChatSession is one conversation with an agent.
type ChatSession struct {
	ID        string
	Title     string
	AgentID   string
	AgentName string
	// SDKSessionID is the vendor session id minted by the agent's upstream
	// provider, stored so the agent can resume the conversation. Empty
	// until the first stream captures one.
	SDKSessionID string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ChatMessage is one turn of a session.
type ChatMessage struct {
	ID      string
	ChatID  string
	Role    string
	Content string
	// Metadata carries accumulated status lines, reasoning text, and the
	// final todo snapshot for assistant turns. Nil for user turns.
	Metadata  map[string]any
	CreatedAt time.Time
}

// ChatUsage aggregates token and cost usage for one assistant turn.
type ChatUsage struct {
	ID           string
	ChatID       string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	CostUSD      float64
	CreatedAt    time.Time
}

// ChatEvent is an audit record of one persistable agent event.
type ChatEvent struct {
	ID        string
	ChatID    string
	MessageID string
	EventType string
	EventName string
	EventData map[string]any
	CreatedAt time.Time
}

// HistoryEntry is one prior turn serialized into the worker's history.txt.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UsageTotals is the in-memory usage accumulator for one stream.
type UsageTotals struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	CostUSD      float64
}

// CreateSessionRequest contains fields for creating a session explicitly.
type CreateSessionRequest struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
}
