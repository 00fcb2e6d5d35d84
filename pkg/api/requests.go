package api

import (
	"github.com/google/uuid"
)

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	Prompt string `json:"prompt" binding:"required"`
	// SessionID continues an existing conversation when set.
	SessionID string `json:"session_id"`
	// AgentID selects the agent for new sessions; ignored for existing ones.
	AgentID string `json:"agent_id"`
}

// Validate checks field constraints the binding tags cannot express.
func (r *ChatRequest) Validate() string {
	if r.SessionID != "" {
		if _, err := uuid.Parse(r.SessionID); err != nil {
			return "session_id must be a valid UUID"
		}
	}
	return ""
}
