package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mobox-ai/mobox/pkg/models"
)

// ListSessions returns all chat sessions, most recently updated first.
func (s *Server) ListSessions(c *gin.Context) {
	sessions, err := s.sessions.List(c.Request.Context())
	if err != nil {
		abortWithServiceError(c, err, "")
		return
	}

	out := make([]ChatSessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionResponse(sess))
	}
	c.JSON(http.StatusOK, out)
}

// CreateSession creates a chat session without starting a turn.
func (s *Server) CreateSession(c *gin.Context) {
	var req models.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err.Error())
		return
	}

	sess, err := s.sessions.Create(c.Request.Context(), req)
	if err != nil {
		abortWithServiceError(c, err, "")
		return
	}
	c.JSON(http.StatusOK, sessionResponse(sess))
}

// GetMessages returns a page of a session's messages. With no offset the
// page is the most recent window, returned in chronological order.
func (s *Server) GetMessages(c *gin.Context) {
	chatID := c.Param("id")

	limit := intQuery(c, "limit", 30)
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}
	offset := intQuery(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	if _, err := s.sessions.Get(c.Request.Context(), chatID); err != nil {
		abortWithServiceError(c, err, fmt.Sprintf("Chat session %s not found", chatID))
		return
	}

	messages, total, actualOffset, err := s.messages.ListMessages(c.Request.Context(), chatID, limit, offset)
	if err != nil {
		abortWithServiceError(c, err, "")
		return
	}

	out := make([]ChatMessageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, messageResponse(m))
	}
	c.JSON(http.StatusOK, PaginatedMessagesResponse{
		Messages: out,
		Total:    total,
		Limit:    limit,
		Offset:   actualOffset,
		HasMore:  actualOffset+len(messages) < total,
	})
}

// GetContext returns a session's aggregated token usage and cost.
func (s *Server) GetContext(c *gin.Context) {
	chatID := c.Param("id")

	sess, totals, err := s.sessions.Context(c.Request.Context(), chatID)
	if err != nil {
		abortWithServiceError(c, err, fmt.Sprintf("Chat session %s not found", chatID))
		return
	}

	agentID := sess.AgentID
	if agentID == "" {
		agentID = "hello-world"
	}
	c.JSON(http.StatusOK, ChatContextResponse{
		ChatID:            chatID,
		TotalInputTokens:  totals.InputTokens,
		TotalOutputTokens: totals.OutputTokens,
		TotalTokens:       totals.TotalTokens,
		TotalCostUSD:      totals.CostUSD,
		AgentID:           agentID,
		AgentName:         optional(sess.AgentName),
		ContextWindow:     claudeContextWindow,
	})
}

// GetEvents returns a page of a session's audit-trail events in order.
func (s *Server) GetEvents(c *gin.Context) {
	chatID := c.Param("id")

	limit := intQuery(c, "limit", 50)
	if limit < 1 {
		limit = 1
	}
	if limit > 200 {
		limit = 200
	}
	offset := intQuery(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	if _, err := s.sessions.Get(c.Request.Context(), chatID); err != nil {
		abortWithServiceError(c, err, fmt.Sprintf("Chat session %s not found", chatID))
		return
	}

	events, total, err := s.messages.ListEvents(c.Request.Context(), chatID, limit, offset)
	if err != nil {
		abortWithServiceError(c, err, "")
		return
	}

	out := make([]ChatEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse(e))
	}
	c.JSON(http.StatusOK, PaginatedEventsResponse{
		Events:  out,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(events) < total,
	})
}

// DeleteSession deletes one session and its dependent rows.
func (s *Server) DeleteSession(c *gin.Context) {
	chatID := c.Param("id")

	if err := s.sessions.Delete(c.Request.Context(), chatID); err != nil {
		abortWithServiceError(c, err, fmt.Sprintf("Chat session %s not found", chatID))
		return
	}

	c.JSON(http.StatusOK, DeleteSessionResponse{
		Message:   fmt.Sprintf("Chat session %s deleted successfully", chatID),
		DeletedID: chatID,
	})
}

// DeleteAllSessions deletes every session.
func (s *Server) DeleteAllSessions(c *gin.Context) {
	count, err := s.sessions.DeleteAll(c.Request.Context())
	if err != nil {
		abortWithServiceError(c, err, "")
		return
	}

	c.JSON(http.StatusOK, DeleteAllSessionsResponse{
		Message:      "All chat sessions deleted successfully",
		DeletedCount: count,
	})
}

func intQuery(c *gin.Context, name string, defaultVal int) int {
	raw := c.Query(name)
	if raw == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return defaultVal
	}
	return n
}
