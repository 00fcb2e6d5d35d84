package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mobox-ai/mobox/pkg/agent"
)

// ListAgents returns all installed agents.
func (s *Server) ListAgents(c *gin.Context) {
	slog.Info("Fetching available agents")

	configs, err := agent.List(s.settings.AgentsDir)
	if err != nil {
		slog.Error("Failed to list agents", "dir", s.settings.AgentsDir, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Error listing agents"})
		return
	}

	out := make([]AgentResponse, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, AgentResponse{
			ID:          cfg.ID,
			Name:        cfg.Name,
			Description: cfg.Description,
			Framework:   cfg.Framework,
		})
	}
	c.JSON(http.StatusOK, out)
}

// GetAgent returns a single agent by id.
func (s *Server) GetAgent(c *gin.Context) {
	agentID := c.Param("id")

	cfg, err := agent.Load(s.settings.AgentsDir, agentID)
	if err != nil {
		abortNotFound(c, fmt.Sprintf("Agent '%s' not found", agentID))
		return
	}

	c.JSON(http.StatusOK, AgentResponse{
		ID:          cfg.ID,
		Name:        cfg.Name,
		Description: cfg.Description,
		Framework:   cfg.Framework,
	})
}
