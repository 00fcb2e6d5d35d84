package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mobox-ai/mobox/pkg/config"
	"github.com/mobox-ai/mobox/pkg/database"
	"github.com/mobox-ai/mobox/pkg/sandbox"
	"github.com/mobox-ai/mobox/pkg/services"
)

// apiPrefix is the base path for versioned API routes.
const apiPrefix = "/api/v1"

// Server is the HTTP API server.
type Server struct {
	settings  *config.Settings
	db        *database.Client
	sessions  *services.SessionService
	messages  *services.MessageService
	committer *services.Committer
	runner    sandbox.Runner

	httpServer *http.Server
}

// NewServer creates a new API server.
func NewServer(
	settings *config.Settings,
	db *database.Client,
	sessions *services.SessionService,
	messages *services.MessageService,
	committer *services.Committer,
	runner sandbox.Runner,
) *Server {
	return &Server{
		settings:  settings,
		db:        db,
		sessions:  sessions,
		messages:  messages,
		committer: committer,
		runner:    runner,
	}
}

// Router builds the gin engine with all routes and middleware registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	// Request IDs must be assigned before CORS so preflight responses
	// carry them too.
	r.Use(requestID())
	r.Use(cors())

	r.GET("/", s.Root)

	v1 := r.Group(apiPrefix)
	v1.GET("/health", s.Health)
	v1.GET("/ready", s.Ready)

	v1.POST("/chat", s.Chat)

	sessions := v1.Group("/sessions")
	sessions.GET("", s.ListSessions)
	sessions.POST("", s.CreateSession)
	sessions.GET("/:id/messages", s.GetMessages)
	sessions.GET("/:id/context", s.GetContext)
	sessions.GET("/:id/events", s.GetEvents)
	sessions.DELETE("/:id", s.DeleteSession)
	sessions.DELETE("", s.DeleteAllSessions)

	agents := v1.Group("/agents")
	agents.GET("", s.ListAgents)
	agents.GET("/:id", s.GetAgent)

	return r
}

// Start runs the HTTP server on addr, blocking until shutdown.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Root is the welcome endpoint.
func (s *Server) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Welcome to Mobox API"})
}
