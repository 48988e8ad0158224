package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/reviewthread/internal/api/auth"
	"github.com/reviewthread/internal/conversation"
)

// Server represents the API server
type Server struct {
	echo *echo.Echo
	port int

	conversations *ConversationHandler
	events        *EventsHandler
	external      *ExternalCommentsHandler
	jwtSecret     string
}

// NewServer creates a new API server
func NewServer(port int, service *conversation.Service, feed EventFeed, comments ExternalCommentSource, jwtSecret string) *Server {
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:          e,
		port:          port,
		conversations: NewConversationHandler(service),
		events:        NewEventsHandler(feed),
		external:      NewExternalCommentsHandler(comments),
		jwtSecret:     jwtSecret,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints. Reads are open; mutations
// require a verified identity because its subject becomes the recorded
// actor.
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	requireAuth := auth.RequireAuth(s.jwtSecret)

	// API v1 group
	v1 := s.echo.Group("/api/v1")
	attempts := v1.Group("/attempts/:attempt_id")

	attempts.GET("/conversations", s.conversations.List)
	attempts.POST("/conversations", s.conversations.Create, requireAuth)
	attempts.GET("/conversations/unresolved", s.conversations.ListUnresolved)
	attempts.GET("/conversations/events", s.events.Feed)
	attempts.GET("/conversations/:conversation_id", s.conversations.Get)
	attempts.DELETE("/conversations/:conversation_id", s.conversations.Delete, requireAuth)
	attempts.POST("/conversations/:conversation_id/messages", s.conversations.AddMessage, requireAuth)
	attempts.DELETE("/conversations/:conversation_id/messages/:message_id", s.conversations.DeleteMessage, requireAuth)
	attempts.POST("/conversations/:conversation_id/resolve", s.conversations.Resolve, requireAuth)
	attempts.POST("/conversations/:conversation_id/unresolve", s.conversations.Unresolve, requireAuth)
	attempts.GET("/comments/external", s.external.List)
}

// Start begins the API server
func (s *Server) Start() error {
	// Start server in a goroutine
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Fatal("shutting down the server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}
