// Package server exposes the engine over HTTP.
//
// Every endpoint except session creation and the health probe requires a
// bearer token minted by the session store. Execution and readiness updates
// stream as server-sent events; everything else is plain JSON.
package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vk/playbookgo/internal/executor"
	"github.com/vk/playbookgo/internal/outputstore"
	"github.com/vk/playbookgo/internal/readiness"
	"github.com/vk/playbookgo/internal/registry"
	"github.com/vk/playbookgo/internal/session"
)

type Server struct {
	router  *gin.Engine
	logger  *slog.Logger
	reg     *registry.Registry
	outputs *outputstore.Store
	session *session.Store
	gate    *readiness.Gate
	engine  *executor.Engine

	playbookPath string
}

func New(
	logger *slog.Logger,
	reg *registry.Registry,
	outputs *outputstore.Store,
	sess *session.Store,
	gate *readiness.Gate,
	engine *executor.Engine,
	playbookPath string,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:       gin.New(),
		logger:       logger,
		reg:          reg,
		outputs:      outputs,
		session:      sess,
		gate:         gate,
		engine:       engine,
		playbookPath: playbookPath,
	}

	s.router.Use(gin.Recovery(), s.requestLogger())
	s.routes()
	return s
}

// Router returns the http.Handler for mounting or serving.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.GET("/health", s.handleHealth)
	s.router.POST("/api/session", s.handleSessionCreate)

	api := s.router.Group("/api", s.requireSession())
	{
		api.GET("/session", s.handleSessionMetadata)
		api.POST("/session/join", s.handleSessionJoin)
		api.DELETE("/session/token", s.handleSessionRevoke)
		api.PATCH("/session/env", s.handleSessionEnvPatch)
		api.POST("/session/reset", s.handleSessionReset)

		api.GET("/blocks", s.handleBlocksList)
		api.GET("/blocks/:id/readiness", s.handleBlockReadiness)
		api.GET("/readiness/stream", s.handleReadinessStream)
		api.GET("/outputs", s.handleOutputs)

		api.POST("/exec", s.handleExec)
		api.POST("/reload", s.handleReload)
	}
}

// requestLogger logs each request through the server's slog logger instead
// of gin's default writer.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// requireSession rejects requests without a valid bearer token.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" || !s.session.Validate(token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid session token"})
			return
		}
		c.Set("sessionToken", token)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
