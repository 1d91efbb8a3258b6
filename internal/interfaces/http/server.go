// Package http wires the gateway's gin router: health/model endpoints, the
// OpenAI-compatible chat-completions route, and structured request logging.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/claude-code/gateway/internal/interfaces/http/handlers"
)

// Server wraps the gateway's HTTP listener.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config holds the HTTP listener's tunables.
type Config struct {
	Host string
	Port int
	Mode string // debug, release
}

// NewServer constructs the gateway's HTTP server, wiring the chat handler
// onto the OpenAI-compatible route group.
func NewServer(cfg Config, chat *handlers.ChatHandler, logger *zap.Logger) *Server {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))

	setupRoutes(router, chat)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		server: &http.Server{Addr: addr, Handler: router},
		logger: logger,
	}
}

// Start begins serving in the background; ListenAndServe errors are logged,
// not returned, since they surface after the caller has already moved on.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting HTTP server", zap.String("address", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully drains in-flight connections, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func setupRoutes(router *gin.Engine, chat *handlers.ChatHandler) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Unix()})
	})

	oai := router.Group("/v1")
	{
		oai.POST("/chat/completions", chat.ChatCompletions)
		oai.GET("/models", chat.ListModels)
	}
}

// ginLogger emits one structured log line per request.
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
