// Package http wires the gin router that exposes the OpenAI-compatible
// surface of spec §6: the root/health probes, /v1/models, and
// /v1/chat/completions, the way the teacher's interfaces/http.Server
// wires its own routes.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sad1droid/kiro-openai-gateway/internal/application/usecase"
	"github.com/sad1droid/kiro-openai-gateway/internal/interfaces/http/handlers"
)

// Version is the gateway's reported version string.
const Version = "0.1.0"

// Config controls the HTTP listener.
type Config struct {
	Host        string
	Port        int
	Mode        string // debug, release
	ProxyAPIKey string
}

// Server owns the gin engine and the underlying net/http.Server.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// NewServer builds the gateway's HTTP server, registering every route
// named in spec §6.
func NewServer(cfg Config, chatUC *usecase.ChatCompletionUseCase, modelsUC *usecase.ModelsUseCase, logger *zap.Logger) *Server {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))

	openaiHandler := handlers.NewOpenAIHandler(chatUC, modelsUC, logger)

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "kiro-openai-gateway",
			"version": Version,
		})
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"version":   Version,
		})
	})

	v1 := router.Group("/v1")
	v1.Use(handlers.BearerAuth(cfg.ProxyAPIKey))
	{
		v1.GET("/models", openaiHandler.ListModels)
		v1.POST("/chat/completions", openaiHandler.ChatCompletions)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		server: &http.Server{Addr: addr, Handler: router},
		logger: logger,
	}
}

// Start begins serving in the background; errors after startup are logged.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting HTTP server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts the server down within ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// ginLogger emits one structured Info line per request, mirroring the
// teacher's interfaces/http.ginLogger middleware.
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
