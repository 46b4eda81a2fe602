package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"corpchat/config"
	"corpchat/internal/handler"
	"corpchat/internal/metrics"
	"corpchat/internal/middleware"
	"corpchat/internal/redis"
	"corpchat/internal/services"
	"corpchat/internal/transport/httpdto"
	"corpchat/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *config.Config
	logger     *logger.Logger
}

var (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

type Handlers struct {
	Auth      *handler.AuthHandler
	History   *handler.HistoryHandler
	Presence  *handler.PresenceHandler
	Upload    *handler.UploadHandler
	WebSocket *WebSocketHandler
}

// Deps are the shared pieces routes need besides the handlers.
type Deps struct {
	Auth    *services.AuthService
	Limiter *redis.RateLimiter
	Metrics *metrics.Metrics
	// HealthChecks run on /health; any failure answers 503.
	HealthChecks map[string]func(ctx context.Context) error
}

func New(cfg *config.Config, l *logger.Logger) *Server {
	if cfg.AppMode == ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.AppMode == TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.AppPort),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		engine: engine,
		config: cfg,
		logger: l,
	}
}

func (s *Server) SetupRoutes(handlers *Handlers, deps Deps) {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.CORSMiddleware(s.config.Origins()))
	s.engine.Use(middleware.LoggingMiddleware(s.logger))
	s.engine.Use(middleware.ErrorHandler(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong"}))
	})

	s.engine.GET("/health", func(c *gin.Context) {
		for name, check := range deps.HealthChecks {
			if err := check(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse(name+": "+err.Error(), "UNHEALTHY"))
				return
			}
		}
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"status": "healthy"}))
	})

	if deps.Metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	s.engine.GET("/ws", handlers.WebSocket.Handle)

	v1 := s.engine.Group("/v1")
	v1.POST("/session", handlers.Auth.Session)

	authed := v1.Group("", middleware.AuthMiddleware(deps.Auth), middleware.RateLimitMiddleware(deps.Limiter))
	{
		authed.GET("/chats/direct/:peerId/messages", handlers.History.Direct)
		authed.GET("/chats/groups/:groupId/messages", handlers.History.Group)
		authed.GET("/unread", handlers.History.Unread)
		authed.GET("/presence/:userId", handlers.Presence.Get)
		authed.POST("/attachments", handlers.Upload.Presign)
	}
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Starting the server on port %s...", s.config.AppPort)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Infof("Shutdown signal received, draining for up to %s", shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Logger.Error("graceful shutdown failed", zap.Error(err))
		return err
	}
	s.logger.Infof("Server stopped gracefully")
	return nil
}
