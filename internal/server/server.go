package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/streamforge/internal/config"
	"github.com/mantonx/streamforge/internal/library"
	"github.com/mantonx/streamforge/internal/scheduler"
	"github.com/mantonx/streamforge/internal/session"
	"github.com/mantonx/streamforge/internal/telemetry"
)

// Dependencies carries everything the HTTP surface needs. All of it is
// constructed at boot and injected; handlers hold no global state.
type Dependencies struct {
	Config    *config.Config
	Library   *library.Service
	Manager   *session.Manager
	Scheduler *scheduler.Scheduler
	Hub       *telemetry.Hub
	Logs      *telemetry.LogStreamer
	Logger    hclog.Logger
}

// Server wraps the gin engine and the http server for graceful
// shutdown.
type Server struct {
	engine *gin.Engine
	http   *http.Server
	logger hclog.Logger
}

// New builds the router with all routes registered.
func New(deps Dependencies) *Server {
	r := gin.Default()

	// CORS middleware for development
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	registerRoutes(r, deps)

	addr := fmt.Sprintf("%s:%d", deps.Config.Server.Host, deps.Config.Server.Port)
	return &Server{
		engine: r,
		http:   &http.Server{Addr: addr, Handler: r},
		logger: deps.Logger.Named("server"),
	}
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests with a bounded grace period.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}
