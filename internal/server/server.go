// Package server assembles the HTTP surface: module routes, health,
// metrics, system status and the websocket event relay.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vetito/internal/config"
	"vetito/internal/events"
	"vetito/internal/jobs"
	"vetito/internal/modules/playbackmodule"
	"vetito/internal/modules/subtitlemodule"
	"vetito/internal/transcoder"
)

// Deps are the wired components the router exposes.
type Deps struct {
	Playback     *playbackmodule.APIHandler
	Subtitles    *subtitlemodule.APIHandler
	Orchestrator *jobs.Orchestrator
	Transcoder   *transcoder.Manager
	Bus          *events.Bus
	Logger       hclog.Logger
}

// NewRouter builds the gin engine with all routes mounted.
func NewRouter(cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(deps.Logger.Named("http")))
	if cfg.Server.EnableCORS {
		r.Use(corsMiddleware())
	}

	deps.Playback.RegisterRoutes(r)
	deps.Subtitles.RegisterRoutes(r)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/system/status", systemStatus(deps))
	r.GET("/events/ws", eventSocket(deps.Bus, deps.Logger))

	return r
}

// requestLogger logs each request at debug with timing.
func requestLogger(logger hclog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Server wraps the HTTP listener with graceful shutdown.
type Server struct {
	httpServer *http.Server
	logger     hclog.Logger
}

// New creates the server on the configured listen address.
func New(cfg *config.Config, router *gin.Engine, logger hclog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:    cfg.ListenAddr(),
			Handler: router,
		},
		logger: logger.Named("server"),
	}
}

// Start blocks serving requests until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
