package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/feral-file/ff-agent-market/internal/adapter"
	"github.com/feral-file/ff-agent-market/internal/api/graphql"
	"github.com/feral-file/ff-agent-market/internal/api/middleware"
	"github.com/feral-file/ff-agent-market/internal/logger"
	"github.com/feral-file/ff-agent-market/internal/store"
)

// Config holds the server configuration
type Config struct {
	Debug        bool
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CORSOrigins  []string
	// RateLimit applies only when a RateLimiter is given to New
	RateLimit middleware.RateLimitConfig
}

// Server wraps the HTTP server
type Server struct {
	config     Config
	store      store.Store
	limiter    adapter.RedisRateLimiter
	gatherer   prometheus.Gatherer
	httpServer *http.Server
}

// New creates a new API server. limiter may be nil to disable per-client limits;
// a nil gatherer exposes the default Prometheus registry.
func New(cfg Config, s store.Store, limiter adapter.RedisRateLimiter, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		config:   cfg,
		store:    s,
		limiter:  limiter,
		gatherer: gatherer,
	}
}

// Router builds the gin engine with every route and middleware
func (s *Server) Router() (*gin.Engine, error) {
	if s.config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger())
	router.Use(middleware.SetupCORS(s.config.CORSOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	exec, err := graphql.NewExecutor(graphql.NewResolver(s.store))
	if err != nil {
		return nil, fmt.Errorf("failed to create GraphQL executor: %w", err)
	}

	api := router.Group("")
	if s.limiter != nil && s.config.RateLimit.RequestsPerSecond > 0 {
		api.Use(middleware.RateLimit(s.limiter, s.config.RateLimit))
	}
	handler := graphql.NewHandler(exec)
	api.POST("/graphql", handler.HandleGraphQL)
	api.POST("/subgraphs/name/:org/:name", handler.HandleGraphQL)
	router.GET("/graphql", handler.HandlePlayground)

	return router, nil
}

// Start initializes and starts the HTTP server
func (s *Server) Start() error {
	router, err := s.Router()
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	logger.Info("Starting API server",
		zap.String("address", addr),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("Shutting down API server")

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	return nil
}
