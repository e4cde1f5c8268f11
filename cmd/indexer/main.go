package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/feral-file/ff-agent-market/internal/adapter"
	"github.com/feral-file/ff-agent-market/internal/api/middleware"
	"github.com/feral-file/ff-agent-market/internal/config"
	"github.com/feral-file/ff-agent-market/internal/indexer"
	"github.com/feral-file/ff-agent-market/internal/logger"
	"github.com/feral-file/ff-agent-market/internal/store"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadIndexerConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "indexer",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Marketplace Indexer")

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err), zap.String("host", cfg.Database.Host))
	}
	if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
		logger.FatalCtx(ctx, "Failed to configure connection pool", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Connected to database")

	dataStore := store.NewPGStore(db)

	// Initialize adapters
	clockAdapter := adapter.NewClock()
	jsonAdapter := adapter.NewJSON()
	natsJS := adapter.NewNatsJetStream()

	metrics := indexer.NewMetrics(nil)
	projector := indexer.NewProjector(dataStore, jsonAdapter, clockAdapter, metrics)

	eventIndexer, err := indexer.NewIndexer(
		indexer.Config{
			URL:            cfg.NATS.URL,
			StreamName:     cfg.NATS.StreamName,
			ConsumerName:   cfg.NATS.ConsumerName,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ReconnectWait:  cfg.NATS.ReconnectWait,
			ConnectionName: cfg.NATS.ConnectionName,
			AckWaitTimeout: cfg.NATS.AckWait,
			MaxDeliver:     cfg.NATS.MaxDeliver,
			Chain:          cfg.ChainID,
			ReorderDepth:   cfg.Reorder.Depth,
			FlushInterval:  cfg.Reorder.FlushInterval,
		},
		natsJS,
		projector,
		jsonAdapter,
		clockAdapter,
		metrics,
	)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create indexer", zap.Error(err), zap.String("url", cfg.NATS.URL))
	}
	defer eventIndexer.Close()
	logger.InfoCtx(ctx, "Connected to NATS JetStream")

	// Health and metrics listener
	var metricsServer *http.Server
	if cfg.Metrics.Address != "" {
		gin.SetMode(gin.ReleaseMode)
		router := gin.New()
		router.Use(middleware.Recovery())
		router.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))

		metricsServer = &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.ErrorCtx(ctx, err, zap.String("component", "metrics"))
			}
		}()
		logger.InfoCtx(ctx, "Serving metrics", zap.String("address", cfg.Metrics.Address))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := eventIndexer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "indexer"))
		cancel()
	}

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Failed to shutdown metrics server", zap.Error(err))
		}
	}

	// Give the in-flight apply time to finish its ack
	time.Sleep(time.Second)

	logger.Info("Marketplace Indexer stopped")
}
