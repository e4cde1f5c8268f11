package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/feral-file/ff-agent-market/internal/adapter"
	"github.com/feral-file/ff-agent-market/internal/block"
	"github.com/feral-file/ff-agent-market/internal/config"
	"github.com/feral-file/ff-agent-market/internal/emitter"
	"github.com/feral-file/ff-agent-market/internal/logger"
	"github.com/feral-file/ff-agent-market/internal/providers/ethereum"
	"github.com/feral-file/ff-agent-market/internal/providers/jetstream"
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
	cfg, err := config.LoadMarketplaceEmitterConfig(*configFile, *envPath)
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
			"service": "marketplace-event-emitter",
			"chain":   string(cfg.Ethereum.ChainID),
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Marketplace Event Emitter",
		zap.String("nft", cfg.Ethereum.NFTAddress),
		zap.String("marketplace", cfg.Ethereum.MarketplaceAddress))

	// Connect to database; only the block cursor lives there
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err), zap.String("host", cfg.Database.Host))
	}
	logger.InfoCtx(ctx, "Connected to database")
	cursorStore := store.NewCursorStore(db)

	// Initialize adapters
	clockAdapter := adapter.NewClock()
	jsonAdapter := adapter.NewJSON()
	natsJS := adapter.NewNatsJetStream()

	// Initialize ethereum client
	ethDialer := adapter.NewEthClientDialer()
	adapterEthClient, err := ethDialer.Dial(ctx, cfg.Ethereum.WebSocketURL)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to dial Ethereum RPC", zap.Error(err), zap.String("websocket_url", cfg.Ethereum.WebSocketURL))
	}
	ethereumClient := ethereum.NewClient(adapterEthClient, cfg.Ethereum.LogStepSize)
	defer ethereumClient.Close()

	blockProvider := block.NewBlockProvider(
		ethereum.NewEthereumBlockFetcher(adapterEthClient),
		block.Config{
			TTL:                cfg.Ethereum.BlockHeadTTL,
			StaleWindow:        cfg.Ethereum.BlockHeadStaleWindow,
			MaxBlockTimestamps: 10000,
		},
		clockAdapter,
	)

	// Initialize NATS publisher
	natsPublisher, err := jetstream.NewPublisher(
		ctx,
		jetstream.Config{
			URL:             cfg.NATS.URL,
			StreamName:      cfg.NATS.StreamName,
			MaxReconnects:   cfg.NATS.MaxReconnects,
			ReconnectWait:   cfg.NATS.ReconnectWait,
			ConnectionName:  cfg.NATS.ConnectionName,
			DuplicateWindow: cfg.NATS.DuplicateWindow,
		}, natsJS, jsonAdapter)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create NATS publisher", zap.Error(err), zap.String("url", cfg.NATS.URL))
	}
	defer natsPublisher.Close()
	logger.InfoCtx(ctx, "Connected to NATS JetStream")

	// Initialize the subscriber over the contract pair
	subscriber, err := ethereum.NewSubscriber(ethereum.Config{
		WebSocketURL:       cfg.Ethereum.WebSocketURL,
		ChainID:            cfg.Ethereum.ChainID,
		NFTAddress:         cfg.Ethereum.NFTAddress,
		MarketplaceAddress: cfg.Ethereum.MarketplaceAddress,
	}, ethereumClient, blockProvider)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create Ethereum subscriber", zap.Error(err))
	}
	defer subscriber.Close()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	eventEmitter := emitter.NewEmitter(
		subscriber,
		natsPublisher,
		cursorStore,
		emitter.Config{
			ChainID:         cfg.Ethereum.ChainID,
			StartBlock:      cfg.Ethereum.StartBlock,
			CursorSaveFreq:  cfg.Emitter.CursorSaveFreq,
			CursorSaveDelay: cfg.Emitter.CursorSaveDelay,
		},
		clockAdapter,
	)
	defer eventEmitter.Close()

	errCh := make(chan error, 1)
	go func() {
		if err := eventEmitter.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case <-natsPublisher.CloseChan():
		logger.InfoCtx(ctx, "NATS connection closed unexpectedly")
		cancel()
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "emitter"))
		cancel()
	}

	// Give some time for graceful shutdown
	time.Sleep(time.Second)

	// Use non-context logger for final shutdown message since context is already canceled
	logger.Info("Marketplace Event Emitter stopped")
}
