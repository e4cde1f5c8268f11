package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/feral-file/ff-agent-market/internal/adapter"
	"github.com/feral-file/ff-agent-market/internal/config"
	"github.com/feral-file/ff-agent-market/internal/ledger"
	"github.com/feral-file/ff-agent-market/internal/logger"
	"github.com/feral-file/ff-agent-market/internal/marketplace"
	"github.com/feral-file/ff-agent-market/internal/query"
	"github.com/feral-file/ff-agent-market/internal/ratelimit"
)

var (
	configFile string
	envPath    string

	rootCmd = &cobra.Command{
		Use:           "marketplace",
		Short:         "Browse and trade AI agent NFTs",
		Long:          `Reads active listings from the indexer's GraphQL endpoint and submits buy, list, cancel and approve transactions to the marketplace contracts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			teardown()
		},
	}

	app *application
)

// application holds the clients shared by every command
type application struct {
	config  *config.MarketplaceConfig
	eth     *ethclient.Client
	service marketplace.Service
	query   query.Client
	cache   marketplace.MetadataCache
	proxy   ratelimit.Proxy
	redis   adapter.RedisClient
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envPath, "env", "config/", "Path to environment files")

	rootCmd.AddCommand(listingsCmd, buyCmd, listCmd, cancelCmd, approveCmd, mintCmd, agentCmd, setMarketplaceCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, describeError(err))
		teardown()
		os.Exit(1)
	}
}

func setup(ctx context.Context) error {
	config.ChdirRepoRoot()
	cfg, err := config.LoadMarketplaceConfig(configFile, envPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "marketplace-client",
			"chain":   string(cfg.Ethereum.ChainID),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	eth, err := ethclient.DialContext(ctx, cfg.Ethereum.RPCURL)
	if err != nil {
		return fmt.Errorf("failed to connect to ethereum node: %w", err)
	}

	l, err := ledger.NewContractLedger(ledger.Config{
		Chain:              cfg.Ethereum.ChainID,
		NFTAddress:         cfg.Ethereum.NFTAddress,
		MarketplaceAddress: cfg.Ethereum.MarketplaceAddress,
		PrivateKey:         cfg.PrivateKey,
		ReceiptTimeout:     cfg.ReceiptTimeout,
	}, eth)
	if err != nil {
		eth.Close()
		return fmt.Errorf("failed to bind contracts: %w", err)
	}

	a := &application{
		config:  cfg,
		eth:     eth,
		service: marketplace.NewService(l),
	}

	httpClient := adapter.NewHTTPClientWithRetry(cfg.Query.Timeout, adapter.HTTPRetryConfig{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsedTime:  cfg.Query.Timeout,
		MaxRetries:      cfg.Query.MaxRetries,
	})
	jsonAdapter := adapter.NewJSON()
	clock := adapter.NewClock()
	a.query = query.NewClient(query.Config{
		Endpoint: cfg.Query.Endpoint,
		PageSize: cfg.Query.PageSize,
	}, httpClient, jsonAdapter)

	// RPC reads share a distributed budget when Redis is configured
	var limiterRedis adapter.RedisClient
	if cfg.RateLimiter.RedisAddr != "" {
		limiterRedis = adapter.NewRedisClient(cfg.RateLimiter.RedisAddr, cfg.RateLimiter.RedisPassword, cfg.RateLimiter.RedisDB)
	}
	a.proxy, err = ratelimit.NewProxy(cfg.RateLimiter, limiterRedis, clock)
	if err != nil {
		logger.Warn("Rate limit proxy disabled", zap.Error(err))
		a.proxy = nil
		if limiterRedis != nil {
			_ = limiterRedis.Close()
		}
	}

	backend := marketplace.NewMemoryBackend(clock)
	if cfg.Metadata.Redis.Enabled() {
		a.redis = adapter.NewRedisClient(cfg.Metadata.Redis.Addr, cfg.Metadata.Redis.Password, cfg.Metadata.Redis.DB)
		if err := a.redis.Ping(ctx); err != nil {
			logger.WarnCtx(ctx, "Metadata Redis unavailable, caching in memory", zap.Error(err))
		} else {
			backend = marketplace.NewRedisBackend(a.redis, jsonAdapter, cfg.Metadata.KeyPrefix)
		}
	}
	a.cache = marketplace.NewMetadataCache(marketplace.CacheConfig{
		TTL:     cfg.Metadata.CacheTTL,
		Workers: cfg.Metadata.Workers,
	}, l, a.proxy, backend)

	app = a
	return nil
}

func teardown() {
	if app == nil {
		return
	}
	if app.proxy != nil {
		if err := app.proxy.Close(); err != nil {
			logger.Warn("Failed to close rate limit proxy", zap.Error(err))
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			logger.Warn("Failed to close Redis client", zap.Error(err))
		}
	}
	app.eth.Close()
	logger.Flush(2 * time.Second)
	app = nil
}
