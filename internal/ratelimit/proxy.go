package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/go-redis/redis_rate/v10"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/feral-file/ff-agent-market/internal/adapter"
	"github.com/feral-file/ff-agent-market/internal/config"
	"github.com/feral-file/ff-agent-market/internal/logger"
)

const (
	// ProviderRPC limits reads against the chain RPC node
	ProviderRPC = "rpc"

	// DefaultKeyPrefix prefixes the distributed limiter keys in Redis
	DefaultKeyPrefix = "ff:agent-market:limiter:"

	healthCheckInterval = 10 * time.Second
)

var (
	// ErrProxyClosed is returned for requests submitted after Close
	ErrProxyClosed = errors.New("proxy is closed")
	// ErrUnknownProvider is returned for requests to a provider without limits
	ErrUnknownProvider = errors.New("provider not configured")
)

// RequestFunc is a function that performs the actual upstream request
type RequestFunc func(ctx context.Context) (interface{}, error)

type requestResult struct {
	value interface{}
	err   error
}

// Proxy runs upstream requests on a bounded worker pool, one rate-limit token per request.
// Tokens come from Redis when configured so that every client process shares one budget.
//
//go:generate mockgen -source=proxy.go -destination=../mocks/ratelimit_proxy.go -package=mocks -mock_names=Proxy=MockRateLimitProxy
type Proxy interface {
	// Request submits a rate-limited request for execution
	Request(ctx context.Context, providerName string, fn RequestFunc) (interface{}, error)

	// Close gracefully shuts down the proxy
	Close() error
}

type proxy struct {
	config         config.RateLimiterConfig
	pool           pond.ResultPool[*requestResult]
	limiters       map[string]*providerLimiter
	redis          adapter.RedisClient
	clock          adapter.Clock
	closed         atomic.Bool
	closeOnce      sync.Once
	done           chan struct{}
	redisAvailable atomic.Bool
}

type providerLimiter struct {
	name               string
	config             config.RateLimitConfig
	distributedLimiter adapter.RedisRateLimiter
	localLimiter       *rate.Limiter
	preFilterLimiter   *rate.Limiter
}

// NewProxy creates a new rate-limiting proxy. A nil Redis client limits locally only.
func NewProxy(cfg config.RateLimiterConfig, rc adapter.RedisClient, clock adapter.Clock) (Proxy, error) {
	if err := validateConfig(&cfg, rc != nil); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	redisAvailable := false
	var distributedLimiter adapter.RedisRateLimiter
	if rc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rc.Ping(ctx)
		cancel()

		redisAvailable = err == nil
		if err != nil {
			if !cfg.EnableLocalFallback {
				return nil, fmt.Errorf("redis unavailable and fallback disabled: %w", err)
			}
			logger.Warn("Redis unavailable, will use local fallback", zap.Error(err))
		}
		distributedLimiter = rc.NewRateLimiter()
	}

	limiters := make(map[string]*providerLimiter, len(cfg.Providers))
	for name, providerConfig := range cfg.Providers {
		// The local limiter only serves while Redis is down, at a reduced share of the budget
		localRate := max(float64(providerConfig.RequestsPerSecond)*cfg.LocalFallbackMultiplier, 1.0)
		if rc == nil {
			localRate = float64(providerConfig.RequestsPerSecond)
		}

		limiters[name] = &providerLimiter{
			name:               name,
			config:             providerConfig,
			distributedLimiter: distributedLimiter,
			localLimiter:       rate.NewLimiter(rate.Limit(localRate), providerConfig.Burst),
			preFilterLimiter:   rate.NewLimiter(rate.Limit(providerConfig.RequestsPerSecond), providerConfig.Burst),
		}
	}

	p := &proxy{
		config:   cfg,
		pool:     pond.NewResultPool[*requestResult](cfg.MaxWorkers, pond.WithQueueSize(cfg.MaxQueueSize)),
		limiters: limiters,
		redis:    rc,
		clock:    clock,
		done:     make(chan struct{}),
	}
	p.redisAvailable.Store(redisAvailable)

	if rc != nil {
		go p.monitorRedisHealth(clock.NewTicker(healthCheckInterval))
	}

	logger.Info("Rate limit proxy initialized",
		zap.Int("max_workers", cfg.MaxWorkers),
		zap.Int("max_queue_size", cfg.MaxQueueSize),
		zap.Int("providers", len(cfg.Providers)),
		zap.Bool("distributed", rc != nil),
		zap.Bool("local_fallback", cfg.EnableLocalFallback),
	)

	return p, nil
}

// Request submits a rate-limited request and returns its typed result.
// A nil proxy runs fn directly.
func Request[T any](ctx context.Context, p Proxy, providerName string, fn func(ctx context.Context) (T, error)) (T, error) {
	if p == nil {
		return fn(ctx)
	}

	var zero T
	result, err := p.Request(ctx, providerName, func(ctx context.Context) (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, nil
	}
	return typed, nil
}

// Request blocks until a token is acquired and fn completes, the context is canceled,
// or the provider's maximum queue time is exceeded
func (p *proxy) Request(ctx context.Context, providerName string, fn RequestFunc) (interface{}, error) {
	if p.closed.Load() {
		return nil, ErrProxyClosed
	}

	limiter, ok := p.limiters[providerName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerName)
	}

	queueCtx, cancel := context.WithTimeout(ctx, limiter.config.MaxQueueTime)
	defer cancel()

	task := p.pool.Submit(func() *requestResult {
		if err := p.acquireToken(queueCtx, limiter); err != nil {
			return &requestResult{err: err}
		}
		value, err := fn(ctx)
		return &requestResult{value: value, err: err}
	})

	result, err := task.Wait()
	if err != nil {
		return nil, err
	}
	return result.value, result.err
}

// acquireToken blocks until the provider grants a token
func (p *proxy) acquireToken(ctx context.Context, limiter *providerLimiter) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if p.redisAvailable.Load() {
			allowed, retryAfter, err := p.tryDistributedLimit(ctx, limiter)
			switch {
			case err != nil:
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.redisAvailable.Store(false)
				if !p.config.EnableLocalFallback {
					return fmt.Errorf("redis rate limiter unavailable: %w", err)
				}
				logger.Warn("Redis rate limiter error, falling back to local",
					zap.String("provider", limiter.name),
					zap.Error(err),
				)
			case allowed:
				return nil
			default:
				// Jitter spreads the retries of concurrent clients (50-150% of retryAfter)
				jitter := time.Duration(float64(retryAfter) * (0.5 + rand.Float64())) //nolint:gosec,G404
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-p.clock.After(jitter):
					continue
				}
			}
		}

		if p.redis == nil || p.config.EnableLocalFallback {
			return limiter.localLimiter.Wait(ctx)
		}

		// Redis is down and fallback is disabled: wait for the health check to restore it
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.clock.After(100 * time.Millisecond):
		}
	}
}

// tryDistributedLimit returns (allowed, retryAfter, error)
func (p *proxy) tryDistributedLimit(ctx context.Context, limiter *providerLimiter) (bool, time.Duration, error) {
	if limiter.distributedLimiter == nil {
		return false, 0, fmt.Errorf("distributed limiter not available")
	}

	// Pre-filter locally so that a burst does not hammer Redis
	if err := limiter.preFilterLimiter.Wait(ctx); err != nil {
		return false, 0, err
	}

	limit := redis_rate.PerSecond(limiter.config.RequestsPerSecond)
	limit.Burst = limiter.config.Burst

	res, err := limiter.distributedLimiter.Allow(ctx, p.config.RedisKeyPrefix+limiter.name, limit)
	if err != nil {
		return false, 0, err
	}

	if res.Allowed == 0 {
		retryAfter := res.RetryAfter
		if retryAfter <= 0 {
			retryAfter = 10 * time.Millisecond
		}
		logger.Debug("Rate limit token unavailable, waiting",
			zap.String("provider", limiter.name),
			zap.Duration("retry_after", retryAfter),
			zap.Int("remaining", res.Remaining),
		)
		return false, retryAfter, nil
	}

	return true, 0, nil
}

// monitorRedisHealth periodically checks Redis health and updates availability status
func (p *proxy) monitorRedisHealth(ticker *time.Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := p.redis.Ping(ctx)
		cancel()

		wasAvailable := p.redisAvailable.Load()
		p.redisAvailable.Store(err == nil)

		if !wasAvailable && err == nil {
			logger.Info("Redis connection restored")
		}
	}
}

// Close waits for in-flight requests and closes the Redis connection
func (p *proxy) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.done)

		logger.Info("Shutting down rate limit proxy")

		if errTasks := p.pool.Stop().Wait(); errTasks != nil {
			logger.Warn("Error waiting for pool tasks to complete", zap.Error(errTasks))
			err = errTasks
		}

		if p.redis != nil {
			if closeErr := p.redis.Close(); closeErr != nil {
				logger.Warn("Error closing Redis connection", zap.Error(closeErr))
				err = closeErr
			}
		}

		logger.Info("Rate limit proxy shutdown complete")
	})
	return err
}

// validateConfig validates and sets defaults for the configuration
func validateConfig(cfg *config.RateLimiterConfig, distributed bool) error {
	if distributed && cfg.RedisAddr == "" {
		return fmt.Errorf("redis_addr is required")
	}

	if len(cfg.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}

	providers := make(map[string]config.RateLimitConfig, len(cfg.Providers))
	for name, provider := range cfg.Providers {
		if provider.RequestsPerSecond <= 0 {
			return fmt.Errorf("provider %s: requests_per_second must be positive", name)
		}
		if provider.Burst <= 0 {
			provider.Burst = provider.RequestsPerSecond
		}
		if provider.MaxQueueTime <= 0 {
			provider.MaxQueueTime = time.Minute
		}
		providers[name] = provider
	}
	cfg.Providers = providers

	if cfg.RedisKeyPrefix == "" {
		cfg.RedisKeyPrefix = DefaultKeyPrefix
	}

	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU() * 4
	}

	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 1000
	}

	if cfg.LocalFallbackMultiplier <= 0 {
		cfg.LocalFallbackMultiplier = 0.5
	}

	return nil
}
