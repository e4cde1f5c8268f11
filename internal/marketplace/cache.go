package marketplace

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/feral-file/ff-agent-market/internal/adapter"
	"github.com/feral-file/ff-agent-market/internal/domain"
	"github.com/feral-file/ff-agent-market/internal/ledger"
	"github.com/feral-file/ff-agent-market/internal/logger"
	"github.com/feral-file/ff-agent-market/internal/ratelimit"
)

const (
	// DefaultCacheTTL is how long agent metadata is served from the cache
	DefaultCacheTTL = 10 * time.Minute
	// DefaultWarmWorkers bounds the concurrent metadata reads of Warm
	DefaultWarmWorkers = 8
)

// CacheConfig holds the configuration of the metadata cache
type CacheConfig struct {
	TTL     time.Duration
	Workers int
}

// MetadataCache serves agent metadata keyed by token id
type MetadataCache interface {
	// Get returns the metadata of a token, reading it from the ledger on a miss
	Get(ctx context.Context, tokenID *big.Int) (*domain.AgentMetadata, error)
	// Warm loads the metadata of the given tokens concurrently
	Warm(ctx context.Context, tokenIDs []*big.Int) error
	// Retain drops every cached token that is not in tokenIDs
	Retain(ctx context.Context, tokenIDs []*big.Int)
	// Invalidate drops a single token
	Invalidate(ctx context.Context, tokenID *big.Int)
	// Clear drops every cached token
	Clear(ctx context.Context)
	// Len returns the number of tracked tokens
	Len() int
}

type metadataCache struct {
	ledger  ledger.Ledger
	proxy   ratelimit.Proxy
	backend CacheBackend
	ttl     time.Duration
	workers int

	mu   sync.Mutex
	keys map[string]struct{}
}

// NewMetadataCache creates a cache reading misses from the ledger through the rate-limit proxy.
// A nil proxy reads the ledger directly.
func NewMetadataCache(cfg CacheConfig, l ledger.Ledger, proxy ratelimit.Proxy, backend CacheBackend) MetadataCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWarmWorkers
	}

	return &metadataCache{
		ledger:  l,
		proxy:   proxy,
		backend: backend,
		ttl:     cfg.TTL,
		workers: cfg.Workers,
		keys:    make(map[string]struct{}),
	}
}

func (c *metadataCache) Get(ctx context.Context, tokenID *big.Int) (*domain.AgentMetadata, error) {
	if tokenID == nil {
		return nil, fmt.Errorf("%w: token id", domain.ErrInvalidAmount)
	}
	key := tokenID.String()

	agent, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		// A broken cache must not hide the metadata
		logger.WarnCtx(ctx, "Failed to read metadata cache", zap.String("tokenID", key), zap.Error(err))
	}
	if ok {
		return agent, nil
	}

	agent, err = ratelimit.Request(ctx, c.proxy, ratelimit.ProviderRPC, func(ctx context.Context) (*domain.AgentMetadata, error) {
		return c.ledger.GetAgent(ctx, tokenID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read agent %s: %w", key, err)
	}
	if agent == nil {
		return nil, fmt.Errorf("failed to read agent %s: empty metadata", key)
	}

	if err := c.backend.Set(ctx, key, agent, c.ttl); err != nil {
		logger.WarnCtx(ctx, "Failed to write metadata cache", zap.String("tokenID", key), zap.Error(err))
		return agent, nil
	}

	c.mu.Lock()
	c.keys[key] = struct{}{}
	c.mu.Unlock()

	return agent, nil
}

func (c *metadataCache) Warm(ctx context.Context, tokenIDs []*big.Int) error {
	if len(tokenIDs) == 0 {
		return nil
	}

	pool := pond.NewPool(min(c.workers, len(tokenIDs)), pond.WithContext(ctx))
	defer pool.StopAndWait()

	tasks := make([]pond.Task, 0, len(tokenIDs))
	for _, tokenID := range tokenIDs {
		tasks = append(tasks, pool.SubmitErr(func() error {
			_, err := c.Get(ctx, tokenID)
			return err
		}))
	}

	var errs []error
	for _, task := range tasks {
		if err := task.Wait(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *metadataCache) Retain(ctx context.Context, tokenIDs []*big.Int) {
	keep := make(map[string]struct{}, len(tokenIDs))
	for _, tokenID := range tokenIDs {
		if tokenID != nil {
			keep[tokenID.String()] = struct{}{}
		}
	}

	c.mu.Lock()
	var drop []string
	for key := range c.keys {
		if _, ok := keep[key]; !ok {
			drop = append(drop, key)
			delete(c.keys, key)
		}
	}
	c.mu.Unlock()

	c.delete(ctx, drop)
}

func (c *metadataCache) Invalidate(ctx context.Context, tokenID *big.Int) {
	if tokenID == nil {
		return
	}
	key := tokenID.String()

	c.mu.Lock()
	delete(c.keys, key)
	c.mu.Unlock()

	c.delete(ctx, []string{key})
}

func (c *metadataCache) Clear(ctx context.Context) {
	c.mu.Lock()
	drop := make([]string, 0, len(c.keys))
	for key := range c.keys {
		drop = append(drop, key)
	}
	c.keys = make(map[string]struct{})
	c.mu.Unlock()

	c.delete(ctx, drop)
}

func (c *metadataCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keys)
}

func (c *metadataCache) delete(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	if err := c.backend.Delete(ctx, keys...); err != nil {
		logger.WarnCtx(ctx, "Failed to evict metadata cache", zap.Strings("tokenIDs", keys), zap.Error(err))
	}
}

// CacheBackend stores agent metadata by key
type CacheBackend interface {
	// Get returns the metadata under key and whether it was present and fresh
	Get(ctx context.Context, key string) (*domain.AgentMetadata, bool, error)
	// Set stores metadata under key for ttl
	Set(ctx context.Context, key string, agent *domain.AgentMetadata, ttl time.Duration) error
	// Delete removes keys
	Delete(ctx context.Context, keys ...string) error
}

type memoryEntry struct {
	agent     domain.AgentMetadata
	expiresAt time.Time
}

type memoryBackend struct {
	clock   adapter.Clock
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryBackend creates an in-process cache backend
func NewMemoryBackend(clock adapter.Clock) CacheBackend {
	return &memoryBackend{
		clock:   clock,
		entries: make(map[string]memoryEntry),
	}
}

func (b *memoryBackend) Get(_ context.Context, key string) (*domain.AgentMetadata, bool, error) {
	b.mu.RLock()
	entry, ok := b.entries[key]
	b.mu.RUnlock()

	if !ok || !b.clock.Now().Before(entry.expiresAt) {
		return nil, false, nil
	}
	agent := cloneAgent(entry.agent)
	return &agent, true, nil
}

func (b *memoryBackend) Set(_ context.Context, key string, agent *domain.AgentMetadata, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = memoryEntry{
		agent:     cloneAgent(*agent),
		expiresAt: b.clock.Now().Add(ttl),
	}
	return nil
}

func (b *memoryBackend) Delete(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, key := range keys {
		delete(b.entries, key)
	}
	return nil
}

type redisBackend struct {
	client adapter.RedisClient
	json   adapter.JSON
	prefix string
}

// NewRedisBackend creates a cache backend shared through Redis; Redis expires the entries
func NewRedisBackend(client adapter.RedisClient, jsonAdapter adapter.JSON, keyPrefix string) CacheBackend {
	return &redisBackend{
		client: client,
		json:   jsonAdapter,
		prefix: keyPrefix,
	}
}

func (b *redisBackend) Get(ctx context.Context, key string) (*domain.AgentMetadata, bool, error) {
	value, err := b.client.Get(ctx, b.prefix+key)
	if errors.Is(err, adapter.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var agent domain.AgentMetadata
	if err := b.json.Unmarshal([]byte(value), &agent); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached agent %s: %w", key, err)
	}
	return &agent, true, nil
}

func (b *redisBackend) Set(ctx context.Context, key string, agent *domain.AgentMetadata, ttl time.Duration) error {
	data, err := b.json.Marshal(agent)
	if err != nil {
		return fmt.Errorf("failed to encode agent %s: %w", key, err)
	}
	return b.client.Set(ctx, b.prefix+key, string(data), ttl)
}

func (b *redisBackend) Delete(ctx context.Context, keys ...string) error {
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = b.prefix + key
	}
	return b.client.Del(ctx, prefixed...)
}

func cloneAgent(agent domain.AgentMetadata) domain.AgentMetadata {
	agent.Capabilities = append([]string(nil), agent.Capabilities...)
	return agent
}
