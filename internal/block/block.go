package block

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/feral-file/ff-agent-market/internal/adapter"
	"github.com/feral-file/ff-agent-market/internal/logger"
)

//go:generate mockgen -source=block.go -destination=../mocks/block_provider.go -package=mocks -mock_names=BlockProvider=MockBlockProvider,BlockFetcher=MockBlockFetcher

// latestBlock is the cached chain head
type latestBlock struct {
	Number   uint64
	CachedAt time.Time
}

// cachedTimestamp is the cached timestamp of one block
type cachedTimestamp struct {
	Timestamp time.Time
	CachedAt  time.Time
}

// BlockProvider provides cached access to the chain head and to block timestamps.
// Ledger logs carry only a block number, so every projected event needs one
// timestamp lookup; events of the same block share a single RPC call.
type BlockProvider interface {
	// GetLatestBlock returns the latest block number, potentially from cache
	GetLatestBlock(ctx context.Context) (uint64, error)

	// GetBlockTimestamp returns the timestamp for a given block number, potentially from cache
	GetBlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error)
}

// BlockFetcher is the interface for fetching block information from the chain
type BlockFetcher interface {
	// FetchLatestBlock fetches the latest block number
	FetchLatestBlock(ctx context.Context) (uint64, error)

	// FetchBlockTimestamp fetches the timestamp for a given block number
	FetchBlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error)
}

// Config holds configuration for the BlockProvider
type Config struct {
	// TTL is how long to cache the latest block number
	TTL time.Duration

	// StaleWindow is how long to use stale data if fetching fails
	StaleWindow time.Duration

	// BlockTimestampTTL is how long to cache block timestamps; 0 caches forever
	BlockTimestampTTL time.Duration

	// MaxBlockTimestamps bounds the timestamp cache; the lowest blocks are evicted first.
	// 0 means unbounded.
	MaxBlockTimestamps int
}

// blockProvider implements BlockProvider with TTL-based caching
type blockProvider struct {
	fetcher BlockFetcher
	config  Config
	clock   adapter.Clock

	mu         sync.RWMutex
	latest     *latestBlock
	timestamps map[uint64]*cachedTimestamp
}

// NewBlockProvider creates a new BlockProvider with caching
func NewBlockProvider(fetcher BlockFetcher, config Config, clock adapter.Clock) BlockProvider {
	return &blockProvider{
		fetcher:    fetcher,
		config:     config,
		clock:      clock,
		timestamps: make(map[uint64]*cachedTimestamp),
	}
}

// GetLatestBlock returns the latest block number, using cache if valid
func (p *blockProvider) GetLatestBlock(ctx context.Context) (uint64, error) {
	p.mu.RLock()
	cached := p.latest
	p.mu.RUnlock()

	now := p.clock.Now()

	if cached != nil && now.Sub(cached.CachedAt) < p.config.TTL {
		return cached.Number, nil
	}

	blockNumber, err := p.fetcher.FetchLatestBlock(ctx)
	if err != nil {
		if cached != nil && now.Sub(cached.CachedAt) < p.config.StaleWindow {
			logger.WarnCtx(ctx, "Using stale latest block", zap.Uint64("blockNumber", cached.Number), zap.Error(err))
			return cached.Number, nil
		}
		return 0, fmt.Errorf("failed to fetch latest block and no valid cache available: %w", err)
	}

	p.mu.Lock()
	p.latest = &latestBlock{Number: blockNumber, CachedAt: now}
	p.mu.Unlock()

	return blockNumber, nil
}

// GetBlockTimestamp returns the timestamp for a given block number, using cache if valid
func (p *blockProvider) GetBlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	p.mu.RLock()
	cached := p.timestamps[blockNumber]
	p.mu.RUnlock()

	now := p.clock.Now()

	if cached != nil && (p.config.BlockTimestampTTL == 0 || now.Sub(cached.CachedAt) < p.config.BlockTimestampTTL) {
		return cached.Timestamp, nil
	}

	logger.DebugCtx(ctx, "Fetching block timestamp", zap.Uint64("blockNumber", blockNumber))
	timestamp, err := p.fetcher.FetchBlockTimestamp(ctx, blockNumber)
	if err != nil {
		if cached != nil && now.Sub(cached.CachedAt) < p.config.StaleWindow {
			return cached.Timestamp, nil
		}
		return time.Time{}, fmt.Errorf("failed to fetch block timestamp for block %d and no valid cache available: %w", blockNumber, err)
	}

	p.mu.Lock()
	p.timestamps[blockNumber] = &cachedTimestamp{Timestamp: timestamp, CachedAt: now}
	p.evictLocked()
	p.mu.Unlock()

	return timestamp, nil
}

// evictLocked drops the lowest block numbers until the cache fits MaxBlockTimestamps
func (p *blockProvider) evictLocked() {
	limit := p.config.MaxBlockTimestamps
	if limit <= 0 || len(p.timestamps) <= limit {
		return
	}

	blocks := make([]uint64, 0, len(p.timestamps))
	for n := range p.timestamps {
		blocks = append(blocks, n)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })

	for _, n := range blocks[:len(blocks)-limit] {
		delete(p.timestamps, n)
	}
}
