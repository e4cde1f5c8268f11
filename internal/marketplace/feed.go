package marketplace

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"go.uber.org/zap"

	"github.com/feral-file/ff-agent-market/internal/logger"
	"github.com/feral-file/ff-agent-market/internal/query"
)

var (
	// ErrSuperseded is returned by a refresh that a newer refresh replaced
	ErrSuperseded = errors.New("refresh superseded by a newer refresh")
	// ErrFeedClosed is returned by refreshes after Close
	ErrFeedClosed = errors.New("listing feed closed")
)

// ListingFeed keeps the latest set of active listings.
// Only the most recent refresh may publish its result.
type ListingFeed interface {
	// Refresh fetches the active listings, canceling any refresh still in flight
	Refresh(ctx context.Context) ([]query.Listing, error)
	// Listings returns the listings of the last successful refresh
	Listings() []query.Listing
	// Close cancels the in-flight refresh; later refreshes fail with ErrFeedClosed
	Close()
}

type listingFeed struct {
	client query.Client
	cache  MetadataCache

	mu         sync.Mutex
	generation uint64
	// cacheMu orders the cache updates of successive refreshes
	cacheMu  sync.Mutex
	cancel   context.CancelFunc
	listings []query.Listing
	closed   bool
}

// NewListingFeed creates a feed. When cache is not nil, metadata of tokens that
// leave the active set is evicted and the metadata of the new set is warmed.
func NewListingFeed(client query.Client, cache MetadataCache) ListingFeed {
	return &listingFeed{
		client: client,
		cache:  cache,
	}
}

func (f *listingFeed) Refresh(ctx context.Context) ([]query.Listing, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrFeedClosed
	}
	if f.cancel != nil {
		f.cancel()
	}
	f.generation++
	generation := f.generation
	refreshCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.mu.Unlock()

	listings, err := f.client.ActiveListings(refreshCtx)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		cancel()
		return nil, ErrFeedClosed
	}
	if generation != f.generation {
		f.mu.Unlock()
		cancel()
		logger.DebugCtx(ctx, "Discarding superseded listings refresh", zap.Uint64("generation", generation))
		return nil, ErrSuperseded
	}
	if err != nil {
		f.cancel = nil
		f.mu.Unlock()
		cancel()
		return nil, err
	}
	f.listings = listings
	f.mu.Unlock()

	if f.cache != nil {
		f.updateCache(ctx, refreshCtx, generation, listings)
	}

	f.mu.Lock()
	if generation == f.generation {
		f.cancel = nil
	}
	f.mu.Unlock()
	cancel()

	return cloneListings(listings), nil
}

// updateCache evicts and warms metadata for listings unless a newer refresh
// has published since. Warming stops when warmCtx is canceled.
func (f *listingFeed) updateCache(ctx, warmCtx context.Context, generation uint64, listings []query.Listing) {
	f.cacheMu.Lock()
	defer f.cacheMu.Unlock()

	if !f.isCurrent(generation) {
		return
	}
	tokenIDs := listingTokenIDs(listings)
	f.cache.Retain(ctx, tokenIDs)
	if err := f.cache.Warm(warmCtx, tokenIDs); err != nil && !errors.Is(err, context.Canceled) {
		logger.WarnCtx(ctx, "Failed to warm agent metadata", zap.Error(err))
	}
}

func (f *listingFeed) isCurrent(generation uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return generation == f.generation && !f.closed
}

func (f *listingFeed) Listings() []query.Listing {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneListings(f.listings)
}

func (f *listingFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
}

func listingTokenIDs(listings []query.Listing) []*big.Int {
	seen := make(map[string]struct{}, len(listings))
	tokenIDs := make([]*big.Int, 0, len(listings))
	for _, l := range listings {
		if l.TokenID == nil {
			continue
		}
		key := l.TokenID.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		tokenIDs = append(tokenIDs, l.TokenID)
	}
	return tokenIDs
}

func cloneListings(listings []query.Listing) []query.Listing {
	if listings == nil {
		return nil
	}
	out := make([]query.Listing, len(listings))
	copy(out, listings)
	return out
}
