package messaging

import (
	"context"

	"github.com/feral-file/ff-agent-market/internal/domain"
)

// EventHandler is called for every ledger event, in canonical order per subscription
type EventHandler func(event *domain.LedgerEvent) error

// Subscriber defines the interface for subscribing to ledger events.
// Implemented by the Ethereum log subscriber and the in-memory ledger simulator.
//
//go:generate mockgen -source=subscriber.go -destination=../mocks/subscriber.go -package=mocks -mock_names=Subscriber=MockSubscriber
type Subscriber interface {
	// SubscribeEvents backfills events from fromBlock and then follows new blocks.
	// It blocks until ctx is done, the handler fails or the subscription breaks.
	SubscribeEvents(ctx context.Context, fromBlock uint64, handler EventHandler) error

	// GetLatestBlock returns the latest block number
	GetLatestBlock(ctx context.Context) (uint64, error)

	// Close closes the connection and cleans up resources
	Close()
}
