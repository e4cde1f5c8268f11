package emitter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/feral-file/ff-agent-market/internal/adapter"
	"github.com/feral-file/ff-agent-market/internal/domain"
	"github.com/feral-file/ff-agent-market/internal/logger"
	"github.com/feral-file/ff-agent-market/internal/messaging"
	"github.com/feral-file/ff-agent-market/internal/store"
)

// Config holds the configuration for the event emitter
type Config struct {
	ChainID         domain.Chain
	StartBlock      uint64
	CursorSaveFreq  uint64        // Save cursor every N blocks
	CursorSaveDelay time.Duration // Or save cursor every N seconds
}

// Emitter defines the interface for the event emitter
//
//go:generate mockgen -source=emitter.go -destination=../mocks/emitter.go -package=mocks -mock_names=Emitter=MockEmitter
type Emitter interface {
	// Run starts the event emitter
	Run(ctx context.Context) error
	// Close closes the emitter and cleans up resources
	Close()
}

// emitter forwards ledger events from the subscriber to NATS
type emitter struct {
	subscriber messaging.Subscriber
	publisher  messaging.Publisher
	cursors    store.CursorStore
	config     Config
	clock      adapter.Clock
}

// NewEmitter creates a new event emitter
func NewEmitter(
	sub messaging.Subscriber,
	pub messaging.Publisher,
	cursors store.CursorStore,
	cfg Config,
	clock adapter.Clock,
) Emitter {
	return &emitter{
		subscriber: sub,
		publisher:  pub,
		cursors:    cursors,
		config:     cfg,
		clock:      clock,
	}
}

// Run starts the event emitter
func (e *emitter) Run(ctx context.Context) error {
	chain := string(e.config.ChainID)

	// Determine starting block
	startBlock := e.config.StartBlock
	if startBlock == 0 {
		lastBlock, err := e.cursors.GetBlockCursor(ctx, chain)
		if err != nil {
			return fmt.Errorf("failed to get block cursor: %w", err)
		}

		if lastBlock > 0 {
			startBlock = lastBlock + 1
			logger.InfoCtx(ctx, "Resuming from last processed block", zap.String("chain", chain), zap.Uint64("block", startBlock))
		} else {
			latestBlock, err := e.subscriber.GetLatestBlock(ctx)
			if err != nil {
				return fmt.Errorf("failed to get latest block number: %w", err)
			}
			startBlock = latestBlock
			logger.InfoCtx(ctx, "Starting from latest block", zap.String("chain", chain), zap.Uint64("block", startBlock))
		}
	} else {
		logger.InfoCtx(ctx, "Starting from configured block", zap.String("chain", chain), zap.Uint64("block", startBlock))
	}

	errCh := make(chan error, 1)

	go func() {
		logger.InfoCtx(ctx, "Starting event subscription", zap.String("chain", chain))

		lastSavedBlock := uint64(0)
		if startBlock > 0 {
			lastSavedBlock = startBlock - 1
		}
		lastSaveTime := e.clock.Now()

		handler := func(event *domain.LedgerEvent) error {
			if err := e.publisher.PublishEvent(ctx, event); err != nil {
				return fmt.Errorf("failed to publish event %s: %w", event.ID(), err)
			}

			// Every block before the current one is fully published. Saving it
			// means a restart replays the current block, which the stream dedupes.
			if event.BlockNumber == 0 {
				return nil
			}
			completeBlock := event.BlockNumber - 1
			if completeBlock <= lastSavedBlock {
				return nil
			}

			shouldSave := completeBlock-lastSavedBlock >= e.config.CursorSaveFreq ||
				e.clock.Since(lastSaveTime) >= e.config.CursorSaveDelay

			if shouldSave {
				if err := e.cursors.SetBlockCursor(ctx, chain, completeBlock); err != nil {
					logger.ErrorCtx(ctx, err, zap.String("message", "Failed to save block cursor"), zap.Uint64("block", completeBlock))
				} else {
					lastSavedBlock = completeBlock
					lastSaveTime = e.clock.Now()
				}
			}

			return nil
		}

		err := e.subscriber.SubscribeEvents(ctx, startBlock, handler)
		if err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the emitter and cleans up resources
func (e *emitter) Close() {
	e.subscriber.Close()
	e.publisher.Close()
}
