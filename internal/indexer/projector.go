package indexer

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/feral-file/ff-agent-market/internal/adapter"
	"github.com/feral-file/ff-agent-market/internal/domain"
	"github.com/feral-file/ff-agent-market/internal/logger"
	"github.com/feral-file/ff-agent-market/internal/store"
)

// Projector turns ledger events into listing, sale and ownership records
//
//go:generate mockgen -source=projector.go -destination=../mocks/projector.go -package=mocks -mock_names=Projector=MockProjector
type Projector interface {
	// Apply dispatches the event to its handler by event type
	Apply(ctx context.Context, event *domain.LedgerEvent) (store.ApplyResult, error)
	// OnListed creates or overwrites a listing
	OnListed(ctx context.Context, event *domain.LedgerEvent) (store.ApplyResult, error)
	// OnListingCanceled deactivates a listing
	OnListingCanceled(ctx context.Context, event *domain.LedgerEvent) (store.ApplyResult, error)
	// OnPurchased records a sale and deactivates its listing
	OnPurchased(ctx context.Context, event *domain.LedgerEvent) (store.ApplyResult, error)
	// OnTransfer moves ownership and appends to the transfer history
	OnTransfer(ctx context.Context, event *domain.LedgerEvent) (store.ApplyResult, error)
}

type projector struct {
	store   store.Store
	json    adapter.JSON
	clock   adapter.Clock
	metrics *Metrics

	mu      sync.Mutex
	cursors map[domain.Chain]domain.EventPosition
}

// NewProjector creates a projector writing into st
func NewProjector(st store.Store, jsonAdapter adapter.JSON, clock adapter.Clock, metrics *Metrics) Projector {
	return &projector{
		store:   st,
		json:    jsonAdapter,
		clock:   clock,
		metrics: metrics,
		cursors: make(map[domain.Chain]domain.EventPosition),
	}
}

func (p *projector) Apply(ctx context.Context, event *domain.LedgerEvent) (store.ApplyResult, error) {
	if event == nil {
		return store.ApplyResult{}, fmt.Errorf("%w: nil event", domain.ErrInvalidEvent)
	}

	switch event.EventType {
	case domain.EventTypeListed:
		return p.OnListed(ctx, event)
	case domain.EventTypeListingCanceled:
		return p.OnListingCanceled(ctx, event)
	case domain.EventTypePurchased:
		return p.OnPurchased(ctx, event)
	case domain.EventTypeTransfer:
		return p.OnTransfer(ctx, event)
	default:
		return store.ApplyResult{}, fmt.Errorf("%w: %s", domain.ErrUnknownEventType, event.EventType)
	}
}

func (p *projector) OnListed(ctx context.Context, event *domain.LedgerEvent) (store.ApplyResult, error) {
	return p.apply(ctx, event, domain.EventTypeListed, func(meta store.EventMeta) (store.ApplyResult, error) {
		return p.store.ApplyListed(ctx, store.ListedInput{
			Meta:      meta,
			ListingID: event.ListingID,
			Seller:    event.Seller,
			TokenID:   event.TokenID,
			Price:     event.Price,
		})
	})
}

func (p *projector) OnListingCanceled(ctx context.Context, event *domain.LedgerEvent) (store.ApplyResult, error) {
	return p.apply(ctx, event, domain.EventTypeListingCanceled, func(meta store.EventMeta) (store.ApplyResult, error) {
		return p.store.ApplyListingCanceled(ctx, store.ListingCanceledInput{
			Meta:      meta,
			ListingID: event.ListingID,
		})
	})
}

func (p *projector) OnPurchased(ctx context.Context, event *domain.LedgerEvent) (store.ApplyResult, error) {
	return p.apply(ctx, event, domain.EventTypePurchased, func(meta store.EventMeta) (store.ApplyResult, error) {
		return p.store.ApplyPurchased(ctx, store.PurchasedInput{
			Meta:      meta,
			ListingID: event.ListingID,
			Buyer:     event.Buyer,
			Seller:    event.Seller,
			Price:     event.Price,
		})
	})
}

func (p *projector) OnTransfer(ctx context.Context, event *domain.LedgerEvent) (store.ApplyResult, error) {
	return p.apply(ctx, event, domain.EventTypeTransfer, func(meta store.EventMeta) (store.ApplyResult, error) {
		return p.store.ApplyTransfer(ctx, store.TransferInput{
			Meta:    meta,
			TokenID: event.TokenID,
			From:    event.FromAddress,
			To:      event.ToAddress,
		})
	})
}

// apply validates the event, runs the store write and keeps the projection cursor
func (p *projector) apply(
	ctx context.Context,
	event *domain.LedgerEvent,
	eventType domain.EventType,
	write func(meta store.EventMeta) (store.ApplyResult, error),
) (store.ApplyResult, error) {
	if event.EventType != eventType {
		return store.ApplyResult{}, fmt.Errorf("%w: expected %s, got %s", domain.ErrInvalidEvent, eventType, event.EventType)
	}
	if err := event.Validate(); err != nil {
		return store.ApplyResult{}, err
	}

	raw, err := p.json.Marshal(event)
	if err != nil {
		return store.ApplyResult{}, fmt.Errorf("failed to marshal event %s: %w", event.ID(), err)
	}

	meta := store.EventMeta{
		Chain:       event.Chain,
		EventType:   event.EventType,
		TxHash:      event.TxHash,
		LogIndex:    event.LogIndex,
		BlockNumber: event.BlockNumber,
		Timestamp:   event.Timestamp.UTC(),
		Raw:         datatypes.JSON(raw),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	start := p.clock.Now()
	result, err := write(meta)
	p.metrics.applyDuration.WithLabelValues(string(eventType)).Observe(p.clock.Since(start).Seconds())
	if err != nil {
		return store.ApplyResult{}, fmt.Errorf("failed to apply %s event %s: %w", eventType, event.ID(), err)
	}

	fields := []zap.Field{
		zap.String("chain", string(event.Chain)),
		zap.String("eventType", string(eventType)),
		zap.String("eventID", event.ID()),
		zap.Stringer("position", event.Position()),
	}

	switch {
	case result.Duplicate:
		p.metrics.eventsSkipped.WithLabelValues(string(eventType), "duplicate").Inc()
		logger.DebugCtx(ctx, "Event already applied", fields...)
		return result, nil
	case result.Noop:
		p.metrics.eventsSkipped.WithLabelValues(string(eventType), "noop").Inc()
		logger.DebugCtx(ctx, "Event references an unknown listing", append(fields, zap.String("listingID", event.ListingID))...)
	case result.Degraded:
		p.metrics.degradedSales.Inc()
		logger.WarnCtx(ctx, "Sale recorded without its listing, token id unknown",
			append(fields, zap.String("listingID", event.ListingID))...)
	case result.Stale:
		p.metrics.staleTransfers.Inc()
		logger.DebugCtx(ctx, "Transfer older than known ownership", append(fields, zap.String("tokenID", event.TokenID))...)
	}

	if !result.Noop {
		p.metrics.eventsApplied.WithLabelValues(string(eventType)).Inc()
	}

	if err := p.advanceCursor(ctx, event); err != nil {
		// The event itself is applied; the cursor only drives late detection
		logger.ErrorCtx(ctx, err, fields...)
	}

	return result, nil
}

// advanceCursor must be called with p.mu held
func (p *projector) advanceCursor(ctx context.Context, event *domain.LedgerEvent) error {
	cursor, ok := p.cursors[event.Chain]
	if !ok {
		stored, err := p.store.GetProjectionCursor(ctx, event.Chain)
		if err != nil {
			return fmt.Errorf("failed to get projection cursor: %w", err)
		}
		cursor = stored
		p.cursors[event.Chain] = cursor
	}

	position := event.Position()
	if position.Less(cursor) {
		p.metrics.lateEvents.Inc()
		logger.WarnCtx(ctx, "Applied event behind the projection cursor",
			zap.String("eventID", event.ID()),
			zap.Stringer("position", position),
			zap.Stringer("cursor", cursor))
		return nil
	}
	if !cursor.Less(position) {
		return nil
	}

	if err := p.store.SetProjectionCursor(ctx, event.Chain, position); err != nil {
		return fmt.Errorf("failed to set projection cursor: %w", err)
	}
	p.cursors[event.Chain] = position
	return nil
}
