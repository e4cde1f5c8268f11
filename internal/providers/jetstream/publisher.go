package jetstream

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/feral-file/ff-agent-market/internal/adapter"
	"github.com/feral-file/ff-agent-market/internal/domain"
	"github.com/feral-file/ff-agent-market/internal/logger"
	"github.com/feral-file/ff-agent-market/internal/messaging"
)

type publisher struct {
	nc        adapter.NatsConn
	js        adapter.JetStream
	json      adapter.JSON
	closeOnce sync.Once
	closed    chan struct{}
}

// NewPublisher connects to NATS and makes sure the ledger event stream exists
func NewPublisher(ctx context.Context, cfg Config, natsJS adapter.NatsJetStream, jsonAdapter adapter.JSON) (messaging.Publisher, error) {
	nc, js, err := natsJS.Connect(cfg.URL, ConnectOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS and create JetStream: %w", err)
	}

	info, err := js.CreateOrUpdateStream(ctx, StreamConfig(cfg))
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create or update stream %s: %w", cfg.StreamName, err)
	}
	logger.InfoCtx(ctx, "Stream ready", zap.String("stream", info.Config.Name), zap.Uint64("messages", info.State.Msgs))

	return &publisher{
		nc:     nc,
		js:     js,
		json:   jsonAdapter,
		closed: make(chan struct{}),
	}, nil
}

// PublishEvent publishes a ledger event to NATS JetStream.
// The event id is the message id, so the stream drops re-published events.
func (p *publisher) PublishEvent(ctx context.Context, event *domain.LedgerEvent) error {
	logger.DebugCtx(ctx, "Publishing Nats event", zap.Any("event", event))

	data, err := p.json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := nats.NewMsg(Subject(event))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, event.ID())

	ack, err := p.js.PublishMsg(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	if ack != nil && ack.Duplicate {
		logger.DebugCtx(ctx, "Duplicate event dropped by stream", zap.String("eventID", event.ID()))
	}

	return nil
}

// Close closes the NATS connection
func (p *publisher) Close() {
	p.closeOnce.Do(func() {
		if p.nc != nil {
			p.nc.Close()
		}
		close(p.closed)
	})
}

// CloseChan returns a channel that is closed when the publisher is closed
func (p *publisher) CloseChan() <-chan struct{} {
	return p.closed
}
