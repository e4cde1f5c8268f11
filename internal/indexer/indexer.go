package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/feral-file/ff-agent-market/internal/adapter"
	"github.com/feral-file/ff-agent-market/internal/domain"
	"github.com/feral-file/ff-agent-market/internal/logger"
	jsprovider "github.com/feral-file/ff-agent-market/internal/providers/jetstream"
)

const (
	// DefaultFlushInterval releases buffered events when the stream goes quiet
	DefaultFlushInterval = 2 * time.Second

	DefaultRetryInitialInterval = 100 * time.Millisecond
	DefaultRetryMaxInterval     = 10 * time.Second
)

// Config holds the configuration for the indexer
type Config struct {
	URL            string
	StreamName     string
	ConsumerName   string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectionName string
	AckWaitTimeout time.Duration
	MaxDeliver     int
	// Chain restricts the consumer to the events of one chain
	Chain domain.Chain
	// ReorderDepth is how many blocks the reorder buffer waits before releasing an event
	ReorderDepth uint64
	// FlushInterval releases the buffer after this long without new messages
	FlushInterval time.Duration
	// RetryInitialInterval and RetryMaxInterval bound the backoff between
	// attempts to apply an event that failed with a transient error
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

// Indexer consumes ledger events from JetStream and projects them
type Indexer interface {
	// Run consumes until ctx is done
	Run(ctx context.Context) error
	// Close closes the NATS connection
	Close()
}

type indexer struct {
	nc        adapter.NatsConn
	js        adapter.JetStream
	projector Projector
	json      adapter.JSON
	clock     adapter.Clock
	metrics   *Metrics
	config    Config
	sequencer *Sequencer
}

// NewIndexer connects to NATS and returns an indexer feeding projector
func NewIndexer(
	cfg Config,
	natsJS adapter.NatsJetStream,
	projector Projector,
	jsonAdapter adapter.JSON,
	clock adapter.Clock,
	metrics *Metrics,
) (Indexer, error) {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = DefaultRetryInitialInterval
	}
	if cfg.RetryMaxInterval <= 0 {
		cfg.RetryMaxInterval = DefaultRetryMaxInterval
	}

	nc, js, err := natsJS.Connect(cfg.URL, jsprovider.ConnectOptions(jsprovider.Config{
		URL:            cfg.URL,
		StreamName:     cfg.StreamName,
		MaxReconnects:  cfg.MaxReconnects,
		ReconnectWait:  cfg.ReconnectWait,
		ConnectionName: cfg.ConnectionName,
	})...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS and create JetStream: %w", err)
	}

	return &indexer{
		nc:        nc,
		js:        js,
		projector: projector,
		json:      jsonAdapter,
		clock:     clock,
		metrics:   metrics,
		config:    cfg,
		sequencer: NewSequencer(cfg.ReorderDepth),
	}, nil
}

// Run starts consuming. Messages are handed from the NATS callback to this
// goroutine, which is the only one applying events.
func (i *indexer) Run(ctx context.Context) error {
	logger.InfoCtx(ctx, "Starting indexer",
		zap.String("stream", i.config.StreamName),
		zap.String("consumer", i.config.ConsumerName),
		zap.Uint64("reorderDepth", i.config.ReorderDepth))

	subject := jsprovider.SubjectPrefix + ".>"
	if i.config.Chain != "" {
		subject = jsprovider.ChainSubjects(i.config.Chain)
	}

	consumerConfig := jetstream.ConsumerConfig{
		Durable:       i.config.ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       i.config.AckWaitTimeout,
		MaxDeliver:    i.config.MaxDeliver,
		FilterSubject: subject,
	}
	// Without a reorder buffer the delivery order is the apply order, so a
	// redelivered message must not be overtaken by the ones after it
	if i.config.ReorderDepth == 0 {
		consumerConfig.MaxAckPending = 1
	}

	consumer, err := i.js.CreateOrUpdateConsumer(ctx, i.config.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create/update consumer: %w", err)
	}

	consumerInfo, err := consumer.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get consumer info: %w", err)
	}
	logger.InfoCtx(ctx, "Consumer created/retrieved",
		zap.String("consumer", consumerInfo.Name),
		zap.Uint64("pending", consumerInfo.NumPending))

	msgChan := make(chan adapter.Message, 100)
	sub, err := consumer.Consume(func(msg adapter.Message) {
		select {
		case msgChan <- msg:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	defer sub.Stop()

	logger.InfoCtx(ctx, "Started consuming messages", zap.String("subject", subject))

	ticker := i.clock.NewTicker(i.config.FlushInterval)
	defer ticker.Stop()
	lastReceived := i.clock.Now()

	for {
		select {
		case <-ctx.Done():
			i.abandon()
			logger.InfoCtx(ctx, "Shutting down indexer")
			return ctx.Err()
		case msg := <-msgChan:
			lastReceived = i.clock.Now()
			i.handleMessage(ctx, msg)
		case <-ticker.C:
			if i.sequencer.Len() > 0 && i.clock.Since(lastReceived) >= i.config.FlushInterval {
				i.process(ctx, i.sequencer.Flush())
			}
		}
	}
}

// handleMessage decodes a message and feeds it to the reorder buffer
func (i *indexer) handleMessage(ctx context.Context, msg adapter.Message) {
	var deliveries uint64
	if metadata, err := msg.Metadata(); err == nil && metadata != nil {
		deliveries = metadata.NumDelivered
	}

	var event domain.LedgerEvent
	if err := i.json.Unmarshal(msg.Data(), &event); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("message", "Failed to unmarshal event"), zap.String("subject", msg.Subject()))
		// Terminate message for unparseable data
		if err := msg.Term(); err != nil {
			logger.ErrorCtx(ctx, err, zap.String("message", "Failed to terminate message"))
		}
		return
	}

	if err := event.Validate(); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("message", "Dropping invalid event"), zap.String("subject", msg.Subject()))
		if err := msg.Term(); err != nil {
			logger.ErrorCtx(ctx, err, zap.String("message", "Failed to terminate message"))
		}
		return
	}

	logger.DebugCtx(ctx, "Received event",
		zap.String("chain", string(event.Chain)),
		zap.String("eventType", string(event.EventType)),
		zap.String("eventID", event.ID()),
		zap.Stringer("position", event.Position()),
		zap.Uint64("deliveryCount", deliveries),
	)

	i.process(ctx, i.sequencer.Push(Pending{Event: &event, Msg: msg}))
}

// process applies released events in order, acking each one after it is stored.
// A transient failure is retried in place so that no later event is applied
// before it. Once ctx is done the failed event and the rest of the batch are
// handed back unapplied.
func (i *indexer) process(ctx context.Context, ready []Pending) {
	defer i.metrics.bufferedEvents.Set(float64(i.sequencer.Len()))

	for n, p := range ready {
		err := i.applyWithRetry(ctx, p.Event)
		if err == nil {
			if p.Msg != nil {
				if err := p.Msg.Ack(); err != nil {
					logger.ErrorCtx(ctx, err, zap.String("message", "Failed to ACK message"))
				}
			}
			continue
		}

		if isPermanentApplyError(err) {
			logger.ErrorCtx(ctx, err, zap.String("message", "Dropping event the projection cannot apply"), zap.String("eventID", p.Event.ID()))
			i.term(ctx, p.Msg)
			continue
		}

		logger.ErrorCtx(ctx, err, zap.String("message", "Giving up on event, returning batch for redelivery"), zap.String("eventID", p.Event.ID()))
		for _, rest := range ready[n:] {
			if rest.Msg == nil {
				continue
			}
			if err := rest.Msg.Nak(); err != nil {
				logger.ErrorCtx(ctx, err, zap.String("message", "Failed to NAK message"))
			}
		}
		return
	}
}

// applyWithRetry applies event, backing off between transient failures until
// it succeeds, fails permanently or ctx is done
func (i *indexer) applyWithRetry(ctx context.Context, event *domain.LedgerEvent) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = i.config.RetryInitialInterval
	b.MaxInterval = i.config.RetryMaxInterval
	b.MaxElapsedTime = 0
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.5

	attempt := 0
	operation := func() error {
		attempt++
		_, err := i.projector.Apply(ctx, event)
		if err == nil {
			return nil
		}
		if isPermanentApplyError(err) {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		logger.WarnCtx(ctx, "Failed to apply event, retrying",
			zap.Error(err),
			zap.String("eventID", event.ID()),
			zap.Int("attempt", attempt))
		return err
	}

	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

func isPermanentApplyError(err error) bool {
	return errors.Is(err, domain.ErrInvalidEvent) || errors.Is(err, domain.ErrUnknownEventType)
}

func (i *indexer) term(ctx context.Context, msg adapter.Message) {
	if msg == nil {
		return
	}
	if err := msg.Term(); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("message", "Failed to terminate message"))
	}
}

// abandon hands buffered messages back to the stream for redelivery
func (i *indexer) abandon() {
	for _, p := range i.sequencer.Flush() {
		if p.Msg == nil {
			continue
		}
		if err := p.Msg.Nak(); err != nil {
			logger.Error(err, zap.String("message", "Failed to NAK buffered message"))
		}
	}
	i.metrics.bufferedEvents.Set(0)
}

// Close closes the indexer and cleans up resources
func (i *indexer) Close() {
	if i.nc == nil {
		return
	}

	i.nc.Close()
}
