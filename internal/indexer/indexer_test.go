package indexer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-agent-market/internal/adapter"
	"github.com/feral-file/ff-agent-market/internal/domain"
	"github.com/feral-file/ff-agent-market/internal/mocks"
	"github.com/feral-file/ff-agent-market/internal/store"
)

// testIndexerMocks contains all the mocks needed for testing the indexer
type testIndexerMocks struct {
	ctrl           *gomock.Controller
	natsJS         *mocks.MockNatsJetStream
	natsConn       *mocks.MockNatsConn
	jetStream      *mocks.MockJetStream
	consumer       *mocks.MockNatsConsumer
	consumeContext *mocks.MockConsumeContext
	projector      *mocks.MockProjector
}

func setupTestIndexer(t *testing.T) *testIndexerMocks {
	ctrl := gomock.NewController(t)
	return &testIndexerMocks{
		ctrl:           ctrl,
		natsJS:         mocks.NewMockNatsJetStream(ctrl),
		natsConn:       mocks.NewMockNatsConn(ctrl),
		jetStream:      mocks.NewMockJetStream(ctrl),
		consumer:       mocks.NewMockNatsConsumer(ctrl),
		consumeContext: mocks.NewMockConsumeContext(ctrl),
		projector:      mocks.NewMockProjector(ctrl),
	}
}

func testIndexerConfig(depth uint64) Config {
	return Config{
		URL:            "nats://localhost:4222",
		StreamName:     "LEDGER_EVENTS",
		ConsumerName:   "indexer",
		AckWaitTimeout: 30 * time.Second,
		MaxDeliver:     5,
		Chain:          domain.ChainLocalDevnet,
		ReorderDepth:   depth,
		FlushInterval:  time.Hour,
	}
}

func newTestIndexer(t *testing.T, tm *testIndexerMocks, cfg Config) Indexer {
	t.Helper()
	tm.natsJS.EXPECT().Connect(cfg.URL, gomock.Any()).Return(tm.natsConn, tm.jetStream, nil)

	ix, err := NewIndexer(cfg, tm.natsJS, tm.projector, adapter.NewJSON(), adapter.NewClock(), NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)
	return ix
}

// runningIndexer is an indexer consuming from a captured message handler
type runningIndexer struct {
	handler  adapter.MessageHandler
	consumer jetstream.ConsumerConfig
	cancel   context.CancelFunc
	errCh    chan error
}

func startIndexer(t *testing.T, tm *testIndexerMocks, ix Indexer) *runningIndexer {
	t.Helper()

	ready := make(chan adapter.MessageHandler, 1)
	var consumerConfig jetstream.ConsumerConfig
	tm.jetStream.EXPECT().
		CreateOrUpdateConsumer(gomock.Any(), "LEDGER_EVENTS", gomock.Any()).
		DoAndReturn(func(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (adapter.Consumer, error) {
			assert.Equal(t, "indexer", cfg.Durable)
			assert.Equal(t, jetstream.AckExplicitPolicy, cfg.AckPolicy)
			assert.Equal(t, "ledger.eip155-31337.>", cfg.FilterSubject)
			consumerConfig = cfg
			return tm.consumer, nil
		})
	tm.consumer.EXPECT().Info(gomock.Any()).Return(&jetstream.ConsumerInfo{Name: "indexer"}, nil)
	tm.consumer.EXPECT().
		Consume(gomock.Any(), gomock.Any()).
		DoAndReturn(func(handler adapter.MessageHandler, opts ...jetstream.PullConsumeOpt) (adapter.ConsumeContext, error) {
			ready <- handler
			return tm.consumeContext, nil
		})
	tm.consumeContext.EXPECT().Stop()

	ctx, cancel := context.WithCancel(context.Background())
	r := &runningIndexer{cancel: cancel, errCh: make(chan error, 1)}
	go func() {
		r.errCh <- ix.Run(ctx)
	}()

	select {
	case r.handler = <-ready:
		r.consumer = consumerConfig
	case <-time.After(2 * time.Second):
		t.Fatal("consumer was never started")
	}
	return r
}

func (r *runningIndexer) stop(t *testing.T) {
	t.Helper()
	r.cancel()
	select {
	case err := <-r.errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("indexer did not stop")
	}
}

func eventMessage(t *testing.T, ctrl *gomock.Controller, event *domain.LedgerEvent) *mocks.MockJetStreamMessage {
	t.Helper()
	data, err := adapter.NewJSON().Marshal(event)
	require.NoError(t, err)

	msg := mocks.NewMockJetStreamMessage(ctrl)
	msg.EXPECT().Data().Return(data).AnyTimes()
	msg.EXPECT().Subject().Return("ledger.eip155-31337." + string(event.EventType)).AnyTimes()
	msg.EXPECT().Metadata().Return(&jetstream.MsgMetadata{NumDelivered: 1}, nil).AnyTimes()
	return msg
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message handling")
	}
}

func TestIndexer_NewIndexer_ConnectError(t *testing.T) {
	tm := setupTestIndexer(t)
	defer tm.ctrl.Finish()

	tm.natsJS.EXPECT().Connect(gomock.Any(), gomock.Any()).Return(nil, nil, errors.New("connection refused"))

	_, err := NewIndexer(testIndexerConfig(0), tm.natsJS, tm.projector, adapter.NewJSON(), adapter.NewClock(), NewMetrics(prometheus.NewRegistry()))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to NATS")
}

func TestIndexer_Run_ConsumerError(t *testing.T) {
	tm := setupTestIndexer(t)
	defer tm.ctrl.Finish()

	ix := newTestIndexer(t, tm, testIndexerConfig(0))
	tm.jetStream.EXPECT().
		CreateOrUpdateConsumer(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("stream not found"))

	err := ix.Run(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create/update consumer")
}

func TestIndexer_Run_AppliesAndAcks(t *testing.T) {
	tm := setupTestIndexer(t)
	defer tm.ctrl.Finish()

	ix := newTestIndexer(t, tm, testIndexerConfig(0))
	r := startIndexer(t, tm, ix)

	event := listedEvent(10, "1", "5", "100")
	msg := eventMessage(t, tm.ctrl, event)

	acked := make(chan struct{})
	tm.projector.EXPECT().
		Apply(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, e *domain.LedgerEvent) (store.ApplyResult, error) {
			assert.Equal(t, event.ID(), e.ID())
			assert.Equal(t, event.ListingID, e.ListingID)
			return store.ApplyResult{}, nil
		})
	msg.EXPECT().Ack().DoAndReturn(func() error {
		close(acked)
		return nil
	})

	r.handler(msg)
	waitFor(t, acked)
	r.stop(t)
}

func TestIndexer_Run_TerminatesUnparseable(t *testing.T) {
	tm := setupTestIndexer(t)
	defer tm.ctrl.Finish()

	ix := newTestIndexer(t, tm, testIndexerConfig(0))
	r := startIndexer(t, tm, ix)

	terminated := make(chan struct{}, 2)
	term := func() error {
		terminated <- struct{}{}
		return nil
	}

	garbage := mocks.NewMockJetStreamMessage(tm.ctrl)
	garbage.EXPECT().Data().Return([]byte("{not json")).AnyTimes()
	garbage.EXPECT().Subject().Return("ledger.eip155-31337.listed").AnyTimes()
	garbage.EXPECT().Metadata().Return(&jetstream.MsgMetadata{NumDelivered: 1}, nil).AnyTimes()
	garbage.EXPECT().Term().DoAndReturn(term)

	// Decodes, but a listed event without a token id can never be projected
	invalid := eventMessage(t, tm.ctrl, listedEvent(10, "1", "", "100"))
	invalid.EXPECT().Term().DoAndReturn(term)

	tm.projector.EXPECT().Apply(gomock.Any(), gomock.Any()).Times(0)

	r.handler(garbage)
	r.handler(invalid)
	waitFor(t, terminated)
	waitFor(t, terminated)
	r.stop(t)
}

func TestIndexer_Run_MaxAckPending(t *testing.T) {
	tests := []struct {
		name     string
		depth    uint64
		expected int
	}{
		{name: "no reorder buffer", depth: 0, expected: 1},
		{name: "reorder buffer", depth: 3, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm := setupTestIndexer(t)
			defer tm.ctrl.Finish()

			ix := newTestIndexer(t, tm, testIndexerConfig(tt.depth))
			r := startIndexer(t, tm, ix)
			assert.Equal(t, tt.expected, r.consumer.MaxAckPending)
			r.stop(t)
		})
	}
}

func TestIndexer_Run_RetriesFailedApply(t *testing.T) {
	tm := setupTestIndexer(t)
	defer tm.ctrl.Finish()

	cfg := testIndexerConfig(0)
	cfg.RetryInitialInterval = time.Millisecond
	cfg.RetryMaxInterval = 5 * time.Millisecond
	ix := newTestIndexer(t, tm, cfg)
	r := startIndexer(t, tm, ix)

	msg := eventMessage(t, tm.ctrl, listedEvent(10, "1", "5", "100"))
	acked := make(chan struct{})
	gomock.InOrder(
		tm.projector.EXPECT().Apply(gomock.Any(), gomock.Any()).Return(store.ApplyResult{}, errors.New("database unavailable")).Times(2),
		tm.projector.EXPECT().Apply(gomock.Any(), gomock.Any()).Return(store.ApplyResult{}, nil),
	)
	msg.EXPECT().Nak().Times(0)
	msg.EXPECT().Ack().DoAndReturn(func() error {
		close(acked)
		return nil
	})

	r.handler(msg)
	waitFor(t, acked)
	r.stop(t)
}

func TestIndexer_Run_NaksFailedApplyOnShutdown(t *testing.T) {
	tm := setupTestIndexer(t)
	defer tm.ctrl.Finish()

	cfg := testIndexerConfig(0)
	cfg.RetryInitialInterval = time.Millisecond
	cfg.RetryMaxInterval = 5 * time.Millisecond
	ix := newTestIndexer(t, tm, cfg)
	r := startIndexer(t, tm, ix)

	msg := eventMessage(t, tm.ctrl, listedEvent(10, "1", "5", "100"))
	failing := make(chan struct{}, 1)
	tm.projector.EXPECT().
		Apply(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, e *domain.LedgerEvent) (store.ApplyResult, error) {
			select {
			case failing <- struct{}{}:
			default:
			}
			return store.ApplyResult{}, errors.New("database unavailable")
		}).
		MinTimes(1)
	naked := make(chan struct{})
	msg.EXPECT().Nak().DoAndReturn(func() error {
		close(naked)
		return nil
	})
	msg.EXPECT().Ack().Times(0)

	r.handler(msg)
	waitFor(t, failing)
	r.stop(t)
	waitFor(t, naked)
}

// flakyStore fails the first ApplyListed calls the way a dropped database
// connection does
type flakyStore struct {
	store.Store
	failures int
	calls    int
	onFail   func()
}

func (s *flakyStore) ApplyListed(ctx context.Context, input store.ListedInput) (store.ApplyResult, error) {
	s.calls++
	if s.calls <= s.failures {
		if s.onFail != nil {
			s.onFail()
		}
		return store.ApplyResult{}, errors.New("connection reset by peer")
	}
	return s.Store.ApplyListed(ctx, input)
}

func newProcessIndexer(cfg Config, st store.Store) *indexer {
	metrics := NewMetrics(prometheus.NewRegistry())
	return &indexer{
		projector: NewProjector(st, adapter.NewJSON(), adapter.NewClock(), metrics),
		json:      adapter.NewJSON(),
		clock:     adapter.NewClock(),
		metrics:   metrics,
		config:    cfg,
		sequencer: NewSequencer(cfg.ReorderDepth),
	}
}

func TestIndexer_Process_FailedEventBlocksLaterEvents(t *testing.T) {
	tests := []struct {
		name           string
		failures       int
		cancelOnFail   bool
		expectAcked    bool
		expectSaleFrom string
	}{
		{name: "transient failure is retried before the purchase", failures: 2, expectAcked: true, expectSaleFrom: "5"},
		{name: "shutdown returns the whole batch unapplied", failures: 1000, cancelOnFail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			st := &flakyStore{Store: store.NewMemoryStore(), failures: tt.failures}
			if tt.cancelOnFail {
				st.onFail = cancel
			}

			cfg := testIndexerConfig(0)
			cfg.RetryInitialInterval = time.Millisecond
			cfg.RetryMaxInterval = 5 * time.Millisecond
			ix := newProcessIndexer(cfg, st)

			listed := listedEvent(10, "1", "5", "100")
			purchased := purchasedEvent(11, "1", "100")
			listedMsg := eventMessage(t, ctrl, listed)
			purchasedMsg := eventMessage(t, ctrl, purchased)

			if tt.expectAcked {
				gomock.InOrder(
					listedMsg.EXPECT().Ack().Return(nil),
					purchasedMsg.EXPECT().Ack().Return(nil),
				)
				listedMsg.EXPECT().Nak().Times(0)
				purchasedMsg.EXPECT().Nak().Times(0)
			} else {
				listedMsg.EXPECT().Nak().Return(nil)
				purchasedMsg.EXPECT().Nak().Return(nil)
				listedMsg.EXPECT().Ack().Times(0)
				purchasedMsg.EXPECT().Ack().Times(0)
			}

			ix.process(ctx, []Pending{
				{Event: listed, Msg: listedMsg},
				{Event: purchased, Msg: purchasedMsg},
			})

			sales, err := st.GetSales(context.Background(), store.SaleQueryFilter{})
			require.NoError(t, err)
			if tt.expectSaleFrom == "" {
				assert.Empty(t, sales)
				listing, err := st.GetListing(context.Background(), "1")
				require.NoError(t, err)
				assert.Nil(t, listing)
				return
			}

			require.Len(t, sales, 1)
			assert.Equal(t, tt.expectSaleFrom, sales[0].TokenID)
			listing, err := st.GetListing(context.Background(), "1")
			require.NoError(t, err)
			require.NotNil(t, listing)
			assert.False(t, listing.Active)
		})
	}
}

func TestIndexer_Run_ReordersBeforeApplying(t *testing.T) {
	tm := setupTestIndexer(t)
	defer tm.ctrl.Finish()

	ix := newTestIndexer(t, tm, testIndexerConfig(1))
	r := startIndexer(t, tm, ix)

	purchased := purchasedEvent(11, "1", "100")
	listed := listedEvent(10, "1", "5", "100")
	later := transferEvent(12, 0, "9", testSeller, testBuyer)

	purchasedMsg := eventMessage(t, tm.ctrl, purchased)
	listedMsg := eventMessage(t, tm.ctrl, listed)
	laterMsg := eventMessage(t, tm.ctrl, later)

	var order []string
	apply := func(ctx context.Context, e *domain.LedgerEvent) (store.ApplyResult, error) {
		order = append(order, string(e.EventType))
		return store.ApplyResult{}, nil
	}
	gomock.InOrder(
		tm.projector.EXPECT().Apply(gomock.Any(), gomock.Any()).DoAndReturn(apply),
		tm.projector.EXPECT().Apply(gomock.Any(), gomock.Any()).DoAndReturn(apply),
	)

	released := make(chan struct{})
	listedMsg.EXPECT().Ack().Return(nil)
	purchasedMsg.EXPECT().Ack().DoAndReturn(func() error {
		close(released)
		return nil
	})
	// Still buffered at shutdown, handed back for redelivery
	stopped := make(chan struct{})
	laterMsg.EXPECT().Nak().DoAndReturn(func() error {
		close(stopped)
		return nil
	})

	// The purchase arrives first but the listing is applied first
	r.handler(purchasedMsg)
	r.handler(listedMsg)
	r.handler(laterMsg)
	waitFor(t, released)
	assert.Equal(t, []string{"listed", "purchased"}, order)

	r.stop(t)
	waitFor(t, stopped)
}

func TestIndexer_Run_FlushesWhenIdle(t *testing.T) {
	tm := setupTestIndexer(t)
	defer tm.ctrl.Finish()

	cfg := testIndexerConfig(100)
	cfg.FlushInterval = 20 * time.Millisecond
	ix := newTestIndexer(t, tm, cfg)
	r := startIndexer(t, tm, ix)

	msg := eventMessage(t, tm.ctrl, listedEvent(10, "1", "5", "100"))
	acked := make(chan struct{})
	tm.projector.EXPECT().Apply(gomock.Any(), gomock.Any()).Return(store.ApplyResult{}, nil)
	msg.EXPECT().Ack().DoAndReturn(func() error {
		close(acked)
		return nil
	})

	r.handler(msg)
	waitFor(t, acked)
	r.stop(t)
}

func TestIndexer_Close(t *testing.T) {
	tm := setupTestIndexer(t)
	defer tm.ctrl.Finish()

	ix := newTestIndexer(t, tm, testIndexerConfig(0))
	tm.natsConn.EXPECT().Close()

	ix.Close()
}
