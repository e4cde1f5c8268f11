package indexer

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-agent-market/internal/adapter"
	"github.com/feral-file/ff-agent-market/internal/domain"
	"github.com/feral-file/ff-agent-market/internal/logger"
	"github.com/feral-file/ff-agent-market/internal/store"
	"github.com/feral-file/ff-agent-market/internal/store/schema"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests
	err := logger.Initialize(logger.Config{
		Debug: false,
	})
	if err != nil {
		panic(err)
	}

	code := m.Run()
	os.Exit(code)
}

const (
	testSeller = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	testBuyer  = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
	testMarket = "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
)

var genesis = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func txHash(n int) string {
	return fmt.Sprintf("0x%064x", n)
}

func baseEvent(eventType domain.EventType, block, logIndex uint64) *domain.LedgerEvent {
	return &domain.LedgerEvent{
		Chain:           domain.ChainLocalDevnet,
		ContractAddress: testMarket,
		EventType:       eventType,
		TxHash:          txHash(int(block)),
		BlockNumber:     block,
		LogIndex:        logIndex,
		Timestamp:       genesis.Add(time.Duration(block) * 12 * time.Second),
	}
}

func listedEvent(block uint64, listingID, tokenID, price string) *domain.LedgerEvent {
	e := baseEvent(domain.EventTypeListed, block, 1)
	e.ListingID = listingID
	e.TokenID = tokenID
	e.Seller = testSeller
	e.Price = price
	return e
}

func canceledEvent(block uint64, listingID string) *domain.LedgerEvent {
	e := baseEvent(domain.EventTypeListingCanceled, block, 1)
	e.ListingID = listingID
	return e
}

func purchasedEvent(block uint64, listingID, price string) *domain.LedgerEvent {
	e := baseEvent(domain.EventTypePurchased, block, 1)
	e.ListingID = listingID
	e.Buyer = testBuyer
	e.Seller = testSeller
	e.Price = price
	return e
}

func transferEvent(block, logIndex uint64, tokenID, from, to string) *domain.LedgerEvent {
	e := baseEvent(domain.EventTypeTransfer, block, logIndex)
	e.ContractAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	e.TokenID = tokenID
	e.FromAddress = from
	e.ToAddress = to
	return e
}

type projectorFixture struct {
	store     store.Store
	metrics   *Metrics
	projector Projector
}

func setupProjector(t *testing.T) *projectorFixture {
	t.Helper()
	st := store.NewMemoryStore()
	metrics := NewMetrics(prometheus.NewRegistry())
	return &projectorFixture{
		store:     st,
		metrics:   metrics,
		projector: NewProjector(st, adapter.NewJSON(), adapter.NewClock(), metrics),
	}
}

func (f *projectorFixture) apply(t *testing.T, events ...*domain.LedgerEvent) {
	t.Helper()
	for _, e := range events {
		_, err := f.projector.Apply(context.Background(), e)
		require.NoError(t, err)
	}
}

func (f *projectorFixture) listing(t *testing.T, id string) *schema.Listing {
	t.Helper()
	l, err := f.store.GetListing(context.Background(), id)
	require.NoError(t, err)
	return l
}

func (f *projectorFixture) salesFor(t *testing.T, listingID string) []*schema.Sale {
	t.Helper()
	sales, err := f.store.GetSales(context.Background(), store.SaleQueryFilter{ListingID: &listingID})
	require.NoError(t, err)
	return sales
}

func TestProjector_ListedThenCanceled(t *testing.T) {
	f := setupProjector(t)
	f.apply(t,
		listedEvent(10, "1", "5", "1000000000000000000"),
		canceledEvent(11, "1"),
	)

	listing := f.listing(t, "1")
	require.NotNil(t, listing)
	assert.False(t, listing.Active)
	assert.Empty(t, f.salesFor(t, "1"))
}

func TestProjector_ListedThenPurchased(t *testing.T) {
	f := setupProjector(t)
	f.apply(t,
		listedEvent(10, "1", "5", "1000000000000000000"),
		purchasedEvent(11, "1", "1000000000000000000"),
	)

	listing := f.listing(t, "1")
	require.NotNil(t, listing)
	assert.False(t, listing.Active)

	sales := f.salesFor(t, "1")
	require.Len(t, sales, 1)
	assert.Equal(t, listing.TokenID, sales[0].TokenID)
	assert.Equal(t, "5", sales[0].TokenID)
	assert.Equal(t, domain.EventID(txHash(11), 1), sales[0].ID)
	assert.Equal(t, testBuyer, sales[0].Buyer)
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.eventsApplied.WithLabelValues(string(domain.EventTypeListed)))+
		testutil.ToFloat64(f.metrics.eventsApplied.WithLabelValues(string(domain.EventTypePurchased))))
	assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.degradedSales))
}

func TestProjector_DuplicateListed(t *testing.T) {
	f := setupProjector(t)
	event := listedEvent(10, "1", "5", "1000000000000000000")

	f.apply(t, event)
	result, err := f.projector.Apply(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, result.Duplicate)

	active := true
	listings, err := f.store.GetListings(context.Background(), store.ListingQueryFilter{Active: &active})
	require.NoError(t, err)
	assert.Len(t, listings, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.eventsSkipped.WithLabelValues(string(domain.EventTypeListed), "duplicate")))
}

func TestProjector_PurchasedBeforeListed(t *testing.T) {
	f := setupProjector(t)

	result, err := f.projector.Apply(context.Background(), purchasedEvent(11, "7", "500"))
	require.NoError(t, err)
	assert.True(t, result.Degraded)

	sales := f.salesFor(t, "7")
	require.Len(t, sales, 1)
	assert.Equal(t, domain.UNKNOWN_TOKEN_ID, sales[0].TokenID)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.degradedSales))

	// The listing arriving afterwards is projected but the sale keeps its unknown token id
	f.apply(t, listedEvent(10, "7", "3", "500"))
	sales = f.salesFor(t, "7")
	require.Len(t, sales, 1)
	assert.Equal(t, domain.UNKNOWN_TOKEN_ID, sales[0].TokenID)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.lateEvents))
}

func TestProjector_ListedReplayKeepsInactive(t *testing.T) {
	f := setupProjector(t)
	f.apply(t,
		listedEvent(10, "1", "5", "100"),
		canceledEvent(11, "1"),
	)

	// Same listing id seen again from another transaction
	replay := listedEvent(12, "1", "5", "200")
	f.apply(t, replay)

	listing := f.listing(t, "1")
	require.NotNil(t, listing)
	assert.False(t, listing.Active)
	assert.Equal(t, "200", listing.Price)
}

func TestProjector_CancelUnknownListing(t *testing.T) {
	f := setupProjector(t)

	result, err := f.projector.Apply(context.Background(), canceledEvent(11, "42"))
	require.NoError(t, err)
	assert.True(t, result.Noop)
	assert.Nil(t, f.listing(t, "42"))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.eventsSkipped.WithLabelValues(string(domain.EventTypeListingCanceled), "noop")))
}

func TestProjector_TransferOrdering(t *testing.T) {
	f := setupProjector(t)
	newer := transferEvent(20, 0, "5", testSeller, testBuyer)
	older := transferEvent(15, 3, "5", domain.ETHEREUM_ZERO_ADDRESS, testSeller)

	f.apply(t, newer)
	result, err := f.projector.Apply(context.Background(), older)
	require.NoError(t, err)
	assert.True(t, result.Stale)

	ownership, err := f.store.GetAgentOwnership(context.Background(), "5")
	require.NoError(t, err)
	require.NotNil(t, ownership)
	assert.Equal(t, testBuyer, ownership.Owner)

	tokenID := "5"
	transfers, err := f.store.GetOwnershipTransfers(context.Background(), store.OwnershipTransferQueryFilter{TokenID: &tokenID})
	require.NoError(t, err)
	require.Len(t, transfers, 2)
	assert.Equal(t, uint64(15), transfers[0].BlockNumber)
	assert.Equal(t, uint64(20), transfers[1].BlockNumber)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.staleTransfers))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.lateEvents))
}

func TestProjector_AdvancesProjectionCursor(t *testing.T) {
	f := setupProjector(t)
	f.apply(t,
		transferEvent(10, 0, "1", domain.ETHEREUM_ZERO_ADDRESS, testSeller),
		transferEvent(12, 0, "1", testSeller, testMarket),
		listedEvent(12, "1", "1", "100"),
		transferEvent(11, 0, "2", domain.ETHEREUM_ZERO_ADDRESS, testSeller),
	)

	cursor, err := f.store.GetProjectionCursor(context.Background(), domain.ChainLocalDevnet)
	require.NoError(t, err)
	assert.Equal(t, domain.EventPosition{BlockNumber: 12, LogIndex: 1}, cursor)
}

func TestProjector_Errors(t *testing.T) {
	f := setupProjector(t)
	ctx := context.Background()

	_, err := f.projector.Apply(ctx, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidEvent)

	unknown := baseEvent("approval", 1, 0)
	_, err = f.projector.Apply(ctx, unknown)
	assert.ErrorIs(t, err, domain.ErrUnknownEventType)

	missing := listedEvent(1, "1", "", "100")
	_, err = f.projector.Apply(ctx, missing)
	assert.ErrorIs(t, err, domain.ErrInvalidEvent)

	// Handlers refuse events of another type
	_, err = f.projector.OnPurchased(ctx, listedEvent(1, "1", "1", "100"))
	assert.ErrorIs(t, err, domain.ErrInvalidEvent)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = f.projector.Apply(canceled, listedEvent(1, "1", "1", "100"))
	assert.ErrorIs(t, err, context.Canceled)
}
