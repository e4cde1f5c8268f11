package ethereum

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-agent-market/internal/contracts"
	"github.com/feral-file/ff-agent-market/internal/domain"
	"github.com/feral-file/ff-agent-market/internal/messaging"
	"github.com/feral-file/ff-agent-market/internal/mocks"
)

var (
	testNFT    = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testMarket = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	testSeller = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

type fakeSubscription struct {
	errCh        chan error
	unsubscribed bool
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{errCh: make(chan error, 1)}
}

func (s *fakeSubscription) Err() <-chan error { return s.errCh }
func (s *fakeSubscription) Unsubscribe()      { s.unsubscribed = true }

func listedLog(t *testing.T, block, logIndex uint64, listingID string) types.Log {
	t.Helper()
	vLog, err := contracts.EncodeLog(&domain.LedgerEvent{
		EventType: domain.EventTypeListed, ListingID: listingID, Seller: testSeller, TokenID: "5", Price: "100",
		TxHash: common.BigToHash(new(big.Int).SetUint64(block*100 + logIndex)).Hex(), BlockNumber: block, LogIndex: logIndex,
	}, testNFT, testMarket)
	require.NoError(t, err)
	return vLog
}

type subscriberMocks struct {
	client        *mocks.MockEthereumClient
	blockProvider *mocks.MockBlockProvider
	subscriber    messaging.Subscriber
}

func setupSubscriber(t *testing.T) *subscriberMocks {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	m := &subscriberMocks{
		client:        mocks.NewMockEthereumClient(ctrl),
		blockProvider: mocks.NewMockBlockProvider(ctrl),
	}
	sub, err := NewSubscriber(Config{
		ChainID:            domain.ChainLocalDevnet,
		NFTAddress:         testNFT.Hex(),
		MarketplaceAddress: testMarket.Hex(),
	}, m.client, m.blockProvider)
	require.NoError(t, err)
	m.subscriber = sub
	return m
}

func TestNewSubscriber_InvalidConfig(t *testing.T) {
	_, err := NewSubscriber(Config{ChainID: "tezos:mainnet", NFTAddress: testNFT.Hex(), MarketplaceAddress: testMarket.Hex()}, nil, nil)
	assert.Error(t, err)

	_, err = NewSubscriber(Config{ChainID: domain.ChainLocalDevnet, NFTAddress: "nft"}, nil, nil)
	assert.Error(t, err)
}

func TestSubscribeEvents_BackfillThenLive(t *testing.T) {
	m := setupSubscriber(t)
	sub := newFakeSubscription()
	blockTime := time.Unix(1700000000, 0).UTC()

	var live chan<- types.Log
	m.client.EXPECT().
		SubscribeFilterLogs(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
			assert.Equal(t, []common.Address{testNFT, testMarket}, q.Addresses)
			assert.Equal(t, contracts.Topics(), q.Topics)
			live = ch
			// duplicate of the last backfilled log and a newer one
			ch <- listedLog(t, 11, 0, "2")
			ch <- listedLog(t, 12, 0, "3")
			return sub, nil
		})
	m.client.EXPECT().HeaderByNumber(gomock.Any(), nil).Return(&types.Header{Number: big.NewInt(11)}, nil)
	m.client.EXPECT().
		FilterLogs(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
			assert.Equal(t, uint64(10), q.FromBlock.Uint64())
			assert.Equal(t, uint64(11), q.ToBlock.Uint64())
			removed := listedLog(t, 10, 1, "9")
			removed.Removed = true
			return []types.Log{listedLog(t, 10, 0, "1"), removed, listedLog(t, 11, 0, "2")}, nil
		})
	m.blockProvider.EXPECT().GetBlockTimestamp(gomock.Any(), gomock.Any()).Return(blockTime, nil).AnyTimes()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var ids []string
	err := m.subscriber.SubscribeEvents(ctx, 10, func(event *domain.LedgerEvent) error {
		ids = append(ids, event.ListingID)
		assert.Equal(t, blockTime, event.Timestamp)
		assert.Equal(t, domain.ChainLocalDevnet, event.Chain)
		if event.ListingID == "3" {
			cancel()
		}
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"1", "2", "3"}, ids)
	assert.NotNil(t, live)
	assert.True(t, sub.unsubscribed)
}

func TestSubscribeEvents_HandlerErrorStops(t *testing.T) {
	m := setupSubscriber(t)
	sub := newFakeSubscription()

	m.client.EXPECT().SubscribeFilterLogs(gomock.Any(), gomock.Any(), gomock.Any()).Return(sub, nil)
	m.client.EXPECT().HeaderByNumber(gomock.Any(), nil).Return(&types.Header{Number: big.NewInt(5)}, nil)
	m.client.EXPECT().FilterLogs(gomock.Any(), gomock.Any()).Return([]types.Log{listedLog(t, 5, 0, "1")}, nil)
	m.blockProvider.EXPECT().GetBlockTimestamp(gomock.Any(), uint64(5)).Return(time.Now(), nil)

	publishErr := errors.New("nats unavailable")
	err := m.subscriber.SubscribeEvents(context.Background(), 1, func(event *domain.LedgerEvent) error {
		return publishErr
	})
	assert.ErrorIs(t, err, publishErr)
}

func TestSubscribeEvents_SubscriptionError(t *testing.T) {
	m := setupSubscriber(t)
	sub := newFakeSubscription()
	sub.errCh <- errors.New("websocket closed")

	m.client.EXPECT().SubscribeFilterLogs(gomock.Any(), gomock.Any(), gomock.Any()).Return(sub, nil)
	m.client.EXPECT().HeaderByNumber(gomock.Any(), nil).Return(&types.Header{Number: big.NewInt(5)}, nil)

	// fromBlock ahead of the chain head skips the backfill
	err := m.subscriber.SubscribeEvents(context.Background(), 6, func(event *domain.LedgerEvent) error {
		return nil
	})
	assert.ErrorContains(t, err, "websocket closed")
}

func TestSubscribeEvents_SubscribeFails(t *testing.T) {
	m := setupSubscriber(t)
	m.client.EXPECT().SubscribeFilterLogs(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("dial failed"))

	err := m.subscriber.SubscribeEvents(context.Background(), 0, nil)
	assert.ErrorIs(t, err, domain.ErrSubscriptionFailed)
}

func TestGetLatestBlock(t *testing.T) {
	m := setupSubscriber(t)
	m.blockProvider.EXPECT().GetLatestBlock(gomock.Any()).Return(uint64(99), nil)

	latest, err := m.subscriber.GetLatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(99), latest)
}
