package contracts

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-agent-market/internal/domain"
)

var (
	testNFT    = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testMarket = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	testSeller = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	testBuyer  = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
	testTxHash = "0x9c22ff5f21f0b81b113e63f7db6da94fedef11b2119b4088b89664fb9a3cb658"
)

func TestTopics(t *testing.T) {
	assert.Equal(t, common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"), TransferTopic)

	topics := Topics()
	require.Len(t, topics, 1)
	assert.ElementsMatch(t, []common.Hash{ListedTopic, ListingCanceledTopic, PurchasedTopic, TransferTopic}, topics[0])

	for _, topic := range topics[0] {
		_, ok := EventTypeOf(topic)
		assert.True(t, ok)
	}
}

func TestEncodeAndParseLog(t *testing.T) {
	tests := []struct {
		name  string
		event domain.LedgerEvent
		addr  common.Address
	}{
		{
			name: "listed",
			event: domain.LedgerEvent{
				EventType: domain.EventTypeListed, ListingID: "1", Seller: testSeller, TokenID: "5",
				Price: "1000000000000000000",
			},
			addr: testMarket,
		},
		{
			name:  "listing canceled",
			event: domain.LedgerEvent{EventType: domain.EventTypeListingCanceled, ListingID: "42"},
			addr:  testMarket,
		},
		{
			name: "purchased",
			event: domain.LedgerEvent{
				EventType: domain.EventTypePurchased, ListingID: "7", Buyer: testBuyer, Seller: testSeller,
				Price: "500000000000000000",
			},
			addr: testMarket,
		},
		{
			name: "mint transfer",
			event: domain.LedgerEvent{
				EventType: domain.EventTypeTransfer, FromAddress: domain.ETHEREUM_ZERO_ADDRESS, ToAddress: testSeller,
				TokenID: "115792089237316195423570985008687907853269984665640564039457584007913129639935",
			},
			addr: testNFT,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := tt.event
			event.TxHash = testTxHash
			event.BlockNumber = 12
			event.LogIndex = 3
			event.TxIndex = 1

			vLog, err := EncodeLog(&event, testNFT, testMarket)
			require.NoError(t, err)
			assert.Equal(t, tt.addr, vLog.Address)

			parsed, err := ParseLog(domain.ChainLocalDevnet, vLog)
			require.NoError(t, err)

			assert.Equal(t, domain.ChainLocalDevnet, parsed.Chain)
			assert.Equal(t, tt.addr.Hex(), parsed.ContractAddress)
			assert.Equal(t, event.EventType, parsed.EventType)
			assert.Equal(t, event.ListingID, parsed.ListingID)
			assert.Equal(t, event.TokenID, parsed.TokenID)
			assert.Equal(t, event.Price, parsed.Price)
			assert.Equal(t, event.Seller, parsed.Seller)
			assert.Equal(t, event.Buyer, parsed.Buyer)
			assert.Equal(t, event.FromAddress, parsed.FromAddress)
			assert.Equal(t, event.ToAddress, parsed.ToAddress)
			assert.Equal(t, testTxHash, parsed.TxHash)
			assert.Equal(t, uint64(12), parsed.BlockNumber)
			assert.Equal(t, uint64(3), parsed.LogIndex)
			assert.Equal(t, uint64(1), parsed.TxIndex)
			assert.NoError(t, parsed.Validate())
		})
	}
}

func TestParseLog_Errors(t *testing.T) {
	tests := []struct {
		name    string
		log     types.Log
		wantErr error
	}{
		{
			name:    "no topics",
			log:     types.Log{},
			wantErr: ErrUnknownLog,
		},
		{
			name:    "unknown topic",
			log:     types.Log{Topics: []common.Hash{common.HexToHash("0x01")}},
			wantErr: ErrUnknownLog,
		},
		{
			name: "missing indexed topics",
			log:  types.Log{Topics: []common.Hash{TransferTopic}},
		},
		{
			name: "listed without data",
			log: types.Log{Topics: []common.Hash{
				ListedTopic,
				common.BigToHash(common.Big1),
				common.BytesToHash(common.HexToAddress(testSeller).Bytes()),
				common.BigToHash(common.Big2),
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLog(domain.ChainLocalDevnet, tt.log)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestEncodeLog_InvalidEvent(t *testing.T) {
	_, err := EncodeLog(&domain.LedgerEvent{EventType: domain.EventTypeListed, ListingID: "x"}, testNFT, testMarket)
	assert.Error(t, err)

	_, err = EncodeLog(&domain.LedgerEvent{EventType: "approval"}, testNFT, testMarket)
	assert.ErrorIs(t, err, domain.ErrUnknownEventType)
}

func TestIsZeroAddress(t *testing.T) {
	assert.True(t, IsZeroAddress(domain.ETHEREUM_ZERO_ADDRESS))
	assert.False(t, IsZeroAddress(testSeller))
}
