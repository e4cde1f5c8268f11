package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/feral-file/ff-agent-market/internal/domain"
	"github.com/feral-file/ff-agent-market/internal/store/schema"
)

const (
	testChain  = domain.ChainLocalDevnet
	testSeller = "0x70997970c51812dc3a010c7d01b50e0d17dc79c8"
	testBuyer  = "0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc"
	testOther  = "0x90f79bf6eb2c4f870365e785982e1f101e93b906"
	oneEther   = "1000000000000000000"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// =============================================================================
// Test Data Builders
// =============================================================================

func buildTestMeta(eventType domain.EventType, block, logIndex uint64) EventMeta {
	txHash := fmt.Sprintf("0x%064x", block*1000+logIndex)
	raw, _ := json.Marshal(map[string]interface{}{
		"tx_hash":      txHash,
		"block_number": block,
		"log_index":    logIndex,
	})

	return EventMeta{
		Chain:       testChain,
		EventType:   eventType,
		TxHash:      txHash,
		LogIndex:    logIndex,
		BlockNumber: block,
		Timestamp:   baseTime.Add(time.Duration(block) * time.Second),
		Raw:         datatypes.JSON(raw),
	}
}

func buildTestListed(listingID, tokenID, price string, block, logIndex uint64) ListedInput {
	return ListedInput{
		Meta:      buildTestMeta(domain.EventTypeListed, block, logIndex),
		ListingID: listingID,
		Seller:    testSeller,
		TokenID:   tokenID,
		Price:     price,
	}
}

func buildTestCanceled(listingID string, block, logIndex uint64) ListingCanceledInput {
	return ListingCanceledInput{
		Meta:      buildTestMeta(domain.EventTypeListingCanceled, block, logIndex),
		ListingID: listingID,
	}
}

func buildTestPurchased(listingID, price string, block, logIndex uint64) PurchasedInput {
	return PurchasedInput{
		Meta:      buildTestMeta(domain.EventTypePurchased, block, logIndex),
		ListingID: listingID,
		Buyer:     testBuyer,
		Seller:    testSeller,
		Price:     price,
	}
}

func buildTestTransfer(tokenID, from, to string, block, logIndex uint64) TransferInput {
	return TransferInput{
		Meta:    buildTestMeta(domain.EventTypeTransfer, block, logIndex),
		TokenID: tokenID,
		From:    from,
		To:      to,
	}
}

func boolPtr(b bool) *bool {
	return &b
}

func strPtr(s string) *string {
	return &s
}

func listingIDs(listings []*schema.Listing) []string {
	ids := make([]string, 0, len(listings))
	for _, l := range listings {
		ids = append(ids, l.ID)
	}
	return ids
}

// =============================================================================
// Test: ApplyListed
// =============================================================================

func testApplyListed(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("creates an active listing", func(t *testing.T) {
		input := buildTestListed("1", "5", oneEther, 10, 1)

		result, err := store.ApplyListed(ctx, input)
		require.NoError(t, err)
		assert.Equal(t, ApplyResult{}, result)

		listing, err := store.GetListing(ctx, "1")
		require.NoError(t, err)
		require.NotNil(t, listing)
		assert.Equal(t, "1", listing.ID)
		assert.Equal(t, domain.NormalizeAddress(testSeller), listing.Seller)
		assert.Equal(t, "5", listing.TokenID)
		assert.Equal(t, oneEther, listing.Price)
		assert.True(t, listing.Active)
		assert.True(t, input.Meta.Timestamp.Equal(listing.CreatedAt))
		assert.Equal(t, input.Meta.TxHash, listing.TxHash)
	})

	t.Run("exact replay is reported as duplicate", func(t *testing.T) {
		input := buildTestListed("2", "6", oneEther, 11, 0)

		_, err := store.ApplyListed(ctx, input)
		require.NoError(t, err)

		result, err := store.ApplyListed(ctx, input)
		require.NoError(t, err)
		assert.True(t, result.Duplicate)

		listings, err := store.GetListings(ctx, ListingQueryFilter{TokenID: strPtr("6")})
		require.NoError(t, err)
		assert.Len(t, listings, 1)
	})

	t.Run("second Listed for the same id overwrites instead of duplicating", func(t *testing.T) {
		_, err := store.ApplyListed(ctx, buildTestListed("3", "7", oneEther, 12, 0))
		require.NoError(t, err)

		_, err = store.ApplyListed(ctx, buildTestListed("3", "7", "2000000000000000000", 13, 0))
		require.NoError(t, err)

		listings, err := store.GetListings(ctx, ListingQueryFilter{TokenID: strPtr("7")})
		require.NoError(t, err)
		require.Len(t, listings, 1)
		assert.Equal(t, "2000000000000000000", listings[0].Price)
		assert.True(t, listings[0].Active)
	})

	t.Run("overwrite never reactivates a closed listing", func(t *testing.T) {
		_, err := store.ApplyListed(ctx, buildTestListed("4", "8", oneEther, 14, 0))
		require.NoError(t, err)
		_, err = store.ApplyListingCanceled(ctx, buildTestCanceled("4", 15, 0))
		require.NoError(t, err)

		_, err = store.ApplyListed(ctx, buildTestListed("4", "8", oneEther, 16, 0))
		require.NoError(t, err)

		listing, err := store.GetListing(ctx, "4")
		require.NoError(t, err)
		require.NotNil(t, listing)
		assert.False(t, listing.Active)
	})

	t.Run("unknown listing returns nil", func(t *testing.T) {
		listing, err := store.GetListing(ctx, "999999")
		require.NoError(t, err)
		assert.Nil(t, listing)
	})
}

// =============================================================================
// Test: ApplyListingCanceled
// =============================================================================

func testApplyListingCanceled(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("Listed then Canceled leaves an inactive listing and no sale", func(t *testing.T) {
		_, err := store.ApplyListed(ctx, buildTestListed("1", "5", oneEther, 10, 0))
		require.NoError(t, err)

		result, err := store.ApplyListingCanceled(ctx, buildTestCanceled("1", 11, 0))
		require.NoError(t, err)
		assert.Equal(t, ApplyResult{}, result)

		listing, err := store.GetListing(ctx, "1")
		require.NoError(t, err)
		require.NotNil(t, listing)
		assert.False(t, listing.Active)

		sales, err := store.GetSales(ctx, SaleQueryFilter{ListingID: strPtr("1")})
		require.NoError(t, err)
		assert.Empty(t, sales)
	})

	t.Run("cancel of an unknown listing is a no-op", func(t *testing.T) {
		result, err := store.ApplyListingCanceled(ctx, buildTestCanceled("42", 12, 0))
		require.NoError(t, err)
		assert.True(t, result.Noop)

		listing, err := store.GetListing(ctx, "42")
		require.NoError(t, err)
		assert.Nil(t, listing)
	})

	t.Run("replayed cancel is a duplicate", func(t *testing.T) {
		input := buildTestCanceled("1", 11, 0)
		result, err := store.ApplyListingCanceled(ctx, input)
		require.NoError(t, err)
		assert.True(t, result.Duplicate)
	})
}

// =============================================================================
// Test: ApplyPurchased
// =============================================================================

func testApplyPurchased(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("Listed then Purchased copies the token id and closes the listing", func(t *testing.T) {
		_, err := store.ApplyListed(ctx, buildTestListed("1", "5", oneEther, 10, 1))
		require.NoError(t, err)

		input := buildTestPurchased("1", oneEther, 11, 1)
		result, err := store.ApplyPurchased(ctx, input)
		require.NoError(t, err)
		assert.Equal(t, ApplyResult{}, result)

		sale, err := store.GetSale(ctx, input.Meta.ID())
		require.NoError(t, err)
		require.NotNil(t, sale)
		assert.Equal(t, "1", sale.ListingID)
		assert.Equal(t, "5", sale.TokenID)
		assert.True(t, sale.TokenKnown())
		assert.Equal(t, domain.NormalizeAddress(testBuyer), sale.Buyer)
		assert.Equal(t, domain.NormalizeAddress(testSeller), sale.Seller)
		assert.Equal(t, oneEther, sale.Price)
		assert.True(t, input.Meta.Timestamp.Equal(sale.Timestamp))

		listing, err := store.GetListing(ctx, "1")
		require.NoError(t, err)
		require.NotNil(t, listing)
		assert.False(t, listing.Active)
	})

	t.Run("Purchased before Listed records a sale with unknown token id", func(t *testing.T) {
		input := buildTestPurchased("77", oneEther, 20, 0)
		result, err := store.ApplyPurchased(ctx, input)
		require.NoError(t, err)
		assert.True(t, result.Degraded)

		sale, err := store.GetSale(ctx, input.Meta.ID())
		require.NoError(t, err)
		require.NotNil(t, sale)
		assert.Equal(t, domain.UNKNOWN_TOKEN_ID, sale.TokenID)
		assert.False(t, sale.TokenKnown())
	})

	t.Run("replayed purchase creates exactly one sale", func(t *testing.T) {
		_, err := store.ApplyListed(ctx, buildTestListed("2", "6", oneEther, 30, 0))
		require.NoError(t, err)

		input := buildTestPurchased("2", oneEther, 31, 2)
		_, err = store.ApplyPurchased(ctx, input)
		require.NoError(t, err)

		result, err := store.ApplyPurchased(ctx, input)
		require.NoError(t, err)
		assert.True(t, result.Duplicate)

		sales, err := store.GetSales(ctx, SaleQueryFilter{ListingID: strPtr("2")})
		require.NoError(t, err)
		assert.Len(t, sales, 1)
	})
}

// =============================================================================
// Test: ApplyTransfer
// =============================================================================

func testApplyTransfer(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("mint then transfer moves ownership and keeps history", func(t *testing.T) {
		_, err := store.ApplyTransfer(ctx, buildTestTransfer("5", domain.ETHEREUM_ZERO_ADDRESS, testSeller, 10, 0))
		require.NoError(t, err)

		last := buildTestTransfer("5", testSeller, testBuyer, 12, 3)
		result, err := store.ApplyTransfer(ctx, last)
		require.NoError(t, err)
		assert.Equal(t, ApplyResult{}, result)

		ownership, err := store.GetAgentOwnership(ctx, "5")
		require.NoError(t, err)
		require.NotNil(t, ownership)
		assert.Equal(t, domain.NormalizeAddress(testBuyer), ownership.Owner)
		assert.Equal(t, uint64(12), ownership.BlockNumber)
		assert.Equal(t, uint64(3), ownership.LogIndex)
		assert.True(t, last.Meta.Timestamp.Equal(ownership.UpdatedAt))

		transfers, err := store.GetOwnershipTransfers(ctx, OwnershipTransferQueryFilter{TokenID: strPtr("5")})
		require.NoError(t, err)
		require.Len(t, transfers, 2)
		assert.Equal(t, domain.ETHEREUM_ZERO_ADDRESS, transfers[0].FromAddress)
		assert.Equal(t, domain.NormalizeAddress(testBuyer), transfers[1].ToAddress)
	})

	t.Run("older transfer applied late does not overwrite the owner", func(t *testing.T) {
		_, err := store.ApplyTransfer(ctx, buildTestTransfer("6", testSeller, testOther, 40, 1))
		require.NoError(t, err)

		result, err := store.ApplyTransfer(ctx, buildTestTransfer("6", domain.ETHEREUM_ZERO_ADDRESS, testSeller, 40, 0))
		require.NoError(t, err)
		assert.True(t, result.Stale)

		ownership, err := store.GetAgentOwnership(ctx, "6")
		require.NoError(t, err)
		require.NotNil(t, ownership)
		assert.Equal(t, domain.NormalizeAddress(testOther), ownership.Owner)

		transfers, err := store.GetOwnershipTransfers(ctx, OwnershipTransferQueryFilter{TokenID: strPtr("6")})
		require.NoError(t, err)
		require.Len(t, transfers, 2)
		assert.Equal(t, uint64(0), transfers[0].LogIndex)
		assert.Equal(t, uint64(1), transfers[1].LogIndex)
	})

	t.Run("replayed transfer is a duplicate", func(t *testing.T) {
		input := buildTestTransfer("7", domain.ETHEREUM_ZERO_ADDRESS, testSeller, 50, 0)
		_, err := store.ApplyTransfer(ctx, input)
		require.NoError(t, err)

		result, err := store.ApplyTransfer(ctx, input)
		require.NoError(t, err)
		assert.True(t, result.Duplicate)

		transfers, err := store.GetOwnershipTransfers(ctx, OwnershipTransferQueryFilter{TokenID: strPtr("7")})
		require.NoError(t, err)
		assert.Len(t, transfers, 1)
	})
}

// =============================================================================
// Test: Queries
// =============================================================================

func testGetListings(t *testing.T, store Store) {
	ctx := context.Background()

	// Listings 1 and 2 share a block timestamp so the id tie-breaker decides their order
	_, err := store.ApplyListed(ctx, buildTestListed("1", "10", "900", 100, 0))
	require.NoError(t, err)
	_, err = store.ApplyListed(ctx, buildTestListed("2", "11", "1000", 100, 1))
	require.NoError(t, err)
	_, err = store.ApplyListed(ctx, buildTestListed("3", "12", "50", 101, 0))
	require.NoError(t, err)
	_, err = store.ApplyListed(ctx, buildTestListed("10", "13", "7", 102, 0))
	require.NoError(t, err)
	_, err = store.ApplyListingCanceled(ctx, buildTestCanceled("3", 103, 0))
	require.NoError(t, err)

	t.Run("active listings ordered by created_at desc then id desc", func(t *testing.T) {
		listings, err := store.GetListings(ctx, ListingQueryFilter{
			Active:    boolPtr(true),
			OrderBy:   ListingOrderByCreatedAt,
			OrderDesc: true,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"10", "2", "1"}, listingIDs(listings))
	})

	t.Run("inactive listings only", func(t *testing.T) {
		listings, err := store.GetListings(ctx, ListingQueryFilter{Active: boolPtr(false)})
		require.NoError(t, err)
		assert.Equal(t, []string{"3"}, listingIDs(listings))
	})

	t.Run("price and id order numerically", func(t *testing.T) {
		listings, err := store.GetListings(ctx, ListingQueryFilter{OrderBy: ListingOrderByPrice})
		require.NoError(t, err)
		assert.Equal(t, []string{"10", "3", "1", "2"}, listingIDs(listings))

		listings, err = store.GetListings(ctx, ListingQueryFilter{OrderBy: ListingOrderByID, OrderDesc: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"10", "3", "2", "1"}, listingIDs(listings))
	})

	t.Run("filter by seller accepts any address case", func(t *testing.T) {
		listings, err := store.GetListings(ctx, ListingQueryFilter{Seller: strPtr(testSeller)})
		require.NoError(t, err)
		assert.Len(t, listings, 4)

		listings, err = store.GetListings(ctx, ListingQueryFilter{Seller: strPtr(testOther)})
		require.NoError(t, err)
		assert.Empty(t, listings)
	})

	t.Run("limit and offset", func(t *testing.T) {
		listings, err := store.GetListings(ctx, ListingQueryFilter{OrderBy: ListingOrderByID, Limit: 2, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"2", "3"}, listingIDs(listings))

		listings, err = store.GetListings(ctx, ListingQueryFilter{Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, listings)
	})
}

func testGetSales(t *testing.T, store Store) {
	ctx := context.Background()

	for i, price := range []string{"300", "100", "200"} {
		listingID := fmt.Sprintf("%d", i+1)
		block := uint64(200 + i*2)
		_, err := store.ApplyListed(ctx, buildTestListed(listingID, fmt.Sprintf("%d", i+20), price, block, 0))
		require.NoError(t, err)
		_, err = store.ApplyPurchased(ctx, buildTestPurchased(listingID, price, block+1, 0))
		require.NoError(t, err)
	}

	t.Run("ordered by timestamp", func(t *testing.T) {
		sales, err := store.GetSales(ctx, SaleQueryFilter{OrderDesc: true})
		require.NoError(t, err)
		require.Len(t, sales, 3)
		assert.Equal(t, "3", sales[0].ListingID)
		assert.Equal(t, "1", sales[2].ListingID)
	})

	t.Run("ordered by price", func(t *testing.T) {
		sales, err := store.GetSales(ctx, SaleQueryFilter{OrderBy: SaleOrderByPrice})
		require.NoError(t, err)
		require.Len(t, sales, 3)
		assert.Equal(t, "100", sales[0].Price)
		assert.Equal(t, "300", sales[2].Price)
	})

	t.Run("filters", func(t *testing.T) {
		sales, err := store.GetSales(ctx, SaleQueryFilter{Buyer: strPtr(testBuyer)})
		require.NoError(t, err)
		assert.Len(t, sales, 3)

		sales, err = store.GetSales(ctx, SaleQueryFilter{TokenID: strPtr("21")})
		require.NoError(t, err)
		require.Len(t, sales, 1)
		assert.Equal(t, "2", sales[0].ListingID)

		sales, err = store.GetSales(ctx, SaleQueryFilter{Seller: strPtr(testOther)})
		require.NoError(t, err)
		assert.Empty(t, sales)
	})

	t.Run("unknown sale returns nil", func(t *testing.T) {
		sale, err := store.GetSale(ctx, "0xdead-0")
		require.NoError(t, err)
		assert.Nil(t, sale)
	})
}

func testGetAgentOwnerships(t *testing.T, store Store) {
	ctx := context.Background()

	_, err := store.ApplyTransfer(ctx, buildTestTransfer("3", domain.ETHEREUM_ZERO_ADDRESS, testSeller, 300, 0))
	require.NoError(t, err)
	_, err = store.ApplyTransfer(ctx, buildTestTransfer("20", domain.ETHEREUM_ZERO_ADDRESS, testSeller, 301, 0))
	require.NoError(t, err)
	_, err = store.ApplyTransfer(ctx, buildTestTransfer("4", domain.ETHEREUM_ZERO_ADDRESS, testOther, 302, 0))
	require.NoError(t, err)

	ownerships, err := store.GetAgentOwnerships(ctx, AgentOwnershipQueryFilter{Owner: strPtr(testSeller)})
	require.NoError(t, err)
	require.Len(t, ownerships, 2)
	assert.Equal(t, "3", ownerships[0].ID)
	assert.Equal(t, "20", ownerships[1].ID)

	ownership, err := store.GetAgentOwnership(ctx, "999")
	require.NoError(t, err)
	assert.Nil(t, ownership)

	transfers, err := store.GetOwnershipTransfers(ctx, OwnershipTransferQueryFilter{To: strPtr(testOther)})
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, "4", transfers[0].TokenID)

	transfers, err = store.GetOwnershipTransfers(ctx, OwnershipTransferQueryFilter{From: strPtr(domain.ETHEREUM_ZERO_ADDRESS), OrderDesc: true})
	require.NoError(t, err)
	require.Len(t, transfers, 3)
	assert.Equal(t, "4", transfers[0].TokenID)
}

// =============================================================================
// Test: Cursors
// =============================================================================

func testBlockCursor(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("get non-existent cursor returns 0", func(t *testing.T) {
		cursor, err := store.GetBlockCursor(ctx, "test_chain_nonexistent")
		require.NoError(t, err)
		assert.Equal(t, uint64(0), cursor)
	})

	t.Run("set and get cursor", func(t *testing.T) {
		chain := "test_chain_cursor"
		blockNum := uint64(12345)

		err := store.SetBlockCursor(ctx, chain, blockNum)
		require.NoError(t, err)

		cursor, err := store.GetBlockCursor(ctx, chain)
		require.NoError(t, err)
		assert.Equal(t, blockNum, cursor)
	})

	t.Run("update existing cursor", func(t *testing.T) {
		chain := "test_chain_update"

		err := store.SetBlockCursor(ctx, chain, 100)
		require.NoError(t, err)

		err = store.SetBlockCursor(ctx, chain, 200)
		require.NoError(t, err)

		cursor, err := store.GetBlockCursor(ctx, chain)
		require.NoError(t, err)
		assert.Equal(t, uint64(200), cursor)
	})
}

func testProjectionCursor(t *testing.T, store Store) {
	ctx := context.Background()

	position, err := store.GetProjectionCursor(ctx, testChain)
	require.NoError(t, err)
	assert.True(t, position.IsZero())

	require.NoError(t, store.SetProjectionCursor(ctx, testChain, domain.EventPosition{BlockNumber: 10, LogIndex: 2}))
	require.NoError(t, store.SetProjectionCursor(ctx, testChain, domain.EventPosition{BlockNumber: 12, LogIndex: 0}))

	position, err = store.GetProjectionCursor(ctx, testChain)
	require.NoError(t, err)
	assert.Equal(t, domain.EventPosition{BlockNumber: 12, LogIndex: 0}, position)

	position, err = store.GetProjectionCursor(ctx, domain.ChainEthereumSepolia)
	require.NoError(t, err)
	assert.True(t, position.IsZero())
}

// RunStoreTests runs all store tests against the given store implementation
func RunStoreTests(t *testing.T, initDB func(t *testing.T) Store, cleanupDB func(t *testing.T)) {
	tests := []struct {
		name string
		fn   func(*testing.T, Store)
	}{
		{"ApplyListed", testApplyListed},
		{"ApplyListingCanceled", testApplyListingCanceled},
		{"ApplyPurchased", testApplyPurchased},
		{"ApplyTransfer", testApplyTransfer},
		{"GetListings", testGetListings},
		{"GetSales", testGetSales},
		{"GetAgentOwnerships", testGetAgentOwnerships},
		{"BlockCursor", testBlockCursor},
		{"ProjectionCursor", testProjectionCursor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := initDB(t)
			defer cleanupDB(t)
			tt.fn(t, store)
		})
	}
}
