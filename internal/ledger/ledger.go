package ledger

import (
	"context"
	"math/big"

	"github.com/feral-file/ff-agent-market/internal/domain"
)

// Ledger is the call surface of the NFT and marketplace contract pair.
// Write calls return once the transaction is included; the contract logic is opaque to callers.
//
//go:generate mockgen -source=ledger.go -destination=../mocks/ledger.go -package=mocks -mock_names=Ledger=MockLedger
type Ledger interface {
	// Account returns the address the ledger signs calls with
	Account() string

	// MintAgent mints a new agent NFT to the given address (marketplace only)
	MintAgent(ctx context.Context, to string, agent domain.AgentMetadata) (*TxResult, error)
	// SetMarketplace sets the address allowed to mint (contract owner only)
	SetMarketplace(ctx context.Context, marketplace string) error
	// Approve approves an operator for a single token
	Approve(ctx context.Context, operator string, tokenID *big.Int) (*TxResult, error)
	// ListAgent escrows the token in the marketplace and creates a listing
	ListAgent(ctx context.Context, tokenID, price *big.Int) (*TxResult, error)
	// CancelListing cancels an active listing and returns the token to its seller
	CancelListing(ctx context.Context, listingID *big.Int) (*TxResult, error)
	// BuyListing purchases a listing, attaching value as payment
	BuyListing(ctx context.Context, listingID, value *big.Int) (*TxResult, error)

	GetAgent(ctx context.Context, tokenID *big.Int) (*domain.AgentMetadata, error)
	GetApproved(ctx context.Context, tokenID *big.Int) (string, error)
	OwnerOf(ctx context.Context, tokenID *big.Int) (string, error)
	TotalMinted(ctx context.Context) (*big.Int, error)
	NextListingID(ctx context.Context) (*big.Int, error)

	// MarketplaceAddress returns the address of the marketplace contract
	MarketplaceAddress() string
}

// TxResult is an included transaction and the projected events it emitted
type TxResult struct {
	TxHash      string
	BlockNumber uint64
	Events      []*domain.LedgerEvent
}

// Event returns the first event of the given type, or nil
func (r *TxResult) Event(eventType domain.EventType) *domain.LedgerEvent {
	if r == nil {
		return nil
	}
	for _, e := range r.Events {
		if e.EventType == eventType {
			return e
		}
	}
	return nil
}

// ListingID returns the id of the listing created by a listAgent transaction
func (r *TxResult) ListingID() (*big.Int, bool) {
	e := r.Event(domain.EventTypeListed)
	if e == nil {
		return nil, false
	}
	id, err := domain.ParseBigInt(e.ListingID)
	return id, err == nil
}

// MintedTokenID returns the id of the token minted by a mintAgent transaction
func (r *TxResult) MintedTokenID() (*big.Int, bool) {
	if r == nil {
		return nil, false
	}
	for _, e := range r.Events {
		if e.EventType == domain.EventTypeTransfer && e.FromAddress == domain.ETHEREUM_ZERO_ADDRESS {
			id, err := domain.ParseBigInt(e.TokenID)
			return id, err == nil
		}
	}
	return nil, false
}
