package marketplace

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"go.uber.org/zap"

	"github.com/feral-file/ff-agent-market/internal/domain"
	"github.com/feral-file/ff-agent-market/internal/ledger"
	"github.com/feral-file/ff-agent-market/internal/logger"
	"github.com/feral-file/ff-agent-market/internal/query"
)

var (
	// ErrInvalidListing is returned for listings without an id or a price
	ErrInvalidListing = errors.New("invalid listing")
	// ErrInvalidPrice is returned when a listing price is not a positive amount of wei
	ErrInvalidPrice = errors.New("invalid price")
	// ErrMissingEvent is returned when an included transaction did not emit the expected event
	ErrMissingEvent = errors.New("transaction emitted no matching event")
)

// ListOptions tunes a List call
type ListOptions struct {
	// Approve approves the marketplace for the token first when it is not approved yet
	Approve bool
}

// Service issues marketplace calls against the ledger.
// Ledger rejections are returned as *ledger.RejectionError and are never retried.
type Service interface {
	// Buy purchases a listing, attaching exactly its price
	Buy(ctx context.Context, listing query.Listing) (*ledger.TxResult, error)
	// List offers a token at a price and returns the new listing id
	List(ctx context.Context, tokenID, price *big.Int, opts ListOptions) (*big.Int, error)
	// Cancel withdraws a listing
	Cancel(ctx context.Context, listingID *big.Int) (*ledger.TxResult, error)
	// Approve approves the marketplace to move a token
	Approve(ctx context.Context, tokenID *big.Int) (*ledger.TxResult, error)
	// MintAgent mints an agent and returns its token id
	MintAgent(ctx context.Context, to string, agent domain.AgentMetadata) (*big.Int, error)
	// SetMarketplace points the NFT contract at the address allowed to mint
	SetMarketplace(ctx context.Context, marketplace string) error
	// Agent reads the on-chain metadata of a token
	Agent(ctx context.Context, tokenID *big.Int) (*domain.AgentMetadata, error)
	// Account returns the signing address
	Account() string
}

type service struct {
	ledger ledger.Ledger
}

// NewService creates a marketplace service on top of a ledger
func NewService(l ledger.Ledger) Service {
	return &service{ledger: l}
}

func (s *service) Account() string {
	return s.ledger.Account()
}

func (s *service) Buy(ctx context.Context, listing query.Listing) (*ledger.TxResult, error) {
	if listing.ID == "" || listing.Price == nil {
		return nil, ErrInvalidListing
	}
	listingID, err := domain.ParseBigInt(listing.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidListing, err)
	}

	logger.InfoCtx(ctx, "Buying listing",
		zap.String("listingID", listing.ID),
		zap.String("price", listing.Price.String()),
		zap.String("buyer", s.ledger.Account()),
	)

	result, err := s.ledger.BuyListing(ctx, listingID, new(big.Int).Set(listing.Price))
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) List(ctx context.Context, tokenID, price *big.Int, opts ListOptions) (*big.Int, error) {
	if tokenID == nil || tokenID.Sign() < 0 {
		return nil, fmt.Errorf("%w: token id", domain.ErrInvalidAmount)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}

	if opts.Approve {
		if err := s.ensureApproved(ctx, tokenID); err != nil {
			return nil, err
		}
	}

	result, err := s.ledger.ListAgent(ctx, tokenID, price)
	if err != nil {
		return nil, err
	}

	listingID, ok := result.ListingID()
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrMissingEvent, domain.EventTypeListed, result.TxHash)
	}

	logger.InfoCtx(ctx, "Listed agent",
		zap.String("listingID", listingID.String()),
		zap.String("tokenID", tokenID.String()),
		zap.String("price", price.String()),
	)
	return listingID, nil
}

// ensureApproved approves the marketplace unless it already is
func (s *service) ensureApproved(ctx context.Context, tokenID *big.Int) error {
	approved, err := s.ledger.GetApproved(ctx, tokenID)
	if err != nil {
		return fmt.Errorf("failed to read approval of token %s: %w", tokenID, err)
	}
	if strings.EqualFold(approved, s.ledger.MarketplaceAddress()) {
		return nil
	}

	_, err = s.Approve(ctx, tokenID)
	return err
}

func (s *service) Cancel(ctx context.Context, listingID *big.Int) (*ledger.TxResult, error) {
	if listingID == nil || listingID.Sign() < 0 {
		return nil, ErrInvalidListing
	}
	return s.ledger.CancelListing(ctx, listingID)
}

func (s *service) Approve(ctx context.Context, tokenID *big.Int) (*ledger.TxResult, error) {
	if tokenID == nil {
		return nil, fmt.Errorf("%w: token id", domain.ErrInvalidAmount)
	}
	return s.ledger.Approve(ctx, s.ledger.MarketplaceAddress(), tokenID)
}

func (s *service) MintAgent(ctx context.Context, to string, agent domain.AgentMetadata) (*big.Int, error) {
	result, err := s.ledger.MintAgent(ctx, to, agent)
	if err != nil {
		return nil, err
	}

	tokenID, ok := result.MintedTokenID()
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrMissingEvent, domain.EventTypeTransfer, result.TxHash)
	}
	return tokenID, nil
}

func (s *service) SetMarketplace(ctx context.Context, marketplace string) error {
	return s.ledger.SetMarketplace(ctx, marketplace)
}

func (s *service) Agent(ctx context.Context, tokenID *big.Int) (*domain.AgentMetadata, error) {
	return s.ledger.GetAgent(ctx, tokenID)
}
