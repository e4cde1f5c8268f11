// Package ledgertest provides an in-memory ledger that enforces the rejection
// rules of the contract pair. It backs scenario tests and local development.
package ledgertest

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/feral-file/ff-agent-market/internal/domain"
	"github.com/feral-file/ff-agent-market/internal/ledger"
	"github.com/feral-file/ff-agent-market/internal/messaging"
)

const blockTime = 12 * time.Second

// DefaultDeployer is the first anvil account
const DefaultDeployer = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

// Default anvil addresses of the contract pair deployed by the first account
var (
	DefaultNFTAddress         = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	DefaultMarketplaceAddress = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
)

// Config holds the configuration of the simulator
type Config struct {
	Chain      domain.Chain
	Deployer   string
	GenesisAt  time.Time
	StartBlock uint64
}

type listing struct {
	seller  string
	tokenID *big.Int
	price   *big.Int
	active  bool
}

// Simulator is an in-memory NFT and escrowing marketplace contract pair.
// Every successful write is mined in its own block. Failed writes leave state untouched.
type Simulator struct {
	mu sync.Mutex

	chain       domain.Chain
	nftAddr     string
	marketAddr  string
	owner       string
	marketplace string

	owners    map[string]string
	approvals map[string]string
	agents    map[string]domain.AgentMetadata
	minted    *big.Int

	listings      map[string]*listing
	nextListingID *big.Int

	balances map[string]*big.Int

	block     uint64
	blockTime time.Time
	nonce     uint64
	events    []*domain.LedgerEvent
	updated   chan struct{}
	closed    bool
}

var _ messaging.Subscriber = (*Simulator)(nil)

// NewSimulator deploys the contract pair: NFT, marketplace, then setMarketplace
func NewSimulator(cfg Config) *Simulator {
	if cfg.Chain == "" {
		cfg.Chain = domain.ChainLocalDevnet
	}
	if cfg.Deployer == "" {
		cfg.Deployer = DefaultDeployer
	}
	if cfg.GenesisAt.IsZero() {
		cfg.GenesisAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	return &Simulator{
		chain:         cfg.Chain,
		nftAddr:       DefaultNFTAddress.Hex(),
		marketAddr:    DefaultMarketplaceAddress.Hex(),
		owner:         normalize(cfg.Deployer),
		marketplace:   DefaultMarketplaceAddress.Hex(),
		owners:        make(map[string]string),
		approvals:     make(map[string]string),
		agents:        make(map[string]domain.AgentMetadata),
		minted:        new(big.Int),
		listings:      make(map[string]*listing),
		nextListingID: big.NewInt(1),
		balances:      make(map[string]*big.Int),
		block:         cfg.StartBlock,
		blockTime:     cfg.GenesisAt.UTC(),
		updated:       make(chan struct{}),
	}
}

// Chain returns the chain the simulator reports events for
func (s *Simulator) Chain() domain.Chain {
	return s.chain
}

// NFTAddress returns the address of the NFT contract
func (s *Simulator) NFTAddress() string {
	return s.nftAddr
}

// As returns a ledger that signs calls as account
func (s *Simulator) As(account string) ledger.Ledger {
	return &accountLedger{sim: s, account: normalize(account)}
}

// Mint mints an agent to an account the way the deploy scripts do: the deployer
// points the NFT at itself, mints, then restores the marketplace
func (s *Simulator) Mint(ctx context.Context, to string, agent domain.AgentMetadata) (*big.Int, error) {
	deployer := s.As(s.owner)
	if err := deployer.SetMarketplace(ctx, s.owner); err != nil {
		return nil, err
	}
	result, mintErr := deployer.MintAgent(ctx, to, agent)
	if err := deployer.SetMarketplace(ctx, s.marketAddr); err != nil {
		return nil, err
	}
	if mintErr != nil {
		return nil, mintErr
	}

	tokenID, ok := result.MintedTokenID()
	if !ok {
		return nil, fmt.Errorf("mint emitted no transfer")
	}
	return tokenID, nil
}

// Fund credits wei to an account
func (s *Simulator) Fund(account string, wei *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balanceOf(normalize(account)).Add(s.balanceOf(normalize(account)), wei)
}

// Balance returns the wei balance of an account
func (s *Simulator) Balance(account string) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.balanceOf(normalize(account)))
}

// Events returns every event emitted so far in canonical order
func (s *Simulator) Events() []*domain.LedgerEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneEvents(s.events)
}

// EventCount returns the number of events emitted so far
func (s *Simulator) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// SubscribeEvents replays events from fromBlock and then follows new blocks until ctx is done
func (s *Simulator) SubscribeEvents(ctx context.Context, fromBlock uint64, handler messaging.EventHandler) error {
	next := 0
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil
		}
		pending := cloneEvents(s.events[next:])
		next = len(s.events)
		updated := s.updated
		s.mu.Unlock()

		for _, event := range pending {
			if event.BlockNumber < fromBlock {
				continue
			}
			if err := handler(event); err != nil {
				return fmt.Errorf("failed to handle event %s: %w", event.ID(), err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-updated:
		}
	}
}

// GetLatestBlock returns the number of the last mined block
func (s *Simulator) GetLatestBlock(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.block, nil
}

// Close stops every subscription
func (s *Simulator) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.updated)
}

// tx is a pending transaction. Events are only committed when the call succeeds.
type tx struct {
	hash   string
	events []*domain.LedgerEvent
}

func (s *Simulator) beginTx(from string) *tx {
	s.nonce++
	hash := crypto.Keccak256Hash([]byte(from), new(big.Int).SetUint64(s.nonce).Bytes()).Hex()
	return &tx{hash: hash}
}

func (t *tx) emit(event domain.LedgerEvent) {
	e := event
	e.TxHash = t.hash
	e.LogIndex = uint64(len(t.events))
	t.events = append(t.events, &e)
}

// mine commits the transaction in a new block and wakes up subscribers
func (s *Simulator) mine(t *tx) *ledger.TxResult {
	s.block++
	s.blockTime = s.blockTime.Add(blockTime)
	blockHash := crypto.Keccak256Hash(new(big.Int).SetUint64(s.block).Bytes()).Hex()

	for _, e := range t.events {
		e.Chain = s.chain
		e.BlockNumber = s.block
		e.BlockHash = blockHash
		e.Timestamp = s.blockTime
		s.events = append(s.events, e)
	}

	if !s.closed {
		close(s.updated)
		s.updated = make(chan struct{})
	}

	return &ledger.TxResult{TxHash: t.hash, BlockNumber: s.block, Events: cloneEvents(t.events)}
}

func (s *Simulator) transfer(t *tx, from, to string, tokenID *big.Int) {
	key := tokenID.String()
	s.owners[key] = to
	delete(s.approvals, key)
	t.emit(domain.LedgerEvent{
		ContractAddress: s.nftAddr,
		EventType:       domain.EventTypeTransfer,
		FromAddress:     from,
		ToAddress:       to,
		TokenID:         key,
	})
}

func (s *Simulator) balanceOf(account string) *big.Int {
	b, ok := s.balances[account]
	if !ok {
		b = new(big.Int)
		s.balances[account] = b
	}
	return b
}

func (s *Simulator) mintAgent(from, to string, agent domain.AgentMetadata) (*ledger.TxResult, error) {
	if from != s.marketplace {
		return nil, ledger.Reject("mintAgent", ledger.ReasonOnlyMarketplace)
	}
	if !common.IsHexAddress(to) || normalize(to) == domain.ETHEREUM_ZERO_ADDRESS {
		return nil, ledger.Reject("mintAgent", "invalid receiver")
	}

	t := s.beginTx(from)
	s.minted.Add(s.minted, big.NewInt(1))
	tokenID := new(big.Int).Set(s.minted)
	agent.Capabilities = append([]string(nil), agent.Capabilities...)
	s.agents[tokenID.String()] = agent
	s.transfer(t, domain.ETHEREUM_ZERO_ADDRESS, normalize(to), tokenID)
	return s.mine(t), nil
}

func (s *Simulator) setMarketplace(from, marketplace string) error {
	if from != s.owner {
		return ledger.Reject("setMarketplace", ledger.ReasonOnlyOwner)
	}
	s.marketplace = normalize(marketplace)
	s.mine(s.beginTx(from))
	return nil
}

func (s *Simulator) approve(from, operator string, tokenID *big.Int) (*ledger.TxResult, error) {
	owner, ok := s.owners[tokenID.String()]
	if !ok {
		return nil, ledger.Reject("approve", ledger.ReasonNoToken)
	}
	if owner != from {
		return nil, ledger.Reject("approve", ledger.ReasonNotOwner)
	}

	t := s.beginTx(from)
	s.approvals[tokenID.String()] = normalize(operator)
	return s.mine(t), nil
}

func (s *Simulator) listAgent(from string, tokenID, price *big.Int) (*ledger.TxResult, error) {
	key := tokenID.String()
	owner, ok := s.owners[key]
	if !ok {
		return nil, ledger.Reject("listAgent", ledger.ReasonNoToken)
	}
	if owner != from {
		return nil, ledger.Reject("listAgent", ledger.ReasonNotOwner)
	}
	if s.approvals[key] != s.marketAddr {
		return nil, ledger.Reject("listAgent", ledger.ReasonNotApproved)
	}
	if price.Sign() <= 0 {
		return nil, ledger.Reject("listAgent", ledger.ReasonZeroPrice)
	}

	t := s.beginTx(from)
	listingID := new(big.Int).Set(s.nextListingID)
	s.nextListingID.Add(s.nextListingID, big.NewInt(1))
	s.listings[listingID.String()] = &listing{
		seller:  from,
		tokenID: new(big.Int).Set(tokenID),
		price:   new(big.Int).Set(price),
		active:  true,
	}

	// The token is held in escrow by the marketplace while listed
	s.transfer(t, from, s.marketAddr, tokenID)
	t.emit(domain.LedgerEvent{
		ContractAddress: s.marketAddr,
		EventType:       domain.EventTypeListed,
		ListingID:       listingID.String(),
		Seller:          from,
		TokenID:         key,
		Price:           price.String(),
	})
	return s.mine(t), nil
}

func (s *Simulator) cancelListing(from string, listingID *big.Int) (*ledger.TxResult, error) {
	l, ok := s.listings[listingID.String()]
	if !ok || !l.active {
		return nil, ledger.Reject("cancelListing", ledger.ReasonNotActive)
	}
	if l.seller != from {
		return nil, ledger.Reject("cancelListing", ledger.ReasonNotSeller)
	}

	t := s.beginTx(from)
	l.active = false
	s.transfer(t, s.marketAddr, l.seller, l.tokenID)
	t.emit(domain.LedgerEvent{
		ContractAddress: s.marketAddr,
		EventType:       domain.EventTypeListingCanceled,
		ListingID:       listingID.String(),
	})
	return s.mine(t), nil
}

func (s *Simulator) buyListing(from string, listingID, value *big.Int) (*ledger.TxResult, error) {
	if value == nil {
		value = new(big.Int)
	}
	l, ok := s.listings[listingID.String()]
	if !ok || !l.active {
		return nil, ledger.Reject("buyListing", ledger.ReasonNotActive)
	}
	if value.Cmp(l.price) != 0 {
		return nil, ledger.Reject("buyListing", ledger.ReasonBadPrice)
	}
	if s.balanceOf(from).Cmp(value) < 0 {
		return nil, ledger.Reject("buyListing", ledger.ReasonInsufficient)
	}

	t := s.beginTx(from)
	l.active = false
	s.balanceOf(from).Sub(s.balanceOf(from), value)
	s.balanceOf(l.seller).Add(s.balanceOf(l.seller), value)
	s.transfer(t, s.marketAddr, from, l.tokenID)
	t.emit(domain.LedgerEvent{
		ContractAddress: s.marketAddr,
		EventType:       domain.EventTypePurchased,
		ListingID:       listingID.String(),
		Buyer:           from,
		Seller:          l.seller,
		Price:           value.String(),
	})
	return s.mine(t), nil
}

func normalize(address string) string {
	if strings.EqualFold(address, domain.ETHEREUM_ZERO_ADDRESS) {
		return domain.ETHEREUM_ZERO_ADDRESS
	}
	return domain.NormalizeAddress(address)
}

func cloneEvents(events []*domain.LedgerEvent) []*domain.LedgerEvent {
	out := make([]*domain.LedgerEvent, len(events))
	for i, e := range events {
		c := *e
		out[i] = &c
	}
	return out
}
