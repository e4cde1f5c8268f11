package domain

import (
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Chain represents the blockchain network identifier using CAIP-2 format
type Chain string

const (
	ChainEthereumMainnet Chain = "eip155:1"
	ChainEthereumSepolia Chain = "eip155:11155111"
	ChainBaseSepolia     Chain = "eip155:84532"
	ChainLocalDevnet     Chain = "eip155:31337"
)

var chainPattern = regexp.MustCompile(`^eip155:[1-9][0-9]*$`)

// IsValidChain checks if a chain is a valid EVM CAIP-2 identifier
func IsValidChain(chain Chain) bool {
	return chainPattern.MatchString(string(chain))
}

// ChainID returns the numeric EIP-155 chain id
func (c Chain) ChainID() (*big.Int, error) {
	if !IsValidChain(c) {
		return nil, fmt.Errorf("invalid chain: %s", c)
	}
	id, ok := new(big.Int).SetString(strings.TrimPrefix(string(c), "eip155:"), 10)
	if !ok {
		return nil, fmt.Errorf("invalid chain: %s", c)
	}
	return id, nil
}

// Slug returns a subject-safe representation of the chain (e.g. eip155-1)
func (c Chain) Slug() string {
	return strings.ReplaceAll(string(c), ":", "-")
}

// EventType represents the type of ledger event
type EventType string

const (
	EventTypeListed          EventType = "listed"
	EventTypeListingCanceled EventType = "listing_canceled"
	EventTypePurchased       EventType = "purchased"
	EventTypeTransfer        EventType = "transfer"
)

// EventTypes lists every event type the indexer projects
var EventTypes = []EventType{
	EventTypeListed,
	EventTypeListingCanceled,
	EventTypePurchased,
	EventTypeTransfer,
}

// LedgerEvent represents a normalized marketplace or NFT contract event.
// This is the standard format published to NATS.
type LedgerEvent struct {
	Chain           Chain     `json:"chain"`                  // e.g., "eip155:1"
	ContractAddress string    `json:"contract_address"`       // emitting contract
	EventType       EventType `json:"event_type"`             // listed, listing_canceled, purchased, transfer
	ListingID       string    `json:"listing_id,omitempty"`   // listed, listing_canceled, purchased
	TokenID         string    `json:"token_id,omitempty"`     // listed, transfer
	Seller          string    `json:"seller,omitempty"`       // listed, purchased
	Buyer           string    `json:"buyer,omitempty"`        // purchased
	FromAddress     string    `json:"from_address,omitempty"` // transfer
	ToAddress       string    `json:"to_address,omitempty"`   // transfer
	Price           string    `json:"price,omitempty"`        // wei, decimal string
	TxHash          string    `json:"tx_hash"`
	TxIndex         uint64    `json:"tx_index"`
	BlockNumber     uint64    `json:"block_number"`
	BlockHash       string    `json:"block_hash,omitempty"`
	LogIndex        uint64    `json:"log_index"`
	Timestamp       time.Time `json:"timestamp"` // block timestamp
}

// ID returns the deterministic identifier of the event: <txHash>-<logIndex>
func (e *LedgerEvent) ID() string {
	return EventID(e.TxHash, e.LogIndex)
}

// Position returns the canonical ordering position of the event
func (e *LedgerEvent) Position() EventPosition {
	return EventPosition{BlockNumber: e.BlockNumber, LogIndex: e.LogIndex}
}

// Validate checks that the event carries the fields its type requires
func (e *LedgerEvent) Validate() error {
	if e.TxHash == "" {
		return fmt.Errorf("%w: missing tx hash", ErrInvalidEvent)
	}

	switch e.EventType {
	case EventTypeListed:
		if !IsNumeric(e.ListingID) || !IsNumeric(e.TokenID) || !IsNumeric(e.Price) || e.Seller == "" {
			return fmt.Errorf("%w: listed event requires listing id, token id, price and seller", ErrInvalidEvent)
		}
	case EventTypeListingCanceled:
		if !IsNumeric(e.ListingID) {
			return fmt.Errorf("%w: listing_canceled event requires listing id", ErrInvalidEvent)
		}
	case EventTypePurchased:
		if !IsNumeric(e.ListingID) || !IsNumeric(e.Price) || e.Buyer == "" || e.Seller == "" {
			return fmt.Errorf("%w: purchased event requires listing id, price, buyer and seller", ErrInvalidEvent)
		}
	case EventTypeTransfer:
		if !IsNumeric(e.TokenID) || e.FromAddress == "" || e.ToAddress == "" {
			return fmt.Errorf("%w: transfer event requires token id, from and to", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownEventType, e.EventType)
	}

	return nil
}

// EventID builds the deterministic identifier used for sales, transfers and audit rows
func EventID(txHash string, logIndex uint64) string {
	return fmt.Sprintf("%s-%d", strings.ToLower(txHash), logIndex)
}

// EventPosition is the canonical order of an event: block number, then log index
type EventPosition struct {
	BlockNumber uint64 `json:"block_number"`
	LogIndex    uint64 `json:"log_index"`
}

// Less reports whether p comes strictly before o in canonical order
func (p EventPosition) Less(o EventPosition) bool {
	if p.BlockNumber != o.BlockNumber {
		return p.BlockNumber < o.BlockNumber
	}
	return p.LogIndex < o.LogIndex
}

// IsZero reports whether the position is unset
func (p EventPosition) IsZero() bool {
	return p.BlockNumber == 0 && p.LogIndex == 0
}

func (p EventPosition) String() string {
	return fmt.Sprintf("%d:%d", p.BlockNumber, p.LogIndex)
}

// ParseEventPosition parses a position in the <block>:<logIndex> format
func ParseEventPosition(s string) (EventPosition, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return EventPosition{}, fmt.Errorf("invalid event position: %s", s)
	}
	block, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return EventPosition{}, fmt.Errorf("invalid block number in position %s: %w", s, err)
	}
	logIndex, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return EventPosition{}, fmt.Errorf("invalid log index in position %s: %w", s, err)
	}
	return EventPosition{BlockNumber: block, LogIndex: logIndex}, nil
}

// NormalizeAddress returns the EIP-55 checksummed form of an address.
// Invalid input is returned unchanged so it can be rejected downstream.
func NormalizeAddress(address string) string {
	if !common.IsHexAddress(address) {
		return address
	}
	return common.HexToAddress(address).Hex()
}

// AgentMetadata is the on-chain description of an agent NFT
type AgentMetadata struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Model        string   `json:"model"`
	Capabilities []string `json:"capabilities"`
	License      string   `json:"license"`
}
