package store

import (
	"context"
	"time"

	"gorm.io/datatypes"

	"github.com/feral-file/ff-agent-market/internal/domain"
	"github.com/feral-file/ff-agent-market/internal/store/schema"
)

// Store defines the interface for database operations
type Store interface {
	// =============================================================================
	// Projection (writes)
	// =============================================================================

	// ApplyListed creates or overwrites a listing. An existing inactive listing stays inactive.
	ApplyListed(ctx context.Context, input ListedInput) (ApplyResult, error)
	// ApplyListingCanceled marks a listing inactive. Unknown listings are a no-op.
	ApplyListingCanceled(ctx context.Context, input ListingCanceledInput) (ApplyResult, error)
	// ApplyPurchased records a sale and marks its listing inactive
	ApplyPurchased(ctx context.Context, input PurchasedInput) (ApplyResult, error)
	// ApplyTransfer appends a transfer and moves the ownership forward if the transfer is newer
	ApplyTransfer(ctx context.Context, input TransferInput) (ApplyResult, error)

	// =============================================================================
	// Reads
	// =============================================================================

	// GetListing retrieves a listing by its on-chain id
	GetListing(ctx context.Context, id string) (*schema.Listing, error)
	// GetListings retrieves listings with optional filters
	GetListings(ctx context.Context, filter ListingQueryFilter) ([]*schema.Listing, error)
	// GetSale retrieves a sale by its id (<txHash>-<logIndex>)
	GetSale(ctx context.Context, id string) (*schema.Sale, error)
	// GetSales retrieves sales with optional filters
	GetSales(ctx context.Context, filter SaleQueryFilter) ([]*schema.Sale, error)
	// GetAgentOwnership retrieves the current owner of a token
	GetAgentOwnership(ctx context.Context, tokenID string) (*schema.AgentOwnership, error)
	// GetAgentOwnerships retrieves ownerships with optional filters
	GetAgentOwnerships(ctx context.Context, filter AgentOwnershipQueryFilter) ([]*schema.AgentOwnership, error)
	// GetOwnershipTransfers retrieves transfer history with optional filters
	GetOwnershipTransfers(ctx context.Context, filter OwnershipTransferQueryFilter) ([]*schema.OwnershipTransfer, error)

	// =============================================================================
	// Cursors
	// =============================================================================

	CursorStore
	// GetProjectionCursor retrieves the position of the last applied event for a chain
	GetProjectionCursor(ctx context.Context, chain domain.Chain) (domain.EventPosition, error)
	// SetProjectionCursor stores the position of the last applied event for a chain
	SetProjectionCursor(ctx context.Context, chain domain.Chain, position domain.EventPosition) error
}

// EventMeta carries the fields shared by every projected event
type EventMeta struct {
	Chain       domain.Chain
	EventType   domain.EventType
	TxHash      string
	LogIndex    uint64
	BlockNumber uint64
	Timestamp   time.Time
	Raw         datatypes.JSON
}

// ID returns the deterministic event id <txHash>-<logIndex>
func (m EventMeta) ID() string {
	return domain.EventID(m.TxHash, m.LogIndex)
}

// Position returns the canonical position of the event
func (m EventMeta) Position() domain.EventPosition {
	return domain.EventPosition{BlockNumber: m.BlockNumber, LogIndex: m.LogIndex}
}

// ListedInput represents the data of a Listed event
type ListedInput struct {
	Meta      EventMeta
	ListingID string
	Seller    string
	TokenID   string
	Price     string
}

// ListingCanceledInput represents the data of a ListingCanceled event
type ListingCanceledInput struct {
	Meta      EventMeta
	ListingID string
}

// PurchasedInput represents the data of a Purchased event
type PurchasedInput struct {
	Meta      EventMeta
	ListingID string
	Buyer     string
	Seller    string
	Price     string
}

// TransferInput represents the data of a Transfer event
type TransferInput struct {
	Meta    EventMeta
	TokenID string
	From    string
	To      string
}

// ApplyResult describes what an apply did beyond succeeding
type ApplyResult struct {
	// Duplicate is set when the exact event was already applied; nothing was written
	Duplicate bool
	// Noop is set when the event referenced a listing that does not exist
	Noop bool
	// Degraded is set when a sale was recorded without its listing (token id unknown)
	Degraded bool
	// Stale is set when a transfer was older than the known ownership; history was still appended
	Stale bool
}

// ListingOrderBy is a sortable listing column
type ListingOrderBy string

const (
	ListingOrderByID        ListingOrderBy = "id"
	ListingOrderByCreatedAt ListingOrderBy = "created_at"
	ListingOrderByPrice     ListingOrderBy = "price"
	ListingOrderByTokenID   ListingOrderBy = "token_id"
)

// SaleOrderBy is a sortable sale column
type SaleOrderBy string

const (
	SaleOrderByTimestamp SaleOrderBy = "timestamp"
	SaleOrderByPrice     SaleOrderBy = "price"
)

const (
	// DEFAULT_QUERY_LIMIT is used when a filter does not set a limit
	DEFAULT_QUERY_LIMIT = 100
	// MAX_QUERY_LIMIT caps any filter limit
	MAX_QUERY_LIMIT = 1000
)

// ListingQueryFilter represents filters for listing queries
type ListingQueryFilter struct {
	Active  *bool
	Seller  *string
	TokenID *string
	// OrderBy defaults to created_at; ties are always broken by id in the same direction
	OrderBy   ListingOrderBy
	OrderDesc bool
	Limit     int
	Offset    int
}

// SaleQueryFilter represents filters for sale queries
type SaleQueryFilter struct {
	ListingID *string
	Buyer     *string
	Seller    *string
	TokenID   *string
	// OrderBy defaults to timestamp; ties are broken by block number and log index
	OrderBy   SaleOrderBy
	OrderDesc bool
	Limit     int
	Offset    int
}

// AgentOwnershipQueryFilter represents filters for ownership queries
type AgentOwnershipQueryFilter struct {
	Owner  *string
	Limit  int
	Offset int
}

// OwnershipTransferQueryFilter represents filters for transfer history queries.
// Results are ordered by block number and log index.
type OwnershipTransferQueryFilter struct {
	TokenID   *string
	From      *string
	To        *string
	OrderDesc bool
	Limit     int
	Offset    int
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DEFAULT_QUERY_LIMIT
	}
	if limit > MAX_QUERY_LIMIT {
		return MAX_QUERY_LIMIT
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

func blockCursorKey(chain string) string {
	return "block_cursor:" + chain
}

func projectionCursorKey(chain domain.Chain) string {
	return "projection_cursor:" + string(chain)
}
