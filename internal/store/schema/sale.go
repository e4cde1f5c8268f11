package schema

import (
	"time"

	"github.com/feral-file/ff-agent-market/internal/domain"
)

// Sale represents the sales table - one completed purchase, immutable once written
type Sale struct {
	// ID is <txHash>-<logIndex> of the Purchased event
	ID string `gorm:"column:id;primaryKey;type:text"`
	// ListingID is the listing that was purchased
	ListingID string `gorm:"column:listing_id;not null;type:numeric(78,0)"`
	// Buyer is the purchasing address
	Buyer string `gorm:"column:buyer;not null;type:text"`
	// Seller is the address that received payment
	Seller string `gorm:"column:seller;not null;type:text"`
	// Price is the amount paid in wei
	Price string `gorm:"column:price;not null;type:numeric(78,0)"`
	// TokenID is copied from the listing, or "0" when the listing was never projected
	TokenID string `gorm:"column:token_id;not null;type:numeric(78,0)"`
	// Timestamp is the block timestamp of the purchase
	Timestamp time.Time `gorm:"column:timestamp;not null;type:timestamptz"`
	// TxHash is the purchase transaction
	TxHash string `gorm:"column:tx_hash;not null;type:text"`
	// BlockNumber and LogIndex keep the canonical order of sales
	BlockNumber uint64 `gorm:"column:block_number;not null;type:bigint"`
	LogIndex    uint64 `gorm:"column:log_index;not null;type:bigint"`
	// CreatedAt is the timestamp when this sale was projected
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the Sale model
func (Sale) TableName() string {
	return "sales"
}

// TokenKnown reports whether the sale could be matched with its listing
func (s *Sale) TokenKnown() bool {
	return s.TokenID != domain.UNKNOWN_TOKEN_ID
}
