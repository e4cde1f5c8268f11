package schema

import "time"

// Listing represents the listings table - an open or closed offer to sell one agent NFT
type Listing struct {
	// ID is the on-chain listing counter (decimal)
	ID string `gorm:"column:id;primaryKey;type:numeric(78,0)"`
	// Seller is the checksummed address that created the listing
	Seller string `gorm:"column:seller;not null;type:text"`
	// TokenID is the agent NFT offered by this listing
	TokenID string `gorm:"column:token_id;not null;type:numeric(78,0)"`
	// Price is the asking price in wei
	Price string `gorm:"column:price;not null;type:numeric(78,0)"`
	// Active turns false once the listing is canceled or purchased and never back
	Active bool `gorm:"column:active;not null"`
	// CreatedAt is the block timestamp of the Listed event
	CreatedAt time.Time `gorm:"column:created_at;not null;type:timestamptz;autoCreateTime:false"`
	// TxHash is the transaction that created the listing
	TxHash string `gorm:"column:tx_hash;not null;type:text"`
	// UpdatedAt is the time this row was last projected
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the Listing model
func (Listing) TableName() string {
	return "listings"
}
