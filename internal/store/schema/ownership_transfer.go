package schema

import "time"

// OwnershipTransfer represents the ownership_transfers table - immutable transfer history
type OwnershipTransfer struct {
	// ID is <txHash>-<logIndex> of the Transfer event
	ID string `gorm:"column:id;primaryKey;type:text"`
	// TokenID is the transferred agent NFT
	TokenID string `gorm:"column:token_id;not null;type:numeric(78,0)"`
	// FromAddress is the previous owner (zero address on mint)
	FromAddress string `gorm:"column:from_address;not null;type:text"`
	// ToAddress is the new owner
	ToAddress string `gorm:"column:to_address;not null;type:text"`
	// Timestamp is the block timestamp of the transfer
	Timestamp time.Time `gorm:"column:timestamp;not null;type:timestamptz"`
	// TxHash is the transfer transaction
	TxHash string `gorm:"column:tx_hash;not null;type:text"`
	// BlockNumber and LogIndex keep the canonical order of transfers
	BlockNumber uint64 `gorm:"column:block_number;not null;type:bigint"`
	LogIndex    uint64 `gorm:"column:log_index;not null;type:bigint"`
}

// TableName specifies the table name for the OwnershipTransfer model
func (OwnershipTransfer) TableName() string {
	return "ownership_transfers"
}
