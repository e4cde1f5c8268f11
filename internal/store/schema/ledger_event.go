package schema

import (
	"time"

	"gorm.io/datatypes"

	"github.com/feral-file/ff-agent-market/internal/domain"
)

// LedgerEvent represents the ledger_events table - audit trail of every projected event.
// The unique (chain, tx_hash, log_index) key is what makes exact replays a no-op.
type LedgerEvent struct {
	// ID is the internal database primary key
	ID uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	// Chain identifies the blockchain network where this event occurred
	Chain domain.Chain `gorm:"column:chain;not null;type:text;uniqueIndex:idx_ledger_events_chain_tx_log"`
	// EventType identifies the projected event (listed, listing_canceled, purchased, transfer)
	EventType domain.EventType `gorm:"column:event_type;not null;type:text"`
	// TxHash is the transaction hash that emitted this event
	TxHash string `gorm:"column:tx_hash;not null;type:text;uniqueIndex:idx_ledger_events_chain_tx_log"`
	// LogIndex is the position of the log within its block
	LogIndex uint64 `gorm:"column:log_index;not null;type:bigint;uniqueIndex:idx_ledger_events_chain_tx_log"`
	// BlockNumber is the block number where this event was recorded
	BlockNumber uint64 `gorm:"column:block_number;not null;type:bigint"`
	// Timestamp is the block timestamp of the event
	Timestamp time.Time `gorm:"column:timestamp;not null;type:timestamptz"`
	// Raw contains the complete normalized event as JSON for debugging and analysis
	Raw datatypes.JSON `gorm:"column:raw;type:jsonb"`
	// CreatedAt is the timestamp when this event was projected
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the LedgerEvent model
func (LedgerEvent) TableName() string {
	return "ledger_events"
}
