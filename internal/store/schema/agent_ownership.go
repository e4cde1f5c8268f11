package schema

import "time"

// AgentOwnership represents the agent_ownerships table - latest known owner per token
type AgentOwnership struct {
	// ID is the token id
	ID string `gorm:"column:id;primaryKey;type:numeric(78,0)"`
	// Owner is the recipient of the latest transfer
	Owner string `gorm:"column:owner;not null;type:text"`
	// UpdatedAt is the block timestamp of the latest transfer
	UpdatedAt time.Time `gorm:"column:updated_at;not null;type:timestamptz;autoUpdateTime:false"`
	// BlockNumber and LogIndex locate the transfer that set Owner
	BlockNumber uint64 `gorm:"column:block_number;not null;type:bigint"`
	LogIndex    uint64 `gorm:"column:log_index;not null;type:bigint"`
}

// TableName specifies the table name for the AgentOwnership model
func (AgentOwnership) TableName() string {
	return "agent_ownerships"
}
