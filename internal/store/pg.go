package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/feral-file/ff-agent-market/internal/domain"
	"github.com/feral-file/ff-agent-market/internal/logger"
	"github.com/feral-file/ff-agent-market/internal/store/schema"
)

type pgStore struct {
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// ConfigureConnectionPool configures the connection pool settings for a GORM database connection.
// It accesses the underlying *sql.DB and sets the pool configuration.
// If any of the pool settings are 0 or empty, reasonable defaults are used:
//   - MaxOpenConns: 20 (if 0)
//   - MaxIdleConns: 5 (if 0)
//   - ConnMaxLifetime: 5 minutes (if 0)
//   - ConnMaxIdleTime: 10 minutes (if 0)
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime =
		NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime)

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// NormalizeConnectionPoolSettings applies defaults and clamps pool settings into safe values.
// The projector writes from a single goroutine, so the defaults are sized for the API readers.
func NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (int, int, time.Duration, time.Duration) {
	if maxOpenConns <= 0 {
		maxOpenConns = 20
	}
	if maxIdleConns <= 0 {
		maxIdleConns = 5
	}
	if connMaxLifetime <= 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime <= 0 {
		connMaxIdleTime = 10 * time.Minute
	}

	// Ensure MaxIdleConns doesn't exceed MaxOpenConns
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	return maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime
}

// recordLedgerEvent inserts the audit row of an event.
// It returns false when the event was already recorded.
func recordLedgerEvent(tx *gorm.DB, meta EventMeta) (bool, error) {
	event := schema.LedgerEvent{
		Chain:       meta.Chain,
		EventType:   meta.EventType,
		TxHash:      meta.TxHash,
		LogIndex:    meta.LogIndex,
		BlockNumber: meta.BlockNumber,
		Timestamp:   meta.Timestamp,
		Raw:         meta.Raw,
	}

	result := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chain"}, {Name: "tx_hash"}, {Name: "log_index"}},
		DoNothing: true,
	}).Clauses(clause.Returning{Columns: []clause.Column{}}).
		Create(&event)
	if result.Error != nil {
		return false, fmt.Errorf("failed to record ledger event: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

// ApplyListed creates or overwrites a listing in a single transaction with its audit row
func (s *pgStore) ApplyListed(ctx context.Context, input ListedInput) (ApplyResult, error) {
	var result ApplyResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := recordLedgerEvent(tx, input.Meta)
		if err != nil {
			return err
		}
		if !inserted {
			result.Duplicate = true
			return nil
		}

		listing := schema.Listing{
			ID:        input.ListingID,
			Seller:    domain.NormalizeAddress(input.Seller),
			TokenID:   input.TokenID,
			Price:     input.Price,
			Active:    true,
			CreatedAt: input.Meta.Timestamp,
			TxHash:    input.Meta.TxHash,
			UpdatedAt: time.Now().UTC(),
		}

		// The overwrite leaves active untouched so a closed listing is never reopened
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"seller", "token_id", "price", "created_at", "tx_hash", "updated_at"}),
		}).Create(&listing).Error; err != nil {
			return fmt.Errorf("failed to upsert listing: %w", err)
		}

		return nil
	})
	if err != nil {
		return ApplyResult{}, err
	}

	return result, nil
}

// ApplyListingCanceled marks a listing inactive in a single transaction with its audit row
func (s *pgStore) ApplyListingCanceled(ctx context.Context, input ListingCanceledInput) (ApplyResult, error) {
	var result ApplyResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := recordLedgerEvent(tx, input.Meta)
		if err != nil {
			return err
		}
		if !inserted {
			result.Duplicate = true
			return nil
		}

		update := tx.Model(&schema.Listing{}).
			Where("id = ?", input.ListingID).
			Updates(map[string]interface{}{
				"active":     false,
				"updated_at": time.Now().UTC(),
			})
		if update.Error != nil {
			return fmt.Errorf("failed to deactivate listing: %w", update.Error)
		}
		if update.RowsAffected == 0 {
			logger.DebugCtx(ctx, "Listing canceled before it was indexed",
				zap.String("listingID", input.ListingID),
				zap.String("txHash", input.Meta.TxHash))
			result.Noop = true
		}

		return nil
	})
	if err != nil {
		return ApplyResult{}, err
	}

	return result, nil
}

// ApplyPurchased records a sale and closes its listing in a single transaction with its audit row
func (s *pgStore) ApplyPurchased(ctx context.Context, input PurchasedInput) (ApplyResult, error) {
	var result ApplyResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := recordLedgerEvent(tx, input.Meta)
		if err != nil {
			return err
		}
		if !inserted {
			result.Duplicate = true
			return nil
		}

		tokenID := domain.UNKNOWN_TOKEN_ID
		var listing schema.Listing
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", input.ListingID).
			First(&listing).Error
		switch {
		case err == nil:
			tokenID = listing.TokenID
		case errors.Is(err, gorm.ErrRecordNotFound):
			result.Degraded = true
		default:
			return fmt.Errorf("failed to lock listing: %w", err)
		}

		sale := schema.Sale{
			ID:          input.Meta.ID(),
			ListingID:   input.ListingID,
			Buyer:       domain.NormalizeAddress(input.Buyer),
			Seller:      domain.NormalizeAddress(input.Seller),
			Price:       input.Price,
			TokenID:     tokenID,
			Timestamp:   input.Meta.Timestamp,
			TxHash:      input.Meta.TxHash,
			BlockNumber: input.Meta.BlockNumber,
			LogIndex:    input.Meta.LogIndex,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).Create(&sale).Error; err != nil {
			return fmt.Errorf("failed to create sale: %w", err)
		}

		if result.Degraded {
			return nil
		}

		if err := tx.Model(&schema.Listing{}).
			Where("id = ?", input.ListingID).
			Updates(map[string]interface{}{
				"active":     false,
				"updated_at": time.Now().UTC(),
			}).Error; err != nil {
			return fmt.Errorf("failed to deactivate listing: %w", err)
		}

		return nil
	})
	if err != nil {
		return ApplyResult{}, err
	}

	return result, nil
}

// ApplyTransfer appends the transfer history and moves ownership forward in a single transaction
func (s *pgStore) ApplyTransfer(ctx context.Context, input TransferInput) (ApplyResult, error) {
	var result ApplyResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := recordLedgerEvent(tx, input.Meta)
		if err != nil {
			return err
		}
		if !inserted {
			result.Duplicate = true
			return nil
		}

		transfer := schema.OwnershipTransfer{
			ID:          input.Meta.ID(),
			TokenID:     input.TokenID,
			FromAddress: domain.NormalizeAddress(input.From),
			ToAddress:   domain.NormalizeAddress(input.To),
			Timestamp:   input.Meta.Timestamp,
			TxHash:      input.Meta.TxHash,
			BlockNumber: input.Meta.BlockNumber,
			LogIndex:    input.Meta.LogIndex,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).Create(&transfer).Error; err != nil {
			return fmt.Errorf("failed to create ownership transfer: %w", err)
		}

		ownership := schema.AgentOwnership{
			ID:          input.TokenID,
			Owner:       transfer.ToAddress,
			UpdatedAt:   input.Meta.Timestamp,
			BlockNumber: input.Meta.BlockNumber,
			LogIndex:    input.Meta.LogIndex,
		}

		// Only a transfer positioned after the current one may replace the owner
		upsert := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "(agent_ownerships.block_number, agent_ownerships.log_index) < (excluded.block_number, excluded.log_index)"},
			}},
			DoUpdates: clause.AssignmentColumns([]string{"owner", "updated_at", "block_number", "log_index"}),
		}).Create(&ownership)
		if upsert.Error != nil {
			return fmt.Errorf("failed to upsert agent ownership: %w", upsert.Error)
		}
		if upsert.RowsAffected == 0 {
			result.Stale = true
		}

		return nil
	})
	if err != nil {
		return ApplyResult{}, err
	}

	return result, nil
}

// GetListing retrieves a listing by its on-chain id
func (s *pgStore) GetListing(ctx context.Context, id string) (*schema.Listing, error) {
	var listing schema.Listing
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&listing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}

	return &listing, nil
}

// GetListings retrieves listings with optional filters
func (s *pgStore) GetListings(ctx context.Context, filter ListingQueryFilter) ([]*schema.Listing, error) {
	query := s.db.WithContext(ctx).Model(&schema.Listing{})

	if filter.Active != nil {
		query = query.Where("active = ?", *filter.Active)
	}
	if filter.Seller != nil {
		query = query.Where("seller = ?", domain.NormalizeAddress(*filter.Seller))
	}
	if filter.TokenID != nil {
		query = query.Where("token_id = ?", *filter.TokenID)
	}

	orderBy := filter.OrderBy
	if orderBy == "" {
		orderBy = ListingOrderByCreatedAt
	}
	query = query.Order(clause.OrderByColumn{Column: clause.Column{Name: string(orderBy)}, Desc: filter.OrderDesc})
	if orderBy != ListingOrderByID {
		query = query.Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: filter.OrderDesc})
	}

	var listings []*schema.Listing
	err := query.
		Limit(normalizeLimit(filter.Limit)).
		Offset(normalizeOffset(filter.Offset)).
		Find(&listings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get listings: %w", err)
	}

	return listings, nil
}

// GetSale retrieves a sale by its id
func (s *pgStore) GetSale(ctx context.Context, id string) (*schema.Sale, error) {
	var sale schema.Sale
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&sale).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sale: %w", err)
	}

	return &sale, nil
}

// GetSales retrieves sales with optional filters
func (s *pgStore) GetSales(ctx context.Context, filter SaleQueryFilter) ([]*schema.Sale, error) {
	query := s.db.WithContext(ctx).Model(&schema.Sale{})

	if filter.ListingID != nil {
		query = query.Where("listing_id = ?", *filter.ListingID)
	}
	if filter.Buyer != nil {
		query = query.Where("buyer = ?", domain.NormalizeAddress(*filter.Buyer))
	}
	if filter.Seller != nil {
		query = query.Where("seller = ?", domain.NormalizeAddress(*filter.Seller))
	}
	if filter.TokenID != nil {
		query = query.Where("token_id = ?", *filter.TokenID)
	}

	orderBy := filter.OrderBy
	if orderBy == "" {
		orderBy = SaleOrderByTimestamp
	}
	for _, column := range []string{string(orderBy), "block_number", "log_index"} {
		query = query.Order(clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: filter.OrderDesc})
	}

	var sales []*schema.Sale
	err := query.
		Limit(normalizeLimit(filter.Limit)).
		Offset(normalizeOffset(filter.Offset)).
		Find(&sales).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get sales: %w", err)
	}

	return sales, nil
}

// GetAgentOwnership retrieves the current owner of a token
func (s *pgStore) GetAgentOwnership(ctx context.Context, tokenID string) (*schema.AgentOwnership, error) {
	var ownership schema.AgentOwnership
	err := s.db.WithContext(ctx).Where("id = ?", tokenID).First(&ownership).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get agent ownership: %w", err)
	}

	return &ownership, nil
}

// GetAgentOwnerships retrieves ownerships ordered by token id
func (s *pgStore) GetAgentOwnerships(ctx context.Context, filter AgentOwnershipQueryFilter) ([]*schema.AgentOwnership, error) {
	query := s.db.WithContext(ctx).Model(&schema.AgentOwnership{})

	if filter.Owner != nil {
		query = query.Where("owner = ?", domain.NormalizeAddress(*filter.Owner))
	}

	var ownerships []*schema.AgentOwnership
	err := query.
		Order("id ASC").
		Limit(normalizeLimit(filter.Limit)).
		Offset(normalizeOffset(filter.Offset)).
		Find(&ownerships).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get agent ownerships: %w", err)
	}

	return ownerships, nil
}

// GetOwnershipTransfers retrieves transfer history in canonical order
func (s *pgStore) GetOwnershipTransfers(ctx context.Context, filter OwnershipTransferQueryFilter) ([]*schema.OwnershipTransfer, error) {
	query := s.db.WithContext(ctx).Model(&schema.OwnershipTransfer{})

	if filter.TokenID != nil {
		query = query.Where("token_id = ?", *filter.TokenID)
	}
	if filter.From != nil {
		query = query.Where("from_address = ?", domain.NormalizeAddress(*filter.From))
	}
	if filter.To != nil {
		query = query.Where("to_address = ?", domain.NormalizeAddress(*filter.To))
	}

	for _, column := range []string{"block_number", "log_index"} {
		query = query.Order(clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: filter.OrderDesc})
	}

	var transfers []*schema.OwnershipTransfer
	err := query.
		Limit(normalizeLimit(filter.Limit)).
		Offset(normalizeOffset(filter.Offset)).
		Find(&transfers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get ownership transfers: %w", err)
	}

	return transfers, nil
}

// GetBlockCursor retrieves the last processed block number for a chain
func (s *pgStore) GetBlockCursor(ctx context.Context, chain string) (uint64, error) {
	return getBlockCursor(s.db.WithContext(ctx), chain)
}

// SetBlockCursor stores the last processed block number for a chain
func (s *pgStore) SetBlockCursor(ctx context.Context, chain string, blockNumber uint64) error {
	return setKeyValue(s.db.WithContext(ctx), blockCursorKey(chain), fmt.Sprintf("%d", blockNumber))
}

// GetProjectionCursor retrieves the position of the last applied event for a chain
func (s *pgStore) GetProjectionCursor(ctx context.Context, chain domain.Chain) (domain.EventPosition, error) {
	value, err := getKeyValue(s.db.WithContext(ctx), projectionCursorKey(chain))
	if err != nil {
		return domain.EventPosition{}, err
	}
	if value == "" {
		return domain.EventPosition{}, nil
	}

	position, err := domain.ParseEventPosition(value)
	if err != nil {
		return domain.EventPosition{}, fmt.Errorf("failed to parse projection cursor: %w", err)
	}

	return position, nil
}

// SetProjectionCursor stores the position of the last applied event for a chain
func (s *pgStore) SetProjectionCursor(ctx context.Context, chain domain.Chain, position domain.EventPosition) error {
	return setKeyValue(s.db.WithContext(ctx), projectionCursorKey(chain), position.String())
}
