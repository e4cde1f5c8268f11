package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/feral-file/ff-agent-market/internal/store/schema"
)

//go:generate mockgen -source=cursor_store.go -destination=../mocks/cursor_store.go -package=mocks -mock_names=CursorStore=MockCursorStore

// CursorStore defines the interface for storing and retrieving block cursors
type CursorStore interface {
	// GetBlockCursor retrieves the last processed block number for a chain
	GetBlockCursor(ctx context.Context, chain string) (uint64, error)
	// SetBlockCursor stores the last processed block number for a chain
	SetBlockCursor(ctx context.Context, chain string, blockNumber uint64) error
}

type cursorStore struct {
	db *gorm.DB
}

// NewCursorStore creates a new cursor store
func NewCursorStore(db *gorm.DB) CursorStore {
	return &cursorStore{db: db}
}

// GetBlockCursor retrieves the last processed block number for a chain
func (s *cursorStore) GetBlockCursor(ctx context.Context, chain string) (uint64, error) {
	return getBlockCursor(s.db.WithContext(ctx), chain)
}

// SetBlockCursor stores the last processed block number for a chain
func (s *cursorStore) SetBlockCursor(ctx context.Context, chain string, blockNumber uint64) error {
	return setKeyValue(s.db.WithContext(ctx), blockCursorKey(chain), strconv.FormatUint(blockNumber, 10))
}

func getBlockCursor(db *gorm.DB, chain string) (uint64, error) {
	value, err := getKeyValue(db, blockCursorKey(chain))
	if err != nil {
		return 0, err
	}
	if value == "" {
		return 0, nil // Return 0 if no cursor exists
	}

	blockNumber, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse block cursor: %w", err)
	}

	return blockNumber, nil
}

// getKeyValue returns "" when the key does not exist
func getKeyValue(db *gorm.DB, key string) (string, error) {
	var kv schema.KeyValueStore
	err := db.Where("key = ?", key).First(&kv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get key-value %s: %w", key, err)
	}

	return kv.Value, nil
}

func setKeyValue(db *gorm.DB, key string, value string) error {
	now := time.Now().UTC()
	kv := schema.KeyValueStore{
		Key:       key,
		Value:     value,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&kv).Error
	if err != nil {
		return fmt.Errorf("failed to set key-value %s: %w", key, err)
	}

	return nil
}
