package store

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/feral-file/ff-agent-market/internal/domain"
	"github.com/feral-file/ff-agent-market/internal/logger"
	"github.com/feral-file/ff-agent-market/internal/store/schema"
)

type ledgerEventKey struct {
	chain    domain.Chain
	txHash   string
	logIndex uint64
}

// memoryStore keeps the projection in process memory.
// It behaves like the PostgreSQL store and is used for local development and scenario tests.
type memoryStore struct {
	mu sync.RWMutex

	events     map[ledgerEventKey]schema.LedgerEvent
	listings   map[string]schema.Listing
	sales      map[string]schema.Sale
	ownerships map[string]schema.AgentOwnership
	transfers  map[string]schema.OwnershipTransfer
	kv         map[string]string
}

// NewMemoryStore creates a new in-memory store instance
func NewMemoryStore() Store {
	return &memoryStore{
		events:     make(map[ledgerEventKey]schema.LedgerEvent),
		listings:   make(map[string]schema.Listing),
		sales:      make(map[string]schema.Sale),
		ownerships: make(map[string]schema.AgentOwnership),
		transfers:  make(map[string]schema.OwnershipTransfer),
		kv:         make(map[string]string),
	}
}

// recordLedgerEvent must be called with the write lock held
func (s *memoryStore) recordLedgerEvent(meta EventMeta) bool {
	key := ledgerEventKey{chain: meta.Chain, txHash: meta.TxHash, logIndex: meta.LogIndex}
	if _, ok := s.events[key]; ok {
		return false
	}

	s.events[key] = schema.LedgerEvent{
		ID:          uint64(len(s.events) + 1),
		Chain:       meta.Chain,
		EventType:   meta.EventType,
		TxHash:      meta.TxHash,
		LogIndex:    meta.LogIndex,
		BlockNumber: meta.BlockNumber,
		Timestamp:   meta.Timestamp,
		Raw:         meta.Raw,
		CreatedAt:   time.Now().UTC(),
	}
	return true
}

func (s *memoryStore) ApplyListed(ctx context.Context, input ListedInput) (ApplyResult, error) {
	if err := ctx.Err(); err != nil {
		return ApplyResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.recordLedgerEvent(input.Meta) {
		return ApplyResult{Duplicate: true}, nil
	}

	active := true
	if existing, ok := s.listings[input.ListingID]; ok {
		active = existing.Active
	}

	s.listings[input.ListingID] = schema.Listing{
		ID:        input.ListingID,
		Seller:    domain.NormalizeAddress(input.Seller),
		TokenID:   input.TokenID,
		Price:     input.Price,
		Active:    active,
		CreatedAt: input.Meta.Timestamp,
		TxHash:    input.Meta.TxHash,
		UpdatedAt: time.Now().UTC(),
	}

	return ApplyResult{}, nil
}

func (s *memoryStore) ApplyListingCanceled(ctx context.Context, input ListingCanceledInput) (ApplyResult, error) {
	if err := ctx.Err(); err != nil {
		return ApplyResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.recordLedgerEvent(input.Meta) {
		return ApplyResult{Duplicate: true}, nil
	}

	listing, ok := s.listings[input.ListingID]
	if !ok {
		logger.DebugCtx(ctx, "Listing canceled before it was indexed",
			zap.String("listingID", input.ListingID),
			zap.String("txHash", input.Meta.TxHash))
		return ApplyResult{Noop: true}, nil
	}

	listing.Active = false
	listing.UpdatedAt = time.Now().UTC()
	s.listings[input.ListingID] = listing

	return ApplyResult{}, nil
}

func (s *memoryStore) ApplyPurchased(ctx context.Context, input PurchasedInput) (ApplyResult, error) {
	if err := ctx.Err(); err != nil {
		return ApplyResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.recordLedgerEvent(input.Meta) {
		return ApplyResult{Duplicate: true}, nil
	}

	var result ApplyResult
	tokenID := domain.UNKNOWN_TOKEN_ID
	listing, ok := s.listings[input.ListingID]
	if ok {
		tokenID = listing.TokenID
	} else {
		result.Degraded = true
	}

	id := input.Meta.ID()
	if _, exists := s.sales[id]; !exists {
		s.sales[id] = schema.Sale{
			ID:          id,
			ListingID:   input.ListingID,
			Buyer:       domain.NormalizeAddress(input.Buyer),
			Seller:      domain.NormalizeAddress(input.Seller),
			Price:       input.Price,
			TokenID:     tokenID,
			Timestamp:   input.Meta.Timestamp,
			TxHash:      input.Meta.TxHash,
			BlockNumber: input.Meta.BlockNumber,
			LogIndex:    input.Meta.LogIndex,
			CreatedAt:   time.Now().UTC(),
		}
	}

	if ok {
		listing.Active = false
		listing.UpdatedAt = time.Now().UTC()
		s.listings[input.ListingID] = listing
	}

	return result, nil
}

func (s *memoryStore) ApplyTransfer(ctx context.Context, input TransferInput) (ApplyResult, error) {
	if err := ctx.Err(); err != nil {
		return ApplyResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.recordLedgerEvent(input.Meta) {
		return ApplyResult{Duplicate: true}, nil
	}

	id := input.Meta.ID()
	to := domain.NormalizeAddress(input.To)
	if _, exists := s.transfers[id]; !exists {
		s.transfers[id] = schema.OwnershipTransfer{
			ID:          id,
			TokenID:     input.TokenID,
			FromAddress: domain.NormalizeAddress(input.From),
			ToAddress:   to,
			Timestamp:   input.Meta.Timestamp,
			TxHash:      input.Meta.TxHash,
			BlockNumber: input.Meta.BlockNumber,
			LogIndex:    input.Meta.LogIndex,
		}
	}

	current, ok := s.ownerships[input.TokenID]
	if ok && !ownershipPosition(current).Less(input.Meta.Position()) {
		return ApplyResult{Stale: true}, nil
	}

	s.ownerships[input.TokenID] = schema.AgentOwnership{
		ID:          input.TokenID,
		Owner:       to,
		UpdatedAt:   input.Meta.Timestamp,
		BlockNumber: input.Meta.BlockNumber,
		LogIndex:    input.Meta.LogIndex,
	}

	return ApplyResult{}, nil
}

func ownershipPosition(o schema.AgentOwnership) domain.EventPosition {
	return domain.EventPosition{BlockNumber: o.BlockNumber, LogIndex: o.LogIndex}
}

func (s *memoryStore) GetListing(ctx context.Context, id string) (*schema.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	listing, ok := s.listings[id]
	if !ok {
		return nil, nil
	}
	return &listing, nil
}

func (s *memoryStore) GetListings(ctx context.Context, filter ListingQueryFilter) ([]*schema.Listing, error) {
	s.mu.RLock()
	listings := make([]*schema.Listing, 0, len(s.listings))
	for _, l := range s.listings {
		if filter.Active != nil && l.Active != *filter.Active {
			continue
		}
		if filter.Seller != nil && l.Seller != domain.NormalizeAddress(*filter.Seller) {
			continue
		}
		if filter.TokenID != nil && !numericEqual(l.TokenID, *filter.TokenID) {
			continue
		}
		listing := l
		listings = append(listings, &listing)
	}
	s.mu.RUnlock()

	orderBy := filter.OrderBy
	if orderBy == "" {
		orderBy = ListingOrderByCreatedAt
	}

	sort.Slice(listings, func(i, j int) bool {
		a, b := listings[i], listings[j]
		var c int
		switch orderBy {
		case ListingOrderByCreatedAt:
			c = a.CreatedAt.Compare(b.CreatedAt)
		case ListingOrderByPrice:
			c = compareNumeric(a.Price, b.Price)
		case ListingOrderByTokenID:
			c = compareNumeric(a.TokenID, b.TokenID)
		}
		if c == 0 {
			c = compareNumeric(a.ID, b.ID)
		}
		if filter.OrderDesc {
			return c > 0
		}
		return c < 0
	})

	return paginate(listings, filter.Limit, filter.Offset), nil
}

func (s *memoryStore) GetSale(ctx context.Context, id string) (*schema.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, nil
	}
	return &sale, nil
}

func (s *memoryStore) GetSales(ctx context.Context, filter SaleQueryFilter) ([]*schema.Sale, error) {
	s.mu.RLock()
	sales := make([]*schema.Sale, 0, len(s.sales))
	for _, sl := range s.sales {
		if filter.ListingID != nil && !numericEqual(sl.ListingID, *filter.ListingID) {
			continue
		}
		if filter.Buyer != nil && sl.Buyer != domain.NormalizeAddress(*filter.Buyer) {
			continue
		}
		if filter.Seller != nil && sl.Seller != domain.NormalizeAddress(*filter.Seller) {
			continue
		}
		if filter.TokenID != nil && !numericEqual(sl.TokenID, *filter.TokenID) {
			continue
		}
		sale := sl
		sales = append(sales, &sale)
	}
	s.mu.RUnlock()

	sort.Slice(sales, func(i, j int) bool {
		a, b := sales[i], sales[j]
		var c int
		if filter.OrderBy == SaleOrderByPrice {
			c = compareNumeric(a.Price, b.Price)
		} else {
			c = a.Timestamp.Compare(b.Timestamp)
		}
		if c == 0 {
			c = comparePosition(a.BlockNumber, a.LogIndex, b.BlockNumber, b.LogIndex)
		}
		if filter.OrderDesc {
			return c > 0
		}
		return c < 0
	})

	return paginate(sales, filter.Limit, filter.Offset), nil
}

func (s *memoryStore) GetAgentOwnership(ctx context.Context, tokenID string) (*schema.AgentOwnership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ownership, ok := s.ownerships[tokenID]
	if !ok {
		return nil, nil
	}
	return &ownership, nil
}

func (s *memoryStore) GetAgentOwnerships(ctx context.Context, filter AgentOwnershipQueryFilter) ([]*schema.AgentOwnership, error) {
	s.mu.RLock()
	ownerships := make([]*schema.AgentOwnership, 0, len(s.ownerships))
	for _, o := range s.ownerships {
		if filter.Owner != nil && o.Owner != domain.NormalizeAddress(*filter.Owner) {
			continue
		}
		ownership := o
		ownerships = append(ownerships, &ownership)
	}
	s.mu.RUnlock()

	sort.Slice(ownerships, func(i, j int) bool {
		return compareNumeric(ownerships[i].ID, ownerships[j].ID) < 0
	})

	return paginate(ownerships, filter.Limit, filter.Offset), nil
}

func (s *memoryStore) GetOwnershipTransfers(ctx context.Context, filter OwnershipTransferQueryFilter) ([]*schema.OwnershipTransfer, error) {
	s.mu.RLock()
	transfers := make([]*schema.OwnershipTransfer, 0, len(s.transfers))
	for _, t := range s.transfers {
		if filter.TokenID != nil && !numericEqual(t.TokenID, *filter.TokenID) {
			continue
		}
		if filter.From != nil && t.FromAddress != domain.NormalizeAddress(*filter.From) {
			continue
		}
		if filter.To != nil && t.ToAddress != domain.NormalizeAddress(*filter.To) {
			continue
		}
		transfer := t
		transfers = append(transfers, &transfer)
	}
	s.mu.RUnlock()

	sort.Slice(transfers, func(i, j int) bool {
		a, b := transfers[i], transfers[j]
		c := comparePosition(a.BlockNumber, a.LogIndex, b.BlockNumber, b.LogIndex)
		if filter.OrderDesc {
			return c > 0
		}
		return c < 0
	})

	return paginate(transfers, filter.Limit, filter.Offset), nil
}

func (s *memoryStore) GetBlockCursor(ctx context.Context, chain string) (uint64, error) {
	s.mu.RLock()
	value, ok := s.kv[blockCursorKey(chain)]
	s.mu.RUnlock()
	if !ok {
		return 0, nil
	}

	blockNumber, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse block cursor: %w", err)
	}
	return blockNumber, nil
}

func (s *memoryStore) SetBlockCursor(ctx context.Context, chain string, blockNumber uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.kv[blockCursorKey(chain)] = strconv.FormatUint(blockNumber, 10)
	return nil
}

func (s *memoryStore) GetProjectionCursor(ctx context.Context, chain domain.Chain) (domain.EventPosition, error) {
	s.mu.RLock()
	value, ok := s.kv[projectionCursorKey(chain)]
	s.mu.RUnlock()
	if !ok {
		return domain.EventPosition{}, nil
	}

	position, err := domain.ParseEventPosition(value)
	if err != nil {
		return domain.EventPosition{}, fmt.Errorf("failed to parse projection cursor: %w", err)
	}
	return position, nil
}

func (s *memoryStore) SetProjectionCursor(ctx context.Context, chain domain.Chain, position domain.EventPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.kv[projectionCursorKey(chain)] = position.String()
	return nil
}

// compareNumeric orders decimal strings by value, the way numeric columns sort in PostgreSQL
func compareNumeric(a, b string) int {
	x, okA := new(big.Int).SetString(a, 10)
	y, okB := new(big.Int).SetString(b, 10)
	if !okA || !okB {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	}
	return x.Cmp(y)
}

func numericEqual(a, b string) bool {
	return compareNumeric(a, b) == 0
}

func comparePosition(blockA, logA, blockB, logB uint64) int {
	a := domain.EventPosition{BlockNumber: blockA, LogIndex: logA}
	b := domain.EventPosition{BlockNumber: blockB, LogIndex: logB}
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}

func paginate[T any](items []T, limit, offset int) []T {
	limit = normalizeLimit(limit)
	offset = normalizeOffset(offset)
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
