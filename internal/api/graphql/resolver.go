package graphql

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	apierrors "github.com/feral-file/ff-agent-market/internal/api/shared/errors"
	"github.com/feral-file/ff-agent-market/internal/domain"
	"github.com/feral-file/ff-agent-market/internal/logger"
	"github.com/feral-file/ff-agent-market/internal/store"
)

// Resolver resolves the root query fields against the projection store
type Resolver struct {
	store store.Store
}

// NewResolver creates a new root resolver
func NewResolver(s store.Store) *Resolver {
	return &Resolver{store: s}
}

type rootResolverFunc func(r *Resolver, ctx context.Context, args map[string]interface{}) (interface{}, error)

var rootFields = map[string]rootResolverFunc{
	"listing":            (*Resolver).listing,
	"listings":           (*Resolver).listings,
	"sale":               (*Resolver).sale,
	"sales":              (*Resolver).sales,
	"agentOwnership":     (*Resolver).agentOwnership,
	"agentOwnerships":    (*Resolver).agentOwnerships,
	"ownershipTransfers": (*Resolver).ownershipTransfers,
}

// resolveRoot returns an *entity, a []*entity or nil
func (r *Resolver) resolveRoot(ctx context.Context, field string, args map[string]interface{}) (interface{}, error) {
	fn, ok := rootFields[field]
	if !ok {
		return nil, apierrors.NewBadRequestError("Unknown field", field)
	}
	return fn(r, ctx, args)
}

func (r *Resolver) listing(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	id, err := numericID(args)
	if err != nil {
		return nil, err
	}

	listing, err := r.store.GetListing(ctx, id)
	if err != nil {
		return nil, databaseError(ctx, "listing", err)
	}
	if listing == nil {
		return nil, nil
	}
	return mapListing(listing), nil
}

func (r *Resolver) listings(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	page, err := parsePage(args)
	if err != nil {
		return nil, err
	}
	if page.first == 0 {
		return []*entity{}, nil
	}

	filter := store.ListingQueryFilter{
		OrderBy:   store.ListingOrderByCreatedAt,
		OrderDesc: true,
		Limit:     page.first,
		Offset:    page.skip,
	}

	where, _ := args["where"].(map[string]interface{})
	if v, ok := where["active"].(bool); ok {
		filter.Active = &v
	}
	if v, ok := where["seller"].(string); ok {
		seller := domain.NormalizeAddress(v)
		filter.Seller = &seller
	}
	if v, ok := where["tokenId"]; ok && v != nil {
		tokenID, err := parseBigIntArg("where.tokenId", v)
		if err != nil {
			return nil, apierrors.NewValidationError(err.Error())
		}
		filter.TokenID = &tokenID
	}

	if orderBy, ok := args["orderBy"].(string); ok {
		switch orderBy {
		case "id":
			filter.OrderBy = store.ListingOrderByID
		case "createdAt":
			filter.OrderBy = store.ListingOrderByCreatedAt
		case "price":
			filter.OrderBy = store.ListingOrderByPrice
		case "tokenId":
			filter.OrderBy = store.ListingOrderByTokenID
		}
		// An explicit order is ascending unless told otherwise
		filter.OrderDesc = false
	}
	if dir, ok := args["orderDirection"].(string); ok {
		filter.OrderDesc = dir == "desc"
	}

	listings, err := r.store.GetListings(ctx, filter)
	if err != nil {
		return nil, databaseError(ctx, "listings", err)
	}
	return mapList(listings, mapListing), nil
}

func (r *Resolver) sale(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	id, _ := args["id"].(string)
	if id == "" {
		return nil, apierrors.NewValidationError("id is required")
	}

	sale, err := r.store.GetSale(ctx, normalizeSaleID(id))
	if err != nil {
		return nil, databaseError(ctx, "sale", err)
	}
	if sale == nil {
		return nil, nil
	}
	return mapSale(sale), nil
}

// normalizeSaleID lowercases the transaction hash of a "<txHash>-<logIndex>" id
func normalizeSaleID(id string) string {
	sep := strings.LastIndex(id, "-")
	if sep < 0 {
		return id
	}
	return strings.ToLower(id[:sep]) + id[sep:]
}

func (r *Resolver) sales(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	page, err := parsePage(args)
	if err != nil {
		return nil, err
	}
	if page.first == 0 {
		return []*entity{}, nil
	}

	filter := store.SaleQueryFilter{
		OrderBy:   store.SaleOrderByTimestamp,
		OrderDesc: true,
		Limit:     page.first,
		Offset:    page.skip,
	}

	where, _ := args["where"].(map[string]interface{})
	if v, ok := where["listingId"]; ok && v != nil {
		listingID, err := parseBigIntArg("where.listingId", v)
		if err != nil {
			return nil, apierrors.NewValidationError(err.Error())
		}
		filter.ListingID = &listingID
	}
	if v, ok := where["buyer"].(string); ok {
		buyer := domain.NormalizeAddress(v)
		filter.Buyer = &buyer
	}
	if v, ok := where["seller"].(string); ok {
		seller := domain.NormalizeAddress(v)
		filter.Seller = &seller
	}
	if v, ok := where["tokenId"]; ok && v != nil {
		tokenID, err := parseBigIntArg("where.tokenId", v)
		if err != nil {
			return nil, apierrors.NewValidationError(err.Error())
		}
		filter.TokenID = &tokenID
	}

	if orderBy, ok := args["orderBy"].(string); ok {
		if orderBy == "price" {
			filter.OrderBy = store.SaleOrderByPrice
		}
		filter.OrderDesc = false
	}
	if dir, ok := args["orderDirection"].(string); ok {
		filter.OrderDesc = dir == "desc"
	}

	sales, err := r.store.GetSales(ctx, filter)
	if err != nil {
		return nil, databaseError(ctx, "sales", err)
	}
	return mapList(sales, mapSale), nil
}

func (r *Resolver) agentOwnership(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	id, err := numericID(args)
	if err != nil {
		return nil, err
	}

	ownership, err := r.store.GetAgentOwnership(ctx, id)
	if err != nil {
		return nil, databaseError(ctx, "agentOwnership", err)
	}
	if ownership == nil {
		return nil, nil
	}
	return mapAgentOwnership(ownership), nil
}

func (r *Resolver) agentOwnerships(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	page, err := parsePage(args)
	if err != nil {
		return nil, err
	}
	if page.first == 0 {
		return []*entity{}, nil
	}

	filter := store.AgentOwnershipQueryFilter{
		Limit:  page.first,
		Offset: page.skip,
	}
	where, _ := args["where"].(map[string]interface{})
	if v, ok := where["owner"].(string); ok {
		owner := domain.NormalizeAddress(v)
		filter.Owner = &owner
	}

	ownerships, err := r.store.GetAgentOwnerships(ctx, filter)
	if err != nil {
		return nil, databaseError(ctx, "agentOwnerships", err)
	}
	return mapList(ownerships, mapAgentOwnership), nil
}

func (r *Resolver) ownershipTransfers(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	page, err := parsePage(args)
	if err != nil {
		return nil, err
	}
	if page.first == 0 {
		return []*entity{}, nil
	}

	filter := store.OwnershipTransferQueryFilter{
		Limit:  page.first,
		Offset: page.skip,
	}
	where, _ := args["where"].(map[string]interface{})
	if v, ok := where["tokenId"]; ok && v != nil {
		tokenID, err := parseBigIntArg("where.tokenId", v)
		if err != nil {
			return nil, apierrors.NewValidationError(err.Error())
		}
		filter.TokenID = &tokenID
	}
	if v, ok := where["from"].(string); ok {
		from := domain.NormalizeAddress(v)
		filter.From = &from
	}
	if v, ok := where["to"].(string); ok {
		to := domain.NormalizeAddress(v)
		filter.To = &to
	}
	if dir, ok := args["orderDirection"].(string); ok {
		filter.OrderDesc = dir == "desc"
	}

	transfers, err := r.store.GetOwnershipTransfers(ctx, filter)
	if err != nil {
		return nil, databaseError(ctx, "ownershipTransfers", err)
	}
	return mapList(transfers, mapOwnershipTransfer), nil
}

type page struct {
	first int
	skip  int
}

func parsePage(args map[string]interface{}) (page, error) {
	p := page{first: DefaultFirst}
	if v, ok := args["first"]; ok && v != nil {
		first, err := parseIntArg("first", v)
		if err != nil {
			return page{}, apierrors.NewValidationError(err.Error())
		}
		p.first = clampFirst(first)
	}
	if v, ok := args["skip"]; ok && v != nil {
		skip, err := parseIntArg("skip", v)
		if err != nil {
			return page{}, apierrors.NewValidationError(err.Error())
		}
		if skip > 0 {
			p.skip = skip
		}
	}
	return p, nil
}

// numericID reads the id argument of entities keyed by an on-chain counter
func numericID(args map[string]interface{}) (string, error) {
	v, ok := args["id"]
	if !ok || v == nil {
		return "", apierrors.NewValidationError("id is required")
	}
	id, err := parseBigIntArg("id", v)
	if err != nil {
		return "", apierrors.NewValidationError(err.Error())
	}
	return id, nil
}

func databaseError(ctx context.Context, field string, err error) error {
	logger.ErrorCtx(ctx, fmt.Errorf("failed to resolve %s: %w", field, err), zap.String("field", field))
	return apierrors.NewDatabaseError("Failed to query " + field)
}
