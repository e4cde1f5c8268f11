package graphql

import (
	"github.com/feral-file/ff-agent-market/internal/store/schema"
)

// entity is a resolved object: its GraphQL type name and scalar field values
type entity struct {
	typeName string
	fields   map[string]interface{}
}

func mapListing(l *schema.Listing) *entity {
	return &entity{
		typeName: "Listing",
		fields: map[string]interface{}{
			"id":        l.ID,
			"seller":    l.Seller,
			"tokenId":   BigInt(l.TokenID),
			"price":     BigInt(l.Price),
			"active":    l.Active,
			"createdAt": Timestamp(l.CreatedAt),
			"txHash":    l.TxHash,
		},
	}
}

func mapSale(s *schema.Sale) *entity {
	return &entity{
		typeName: "Sale",
		fields: map[string]interface{}{
			"id":          s.ID,
			"listingId":   BigInt(s.ListingID),
			"buyer":       s.Buyer,
			"seller":      s.Seller,
			"price":       BigInt(s.Price),
			"tokenId":     BigInt(s.TokenID),
			"timestamp":   Timestamp(s.Timestamp),
			"txHash":      s.TxHash,
			"blockNumber": Uint64(s.BlockNumber),
		},
	}
}

func mapAgentOwnership(o *schema.AgentOwnership) *entity {
	return &entity{
		typeName: "AgentOwnership",
		fields: map[string]interface{}{
			"id":          o.ID,
			"owner":       o.Owner,
			"updatedAt":   Timestamp(o.UpdatedAt),
			"blockNumber": Uint64(o.BlockNumber),
		},
	}
}

func mapOwnershipTransfer(t *schema.OwnershipTransfer) *entity {
	return &entity{
		typeName: "OwnershipTransfer",
		fields: map[string]interface{}{
			"id":          t.ID,
			"tokenId":     BigInt(t.TokenID),
			"from":        t.FromAddress,
			"to":          t.ToAddress,
			"timestamp":   Timestamp(t.Timestamp),
			"txHash":      t.TxHash,
			"blockNumber": Uint64(t.BlockNumber),
		},
	}
}

func mapList[T any](items []*T, mapFn func(*T) *entity) []*entity {
	out := make([]*entity, 0, len(items))
	for _, item := range items {
		out = append(out, mapFn(item))
	}
	return out
}
