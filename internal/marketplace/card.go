package marketplace

import (
	"context"

	"go.uber.org/zap"

	"github.com/feral-file/ff-agent-market/internal/domain"
	"github.com/feral-file/ff-agent-market/internal/logger"
	"github.com/feral-file/ff-agent-market/internal/query"
)

// ListingCard is a listing enriched for display
type ListingCard struct {
	query.Listing
	PriceEther string
	// Agent is nil when the metadata could not be read
	Agent *domain.AgentMetadata
}

// Cards enriches listings with their price in ether and the cached agent metadata.
// Metadata failures leave Agent empty; the listing is still shown.
func Cards(ctx context.Context, listings []query.Listing, cache MetadataCache) []ListingCard {
	cards := make([]ListingCard, 0, len(listings))
	for _, l := range listings {
		card := ListingCard{
			Listing:    l,
			PriceEther: domain.FormatEther(l.Price),
		}
		if cache != nil && l.TokenID != nil {
			agent, err := cache.Get(ctx, l.TokenID)
			if err != nil {
				logger.WarnCtx(ctx, "Agent metadata unavailable", zap.String("tokenID", l.TokenID.String()), zap.Error(err))
			} else {
				card.Agent = agent
			}
		}
		cards = append(cards, card)
	}
	return cards
}
