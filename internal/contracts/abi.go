package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// AgentNFTABI is the ABI of the agent NFT contract (ERC-721 with agent metadata)
const AgentNFTABI = `[
	{"type":"function","name":"mintAgent","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"name","type":"string"},{"name":"description","type":"string"},
	           {"name":"model","type":"string"},{"name":"capabilities","type":"string[]"},{"name":"licenseUri","type":"string"}],
	 "outputs":[{"name":"tokenId","type":"uint256"}]},
	{"type":"function","name":"setMarketplace","stateMutability":"nonpayable",
	 "inputs":[{"name":"marketplace","type":"address"}],"outputs":[]},
	{"type":"function","name":"approve","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"getApproved","stateMutability":"view",
	 "inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"ownerOf","stateMutability":"view",
	 "inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"totalMinted","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getAgent","stateMutability":"view",
	 "inputs":[{"name":"tokenId","type":"uint256"}],
	 "outputs":[{"name":"name","type":"string"},{"name":"description","type":"string"},{"name":"model","type":"string"},
	            {"name":"capabilities","type":"string[]"},{"name":"license","type":"string"}]},
	{"type":"event","name":"Transfer","anonymous":false,
	 "inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},
	           {"name":"tokenId","type":"uint256","indexed":true}]}
]`

// MarketplaceABI is the ABI of the escrowing marketplace contract
const MarketplaceABI = `[
	{"type":"function","name":"listAgent","stateMutability":"nonpayable",
	 "inputs":[{"name":"tokenId","type":"uint256"},{"name":"price","type":"uint256"}],
	 "outputs":[{"name":"listingId","type":"uint256"}]},
	{"type":"function","name":"cancelListing","stateMutability":"nonpayable",
	 "inputs":[{"name":"listingId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"buyListing","stateMutability":"payable",
	 "inputs":[{"name":"listingId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"nextListingId","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"Listed","anonymous":false,
	 "inputs":[{"name":"listingId","type":"uint256","indexed":true},{"name":"seller","type":"address","indexed":true},
	           {"name":"tokenId","type":"uint256","indexed":true},{"name":"price","type":"uint256","indexed":false}]},
	{"type":"event","name":"ListingCanceled","anonymous":false,
	 "inputs":[{"name":"listingId","type":"uint256","indexed":true}]},
	{"type":"event","name":"Purchased","anonymous":false,
	 "inputs":[{"name":"listingId","type":"uint256","indexed":true},{"name":"buyer","type":"address","indexed":true},
	           {"name":"seller","type":"address","indexed":true},{"name":"price","type":"uint256","indexed":false}]}
]`

const (
	EventListed          = "Listed"
	EventListingCanceled = "ListingCanceled"
	EventPurchased       = "Purchased"
	EventTransfer        = "Transfer"
)

var (
	// AgentNFT is the parsed NFT ABI
	AgentNFT = mustParseABI(AgentNFTABI)
	// Marketplace is the parsed marketplace ABI
	Marketplace = mustParseABI(MarketplaceABI)

	// Event signature hashes (topic 0)
	ListedTopic          = Marketplace.Events[EventListed].ID
	ListingCanceledTopic = Marketplace.Events[EventListingCanceled].ID
	PurchasedTopic       = Marketplace.Events[EventPurchased].ID
	TransferTopic        = AgentNFT.Events[EventTransfer].ID
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Topics returns the topic filter matching every event the indexer projects.
// The result is suitable for ethereum.FilterQuery.Topics.
func Topics() [][]common.Hash {
	return [][]common.Hash{{ListedTopic, ListingCanceledTopic, PurchasedTopic, TransferTopic}}
}
