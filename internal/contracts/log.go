package contracts

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/feral-file/ff-agent-market/internal/domain"
)

// ErrUnknownLog is returned for logs that are not one of the projected events
var ErrUnknownLog = errors.New("unknown log")

type eventSpec struct {
	eventType domain.EventType
	contract  abi.ABI
	name      string
}

var eventsByTopic = map[common.Hash]eventSpec{
	ListedTopic:          {domain.EventTypeListed, Marketplace, EventListed},
	ListingCanceledTopic: {domain.EventTypeListingCanceled, Marketplace, EventListingCanceled},
	PurchasedTopic:       {domain.EventTypePurchased, Marketplace, EventPurchased},
	TransferTopic:        {domain.EventTypeTransfer, AgentNFT, EventTransfer},
}

// EventTypeOf returns the event type carried by topic 0 of a log
func EventTypeOf(topic common.Hash) (domain.EventType, bool) {
	def, ok := eventsByTopic[topic]
	return def.eventType, ok
}

// ParseLog decodes a raw log into a ledger event.
// The block timestamp is not part of the log and is left for the caller to fill.
func ParseLog(chain domain.Chain, vLog types.Log) (*domain.LedgerEvent, error) {
	if len(vLog.Topics) == 0 {
		return nil, fmt.Errorf("%w: no topics", ErrUnknownLog)
	}

	def, ok := eventsByTopic[vLog.Topics[0]]
	if !ok {
		return nil, fmt.Errorf("%w: topic %s", ErrUnknownLog, vLog.Topics[0].Hex())
	}

	event := def.contract.Events[def.name]
	values := make(map[string]interface{})

	var indexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if len(vLog.Topics)-1 != len(indexed) {
		return nil, fmt.Errorf("%s log has %d topics, expected %d", def.name, len(vLog.Topics)-1, len(indexed))
	}
	if err := abi.ParseTopicsIntoMap(values, indexed, vLog.Topics[1:]); err != nil {
		return nil, fmt.Errorf("failed to parse %s topics: %w", def.name, err)
	}
	if len(vLog.Data) > 0 {
		if err := def.contract.UnpackIntoMap(values, def.name, vLog.Data); err != nil {
			return nil, fmt.Errorf("failed to unpack %s data: %w", def.name, err)
		}
	}

	ledgerEvent := &domain.LedgerEvent{
		Chain:           chain,
		ContractAddress: vLog.Address.Hex(),
		EventType:       def.eventType,
		TxHash:          vLog.TxHash.Hex(),
		TxIndex:         uint64(vLog.TxIndex),
		BlockNumber:     vLog.BlockNumber,
		BlockHash:       vLog.BlockHash.Hex(),
		LogIndex:        uint64(vLog.Index),
	}

	var err error
	switch def.eventType {
	case domain.EventTypeListed:
		ledgerEvent.ListingID, err = bigValue(values, "listingId")
		if err == nil {
			ledgerEvent.Seller, err = addressValue(values, "seller")
		}
		if err == nil {
			ledgerEvent.TokenID, err = bigValue(values, "tokenId")
		}
		if err == nil {
			ledgerEvent.Price, err = bigValue(values, "price")
		}
	case domain.EventTypeListingCanceled:
		ledgerEvent.ListingID, err = bigValue(values, "listingId")
	case domain.EventTypePurchased:
		ledgerEvent.ListingID, err = bigValue(values, "listingId")
		if err == nil {
			ledgerEvent.Buyer, err = addressValue(values, "buyer")
		}
		if err == nil {
			ledgerEvent.Seller, err = addressValue(values, "seller")
		}
		if err == nil {
			ledgerEvent.Price, err = bigValue(values, "price")
		}
	case domain.EventTypeTransfer:
		ledgerEvent.FromAddress, err = addressValue(values, "from")
		if err == nil {
			ledgerEvent.ToAddress, err = addressValue(values, "to")
		}
		if err == nil {
			ledgerEvent.TokenID, err = bigValue(values, "tokenId")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s log: %w", def.name, err)
	}

	return ledgerEvent, nil
}

// EncodeLog is the inverse of ParseLog: it builds the raw log a contract would emit for the event
func EncodeLog(event *domain.LedgerEvent, nft, marketplace common.Address) (types.Log, error) {
	var (
		address common.Address
		name    string
		fields  map[string]interface{}
		err     error
	)

	switch event.EventType {
	case domain.EventTypeListed:
		address, name = marketplace, EventListed
		fields, err = eventFields(map[string]string{"listingId": event.ListingID, "tokenId": event.TokenID, "price": event.Price},
			map[string]string{"seller": event.Seller})
	case domain.EventTypeListingCanceled:
		address, name = marketplace, EventListingCanceled
		fields, err = eventFields(map[string]string{"listingId": event.ListingID}, nil)
	case domain.EventTypePurchased:
		address, name = marketplace, EventPurchased
		fields, err = eventFields(map[string]string{"listingId": event.ListingID, "price": event.Price},
			map[string]string{"buyer": event.Buyer, "seller": event.Seller})
	case domain.EventTypeTransfer:
		address, name = nft, EventTransfer
		fields, err = eventFields(map[string]string{"tokenId": event.TokenID},
			map[string]string{"from": event.FromAddress, "to": event.ToAddress})
	default:
		return types.Log{}, fmt.Errorf("%w: %s", domain.ErrUnknownEventType, event.EventType)
	}
	if err != nil {
		return types.Log{}, err
	}

	contract := Marketplace
	if name == EventTransfer {
		contract = AgentNFT
	}
	abiEvent := contract.Events[name]

	topics := []common.Hash{abiEvent.ID}
	var data []interface{}
	var nonIndexed abi.Arguments
	for _, input := range abiEvent.Inputs {
		value := fields[input.Name]
		if input.Indexed {
			switch v := value.(type) {
			case *big.Int:
				topics = append(topics, common.BigToHash(v))
			case common.Address:
				topics = append(topics, common.BytesToHash(v.Bytes()))
			}
			continue
		}
		nonIndexed = append(nonIndexed, input)
		data = append(data, value)
	}

	packed, err := nonIndexed.Pack(data...)
	if err != nil {
		return types.Log{}, fmt.Errorf("failed to pack %s data: %w", name, err)
	}

	return types.Log{
		Address:     address,
		Topics:      topics,
		Data:        packed,
		BlockNumber: event.BlockNumber,
		TxHash:      common.HexToHash(event.TxHash),
		TxIndex:     uint(event.TxIndex),
		BlockHash:   common.HexToHash(event.BlockHash),
		Index:       uint(event.LogIndex),
	}, nil
}

func eventFields(numbers map[string]string, addresses map[string]string) (map[string]interface{}, error) {
	fields := make(map[string]interface{}, len(numbers)+len(addresses))
	for name, value := range numbers {
		n, err := domain.ParseBigInt(value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", name, err)
		}
		fields[name] = n
	}
	for name, value := range addresses {
		if !common.IsHexAddress(value) {
			return nil, fmt.Errorf("invalid %s address: %s", name, value)
		}
		fields[name] = common.HexToAddress(value)
	}
	return fields, nil
}

func bigValue(values map[string]interface{}, name string) (string, error) {
	v, ok := values[name].(*big.Int)
	if !ok {
		return "", fmt.Errorf("missing %s", name)
	}
	return v.String(), nil
}

func addressValue(values map[string]interface{}, name string) (string, error) {
	v, ok := values[name].(common.Address)
	if !ok {
		return "", fmt.Errorf("missing %s", name)
	}
	return v.Hex(), nil
}

// IsZeroAddress reports whether an address is the zero address (mint or burn side of a transfer)
func IsZeroAddress(address string) bool {
	return strings.EqualFold(address, domain.ETHEREUM_ZERO_ADDRESS)
}
