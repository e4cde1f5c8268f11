package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/feral-file/ff-agent-market/internal/block"
	"github.com/feral-file/ff-agent-market/internal/contracts"
	"github.com/feral-file/ff-agent-market/internal/domain"
	"github.com/feral-file/ff-agent-market/internal/logger"
	"github.com/feral-file/ff-agent-market/internal/messaging"
)

// liveBufferSize is the number of live logs buffered while the backfill runs
const liveBufferSize = 1024

// Config holds the configuration for Ethereum subscription
type Config struct {
	WebSocketURL       string       // WebSocket URL (e.g., ws://localhost:8545)
	ChainID            domain.Chain // e.g., "eip155:31337" for a local devnet
	NFTAddress         string
	MarketplaceAddress string
}

type ethSubscriber struct {
	client        EthereumClient
	blockProvider block.BlockProvider
	chainID       domain.Chain
	addresses     []common.Address
}

// NewSubscriber creates a new subscriber for the events of the NFT and marketplace contracts
func NewSubscriber(cfg Config, ethereumClient EthereumClient, blockProvider block.BlockProvider) (messaging.Subscriber, error) {
	if !domain.IsValidChain(cfg.ChainID) {
		return nil, fmt.Errorf("invalid chain: %s", cfg.ChainID)
	}
	if !common.IsHexAddress(cfg.NFTAddress) || !common.IsHexAddress(cfg.MarketplaceAddress) {
		return nil, fmt.Errorf("invalid contract addresses: nft=%q marketplace=%q", cfg.NFTAddress, cfg.MarketplaceAddress)
	}

	return &ethSubscriber{
		client:        ethereumClient,
		blockProvider: blockProvider,
		chainID:       cfg.ChainID,
		addresses: []common.Address{
			common.HexToAddress(cfg.NFTAddress),
			common.HexToAddress(cfg.MarketplaceAddress),
		},
	}, nil
}

// SubscribeEvents subscribes to new logs first, backfills [fromBlock, latest] and then
// drains the live subscription, skipping logs the backfill already delivered
func (s *ethSubscriber) SubscribeEvents(ctx context.Context, fromBlock uint64, handler messaging.EventHandler) error {
	query := ethereum.FilterQuery{
		Addresses: s.addresses,
		Topics:    contracts.Topics(),
	}

	logs := make(chan types.Log, liveBufferSize)
	sub, err := s.client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSubscriptionFailed, err)
	}
	defer func() {
		logger.InfoCtx(ctx, "Unsubscribing from ledger event logs")
		sub.Unsubscribe()
	}()

	var last *domain.EventPosition

	header, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to get latest block: %w", err)
	}
	latest := header.Number.Uint64()

	if fromBlock <= latest {
		backfillQuery := query
		backfillQuery.FromBlock = new(big.Int).SetUint64(fromBlock)
		backfillQuery.ToBlock = new(big.Int).SetUint64(latest)

		history, err := s.client.FilterLogs(ctx, backfillQuery)
		if err != nil {
			return fmt.Errorf("failed to backfill logs from block %d: %w", fromBlock, err)
		}
		logger.InfoCtx(ctx, "Backfilling ledger events",
			zap.Uint64("fromBlock", fromBlock),
			zap.Uint64("toBlock", latest),
			zap.Int("logs", len(history)))

		for _, vLog := range history {
			if err := s.handleLog(ctx, vLog, handler, &last); err != nil {
				return err
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("subscription error: %w", err)
		case vLog := <-logs:
			if vLog.BlockNumber < fromBlock {
				continue
			}
			if err := s.handleLog(ctx, vLog, handler, &last); err != nil {
				return err
			}
		}
	}
}

func (s *ethSubscriber) handleLog(ctx context.Context, vLog types.Log, handler messaging.EventHandler, last **domain.EventPosition) error {
	if vLog.Removed {
		logger.WarnCtx(ctx, "Skipping removed log",
			zap.String("txHash", vLog.TxHash.Hex()),
			zap.Uint64("block", vLog.BlockNumber),
			zap.Uint("logIndex", vLog.Index))
		return nil
	}

	pos := domain.EventPosition{BlockNumber: vLog.BlockNumber, LogIndex: uint64(vLog.Index)}
	if *last != nil && !(*last).Less(pos) {
		// Already delivered by the backfill
		return nil
	}

	event, err := contracts.ParseLog(s.chainID, vLog)
	if err != nil {
		if errors.Is(err, contracts.ErrUnknownLog) {
			return nil
		}
		logger.ErrorCtx(ctx, err, zap.String("message", "Error parsing log"), zap.String("txHash", vLog.TxHash.Hex()))
		*last = &pos
		return nil
	}

	timestamp, err := s.blockProvider.GetBlockTimestamp(ctx, vLog.BlockNumber)
	if err != nil {
		return fmt.Errorf("failed to get timestamp of block %d: %w", vLog.BlockNumber, err)
	}
	event.Timestamp = timestamp

	if err := handler(event); err != nil {
		return fmt.Errorf("failed to handle event %s: %w", event.ID(), err)
	}

	*last = &pos
	return nil
}

// GetLatestBlock returns the latest block number
func (s *ethSubscriber) GetLatestBlock(ctx context.Context) (uint64, error) {
	return s.blockProvider.GetLatestBlock(ctx)
}

// Close closes the connection
func (s *ethSubscriber) Close() {
	if s.client == nil {
		return
	}

	s.client.Close()
	logger.Info("Ethereum WebSocket connection closed")
}
