package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/feral-file/ff-agent-market/internal/adapter"
	"github.com/feral-file/ff-agent-market/internal/logger"
)

const (
	// defaultStepSize is the widest block range requested in one eth_getLogs call
	defaultStepSize = uint64(10000)
	// filterTimeout bounds a whole paginated FilterLogs call
	filterTimeout = time.Minute
)

//go:generate mockgen -source=client.go -destination=../../mocks/ethereum_client.go -package=mocks -mock_names=EthereumClient=MockEthereumClient

// EthereumClient is the log access needed by the ledger event subscriber
type EthereumClient interface {
	// SubscribeFilterLogs subscribes to new logs matching the query
	SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)

	// FilterLogs returns historical logs, paginating the block range to stay under provider limits
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)

	// HeaderByNumber returns a header by number (nil for latest)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)

	// Close closes the connection
	Close()
}

type ethereumClient struct {
	client   adapter.EthClient
	stepSize uint64
}

// NewClient wraps an RPC client. stepSize 0 uses the default of 10k blocks.
func NewClient(client adapter.EthClient, stepSize uint64) EthereumClient {
	if stepSize == 0 {
		stepSize = defaultStepSize
	}
	return &ethereumClient{client: client, stepSize: stepSize}
}

// SubscribeFilterLogs subscribes to filter logs
func (c *ethereumClient) SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return c.client.SubscribeFilterLogs(ctx, query, ch)
}

// FilterLogs handles pagination for eth_getLogs to work around provider result limits
func (c *ethereumClient) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, filterTimeout)
	defer cancel()

	// If blockhash is specified, use it directly (no pagination needed)
	if query.BlockHash != nil {
		return c.client.FilterLogs(timeoutCtx, query)
	}

	var fromBlock, toBlock *big.Int
	if query.FromBlock != nil {
		fromBlock = query.FromBlock
	} else {
		fromBlock = big.NewInt(0) // Genesis
	}

	if query.ToBlock != nil {
		toBlock = query.ToBlock
	} else {
		latestBlock, err := c.client.HeaderByNumber(timeoutCtx, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to get latest block: %w", err)
		}
		toBlock = latestBlock.Number
	}

	if fromBlock.Cmp(toBlock) > 0 {
		return nil, nil
	}

	rangeQuery := query
	rangeQuery.FromBlock = new(big.Int).Set(fromBlock)
	rangeQuery.ToBlock = new(big.Int).Set(toBlock)

	return c.getLogsWithRetry(timeoutCtx, rangeQuery, c.stepSize)
}

// getLogsWithRetry processes the range from query.FromBlock to query.ToBlock in chunks,
// halving the chunk size whenever the provider reports too many results
func (c *ethereumClient) getLogsWithRetry(ctx context.Context, query ethereum.FilterQuery, stepSize uint64) ([]types.Log, error) {
	currentStepSize := stepSize

	var allLogs []types.Log
	currentFrom := new(big.Int).Set(query.FromBlock)

	for currentFrom.Cmp(query.ToBlock) <= 0 {
		currentTo := new(big.Int).Add(currentFrom, new(big.Int).SetUint64(currentStepSize-1))
		if currentTo.Cmp(query.ToBlock) > 0 {
			currentTo.Set(query.ToBlock)
		}

		queryCopy := query
		queryCopy.FromBlock = new(big.Int).Set(currentFrom)
		queryCopy.ToBlock = new(big.Int).Set(currentTo)

		logs, err := c.client.FilterLogs(ctx, queryCopy)
		if err == nil {
			allLogs = append(allLogs, logs...)
			currentFrom.SetUint64(currentTo.Uint64() + 1)
			continue
		}

		if !isTooManyResultsError(err) || currentStepSize == 1 {
			return nil, fmt.Errorf("failed to get logs for range %d-%d: %w", currentFrom.Uint64(), currentTo.Uint64(), err)
		}

		currentStepSize = currentStepSize / 2

		logger.WarnCtx(ctx, "Too many results, reducing step size",
			zap.Uint64("oldStepSize", currentStepSize*2),
			zap.Uint64("newStepSize", currentStepSize),
			zap.Uint64("fromBlock", currentFrom.Uint64()),
			zap.Uint64("toBlock", currentTo.Uint64()))
	}

	return allLogs, nil
}

// isTooManyResultsError checks if the error is related to too many results
func isTooManyResultsError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	return strings.Contains(errStr, "query returned more than 10000 results") ||
		strings.Contains(errStr, "query timeout exceeded") ||
		strings.Contains(errStr, "too many results") ||
		strings.Contains(errStr, "exceeded maximum") ||
		strings.Contains(errStr, "block range")
}

// HeaderByNumber returns a header by number
func (c *ethereumClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return c.client.HeaderByNumber(ctx, number)
}

// Close closes the connection
func (c *ethereumClient) Close() {
	c.client.Close()
}
