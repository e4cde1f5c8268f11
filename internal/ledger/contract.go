package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/feral-file/ff-agent-market/internal/contracts"
	"github.com/feral-file/ff-agent-market/internal/domain"
	"github.com/feral-file/ff-agent-market/internal/logger"
)

// Backend is the RPC surface needed to call, transact and wait for receipts.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Config holds the configuration of a contract-backed ledger
type Config struct {
	Chain              domain.Chain
	NFTAddress         string
	MarketplaceAddress string
	// PrivateKey is the hex encoded signing key; reads work without it
	PrivateKey     string
	ReceiptTimeout time.Duration
}

type contractLedger struct {
	backend     Backend
	chain       domain.Chain
	nftAddr     common.Address
	marketAddr  common.Address
	nft         *bind.BoundContract
	marketplace *bind.BoundContract
	key         *ecdsa.PrivateKey
	account     common.Address
	chainID     *big.Int
	timeout     time.Duration
}

// NewContractLedger binds the deployed contract pair
func NewContractLedger(cfg Config, backend Backend) (Ledger, error) {
	if !common.IsHexAddress(cfg.NFTAddress) {
		return nil, fmt.Errorf("invalid nft address: %q", cfg.NFTAddress)
	}
	if !common.IsHexAddress(cfg.MarketplaceAddress) {
		return nil, fmt.Errorf("invalid marketplace address: %q", cfg.MarketplaceAddress)
	}

	chainID, err := cfg.Chain.ChainID()
	if err != nil {
		return nil, err
	}

	l := &contractLedger{
		backend:    backend,
		chain:      cfg.Chain,
		nftAddr:    common.HexToAddress(cfg.NFTAddress),
		marketAddr: common.HexToAddress(cfg.MarketplaceAddress),
		chainID:    chainID,
		timeout:    cfg.ReceiptTimeout,
	}
	if l.timeout <= 0 {
		l.timeout = 2 * time.Minute
	}
	l.nft = bind.NewBoundContract(l.nftAddr, contracts.AgentNFT, backend, backend, backend)
	l.marketplace = bind.NewBoundContract(l.marketAddr, contracts.Marketplace, backend, backend, backend)

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		l.key = key
		l.account = crypto.PubkeyToAddress(key.PublicKey)
	}

	return l, nil
}

func (l *contractLedger) Account() string {
	return l.account.Hex()
}

func (l *contractLedger) MarketplaceAddress() string {
	return l.marketAddr.Hex()
}

func (l *contractLedger) MintAgent(ctx context.Context, to string, agent domain.AgentMetadata) (*TxResult, error) {
	if !common.IsHexAddress(to) {
		return nil, fmt.Errorf("invalid recipient address: %q", to)
	}
	capabilities := agent.Capabilities
	if capabilities == nil {
		capabilities = []string{}
	}
	return l.transact(ctx, l.nft, contracts.AgentNFT, l.nftAddr, nil, "mintAgent",
		common.HexToAddress(to), agent.Name, agent.Description, agent.Model, capabilities, agent.License)
}

func (l *contractLedger) SetMarketplace(ctx context.Context, marketplace string) error {
	if !common.IsHexAddress(marketplace) {
		return fmt.Errorf("invalid marketplace address: %q", marketplace)
	}
	_, err := l.transact(ctx, l.nft, contracts.AgentNFT, l.nftAddr, nil, "setMarketplace", common.HexToAddress(marketplace))
	return err
}

func (l *contractLedger) Approve(ctx context.Context, operator string, tokenID *big.Int) (*TxResult, error) {
	if !common.IsHexAddress(operator) {
		return nil, fmt.Errorf("invalid operator address: %q", operator)
	}
	return l.transact(ctx, l.nft, contracts.AgentNFT, l.nftAddr, nil, "approve", common.HexToAddress(operator), tokenID)
}

func (l *contractLedger) ListAgent(ctx context.Context, tokenID, price *big.Int) (*TxResult, error) {
	return l.transact(ctx, l.marketplace, contracts.Marketplace, l.marketAddr, nil, "listAgent", tokenID, price)
}

func (l *contractLedger) CancelListing(ctx context.Context, listingID *big.Int) (*TxResult, error) {
	return l.transact(ctx, l.marketplace, contracts.Marketplace, l.marketAddr, nil, "cancelListing", listingID)
}

func (l *contractLedger) BuyListing(ctx context.Context, listingID, value *big.Int) (*TxResult, error) {
	return l.transact(ctx, l.marketplace, contracts.Marketplace, l.marketAddr, value, "buyListing", listingID)
}

func (l *contractLedger) GetAgent(ctx context.Context, tokenID *big.Int) (*domain.AgentMetadata, error) {
	var out []interface{}
	if err := l.nft.Call(&bind.CallOpts{Context: ctx}, &out, "getAgent", tokenID); err != nil {
		if rejection := decodeRejection("getAgent", err); rejection != nil {
			return nil, rejection
		}
		return nil, fmt.Errorf("failed to call getAgent: %w", err)
	}
	return agentFromOutputs(out)
}

func (l *contractLedger) GetApproved(ctx context.Context, tokenID *big.Int) (string, error) {
	return l.callAddress(ctx, l.nft, "getApproved", tokenID)
}

func (l *contractLedger) OwnerOf(ctx context.Context, tokenID *big.Int) (string, error) {
	return l.callAddress(ctx, l.nft, "ownerOf", tokenID)
}

func (l *contractLedger) TotalMinted(ctx context.Context) (*big.Int, error) {
	return l.callBig(ctx, l.nft, "totalMinted")
}

func (l *contractLedger) NextListingID(ctx context.Context) (*big.Int, error) {
	return l.callBig(ctx, l.marketplace, "nextListingId")
}

func (l *contractLedger) callAddress(ctx context.Context, contract *bind.BoundContract, method string, params ...interface{}) (string, error) {
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
		if rejection := decodeRejection(method, err); rejection != nil {
			return "", rejection
		}
		return "", fmt.Errorf("failed to call %s: %w", method, err)
	}
	if len(out) != 1 {
		return "", fmt.Errorf("unexpected %s output length: %d", method, len(out))
	}
	address, ok := out[0].(common.Address)
	if !ok {
		return "", fmt.Errorf("unexpected %s output type: %T", method, out[0])
	}
	return address.Hex(), nil
}

func (l *contractLedger) callBig(ctx context.Context, contract *bind.BoundContract, method string) (*big.Int, error) {
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method); err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected %s output length: %d", method, len(out))
	}
	n, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s output type: %T", method, out[0])
	}
	return n, nil
}

// transact simulates the call first so that revert reasons are decoded from the
// RPC error data, then signs, sends and waits for the receipt.
func (l *contractLedger) transact(
	ctx context.Context,
	contract *bind.BoundContract,
	contractABI abi.ABI,
	to common.Address,
	value *big.Int,
	method string,
	params ...interface{},
) (*TxResult, error) {
	if l.key == nil {
		return nil, fmt.Errorf("%s requires a signing key", method)
	}

	input, err := contractABI.Pack(method, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	_, err = l.backend.CallContract(ctx, ethereum.CallMsg{
		From:  l.account,
		To:    &to,
		Value: value,
		Data:  input,
	}, nil)
	if err != nil {
		if rejection := decodeRejection(method, err); rejection != nil {
			return nil, rejection
		}
		return nil, fmt.Errorf("failed to simulate %s: %w", method, err)
	}

	opts, err := bind.NewKeyedTransactorWithChainID(l.key, l.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	opts.Context = ctx
	opts.Value = value

	tx, err := contract.Transact(opts, method, params...)
	if err != nil {
		if rejection := decodeRejection(method, err); rejection != nil {
			return nil, rejection
		}
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}
	logger.InfoCtx(ctx, "Transaction sent", zap.String("method", method), zap.String("txHash", tx.Hash().Hex()))

	waitCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, l.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for %s receipt: %w", method, err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, Reject(method, ReasonUnknown)
	}

	return l.resultFromReceipt(ctx, receipt)
}

func (l *contractLedger) resultFromReceipt(ctx context.Context, receipt *types.Receipt) (*TxResult, error) {
	result, err := ParseReceipt(l.chain, receipt)
	if err != nil {
		return nil, err
	}

	header, err := l.backend.HeaderByNumber(ctx, receipt.BlockNumber)
	if err != nil {
		logger.WarnCtx(ctx, "Failed to fetch block header for receipt", zap.Error(err), zap.Uint64("block", result.BlockNumber))
		return result, nil
	}
	timestamp := time.Unix(int64(header.Time), 0).UTC() //nolint:gosec,G115
	for _, e := range result.Events {
		e.Timestamp = timestamp
	}
	return result, nil
}

// ParseReceipt decodes the projected events of a receipt. Logs of other events are skipped.
func ParseReceipt(chain domain.Chain, receipt *types.Receipt) (*TxResult, error) {
	result := &TxResult{TxHash: receipt.TxHash.Hex()}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}

	for _, vLog := range receipt.Logs {
		if vLog == nil {
			continue
		}
		event, err := contracts.ParseLog(chain, *vLog)
		if err != nil {
			if errors.Is(err, contracts.ErrUnknownLog) {
				continue
			}
			return nil, fmt.Errorf("failed to parse receipt log %d: %w", vLog.Index, err)
		}
		result.Events = append(result.Events, event)
	}

	return result, nil
}

func agentFromOutputs(out []interface{}) (*domain.AgentMetadata, error) {
	if len(out) != 5 {
		return nil, fmt.Errorf("unexpected getAgent output length: %d", len(out))
	}
	name, ok1 := out[0].(string)
	description, ok2 := out[1].(string)
	model, ok3 := out[2].(string)
	capabilities, ok4 := out[3].([]string)
	license, ok5 := out[4].(string)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return nil, fmt.Errorf("unexpected getAgent output types")
	}
	return &domain.AgentMetadata{
		Name:         name,
		Description:  description,
		Model:        model,
		Capabilities: capabilities,
		License:      license,
	}, nil
}
