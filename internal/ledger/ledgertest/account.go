package ledgertest

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/feral-file/ff-agent-market/internal/domain"
	"github.com/feral-file/ff-agent-market/internal/ledger"
)

// accountLedger binds the simulator to a signing account
type accountLedger struct {
	sim     *Simulator
	account string
}

func (a *accountLedger) Account() string {
	return a.account
}

func (a *accountLedger) MarketplaceAddress() string {
	return a.sim.marketAddr
}

func (a *accountLedger) MintAgent(ctx context.Context, to string, agent domain.AgentMetadata) (*ledger.TxResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.sim.mu.Lock()
	defer a.sim.mu.Unlock()
	return a.sim.mintAgent(a.account, to, agent)
}

func (a *accountLedger) SetMarketplace(ctx context.Context, marketplace string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.sim.mu.Lock()
	defer a.sim.mu.Unlock()
	return a.sim.setMarketplace(a.account, marketplace)
}

func (a *accountLedger) Approve(ctx context.Context, operator string, tokenID *big.Int) (*ledger.TxResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.sim.mu.Lock()
	defer a.sim.mu.Unlock()
	return a.sim.approve(a.account, operator, tokenID)
}

func (a *accountLedger) ListAgent(ctx context.Context, tokenID, price *big.Int) (*ledger.TxResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.sim.mu.Lock()
	defer a.sim.mu.Unlock()
	return a.sim.listAgent(a.account, tokenID, price)
}

func (a *accountLedger) CancelListing(ctx context.Context, listingID *big.Int) (*ledger.TxResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.sim.mu.Lock()
	defer a.sim.mu.Unlock()
	return a.sim.cancelListing(a.account, listingID)
}

func (a *accountLedger) BuyListing(ctx context.Context, listingID, value *big.Int) (*ledger.TxResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.sim.mu.Lock()
	defer a.sim.mu.Unlock()
	return a.sim.buyListing(a.account, listingID, value)
}

func (a *accountLedger) GetAgent(ctx context.Context, tokenID *big.Int) (*domain.AgentMetadata, error) {
	a.sim.mu.Lock()
	defer a.sim.mu.Unlock()
	agent, ok := a.sim.agents[tokenID.String()]
	if !ok {
		return nil, ledger.Reject("getAgent", ledger.ReasonNoToken)
	}
	agent.Capabilities = append([]string(nil), agent.Capabilities...)
	return &agent, nil
}

func (a *accountLedger) GetApproved(ctx context.Context, tokenID *big.Int) (string, error) {
	a.sim.mu.Lock()
	defer a.sim.mu.Unlock()
	if _, ok := a.sim.owners[tokenID.String()]; !ok {
		return "", ledger.Reject("getApproved", ledger.ReasonNoToken)
	}
	approved, ok := a.sim.approvals[tokenID.String()]
	if !ok {
		return common.Address{}.Hex(), nil
	}
	return approved, nil
}

func (a *accountLedger) OwnerOf(ctx context.Context, tokenID *big.Int) (string, error) {
	a.sim.mu.Lock()
	defer a.sim.mu.Unlock()
	owner, ok := a.sim.owners[tokenID.String()]
	if !ok {
		return "", ledger.Reject("ownerOf", ledger.ReasonNoToken)
	}
	return owner, nil
}

func (a *accountLedger) TotalMinted(ctx context.Context) (*big.Int, error) {
	a.sim.mu.Lock()
	defer a.sim.mu.Unlock()
	return new(big.Int).Set(a.sim.minted), nil
}

func (a *accountLedger) NextListingID(ctx context.Context) (*big.Int, error) {
	a.sim.mu.Lock()
	defer a.sim.mu.Unlock()
	return new(big.Int).Set(a.sim.nextListingID), nil
}
