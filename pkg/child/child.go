// Package child provisions and funds the factory child that the withdrawal
// leg draws from.
package child

import (
	"context"
	"fmt"
	"math/big"

	"token-deposit-withdrawal/pkg/shared"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"
)

// DefaultID is the child id used when none is configured.
const DefaultID = 123

// Gas limit for plain value transfers into an existing child. Its receive
// hook costs more than the 21000 of a transfer to an account.
const valueTransferGas = 1_000_000

type Request struct {
	ID    *big.Int
	Asset shared.AssetKind
	// Amount funds the child after it is resolved.
	Amount *big.Int
	// Token is the L2 token the child holds.
	Token common.Address
	// Existing binds to a child deployed by an earlier run.
	Existing common.Address
}

type Handle struct {
	ID      *big.Int
	Address common.Address
	Asset   shared.AssetKind
	Amount  *big.Int
	Created bool
	// Funded is only set once the funding tx is confirmed.
	Funded    bool
	FundingTx common.Hash
}

type Factory interface {
	Address() common.Address
	CreateChild(ctx context.Context, childID *big.Int, token common.Address) (*types.Transaction, error)
	ChildAddress(ctx context.Context, childID *big.Int) (common.Address, error)
}

type Token interface {
	Approve(ctx context.Context, spender common.Address, amount *big.Int) (*types.Transaction, error)
	Transfer(ctx context.Context, to common.Address, amount *big.Int) (*types.Transaction, error)
}

// Receiver is the payable funding entry point of a created child.
type Receiver interface {
	ReceiveEth(ctx context.Context, value *big.Int) (*types.Transaction, error)
}

// Wallet is the L2 identity that pays for and funds the child.
type Wallet interface {
	SendValue(ctx context.Context, to common.Address, amount *big.Int, gasLimit uint64) (*types.Transaction, error)
	Confirm(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

type Provisioner struct {
	factory   Factory
	token     Token
	wallet    Wallet
	bindChild func(common.Address) Receiver
}

func NewProvisioner(factory Factory, token Token, wallet Wallet, bindChild func(common.Address) Receiver) *Provisioner {
	return &Provisioner{factory: factory, token: token, wallet: wallet, bindChild: bindChild}
}

// Provision resolves the child for req.ID, creating it through the factory
// when no existing child is given, and funds it with req.Amount.
func (p *Provisioner) Provision(ctx context.Context, req Request) (Handle, error) {
	if req.ID == nil {
		req.ID = big.NewInt(DefaultID)
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return Handle{}, shared.Errorf(shared.KindConfiguration, "provision child",
			"funding amount must be positive, got %v", req.Amount)
	}
	h := Handle{ID: req.ID, Asset: req.Asset, Amount: req.Amount}

	if req.Existing != (common.Address{}) {
		log.Info().Msgf("Using deployed child at %s", req.Existing.Hex())
		h.Address = req.Existing
	} else {
		address, err := p.create(ctx, req)
		if err != nil {
			return Handle{}, shared.NewError(shared.KindProvisioning, "provision child", err)
		}
		h.Address = address
		h.Created = true
	}

	tx, err := p.fund(ctx, h)
	if err != nil {
		return h, shared.NewError(shared.KindProvisioning, "fund child", err)
	}
	if _, err := p.wallet.Confirm(ctx, tx); err != nil {
		return h, shared.NewError(shared.KindProvisioning, "fund child",
			fmt.Errorf("funding tx %s: %w", tx.Hash().Hex(), err))
	}
	h.Funded = true
	h.FundingTx = tx.Hash()
	log.Info().
		Str("child", h.Address.Hex()).
		Stringer("asset", h.Asset).
		Str("amount", h.Amount.String()).
		Str("tx", tx.Hash().Hex()).
		Msg("Child funded")
	return h, nil
}

// Lookup returns the address the factory assigns to id.
func (p *Provisioner) Lookup(ctx context.Context, id *big.Int) (common.Address, error) {
	return p.factory.ChildAddress(ctx, id)
}

func (p *Provisioner) create(ctx context.Context, req Request) (common.Address, error) {
	if req.Token == (common.Address{}) {
		return common.Address{}, fmt.Errorf("child creation needs the L2 token address")
	}
	if req.Asset == shared.Fungible {
		tx, err := p.token.Approve(ctx, p.factory.Address(), req.Amount)
		if err != nil {
			return common.Address{}, fmt.Errorf("failed to approve factory: %w", err)
		}
		if _, err := p.wallet.Confirm(ctx, tx); err != nil {
			return common.Address{}, fmt.Errorf("factory approval %s: %w", tx.Hash().Hex(), err)
		}
	}

	tx, err := p.factory.CreateChild(ctx, req.ID, req.Token)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to create child %s: %w", req.ID, err)
	}
	if _, err := p.wallet.Confirm(ctx, tx); err != nil {
		return common.Address{}, fmt.Errorf("child creation %s: %w", tx.Hash().Hex(), err)
	}

	address, err := p.factory.ChildAddress(ctx, req.ID)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to look up child %s: %w", req.ID, err)
	}
	if address == (common.Address{}) {
		return common.Address{}, fmt.Errorf("factory %s has no child %s after creation", p.factory.Address().Hex(), req.ID)
	}
	log.Info().Msgf("Child %s created at %s, tx: %s", req.ID, address.Hex(), tx.Hash().Hex())
	return address, nil
}

func (p *Provisioner) fund(ctx context.Context, h Handle) (*types.Transaction, error) {
	switch {
	case h.Asset == shared.Fungible:
		return p.token.Transfer(ctx, h.Address, h.Amount)
	case h.Created:
		return p.bindChild(h.Address).ReceiveEth(ctx, h.Amount)
	default:
		return p.wallet.SendValue(ctx, h.Address, h.Amount, valueTransferGas)
	}
}
