package contracts

import (
	"context"
	"fmt"
	"math/big"

	"token-deposit-withdrawal/pkg/ledger"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Bound pairs a contract binding with the identity that signs for it.
type Bound struct {
	address  common.Address
	contract *bind.BoundContract
	id       *ledger.Identity
}

func NewBound(address common.Address, parsed abi.ABI, id *ledger.Identity) Bound {
	return Bound{
		address:  address,
		contract: bind.NewBoundContract(address, parsed, id.Backend, id.Backend, id.Backend),
		id:       id,
	}
}

func (b Bound) Address() common.Address {
	return b.address
}

func (b Bound) Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	err := b.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s on %s: %w", method, b.address.Hex(), err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("call %s on %s returned nothing", method, b.address.Hex())
	}
	return out, nil
}

func (b Bound) Transact(ctx context.Context, value *big.Int, method string, args ...interface{}) (*types.Transaction, error) {
	opts, err := b.id.TransactOpts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get transact opts: %w", err)
	}
	opts.Value = value
	tx, err := b.contract.Transact(opts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to send %s to %s: %w", method, b.address.Hex(), err)
	}
	return tx, nil
}

type ERC20 struct {
	Bound
}

func NewERC20(address common.Address, id *ledger.Identity) *ERC20 {
	return &ERC20{NewBound(address, erc20ABI, id)}
}

func (t *ERC20) BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error) {
	out, err := t.Call(ctx, "balanceOf", holder)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (t *ERC20) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	out, err := t.Call(ctx, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (t *ERC20) Approve(ctx context.Context, spender common.Address, amount *big.Int) (*types.Transaction, error) {
	return t.Transact(ctx, nil, "approve", spender, amount)
}

func (t *ERC20) Transfer(ctx context.Context, to common.Address, amount *big.Int) (*types.Transaction, error) {
	return t.Transact(ctx, nil, "transfer", to, amount)
}

// Factory deploys children at addresses determined by the factory and the id.
type Factory struct {
	Bound
}

func NewFactory(address common.Address, id *ledger.Identity) *Factory {
	return &Factory{NewBound(address, factoryABI, id)}
}

func (f *Factory) CreateChild(ctx context.Context, childID *big.Int, token common.Address) (*types.Transaction, error) {
	return f.Transact(ctx, nil, "createChild", childID, token)
}

func (f *Factory) ChildAddress(ctx context.Context, childID *big.Int) (common.Address, error) {
	out, err := f.Call(ctx, "getChildAddress", childID)
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

type Child struct {
	Bound
}

func NewChild(address common.Address, id *ledger.Identity) *Child {
	return &Child{NewBound(address, childABI, id)}
}

func (c *Child) Withdraw(ctx context.Context, recipient common.Address) (*types.Transaction, error) {
	return c.Transact(ctx, nil, "withdraw", recipient)
}

func (c *Child) WithdrawEth(ctx context.Context, recipient common.Address, value *big.Int) (*types.Transaction, error) {
	return c.Transact(ctx, value, "withdrawEth", recipient)
}

func (c *Child) ReceiveEth(ctx context.Context, value *big.Int) (*types.Transaction, error) {
	return c.Transact(ctx, value, "receiveEth")
}
