// Package bridge drives the Arbitrum token bridge: inbox deposits, gateway
// router transfers, ArbSys withdrawals, and the hashes and events needed to
// follow messages between the two chains.
package bridge

import (
	"context"
	"fmt"
	"math/big"

	"token-deposit-withdrawal/pkg/contracts"
	"token-deposit-withdrawal/pkg/ledger"
	"token-deposit-withdrawal/pkg/shared"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"
)

const defaultMaxGas = 1_000_000

type Options struct {
	Inbox           common.Address
	L1GatewayRouter common.Address
	L2GatewayRouter common.Address
	// MaxGas and GasPriceBid pay for auto-redeem of token deposit tickets.
	MaxGas      *big.Int
	GasPriceBid *big.Int
	// MaxSubmissionCost is queried from ArbRetryableTx when nil.
	MaxSubmissionCost *big.Int
}

type Bridge struct {
	ledgers   *ledger.Context
	opts      Options
	inbox     contracts.Bound
	l1Router  contracts.Bound
	l2Router  contracts.Bound
	arbSys    contracts.Bound
	retryable contracts.Bound
}

func New(ledgers *ledger.Context, opts Options) *Bridge {
	if opts.MaxGas == nil {
		opts.MaxGas = big.NewInt(defaultMaxGas)
	}
	return &Bridge{
		ledgers:   ledgers,
		opts:      opts,
		inbox:     contracts.NewBound(opts.Inbox, inboxABI, ledgers.L1),
		l1Router:  contracts.NewBound(opts.L1GatewayRouter, l1RouterABI, ledgers.L1),
		l2Router:  contracts.NewBound(opts.L2GatewayRouter, l2RouterABI, ledgers.L2),
		arbSys:    contracts.NewBound(ArbSysAddress, arbSysABI, ledgers.L2),
		retryable: contracts.NewBound(ArbRetryableTxAddress, retryableABI, ledgers.L2),
	}
}

// L2TokenAddress asks the L1 router where the L2 counterpart of l1Token lives.
func (b *Bridge) L2TokenAddress(ctx context.Context, l1Token common.Address) (common.Address, error) {
	out, err := b.l1Router.Call(ctx, "calculateL2TokenAddress", l1Token)
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

func (b *Bridge) gateway(ctx context.Context, l1Token common.Address) (common.Address, error) {
	out, err := b.l1Router.Call(ctx, "getGateway", l1Token)
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// ApproveToken lets the token's L1 gateway pull amount from the L1 wallet.
func (b *Bridge) ApproveToken(ctx context.Context, l1Token common.Address, amount *big.Int) (*types.Transaction, error) {
	gw, err := b.gateway(ctx, l1Token)
	if err != nil {
		return nil, err
	}
	log.Debug().Msgf("Approving gateway %s to spend %s of token %s", gw.Hex(), amount, l1Token.Hex())
	return contracts.NewERC20(l1Token, b.ledgers.L1).Approve(ctx, gw, amount)
}

func (b *Bridge) submissionCost(ctx context.Context) (*big.Int, error) {
	if b.opts.MaxSubmissionCost != nil {
		return b.opts.MaxSubmissionCost, nil
	}
	out, err := b.retryable.Call(ctx, "getSubmissionPrice", big.NewInt(0))
	if err != nil {
		return nil, fmt.Errorf("failed to get submission price: %w", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (b *Bridge) gasPriceBid(ctx context.Context) (*big.Int, error) {
	if b.opts.GasPriceBid != nil {
		return b.opts.GasPriceBid, nil
	}
	price, err := b.ledgers.L2.Backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get l2 gas price: %w", err)
	}
	return price, nil
}

// DepositETH sends amount through the inbox to the same address on L2.
func (b *Bridge) DepositETH(ctx context.Context, amount *big.Int) (*types.Transaction, error) {
	cost, err := b.submissionCost(ctx)
	if err != nil {
		return nil, err
	}
	return b.inbox.Transact(ctx, amount, "depositEth", cost)
}

// DepositToken escrows amount of l1Token in its gateway and creates a
// retryable ticket that mints on L2. Fees ride along as callvalue.
func (b *Bridge) DepositToken(ctx context.Context, l1Token common.Address, amount *big.Int) (*types.Transaction, error) {
	cost, err := b.submissionCost(ctx)
	if err != nil {
		return nil, err
	}
	bid, err := b.gasPriceBid(ctx)
	if err != nil {
		return nil, err
	}
	data, err := abi.Arguments{{Type: uint256Type}, {Type: bytesType}}.Pack(cost, []byte{})
	if err != nil {
		return nil, fmt.Errorf("failed to encode outbound transfer data: %w", err)
	}
	value := new(big.Int).Mul(b.opts.MaxGas, bid)
	value.Add(value, cost)
	return b.l1Router.Transact(ctx, value, "outboundTransfer",
		l1Token, b.ledgers.L2.Address, amount, b.opts.MaxGas, bid, data)
}

// WithdrawETH burns amount on L2 and queues its release to the L1 wallet.
func (b *Bridge) WithdrawETH(ctx context.Context, amount *big.Int) (*types.Transaction, error) {
	return b.arbSys.Transact(ctx, amount, "withdrawEth", b.ledgers.L1.Address)
}

// WithdrawERC20 burns amount of the L2 counterpart of l1Token.
func (b *Bridge) WithdrawERC20(ctx context.Context, l1Token common.Address, amount *big.Int) (*types.Transaction, error) {
	return b.l2Router.Transact(ctx, nil, "outboundTransfer", l1Token, b.ledgers.L1.Address, amount, []byte{})
}

func (b *Bridge) L2ChainID() *big.Int {
	return b.ledgers.L2.ChainID
}

func (b *Bridge) L2TransactionHash(seqNum *big.Int) common.Hash {
	return L2TransactionHash(b.ledgers.L2.ChainID, seqNum)
}

func (b *Bridge) L2RetryableTransactionHash(seqNum *big.Int) common.Hash {
	return L2RetryableTransactionHash(b.ledgers.L2.ChainID, seqNum)
}

func (b *Bridge) RetryableAutoRedeemHash(seqNum *big.Int) common.Hash {
	return RetryableAutoRedeemHash(b.ledgers.L2.ChainID, seqNum)
}

func (b *Bridge) InboxSeqNums(receipt *types.Receipt) ([]*big.Int, error) {
	return InboxSeqNums(receipt, b.opts.Inbox)
}

func (b *Bridge) WithdrawalsInL2Transaction(receipt *types.Receipt) ([]shared.WithdrawalEvent, error) {
	return WithdrawalsInL2Transaction(receipt)
}
