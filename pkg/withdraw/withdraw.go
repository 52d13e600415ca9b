package withdraw

import (
	"context"
	"fmt"
	"math/big"

	"token-deposit-withdrawal/pkg/child"
	"token-deposit-withdrawal/pkg/shared"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"
)

type Intent struct {
	Asset  shared.AssetKind
	Amount *big.Int
	// Token is the L1 token whose L2 counterpart is withdrawn.
	Token common.Address
}

type Receipt struct {
	TxHash  common.Hash
	ChildTx common.Hash
	// Event is the first withdrawal the bridge tx emitted.
	Event  shared.WithdrawalEvent
	Events []shared.WithdrawalEvent
	Raw    *types.Receipt
}

type Bridge interface {
	WithdrawETH(ctx context.Context, amount *big.Int) (*types.Transaction, error)
	WithdrawERC20(ctx context.Context, l1Token common.Address, amount *big.Int) (*types.Transaction, error)
	WithdrawalsInL2Transaction(receipt *types.Receipt) ([]shared.WithdrawalEvent, error)
}

// Drainer is the outbound side of a child.
type Drainer interface {
	Withdraw(ctx context.Context, recipient common.Address) (*types.Transaction, error)
	WithdrawEth(ctx context.Context, recipient common.Address, value *big.Int) (*types.Transaction, error)
}

type Confirmer interface {
	Confirm(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

type Coordinator struct {
	bridge    Bridge
	l2        Confirmer
	recipient common.Address
	bindChild func(common.Address) Drainer
}

// NewCoordinator drains children into recipient, the L2 wallet that then
// sends the bridge withdrawal.
func NewCoordinator(bridge Bridge, l2 Confirmer, recipient common.Address, bindChild func(common.Address) Drainer) *Coordinator {
	return &Coordinator{bridge: bridge, l2: l2, recipient: recipient, bindChild: bindChild}
}

// Withdraw drains h back to the L2 wallet and starts the bridge withdrawal
// of intent. It returns once the L2 side is confirmed; claiming on L1 is a
// separate process.
func (c *Coordinator) Withdraw(ctx context.Context, h child.Handle, intent Intent) (Receipt, error) {
	if !h.Funded {
		return Receipt{}, shared.Errorf(shared.KindProvisioning, "withdraw", "child %s is not funded", h.Address.Hex())
	}
	if intent.Asset != h.Asset {
		return Receipt{}, shared.Errorf(shared.KindConfiguration, "withdraw",
			"child %s holds %s, cannot withdraw %s", h.Address.Hex(), h.Asset, intent.Asset)
	}
	if intent.Amount == nil || intent.Amount.Sign() <= 0 {
		return Receipt{}, shared.Errorf(shared.KindConfiguration, "withdraw",
			"withdrawal amount must be positive, got %v", intent.Amount)
	}
	if intent.Asset == shared.Fungible && intent.Token == (common.Address{}) {
		return Receipt{}, shared.Errorf(shared.KindConfiguration, "withdraw", "fungible withdrawal needs the L1 token address")
	}

	childTx, err := c.drain(ctx, h, intent.Asset)
	if err != nil {
		return Receipt{}, shared.NewError(shared.KindSubmission, "drain child", err)
	}

	var tx *types.Transaction
	switch intent.Asset {
	case shared.Native:
		tx, err = c.bridge.WithdrawETH(ctx, intent.Amount)
	case shared.Fungible:
		tx, err = c.bridge.WithdrawERC20(ctx, intent.Token, intent.Amount)
	default:
		return Receipt{}, shared.Errorf(shared.KindConfiguration, "withdraw", "unknown asset kind %d", intent.Asset)
	}
	if err != nil {
		return Receipt{}, shared.NewError(shared.KindSubmission, "withdraw", err)
	}
	log.Info().Str("tx", tx.Hash().Hex()).Stringer("asset", intent.Asset).Msg("Withdrawal tx sent")

	receipt, err := c.l2.Confirm(ctx, tx)
	if err != nil {
		return Receipt{}, shared.NewError(shared.KindSubmission, "withdraw",
			fmt.Errorf("withdrawal tx %s: %w", tx.Hash().Hex(), err))
	}
	events, err := c.bridge.WithdrawalsInL2Transaction(receipt)
	if err != nil {
		return Receipt{}, shared.NewError(shared.KindMalformedReceipt, "withdraw", err)
	}
	if len(events) == 0 {
		return Receipt{}, shared.Errorf(shared.KindMalformedReceipt, "withdraw",
			"withdrawal tx %s emitted no L2ToL1Transaction", tx.Hash().Hex())
	}
	if len(events) > 1 {
		log.Warn().Msgf("Withdrawal tx %s emitted %d events, reporting the first", tx.Hash().Hex(), len(events))
	}

	ev := events[0]
	log.Info().
		Str("tx", tx.Hash().Hex()).
		Str("unique_id", ev.UniqueID.String()).
		Str("batch", ev.BatchNumber.String()).
		Str("amount", ev.Amount.String()).
		Msg("Withdrawal initiated on L2")
	return Receipt{TxHash: tx.Hash(), ChildTx: childTx, Event: ev, Events: events, Raw: receipt}, nil
}

func (c *Coordinator) drain(ctx context.Context, h child.Handle, asset shared.AssetKind) (common.Hash, error) {
	drainer := c.bindChild(h.Address)
	var (
		tx  *types.Transaction
		err error
	)
	if asset == shared.Native {
		tx, err = drainer.WithdrawEth(ctx, c.recipient, big.NewInt(0))
	} else {
		tx, err = drainer.Withdraw(ctx, c.recipient)
	}
	if err != nil {
		return common.Hash{}, err
	}
	if _, err := c.l2.Confirm(ctx, tx); err != nil {
		return common.Hash{}, fmt.Errorf("child withdrawal %s: %w", tx.Hash().Hex(), err)
	}
	log.Info().Str("child", h.Address.Hex()).Str("tx", tx.Hash().Hex()).Msg("Child drained to the L2 wallet")
	return tx.Hash(), nil
}
