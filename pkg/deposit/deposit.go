package deposit

import (
	"context"
	"fmt"
	"math/big"

	"token-deposit-withdrawal/pkg/shared"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"
)

type Intent struct {
	Asset  shared.AssetKind
	Amount *big.Int
	// Token is the resolved L1 token, only read for fungible deposits.
	Token common.Address
}

func (i Intent) validate() error {
	if i.Amount == nil || i.Amount.Sign() <= 0 {
		return fmt.Errorf("deposit amount must be positive, got %v", i.Amount)
	}
	if i.Asset == shared.Fungible && i.Token == (common.Address{}) {
		return fmt.Errorf("fungible deposit needs a resolved token address")
	}
	return nil
}

type Receipt struct {
	TxHash common.Hash
	// SeqNums are the cross-layer message numbers in emission order.
	SeqNums []*big.Int
	Raw     *types.Receipt
}

type Bridge interface {
	ApproveToken(ctx context.Context, l1Token common.Address, amount *big.Int) (*types.Transaction, error)
	DepositETH(ctx context.Context, amount *big.Int) (*types.Transaction, error)
	DepositToken(ctx context.Context, l1Token common.Address, amount *big.Int) (*types.Transaction, error)
	InboxSeqNums(receipt *types.Receipt) ([]*big.Int, error)
}

type Confirmer interface {
	Confirm(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

type Coordinator struct {
	bridge Bridge
	l1     Confirmer
}

func NewCoordinator(bridge Bridge, l1 Confirmer) *Coordinator {
	return &Coordinator{bridge: bridge, l1: l1}
}

// Deposit moves intent from L1 to L2. Fungible deposits are approved and the
// approval confirmed before the deposit is sent.
func (c *Coordinator) Deposit(ctx context.Context, intent Intent) (Receipt, error) {
	if err := intent.validate(); err != nil {
		return Receipt{}, shared.NewError(shared.KindConfiguration, "deposit", err)
	}

	if intent.Asset == shared.Fungible {
		if err := c.approve(ctx, intent); err != nil {
			return Receipt{}, err
		}
	}

	var (
		tx  *types.Transaction
		err error
	)
	switch intent.Asset {
	case shared.Native:
		tx, err = c.bridge.DepositETH(ctx, intent.Amount)
	case shared.Fungible:
		tx, err = c.bridge.DepositToken(ctx, intent.Token, intent.Amount)
	default:
		return Receipt{}, shared.Errorf(shared.KindConfiguration, "deposit", "unknown asset kind %d", intent.Asset)
	}
	if err != nil {
		return Receipt{}, shared.NewError(shared.KindSubmission, "deposit", err)
	}
	log.Info().
		Str("tx", tx.Hash().Hex()).
		Stringer("asset", intent.Asset).
		Str("amount", intent.Amount.String()).
		Msg("Deposit tx sent")

	receipt, err := c.l1.Confirm(ctx, tx)
	if err != nil {
		return Receipt{}, shared.NewError(shared.KindSubmission, "deposit",
			fmt.Errorf("deposit tx %s: %w", tx.Hash().Hex(), err))
	}
	seqNums, err := c.bridge.InboxSeqNums(receipt)
	if err != nil {
		return Receipt{}, shared.NewError(shared.KindMalformedReceipt, "deposit", err)
	}
	log.Info().Msgf("Deposit tx included in L1 block %s, hash: %s, messages: %v",
		receipt.BlockNumber, receipt.TxHash.Hex(), seqNums)

	return Receipt{TxHash: tx.Hash(), SeqNums: seqNums, Raw: receipt}, nil
}

func (c *Coordinator) approve(ctx context.Context, intent Intent) error {
	tx, err := c.bridge.ApproveToken(ctx, intent.Token, intent.Amount)
	if err != nil {
		return shared.NewError(shared.KindApproval, "approve", err)
	}
	log.Debug().Str("tx", tx.Hash().Hex()).Msg("Approval tx sent")
	if _, err := c.l1.Confirm(ctx, tx); err != nil {
		return shared.NewError(shared.KindApproval, "approve",
			fmt.Errorf("approval tx %s: %w", tx.Hash().Hex(), err))
	}
	log.Info().Str("token", intent.Token.Hex()).Str("tx", tx.Hash().Hex()).Msg("Token approved for the gateway")
	return nil
}
