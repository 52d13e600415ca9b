// Package tracker follows a deposit's cross-layer message to its execution
// on L2.
//
// A single deposit call can in principle emit several messages. The flow only
// ever produces one, so the tracker always follows the first sequence number
// in the receipt.
package tracker

import (
	"context"
	"errors"
	"math/big"
	"time"

	"token-deposit-withdrawal/pkg/deposit"
	"token-deposit-withdrawal/pkg/shared"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTimeout      = 10 * time.Minute
	DefaultPollInterval = 5 * time.Second
)

type Status int

const (
	Pending Status = iota
	Included
	TimedOut
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Included:
		return "included"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

type Message struct {
	SeqNum *big.Int
	Asset  shared.AssetKind
	// L2TxHash is derived before the wait starts; it is not in the deposit
	// receipt.
	L2TxHash common.Hash
	// AutoRedeemHash is only set for fungible deposits.
	AutoRedeemHash common.Hash
	Status         Status
	Receipt        *types.Receipt
	Elapsed        time.Duration
}

type HashDeriver interface {
	L2TransactionHash(seqNum *big.Int) common.Hash
	L2RetryableTransactionHash(seqNum *big.Int) common.Hash
	RetryableAutoRedeemHash(seqNum *big.Int) common.Hash
}

type Tracker struct {
	hashes    HashDeriver
	l2        shared.ReceiptFetcher
	interval  time.Duration
	onDerived func(Message)
}

func NewTracker(hashes HashDeriver, l2 shared.ReceiptFetcher, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Tracker{hashes: hashes, l2: l2, interval: interval}
}

// OnDerived registers fn to see each message after derivation and before
// the wait starts.
func (t *Tracker) OnDerived(fn func(Message)) {
	t.onDerived = fn
}

// Derive computes the L2 transaction that executes message seqNum. Native
// deposits execute directly; fungible deposits execute through the
// retryable ticket's redemption.
func (t *Tracker) Derive(seqNum *big.Int, asset shared.AssetKind) Message {
	msg := Message{SeqNum: new(big.Int).Set(seqNum), Asset: asset, Status: Pending}
	switch asset {
	case shared.Fungible:
		msg.L2TxHash = t.hashes.L2RetryableTransactionHash(seqNum)
		msg.AutoRedeemHash = t.hashes.RetryableAutoRedeemHash(seqNum)
	default:
		msg.L2TxHash = t.hashes.L2TransactionHash(seqNum)
	}
	return msg
}

// Track follows the first message emitted by receipt until it is included
// on L2 or timeout elapses.
func (t *Tracker) Track(ctx context.Context, receipt deposit.Receipt, asset shared.AssetKind, timeout time.Duration) (Message, error) {
	if len(receipt.SeqNums) == 0 {
		return Message{}, shared.Errorf(shared.KindMalformedReceipt, "track",
			"deposit tx %s emitted no inbox message", receipt.TxHash.Hex())
	}
	if len(receipt.SeqNums) > 1 {
		log.Warn().Msgf("Deposit tx %s emitted %d messages, following the first", receipt.TxHash.Hex(), len(receipt.SeqNums))
	}
	return t.Await(ctx, t.Derive(receipt.SeqNums[0], asset), timeout)
}

// Await waits for an already derived message. It resumes tracking without
// the deposit receipt.
func (t *Tracker) Await(ctx context.Context, msg Message, timeout time.Duration) (Message, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if t.onDerived != nil {
		t.onDerived(msg)
	}
	log.Info().
		Str("seq_num", msg.SeqNum.String()).
		Str("l2_tx", msg.L2TxHash.Hex()).
		Stringer("asset", msg.Asset).
		Dur("timeout", timeout).
		Msg("Waiting for L2 execution of the deposit message")
	if msg.AutoRedeemHash != (common.Hash{}) {
		log.Debug().Str("auto_redeem_tx", msg.AutoRedeemHash.Hex()).Msg("Retryable auto-redeem")
	}

	wait := NewWait(ctx, timeout, t.interval)
	err := wait.Until(func(ctx context.Context) (bool, error) {
		receipt, err := t.l2.TransactionReceipt(ctx, msg.L2TxHash)
		if err != nil {
			if !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil {
				log.Warn().Err(err).Msg("Failed to query L2 receipt, polling again")
			}
			return false, nil
		}
		msg.Receipt = receipt
		return true, nil
	})
	msg.Elapsed = wait.Elapsed()

	if err != nil {
		if errors.Is(err, ErrBoundReached) {
			msg.Status = TimedOut
		}
		return msg, shared.NewError(shared.KindTimeout, "track", err).
			WithMeta("seq_num", msg.SeqNum.String()).
			WithMeta("l2_tx_hash", msg.L2TxHash.Hex()).
			WithMeta("asset", msg.Asset.String()).
			WithMeta("elapsed", msg.Elapsed.String())
	}

	msg.Status = Included
	if msg.Receipt.Status != types.ReceiptStatusSuccessful {
		log.Warn().Str("l2_tx", msg.L2TxHash.Hex()).Msg("L2 execution of the deposit message failed")
	}
	log.Info().Msgf("Deposit message %s included in L2 block %s after %s",
		msg.SeqNum, msg.Receipt.BlockNumber, msg.Elapsed.Round(time.Second))
	return msg, nil
}
