package shared

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
)

// ErrReverted is returned by WaitMined when a transaction is included with a
// failed status.
var ErrReverted = errors.New("transaction reverted")

type FeeSuggester interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

type ReceiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type NonceReader interface {
	FeeSuggester
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// CreateTransactOpts builds keyed transact opts with the pending nonce and
// suggested fees. A zero gasLimit leaves estimation to the bound contract.
// Chains without a fee market (no eth_maxPriorityFeePerGas) get a legacy gas price.
func CreateTransactOpts(
	ctx context.Context,
	privateKey *ecdsa.PrivateKey,
	srcChainID *big.Int,
	srcClient FeeSuggester,
	gasLimit uint64,
) (*bind.TransactOpts, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(privateKey, srcChainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	auth.Context = ctx

	fromAddress := auth.From
	nonce, err := srcClient.PendingNonceAt(ctx, fromAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending nonce: %w", err)
	}
	auth.Nonce = new(big.Int).SetUint64(nonce)

	// Returns priority fee per gas + base fee per gas
	gasPrice, err := srcClient.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	// Returns priority fee per gas
	gasTip, err := srcClient.SuggestGasTipCap(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("gas tip cap unavailable, using legacy gas price")
		auth.GasPrice = gasPrice
	} else {
		auth.GasFeeCap = gasPrice
		auth.GasTipCap = gasTip
	}

	auth.GasLimit = gasLimit
	return auth, nil
}

// WaitMined polls for the receipt of tx until it is included, the attempt
// budget is spent, or ctx is done. A receipt with a failed status yields
// ErrReverted alongside the receipt.
func WaitMined(
	ctx context.Context,
	client ReceiptFetcher,
	tx *types.Transaction,
	interval time.Duration,
	maxAttempts int,
) (*types.Receipt, error) {
	idx := 0
	for {
		if idx >= maxAttempts {
			return nil, fmt.Errorf("tx %s not included in block after %d attempts", tx.Hash().Hex(), maxAttempts)
		}
		receipt, err := client.TransactionReceipt(ctx, tx.Hash())
		if receipt != nil {
			log.Debug().Msgf("tx included in block %s, hash: %s", receipt.BlockNumber, receipt.TxHash.Hex())
			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, fmt.Errorf("%w: %s", ErrReverted, receipt.TxHash.Hex())
			}
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("failed to get transaction receipt: %w", err)
		}
		idx++
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

const (
	cancelGas          = 21000
	cancelRetries      = 5
	cancelWaitAttempts = 60
)

// CancelPendingTxes replaces every pending transaction of the key with a
// zero value self transfer and waits until none is left.
func CancelPendingTxes(ctx context.Context, privateKey *ecdsa.PrivateKey, rawClient NonceReader, chainID *big.Int) error {
	from := crypto.PubkeyToAddress(privateKey.PublicKey)
	latest, pending, err := nonceRange(ctx, rawClient, from)
	if err != nil {
		return err
	}
	if pending <= latest {
		log.Info().Msg("No pending transactions to cancel")
		return nil
	}
	log.Info().Msgf("Cancelling %d pending transactions from nonce %d", pending-latest, latest)

	basePrice, err := rawClient.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("failed to get suggested gas price: %w", err)
	}
	signer := types.NewEIP155Signer(chainID)
	for nonce := latest; nonce < pending; nonce++ {
		if err := replaceNonce(ctx, rawClient, signer, privateKey, from, nonce, basePrice); err != nil {
			return err
		}
	}

	for attempt := 0; attempt < cancelWaitAttempts; attempt++ {
		exist, err := PendingTransactionsExist(ctx, privateKey, rawClient)
		if err != nil {
			return fmt.Errorf("failed to check pending transactions: %w", err)
		}
		if !exist {
			log.Info().Msg("All pending transactions for signing account have been cancelled")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return fmt.Errorf("timeout: pending transactions left after %d attempts", cancelWaitAttempts)
}

// replaceNonce sends the cancellation for one nonce, bumping the gas price by
// a tenth each time the pool refuses the replacement.
func replaceNonce(
	ctx context.Context,
	rawClient NonceReader,
	signer types.Signer,
	privateKey *ecdsa.PrivateKey,
	from common.Address,
	nonce uint64,
	basePrice *big.Int,
) error {
	gasPrice := new(big.Int).Set(basePrice)
	for retry := 0; retry < cancelRetries; retry++ {
		if retry > 0 {
			bump := new(big.Int).Div(gasPrice, big.NewInt(10))
			gasPrice.Add(gasPrice, bump.Add(bump, common.Big1))
		}
		tx, err := types.SignTx(types.NewTransaction(nonce, from, common.Big0, cancelGas, gasPrice, nil), signer, privateKey)
		if err != nil {
			return fmt.Errorf("failed to sign cancellation for nonce %d: %w", nonce, err)
		}
		err = rawClient.SendTransaction(ctx, tx)
		if err == nil {
			log.Info().Msgf("Sent cancellation for nonce %d: %s, gas price %s wei", nonce, tx.Hash().Hex(), gasPrice)
			return nil
		}
		if !replacementRefused(err) {
			return fmt.Errorf("failed to send cancellation for nonce %d: %w", nonce, err)
		}
		log.Warn().Err(err).Msgf("Cancellation for nonce %d refused, retry %d", nonce, retry+1)
	}
	return fmt.Errorf("cancellation for nonce %d refused %d times", nonce, cancelRetries)
}

func replacementRefused(err error) bool {
	msg := err.Error()
	return msg == "replacement transaction underpriced" || msg == "already known"
}

func nonceRange(ctx context.Context, rawClient NonceReader, from common.Address) (latest, pending uint64, err error) {
	pending, err = rawClient.PendingNonceAt(ctx, from)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get current pending nonce: %w", err)
	}
	latest, err = rawClient.NonceAt(ctx, from, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get latest nonce: %w", err)
	}
	return latest, pending, nil
}

func PendingTransactionsExist(ctx context.Context, privateKey *ecdsa.PrivateKey, rawClient NonceReader) (bool, error) {
	latest, pending, err := nonceRange(ctx, rawClient, crypto.PubkeyToAddress(privateKey.PublicKey))
	if err != nil {
		return false, err
	}
	return pending > latest, nil
}
