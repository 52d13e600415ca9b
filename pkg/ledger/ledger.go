package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"token-deposit-withdrawal/pkg/shared"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"
)

const (
	defaultConfirmInterval = 5 * time.Second
	defaultConfirmAttempts = 50
)

// Backend is the RPC surface an identity needs. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Identity is one signing key bound to one ledger endpoint.
type Identity struct {
	Chain    shared.Chain
	Address  common.Address
	ChainID  *big.Int
	Backend  Backend
	GasLimit uint64

	privateKey      *ecdsa.PrivateKey
	confirmInterval time.Duration
	confirmAttempts int
}

func NewIdentity(
	chain shared.Chain,
	privateKey *ecdsa.PrivateKey,
	backend Backend,
	chainID *big.Int,
	gasLimit uint64,
) *Identity {
	return &Identity{
		Chain:           chain,
		Address:         crypto.PubkeyToAddress(privateKey.PublicKey),
		ChainID:         chainID,
		Backend:         backend,
		GasLimit:        gasLimit,
		privateKey:      privateKey,
		confirmInterval: defaultConfirmInterval,
		confirmAttempts: defaultConfirmAttempts,
	}
}

// SetConfirmPolling overrides how receipts are polled in Confirm.
func (i *Identity) SetConfirmPolling(interval time.Duration, attempts int) {
	if interval > 0 {
		i.confirmInterval = interval
	}
	if attempts > 0 {
		i.confirmAttempts = attempts
	}
}

func (i *Identity) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	return shared.CreateTransactOpts(ctx, i.privateKey, i.ChainID, i.Backend, i.GasLimit)
}

// Confirm waits for tx to be included and fails if it reverted.
func (i *Identity) Confirm(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return shared.WaitMined(ctx, i.Backend, tx, i.confirmInterval, i.confirmAttempts)
}

// SendValue submits a plain value transfer to the given address.
func (i *Identity) SendValue(ctx context.Context, to common.Address, amount *big.Int, gasLimit uint64) (*types.Transaction, error) {
	opts, err := i.TransactOpts(ctx)
	if err != nil {
		return nil, err
	}
	var inner types.TxData
	if opts.GasPrice != nil {
		inner = &types.LegacyTx{
			Nonce:    opts.Nonce.Uint64(),
			To:       &to,
			Value:    amount,
			Gas:      gasLimit,
			GasPrice: opts.GasPrice,
		}
	} else {
		inner = &types.DynamicFeeTx{
			ChainID:   i.ChainID,
			Nonce:     opts.Nonce.Uint64(),
			To:        &to,
			Value:     amount,
			Gas:       gasLimit,
			GasFeeCap: opts.GasFeeCap,
			GasTipCap: opts.GasTipCap,
		}
	}
	signedTx, err := opts.Signer(opts.From, types.NewTx(inner))
	if err != nil {
		return nil, fmt.Errorf("failed to sign value transfer: %w", err)
	}
	if err := i.Backend.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("failed to send value transfer: %w", err)
	}
	return signedTx, nil
}

func (i *Identity) NativeBalance(ctx context.Context, holder common.Address) (*big.Int, error) {
	return i.Backend.BalanceAt(ctx, holder, nil)
}

func (i *Identity) CancelPending(ctx context.Context) error {
	return shared.CancelPendingTxes(ctx, i.privateKey, i.Backend, i.ChainID)
}

// Close releases the backend connection when the backend holds one.
func (i *Identity) Close() {
	if c, ok := i.Backend.(interface{ Close() }); ok {
		c.Close()
	}
}

// Context holds the two identities the flow signs with. It is built once and
// shared read-only by every component.
type Context struct {
	L1 *Identity
	L2 *Identity
}

// Close releases both ledger connections.
func (c *Context) Close() {
	for _, id := range []*Identity{c.L1, c.L2} {
		if id != nil {
			id.Close()
		}
	}
}

type Options struct {
	PrivateKey *ecdsa.PrivateKey
	L1RPCUrl   string
	L2RPCUrl   string
	L1ChainID  int64
	L2ChainID  int64
	L1GasLimit uint64
	L2GasLimit uint64
}

type dialer func(ctx context.Context, rpcURL string) (Backend, error)

func dialClient(ctx context.Context, rpcURL string) (Backend, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Dial connects to both endpoints and verifies chain ids when they are
// configured. Callers own the returned context and must Close it.
func Dial(ctx context.Context, opts Options) (*Context, error) {
	return dial(ctx, opts, dialClient)
}

func dial(ctx context.Context, opts Options, connect dialer) (*Context, error) {
	address := crypto.PubkeyToAddress(opts.PrivateKey.PublicKey)
	log.Info().Msg("Signing address used on both ledgers: " + address.Hex())

	l1, err := dialIdentity(ctx, connect, shared.L1, opts.PrivateKey, opts.L1RPCUrl, opts.L1ChainID, opts.L1GasLimit)
	if err != nil {
		return nil, err
	}
	l2, err := dialIdentity(ctx, connect, shared.L2, opts.PrivateKey, opts.L2RPCUrl, opts.L2ChainID, opts.L2GasLimit)
	if err != nil {
		l1.Close()
		return nil, err
	}
	return &Context{L1: l1, L2: l2}, nil
}

func dialIdentity(
	ctx context.Context,
	connect dialer,
	chain shared.Chain,
	privateKey *ecdsa.PrivateKey,
	rpcURL string,
	expectedChainID int64,
	gasLimit uint64,
) (*Identity, error) {
	client, err := connect(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s rpc: %w", chain, err)
	}
	id := NewIdentity(chain, privateKey, client, nil, gasLimit)
	chainID, err := client.ChainID(ctx)
	if err != nil {
		id.Close()
		return nil, fmt.Errorf("failed to get %s chain id: %w", chain, err)
	}
	if expectedChainID != 0 && chainID.Cmp(big.NewInt(expectedChainID)) != 0 {
		id.Close()
		return nil, fmt.Errorf("%s chain id mismatch: configured %d, endpoint reports %s",
			chain, expectedChainID, chainID.String())
	}
	log.Debug().Msgf("%s chain id: %s", chain, chainID.String())
	id.ChainID = chainID
	return id, nil
}
