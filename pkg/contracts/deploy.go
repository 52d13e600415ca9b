package contracts

import (
	"context"
	"fmt"
	"math/big"

	"token-deposit-withdrawal/pkg/artifact"
	"token-deposit-withdrawal/pkg/ledger"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type ArtifactLoader interface {
	Load(name string) (*artifact.Artifact, error)
}

// ArtifactDeployer deploys contracts by artifact name with one identity.
type ArtifactDeployer struct {
	id        *ledger.Identity
	artifacts ArtifactLoader
}

func NewArtifactDeployer(id *ledger.Identity, artifacts ArtifactLoader) *ArtifactDeployer {
	return &ArtifactDeployer{id: id, artifacts: artifacts}
}

func (d *ArtifactDeployer) Deploy(ctx context.Context, name string, args ...interface{}) (common.Address, *types.Transaction, error) {
	a, err := d.artifacts.Load(name)
	if err != nil {
		return common.Address{}, nil, err
	}
	opts, err := d.id.TransactOpts(ctx)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("failed to get transact opts: %w", err)
	}
	address, tx, _, err := bind.DeployContract(opts, a.ABI, a.Bytecode, d.id.Backend, args...)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("failed to deploy %s on %s: %w", name, d.id.Chain, err)
	}
	return address, tx, nil
}

func (d *ArtifactDeployer) Confirm(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return d.id.Confirm(ctx, tx)
}

// Reader answers balance queries on one ledger.
type Reader struct {
	id *ledger.Identity
}

func NewReader(id *ledger.Identity) *Reader {
	return &Reader{id: id}
}

func (r *Reader) NativeBalance(ctx context.Context, holder common.Address) (*big.Int, error) {
	return r.id.NativeBalance(ctx, holder)
}

func (r *Reader) TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	return NewERC20(token, r.id).BalanceOf(ctx, holder)
}
