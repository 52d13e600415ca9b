package resource

import (
	"context"
	"fmt"

	"token-deposit-withdrawal/pkg/shared"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"
)

// Spec names a resource and says whether to bind to an existing deployment
// or deploy a new one. Build it with UseExisting or DeployNew.
type Spec struct {
	Name     string
	existing *common.Address
	args     []interface{}
}

func UseExisting(name string, address common.Address) Spec {
	return Spec{Name: name, existing: &address}
}

func DeployNew(name string, args ...interface{}) Spec {
	return Spec{Name: name, args: args}
}

// FromOverride reuses override when it is set and deploys otherwise.
func FromOverride(name string, override common.Address, args ...interface{}) Spec {
	if override != (common.Address{}) {
		return UseExisting(name, override)
	}
	return DeployNew(name, args...)
}

func (s Spec) Existing() (common.Address, bool) {
	if s.existing == nil {
		return common.Address{}, false
	}
	return *s.existing, true
}

type Resolved struct {
	Name     string
	Address  common.Address
	Deployed bool
	TxHash   common.Hash
}

type Deployer interface {
	Deploy(ctx context.Context, name string, args ...interface{}) (common.Address, *types.Transaction, error)
	Confirm(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// Mapper resolves the L2 counterpart of an L1 token.
type Mapper interface {
	L2TokenAddress(ctx context.Context, l1Token common.Address) (common.Address, error)
}

type Resolver struct {
	deployer Deployer
}

func NewResolver(deployer Deployer) *Resolver {
	return &Resolver{deployer: deployer}
}

// Resolve binds to the override of spec, or deploys it and waits for the
// deployment to confirm. At most one deployment is sent per call.
func (r *Resolver) Resolve(ctx context.Context, spec Spec) (Resolved, error) {
	op := "resolve " + spec.Name
	if address, ok := spec.Existing(); ok {
		log.Info().Msgf("Using deployed %s at %s", spec.Name, address.Hex())
		return Resolved{Name: spec.Name, Address: address}, nil
	}

	log.Info().Msgf("Deploying %s", spec.Name)
	address, tx, err := r.deployer.Deploy(ctx, spec.Name, spec.args...)
	if err != nil {
		return Resolved{}, shared.NewError(shared.KindProvisioning, op, err)
	}
	receipt, err := r.deployer.Confirm(ctx, tx)
	if err != nil {
		return Resolved{}, shared.NewError(shared.KindProvisioning, op,
			fmt.Errorf("deployment %s not confirmed: %w", tx.Hash().Hex(), err))
	}
	if receipt.ContractAddress != (common.Address{}) && receipt.ContractAddress != address {
		return Resolved{}, shared.Errorf(shared.KindProvisioning, op,
			"deployment receipt reports %s, expected %s", receipt.ContractAddress.Hex(), address.Hex())
	}
	log.Info().Msgf("%s is deployed at %s, tx: %s", spec.Name, address.Hex(), tx.Hash().Hex())
	return Resolved{Name: spec.Name, Address: address, Deployed: true, TxHash: tx.Hash()}, nil
}

// Counterpart resolves the resource mapped from source by the bridge. The
// mapping is deterministic, so nothing is deployed here.
func (r *Resolver) Counterpart(ctx context.Context, name string, source common.Address, m Mapper) (Resolved, error) {
	address, err := m.L2TokenAddress(ctx, source)
	if err != nil {
		return Resolved{}, shared.NewError(shared.KindProvisioning, "resolve "+name, err)
	}
	if address == (common.Address{}) {
		return Resolved{}, shared.Errorf(shared.KindProvisioning, "resolve "+name,
			"bridge maps %s to the zero address", source.Hex())
	}
	log.Info().Msgf("%s for %s is at %s", name, source.Hex(), address.Hex())
	return Resolved{Name: name, Address: address}, nil
}
