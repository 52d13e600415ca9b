package resource

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"token-deposit-withdrawal/pkg/shared"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type fakeDeployer struct {
	address    common.Address
	deployErr  error
	confirmErr error
	deploys    []string
	args       [][]interface{}
}

func (f *fakeDeployer) Deploy(ctx context.Context, name string, args ...interface{}) (common.Address, *types.Transaction, error) {
	f.deploys = append(f.deploys, name)
	f.args = append(f.args, args)
	if f.deployErr != nil {
		return common.Address{}, nil, f.deployErr
	}
	tx := types.NewTx(&types.LegacyTx{Nonce: uint64(len(f.deploys)), Value: big.NewInt(0), Gas: 1, GasPrice: big.NewInt(1)})
	return f.address, tx, nil
}

func (f *fakeDeployer) Confirm(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	return &types.Receipt{TxHash: tx.Hash(), ContractAddress: f.address, Status: types.ReceiptStatusSuccessful}, nil
}

func TestResolveExistingDeploysNothing(t *testing.T) {
	d := &fakeDeployer{}
	existing := common.HexToAddress("0x00000000000000000000000000000000000070ce")

	for i := 0; i < 3; i++ {
		got, err := NewResolver(d).Resolve(context.Background(), UseExisting("DappToken3", existing))
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if got.Address != existing || got.Deployed {
			t.Fatalf("expected %s reused, got %+v", existing.Hex(), got)
		}
	}
	if len(d.deploys) != 0 {
		t.Fatalf("expected zero deployments, got %d", len(d.deploys))
	}
}

func TestResolveDeploysOnce(t *testing.T) {
	d := &fakeDeployer{address: common.HexToAddress("0xfac7")}
	got, err := NewResolver(d).Resolve(context.Background(), FromOverride("ContractFactory", common.Address{}, "a", "b"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !got.Deployed || got.Address != d.address {
		t.Fatalf("expected fresh deployment at %s, got %+v", d.address.Hex(), got)
	}
	if len(d.deploys) != 1 || len(d.args[0]) != 2 {
		t.Fatalf("expected one deployment with two args, got %v", d.args)
	}
}

func TestResolveFailuresAreProvisioningErrors(t *testing.T) {
	cases := map[string]*fakeDeployer{
		"deploy":  {deployErr: errors.New("insufficient funds")},
		"confirm": {confirmErr: shared.ErrReverted},
	}
	for name, d := range cases {
		_, err := NewResolver(d).Resolve(context.Background(), DeployNew("ChildContract"))
		if shared.KindOf(err) != shared.KindProvisioning {
			t.Fatalf("%s: expected provisioning error, got %v", name, err)
		}
	}
}

type fakeMapper map[common.Address]common.Address

func (m fakeMapper) L2TokenAddress(ctx context.Context, l1 common.Address) (common.Address, error) {
	return m[l1], nil
}

func TestCounterpart(t *testing.T) {
	l1 := common.HexToAddress("0x11")
	l2 := common.HexToAddress("0x22")
	r := NewResolver(&fakeDeployer{})

	got, err := r.Counterpart(context.Background(), "L2 DappToken3", l1, fakeMapper{l1: l2})
	if err != nil {
		t.Fatalf("Counterpart: %v", err)
	}
	if got.Address != l2 || got.Deployed {
		t.Fatalf("expected %s, got %+v", l2.Hex(), got)
	}

	if _, err := r.Counterpart(context.Background(), "L2 DappToken3", common.HexToAddress("0x33"), fakeMapper{}); shared.KindOf(err) != shared.KindProvisioning {
		t.Fatalf("expected provisioning error for unmapped token, got %v", err)
	}
}
