package child

import (
	"context"
	"math/big"
	"testing"

	"token-deposit-withdrawal/pkg/shared"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// recorder hands out numbered txs and remembers which step sent each one.
type recorder struct {
	steps     []string
	byTx      map[common.Hash]string
	confirmed []string
	revert    string
}

func newRecorder() *recorder {
	return &recorder{byTx: make(map[common.Hash]string)}
}

func (r *recorder) send(step string) *types.Transaction {
	r.steps = append(r.steps, step)
	tx := types.NewTx(&types.LegacyTx{Nonce: uint64(len(r.steps)), Value: big.NewInt(0), Gas: 21000, GasPrice: big.NewInt(1)})
	r.byTx[tx.Hash()] = step
	return tx
}

type fakeFactory struct {
	*recorder
	address common.Address
	created map[string]common.Address
}

func (f *fakeFactory) Address() common.Address {
	return f.address
}

func (f *fakeFactory) CreateChild(ctx context.Context, id *big.Int, token common.Address) (*types.Transaction, error) {
	f.created[id.String()] = token
	return f.send("createChild"), nil
}

func (f *fakeFactory) ChildAddress(ctx context.Context, id *big.Int) (common.Address, error) {
	return crypto.CreateAddress(f.address, id.Uint64()), nil
}

type fakeToken struct {
	*recorder
	approved map[common.Address]*big.Int
	balances map[common.Address]*big.Int
}

func (t *fakeToken) Approve(ctx context.Context, spender common.Address, amount *big.Int) (*types.Transaction, error) {
	t.approved[spender] = amount
	return t.send("approve"), nil
}

func (t *fakeToken) Transfer(ctx context.Context, to common.Address, amount *big.Int) (*types.Transaction, error) {
	t.balances[to] = amount
	return t.send("transfer"), nil
}

type fakeWallet struct {
	*recorder
	sentGas uint64
}

func (w *fakeWallet) SendValue(ctx context.Context, to common.Address, amount *big.Int, gasLimit uint64) (*types.Transaction, error) {
	w.sentGas = gasLimit
	return w.send("sendValue"), nil
}

func (w *fakeWallet) Confirm(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	step := w.byTx[tx.Hash()]
	w.confirmed = append(w.confirmed, step)
	if step == w.revert {
		return nil, shared.ErrReverted
	}
	return &types.Receipt{TxHash: tx.Hash(), Status: types.ReceiptStatusSuccessful}, nil
}

type fakeChild struct {
	*recorder
}

func (c fakeChild) ReceiveEth(ctx context.Context, value *big.Int) (*types.Transaction, error) {
	return c.send("receiveEth"), nil
}

type fixture struct {
	rec     *recorder
	factory *fakeFactory
	token   *fakeToken
	wallet  *fakeWallet
	p       *Provisioner
}

func newFixture() *fixture {
	rec := newRecorder()
	f := &fixture{
		rec:     rec,
		factory: &fakeFactory{recorder: rec, address: common.HexToAddress("0xfac7"), created: map[string]common.Address{}},
		token:   &fakeToken{recorder: rec, approved: map[common.Address]*big.Int{}, balances: map[common.Address]*big.Int{}},
		wallet:  &fakeWallet{recorder: rec},
	}
	f.p = NewProvisioner(f.factory, f.token, f.wallet, func(common.Address) Receiver { return fakeChild{rec} })
	return f
}

func equalSteps(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestProvisionFungibleCreatesAndFunds(t *testing.T) {
	f := newFixture()
	token := common.HexToAddress("0x1270ce")
	amount := big.NewInt(1000)

	h, err := f.p.Provision(context.Background(), Request{
		ID: big.NewInt(123), Asset: shared.Fungible, Amount: amount, Token: token,
	})
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if !equalSteps(f.rec.steps, "approve", "createChild", "transfer") {
		t.Fatalf("expected approve, createChild, transfer, got %v", f.rec.steps)
	}
	if f.token.approved[f.factory.address].Cmp(amount) != 0 {
		t.Fatalf("expected factory allowance of %s", amount)
	}
	if f.factory.created["123"] != token {
		t.Fatalf("expected child 123 created for token %s", token.Hex())
	}
	if h.Address == (common.Address{}) || !h.Created || !h.Funded {
		t.Fatalf("expected created and funded child, got %+v", h)
	}
	if f.token.balances[h.Address].Cmp(amount) != 0 {
		t.Fatalf("expected %s transferred to the child", amount)
	}
}

func TestChildAddressIsStable(t *testing.T) {
	f := newFixture()
	h, err := f.p.Provision(context.Background(), Request{
		ID: big.NewInt(123), Asset: shared.Native, Amount: big.NewInt(1), Token: common.HexToAddress("0x70ce"),
	})
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	first, _ := f.p.Lookup(context.Background(), big.NewInt(123))
	f.rec.send("unrelated")
	second, _ := f.p.Lookup(context.Background(), big.NewInt(123))
	if first != h.Address || second != first {
		t.Fatalf("expected stable child address %s, got %s and %s", h.Address.Hex(), first.Hex(), second.Hex())
	}
	other, _ := f.p.Lookup(context.Background(), big.NewInt(124))
	if other == first {
		t.Fatalf("expected a different address for another id")
	}
}

func TestProvisionNativeFundingPaths(t *testing.T) {
	f := newFixture()
	if _, err := f.p.Provision(context.Background(), Request{
		Asset: shared.Native, Amount: big.NewInt(5), Token: common.HexToAddress("0x70ce"),
	}); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if !equalSteps(f.rec.steps, "createChild", "receiveEth") {
		t.Fatalf("expected createChild, receiveEth for a new child, got %v", f.rec.steps)
	}

	f = newFixture()
	existing := common.HexToAddress("0xc41d")
	h, err := f.p.Provision(context.Background(), Request{Asset: shared.Native, Amount: big.NewInt(5), Existing: existing})
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if !equalSteps(f.rec.steps, "sendValue") || f.wallet.sentGas != valueTransferGas {
		t.Fatalf("expected one value transfer to the existing child, got %v gas %d", f.rec.steps, f.wallet.sentGas)
	}
	if h.Address != existing || h.Created || h.ID.Int64() != DefaultID {
		t.Fatalf("unexpected handle %+v", h)
	}
}

func TestUnconfirmedFundingLeavesChildUnfunded(t *testing.T) {
	f := newFixture()
	f.rec.revert = "transfer"
	h, err := f.p.Provision(context.Background(), Request{
		Asset: shared.Fungible, Amount: big.NewInt(10), Existing: common.HexToAddress("0xc41d"),
	})
	if shared.KindOf(err) != shared.KindProvisioning {
		t.Fatalf("expected provisioning error, got %v", err)
	}
	if h.Funded {
		t.Fatalf("expected funded to stay false")
	}
}

func TestCreationFailureStopsProvisioning(t *testing.T) {
	f := newFixture()
	f.rec.revert = "createChild"
	_, err := f.p.Provision(context.Background(), Request{
		Asset: shared.Native, Amount: big.NewInt(10), Token: common.HexToAddress("0x70ce"),
	})
	if shared.KindOf(err) != shared.KindProvisioning {
		t.Fatalf("expected provisioning error, got %v", err)
	}
	if !equalSteps(f.rec.steps, "createChild") {
		t.Fatalf("expected nothing after the failed creation, got %v", f.rec.steps)
	}
}
