package bridge

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"token-deposit-withdrawal/pkg/ledger"
	"token-deposit-withdrawal/pkg/shared"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var testChainID = big.NewInt(421613)

func TestDerivedHashesAreDeterministicAndDistinct(t *testing.T) {
	seq := big.NewInt(4242)

	native := L2TransactionHash(testChainID, seq)
	if native != L2TransactionHash(testChainID, big.NewInt(4242)) {
		t.Fatalf("expected the same ticket hash for the same sequence number")
	}
	retryable := L2RetryableTransactionHash(testChainID, seq)
	autoRedeem := RetryableAutoRedeemHash(testChainID, seq)
	if native == retryable || native == autoRedeem || retryable == autoRedeem {
		t.Fatalf("expected distinct hashes, got %s %s %s", native.Hex(), retryable.Hex(), autoRedeem.Hex())
	}
	if native == L2TransactionHash(testChainID, big.NewInt(4243)) {
		t.Fatalf("expected different sequence numbers to derive different hashes")
	}
	if native == L2TransactionHash(big.NewInt(42161), seq) {
		t.Fatalf("expected the chain id to be part of the derivation")
	}
}

func TestDerivedHashVectors(t *testing.T) {
	cases := []struct {
		chainID, seq          int64
		ticket, retry, redeem string
	}{
		{
			chainID: 421613, seq: 7,
			ticket: "0x4234f2748d2372009a927b8826bd9763c9f8f611e2277722c73e0bac61f2df32",
			retry:  "0xce0fbd3a67040865c91d76c42b751c742831601a96f6053771a753618f7a9eb0",
			redeem: "0x04a8e293ca7a1c3584b5fa71c066aae9b7b251e380f3c2955a33242d9bc58cc9",
		},
		{
			chainID: 42161, seq: 0,
			ticket: "0x20b129d72478dd339b9dbc7fdfc54d3287388af99e10ddb2e1fd88762fb4f145",
			retry:  "0x263c7302b0c7b8c4d8ce5c817563ae56e5e558da8385df733df4f7d1e42cf947",
			redeem: "0x9011282efc46b7927c4521f8b3d90542780fcd07868e54b73704822eeccfdf0b",
		},
	}
	for _, c := range cases {
		chainID, seq := big.NewInt(c.chainID), big.NewInt(c.seq)
		if got := L2TransactionHash(chainID, seq); got != common.HexToHash(c.ticket) {
			t.Fatalf("chain %d seq %d: expected ticket %s, got %s", c.chainID, c.seq, c.ticket, got.Hex())
		}
		if got := L2RetryableTransactionHash(chainID, seq); got != common.HexToHash(c.retry) {
			t.Fatalf("chain %d seq %d: expected retry tx %s, got %s", c.chainID, c.seq, c.retry, got.Hex())
		}
		if got := RetryableAutoRedeemHash(chainID, seq); got != common.HexToHash(c.redeem) {
			t.Fatalf("chain %d seq %d: expected auto-redeem %s, got %s", c.chainID, c.seq, c.redeem, got.Hex())
		}
	}
}

func TestInboxSeqNums(t *testing.T) {
	inbox := common.HexToAddress("0x1b00")
	other := common.HexToAddress("0x0bad")
	receipt := &types.Receipt{Logs: []*types.Log{
		{Address: other, Topics: []common.Hash{inboxMessageDeliveredID, common.BigToHash(big.NewInt(1))}},
		{Address: inbox, Topics: []common.Hash{inboxMessageDeliveredID, common.BigToHash(big.NewInt(57))}},
		{Address: inbox, Topics: []common.Hash{inboxMessageDeliveredFromOriginID, common.BigToHash(big.NewInt(58))}},
		{Address: inbox, Topics: []common.Hash{l2ToL1TransactionID}},
	}}

	seqs, err := InboxSeqNums(receipt, inbox)
	if err != nil {
		t.Fatalf("InboxSeqNums: %v", err)
	}
	if len(seqs) != 2 || seqs[0].Int64() != 57 || seqs[1].Int64() != 58 {
		t.Fatalf("expected [57 58], got %v", seqs)
	}

	all, err := InboxSeqNums(receipt, common.Address{})
	if err != nil {
		t.Fatalf("InboxSeqNums: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 messages without an inbox filter, got %d", len(all))
	}

	none, err := InboxSeqNums(&types.Receipt{}, inbox)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no messages, got %v %v", none, err)
	}
}

func l2ToL1Log(t *testing.T, caller, dest common.Address, uniqueID int64, callvalue *big.Int) *types.Log {
	t.Helper()
	data, err := arbSysABI.Events["L2ToL1Transaction"].Inputs.NonIndexed().Pack(
		caller, big.NewInt(0), big.NewInt(100), big.NewInt(200), big.NewInt(1700000000), callvalue, []byte{},
	)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	return &types.Log{
		Address: ArbSysAddress,
		Topics: []common.Hash{
			l2ToL1TransactionID,
			common.BytesToHash(dest.Bytes()),
			common.BigToHash(big.NewInt(uniqueID)),
			common.BigToHash(big.NewInt(3)),
		},
		Data: data,
	}
}

func TestWithdrawalsNative(t *testing.T) {
	caller := common.HexToAddress("0xca11")
	dest := common.HexToAddress("0xdE57")
	receipt := &types.Receipt{Logs: []*types.Log{l2ToL1Log(t, caller, dest, 11, big.NewInt(5000))}}

	events, err := WithdrawalsInL2Transaction(receipt)
	if err != nil {
		t.Fatalf("WithdrawalsInL2Transaction: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Caller != caller || ev.Destination != dest {
		t.Fatalf("unexpected caller/destination %s %s", ev.Caller.Hex(), ev.Destination.Hex())
	}
	if ev.UniqueID.Int64() != 11 || ev.BatchNumber.Int64() != 3 {
		t.Fatalf("unexpected ids %s %s", ev.UniqueID, ev.BatchNumber)
	}
	if ev.Amount.Int64() != 5000 || ev.CallValue.Int64() != 5000 {
		t.Fatalf("expected amount 5000, got %s", ev.Amount)
	}
}

func TestWithdrawalsTokenTakeGatewayAmount(t *testing.T) {
	l1Token := common.HexToAddress("0x70ce")
	from := common.HexToAddress("0xf00")
	to := common.HexToAddress("0xdE57")
	data, err := l2RouterABI.Events["WithdrawalInitiated"].Inputs.NonIndexed().Pack(l1Token, big.NewInt(9), big.NewInt(1000))
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	initiated := &types.Log{
		Address: common.HexToAddress("0x9a7e"),
		Topics: []common.Hash{
			withdrawalInitiatedID,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
			common.BigToHash(big.NewInt(12)),
		},
		Data: data,
	}
	receipt := &types.Receipt{Logs: []*types.Log{
		l2ToL1Log(t, common.HexToAddress("0x9a7e"), common.HexToAddress("0x1a7e"), 12, big.NewInt(0)),
		initiated,
	}}

	events, err := WithdrawalsInL2Transaction(receipt)
	if err != nil {
		t.Fatalf("WithdrawalsInL2Transaction: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Token != l1Token {
		t.Fatalf("expected token %s, got %s", l1Token.Hex(), events[0].Token.Hex())
	}
	if events[0].Amount.Int64() != 1000 {
		t.Fatalf("expected amount 1000, got %s", events[0].Amount)
	}
	if events[0].CallValue.Sign() != 0 {
		t.Fatalf("expected zero callvalue, got %s", events[0].CallValue)
	}
}

// chainBackend prices transactions on the legacy path, answers calls by
// selector and records everything sent.
type chainBackend struct {
	ledger.Backend
	gasPrice *big.Int
	returns  map[string][]byte
	calls    []ethereum.CallMsg
	sent     []*types.Transaction
}

func (b *chainBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return uint64(len(b.sent)), nil
}

func (b *chainBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return b.gasPrice, nil
}

func (b *chainBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return nil, errors.New("no fee market")
}

func (b *chainBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	b.calls = append(b.calls, msg)
	return b.returns[string(msg.Data[:4])], nil
}

func (b *chainBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.sent = append(b.sent, tx)
	return nil
}

var (
	inboxAddr    = common.HexToAddress("0x1b00")
	l1RouterAddr = common.HexToAddress("0x1a7e")
	l2RouterAddr = common.HexToAddress("0x2a7e")
	gatewayAddr  = common.HexToAddress("0x9a7e")
	tokenAddr    = common.HexToAddress("0x70ce")
)

type bridgeHarness struct {
	l1, l2  *chainBackend
	ledgers *ledger.Context
}

func newBridge(t *testing.T, opts Options) (*bridgeHarness, *Bridge) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	gw, err := l1RouterABI.Methods["getGateway"].Outputs.Pack(gatewayAddr)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	price, err := retryableABI.Methods["getSubmissionPrice"].Outputs.Pack(big.NewInt(77), big.NewInt(99))
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	h := &bridgeHarness{
		l1: &chainBackend{gasPrice: big.NewInt(20), returns: map[string][]byte{
			string(l1RouterABI.Methods["getGateway"].ID): gw,
		}},
		l2: &chainBackend{gasPrice: big.NewInt(9), returns: map[string][]byte{
			string(retryableABI.Methods["getSubmissionPrice"].ID): price,
		}},
	}
	h.ledgers = &ledger.Context{
		L1: ledger.NewIdentity(shared.L1, key, h.l1, big.NewInt(11155111), 500_000),
		L2: ledger.NewIdentity(shared.L2, key, h.l2, testChainID, 500_000),
	}
	opts.Inbox, opts.L1GatewayRouter, opts.L2GatewayRouter = inboxAddr, l1RouterAddr, l2RouterAddr
	return h, New(h.ledgers, opts)
}

// decode returns the method calldata invokes and its arguments.
func decode(t *testing.T, parsed abi.ABI, data []byte) (string, []interface{}) {
	t.Helper()
	method, err := parsed.MethodById(data)
	if err != nil {
		t.Fatalf("MethodById: %v", err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatalf("Unpack %s: %v", method.Name, err)
	}
	return method.Name, args
}

func TestDepositTokenPaysFeesAsCallValue(t *testing.T) {
	h, b := newBridge(t, Options{
		MaxGas:            big.NewInt(1000),
		GasPriceBid:       big.NewInt(3),
		MaxSubmissionCost: big.NewInt(50),
	})

	tx, err := b.DepositToken(context.Background(), tokenAddr, big.NewInt(1000))
	if err != nil {
		t.Fatalf("DepositToken: %v", err)
	}
	if len(h.l1.sent) != 1 || len(h.l2.sent) != 0 {
		t.Fatalf("expected one L1 transaction, got %d on L1 and %d on L2", len(h.l1.sent), len(h.l2.sent))
	}
	if *tx.To() != l1RouterAddr {
		t.Fatalf("expected the L1 gateway router, got %s", tx.To().Hex())
	}
	if tx.Value().Int64() != 3050 {
		t.Fatalf("expected value maxGas*bid+cost = 3050, got %s", tx.Value())
	}

	name, args := decode(t, l1RouterABI, tx.Data())
	if name != "outboundTransfer" {
		t.Fatalf("expected outboundTransfer, got %s", name)
	}
	if args[0].(common.Address) != tokenAddr || args[1].(common.Address) != h.ledgers.L2.Address {
		t.Fatalf("expected token %s to %s, got %v", tokenAddr.Hex(), h.ledgers.L2.Address.Hex(), args[:2])
	}
	if args[2].(*big.Int).Int64() != 1000 || args[3].(*big.Int).Int64() != 1000 || args[4].(*big.Int).Int64() != 3 {
		t.Fatalf("expected amount 1000, maxGas 1000, bid 3, got %v", args[2:5])
	}

	data, err := abi.Arguments{{Type: uint256Type}, {Type: bytesType}}.Unpack(args[5].([]byte))
	if err != nil {
		t.Fatalf("Unpack data: %v", err)
	}
	if data[0].(*big.Int).Int64() != 50 || len(data[1].([]byte)) != 0 {
		t.Fatalf("expected data abi.encode(50, 0x), got %v", data)
	}
	if len(h.l2.calls) != 0 {
		t.Fatalf("expected configured fees to skip L2 queries")
	}
}

func TestDepositTokenBidsL2GasPrice(t *testing.T) {
	h, b := newBridge(t, Options{MaxGas: big.NewInt(10), MaxSubmissionCost: big.NewInt(1)})

	tx, err := b.DepositToken(context.Background(), tokenAddr, big.NewInt(5))
	if err != nil {
		t.Fatalf("DepositToken: %v", err)
	}
	_, args := decode(t, l1RouterABI, tx.Data())
	if args[4].(*big.Int).Cmp(h.l2.gasPrice) != 0 {
		t.Fatalf("expected bid at the L2 gas price %s, got %s", h.l2.gasPrice, args[4])
	}
	if tx.Value().Int64() != 10*9+1 {
		t.Fatalf("expected value 91, got %s", tx.Value())
	}
}

func TestDepositETHQueriesSubmissionPrice(t *testing.T) {
	h, b := newBridge(t, Options{})

	tx, err := b.DepositETH(context.Background(), big.NewInt(500))
	if err != nil {
		t.Fatalf("DepositETH: %v", err)
	}
	if *tx.To() != inboxAddr || tx.Value().Int64() != 500 {
		t.Fatalf("expected 500 wei to the inbox, got %s to %s", tx.Value(), tx.To().Hex())
	}
	name, args := decode(t, inboxABI, tx.Data())
	if name != "depositEth" || args[0].(*big.Int).Int64() != 77 {
		t.Fatalf("expected depositEth(77) from the first submission price value, got %s%v", name, args)
	}

	if len(h.l2.calls) != 1 || *h.l2.calls[0].To != ArbRetryableTxAddress {
		t.Fatalf("expected one call to ArbRetryableTx, got %+v", h.l2.calls)
	}
	want, err := retryableABI.Pack("getSubmissionPrice", big.NewInt(0))
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if string(h.l2.calls[0].Data) != string(want) {
		t.Fatalf("expected getSubmissionPrice(0) calldata")
	}
}

func TestApproveTokenTargetsGateway(t *testing.T) {
	h, b := newBridge(t, Options{})

	tx, err := b.ApproveToken(context.Background(), tokenAddr, big.NewInt(1234))
	if err != nil {
		t.Fatalf("ApproveToken: %v", err)
	}
	if *tx.To() != tokenAddr || tx.Value().Sign() != 0 {
		t.Fatalf("expected a zero value call to the token, got %s to %s", tx.Value(), tx.To().Hex())
	}
	data := tx.Data()
	if string(data[:4]) != string(crypto.Keccak256([]byte("approve(address,uint256)"))[:4]) {
		t.Fatalf("expected an approve call")
	}
	if spender := common.BytesToAddress(data[4:36]); spender != gatewayAddr {
		t.Fatalf("expected the gateway %s as spender, got %s", gatewayAddr.Hex(), spender.Hex())
	}
	if amount := new(big.Int).SetBytes(data[36:68]); amount.Int64() != 1234 {
		t.Fatalf("expected allowance 1234, got %s", amount)
	}

	if len(h.l1.calls) != 1 || *h.l1.calls[0].To != l1RouterAddr {
		t.Fatalf("expected the gateway looked up on the L1 router")
	}
	_, lookup := decode(t, l1RouterABI, h.l1.calls[0].Data)
	if lookup[0].(common.Address) != tokenAddr {
		t.Fatalf("expected getGateway(%s), got %v", tokenAddr.Hex(), lookup)
	}
}

func TestWithdrawETHPaysL1Wallet(t *testing.T) {
	h, b := newBridge(t, Options{})

	tx, err := b.WithdrawETH(context.Background(), big.NewInt(700))
	if err != nil {
		t.Fatalf("WithdrawETH: %v", err)
	}
	if len(h.l2.sent) != 1 || *tx.To() != ArbSysAddress || tx.Value().Int64() != 700 {
		t.Fatalf("expected 700 wei to ArbSys on L2, got %s to %s", tx.Value(), tx.To().Hex())
	}
	name, args := decode(t, arbSysABI, tx.Data())
	if name != "withdrawEth" || args[0].(common.Address) != h.ledgers.L1.Address {
		t.Fatalf("expected withdrawEth(%s), got %s%v", h.ledgers.L1.Address.Hex(), name, args)
	}
}

func TestWithdrawERC20PaysL1Wallet(t *testing.T) {
	h, b := newBridge(t, Options{})

	tx, err := b.WithdrawERC20(context.Background(), tokenAddr, big.NewInt(800))
	if err != nil {
		t.Fatalf("WithdrawERC20: %v", err)
	}
	if len(h.l2.sent) != 1 || *tx.To() != l2RouterAddr || tx.Value().Sign() != 0 {
		t.Fatalf("expected a zero value call to the L2 router, got %s to %s", tx.Value(), tx.To().Hex())
	}
	name, args := decode(t, l2RouterABI, tx.Data())
	if name != "outboundTransfer" {
		t.Fatalf("expected outboundTransfer, got %s", name)
	}
	if args[0].(common.Address) != tokenAddr || args[1].(common.Address) != h.ledgers.L1.Address {
		t.Fatalf("expected token %s to the L1 wallet, got %v", tokenAddr.Hex(), args[:2])
	}
	if args[2].(*big.Int).Int64() != 800 || len(args[3].([]byte)) != 0 {
		t.Fatalf("expected amount 800 with empty data, got %v", args[2:])
	}
}
