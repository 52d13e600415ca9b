package bridge

import (
	"fmt"
	"math/big"

	"token-deposit-withdrawal/pkg/shared"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	uint256Type, _ = abi.NewType("uint256", "", nil)
	bytesType, _   = abi.NewType("bytes", "", nil)
)

var (
	inboxMessageDeliveredID           = inboxABI.Events["InboxMessageDelivered"].ID
	inboxMessageDeliveredFromOriginID = inboxABI.Events["InboxMessageDeliveredFromOrigin"].ID
	l2ToL1TransactionID               = arbSysABI.Events["L2ToL1Transaction"].ID
	withdrawalInitiatedID             = l2RouterABI.Events["WithdrawalInitiated"].ID
)

// InboxSeqNums returns the message numbers the inbox emitted in receipt, in
// log order. A zero inbox address accepts logs from any emitter.
func InboxSeqNums(receipt *types.Receipt, inbox common.Address) ([]*big.Int, error) {
	if receipt == nil {
		return nil, fmt.Errorf("no receipt to read inbox messages from")
	}
	seqNums := make([]*big.Int, 0, 1)
	for _, l := range receipt.Logs {
		if len(l.Topics) < 2 {
			continue
		}
		if inbox != (common.Address{}) && l.Address != inbox {
			continue
		}
		if l.Topics[0] != inboxMessageDeliveredID && l.Topics[0] != inboxMessageDeliveredFromOriginID {
			continue
		}
		seqNums = append(seqNums, new(big.Int).SetBytes(l.Topics[1].Bytes()))
	}
	return seqNums, nil
}

// WithdrawalsInL2Transaction decodes every L2ToL1Transaction event in
// receipt. Token withdrawals take their amount and L1 token from the gateway
// WithdrawalInitiated event carrying the same id.
func WithdrawalsInL2Transaction(receipt *types.Receipt) ([]shared.WithdrawalEvent, error) {
	if receipt == nil {
		return nil, fmt.Errorf("no receipt to read withdrawals from")
	}
	type gatewayWithdrawal struct {
		token  common.Address
		amount *big.Int
	}
	initiated := make(map[string]gatewayWithdrawal)
	for _, l := range receipt.Logs {
		if len(l.Topics) != 4 || l.Topics[0] != withdrawalInitiatedID {
			continue
		}
		values, err := l2RouterABI.Events["WithdrawalInitiated"].Inputs.NonIndexed().Unpack(l.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to unpack WithdrawalInitiated: %w", err)
		}
		id := new(big.Int).SetBytes(l.Topics[3].Bytes())
		initiated[id.String()] = gatewayWithdrawal{
			token:  values[0].(common.Address),
			amount: values[2].(*big.Int),
		}
	}

	events := make([]shared.WithdrawalEvent, 0, 1)
	for _, l := range receipt.Logs {
		if l.Address != ArbSysAddress || len(l.Topics) != 4 || l.Topics[0] != l2ToL1TransactionID {
			continue
		}
		values, err := arbSysABI.Events["L2ToL1Transaction"].Inputs.NonIndexed().Unpack(l.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to unpack L2ToL1Transaction: %w", err)
		}
		ev := shared.WithdrawalEvent{
			Caller:       values[0].(common.Address),
			Destination:  common.BytesToAddress(l.Topics[1].Bytes()),
			UniqueID:     new(big.Int).SetBytes(l.Topics[2].Bytes()),
			BatchNumber:  new(big.Int).SetBytes(l.Topics[3].Bytes()),
			IndexInBatch: values[1].(*big.Int),
			ArbBlockNum:  values[2].(*big.Int),
			EthBlockNum:  values[3].(*big.Int),
			Timestamp:    values[4].(*big.Int),
			CallValue:    values[5].(*big.Int),
			Data:         values[6].([]byte),
		}
		ev.Amount = ev.CallValue
		if gw, ok := initiated[ev.UniqueID.String()]; ok {
			ev.Token = gw.token
			ev.Amount = gw.amount
		}
		events = append(events, ev)
	}
	return events, nil
}
