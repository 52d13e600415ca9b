package bridge

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// Arbitrum precompiles on L2.
	ArbSysAddress         = common.HexToAddress("0x0000000000000000000000000000000000000064")
	ArbRetryableTxAddress = common.HexToAddress("0x000000000000000000000000000000000000006E")
)

const inboxABIJSON = `[
	{"type":"function","name":"depositEth","stateMutability":"payable","inputs":[{"name":"maxSubmissionCost","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"InboxMessageDelivered","anonymous":false,"inputs":[{"name":"messageNum","type":"uint256","indexed":true},{"name":"data","type":"bytes","indexed":false}]},
	{"type":"event","name":"InboxMessageDeliveredFromOrigin","anonymous":false,"inputs":[{"name":"messageNum","type":"uint256","indexed":true}]}
]`

const l1RouterABIJSON = `[
	{"type":"function","name":"getGateway","stateMutability":"view","inputs":[{"name":"_token","type":"address"}],"outputs":[{"name":"gateway","type":"address"}]},
	{"type":"function","name":"calculateL2TokenAddress","stateMutability":"view","inputs":[{"name":"l1ERC20","type":"address"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"outboundTransfer","stateMutability":"payable","inputs":[{"name":"_token","type":"address"},{"name":"_to","type":"address"},{"name":"_amount","type":"uint256"},{"name":"_maxGas","type":"uint256"},{"name":"_gasPriceBid","type":"uint256"},{"name":"_data","type":"bytes"}],"outputs":[{"name":"","type":"bytes"}]}
]`

const l2RouterABIJSON = `[
	{"type":"function","name":"outboundTransfer","stateMutability":"payable","inputs":[{"name":"_l1Token","type":"address"},{"name":"_to","type":"address"},{"name":"_amount","type":"uint256"},{"name":"_data","type":"bytes"}],"outputs":[{"name":"","type":"bytes"}]},
	{"type":"event","name":"WithdrawalInitiated","anonymous":false,"inputs":[{"name":"l1Token","type":"address","indexed":false},{"name":"_from","type":"address","indexed":true},{"name":"_to","type":"address","indexed":true},{"name":"_l2ToL1Id","type":"uint256","indexed":true},{"name":"_exitNum","type":"uint256","indexed":false},{"name":"_amount","type":"uint256","indexed":false}]}
]`

const arbSysABIJSON = `[
	{"type":"function","name":"withdrawEth","stateMutability":"payable","inputs":[{"name":"destination","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"L2ToL1Transaction","anonymous":false,"inputs":[{"name":"caller","type":"address","indexed":false},{"name":"destination","type":"address","indexed":true},{"name":"uniqueId","type":"uint256","indexed":true},{"name":"batchNumber","type":"uint256","indexed":true},{"name":"indexInBatch","type":"uint256","indexed":false},{"name":"arbBlockNum","type":"uint256","indexed":false},{"name":"ethBlockNum","type":"uint256","indexed":false},{"name":"timestamp","type":"uint256","indexed":false},{"name":"callvalue","type":"uint256","indexed":false},{"name":"data","type":"bytes","indexed":false}]}
]`

const arbRetryableABIJSON = `[
	{"type":"function","name":"getSubmissionPrice","stateMutability":"view","inputs":[{"name":"calldataSize","type":"uint256"}],"outputs":[{"name":"","type":"uint256"},{"name":"","type":"uint256"}]}
]`

var (
	inboxABI     = mustParse(inboxABIJSON)
	l1RouterABI  = mustParse(l1RouterABIJSON)
	l2RouterABI  = mustParse(l2RouterABIJSON)
	arbSysABI    = mustParse(arbSysABIJSON)
	retryableABI = mustParse(arbRetryableABIJSON)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
