package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const ERC20ABI = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"event","name":"Transfer","anonymous":false,"inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]}
]`

const FactoryABI = `[
	{"type":"function","name":"createChild","stateMutability":"nonpayable","inputs":[{"name":"id","type":"uint256"},{"name":"token","type":"address"}],"outputs":[]},
	{"type":"function","name":"getChildAddress","stateMutability":"view","inputs":[{"name":"id","type":"uint256"}],"outputs":[{"name":"","type":"address"}]}
]`

const ChildABI = `[
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"recipient","type":"address"}],"outputs":[]},
	{"type":"function","name":"withdrawEth","stateMutability":"payable","inputs":[{"name":"recipient","type":"address"}],"outputs":[]},
	{"type":"function","name":"receiveEth","stateMutability":"payable","inputs":[],"outputs":[]}
]`

var (
	erc20ABI   = mustParse(ERC20ABI)
	factoryABI = mustParse(FactoryABI)
	childABI   = mustParse(ChildABI)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
