package shared

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
)

type Chain int

const (
	L1 Chain = iota
	L2
)

func (c Chain) String() string {
	switch c {
	case L1:
		return "L1"
	case L2:
		return "L2"
	default:
		return "unknown"
	}
}

// AssetKind selects between the chain's native coin and an ERC20 token.
type AssetKind int

const (
	Native AssetKind = iota
	Fungible
)

func (a AssetKind) String() string {
	switch a {
	case Native:
		return "native"
	case Fungible:
		return "fungible"
	default:
		return "unknown"
	}
}

func ParseAssetKind(s string) (AssetKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "native", "eth", "ether":
		return Native, nil
	case "fungible", "token", "erc20":
		return Fungible, nil
	default:
		return 0, fmt.Errorf("unknown asset kind %q, expected native or fungible", s)
	}
}

// WithdrawalEvent is the outbound message an L2 withdrawal emits.
// Amount is the callvalue for native withdrawals and the gateway amount
// for token withdrawals.
type WithdrawalEvent struct {
	Caller       common.Address
	Destination  common.Address
	UniqueID     *big.Int
	BatchNumber  *big.Int
	IndexInBatch *big.Int
	ArbBlockNum  *big.Int
	EthBlockNum  *big.Int
	Timestamp    *big.Int
	CallValue    *big.Int
	Data         []byte
	Token        common.Address
	Amount       *big.Int
}

// decimalAmount keeps hex, fraction and exponent forms away from big.Rat.
var decimalAmount = regexp.MustCompile(`^\d+(\.\d{1,18})?$`)

// ParseEther converts a plain decimal ether string such as "0.01" to wei.
func ParseEther(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if !decimalAmount.MatchString(s) {
		return nil, fmt.Errorf("invalid ether amount %q: want a plain decimal with at most 18 decimals", s)
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("invalid ether amount %q", s)
	}
	r.Mul(r, new(big.Rat).SetInt(big.NewInt(params.Ether)))
	return new(big.Int).Set(r.Num()), nil
}

// FormatEther renders wei as a decimal ether string.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(wei, big.NewInt(params.Ether))
	s := r.FloatString(18)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
