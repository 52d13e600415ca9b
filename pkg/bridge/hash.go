package bridge

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

var seqNumFlag = new(big.Int).Lsh(big.NewInt(1), 255)

func keccak(words ...[]byte) common.Hash {
	hash := sha3.NewLegacyKeccak256()
	for _, w := range words {
		hash.Write(w)
	}
	return common.BytesToHash(hash.Sum(nil))
}

func word(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}

// L2TransactionHash is the hash of the retryable ticket (or direct deposit)
// that a given inbox sequence number creates on the L2 chain.
func L2TransactionHash(l2ChainID, seqNum *big.Int) common.Hash {
	flipped := new(big.Int).Or(seqNum, seqNumFlag)
	return keccak(word(l2ChainID), word(flipped))
}

// L2RetryableTransactionHash is the hash of the L2 message executed when the
// retryable ticket for seqNum is redeemed.
func L2RetryableTransactionHash(l2ChainID, seqNum *big.Int) common.Hash {
	ticket := L2TransactionHash(l2ChainID, seqNum)
	return keccak(ticket.Bytes(), word(big.NewInt(0)))
}

// RetryableAutoRedeemHash is the hash of the record of the automatic redeem.
func RetryableAutoRedeemHash(l2ChainID, seqNum *big.Int) common.Hash {
	ticket := L2TransactionHash(l2ChainID, seqNum)
	return keccak(ticket.Bytes(), word(big.NewInt(1)))
}
