package state

import (
	"math/big"

	"github.com/ledgerwatch/erigon/common"
	"github.com/ledgerwatch/erigon/core/types"
	"github.com/ledgerwatch/erigon/crypto"
	"github.com/ledgerwatch/erigon/rlp"
)

// EmptyCodeHash is the code hash of an account without code.
var EmptyCodeHash = crypto.Keccak256Hash(nil)

// Account is the trie leaf of an address: the consensus encoding of
// nonce, balance, storage root and code hash.
type Account struct {
	Nonce    uint64
	Balance  *big.Int
	Root     common.Hash
	CodeHash common.Hash
}

func NewAccount() *Account {
	return &Account{
		Balance:  new(big.Int),
		Root:     types.EmptyRootHash,
		CodeHash: EmptyCodeHash,
	}
}

func (a *Account) HasCode() bool {
	return a.CodeHash != EmptyCodeHash
}

func (a *Account) Bytes() []byte {
	b, err := rlp.EncodeToBytes(a)
	if err != nil {
		panic(err)
	}
	return b
}

func DecodeAccount(b []byte) (*Account, error) {
	acc := new(Account)
	if err := rlp.DecodeBytes(b, acc); err != nil {
		return nil, err
	}
	if acc.Balance == nil {
		acc.Balance = new(big.Int)
	}
	return acc, nil
}
