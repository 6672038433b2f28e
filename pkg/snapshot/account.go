package snapshot

import (
	"math/big"

	"github.com/ledgerwatch/erigon/common"
	"github.com/ledgerwatch/erigon/rlp"
)

// Code carried by an account entry.
const (
	codeNone   uint8 = 0 // account has no code
	codeInline uint8 = 1 // Code holds the bytecode
	codeRef    uint8 = 2 // Code holds the hash of bytecode sent in another entry
)

// accountEntry is one account, or one part of an account whose storage was
// split across chunks. Every part repeats nonce and balance.
type accountEntry struct {
	AddrHash common.Hash
	Nonce    uint64
	Balance  *big.Int
	CodeFlag uint8
	Code     []byte
	Storage  []storageEntry
}

type storageEntry struct {
	Slot  common.Hash
	Value []byte
}

func (e *accountEntry) encode() rlp.RawValue {
	enc, err := rlp.EncodeToBytes(e)
	if err != nil {
		panic(err)
	}
	return enc
}

func encodedSize(v interface{}) int {
	enc, err := rlp.EncodeToBytes(v)
	if err != nil {
		panic(err)
	}
	return len(enc)
}
