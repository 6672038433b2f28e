package chain

import (
	"math/big"

	"github.com/ledgerwatch/erigon/common"
	"github.com/ledgerwatch/erigon/core/types"
	"github.com/ledgerwatch/erigon/crypto"
	"github.com/ledgerwatch/erigon/rlp"
	"github.com/ledgerwatch/erigon/turbo/trie"
)

// Transactions and receipts are carried as opaque RLP items: the store only
// needs their roots, never their contents.
type Receipts []rlp.RawValue

type Body struct {
	Transactions []rlp.RawValue
	Uncles       []*types.Header
}

type Block struct {
	Header *types.Header
	Body   Body
}

// AssembleBlock fills the header commitments for body and receipts.
func AssembleBlock(header *types.Header, body Body, receipts Receipts) *Block {
	h := types.CopyHeader(header)
	h.TxHash = DeriveRoot(body.Transactions)
	h.ReceiptHash = DeriveRoot(receipts)
	h.UncleHash = UncleHash(body.Uncles)
	return &Block{Header: h, Body: body}
}

func (b *Block) Hash() common.Hash {
	return b.Header.Hash()
}

func (b *Block) Number() uint64 {
	return b.Header.Number.Uint64()
}

func (b *Block) Difficulty() *big.Int {
	return b.Header.Difficulty
}

// DeriveRoot is the root of the trie mapping rlp(index) to each item.
func DeriveRoot(items []rlp.RawValue) common.Hash {
	if len(items) == 0 {
		return types.EmptyRootHash
	}
	t := trie.New(common.Hash{})
	for i, item := range items {
		key, err := rlp.EncodeToBytes(uint64(i))
		if err != nil {
			panic(err)
		}
		t.Update(key, item)
	}
	return t.Hash()
}

func UncleHash(uncles []*types.Header) common.Hash {
	if len(uncles) == 0 {
		return types.EmptyUncleHash
	}
	enc, err := rlp.EncodeToBytes(uncles)
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256Hash(enc)
}

// EpochTransition is a block at which the validator set of an authority
// chain changes, together with the proof of the new set.
type EpochTransition struct {
	BlockNumber uint64
	BlockHash   common.Hash
	Proof       []byte
}
