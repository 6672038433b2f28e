package consensus

import (
	"math/big"

	"github.com/ledgerwatch/erigon/common"
	"github.com/ledgerwatch/erigon/core/types"
	"github.com/ledgerwatch/erigon/rlp"

	"github.com/ledgerwatch/snapshotter/internal/chain"
)

// abridgedBlock is a block without the fields a restorer can derive: the
// parent hash and number come from the chunk position, the transaction,
// receipt and uncle roots are recomputed from the content.
type abridgedBlock struct {
	Coinbase     common.Address
	Root         common.Hash
	Bloom        types.Bloom
	Difficulty   *big.Int
	GasLimit     uint64
	GasUsed      uint64
	Time         uint64
	Extra        []byte
	MixDigest    common.Hash
	Nonce        types.BlockNonce
	Transactions []rlp.RawValue
	Uncles       []*types.Header
}

func abridge(b *chain.Block) *abridgedBlock {
	h := b.Header
	return &abridgedBlock{
		Coinbase:     h.Coinbase,
		Root:         h.Root,
		Bloom:        h.Bloom,
		Difficulty:   h.Difficulty,
		GasLimit:     h.GasLimit,
		GasUsed:      h.GasUsed,
		Time:         h.Time,
		Extra:        h.Extra,
		MixDigest:    h.MixDigest,
		Nonce:        h.Nonce,
		Transactions: b.Body.Transactions,
		Uncles:       b.Body.Uncles,
	}
}

func (a *abridgedBlock) toBlock(parentHash common.Hash, number uint64, receipts chain.Receipts) *chain.Block {
	difficulty := a.Difficulty
	if difficulty == nil {
		difficulty = new(big.Int)
	}
	header := &types.Header{
		ParentHash: parentHash,
		Coinbase:   a.Coinbase,
		Root:       a.Root,
		Bloom:      a.Bloom,
		Difficulty: difficulty,
		Number:     new(big.Int).SetUint64(number),
		GasLimit:   a.GasLimit,
		GasUsed:    a.GasUsed,
		Time:       a.Time,
		Extra:      a.Extra,
		MixDigest:  a.MixDigest,
		Nonce:      a.Nonce,
	}
	return chain.AssembleBlock(header, chain.Body{Transactions: a.Transactions, Uncles: a.Uncles}, receipts)
}

// blockPair is one block of a proof-of-work chunk with its receipts.
type blockPair struct {
	Block    abridgedBlock
	Receipts chain.Receipts
}
