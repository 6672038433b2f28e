package chain

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/ledgerwatch/erigon/common"
	"github.com/ledgerwatch/erigon/core/types"
	"github.com/ledgerwatch/erigon/rlp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/snapshotter/internal/kv"
)

func newTestChain(t *testing.T) (*Chain, *Block) {
	t.Helper()
	c, err := Open(kv.NewMemory())
	require.NoError(t, err)
	genesis := NewGenesis(common.HexToHash("0x01"), 1000)
	require.NoError(t, c.InitGenesis(genesis))
	return c, genesis
}

func TestDeriveRootEmpty(t *testing.T) {
	assert.Equal(t, types.EmptyRootHash, DeriveRoot(nil))
	assert.Equal(t, types.EmptyUncleHash, UncleHash(nil))

	item, err := rlp.EncodeToBytes([]byte("tx"))
	require.NoError(t, err)
	assert.NotEqual(t, types.EmptyRootHash, DeriveRoot([]rlp.RawValue{item}))
}

func TestGenerateAndRead(t *testing.T) {
	c, genesis := newTestChain(t)
	root := common.HexToHash("0x01")

	require.NoError(t, Generate(c, rand.New(rand.NewSource(1)), GenerateOptions{Blocks: 20, MaxTxs: 3, Difficulty: 100, StateRoot: root}))

	best := c.Best()
	assert.Equal(t, uint64(20), best.Number)
	assert.Equal(t, genesis.Hash(), c.Genesis())

	// walk back from the best block to genesis by parent hash
	hash := best.Hash
	td := big.NewInt(0)
	for n := int64(20); n > 0; n-- {
		block, err := c.Block(hash)
		require.NoError(t, err)
		assert.Equal(t, uint64(n), block.Number())
		assert.Equal(t, DeriveRoot(block.Body.Transactions), block.Header.TxHash)

		receipts, err := c.Receipts(hash)
		require.NoError(t, err)
		assert.Equal(t, DeriveRoot(receipts), block.Header.ReceiptHash)

		canon, err := c.CanonicalHash(uint64(n))
		require.NoError(t, err)
		assert.Equal(t, hash, canon)

		children, err := c.Children(block.Header.ParentHash)
		require.NoError(t, err)
		assert.Contains(t, children, hash)

		td.Add(td, block.Difficulty())
		hash = block.Header.ParentHash
	}
	assert.Equal(t, genesis.Hash(), hash)
	td.Add(td, genesis.Difficulty())
	assert.Equal(t, 0, td.Cmp(best.TotalDifficulty))
}

func TestReopenKeepsPointers(t *testing.T) {
	db := kv.NewMemory()
	c, err := Open(db)
	require.NoError(t, err)
	require.NoError(t, c.InitGenesis(NewGenesis(common.Hash{}, 1)))
	require.NoError(t, Generate(c, rand.New(rand.NewSource(2)), GenerateOptions{Blocks: 5, Difficulty: 10}))

	again, err := Open(db)
	require.NoError(t, err)
	assert.Equal(t, c.Best().Hash, again.Best().Hash)
	assert.Equal(t, c.Genesis(), again.Genesis())

	assert.Error(t, again.InitGenesis(NewGenesis(common.HexToHash("0x02"), 1)))
}

func TestInsertUnknownParent(t *testing.T) {
	c, _ := newTestChain(t)
	orphan := AssembleBlock(&types.Header{
		ParentHash: common.HexToHash("0xdead"),
		Difficulty: big.NewInt(1),
		Number:     big.NewInt(1),
	}, Body{}, nil)
	assert.ErrorIs(t, c.InsertBlock(orphan, nil), ErrUnknownParent)
}

func TestInsertUnorderedAndEpochs(t *testing.T) {
	c, _ := newTestChain(t)
	block := AssembleBlock(&types.Header{
		ParentHash: common.HexToHash("0xbeef"),
		Difficulty: big.NewInt(5),
		Number:     big.NewInt(40),
	}, Body{}, nil)

	linked, err := c.InsertUnordered(block, nil, big.NewInt(500), true)
	require.NoError(t, err)
	assert.False(t, linked)
	assert.Equal(t, block.Hash(), c.Best().Hash)

	child := AssembleBlock(&types.Header{
		ParentHash: block.Hash(),
		Difficulty: big.NewInt(5),
		Number:     big.NewInt(41),
	}, Body{}, nil)
	linked, err = c.InsertUnordered(child, nil, big.NewInt(505), false)
	require.NoError(t, err)
	assert.True(t, linked)
	assert.Equal(t, block.Hash(), c.Best().Hash)
	children, err := c.Children(block.Hash())
	require.NoError(t, err)
	assert.Equal(t, []common.Hash{child.Hash()}, children)

	require.NoError(t, c.InsertEpochTransition(EpochTransition{BlockNumber: 30, Proof: []byte{1}}))
	require.NoError(t, c.InsertEpochTransition(EpochTransition{BlockNumber: 10, Proof: []byte{2}}))
	epochs, err := c.EpochTransitions()
	require.NoError(t, err)
	require.Len(t, epochs, 2)
	assert.Equal(t, uint64(10), epochs[0].BlockNumber)
	assert.Equal(t, uint64(30), epochs[1].BlockNumber)
}
