package state

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/ledgerwatch/erigon/common"
	"github.com/ledgerwatch/erigon/core/types"
	"github.com/ledgerwatch/erigon/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/snapshotter/internal/kv"
)

func TestCommitEmptyState(t *testing.T) {
	s := New(kv.NewMemory())
	root, err := s.Commit()
	require.NoError(t, err)
	assert.Equal(t, types.EmptyRootHash, root)

	stored, err := s.Root()
	require.NoError(t, err)
	assert.Equal(t, root, stored)
}

func TestCommitUpdatesStorageRoot(t *testing.T) {
	s := New(kv.NewMemory())
	addrHash := crypto.Keccak256Hash([]byte("alice"))
	acc := NewAccount()
	acc.Balance = big.NewInt(42)

	b := s.Store().NewBatch()
	require.NoError(t, s.PutAccount(b, addrHash, acc))
	require.NoError(t, s.PutStorage(b, addrHash, common.HexToHash("0x01"), []byte{7}))
	require.NoError(t, b.Write())

	root1, err := s.Commit()
	require.NoError(t, err)

	stored, err := s.Account(addrHash)
	require.NoError(t, err)
	assert.NotEqual(t, types.EmptyRootHash, stored.Root)
	assert.Equal(t, 0, stored.Balance.Cmp(big.NewInt(42)))

	// deleting the only slot brings the storage root back to empty
	require.NoError(t, s.PutStorage(s.Store(), addrHash, common.HexToHash("0x01"), nil))
	root2, err := s.Commit()
	require.NoError(t, err)
	assert.NotEqual(t, root1, root2)

	stored, err = s.Account(addrHash)
	require.NoError(t, err)
	assert.Equal(t, types.EmptyRootHash, stored.Root)
}

func TestGenerateIsDeterministic(t *testing.T) {
	opts := GenerateOptions{Accounts: 200, StorageEvery: 3, MaxSlots: 8, CodeEvery: 5, CodeVariants: 4}

	a := New(kv.NewMemory())
	rootA, err := Generate(a, rand.New(rand.NewSource(7)), opts)
	require.NoError(t, err)

	b := New(kv.NewMemory())
	rootB, err := Generate(b, rand.New(rand.NewSource(7)), opts)
	require.NoError(t, err)

	assert.Equal(t, rootA, rootB)

	count := 0
	it := a.AccountIterator(nil)
	for it.Next() {
		acc, err := it.Account()
		require.NoError(t, err)
		ok, err := a.HasCode(acc.CodeHash)
		require.NoError(t, err)
		assert.True(t, ok)
		count++
	}
	it.Release()
	require.NoError(t, it.Error())
	assert.Equal(t, 200, count)
}

func TestEra(t *testing.T) {
	s := New(kv.NewMemory())
	h := common.HexToHash("0xabcd")
	require.NoError(t, s.MarkEra(12, h))
	n, got, err := s.Era()
	require.NoError(t, err)
	assert.Equal(t, uint64(12), n)
	assert.Equal(t, h, got)
}
