package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuccessor(t *testing.T) {
	tt := []struct {
		name string
		key  []byte
		want []byte
	}{
		{name: "empty", key: nil, want: nil},
		{name: "plain", key: []byte{1, 2, 3}, want: []byte{1, 2, 4}},
		{name: "trailing ff", key: []byte{1, 0xff}, want: []byte{2}},
		{name: "all ff", key: []byte{0xff, 0xff}, want: nil},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Successor(tc.key))
		})
	}
}

func TestLevelDBIteratePrefix(t *testing.T) {
	db := NewMemory()
	defer db.Close()

	for _, k := range []string{"a1", "a2", "a3", "b1", "ab", "\xff\x01", "\xff\xff"} {
		require.NoError(t, db.Put([]byte(k), []byte("v"+k)))
	}

	collect := func(prefix, start string) []string {
		it := db.NewIterator([]byte(prefix), []byte(start))
		defer it.Release()
		var keys []string
		for it.Next() {
			keys = append(keys, string(it.Key()))
		}
		require.NoError(t, it.Error())
		return keys
	}

	assert.Equal(t, []string{"a1", "a2", "a3", "ab"}, collect("a", ""))
	assert.Equal(t, []string{"a2", "a3", "ab"}, collect("a", "2"))
	assert.Equal(t, []string{"b1"}, collect("b", ""))
	assert.Equal(t, []string{"\xff\x01", "\xff\xff"}, collect("\xff", ""))
	assert.Len(t, collect("", ""), 7)
}

func TestLevelDBBatchAndNotFound(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Get([]byte("missing"))
	assert.ErrorIs(t, err, ErrNotFound)

	b := db.NewBatch()
	require.NoError(t, b.Put([]byte("k"), []byte("value")))
	assert.Equal(t, 5, b.ValueSize())

	ok, err := db.Has([]byte("k"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Write())
	v, err := db.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), v)
}
