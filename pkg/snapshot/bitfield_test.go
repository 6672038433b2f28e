package snapshot

import (
	"testing"

	"github.com/ledgerwatch/erigon/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slices"

	"github.com/ledgerwatch/snapshotter"
)

func assertPartition(t *testing.T, m *ManifestData, bf *Bitfield) {
	t.Helper()
	available := bf.AvailableChunks()
	needed := bf.NeededChunks()
	assert.Len(t, append(append([]common.Hash{}, available...), needed...), m.TotalChunks())
	for _, h := range m.Chunks() {
		inAvailable := slices.Contains(available, h)
		inNeeded := slices.Contains(needed, h)
		assert.True(t, inAvailable != inNeeded, "chunk %x must be in exactly one set", h)
	}
	assert.Equal(t, len(available), bf.NumAvailable())
}

func TestBitfieldPartition(t *testing.T) {
	m := &ManifestData{
		Version:     StateChunkVersion,
		StateHashes: testHashes("state", 7),
		BlockHashes: testHashes("block", 4),
	}

	tt := []struct {
		name string
		mark func(bf *Bitfield)
		want int
	}{
		{name: "none", mark: func(bf *Bitfield) {}, want: 0},
		{name: "some", mark: func(bf *Bitfield) {
			bf.MarkSome([]common.Hash{m.StateHashes[0], m.StateHashes[6], m.BlockHashes[3]})
		}, want: 3},
		{name: "all", mark: func(bf *Bitfield) { bf.MarkAll() }, want: 11},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			bf := NewBitfield(m)
			tc.mark(bf)
			assert.Equal(t, tc.want, bf.NumAvailable())
			assert.Equal(t, tc.want == m.TotalChunks(), bf.IsComplete())
			assertPartition(t, m, bf)

			restored, err := BitfieldFromBytes(m, bf.Bytes())
			require.NoError(t, err)
			assert.Equal(t, bf.AvailableChunks(), restored.AvailableChunks())
			assert.Equal(t, bf.NumAvailable(), restored.NumAvailable())
		})
	}
}

func TestBitfieldIdempotentMarking(t *testing.T) {
	m := &ManifestData{StateHashes: testHashes("state", 3), BlockHashes: testHashes("block", 1)}
	bf := NewBitfield(m)

	assert.True(t, bf.MarkOne(m.StateHashes[1]))
	assert.True(t, bf.MarkOne(m.StateHashes[1]))
	bf.MarkSome([]common.Hash{m.StateHashes[1], m.StateHashes[1]})
	assert.Equal(t, 1, bf.NumAvailable())

	assert.False(t, bf.MarkOne(common.HexToHash("0x1234")))
	assert.Equal(t, 1, bf.NumAvailable())

	bf.MarkAll()
	bf.MarkAll()
	assert.Equal(t, 4, bf.NumAvailable())
	assert.Empty(t, bf.NeededChunks())
}

func TestBitfieldDuplicateHashes(t *testing.T) {
	dup := testHashes("state", 1)[0]
	m := &ManifestData{StateHashes: []common.Hash{dup, dup}, BlockHashes: testHashes("block", 1)}
	bf := NewBitfield(m)
	bf.MarkOne(dup)
	assert.Equal(t, 2, bf.NumAvailable())
	assert.Equal(t, []common.Hash{m.BlockHashes[0]}, bf.NeededChunks())

	_, err := BitfieldFromBytes(m, []byte{0x01})
	assert.True(t, snapshotter.IsFormatErr(err))
}

func TestBitfieldFromBytesLength(t *testing.T) {
	m := &ManifestData{StateHashes: testHashes("state", 9)}

	tt := []struct {
		name string
		b    []byte
		ok   bool
	}{
		{name: "exact", b: []byte{0xff, 0x01}, ok: true},
		{name: "short", b: []byte{0xff}},
		{name: "long", b: []byte{0xff, 0x01, 0x00}},
		{name: "bits past the end", b: []byte{0xff, 0x03}},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			bf, err := BitfieldFromBytes(m, tc.b)
			if !tc.ok {
				assert.True(t, snapshotter.IsFormatErr(err))
				return
			}
			require.NoError(t, err)
			assert.True(t, bf.IsComplete())
			assert.Equal(t, 9, bf.Total())
		})
	}
}
