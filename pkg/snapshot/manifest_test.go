package snapshot

import (
	"testing"

	"github.com/ledgerwatch/erigon/common"
	"github.com/ledgerwatch/erigon/crypto"
	"github.com/ledgerwatch/erigon/rlp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/snapshotter"
)

func testHashes(prefix string, n int) []common.Hash {
	out := make([]common.Hash, n)
	for i := range out {
		out[i] = crypto.Keccak256Hash([]byte(prefix), []byte{byte(i)})
	}
	return out
}

func testManifest(version uint64) *ManifestData {
	return &ManifestData{
		Version:     version,
		StateHashes: testHashes("state", 3),
		BlockHashes: testHashes("block", 2),
		StateRoot:   crypto.Keccak256Hash([]byte("root")),
		BlockNumber: 12345678,
		BlockHash:   crypto.Keccak256Hash([]byte("block")),
	}
}

func TestManifestRoundTrip(t *testing.T) {
	tt := []struct {
		name   string
		m      *ManifestData
		encode func(*ManifestData) ([]byte, error)
	}{
		{
			name:   "versioned",
			m:      testManifest(StateChunkVersion),
			encode: func(m *ManifestData) ([]byte, error) { return m.Bytes(), nil },
		},
		{
			name:   "legacy",
			m:      testManifest(1),
			encode: func(m *ManifestData) ([]byte, error) { return m.LegacyBytes() },
		},
		{
			name: "versioned without chunks",
			m: &ManifestData{
				Version:     StateChunkVersion,
				StateRoot:   crypto.Keccak256Hash([]byte("root")),
				BlockNumber: 1,
			},
			encode: func(m *ManifestData) ([]byte, error) { return m.Bytes(), nil },
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			enc, err := tc.encode(tc.m)
			require.NoError(t, err)

			got, err := ManifestFromBytes(enc)
			require.NoError(t, err)
			assert.Equal(t, tc.m, got)
		})
	}
}

func TestManifestLegacyDecodesAsVersionOne(t *testing.T) {
	m := testManifest(1)
	legacy, err := m.LegacyBytes()
	require.NoError(t, err)

	got, err := ManifestFromBytes(legacy)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Version)

	// re-encoding uses the versioned form but keeps the content
	again, err := ManifestFromBytes(got.Bytes())
	require.NoError(t, err)
	assert.Equal(t, got, again)

	_, err = testManifest(2).LegacyBytes()
	assert.Error(t, err)
}

func TestManifestBadItemCount(t *testing.T) {
	tt := []struct {
		name  string
		items []interface{}
	}{
		{name: "four items", items: []interface{}{[]common.Hash{}, []common.Hash{}, common.Hash{}, uint64(1)}},
		{name: "seven items", items: []interface{}{uint64(2), []common.Hash{}, []common.Hash{}, common.Hash{}, uint64(1), common.Hash{}, uint64(0)}},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			enc, err := rlp.EncodeToBytes(tc.items)
			require.NoError(t, err)

			_, err = ManifestFromBytes(enc)
			require.Error(t, err)
			assert.True(t, snapshotter.IsFormatErr(err))
		})
	}
}

func TestManifestGarbage(t *testing.T) {
	for _, b := range [][]byte{nil, {0x01}, append(testManifest(2).Bytes(), 0x00)} {
		_, err := ManifestFromBytes(b)
		assert.True(t, snapshotter.IsFormatErr(err), "input %x", b)
	}
}

func TestManifestHashAndChunks(t *testing.T) {
	m := testManifest(2)
	assert.Equal(t, crypto.Keccak256Hash(m.Bytes()), m.Hash())
	assert.Equal(t, 5, m.TotalChunks())
	assert.Equal(t, append(append([]common.Hash{}, m.StateHashes...), m.BlockHashes...), m.Chunks())
}
