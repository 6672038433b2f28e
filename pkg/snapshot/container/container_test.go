package container

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/ledgerwatch/erigon/common"
	"github.com/ledgerwatch/erigon/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/snapshotter"
	"github.com/ledgerwatch/snapshotter/pkg/snapshot"
)

type sealed struct {
	hash       common.Hash
	compressed []byte
}

func sealAll(payloads ...string) []sealed {
	out := make([]sealed, len(payloads))
	for i, p := range payloads {
		h, c := snapshot.SealChunk([]byte(p))
		out[i] = sealed{hash: h, compressed: c}
	}
	return out
}

func fill(t *testing.T, w Writer, state, blocks []sealed) *snapshot.ManifestData {
	t.Helper()
	m := &snapshot.ManifestData{
		Version:     snapshot.StateChunkVersion,
		StateRoot:   crypto.Keccak256Hash([]byte("root")),
		BlockNumber: 99,
		BlockHash:   crypto.Keccak256Hash([]byte("head")),
	}
	// blocks first: the file order need not follow the manifest order
	for _, c := range blocks {
		require.NoError(t, w.WriteBlockChunk(c.hash, c.compressed))
		m.BlockHashes = append(m.BlockHashes, c.hash)
	}
	for _, c := range state {
		require.NoError(t, w.WriteStateChunk(c.hash, c.compressed))
		m.StateHashes = append(m.StateHashes, c.hash)
	}
	require.NoError(t, w.Finish(m))
	return m
}

func TestContainerRoundTrip(t *testing.T) {
	state := sealAll("state one", "state two", "state three")
	blocks := sealAll("block one", "block two")

	tt := []struct {
		name      string
		newWriter func(t *testing.T, path string) Writer
	}{
		{name: "packed", newWriter: func(t *testing.T, path string) Writer {
			w, err := NewPackedWriter(path)
			require.NoError(t, err)
			return w
		}},
		{name: "loose", newWriter: func(t *testing.T, path string) Writer {
			w, err := NewLooseWriter(path)
			require.NoError(t, err)
			return w
		}},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "snap")
			m := fill(t, tc.newWriter(t, path), state, blocks)

			r, err := Open(path)
			require.NoError(t, err)
			defer r.Close()

			assert.Equal(t, m, r.Manifest())
			for _, c := range append(append([]sealed{}, state...), blocks...) {
				got, err := r.Chunk(c.hash)
				require.NoError(t, err)
				assert.Equal(t, c.compressed, got)
			}

			_, err = r.Chunk(common.HexToHash("0x1234"))
			assert.True(t, snapshotter.IsNotFoundErr(err))
		})
	}
}

func TestPackedWriterRejectsAfterFinish(t *testing.T) {
	w, err := NewPackedWriter(filepath.Join(t.TempDir(), "snap"))
	require.NoError(t, err)
	fill(t, w, sealAll("a"), nil)
	assert.Error(t, w.WriteStateChunk(common.Hash{}, []byte{1}))
	assert.Error(t, w.Finish(&snapshot.ManifestData{}))
}

func TestPackedWriterAbort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap")
	w, err := NewPackedWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteStateChunk(common.Hash{}, []byte{1, 2, 3}))
	require.NoError(t, w.Abort())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestOpenPackedCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap")
	w, err := NewPackedWriter(path)
	require.NoError(t, err)
	fill(t, w, sealAll("state"), sealAll("block"))
	good, err := os.ReadFile(path)
	require.NoError(t, err)

	tt := []struct {
		name   string
		mutate func(b []byte) []byte
	}{
		{name: "truncated", mutate: func(b []byte) []byte { return b[:10] }},
		{name: "bad magic", mutate: func(b []byte) []byte { b[len(b)-1] ^= 0xff; return b }},
		{name: "offset past end", mutate: func(b []byte) []byte {
			binary.LittleEndian.PutUint64(b[len(b)-footerLen:], uint64(len(b)))
			return b
		}},
		{name: "garbage trailer", mutate: func(b []byte) []byte {
			off := binary.LittleEndian.Uint64(b[len(b)-footerLen:])
			b[off] = 0x01
			return b
		}},
		{name: "trailer offset at first chunk", mutate: func(b []byte) []byte {
			binary.LittleEndian.PutUint64(b[len(b)-footerLen:], 0)
			return b
		}},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			broken := filepath.Join(t.TempDir(), "broken")
			require.NoError(t, os.WriteFile(broken, tc.mutate(append([]byte{}, good...)), 0o644))
			_, err := OpenPacked(broken)
			require.Error(t, err)
			assert.True(t, snapshotter.IsFormatErr(err), "got %v", err)
		})
	}
}

func TestOpenPackedMissingManifestChunk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap")
	w, err := NewPackedWriter(path)
	require.NoError(t, err)
	c := sealAll("only")[0]
	require.NoError(t, w.WriteStateChunk(c.hash, c.compressed))
	require.NoError(t, w.Finish(&snapshot.ManifestData{
		Version:     snapshot.StateChunkVersion,
		StateHashes: []common.Hash{c.hash, crypto.Keccak256Hash([]byte("absent"))},
	}))

	_, err = OpenPacked(path)
	assert.True(t, snapshotter.IsFormatErr(err))
}

func TestLooseUnfinished(t *testing.T) {
	dir := t.TempDir()
	w, err := NewLooseWriter(dir)
	require.NoError(t, err)
	chunks := sealAll("a", "b")
	for _, c := range chunks {
		require.NoError(t, w.WriteStateChunk(c.hash, c.compressed))
	}

	_, err = OpenLoose(dir)
	assert.True(t, snapshotter.IsNotFoundErr(err))

	found, err := ChunkFiles(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []common.Hash{chunks[0].hash, chunks[1].hash}, found)
}

func TestLooseFinishPublishesManifest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snap")
	w, err := NewLooseWriter(dir)
	require.NoError(t, err)
	m := fill(t, w, sealAll("a", "b"), sealAll("c"))

	_, err = os.Stat(filepath.Join(dir, manifestFile+".tmp"))
	assert.True(t, os.IsNotExist(err), "temporary manifest is renamed away")

	r, err := OpenLoose(dir)
	require.NoError(t, err)
	assert.Equal(t, m, r.Manifest())

	assert.Error(t, w.Finish(m))
	assert.Error(t, w.WriteStateChunk(common.Hash{}, []byte{1}))
}

func TestLooseFinishFailsWithoutDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snap")
	w, err := NewLooseWriter(dir)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dir))

	assert.Error(t, w.Finish(&snapshot.ManifestData{Version: snapshot.StateChunkVersion}))
	_, err = OpenLoose(dir)
	assert.True(t, snapshotter.IsNotFoundErr(err))
}
