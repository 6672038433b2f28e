package container

import (
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/ledgerwatch/erigon/common"
	"github.com/ledgerwatch/erigon/rlp"
	"github.com/pkg/errors"

	"github.com/ledgerwatch/snapshotter"
	"github.com/ledgerwatch/snapshotter/pkg/snapshot"
)

// Packed layout:
//
//	[chunk]...[trailer][trailer offset, u64 little endian][magic]
//
// The trailer is RLP [formatVersion, [state chunk infos], [block chunk
// infos], manifest] and every chunk info is [hash, length, offset].
const (
	packedFormatVersion uint64 = 2
	footerLen                  = 8 + len(packedMagic)
)

var packedMagic = [8]byte{'W', 'S', 'N', 'A', 'P', 'v', '0', '2'}

type chunkInfo struct {
	Hash   common.Hash
	Len    uint64
	Offset uint64
}

type trailer struct {
	FormatVersion uint64
	StateChunks   []chunkInfo
	BlockChunks   []chunkInfo
	Manifest      rlp.RawValue
}

type PackedWriter struct {
	mu     sync.Mutex
	file   *os.File
	offset uint64
	state  []chunkInfo
	blocks []chunkInfo
	done   bool
}

func NewPackedWriter(path string) (*PackedWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create packed snapshot")
	}
	return &PackedWriter{file: f}, nil
}

func (w *PackedWriter) WriteStateChunk(hash common.Hash, chunk []byte) error {
	return w.write(hash, chunk, &w.state)
}

func (w *PackedWriter) WriteBlockChunk(hash common.Hash, chunk []byte) error {
	return w.write(hash, chunk, &w.blocks)
}

func (w *PackedWriter) write(hash common.Hash, chunk []byte, infos *[]chunkInfo) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return errors.New("packed snapshot already finished")
	}
	if _, err := w.file.Write(chunk); err != nil {
		return errors.Wrap(err, "write chunk")
	}
	*infos = append(*infos, chunkInfo{Hash: hash, Len: uint64(len(chunk)), Offset: w.offset})
	w.offset += uint64(len(chunk))
	return nil
}

// Finish appends the trailer and footer, syncs and closes the file.
func (w *PackedWriter) Finish(m *snapshot.ManifestData) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return errors.New("packed snapshot already finished")
	}
	w.done = true

	enc, err := rlp.EncodeToBytes(&trailer{
		FormatVersion: packedFormatVersion,
		StateChunks:   w.state,
		BlockChunks:   w.blocks,
		Manifest:      m.Bytes(),
	})
	if err != nil {
		return err
	}
	footer := make([]byte, footerLen)
	binary.LittleEndian.PutUint64(footer, w.offset)
	copy(footer[8:], packedMagic[:])

	if _, err := w.file.Write(append(enc, footer...)); err != nil {
		w.file.Close()
		return errors.Wrap(err, "write trailer")
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return errors.Wrap(err, "sync packed snapshot")
	}
	return w.file.Close()
}

// Abort closes and removes an unfinished file.
func (w *PackedWriter) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return nil
	}
	w.done = true
	w.file.Close()
	return os.Remove(w.file.Name())
}

type PackedReader struct {
	file     *os.File
	manifest *snapshot.ManifestData
	index    map[common.Hash]chunkInfo
}

// OpenPacked validates the footer, trailer and chunk bounds and indexes the
// chunks by hash.
func OpenPacked(path string) (*PackedReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open packed snapshot")
	}
	r, err := readPacked(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func readPacked(f *os.File) (*PackedReader, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := uint64(info.Size())
	if size < uint64(footerLen) {
		return nil, snapshotter.Format(errors.Errorf("packed snapshot of %d bytes has no footer", size))
	}

	footer := make([]byte, footerLen)
	if _, err := f.ReadAt(footer, int64(size)-int64(footerLen)); err != nil {
		return nil, errors.Wrap(err, "read footer")
	}
	if [8]byte(footer[8:]) != packedMagic {
		return nil, snapshotter.Format(errors.New("packed snapshot magic mismatch"))
	}
	trailerOffset := binary.LittleEndian.Uint64(footer)
	trailerEnd := size - uint64(footerLen)
	if trailerOffset >= trailerEnd {
		return nil, snapshotter.Format(errors.Errorf("trailer offset %d outside file of %d bytes", trailerOffset, size))
	}

	raw := make([]byte, trailerEnd-trailerOffset)
	if _, err := f.ReadAt(raw, int64(trailerOffset)); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "read trailer")
	}
	var t trailer
	if err := rlp.DecodeBytes(raw, &t); err != nil {
		return nil, snapshotter.Format(errors.Wrap(err, "decode trailer"))
	}
	if t.FormatVersion != packedFormatVersion {
		return nil, snapshotter.Format(errors.Errorf("unsupported packed format version %d", t.FormatVersion))
	}
	manifest, err := snapshot.ManifestFromBytes(t.Manifest)
	if err != nil {
		return nil, err
	}

	index := make(map[common.Hash]chunkInfo, len(t.StateChunks)+len(t.BlockChunks))
	for _, infos := range [][]chunkInfo{t.StateChunks, t.BlockChunks} {
		for _, ci := range infos {
			if ci.Offset > trailerOffset || ci.Len > trailerOffset-ci.Offset {
				return nil, snapshotter.Format(errors.Errorf("chunk %x at %d+%d overlaps the trailer", ci.Hash, ci.Offset, ci.Len))
			}
			index[ci.Hash] = ci
		}
	}
	for _, h := range manifest.Chunks() {
		if _, ok := index[h]; !ok {
			return nil, snapshotter.Format(errors.Errorf("manifest chunk %x missing from container", h))
		}
	}
	return &PackedReader{file: f, manifest: manifest, index: index}, nil
}

func (r *PackedReader) Manifest() *snapshot.ManifestData {
	return r.manifest
}

func (r *PackedReader) Chunk(hash common.Hash) ([]byte, error) {
	ci, ok := r.index[hash]
	if !ok {
		return nil, snapshotter.NotFound(errors.Errorf("chunk %x", hash))
	}
	buf := make([]byte, ci.Len)
	if _, err := r.file.ReadAt(buf, int64(ci.Offset)); err != nil {
		return nil, errors.Wrapf(err, "read chunk %x", hash)
	}
	return buf, nil
}

func (r *PackedReader) Close() error {
	return r.file.Close()
}
