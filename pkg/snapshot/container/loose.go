package container

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	"github.com/ledgerwatch/erigon/common"
	"github.com/pkg/errors"

	"github.com/ledgerwatch/snapshotter"
	"github.com/ledgerwatch/snapshotter/pkg/snapshot"
)

const manifestFile = "MANIFEST"

// LooseWriter keeps one file per chunk, named by its hex hash, and writes
// the manifest last. A directory without MANIFEST is unfinished.
type LooseWriter struct {
	dir  string
	mu   sync.Mutex
	done bool
}

func NewLooseWriter(dir string) (*LooseWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create loose snapshot dir")
	}
	return &LooseWriter{dir: dir}, nil
}

func (w *LooseWriter) WriteStateChunk(hash common.Hash, chunk []byte) error {
	return w.write(hash, chunk)
}

func (w *LooseWriter) WriteBlockChunk(hash common.Hash, chunk []byte) error {
	return w.write(hash, chunk)
}

func (w *LooseWriter) write(hash common.Hash, chunk []byte) error {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done {
		return errors.New("loose snapshot already finished")
	}
	return writeFileSync(ChunkPath(w.dir, hash), chunk)
}

func (w *LooseWriter) Finish(m *snapshot.ManifestData) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return errors.New("loose snapshot already finished")
	}
	w.done = true

	tmp := filepath.Join(w.dir, manifestFile+".tmp")
	if err := writeFileSync(tmp, m.Bytes()); err != nil {
		return errors.Wrap(err, "write manifest")
	}
	// chunk files must be durable before the manifest declares them
	if err := syncDir(w.dir); err != nil {
		return err
	}
	if err := os.Rename(tmp, filepath.Join(w.dir, manifestFile)); err != nil {
		return errors.Wrap(err, "publish manifest")
	}
	return syncDir(w.dir)
}

func writeFileSync(path string, b []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return errors.Wrap(d.Sync(), "sync snapshot dir")
}

type LooseReader struct {
	dir      string
	manifest *snapshot.ManifestData
}

func OpenLoose(dir string) (*LooseReader, error) {
	b, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if os.IsNotExist(err) {
		return nil, snapshotter.NotFound(errors.Errorf("no manifest in %s", dir))
	}
	if err != nil {
		return nil, errors.Wrap(err, "read manifest")
	}
	m, err := snapshot.ManifestFromBytes(b)
	if err != nil {
		return nil, err
	}
	return &LooseReader{dir: dir, manifest: m}, nil
}

func (r *LooseReader) Manifest() *snapshot.ManifestData {
	return r.manifest
}

func (r *LooseReader) Chunk(hash common.Hash) ([]byte, error) {
	b, err := os.ReadFile(ChunkPath(r.dir, hash))
	if os.IsNotExist(err) {
		return nil, snapshotter.NotFound(errors.Errorf("chunk %x", hash))
	}
	return b, err
}

func (r *LooseReader) Close() error {
	return nil
}

// ChunkFiles lists the chunk hashes present in dir, finished or not.
func ChunkFiles(dir string) ([]common.Hash, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []common.Hash
	for _, e := range entries {
		if e.IsDir() || len(e.Name()) != 2*common.HashLength {
			continue
		}
		b, err := hex.DecodeString(e.Name())
		if err != nil {
			continue
		}
		out = append(out, common.BytesToHash(b))
	}
	return out, nil
}

// ChunkPath is where a loose container keeps the chunk with the given hash.
func ChunkPath(dir string, hash common.Hash) string {
	return filepath.Join(dir, hex.EncodeToString(hash[:]))
}
