// Package container stores sealed snapshot chunks together with their
// manifest, either packed into one file or loose in a directory.
package container

import (
	"os"

	"github.com/ledgerwatch/erigon/common"
	"github.com/pkg/errors"

	"github.com/ledgerwatch/snapshotter/pkg/snapshot"
)

// Writer accepts compressed chunks in any order and seals the container
// with the manifest. Implementations are safe for concurrent use.
type Writer interface {
	WriteStateChunk(hash common.Hash, chunk []byte) error
	WriteBlockChunk(hash common.Hash, chunk []byte) error
	Finish(m *snapshot.ManifestData) error
}

// Reader serves the compressed chunks of a finished container. Returned
// slices are owned by the caller.
type Reader interface {
	Manifest() *snapshot.ManifestData
	Chunk(hash common.Hash) ([]byte, error)
	Close() error
}

// Open picks the loose reader for directories and the packed one for files.
func Open(path string) (Reader, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open snapshot %s", path)
	}
	if info.IsDir() {
		return OpenLoose(path)
	}
	return OpenPacked(path)
}
