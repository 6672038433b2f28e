package snapshot

import (
	"github.com/klauspost/compress/snappy"
	"github.com/ledgerwatch/erigon/common"
	"github.com/ledgerwatch/erigon/crypto"
	"github.com/pkg/errors"

	"github.com/ledgerwatch/snapshotter"
)

// SealChunk hashes the raw chunk and compresses it for the container.
func SealChunk(raw []byte) (common.Hash, []byte) {
	return crypto.Keccak256Hash(raw), snappy.Encode(nil, raw)
}

// CheckChunkSize rejects a raw chunk that a restorer limited to maxSize
// would refuse. A non-positive maxSize allows any size.
func CheckChunkSize(raw []byte, maxSize int) error {
	if maxSize > 0 && len(raw) > maxSize {
		return snapshotter.Format(errors.Errorf("chunk of %d bytes exceeds the %d byte limit", len(raw), maxSize))
	}
	return nil
}

// DecompressedLen reads the length header of a compressed chunk.
func DecompressedLen(compressed []byte) (int, error) {
	n, err := snappy.DecodedLen(compressed)
	if err != nil {
		return 0, snapshotter.Format(errors.Wrap(err, "chunk length header"))
	}
	return n, nil
}

// OpenChunk decompresses a chunk after checking its declared size against
// maxSize, then checks the content against hash.
func OpenChunk(hash common.Hash, compressed []byte, maxSize int) ([]byte, error) {
	n, err := DecompressedLen(compressed)
	if err != nil {
		return nil, err
	}
	if maxSize > 0 && n > maxSize {
		return nil, snapshotter.Format(errors.Errorf("chunk %x decompresses to %d bytes, limit %d", hash, n, maxSize))
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, snapshotter.Format(errors.Wrapf(err, "decompress chunk %x", hash))
	}
	if got := crypto.Keccak256Hash(raw); got != hash {
		return nil, snapshotter.Verification(errors.Errorf("chunk content hashes to %x, declared %x", got, hash))
	}
	return raw, nil
}
