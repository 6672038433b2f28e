package snapshot

import (
	"github.com/ledgerwatch/erigon/common"
	"github.com/ledgerwatch/erigon/crypto"
	"github.com/ledgerwatch/erigon/rlp"
	"github.com/pkg/errors"

	"github.com/ledgerwatch/snapshotter"
)

const (
	// MinSupportedStateChunkVersion is the oldest state chunk format that
	// can still be restored.
	MinSupportedStateChunkVersion uint64 = 1
	// StateChunkVersion is the format written by the state chunker.
	StateChunkVersion uint64 = 2
)

const (
	legacyManifestItems    = 5
	versionedManifestItems = 6
)

// ManifestData describes a snapshot: the ordered hashes of its state and
// secondary chunks, and the block whose state it captures. Chunk hashes are
// Keccak-256 of the uncompressed chunk.
type ManifestData struct {
	Version     uint64
	StateHashes []common.Hash
	BlockHashes []common.Hash
	StateRoot   common.Hash
	BlockNumber uint64
	BlockHash   common.Hash
}

type legacyManifest struct {
	StateHashes []common.Hash
	BlockHashes []common.Hash
	StateRoot   common.Hash
	BlockNumber uint64
	BlockHash   common.Hash
}

// Bytes encodes the manifest as the six item list with explicit version.
func (m *ManifestData) Bytes() []byte {
	enc, err := rlp.EncodeToBytes(m)
	if err != nil {
		panic(err)
	}
	return enc
}

// LegacyBytes encodes a version 1 manifest in the original five item form.
func (m *ManifestData) LegacyBytes() ([]byte, error) {
	if m.Version != 1 {
		return nil, errors.Errorf("legacy manifest form requires version 1, have %d", m.Version)
	}
	return rlp.EncodeToBytes(&legacyManifest{
		StateHashes: m.StateHashes,
		BlockHashes: m.BlockHashes,
		StateRoot:   m.StateRoot,
		BlockNumber: m.BlockNumber,
		BlockHash:   m.BlockHash,
	})
}

// ManifestFromBytes decodes either manifest form. A five item list is the
// legacy encoding and yields version 1.
func ManifestFromBytes(b []byte) (*ManifestData, error) {
	content, rest, err := rlp.SplitList(b)
	if err != nil {
		return nil, snapshotter.Format(errors.Wrap(err, "manifest is not a list"))
	}
	if len(rest) != 0 {
		return nil, snapshotter.Format(errors.Errorf("%d trailing bytes after manifest", len(rest)))
	}
	items, err := rlp.CountValues(content)
	if err != nil {
		return nil, snapshotter.Format(errors.Wrap(err, "manifest items"))
	}

	m := new(ManifestData)
	switch items {
	case legacyManifestItems:
		var legacy legacyManifest
		if err := rlp.DecodeBytes(b, &legacy); err != nil {
			return nil, snapshotter.Format(errors.Wrap(err, "decode legacy manifest"))
		}
		m.Version = 1
		m.StateHashes = legacy.StateHashes
		m.BlockHashes = legacy.BlockHashes
		m.StateRoot = legacy.StateRoot
		m.BlockNumber = legacy.BlockNumber
		m.BlockHash = legacy.BlockHash
	case versionedManifestItems:
		if err := rlp.DecodeBytes(b, m); err != nil {
			return nil, snapshotter.Format(errors.Wrap(err, "decode manifest"))
		}
	default:
		return nil, snapshotter.Format(errors.Errorf("manifest has %d items, want %d or %d", items, legacyManifestItems, versionedManifestItems))
	}

	if len(m.StateHashes) == 0 {
		m.StateHashes = nil
	}
	if len(m.BlockHashes) == 0 {
		m.BlockHashes = nil
	}
	return m, nil
}

// Hash identifies a snapshot by the digest of its encoded manifest.
func (m *ManifestData) Hash() common.Hash {
	return crypto.Keccak256Hash(m.Bytes())
}

func (m *ManifestData) TotalChunks() int {
	return len(m.StateHashes) + len(m.BlockHashes)
}

// Chunks returns state hashes followed by block hashes, the fixed chunk order.
func (m *ManifestData) Chunks() []common.Hash {
	out := make([]common.Hash, 0, m.TotalChunks())
	out = append(out, m.StateHashes...)
	return append(out, m.BlockHashes...)
}
