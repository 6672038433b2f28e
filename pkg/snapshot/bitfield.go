package snapshot

import (
	"math/bits"

	"github.com/ledgerwatch/erigon/common"
	"github.com/pkg/errors"

	"github.com/ledgerwatch/snapshotter"
)

// Bitfield records which chunks of a manifest are available, one bit per
// chunk in manifest order. Marks are never cleared. A Bitfield is not safe
// for concurrent use.
type Bitfield struct {
	hashes    []common.Hash
	index     map[common.Hash][]int
	bits      []byte
	available int
}

func NewBitfield(m *ManifestData) *Bitfield {
	hashes := m.Chunks()
	index := make(map[common.Hash][]int, len(hashes))
	for i, h := range hashes {
		index[h] = append(index[h], i)
	}
	return &Bitfield{
		hashes: hashes,
		index:  index,
		bits:   make([]byte, (len(hashes)+7)/8),
	}
}

// BitfieldFromBytes restores a bitfield for m. The byte length must match
// the chunk count of m exactly and unused trailing bits must be clear.
func BitfieldFromBytes(m *ManifestData, b []byte) (*Bitfield, error) {
	bf := NewBitfield(m)
	if len(b) != len(bf.bits) {
		return nil, snapshotter.Format(errors.Errorf("bitfield has %d bytes, manifest needs %d", len(b), len(bf.bits)))
	}
	if rem := len(bf.hashes) % 8; rem != 0 && b[len(b)-1]>>rem != 0 {
		return nil, snapshotter.Format(errors.New("bitfield marks chunks beyond the manifest"))
	}
	copy(bf.bits, b)

	// chunks sharing a hash must agree
	for h, positions := range bf.index {
		first := bf.isSet(positions[0])
		for _, p := range positions[1:] {
			if bf.isSet(p) != first {
				return nil, snapshotter.Format(errors.Errorf("bitfield disagrees on duplicate chunk %x", h))
			}
		}
	}
	for _, v := range bf.bits {
		bf.available += bits.OnesCount8(v)
	}
	return bf, nil
}

func (b *Bitfield) isSet(i int) bool {
	return b.bits[i/8]&(1<<(i%8)) != 0
}

func (b *Bitfield) set(i int) {
	if !b.isSet(i) {
		b.bits[i/8] |= 1 << (i % 8)
		b.available++
	}
}

// MarkOne marks hash as available and reports whether the manifest declares it.
func (b *Bitfield) MarkOne(hash common.Hash) bool {
	positions, ok := b.index[hash]
	for _, p := range positions {
		b.set(p)
	}
	return ok
}

func (b *Bitfield) MarkSome(hashes []common.Hash) {
	for _, h := range hashes {
		b.MarkOne(h)
	}
}

func (b *Bitfield) MarkAll() {
	for i := range b.hashes {
		b.set(i)
	}
}

func (b *Bitfield) Contains(hash common.Hash) bool {
	_, ok := b.index[hash]
	return ok
}

func (b *Bitfield) IsAvailable(hash common.Hash) bool {
	positions, ok := b.index[hash]
	return ok && b.isSet(positions[0])
}

func (b *Bitfield) AvailableChunks() []common.Hash {
	return b.collect(true)
}

func (b *Bitfield) NeededChunks() []common.Hash {
	return b.collect(false)
}

func (b *Bitfield) collect(available bool) []common.Hash {
	out := make([]common.Hash, 0, len(b.hashes))
	for i, h := range b.hashes {
		if b.isSet(i) == available {
			out = append(out, h)
		}
	}
	return out
}

func (b *Bitfield) NumAvailable() int {
	return b.available
}

func (b *Bitfield) Total() int {
	return len(b.hashes)
}

func (b *Bitfield) IsComplete() bool {
	return b.available == len(b.hashes)
}

// Bytes returns a copy of the raw bits.
func (b *Bitfield) Bytes() []byte {
	return common.CopyBytes(b.bits)
}
