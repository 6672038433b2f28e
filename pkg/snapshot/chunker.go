package snapshot

import (
	"bytes"
	"context"

	"github.com/ledgerwatch/erigon/common"
	"github.com/ledgerwatch/erigon/rlp"
	"golang.org/x/sync/errgroup"

	"github.com/ledgerwatch/snapshotter"
	"github.com/ledgerwatch/snapshotter/internal/state"
)

// ChunkSink receives the uncompressed bytes of every sealed chunk.
type ChunkSink func(raw []byte) error

// StateChunkWriter stores sealed state chunks. ChunkState calls it from
// several goroutines.
type StateChunkWriter interface {
	WriteStateChunk(hash common.Hash, chunk []byte) error
}

// listOverhead bounds the RLP list header of a chunk.
const listOverhead = 9

// StateChunker packs accounts into chunks of at most preferredSize bytes.
type StateChunker struct {
	state         *state.DB
	sink          ChunkSink
	progress      *Progress
	preferredSize int

	usedCode map[common.Hash]struct{}
	entries  []rlp.RawValue
	size     int
}

func NewStateChunker(st *state.DB, sink ChunkSink, progress *Progress, preferredSize int) *StateChunker {
	return &StateChunker{
		state:         st,
		sink:          sink,
		progress:      progress,
		preferredSize: preferredSize,
		usedCode:      make(map[common.Hash]struct{}),
	}
}

// ChunkFrom chunks the accounts whose address hash lies in [start, end).
// A nil end runs to the last account.
func (c *StateChunker) ChunkFrom(ctx context.Context, start, end []byte) error {
	it := c.state.AccountIterator(start)
	defer it.Release()

	for it.Next() {
		addrHash := it.Hash()
		if end != nil && bytes.Compare(addrHash[:], end) >= 0 {
			break
		}
		if err := c.checkAbort(ctx); err != nil {
			return err
		}
		acc, err := it.Account()
		if err != nil {
			return err
		}
		if err := c.chunkAccount(ctx, addrHash, acc); err != nil {
			return err
		}
		c.progress.AddAccounts(1)
	}
	if err := it.Error(); err != nil {
		return err
	}
	return c.seal()
}

func (c *StateChunker) checkAbort(ctx context.Context) error {
	if ctx.Err() != nil || c.progress.Aborted() {
		return snapshotter.ErrSnapshotAborted
	}
	return nil
}

// chunkAccount emits the account as one entry, or as several parts when its
// storage does not fit into a single chunk.
func (c *StateChunker) chunkAccount(ctx context.Context, addrHash common.Hash, acc *state.Account) error {
	entry := &accountEntry{
		AddrHash: addrHash,
		Nonce:    acc.Nonce,
		Balance:  acc.Balance,
	}
	if acc.HasCode() {
		if _, ok := c.usedCode[acc.CodeHash]; ok {
			entry.CodeFlag, entry.Code = codeRef, acc.CodeHash.Bytes()
		} else {
			code, err := c.state.Code(acc.CodeHash)
			if err != nil {
				return err
			}
			entry.CodeFlag, entry.Code = codeInline, code
			c.usedCode[acc.CodeHash] = struct{}{}
		}
	}

	it := c.state.StorageIterator(addrHash, nil)
	defer it.Release()

	base := encodedSize(entry) + listOverhead
	size := base
	for n := 0; it.Next(); n++ {
		if n%abortCheckInterval == 0 {
			if err := c.checkAbort(ctx); err != nil {
				return err
			}
		}
		item := storageEntry{Slot: it.Slot(), Value: it.Value()}
		itemSize := encodedSize(&item)
		if size+itemSize > c.preferredSize && len(entry.Storage) > 0 {
			if err := c.push(entry.encode()); err != nil {
				return err
			}
			// later parts reference the code instead of repeating it
			entry = &accountEntry{AddrHash: addrHash, Nonce: acc.Nonce, Balance: acc.Balance}
			if acc.HasCode() {
				entry.CodeFlag, entry.Code = codeRef, acc.CodeHash.Bytes()
			}
			base = encodedSize(entry) + listOverhead
			size = base
		}
		entry.Storage = append(entry.Storage, item)
		size += itemSize
	}
	if err := it.Error(); err != nil {
		return err
	}
	return c.push(entry.encode())
}

func (c *StateChunker) push(entry rlp.RawValue) error {
	if c.size+len(entry)+listOverhead > c.preferredSize && len(c.entries) > 0 {
		if err := c.seal(); err != nil {
			return err
		}
	}
	c.entries = append(c.entries, entry)
	c.size += len(entry)
	return nil
}

func (c *StateChunker) seal() error {
	if len(c.entries) == 0 {
		return nil
	}
	raw, err := rlp.EncodeToBytes(c.entries)
	if err != nil {
		return err
	}
	c.entries = c.entries[:0]
	c.size = 0
	return c.sink(raw)
}

// ChunkState chunks the whole state with workers goroutines over disjoint
// address hash ranges and returns the chunk hashes in address order. A
// single account entry larger than maxSize fails the snapshot.
func ChunkState(ctx context.Context, st *state.DB, w StateChunkWriter, progress *Progress, preferredSize, maxSize, workers int) ([]common.Hash, error) {
	ranges := splitKeySpace(workers)
	hashes := make([][]common.Hash, len(ranges))

	g, gctx := errgroup.WithContext(ctx)
	for i, r := range ranges {
		i, r := i, r
		g.Go(func() error {
			sink := func(raw []byte) error {
				if err := CheckChunkSize(raw, maxSize); err != nil {
					return err
				}
				hash, compressed := SealChunk(raw)
				if err := w.WriteStateChunk(hash, compressed); err != nil {
					return err
				}
				progress.AddBytes(uint64(len(compressed)))
				hashes[i] = append(hashes[i], hash)
				return nil
			}
			return NewStateChunker(st, sink, progress, preferredSize).ChunkFrom(gctx, r.start, r.end)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []common.Hash
	for _, h := range hashes {
		out = append(out, h...)
	}
	return out, nil
}

type keyRange struct {
	start, end []byte
}

// splitKeySpace cuts the address hash space on first-byte boundaries.
func splitKeySpace(parts int) []keyRange {
	if parts < 1 {
		parts = 1
	}
	if parts > 256 {
		parts = 256
	}
	ranges := make([]keyRange, parts)
	for i := range ranges {
		if i > 0 {
			ranges[i].start = []byte{byte(i * 256 / parts)}
		}
		if i < parts-1 {
			ranges[i].end = []byte{byte((i + 1) * 256 / parts)}
		}
	}
	return ranges
}
