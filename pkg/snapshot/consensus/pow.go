package consensus

import (
	"context"
	"math/big"
	"sync/atomic"

	"github.com/google/btree"
	"github.com/ledgerwatch/erigon/common"
	"github.com/ledgerwatch/erigon/rlp"
	"github.com/pkg/errors"

	"github.com/ledgerwatch/snapshotter"
	"github.com/ledgerwatch/snapshotter/internal/chain"
	"github.com/ledgerwatch/snapshotter/internal/kv"
	"github.com/ledgerwatch/snapshotter/pkg/snapshot"
)

// A proof-of-work chunk is the RLP list
//
//	[parent number, parent hash, parent total difficulty, [abridged block, receipts]...]
//
// with blocks in ascending order, each the child of the previous one.
const powChunkHeaderItems = 3

// PowSnapshot carries the most recent blocks and their receipts.
type PowSnapshot struct {
	blocks    uint64
	maxBlocks uint64
}

func NewPowSnapshot(blocks, maxRestoreBlocks uint64) *PowSnapshot {
	return &PowSnapshot{blocks: blocks, maxBlocks: maxRestoreBlocks}
}

func (p *PowSnapshot) MinSupportedVersion() uint64 {
	return snapshot.MinSupportedStateChunkVersion
}

func (p *PowSnapshot) CurrentVersion() uint64 {
	return snapshot.StateChunkVersion
}

// ChunkAll walks back from blockAt, newest first, until the configured number
// of blocks or genesis, and emits chunks of at most preferredSize bytes.
func (p *PowSnapshot) ChunkAll(ctx context.Context, c *chain.Chain, blockAt common.Hash, sink snapshot.ChunkSink, progress *snapshot.Progress, preferredSize int) error {
	w := &powWorker{
		chain:         c,
		sink:          sink,
		progress:      progress,
		preferredSize: preferredSize,
		current:       blockAt,
	}
	return w.chunkAll(ctx, p.blocks, c.Genesis())
}

type powWorker struct {
	chain         *chain.Chain
	sink          snapshot.ChunkSink
	progress      *snapshot.Progress
	preferredSize int
	current       common.Hash

	pairs []rlp.RawValue // newest first
	size  int
}

func (w *powWorker) chunkAll(ctx context.Context, blocks uint64, genesis common.Hash) error {
	var last *chain.Block
	for loaded := uint64(0); loaded < blocks && w.current != genesis; loaded++ {
		if ctx.Err() != nil || w.progress.Aborted() {
			return snapshotter.ErrSnapshotAborted
		}
		block, err := w.chain.Block(w.current)
		if err != nil {
			return errors.Wrapf(err, "load block %x", w.current)
		}
		receipts, err := w.chain.Receipts(w.current)
		if err != nil {
			return errors.Wrapf(err, "load receipts %x", w.current)
		}
		pair, err := rlp.EncodeToBytes(&blockPair{Block: *abridge(block), Receipts: receipts})
		if err != nil {
			return err
		}

		if w.size+len(pair) > w.preferredSize && len(w.pairs) > 0 {
			if err := w.writeChunk(last); err != nil {
				return err
			}
		}
		w.pairs = append(w.pairs, pair)
		w.size += len(pair)
		w.progress.AddBlocks(1)
		last = block
		w.current = block.Header.ParentHash
	}
	if len(w.pairs) > 0 {
		return w.writeChunk(last)
	}
	return nil
}

// writeChunk seals the buffered blocks; oldest is the earliest of them.
func (w *powWorker) writeChunk(oldest *chain.Block) error {
	td, err := w.chain.TotalDifficulty(oldest.Hash())
	if err != nil {
		return errors.Wrapf(err, "total difficulty of %x", oldest.Hash())
	}
	parentTD := new(big.Int).Sub(td, oldest.Difficulty())

	items := make([]interface{}, 0, powChunkHeaderItems+len(w.pairs))
	items = append(items, oldest.Number()-1, oldest.Header.ParentHash, parentTD)
	for i := len(w.pairs) - 1; i >= 0; i-- {
		items = append(items, w.pairs[i])
	}
	raw, err := rlp.EncodeToBytes(items)
	if err != nil {
		return err
	}
	w.pairs = w.pairs[:0]
	w.size = 0
	return w.sink(raw)
}

func (p *PowSnapshot) Rebuilder(c *chain.Chain, manifest *snapshot.ManifestData) (Rebuilder, error) {
	return &powRebuilder{
		chain:        c,
		manifest:     manifest,
		maxBlocks:    p.maxBlocks,
		disconnected: btree.NewG(8, blockRefLess),
	}, nil
}

type blockRef struct {
	number uint64
	hash   common.Hash
}

func blockRefLess(a, b blockRef) bool {
	if a.number != b.number {
		return a.number < b.number
	}
	return string(a.hash[:]) < string(b.hash[:])
}

type powRebuilder struct {
	chain     *chain.Chain
	manifest  *snapshot.ManifestData
	maxBlocks uint64
	fed       uint64
	bestSeen  bool

	// first blocks of chunks whose parent was unknown when they arrived
	disconnected *btree.BTreeG[blockRef]
}

func (r *powRebuilder) Feed(chunk []byte, engine Engine, abort *atomic.Bool) error {
	var items []rlp.RawValue
	if err := rlp.DecodeBytes(chunk, &items); err != nil {
		return snapshotter.Format(errors.Wrap(err, "decode block chunk"))
	}
	if len(items) < powChunkHeaderItems {
		return snapshotter.Format(errors.Errorf("block chunk has %d items", len(items)))
	}
	var (
		parentNumber uint64
		parentHash   common.Hash
		td           = new(big.Int)
	)
	if err := rlp.DecodeBytes(items[0], &parentNumber); err != nil {
		return snapshotter.Format(errors.Wrap(err, "decode parent number"))
	}
	if err := rlp.DecodeBytes(items[1], &parentHash); err != nil {
		return snapshotter.Format(errors.Wrap(err, "decode parent hash"))
	}
	if err := rlp.DecodeBytes(items[2], td); err != nil {
		return snapshotter.Format(errors.Wrap(err, "decode parent total difficulty"))
	}

	for i, item := range items[powChunkHeaderItems:] {
		if abort != nil && abort.Load() {
			return snapshotter.ErrRestorationAborted
		}
		var pair blockPair
		if err := rlp.DecodeBytes(item, &pair); err != nil {
			return snapshotter.Format(errors.Wrapf(err, "decode block %d", parentNumber+1+uint64(i)))
		}

		number := parentNumber + 1 + uint64(i)
		block := pair.Block.toBlock(parentHash, number, pair.Receipts)
		if err := engine.VerifyHeader(block.Header); err != nil {
			return snapshotter.Verification(err)
		}
		hash := block.Hash()

		isBest := number == r.manifest.BlockNumber
		if isBest {
			if hash != r.manifest.BlockHash {
				return snapshotter.Verification(errors.Errorf("best block %d hashes to %x, manifest declares %x", number, hash, r.manifest.BlockHash))
			}
			if block.Header.Root != r.manifest.StateRoot {
				return snapshotter.Verification(errors.Errorf("best block state root %x, manifest declares %x", block.Header.Root, r.manifest.StateRoot))
			}
			r.bestSeen = true
		}

		td = new(big.Int).Add(td, block.Difficulty())
		linked, err := r.chain.InsertUnordered(block, pair.Receipts, td, isBest)
		if err != nil {
			return errors.Wrapf(err, "insert block %d", number)
		}
		if i == 0 && !linked {
			r.disconnected.ReplaceOrInsert(blockRef{number: number, hash: hash})
		}

		r.fed++
		if r.fed > r.maxBlocks {
			return snapshotter.Format(errors.Wrapf(snapshotter.ErrTooManyBlocks, "more than %d", r.maxBlocks))
		}
		parentHash = hash
	}
	return nil
}

// Finalize links every disconnected chunk head to its parent. Only the
// oldest head may lack one.
func (r *powRebuilder) Finalize(Engine) error {
	if !r.bestSeen {
		// a snapshot of the genesis block carries no blocks
		best, err := r.chain.CanonicalHash(r.manifest.BlockNumber)
		if err != nil || best != r.manifest.BlockHash {
			return snapshotter.Verification(errors.Errorf("best block %d was never restored", r.manifest.BlockNumber))
		}
	}

	var err error
	first := true
	r.disconnected.Ascend(func(ref blockRef) bool {
		lowest := first
		first = false

		parent, perr := r.chain.CanonicalHash(ref.number - 1)
		if errors.Is(perr, kv.ErrNotFound) {
			if lowest {
				return true
			}
			err = snapshotter.Verification(errors.Errorf("no block restored below %d", ref.number))
			return false
		}
		if perr != nil {
			err = perr
			return false
		}
		header, herr := r.chain.Header(ref.hash)
		if herr != nil {
			err = herr
			return false
		}
		if header.ParentHash != parent {
			err = snapshotter.Verification(errors.Errorf("block %d does not extend restored block %x", ref.number, parent))
			return false
		}
		if aerr := r.chain.AddChild(parent, ref.hash); aerr != nil {
			err = aerr
			return false
		}
		return true
	})
	return err
}
