package consensus

import (
	"context"
	"math/big"
	"sync/atomic"

	"github.com/ledgerwatch/erigon/common"
	"github.com/ledgerwatch/erigon/core/types"
	"github.com/ledgerwatch/erigon/rlp"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/ledgerwatch/snapshotter"
	"github.com/ledgerwatch/snapshotter/internal/chain"
	"github.com/ledgerwatch/snapshotter/pkg/snapshot"
)

// An authority chunk lists epoch transitions with their validator set
// proofs. The last chunk also carries the full snapshot block.
type authorityChunk struct {
	Last        bool
	Transitions []epochEntry
	Target      []targetBlock // exactly one entry in the last chunk
}

type epochEntry struct {
	Header      *types.Header
	EpochNumber uint64
	Proof       []byte
}

type targetBlock struct {
	Header          *types.Header
	Body            chain.Body
	Receipts        chain.Receipts
	TotalDifficulty *big.Int
}

// AuthoritySnapshot proves the validator set history instead of shipping
// recent blocks.
type AuthoritySnapshot struct{}

func NewAuthoritySnapshot() *AuthoritySnapshot {
	return &AuthoritySnapshot{}
}

func (a *AuthoritySnapshot) MinSupportedVersion() uint64 {
	return snapshot.MinSupportedStateChunkVersion
}

func (a *AuthoritySnapshot) CurrentVersion() uint64 {
	return snapshot.StateChunkVersion
}

func (a *AuthoritySnapshot) ChunkAll(ctx context.Context, c *chain.Chain, blockAt common.Hash, sink snapshot.ChunkSink, progress *snapshot.Progress, preferredSize int) error {
	target, err := c.Block(blockAt)
	if err != nil {
		return errors.Wrapf(err, "load snapshot block %x", blockAt)
	}
	receipts, err := c.Receipts(blockAt)
	if err != nil {
		return errors.Wrapf(err, "load snapshot receipts %x", blockAt)
	}
	td, err := c.TotalDifficulty(blockAt)
	if err != nil {
		return errors.Wrapf(err, "load total difficulty %x", blockAt)
	}
	transitions, err := c.EpochTransitions()
	if err != nil {
		return err
	}

	var (
		entries []epochEntry
		size    int
	)
	write := func(last bool, tail []targetBlock) error {
		raw, err := rlp.EncodeToBytes(&authorityChunk{Last: last, Transitions: entries, Target: tail})
		if err != nil {
			return err
		}
		entries, size = nil, 0
		return sink(raw)
	}

	for i, t := range transitions {
		if t.BlockNumber > target.Number() {
			break
		}
		if ctx.Err() != nil || progress.Aborted() {
			return snapshotter.ErrSnapshotAborted
		}
		header, err := c.Header(t.BlockHash)
		if err != nil {
			return errors.Wrapf(err, "load transition header %d", t.BlockNumber)
		}
		entry := epochEntry{Header: header, EpochNumber: uint64(i), Proof: t.Proof}
		enc, err := rlp.EncodeToBytes(&entry)
		if err != nil {
			return err
		}
		if size+len(enc) > preferredSize && len(entries) > 0 {
			if err := write(false, nil); err != nil {
				return err
			}
		}
		entries = append(entries, entry)
		size += len(enc)
	}

	progress.AddBlocks(1)
	return write(true, []targetBlock{{Header: target.Header, Body: target.Body, Receipts: receipts, TotalDifficulty: td}})
}

func (a *AuthoritySnapshot) Rebuilder(c *chain.Chain, manifest *snapshot.ManifestData) (Rebuilder, error) {
	return &authorityRebuilder{
		chain:    c,
		manifest: manifest,
		epochs:   make(map[uint64]common.Hash),
	}, nil
}

type authorityRebuilder struct {
	chain      *chain.Chain
	manifest   *snapshot.ManifestData
	epochs     map[uint64]common.Hash
	targetSeen bool
}

func (r *authorityRebuilder) Feed(raw []byte, engine Engine, abort *atomic.Bool) error {
	var chunk authorityChunk
	if err := rlp.DecodeBytes(raw, &chunk); err != nil {
		return snapshotter.Format(errors.Wrap(err, "decode authority chunk"))
	}
	if chunk.Last != (len(chunk.Target) == 1) || len(chunk.Target) > 1 {
		return snapshotter.Format(errors.Errorf("authority chunk carries %d target blocks, last=%t", len(chunk.Target), chunk.Last))
	}

	for _, e := range chunk.Transitions {
		if abort != nil && abort.Load() {
			return snapshotter.ErrRestorationAborted
		}
		if e.Header == nil || e.Header.Number == nil {
			return snapshotter.Format(errors.Errorf("epoch %d without header", e.EpochNumber))
		}
		if e.Header.Number.Uint64() > r.manifest.BlockNumber {
			return snapshotter.Verification(errors.Errorf("epoch %d at block %d is past the snapshot block", e.EpochNumber, e.Header.Number))
		}
		if err := engine.VerifyEpochTransition(e.Header, e.Proof); err != nil {
			return snapshotter.Verification(err)
		}
		hash := e.Header.Hash()
		if prev, ok := r.epochs[e.EpochNumber]; ok && prev != hash {
			return snapshotter.Verification(errors.Errorf("epoch %d restored twice with different blocks", e.EpochNumber))
		}
		if err := r.chain.InsertEpochTransition(chain.EpochTransition{
			BlockNumber: e.Header.Number.Uint64(),
			BlockHash:   hash,
			Proof:       e.Proof,
		}); err != nil {
			return err
		}
		r.epochs[e.EpochNumber] = hash
	}

	if !chunk.Last {
		return nil
	}
	if abort != nil && abort.Load() {
		return snapshotter.ErrRestorationAborted
	}
	t := chunk.Target[0]
	if t.Header == nil || t.Header.Number == nil || t.TotalDifficulty == nil {
		return snapshotter.Format(errors.New("incomplete target block"))
	}
	block := chain.AssembleBlock(t.Header, t.Body, t.Receipts)
	if block.Hash() != t.Header.Hash() {
		return snapshotter.Verification(errors.New("target block body does not match its header"))
	}
	if block.Number() != r.manifest.BlockNumber || block.Hash() != r.manifest.BlockHash {
		return snapshotter.Verification(errors.Errorf("target block %d %x, manifest declares %d %x", block.Number(), block.Hash(), r.manifest.BlockNumber, r.manifest.BlockHash))
	}
	if block.Header.Root != r.manifest.StateRoot {
		return snapshotter.Verification(errors.Errorf("target state root %x, manifest declares %x", block.Header.Root, r.manifest.StateRoot))
	}
	if err := engine.VerifyHeader(block.Header); err != nil {
		return snapshotter.Verification(err)
	}
	if _, err := r.chain.InsertUnordered(block, t.Receipts, t.TotalDifficulty, true); err != nil {
		return err
	}
	r.targetSeen = true
	return nil
}

// Finalize requires the target block and a gapless epoch sequence.
func (r *authorityRebuilder) Finalize(Engine) error {
	if !r.targetSeen {
		return snapshotter.Verification(errors.New("snapshot block was never restored"))
	}
	numbers := maps.Keys(r.epochs)
	slices.Sort(numbers)
	for i, n := range numbers {
		if n != uint64(i) {
			return snapshotter.Verification(errors.Errorf("epoch %d missing", i))
		}
	}
	return nil
}
