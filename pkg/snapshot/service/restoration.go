package service

import (
	"sync/atomic"

	"github.com/ledgerwatch/erigon/common"
	"github.com/pkg/errors"

	"github.com/ledgerwatch/snapshotter/internal/chain"
	"github.com/ledgerwatch/snapshotter/internal/kv"
	"github.com/ledgerwatch/snapshotter/pkg/snapshot"
	"github.com/ledgerwatch/snapshotter/pkg/snapshot/consensus"
	"github.com/ledgerwatch/snapshotter/pkg/snapshot/container"
)

type restorationParams struct {
	manifest   *snapshot.ManifestData
	db         kv.Store
	genesis    *chain.Block
	components consensus.Components
	// writer receives every applied chunk when the restoration also
	// recovers the snapshot itself; may be nil
	writer   container.Writer
	guard    *guard
	progress *snapshot.Progress
}

// Restoration is one attempt at rebuilding a snapshot into a fresh store.
// It is owned by the service and used under its restoration lock.
type Restoration struct {
	manifest *snapshot.ManifestData
	// bitfield is the only record of applied chunks; the kind sets are
	// fixed by the manifest.
	bitfield    *snapshot.Bitfield
	stateChunks map[common.Hash]struct{}
	blockChunks map[common.Hash]struct{}

	state     *snapshot.StateRebuilder
	secondary consensus.Rebuilder
	db        kv.Store
	writer    container.Writer
	guard     *guard
	progress  *snapshot.Progress
}

func newRestoration(p restorationParams) (*Restoration, error) {
	c, err := chain.Open(p.db)
	if err != nil {
		return nil, err
	}
	if err := c.InitGenesis(p.genesis); err != nil {
		return nil, errors.Wrap(err, "init restoration chain")
	}
	secondary, err := p.components.Rebuilder(c, p.manifest)
	if err != nil {
		return nil, err
	}

	r := &Restoration{
		manifest:    p.manifest,
		bitfield:    snapshot.NewBitfield(p.manifest),
		stateChunks: hashSet(p.manifest.StateHashes),
		blockChunks: hashSet(p.manifest.BlockHashes),
		state:       snapshot.NewStateRebuilder(p.db),
		secondary:   secondary,
		db:          p.db,
		writer:      p.writer,
		guard:       p.guard,
		progress:    p.progress,
	}
	if r.progress == nil {
		r.progress = snapshot.NewProgress()
	}
	return r, nil
}

func hashSet(hashes []common.Hash) map[common.Hash]struct{} {
	set := make(map[common.Hash]struct{}, len(hashes))
	for _, h := range hashes {
		set[h] = struct{}{}
	}
	return set
}

// needs reports whether hash is a declared chunk of the given kind that has
// not been applied yet.
func (r *Restoration) needs(hash common.Hash, isState bool) bool {
	set := r.blockChunks
	if isState {
		set = r.stateChunks
	}
	if _, ok := set[hash]; !ok {
		return false
	}
	return !r.bitfield.IsAvailable(hash)
}

func (r *Restoration) feedState(hash common.Hash, raw, compressed []byte, abort *atomic.Bool) (bool, error) {
	if !r.needs(hash, true) {
		return false, nil
	}
	before := r.state.Accounts()
	if err := r.state.Feed(raw, abort); err != nil {
		return false, err
	}
	r.progress.AddAccounts(r.state.Accounts() - before)
	if r.writer != nil {
		if err := r.writer.WriteStateChunk(hash, compressed); err != nil {
			return false, errors.Wrap(err, "write recovered state chunk")
		}
	}
	r.bitfield.MarkOne(hash)
	r.progress.AddBytes(uint64(len(compressed)))
	return true, nil
}

func (r *Restoration) feedBlocks(hash common.Hash, raw, compressed []byte, engine consensus.Engine, abort *atomic.Bool) (bool, error) {
	if !r.needs(hash, false) {
		return false, nil
	}
	if err := r.secondary.Feed(raw, engine, abort); err != nil {
		return false, err
	}
	if r.writer != nil {
		if err := r.writer.WriteBlockChunk(hash, compressed); err != nil {
			return false, errors.Wrap(err, "write recovered block chunk")
		}
	}
	r.bitfield.MarkOne(hash)
	r.progress.AddBytes(uint64(len(compressed)))
	return true, nil
}

func (r *Restoration) isDone() bool {
	return r.bitfield.IsComplete()
}

// finalize verifies the restored state and chain and seals the recovered
// snapshot. The directory guard is disarmed on success.
func (r *Restoration) finalize(engine consensus.Engine) error {
	if !r.isDone() {
		return errors.Errorf("%d of %d chunks still missing", r.bitfield.Total()-r.bitfield.NumAvailable(), r.bitfield.Total())
	}
	m := r.manifest
	if err := r.state.Finalize(m.StateRoot, m.BlockNumber, m.BlockHash); err != nil {
		return err
	}
	if err := r.secondary.Finalize(engine); err != nil {
		return err
	}
	if r.writer != nil {
		if err := r.writer.Finish(m); err != nil {
			return errors.Wrap(err, "finish recovered snapshot")
		}
	}
	r.guard.disarm()
	r.progress.MarkDone()
	return nil
}

// close releases the store; the restoration directory goes too unless the
// restoration was finalized.
func (r *Restoration) close() {
	_ = r.db.Close()
	r.guard.release()
}
