package service

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/ledgerwatch/erigon/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ledgerwatch/snapshotter"
	"github.com/ledgerwatch/snapshotter/internal/chain"
	"github.com/ledgerwatch/snapshotter/internal/state"
	"github.com/ledgerwatch/snapshotter/pkg/snapshot"
	"github.com/ledgerwatch/snapshotter/pkg/snapshot/consensus"
	"github.com/ledgerwatch/snapshotter/pkg/snapshot/container"
)

const informantInterval = 5 * time.Second

// Source writes a complete snapshot at blockNumber into w.
type Source interface {
	TakeSnapshot(ctx context.Context, w container.Writer, blockNumber uint64, progress *snapshot.Progress) error
}

// ChainSource snapshots a local chain and its state.
type ChainSource struct {
	Chain      *chain.Chain
	State      *state.DB
	Components consensus.Components
	Config     snapshot.Config
}

// TakeSnapshot writes block chunks first and state chunks second, then
// finishes w with the manifest. The state must be at blockNumber.
func (c *ChainSource) TakeSnapshot(ctx context.Context, w container.Writer, blockNumber uint64, progress *snapshot.Progress) error {
	hash, err := c.Chain.CanonicalHash(blockNumber)
	if err != nil {
		return snapshotter.NotFound(errors.Wrapf(err, "block %d", blockNumber))
	}
	header, err := c.Chain.Header(hash)
	if err != nil {
		return err
	}
	root, err := c.State.Root()
	if err != nil {
		return err
	}
	if root != header.Root {
		return errors.Errorf("state root %x does not match block %d root %x", root, blockNumber, header.Root)
	}

	var (
		mu          sync.Mutex
		blockHashes []common.Hash
	)
	sink := func(raw []byte) error {
		if err := snapshot.CheckChunkSize(raw, c.Config.MaxChunkSize); err != nil {
			return err
		}
		h, compressed := snapshot.SealChunk(raw)
		if err := w.WriteBlockChunk(h, compressed); err != nil {
			return err
		}
		progress.AddBytes(uint64(len(compressed)))
		mu.Lock()
		blockHashes = append(blockHashes, h)
		mu.Unlock()
		return nil
	}
	if err := c.Components.ChunkAll(ctx, c.Chain, hash, sink, progress, c.Config.PreferredChunkSize); err != nil {
		return err
	}

	stateHashes, err := snapshot.ChunkState(ctx, c.State, w, progress, c.Config.PreferredChunkSize, c.Config.MaxChunkSize, c.Config.StateWorkers)
	if err != nil {
		return err
	}

	m := &snapshot.ManifestData{
		Version:     c.Components.CurrentVersion(),
		StateHashes: stateHashes,
		BlockHashes: blockHashes,
		StateRoot:   root,
		BlockNumber: blockNumber,
		BlockHash:   hash,
	}
	if err := w.Finish(m); err != nil {
		return err
	}
	progress.MarkDone()
	return nil
}

// TakeSnapshot produces a snapshot from src and makes it the current one.
// Only one snapshot runs at a time.
func (s *Service) TakeSnapshot(ctx context.Context, src Source, blockNumber uint64) error {
	if !s.taking.CompareAndSwap(false, true) {
		return snapshotter.ErrSnapshotInProgress
	}
	defer s.taking.Store(false)

	s.progress.Reset()
	dir := s.inProgressDir()
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrap(err, "clear in-progress snapshot")
	}
	w, err := container.NewLooseWriter(dir)
	if err != nil {
		return err
	}
	g := newGuard(dir)
	defer g.release()

	s.log.Info("taking snapshot", zap.Uint64("block", blockNumber))
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.inform(ctx)

	start := time.Now()
	if err := src.TakeSnapshot(ctx, w, blockNumber, s.progress); err != nil {
		if errors.Is(err, snapshotter.ErrSnapshotAborted) {
			s.log.Info("snapshot aborted", zap.Uint64("block", blockNumber))
		} else {
			s.log.Warn("snapshot failed", zap.Uint64("block", blockNumber), zap.Error(err))
		}
		return err
	}
	if err := s.replaceCurrent(dir); err != nil {
		return err
	}
	g.disarm()
	s.log.Info("snapshot complete",
		zap.Uint64("block", blockNumber),
		zap.Uint64("accounts", s.progress.Accounts()),
		zap.Uint64("blocks", s.progress.Blocks()),
		zap.Uint64("bytes", s.progress.Bytes()),
		zap.Duration("took", time.Since(start)))
	return nil
}

func (s *Service) inform(ctx context.Context) {
	t := time.NewTicker(informantInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Tick()
		}
	}
}

// Tick logs snapshot progress and the rate since the previous tick.
func (s *Service) Tick() {
	if !s.taking.Load() {
		return
	}
	accounts, bytes := s.progress.Rate()
	s.log.Info("snapshot progress",
		zap.Uint64("accounts", s.progress.Accounts()),
		zap.Uint64("blocks", s.progress.Blocks()),
		zap.Uint64("bytes", s.progress.Bytes()),
		zap.Float64("accounts_per_sec", accounts),
		zap.Float64("bytes_per_sec", bytes))
}
