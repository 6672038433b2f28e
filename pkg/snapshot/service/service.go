// Package service owns the current snapshot of a node and drives
// restorations fed by peers.
package service

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/ledgerwatch/erigon/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ledgerwatch/snapshotter"
	"github.com/ledgerwatch/snapshotter/internal/chain"
	"github.com/ledgerwatch/snapshotter/internal/kv"
	"github.com/ledgerwatch/snapshotter/pkg/snapshot"
	"github.com/ledgerwatch/snapshotter/pkg/snapshot/consensus"
	"github.com/ledgerwatch/snapshotter/pkg/snapshot/container"
)

const messageQueueSize = 64

// RestoreHandler takes over a fully restored database. The directory at
// path is removed once RestoreDB returns, so the handler must move or copy it.
type RestoreHandler interface {
	RestoreDB(path string) error
}

type Params struct {
	Config snapshot.Config
	Engine consensus.Engine
	// Components is nil when the engine cannot produce snapshots.
	Components consensus.Components
	// Genesis seeds every restoration chain.
	Genesis *chain.Block
	Handler RestoreHandler
	Log     *zap.Logger
}

type messageKind int

const (
	msgBeginRestore messageKind = iota
	msgStateChunk
	msgBlockChunk
)

type message struct {
	kind     messageKind
	manifest *snapshot.ManifestData
	hash     common.Hash
	chunk    []byte
}

// Service serves the current snapshot and runs at most one restoration.
type Service struct {
	cfg        snapshot.Config
	engine     consensus.Engine
	components consensus.Components
	genesis    *chain.Block
	handler    RestoreHandler
	log        *zap.Logger

	restorationMu sync.Mutex
	restoration   *Restoration

	readerMu sync.RWMutex
	reader   container.Reader
	cache    ChunkCache

	statusMu sync.Mutex
	status   snapshot.RestorationStatus

	stateChunks  atomic.Uint32
	blockChunks  atomic.Uint32
	restoreAbort atomic.Bool
	taking       atomic.Bool
	progress     *snapshot.Progress
	restoring    *snapshot.Progress

	msgs      chan message
	quit      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func New(p Params) (*Service, error) {
	if err := p.Config.Validate(); err != nil {
		return nil, err
	}
	if p.Engine == nil || p.Genesis == nil {
		return nil, errors.New("engine and genesis are required")
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	cache, err := newChunkCache(p.Config.ChunkCacheSize)
	if err != nil {
		return nil, err
	}
	s := &Service{
		cfg:        p.Config,
		engine:     p.Engine,
		components: p.Components,
		genesis:    p.Genesis,
		handler:    p.Handler,
		log:        log,
		cache:      cache,
		progress:   snapshot.NewProgress(),
		restoring:  snapshot.NewProgress(),
		msgs:       make(chan message, messageQueueSize),
		quit:       make(chan struct{}),
	}
	if err := os.MkdirAll(s.cfg.Root, 0o755); err != nil {
		return nil, errors.Wrap(err, "create snapshot root")
	}
	// restorations do not survive a restart, their chunks might
	if err := os.RemoveAll(s.restorationDBDir()); err != nil {
		return nil, errors.Wrap(err, "clear restoration db")
	}
	s.loadCurrent()

	s.wg.Add(1)
	go s.loop()
	return s, nil
}

func (s *Service) restorationDir() string { return filepath.Join(s.cfg.Root, "restoration") }
func (s *Service) restorationDBDir() string { return filepath.Join(s.restorationDir(), "db") }
func (s *Service) recoveryDir() string { return filepath.Join(s.restorationDir(), "temp") }
func (s *Service) prevChunksDir() string { return filepath.Join(s.cfg.Root, "prev_chunks") }
func (s *Service) currentDir() string { return filepath.Join(s.cfg.Root, "current") }
func (s *Service) inProgressDir() string { return filepath.Join(s.cfg.Root, "in_progress") }

func (s *Service) loadCurrent() {
	r, err := container.OpenLoose(s.currentDir())
	if err != nil {
		if !snapshotter.IsNotFoundErr(err) {
			s.log.Warn("dropping unreadable snapshot", zap.Error(err))
			_ = os.RemoveAll(s.currentDir())
		}
		return
	}
	if s.components != nil && r.Manifest().Version < s.components.MinSupportedVersion() {
		s.log.Info("dropping outdated snapshot", zap.Uint64("version", r.Manifest().Version))
		_ = r.Close()
		_ = os.RemoveAll(s.currentDir())
		return
	}
	s.reader = r
}

// Manifest returns the current snapshot's manifest, or nil without one.
func (s *Service) Manifest() *snapshot.ManifestData {
	s.readerMu.RLock()
	defer s.readerMu.RUnlock()
	if s.reader == nil {
		return nil
	}
	return s.reader.Manifest()
}

// SupportedVersions reports the accepted manifest versions; ok is false
// when the engine has no snapshot support.
func (s *Service) SupportedVersions() (minVersion, maxVersion uint64, ok bool) {
	if s.components == nil {
		return 0, 0, false
	}
	return s.components.MinSupportedVersion(), s.components.CurrentVersion(), true
}

// Chunk returns a compressed chunk of the current snapshot.
func (s *Service) Chunk(hash common.Hash) ([]byte, error) {
	if chunk, ok := s.cache.Find(hash); ok {
		return common.CopyBytes(chunk), nil
	}
	s.readerMu.RLock()
	defer s.readerMu.RUnlock()
	if s.reader == nil {
		return nil, snapshotter.NotFound(errors.New("no snapshot available"))
	}
	chunk, err := s.reader.Chunk(hash)
	if err != nil {
		return nil, err
	}
	s.cache.Add(hash, common.CopyBytes(chunk))
	return chunk, nil
}

// CompletedChunks lists the chunks applied by the active restoration.
func (s *Service) CompletedChunks() ([]common.Hash, bool) {
	s.restorationMu.Lock()
	defer s.restorationMu.Unlock()
	if s.restoration == nil {
		return nil, false
	}
	return s.restoration.bitfield.AvailableChunks(), true
}

// Status projects the restoration counters onto the recorded status.
func (s *Service) Status() snapshot.RestorationStatus {
	s.statusMu.Lock()
	st := s.status
	s.statusMu.Unlock()

	stateDone, blockDone := s.stateChunks.Load(), s.blockChunks.Load()
	switch st.Kind {
	case snapshot.StatusInitializing:
		st.ChunksDone = stateDone + blockDone
	case snapshot.StatusOngoing:
		st.StateChunksDone = stateDone
		st.BlockChunksDone = blockDone
	}
	return st
}

func (s *Service) setStatus(st snapshot.RestorationStatus) {
	s.statusMu.Lock()
	s.status = st
	s.statusMu.Unlock()
}

func (s *Service) setStatusKind(kind snapshot.StatusKind) {
	s.statusMu.Lock()
	s.status.Kind = kind
	s.statusMu.Unlock()
}

// Progress tracks the running or last snapshot taken by the service.
func (s *Service) Progress() *snapshot.Progress {
	return s.progress
}

// RestoreProgress counts the accounts and bytes applied by the active or
// last restoration.
func (s *Service) RestoreProgress() *snapshot.Progress {
	return s.restoring
}

// InitRestore discards any active restoration and starts a new one for m.
// With recover set, applied chunks are kept and become the current
// snapshot when the restoration completes.
func (s *Service) InitRestore(m *snapshot.ManifestData, recover bool) error {
	if err := s.checkManifest(m); err != nil {
		// a rejected manifest still replaces the active restoration
		s.discardRestoration()
		s.setStatus(snapshot.RestorationStatus{Kind: snapshot.StatusFailed})
		return err
	}

	// interrupt a feed holding the lock
	s.restoreAbort.Store(true)
	s.restorationMu.Lock()
	defer s.restorationMu.Unlock()

	if recover {
		// keep the chunks recovered by an interrupted restoration
		_ = os.RemoveAll(s.prevChunksDir())
		_ = os.Rename(s.recoveryDir(), s.prevChunksDir())
	}
	if s.restoration != nil {
		s.restoration.close()
		s.restoration = nil
	}
	if err := os.RemoveAll(s.restorationDir()); err != nil {
		return errors.Wrap(err, "clear restoration dir")
	}

	s.stateChunks.Store(0)
	s.blockChunks.Store(0)
	s.restoring.Reset()
	s.setStatus(snapshot.RestorationStatus{
		Kind:        snapshot.StatusInitializing,
		StateChunks: uint32(len(m.StateHashes)),
		BlockChunks: uint32(len(m.BlockHashes)),
	})

	r, err := s.openRestoration(m, recover)
	if err != nil {
		s.setStatusKind(snapshot.StatusFailed)
		return err
	}
	s.restoration = r
	s.restoreAbort.Store(false)
	s.log.Info("restoration started",
		zap.Stringer("manifest", m.Hash()),
		zap.Int("state_chunks", len(m.StateHashes)),
		zap.Int("block_chunks", len(m.BlockHashes)),
		zap.Bool("recover", recover))

	if recover {
		s.importPrevChunks(r)
	}
	if s.restoration != r {
		return nil
	}
	// nothing to feed, or every chunk came from a previous attempt
	if r.isDone() {
		if err := s.finalizeLocked(r); err != nil {
			s.log.Warn("restoration failed", zap.Error(err))
			s.failLocked()
			return err
		}
		return nil
	}
	if s.Status().Kind == snapshot.StatusInitializing {
		s.setStatusKind(snapshot.StatusOngoing)
	}
	return nil
}

func (s *Service) checkManifest(m *snapshot.ManifestData) error {
	if s.components == nil {
		return snapshotter.ErrSnapshotsUnsupported
	}
	if lo, hi := s.components.MinSupportedVersion(), s.components.CurrentVersion(); m.Version < lo || m.Version > hi {
		return snapshotter.Format(errors.Errorf("manifest version %d outside supported range [%d, %d]", m.Version, lo, hi))
	}
	return nil
}

// discardRestoration drops the active restoration and its directory.
func (s *Service) discardRestoration() {
	s.restoreAbort.Store(true)
	s.restorationMu.Lock()
	defer s.restorationMu.Unlock()
	if s.restoration != nil {
		s.restoration.close()
		s.restoration = nil
	}
	if err := os.RemoveAll(s.restorationDir()); err != nil {
		s.log.Warn("failed to remove restoration dir", zap.Error(err))
	}
}

func (s *Service) openRestoration(m *snapshot.ManifestData, recover bool) (*Restoration, error) {
	if err := os.MkdirAll(s.restorationDir(), 0o755); err != nil {
		return nil, errors.Wrap(err, "create restoration dir")
	}
	g := newGuard(s.restorationDir())
	var w container.Writer
	if recover {
		lw, err := container.NewLooseWriter(s.recoveryDir())
		if err != nil {
			g.release()
			return nil, err
		}
		w = lw
	}
	db, err := kv.Open(s.restorationDBDir())
	if err != nil {
		g.release()
		return nil, err
	}
	r, err := newRestoration(restorationParams{
		manifest:   m,
		db:         db,
		genesis:    s.genesis,
		components: s.components,
		writer:     w,
		guard:      g,
		progress:   s.restoring,
	})
	if err != nil {
		_ = db.Close()
		g.release()
		return nil, err
	}
	return r, nil
}

// importPrevChunks feeds chunks left behind by an interrupted restoration.
// Called with the restoration lock held.
func (s *Service) importPrevChunks(r *Restoration) {
	dir := s.prevChunksDir()
	defer os.RemoveAll(dir)

	hashes, err := container.ChunkFiles(dir)
	if err != nil || len(hashes) == 0 {
		return
	}
	imported := 0
	for _, hash := range hashes {
		isState := r.needs(hash, true)
		if !isState && !r.needs(hash, false) {
			continue
		}
		compressed, err := os.ReadFile(container.ChunkPath(dir, hash))
		if err != nil {
			s.log.Warn("skipping previous chunk", zap.Stringer("hash", hash), zap.Error(err))
			continue
		}
		if err := s.applyLocked(r, hash, compressed, isState); err != nil {
			if snapshotter.IsBadRequestErr(err) {
				s.log.Warn("skipping previous chunk", zap.Stringer("hash", hash), zap.Error(err))
				continue
			}
			s.log.Warn("previous chunk import stopped", zap.Error(err))
			if !errors.Is(err, snapshotter.ErrRestorationAborted) {
				s.failLocked()
			}
			return
		}
		imported++
	}
	s.log.Info("imported previous chunks", zap.Int("chunks", imported))
}

// BeginRestore starts a recovering restoration on the service goroutine.
func (s *Service) BeginRestore(m *snapshot.ManifestData) {
	s.enqueue(message{kind: msgBeginRestore, manifest: m})
}

// RestoreStateChunk queues a state chunk. Whether the chunk is wanted is
// decided when it is processed, after any restoration queued before it.
func (s *Service) RestoreStateChunk(hash common.Hash, chunk []byte) {
	s.enqueue(message{kind: msgStateChunk, hash: hash, chunk: common.CopyBytes(chunk)})
}

// RestoreBlockChunk queues a block chunk, see RestoreStateChunk.
func (s *Service) RestoreBlockChunk(hash common.Hash, chunk []byte) {
	s.enqueue(message{kind: msgBlockChunk, hash: hash, chunk: common.CopyBytes(chunk)})
}

func (s *Service) FeedStateChunk(hash common.Hash, chunk []byte) error {
	return s.feedChunk(hash, chunk, true)
}

func (s *Service) FeedBlockChunk(hash common.Hash, chunk []byte) error {
	return s.feedChunk(hash, chunk, false)
}

func (s *Service) enqueue(m message) {
	select {
	case s.msgs <- m:
	case <-s.quit:
	}
}

func (s *Service) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			return
		case m := <-s.msgs:
			s.handle(m)
		}
	}
}

func (s *Service) handle(m message) {
	var err error
	switch m.kind {
	case msgBeginRestore:
		err = s.InitRestore(m.manifest, true)
	case msgStateChunk:
		err = s.FeedStateChunk(m.hash, m.chunk)
	case msgBlockChunk:
		err = s.FeedBlockChunk(m.hash, m.chunk)
	}
	if err != nil {
		s.log.Warn("restoration message failed", zap.Int("kind", int(m.kind)), zap.Error(err))
	}
}

func (s *Service) feedChunk(hash common.Hash, compressed []byte, isState bool) error {
	s.restorationMu.Lock()
	r := s.restoration
	wanted := r != nil && r.needs(hash, isState)
	s.restorationMu.Unlock()
	if !wanted {
		return nil
	}

	raw, err := snapshot.OpenChunk(hash, compressed, s.cfg.MaxChunkSize)
	if err != nil {
		if snapshotter.IsVerificationErr(err) {
			// a peer served the wrong content, the chunk stays needed
			s.log.Warn("rejected chunk", zap.Stringer("hash", hash), zap.Error(err))
			return snapshotter.BadRequest(err)
		}
	}

	s.restorationMu.Lock()
	defer s.restorationMu.Unlock()
	if s.restoration != r {
		return nil
	}
	if err != nil {
		s.log.Warn("restoration failed", zap.Stringer("hash", hash), zap.Error(err))
		s.failLocked()
		return err
	}
	if err := s.feedRaw(r, hash, raw, compressed, isState); err != nil {
		if errors.Is(err, snapshotter.ErrRestorationAborted) {
			return nil
		}
		s.log.Warn("restoration failed", zap.Error(err))
		s.failLocked()
		return err
	}
	return nil
}

// applyLocked opens and feeds one compressed chunk. Called with the
// restoration lock held.
func (s *Service) applyLocked(r *Restoration, hash common.Hash, compressed []byte, isState bool) error {
	raw, err := snapshot.OpenChunk(hash, compressed, s.cfg.MaxChunkSize)
	if err != nil {
		if snapshotter.IsVerificationErr(err) {
			return snapshotter.BadRequest(err)
		}
		return err
	}
	return s.feedRaw(r, hash, raw, compressed, isState)
}

func (s *Service) feedRaw(r *Restoration, hash common.Hash, raw, compressed []byte, isState bool) error {
	var applied bool
	var err error
	if isState {
		applied, err = r.feedState(hash, raw, compressed, &s.restoreAbort)
	} else {
		applied, err = r.feedBlocks(hash, raw, compressed, s.engine, &s.restoreAbort)
	}
	if err != nil || !applied {
		return err
	}
	if isState {
		s.stateChunks.Add(1)
	} else {
		s.blockChunks.Add(1)
	}
	if r.isDone() {
		return s.finalizeLocked(r)
	}
	return nil
}

func (s *Service) finalizeLocked(r *Restoration) error {
	s.setStatusKind(snapshot.StatusFinalizing)
	if err := r.finalize(s.engine); err != nil {
		return err
	}
	r.close()
	s.restoration = nil

	if s.handler != nil {
		if err := s.handler.RestoreDB(s.restorationDBDir()); err != nil {
			return errors.Wrap(err, "hand over restored db")
		}
	}
	if r.writer != nil {
		if err := s.replaceCurrent(s.recoveryDir()); err != nil {
			return err
		}
	}
	if err := os.RemoveAll(s.restorationDir()); err != nil {
		s.log.Warn("failed to remove restoration dir", zap.Error(err))
	}
	s.setStatus(snapshot.RestorationStatus{Kind: snapshot.StatusInactive})
	s.log.Info("restoration complete",
		zap.Uint64("block", r.manifest.BlockNumber),
		zap.Stringer("hash", r.manifest.BlockHash))
	return nil
}

// failLocked drops the restoration and its directory after a fatal error.
func (s *Service) failLocked() {
	if s.restoration != nil {
		s.restoration.close()
		s.restoration = nil
	}
	_ = os.RemoveAll(s.restorationDir())
	s.setStatusKind(snapshot.StatusFailed)
}

// AbortRestore stops and discards the active restoration.
func (s *Service) AbortRestore() {
	s.restoreAbort.Store(true)
	s.restorationMu.Lock()
	if s.restoration != nil {
		s.restoration.close()
		s.restoration = nil
	}
	s.restorationMu.Unlock()
	s.setStatus(snapshot.RestorationStatus{Kind: snapshot.StatusInactive})
}

// AbortSnapshot asks a running TakeSnapshot to stop.
func (s *Service) AbortSnapshot() {
	if s.taking.Load() {
		s.progress.Abort()
	}
}

// Shutdown aborts all work and stops the service goroutine.
func (s *Service) Shutdown() {
	s.closeOnce.Do(func() {
		s.AbortRestore()
		s.AbortSnapshot()
		close(s.quit)
		s.wg.Wait()

		s.readerMu.Lock()
		if s.reader != nil {
			_ = s.reader.Close()
			s.reader = nil
		}
		s.readerMu.Unlock()
	})
}

// replaceCurrent makes the finished loose snapshot in dir the current one.
func (s *Service) replaceCurrent(dir string) error {
	s.readerMu.Lock()
	defer s.readerMu.Unlock()

	if s.reader != nil {
		_ = s.reader.Close()
		s.reader = nil
	}
	s.cache.Purge()
	if err := os.RemoveAll(s.currentDir()); err != nil {
		return errors.Wrap(err, "remove previous snapshot")
	}
	if err := os.Rename(dir, s.currentDir()); err != nil {
		return errors.Wrap(err, "move snapshot into place")
	}
	r, err := container.OpenLoose(s.currentDir())
	if err != nil {
		return err
	}
	s.reader = r
	return nil
}
