package main

import (
	"os"
	"sync"

	"github.com/ledgerwatch/erigon/common"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ledgerwatch/snapshotter/pkg/snapshot/consensus"
	"github.com/ledgerwatch/snapshotter/pkg/snapshot/container"
	"github.com/ledgerwatch/snapshotter/pkg/snapshot/service"
)

var (
	restoreFile      string
	restoreDB        string
	restoreGenesisDB string

	restoreCmd = &cobra.Command{
		Use:   "restore",
		Short: "Rebuild a chain database from a snapshot",
		RunE:  runRestore,
	}
)

func init() {
	restoreCmd.Flags().StringVar(&restoreFile, "file", "", "snapshot file or loose snapshot directory")
	_ = restoreCmd.MarkFlagRequired("file")
	restoreCmd.Flags().StringVar(&restoreDB, "db", "", "directory of the database to create")
	_ = restoreCmd.MarkFlagRequired("db")
	restoreCmd.Flags().StringVar(&restoreGenesisDB, "genesis-db", "", "database to read the genesis block from (default demo genesis)")
}

// moveHandler moves a restored database into place.
type moveHandler struct {
	target string

	mu   sync.Mutex
	done bool
}

func (h *moveHandler) RestoreDB(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := os.Rename(path, h.target); err != nil {
		return errors.Wrap(err, "move restored database")
	}
	h.done = true
	return nil
}

func (h *moveHandler) restored() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}

func runRestore(cmd *cobra.Command, _ []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	if _, err := os.Stat(restoreDB); err == nil {
		return errors.Errorf("%s already exists", restoreDB)
	}
	cfg, err := loadSnapshotConfig()
	if err != nil {
		return err
	}
	// next to the target so the restored database can be renamed into place
	cfg.Root = restoreDB + ".restore"
	defer os.RemoveAll(cfg.Root)

	engine, err := consensus.EngineByName(engineName)
	if err != nil {
		return err
	}
	components, err := consensus.ForEngine(engine, cfg)
	if err != nil {
		return err
	}
	genesis, err := resolveGenesis(restoreGenesisDB, engine)
	if err != nil {
		return err
	}

	r, err := container.Open(restoreFile)
	if err != nil {
		return err
	}
	defer r.Close()
	m := r.Manifest()

	handler := &moveHandler{target: restoreDB}
	svc, err := service.New(service.Params{
		Config:     cfg,
		Engine:     engine,
		Components: components,
		Genesis:    genesis,
		Handler:    handler,
		Log:        log.Named("restore"),
	})
	if err != nil {
		return err
	}
	defer svc.Shutdown()

	if err := svc.InitRestore(m, false); err != nil {
		return err
	}
	feed := func(hashes []common.Hash, isState bool) error {
		for _, hash := range hashes {
			if err := cmd.Context().Err(); err != nil {
				svc.AbortRestore()
				return err
			}
			chunk, err := r.Chunk(hash)
			if err != nil {
				return err
			}
			if isState {
				err = svc.FeedStateChunk(hash, chunk)
			} else {
				err = svc.FeedBlockChunk(hash, chunk)
			}
			if err != nil {
				return errors.Wrapf(err, "chunk %x", hash)
			}
		}
		return nil
	}
	if err := feed(m.StateHashes, true); err != nil {
		return err
	}
	if err := feed(m.BlockHashes, false); err != nil {
		return err
	}

	if !handler.restored() {
		return errors.Errorf("restoration did not complete: %s", svc.Status())
	}
	log.Info("database restored",
		zap.String("db", restoreDB),
		zap.Uint64("block", m.BlockNumber),
		zap.Stringer("hash", m.BlockHash))
	return nil
}
