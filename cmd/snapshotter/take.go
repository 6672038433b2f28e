package main

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ledgerwatch/snapshotter/pkg/snapshot"
	"github.com/ledgerwatch/snapshotter/pkg/snapshot/consensus"
	"github.com/ledgerwatch/snapshotter/pkg/snapshot/container"
	"github.com/ledgerwatch/snapshotter/pkg/snapshot/service"
)

var (
	takeDB    string
	takeOut   string
	takeBlock uint64
	takeLoose bool

	takeCmd = &cobra.Command{
		Use:   "take",
		Short: "Write a snapshot of a chain database",
		RunE:  runTake,
	}
)

func init() {
	takeCmd.Flags().StringVar(&takeDB, "db", "", "chain database to snapshot")
	_ = takeCmd.MarkFlagRequired("db")
	takeCmd.Flags().StringVar(&takeOut, "out", "", "snapshot file, or directory with --loose")
	_ = takeCmd.MarkFlagRequired("out")
	takeCmd.Flags().Uint64Var(&takeBlock, "block", 0, "block to snapshot (default best block)")
	takeCmd.Flags().BoolVar(&takeLoose, "loose", false, "write one file per chunk instead of a packed file")
}

func runTake(cmd *cobra.Command, _ []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := loadSnapshotConfig()
	if err != nil {
		return err
	}
	engine, err := consensus.EngineByName(engineName)
	if err != nil {
		return err
	}
	components, err := consensus.ForEngine(engine, cfg)
	if err != nil {
		return err
	}
	n, err := openNode(takeDB, true)
	if err != nil {
		return err
	}
	defer n.Close()

	block := takeBlock
	if block == 0 {
		block = n.chain.Best().Number
	}

	var (
		w       container.Writer
		discard func()
	)
	if takeLoose {
		lw, err := container.NewLooseWriter(takeOut)
		if err != nil {
			return err
		}
		w, discard = lw, func() { _ = os.RemoveAll(takeOut) }
	} else {
		pw, err := container.NewPackedWriter(takeOut)
		if err != nil {
			return err
		}
		w, discard = pw, func() { _ = pw.Abort() }
	}

	src := &service.ChainSource{Chain: n.chain, State: n.state, Components: components, Config: cfg}
	progress := snapshot.NewProgress()
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go reportProgress(ctx, log, progress)

	start := time.Now()
	log.Info("taking snapshot", zap.Uint64("block", block), zap.String("out", takeOut))
	if err := src.TakeSnapshot(ctx, w, block, progress); err != nil {
		discard()
		return errors.Wrap(err, "take snapshot")
	}
	log.Info("snapshot written",
		zap.String("out", takeOut),
		zap.Uint64("accounts", progress.Accounts()),
		zap.Uint64("blocks", progress.Blocks()),
		zap.Uint64("bytes", progress.Bytes()),
		zap.Duration("took", time.Since(start)))
	return nil
}

func reportProgress(ctx context.Context, log *zap.Logger, progress *snapshot.Progress) {
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			accounts, bytes := progress.Rate()
			log.Info("snapshot progress",
				zap.Uint64("accounts", progress.Accounts()),
				zap.Uint64("blocks", progress.Blocks()),
				zap.Float64("accounts_per_sec", accounts),
				zap.Float64("bytes_per_sec", bytes))
		}
	}
}
