package main

import (
	"math/rand"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ledgerwatch/snapshotter/internal/chain"
	"github.com/ledgerwatch/snapshotter/internal/state"
	"github.com/ledgerwatch/snapshotter/pkg/snapshot/consensus"
)

var (
	demoDB       string
	demoBlocks   int
	demoAccounts int
	demoSeed     int64

	demoCmd = &cobra.Command{
		Use:   "demo-chain",
		Short: "Generate a synthetic chain database to snapshot",
		RunE:  runDemo,
	}
)

func init() {
	demoCmd.Flags().StringVar(&demoDB, "db", "", "directory of the database to create")
	_ = demoCmd.MarkFlagRequired("db")
	demoCmd.Flags().IntVar(&demoBlocks, "blocks", 1000, "blocks to generate on top of genesis")
	demoCmd.Flags().IntVar(&demoAccounts, "accounts", 2000, "accounts in the generated state")
	demoCmd.Flags().Int64Var(&demoSeed, "seed", 1, "random seed")
}

func runDemo(cmd *cobra.Command, _ []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	engine, err := consensus.EngineByName(engineName)
	if err != nil {
		return err
	}
	n, err := openNode(demoDB, false)
	if err != nil {
		return err
	}
	defer n.Close()
	if n.chain.Best().Number > 0 {
		return errors.Errorf("%s already holds a chain", demoDB)
	}

	rng := rand.New(rand.NewSource(demoSeed))
	root, err := state.Generate(n.state, rng, state.GenerateOptions{
		Accounts:     demoAccounts,
		StorageEvery: 10,
		MaxSlots:     200,
		CodeEvery:    7,
		CodeVariants: 16,
	})
	if err != nil {
		return errors.Wrap(err, "generate state")
	}

	genesis := demoGenesis(engine)
	if err := n.chain.InitGenesis(genesis); err != nil {
		return err
	}
	opts := chain.GenerateOptions{
		Blocks:     demoBlocks,
		MaxTxs:     8,
		Difficulty: genesisDifficulty(engine),
		StateRoot:  root,
	}
	if engine.SnapshotMode() == consensus.FamilyAuthority {
		opts.EpochInterval = 100
	}
	if err := chain.Generate(n.chain, rng, opts); err != nil {
		return errors.Wrap(err, "generate chain")
	}

	best := n.chain.Best()
	log.Info("demo chain ready",
		zap.String("db", demoDB),
		zap.Uint64("best", best.Number),
		zap.Stringer("hash", best.Hash),
		zap.Stringer("state_root", root))
	return nil
}
