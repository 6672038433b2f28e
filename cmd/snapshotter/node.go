package main

import (
	"os"

	"github.com/ledgerwatch/erigon/common"
	"github.com/ledgerwatch/erigon/core/types"
	"github.com/pkg/errors"

	"github.com/ledgerwatch/snapshotter/internal/chain"
	"github.com/ledgerwatch/snapshotter/internal/kv"
	"github.com/ledgerwatch/snapshotter/internal/state"
	"github.com/ledgerwatch/snapshotter/pkg/snapshot/consensus"
)

// node is a chain database opened for reading or generation.
type node struct {
	db    *kv.LevelDB
	chain *chain.Chain
	state *state.DB
}

func openNode(path string, mustExist bool) (*node, error) {
	if mustExist {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.Wrapf(err, "open chain database")
		}
	}
	db, err := kv.Open(path)
	if err != nil {
		return nil, err
	}
	c, err := chain.Open(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if mustExist && c.Genesis() == (common.Hash{}) {
		_ = db.Close()
		return nil, errors.Errorf("%s holds no chain", path)
	}
	return &node{db: db, chain: c, state: state.New(db)}, nil
}

func (n *node) Close() error {
	return n.db.Close()
}

func (n *node) genesis() (*chain.Block, error) {
	return n.chain.Block(n.chain.Genesis())
}

func genesisDifficulty(engine consensus.Engine) int64 {
	if engine.SnapshotMode() == consensus.FamilyAuthority {
		return 1
	}
	return 1000
}

// demoGenesis is the genesis block demo-chain builds on. It commits to an
// empty state so a restoring node can derive it without the source database.
func demoGenesis(engine consensus.Engine) *chain.Block {
	return chain.NewGenesis(types.EmptyRootHash, genesisDifficulty(engine))
}

// resolveGenesis reads the genesis of the database at path, or falls back to
// the demo genesis.
func resolveGenesis(path string, engine consensus.Engine) (*chain.Block, error) {
	if path == "" {
		return demoGenesis(engine), nil
	}
	n, err := openNode(path, true)
	if err != nil {
		return nil, err
	}
	defer n.Close()
	return n.genesis()
}
