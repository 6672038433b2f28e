// Package consensus holds the per-engine half of a snapshot: the secondary
// chunks that prove the chain leading to the snapshot block, and the
// rebuilders that restore and verify them.
package consensus

import (
	"context"
	"sync/atomic"

	"github.com/ledgerwatch/erigon/common"
	"github.com/ledgerwatch/erigon/core/types"

	"github.com/ledgerwatch/snapshotter/internal/chain"
	"github.com/ledgerwatch/snapshotter/pkg/snapshot"
)

// Family selects the secondary chunk format of an engine.
type Family uint8

const (
	FamilyUnsupported Family = iota
	FamilyProofOfWork
	FamilyAuthority
)

func (f Family) String() string {
	switch f {
	case FamilyProofOfWork:
		return "pow"
	case FamilyAuthority:
		return "authority"
	default:
		return "unsupported"
	}
}

// Engine is the part of a consensus engine the rebuilders rely on.
type Engine interface {
	SnapshotMode() Family
	VerifyHeader(header *types.Header) error
	VerifyEpochTransition(header *types.Header, proof []byte) error
}

// Rebuilder restores secondary chunks into a chain store.
type Rebuilder interface {
	// Feed applies one decompressed chunk. Chunks arrive in any order.
	Feed(chunk []byte, engine Engine, abort *atomic.Bool) error
	// Finalize links the restored ranges and checks them against the
	// manifest once every chunk has been fed.
	Finalize(engine Engine) error
}

// Components produces and restores the secondary chunks of one family.
type Components interface {
	ChunkAll(ctx context.Context, c *chain.Chain, blockAt common.Hash, sink snapshot.ChunkSink, progress *snapshot.Progress, preferredSize int) error
	Rebuilder(c *chain.Chain, manifest *snapshot.ManifestData) (Rebuilder, error)
	MinSupportedVersion() uint64
	CurrentVersion() uint64
}
