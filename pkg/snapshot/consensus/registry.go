package consensus

import (
	"github.com/pkg/errors"

	"github.com/ledgerwatch/snapshotter"
	"github.com/ledgerwatch/snapshotter/pkg/snapshot"
)

var registry = map[Family]func(cfg snapshot.Config) Components{
	FamilyProofOfWork: func(cfg snapshot.Config) Components {
		return NewPowSnapshot(cfg.SnapshotBlocks, cfg.MaxRestoreBlocks)
	},
	FamilyAuthority: func(snapshot.Config) Components {
		return NewAuthoritySnapshot()
	},
}

// Lookup resolves the components for an engine family once, when the node
// is configured.
func Lookup(family Family, cfg snapshot.Config) (Components, error) {
	build, ok := registry[family]
	if !ok {
		return nil, errors.Wrapf(snapshotter.ErrSnapshotsUnsupported, "family %s", family)
	}
	return build(cfg), nil
}

// ForEngine is Lookup keyed by the engine's own snapshot mode.
func ForEngine(engine Engine, cfg snapshot.Config) (Components, error) {
	return Lookup(engine.SnapshotMode(), cfg)
}
