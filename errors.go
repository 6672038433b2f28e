package snapshotter

import "errors"

var (
	ErrRestorationAborted   = errors.New("snapshot restoration aborted")
	ErrSnapshotAborted      = errors.New("snapshot creation aborted")
	ErrSnapshotsUnsupported = errors.New("consensus engine does not support snapshots")
	ErrSnapshotInProgress   = errors.New("a snapshot is already being taken")
	ErrTooManyBlocks        = errors.New("too many blocks in snapshot")
)
