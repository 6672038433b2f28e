package snapshot

import (
	"runtime"

	"github.com/pkg/errors"
)

const (
	defaultPreferredChunkSize = 4 * 1024 * 1024
	defaultSnapshotBlocks     = 30_000
	defaultMaxRestoreBlocks   = 30_000
	defaultChunkCacheSize     = 64
)

// Config tunes snapshot production and restoration.
type Config struct {
	// PreferredChunkSize bounds the uncompressed size of a chunk.
	PreferredChunkSize int
	// MaxChunkSize rejects restored chunks that decompress to more bytes.
	MaxChunkSize int
	// SnapshotBlocks is how many recent blocks a proof-of-work snapshot carries.
	SnapshotBlocks uint64
	// MaxRestoreBlocks caps the blocks a restoration accepts.
	MaxRestoreBlocks uint64
	StateWorkers     int
	ChunkCacheSize   int
	// Root is the directory holding the current snapshot and restorations.
	Root string
}

func NewDefaultConfig() Config {
	return Config{
		PreferredChunkSize: defaultPreferredChunkSize,
		MaxChunkSize:       defaultPreferredChunkSize / 4 * 5,
		SnapshotBlocks:     defaultSnapshotBlocks,
		MaxRestoreBlocks:   defaultMaxRestoreBlocks,
		StateWorkers:       runtime.NumCPU(),
		ChunkCacheSize:     defaultChunkCacheSize,
		Root:               "snapshot",
	}
}

// NewTestConfig uses small chunks so tests produce many of them.
func NewTestConfig(root string) Config {
	cfg := NewDefaultConfig()
	cfg.PreferredChunkSize = 16 * 1024
	cfg.MaxChunkSize = cfg.PreferredChunkSize / 4 * 5
	cfg.StateWorkers = 4
	cfg.ChunkCacheSize = 8
	cfg.Root = root
	return cfg
}

func (c Config) Validate() error {
	switch {
	case c.PreferredChunkSize <= 0:
		return errors.New("preferred chunk size must be positive")
	case c.MaxChunkSize < c.PreferredChunkSize:
		return errors.Errorf("max chunk size %d below preferred chunk size %d", c.MaxChunkSize, c.PreferredChunkSize)
	case c.SnapshotBlocks == 0:
		return errors.New("snapshot must carry at least one block")
	case c.MaxRestoreBlocks < c.SnapshotBlocks:
		return errors.Errorf("max restore blocks %d below snapshot blocks %d", c.MaxRestoreBlocks, c.SnapshotBlocks)
	case c.StateWorkers <= 0:
		return errors.New("state workers must be positive")
	case c.ChunkCacheSize <= 0:
		return errors.New("chunk cache size must be positive")
	case c.Root == "":
		return errors.New("snapshot root directory is required")
	}
	return nil
}
