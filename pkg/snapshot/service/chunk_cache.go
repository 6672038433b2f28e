package service

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ledgerwatch/erigon/common"
	"github.com/pkg/errors"
)

var _ ChunkCache = &chunkCache{}

type ChunkCache interface {
	// Find returns a cached compressed chunk. The slice must not be modified.
	Find(hash common.Hash) ([]byte, bool)
	// Add caches a compressed chunk served from the current snapshot
	Add(hash common.Hash, chunk []byte)
	// Purge drops everything, used whenever the current snapshot is replaced
	Purge()
}

type chunkCache struct {
	chunks *lru.ARCCache[common.Hash, []byte]
}

func newChunkCache(size int) (*chunkCache, error) {
	chunks, err := lru.NewARC[common.Hash, []byte](size)
	if err != nil {
		return nil, errors.Wrap(err, "create chunk cache")
	}
	return &chunkCache{chunks: chunks}, nil
}

func (c *chunkCache) Find(hash common.Hash) ([]byte, bool) {
	return c.chunks.Get(hash)
}

func (c *chunkCache) Add(hash common.Hash, chunk []byte) {
	c.chunks.Add(hash, chunk)
}

func (c *chunkCache) Purge() {
	c.chunks.Purge()
}
