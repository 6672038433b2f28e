// Package chain stores headers, bodies, receipts, total difficulties and the
// canonical index of a ledger on top of a kv.Store.
package chain

import (
	"encoding/binary"
	"math/big"
	"sync"

	"github.com/ledgerwatch/erigon/common"
	"github.com/ledgerwatch/erigon/core/types"
	"github.com/ledgerwatch/erigon/rlp"
	"github.com/pkg/errors"

	"github.com/ledgerwatch/snapshotter/internal/kv"
)

var (
	headerPrefix    = []byte("h")
	bodyPrefix      = []byte("b")
	receiptsPrefix  = []byte("r")
	tdPrefix        = []byte("t")
	canonicalPrefix = []byte("n")
	childrenPrefix  = []byte("k")
	epochPrefix     = []byte("e")
	bestKey         = []byte("Mbest")
	genesisKey      = []byte("Mgenesis")
)

var ErrUnknownParent = errors.New("unknown parent block")

type BestBlock struct {
	Number          uint64
	Hash            common.Hash
	TotalDifficulty *big.Int
}

type Chain struct {
	db kv.Store

	mu      sync.RWMutex
	best    BestBlock
	genesis common.Hash
}

// Open loads the chain pointers kept in db. A fresh db yields an empty chain
// that must be initialised with InitGenesis.
func Open(db kv.Store) (*Chain, error) {
	c := &Chain{db: db, best: BestBlock{TotalDifficulty: new(big.Int)}}

	v, err := db.Get(genesisKey)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return c, nil
	case err != nil:
		return nil, err
	}
	c.genesis = common.BytesToHash(v)

	v, err = db.Get(bestKey)
	if err != nil {
		return nil, errors.Wrap(err, "read best block")
	}
	if err := rlp.DecodeBytes(v, &c.best); err != nil {
		return nil, errors.Wrap(err, "decode best block")
	}
	return c, nil
}

func (c *Chain) Store() kv.Store {
	return c.db
}

func (c *Chain) InitGenesis(genesis *Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := genesis.Hash()
	if c.genesis != (common.Hash{}) {
		if c.genesis != hash {
			return errors.Errorf("genesis mismatch: have %x, given %x", c.genesis, hash)
		}
		return nil
	}

	td := new(big.Int).Set(genesis.Difficulty())
	b := c.db.NewBatch()
	if err := c.writeBlock(b, genesis, nil, td); err != nil {
		return err
	}
	if err := b.Put(canonicalKey(0), hash.Bytes()); err != nil {
		return err
	}
	if err := b.Put(genesisKey, hash.Bytes()); err != nil {
		return err
	}
	best := BestBlock{Number: 0, Hash: hash, TotalDifficulty: td}
	if err := putBest(b, best); err != nil {
		return err
	}
	if err := b.Write(); err != nil {
		return err
	}
	c.genesis = hash
	c.best = best
	return nil
}

// InsertBlock appends a block on top of a known parent and makes it
// canonical and best when it extends the best chain.
func (c *Chain) InsertBlock(block *Block, receipts Receipts) error {
	parentTD, err := c.TotalDifficulty(block.Header.ParentHash)
	if errors.Is(err, kv.ErrNotFound) {
		return errors.Wrapf(ErrUnknownParent, "block %d", block.Number())
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	hash := block.Hash()
	td := new(big.Int).Add(parentTD, block.Difficulty())
	b := c.db.NewBatch()
	if err := c.writeBlock(b, block, receipts, td); err != nil {
		return err
	}
	if err := c.appendChild(b, block.Header.ParentHash, hash); err != nil {
		return err
	}
	extendsBest := td.Cmp(c.best.TotalDifficulty) > 0
	if extendsBest {
		if err := b.Put(canonicalKey(block.Number()), hash.Bytes()); err != nil {
			return err
		}
		if err := putBest(b, BestBlock{Number: block.Number(), Hash: hash, TotalDifficulty: td}); err != nil {
			return err
		}
	}
	if err := b.Write(); err != nil {
		return err
	}
	if extendsBest {
		c.best = BestBlock{Number: block.Number(), Hash: hash, TotalDifficulty: td}
	}
	return nil
}

// InsertUnordered writes a block whose parent may not be known yet. The
// block is indexed as canonical at its height; td is supplied by the caller.
// linked reports whether the parent was present and now lists the block as
// a child.
func (c *Chain) InsertUnordered(block *Block, receipts Receipts, td *big.Int, isBest bool) (linked bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := block.Hash()
	parent := block.Header.ParentHash
	linked, err = c.HasHeader(parent)
	if err != nil {
		return false, err
	}

	b := c.db.NewBatch()
	if err := c.writeBlock(b, block, receipts, td); err != nil {
		return false, err
	}
	if err := b.Put(canonicalKey(block.Number()), hash.Bytes()); err != nil {
		return false, err
	}
	if linked {
		if err := c.appendChild(b, parent, hash); err != nil {
			return false, err
		}
	}
	best := BestBlock{Number: block.Number(), Hash: hash, TotalDifficulty: new(big.Int).Set(td)}
	if isBest {
		if err := putBest(b, best); err != nil {
			return false, err
		}
	}
	if err := b.Write(); err != nil {
		return false, err
	}
	if isBest {
		c.best = best
	}
	return linked, nil
}

// AddChild links child below parent in the forward index.
func (c *Chain) AddChild(parent, child common.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.db.NewBatch()
	if err := c.appendChild(b, parent, child); err != nil {
		return err
	}
	return b.Write()
}

func (c *Chain) Children(parent common.Hash) ([]common.Hash, error) {
	v, err := c.db.Get(kv.Concat(childrenPrefix, parent[:]))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var children []common.Hash
	if err := rlp.DecodeBytes(v, &children); err != nil {
		return nil, err
	}
	return children, nil
}

func (c *Chain) appendChild(b kv.Batch, parent, child common.Hash) error {
	children, err := c.Children(parent)
	if err != nil {
		return err
	}
	for _, h := range children {
		if h == child {
			return nil
		}
	}
	enc, err := rlp.EncodeToBytes(append(children, child))
	if err != nil {
		return err
	}
	return b.Put(kv.Concat(childrenPrefix, parent[:]), enc)
}

func (c *Chain) writeBlock(b kv.Batch, block *Block, receipts Receipts, td *big.Int) error {
	hash := block.Hash()
	header, err := rlp.EncodeToBytes(block.Header)
	if err != nil {
		return errors.Wrap(err, "encode header")
	}
	body, err := rlp.EncodeToBytes(&block.Body)
	if err != nil {
		return errors.Wrap(err, "encode body")
	}
	if receipts == nil {
		receipts = Receipts{}
	}
	rcpts, err := rlp.EncodeToBytes(receipts)
	if err != nil {
		return errors.Wrap(err, "encode receipts")
	}
	if err := b.Put(kv.Concat(headerPrefix, hash[:]), header); err != nil {
		return err
	}
	if err := b.Put(kv.Concat(bodyPrefix, hash[:]), body); err != nil {
		return err
	}
	if err := b.Put(kv.Concat(receiptsPrefix, hash[:]), rcpts); err != nil {
		return err
	}
	return b.Put(kv.Concat(tdPrefix, hash[:]), td.Bytes())
}

func (c *Chain) Header(hash common.Hash) (*types.Header, error) {
	v, err := c.db.Get(kv.Concat(headerPrefix, hash[:]))
	if err != nil {
		return nil, err
	}
	h := new(types.Header)
	if err := rlp.DecodeBytes(v, h); err != nil {
		return nil, errors.Wrapf(err, "decode header %x", hash)
	}
	return h, nil
}

func (c *Chain) HasHeader(hash common.Hash) (bool, error) {
	return c.db.Has(kv.Concat(headerPrefix, hash[:]))
}

func (c *Chain) Block(hash common.Hash) (*Block, error) {
	header, err := c.Header(hash)
	if err != nil {
		return nil, err
	}
	v, err := c.db.Get(kv.Concat(bodyPrefix, hash[:]))
	if err != nil {
		return nil, err
	}
	block := &Block{Header: header}
	if err := rlp.DecodeBytes(v, &block.Body); err != nil {
		return nil, errors.Wrapf(err, "decode body %x", hash)
	}
	return block, nil
}

func (c *Chain) Receipts(hash common.Hash) (Receipts, error) {
	v, err := c.db.Get(kv.Concat(receiptsPrefix, hash[:]))
	if err != nil {
		return nil, err
	}
	var receipts Receipts
	if err := rlp.DecodeBytes(v, &receipts); err != nil {
		return nil, errors.Wrapf(err, "decode receipts %x", hash)
	}
	return receipts, nil
}

func (c *Chain) TotalDifficulty(hash common.Hash) (*big.Int, error) {
	v, err := c.db.Get(kv.Concat(tdPrefix, hash[:]))
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(v), nil
}

func (c *Chain) CanonicalHash(number uint64) (common.Hash, error) {
	v, err := c.db.Get(canonicalKey(number))
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(v), nil
}

func (c *Chain) Best() BestBlock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return BestBlock{Number: c.best.Number, Hash: c.best.Hash, TotalDifficulty: new(big.Int).Set(c.best.TotalDifficulty)}
}

func (c *Chain) Genesis() common.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.genesis
}

func (c *Chain) InsertEpochTransition(t EpochTransition) error {
	enc, err := rlp.EncodeToBytes(&t)
	if err != nil {
		return err
	}
	return c.db.Put(epochKey(t.BlockNumber), enc)
}

// EpochTransitions lists the known transitions in block order.
func (c *Chain) EpochTransitions() ([]EpochTransition, error) {
	it := c.db.NewIterator(epochPrefix, nil)
	defer it.Release()

	var out []EpochTransition
	for it.Next() {
		var t EpochTransition
		if err := rlp.DecodeBytes(it.Value(), &t); err != nil {
			return nil, errors.Wrap(err, "decode epoch transition")
		}
		out = append(out, t)
	}
	return out, it.Error()
}

func canonicalKey(number uint64) []byte {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], number)
	return kv.Concat(canonicalPrefix, n[:])
}

func epochKey(number uint64) []byte {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], number)
	return kv.Concat(epochPrefix, n[:])
}

func putBest(b kv.Batch, best BestBlock) error {
	enc, err := rlp.EncodeToBytes(&best)
	if err != nil {
		return err
	}
	return b.Put(bestKey, enc)
}
