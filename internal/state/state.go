// Package state keeps the flat account and storage records of a ledger and
// derives the state trie root from them.
package state

import (
	"encoding/binary"

	"github.com/ledgerwatch/erigon/common"
	"github.com/ledgerwatch/erigon/core/types"
	"github.com/ledgerwatch/erigon/crypto"
	"github.com/ledgerwatch/erigon/rlp"
	"github.com/ledgerwatch/erigon/turbo/trie"
	"github.com/pkg/errors"

	"github.com/ledgerwatch/snapshotter/internal/kv"
)

var (
	accountPrefix = []byte("a")
	storagePrefix = []byte("s")
	codePrefix    = []byte("c")
	rootKey       = []byte("meta-root")
	eraKey        = []byte("meta-era")
)

// DB stores accounts keyed by the hash of their address, storage slots keyed
// by account hash and slot hash, and contract code keyed by its hash.
type DB struct {
	db kv.Store
}

func New(db kv.Store) *DB {
	return &DB{db: db}
}

func (s *DB) Store() kv.Store {
	return s.db
}

func AccountKey(addrHash common.Hash) []byte {
	return kv.Concat(accountPrefix, addrHash[:])
}

func StorageKey(addrHash, slot common.Hash) []byte {
	return kv.Concat(storagePrefix, addrHash[:], slot[:])
}

func CodeKey(codeHash common.Hash) []byte {
	return kv.Concat(codePrefix, codeHash[:])
}

func (s *DB) Account(addrHash common.Hash) (*Account, error) {
	v, err := s.db.Get(AccountKey(addrHash))
	if err != nil {
		return nil, err
	}
	return DecodeAccount(v)
}

func (s *DB) PutAccount(w kv.Writer, addrHash common.Hash, acc *Account) error {
	return w.Put(AccountKey(addrHash), acc.Bytes())
}

// PutStorage writes a slot value; an empty value deletes the slot.
func (s *DB) PutStorage(w kv.Writer, addrHash, slot common.Hash, value []byte) error {
	if len(value) == 0 {
		return w.Delete(StorageKey(addrHash, slot))
	}
	return w.Put(StorageKey(addrHash, slot), value)
}

func (s *DB) PutCode(w kv.Writer, code []byte) (common.Hash, error) {
	h := crypto.Keccak256Hash(code)
	return h, w.Put(CodeKey(h), code)
}

func (s *DB) Code(codeHash common.Hash) ([]byte, error) {
	if codeHash == EmptyCodeHash {
		return nil, nil
	}
	return s.db.Get(CodeKey(codeHash))
}

func (s *DB) HasCode(codeHash common.Hash) (bool, error) {
	if codeHash == EmptyCodeHash {
		return true, nil
	}
	return s.db.Has(CodeKey(codeHash))
}

// AccountIterator walks accounts in address hash order starting at start.
func (s *DB) AccountIterator(start []byte) *AccountIterator {
	return &AccountIterator{it: s.db.NewIterator(accountPrefix, start)}
}

// StorageIterator walks the slots of one account in slot hash order.
func (s *DB) StorageIterator(addrHash common.Hash, start []byte) *StorageIterator {
	return &StorageIterator{it: s.db.NewIterator(kv.Concat(storagePrefix, addrHash[:]), start), skip: len(storagePrefix) + common.HashLength}
}

// StorageRoot hashes the storage trie of one account.
func (s *DB) StorageRoot(addrHash common.Hash) (common.Hash, error) {
	it := s.StorageIterator(addrHash, nil)
	defer it.Release()

	t := trie.New(common.Hash{})
	n := 0
	for it.Next() {
		enc, err := rlp.EncodeToBytes(it.Value())
		if err != nil {
			return common.Hash{}, err
		}
		t.Update(it.Slot().Bytes(), enc)
		n++
	}
	if err := it.Error(); err != nil {
		return common.Hash{}, err
	}
	if n == 0 {
		return types.EmptyRootHash, nil
	}
	return t.Hash(), nil
}

// Commit recomputes every storage root, rewrites accounts whose root changed
// and records the resulting state root.
func (s *DB) Commit() (common.Hash, error) {
	t := trie.New(common.Hash{})
	batch := s.db.NewBatch()
	n := 0

	it := s.AccountIterator(nil)
	for it.Next() {
		acc, err := it.Account()
		if err != nil {
			it.Release()
			return common.Hash{}, errors.Wrapf(err, "decode account %x", it.Hash())
		}
		root, err := s.StorageRoot(it.Hash())
		if err != nil {
			it.Release()
			return common.Hash{}, err
		}
		if root != acc.Root {
			acc.Root = root
			if err := s.PutAccount(batch, it.Hash(), acc); err != nil {
				it.Release()
				return common.Hash{}, err
			}
		}
		t.Update(it.Hash().Bytes(), acc.Bytes())
		n++
	}
	it.Release()
	if err := it.Error(); err != nil {
		return common.Hash{}, err
	}

	root := types.EmptyRootHash
	if n > 0 {
		root = t.Hash()
	}
	if err := batch.Put(rootKey, root.Bytes()); err != nil {
		return common.Hash{}, err
	}
	if err := batch.Write(); err != nil {
		return common.Hash{}, err
	}
	return root, nil
}

// Root returns the root recorded by the last Commit.
func (s *DB) Root() (common.Hash, error) {
	v, err := s.db.Get(rootKey)
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(v), nil
}

// MarkEra records the block the state corresponds to.
func (s *DB) MarkEra(number uint64, hash common.Hash) error {
	var v [8 + common.HashLength]byte
	binary.BigEndian.PutUint64(v[:8], number)
	copy(v[8:], hash[:])
	return s.db.Put(eraKey, v[:])
}

func (s *DB) Era() (uint64, common.Hash, error) {
	v, err := s.db.Get(eraKey)
	if err != nil {
		return 0, common.Hash{}, err
	}
	if len(v) != 8+common.HashLength {
		return 0, common.Hash{}, errors.Errorf("bad era record length %d", len(v))
	}
	return binary.BigEndian.Uint64(v[:8]), common.BytesToHash(v[8:]), nil
}

type AccountIterator struct {
	it kv.Iterator
}

func (i *AccountIterator) Next() bool {
	return i.it.Next()
}

func (i *AccountIterator) Hash() common.Hash {
	return common.BytesToHash(i.it.Key()[len(accountPrefix):])
}

func (i *AccountIterator) Account() (*Account, error) {
	return DecodeAccount(i.it.Value())
}

func (i *AccountIterator) Error() error {
	return i.it.Error()
}

func (i *AccountIterator) Release() {
	i.it.Release()
}

type StorageIterator struct {
	it   kv.Iterator
	skip int
}

func (i *StorageIterator) Next() bool {
	return i.it.Next()
}

func (i *StorageIterator) Slot() common.Hash {
	return common.BytesToHash(i.it.Key()[i.skip:])
}

// Value is a fresh copy of the slot value.
func (i *StorageIterator) Value() []byte {
	return common.CopyBytes(i.it.Value())
}

func (i *StorageIterator) Error() error {
	return i.it.Error()
}

func (i *StorageIterator) Release() {
	i.it.Release()
}
