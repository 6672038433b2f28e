package snapshot

import (
	"sync/atomic"

	"github.com/ledgerwatch/erigon/common"
	"github.com/ledgerwatch/erigon/rlp"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"

	"github.com/ledgerwatch/snapshotter"
	"github.com/ledgerwatch/snapshotter/internal/kv"
	"github.com/ledgerwatch/snapshotter/internal/state"
)

// abortCheckInterval is how many accounts or storage slots are processed
// between two looks at the abort flag.
const abortCheckInterval = 256

// StateRebuilder writes state chunks into a fresh store. Chunks may arrive
// in any order; storage roots and the state root are derived once in
// Finalize.
type StateRebuilder struct {
	state       *state.DB
	knownCode   map[common.Hash]struct{}
	missingCode map[common.Hash]struct{}
	accounts    uint64
}

func NewStateRebuilder(db kv.Store) *StateRebuilder {
	return &StateRebuilder{
		state:       state.New(db),
		knownCode:   make(map[common.Hash]struct{}),
		missingCode: make(map[common.Hash]struct{}),
	}
}

// Feed applies one decompressed state chunk. When abort is raised the chunk
// is dropped and ErrRestorationAborted returned; earlier chunks stay applied.
func (r *StateRebuilder) Feed(chunk []byte, abort *atomic.Bool) error {
	var entries []accountEntry
	if err := rlp.DecodeBytes(chunk, &entries); err != nil {
		return snapshotter.Format(errors.Wrap(err, "decode state chunk"))
	}

	batch := r.state.Store().NewBatch()
	known := make(map[common.Hash]struct{})
	referenced := make(map[common.Hash]struct{})
	for i := range entries {
		if i%abortCheckInterval == 0 && abort != nil && abort.Load() {
			return snapshotter.ErrRestorationAborted
		}
		e := &entries[i]

		acc := state.NewAccount()
		acc.Nonce = e.Nonce
		if e.Balance != nil {
			acc.Balance = e.Balance
		}
		switch e.CodeFlag {
		case codeNone:
		case codeInline:
			h, err := r.state.PutCode(batch, e.Code)
			if err != nil {
				return err
			}
			acc.CodeHash = h
			known[h] = struct{}{}
		case codeRef:
			if len(e.Code) != common.HashLength {
				return snapshotter.Format(errors.Errorf("account %x: code reference of %d bytes", e.AddrHash, len(e.Code)))
			}
			acc.CodeHash = common.BytesToHash(e.Code)
			referenced[acc.CodeHash] = struct{}{}
		default:
			return snapshotter.Format(errors.Errorf("account %x: unknown code flag %d", e.AddrHash, e.CodeFlag))
		}

		if err := r.state.PutAccount(batch, e.AddrHash, acc); err != nil {
			return err
		}
		for _, s := range e.Storage {
			if len(s.Value) == 0 {
				return snapshotter.Format(errors.Errorf("account %x: empty storage value at %x", e.AddrHash, s.Slot))
			}
			if err := r.state.PutStorage(batch, e.AddrHash, s.Slot, s.Value); err != nil {
				return err
			}
		}
	}
	if err := batch.Write(); err != nil {
		return errors.Wrap(err, "write state chunk")
	}

	for h := range known {
		r.knownCode[h] = struct{}{}
		delete(r.missingCode, h)
	}
	for h := range referenced {
		if _, ok := r.knownCode[h]; !ok {
			r.missingCode[h] = struct{}{}
		}
	}
	r.accounts += uint64(len(entries))
	return nil
}

// Accounts counts the account entries fed so far, parts included.
func (r *StateRebuilder) Accounts() uint64 {
	return r.accounts
}

// Finalize checks that every referenced code blob arrived, derives the state
// root and compares it with expectedRoot. On success the store is marked as
// the state of the given block.
func (r *StateRebuilder) Finalize(expectedRoot common.Hash, number uint64, hash common.Hash) error {
	missing := maps.Keys(r.missingCode)
	for _, h := range missing {
		ok, err := r.state.HasCode(h)
		if err != nil {
			return err
		}
		if !ok {
			return snapshotter.Verification(errors.Errorf("code %x referenced but never restored", h))
		}
	}

	root, err := r.state.Commit()
	if err != nil {
		return errors.Wrap(err, "compute state root")
	}
	if root != expectedRoot {
		return snapshotter.Verification(errors.Errorf("state root mismatch: expected %x, got %x", expectedRoot, root))
	}
	return r.state.MarkEra(number, hash)
}
