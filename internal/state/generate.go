package state

import (
	"bytes"
	"math/big"
	"math/rand"

	"github.com/ledgerwatch/erigon/common"
	"github.com/ledgerwatch/erigon/crypto"
)

// GenerateOptions shapes a synthetic state.
type GenerateOptions struct {
	Accounts int
	// every StorageEvery-th account receives between 1 and MaxSlots slots
	StorageEvery int
	MaxSlots     int
	// every CodeEvery-th account receives code, drawn from CodeVariants blobs
	CodeEvery    int
	CodeVariants int
}

// Generate fills s with random accounts and commits it, returning the root.
func Generate(s *DB, rng *rand.Rand, opts GenerateOptions) (common.Hash, error) {
	codes := make([][]byte, opts.CodeVariants)
	for i := range codes {
		codes[i] = randomBytes(rng, 64+rng.Intn(512))
	}

	batch := s.db.NewBatch()
	for i := 0; i < opts.Accounts; i++ {
		addr := randomBytes(rng, common.AddressLength)
		addrHash := crypto.Keccak256Hash(addr)

		acc := NewAccount()
		acc.Nonce = uint64(rng.Intn(1000))
		acc.Balance = new(big.Int).Rand(rng, new(big.Int).Lsh(big.NewInt(1), 96))

		if opts.CodeEvery > 0 && len(codes) > 0 && i%opts.CodeEvery == 0 {
			h, err := s.PutCode(batch, codes[rng.Intn(len(codes))])
			if err != nil {
				return common.Hash{}, err
			}
			acc.CodeHash = h
		}
		if opts.StorageEvery > 0 && opts.MaxSlots > 0 && i%opts.StorageEvery == 0 {
			slots := 1 + rng.Intn(opts.MaxSlots)
			for j := 0; j < slots; j++ {
				slot := crypto.Keccak256Hash(randomBytes(rng, 32))
				value := bytes.TrimLeft(randomBytes(rng, 1+rng.Intn(32)), "\x00")
				if len(value) == 0 {
					value = []byte{1}
				}
				if err := s.PutStorage(batch, addrHash, slot, value); err != nil {
					return common.Hash{}, err
				}
			}
		}
		if err := s.PutAccount(batch, addrHash, acc); err != nil {
			return common.Hash{}, err
		}
		if batch.ValueSize() > 1<<20 {
			if err := batch.Write(); err != nil {
				return common.Hash{}, err
			}
			batch.Reset()
		}
	}
	if err := batch.Write(); err != nil {
		return common.Hash{}, err
	}
	return s.Commit()
}

func randomBytes(rng *rand.Rand, n int) []byte {
	b := make([]byte, n)
	rng.Read(b)
	return b
}
