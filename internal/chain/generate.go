package chain

import (
	"math/big"
	"math/rand"

	"github.com/ledgerwatch/erigon/common"
	"github.com/ledgerwatch/erigon/core/types"
	"github.com/ledgerwatch/erigon/rlp"
	"github.com/pkg/errors"
)

// GenerateOptions shapes a synthetic chain.
type GenerateOptions struct {
	Blocks        int
	MaxTxs        int
	Difficulty    int64
	StateRoot     common.Hash
	EpochInterval uint64 // record an epoch transition every EpochInterval blocks, 0 disables
}

func NewGenesis(stateRoot common.Hash, difficulty int64) *Block {
	header := &types.Header{
		Root:       stateRoot,
		Difficulty: big.NewInt(difficulty),
		Number:     new(big.Int),
		GasLimit:   30_000_000,
		Extra:      []byte("snapshotter genesis"),
	}
	return AssembleBlock(header, Body{}, nil)
}

// Generate extends the best block of c with random blocks. Every generated
// header commits to opts.StateRoot.
func Generate(c *Chain, rng *rand.Rand, opts GenerateOptions) error {
	parent, err := c.Header(c.Best().Hash)
	if err != nil {
		return errors.Wrap(err, "load best header")
	}
	if opts.EpochInterval > 0 && parent.Number.Sign() == 0 {
		if err := c.InsertEpochTransition(EpochTransition{BlockHash: parent.Hash(), Proof: randomProof(rng)}); err != nil {
			return err
		}
	}

	for i := 0; i < opts.Blocks; i++ {
		number := new(big.Int).Add(parent.Number, big.NewInt(1))
		header := &types.Header{
			ParentHash: parent.Hash(),
			Coinbase:   common.BytesToAddress(randomBytes(rng, common.AddressLength)),
			Root:       opts.StateRoot,
			Difficulty: big.NewInt(opts.Difficulty + rng.Int63n(16)),
			Number:     number,
			GasLimit:   30_000_000,
			Time:       parent.Time + 12,
			Extra:      randomBytes(rng, rng.Intn(32)),
			MixDigest:  common.BytesToHash(randomBytes(rng, common.HashLength)),
			Nonce:      types.EncodeNonce(rng.Uint64()),
		}

		txs := rng.Intn(opts.MaxTxs + 1)
		body := Body{Transactions: make([]rlp.RawValue, txs)}
		receipts := make(Receipts, txs)
		var gas uint64
		for j := 0; j < txs; j++ {
			body.Transactions[j] = randomItem(rng, 100+rng.Intn(200))
			receipts[j] = randomItem(rng, 40+rng.Intn(80))
			gas += 21_000
		}
		header.GasUsed = gas

		block := AssembleBlock(header, body, receipts)
		if err := c.InsertBlock(block, receipts); err != nil {
			return err
		}
		if opts.EpochInterval > 0 && block.Number()%opts.EpochInterval == 0 {
			t := EpochTransition{BlockNumber: block.Number(), BlockHash: block.Hash(), Proof: randomProof(rng)}
			if err := c.InsertEpochTransition(t); err != nil {
				return err
			}
		}
		parent = block.Header
	}
	return nil
}

// randomProof encodes a non-empty validator list.
func randomProof(rng *rand.Rand) []byte {
	validators := make([]common.Address, 1+rng.Intn(4))
	for i := range validators {
		validators[i] = common.BytesToAddress(randomBytes(rng, common.AddressLength))
		validators[i][0] |= 1
	}
	enc, err := rlp.EncodeToBytes(validators)
	if err != nil {
		panic(err)
	}
	return enc
}

func randomItem(rng *rand.Rand, n int) rlp.RawValue {
	enc, err := rlp.EncodeToBytes(randomBytes(rng, n))
	if err != nil {
		panic(err)
	}
	return enc
}

func randomBytes(rng *rand.Rand, n int) []byte {
	b := make([]byte, n)
	rng.Read(b)
	return b
}
