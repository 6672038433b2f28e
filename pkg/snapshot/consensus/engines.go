package consensus

import (
	"github.com/ledgerwatch/erigon/common"
	"github.com/ledgerwatch/erigon/core/types"
	"github.com/ledgerwatch/erigon/rlp"
	"github.com/pkg/errors"
)

const maxExtraDataSize = 32

// Ethash checks the structural header rules of a proof-of-work chain. Seal
// verification stays with the node.
type Ethash struct{}

func (Ethash) SnapshotMode() Family {
	return FamilyProofOfWork
}

func (Ethash) VerifyHeader(header *types.Header) error {
	switch {
	case header.Number == nil:
		return errors.New("header without number")
	case header.Difficulty == nil || header.Difficulty.Sign() <= 0:
		return errors.Errorf("block %d: non-positive difficulty", header.Number)
	case len(header.Extra) > maxExtraDataSize:
		return errors.Errorf("block %d: extra data of %d bytes", header.Number, len(header.Extra))
	case header.GasUsed > header.GasLimit:
		return errors.Errorf("block %d: gas used %d above limit %d", header.Number, header.GasUsed, header.GasLimit)
	}
	return nil
}

func (Ethash) VerifyEpochTransition(*types.Header, []byte) error {
	return nil
}

// Authority checks validator set proofs of an authority round chain. A proof
// is the RLP list of the validators taking over at the transition.
type Authority struct{}

func (Authority) SnapshotMode() Family {
	return FamilyAuthority
}

func (Authority) VerifyHeader(header *types.Header) error {
	if header.Number == nil {
		return errors.New("header without number")
	}
	if header.GasUsed > header.GasLimit {
		return errors.Errorf("block %d: gas used %d above limit %d", header.Number, header.GasUsed, header.GasLimit)
	}
	return nil
}

func (Authority) VerifyEpochTransition(header *types.Header, proof []byte) error {
	var validators []common.Address
	if err := rlp.DecodeBytes(proof, &validators); err != nil {
		return errors.Wrapf(err, "block %d: decode validator set", header.Number)
	}
	if len(validators) == 0 {
		return errors.Errorf("block %d: empty validator set", header.Number)
	}
	seen := make(map[common.Address]struct{}, len(validators))
	for _, v := range validators {
		if v == (common.Address{}) {
			return errors.Errorf("block %d: zero validator address", header.Number)
		}
		if _, ok := seen[v]; ok {
			return errors.Errorf("block %d: duplicate validator %x", header.Number, v)
		}
		seen[v] = struct{}{}
	}
	return nil
}

// Null accepts everything; used for development chains.
type Null struct {
	Family Family
}

func (n Null) SnapshotMode() Family { return n.Family }
func (Null) VerifyHeader(*types.Header) error { return nil }
func (Null) VerifyEpochTransition(*types.Header, []byte) error { return nil }

// EngineByName maps the CLI engine names.
func EngineByName(name string) (Engine, error) {
	switch name {
	case "ethash", "pow":
		return Ethash{}, nil
	case "authority", "aura", "poa":
		return Authority{}, nil
	case "null":
		return Null{Family: FamilyProofOfWork}, nil
	default:
		return nil, errors.Errorf("unknown consensus engine %q", name)
	}
}
