package snapshot

import "fmt"

type StatusKind uint8

const (
	StatusInactive StatusKind = iota
	StatusInitializing
	StatusOngoing
	StatusFinalizing
	StatusFailed
)

func (k StatusKind) String() string {
	switch k {
	case StatusInactive:
		return "inactive"
	case StatusInitializing:
		return "initializing"
	case StatusOngoing:
		return "ongoing"
	case StatusFinalizing:
		return "finalizing"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

func (k StatusKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// RestorationStatus is a point in time view of a restoration. The chunk
// counts are only meaningful while initializing (ChunksDone) or ongoing
// (StateChunksDone, BlockChunksDone).
type RestorationStatus struct {
	Kind            StatusKind `json:"status"`
	StateChunks     uint32     `json:"stateChunks,omitempty"`
	BlockChunks     uint32     `json:"blockChunks,omitempty"`
	ChunksDone      uint32     `json:"chunksDone,omitempty"`
	StateChunksDone uint32     `json:"stateChunksDone,omitempty"`
	BlockChunksDone uint32     `json:"blockChunksDone,omitempty"`
}

func (s RestorationStatus) String() string {
	switch s.Kind {
	case StatusInitializing:
		return fmt.Sprintf("initializing (%d/%d chunks)", s.ChunksDone, s.StateChunks+s.BlockChunks)
	case StatusOngoing:
		return fmt.Sprintf("ongoing (state %d/%d, blocks %d/%d)", s.StateChunksDone, s.StateChunks, s.BlockChunksDone, s.BlockChunks)
	default:
		return s.Kind.String()
	}
}
