package internal

type VersionsJSON struct {
	Min uint64 `json:"min"`
	Max uint64 `json:"max"`
}

type CompletedJSON struct {
	Active bool     `json:"active"`
	Chunks []string `json:"chunks"`
}

type ManifestJSON struct {
	Version     uint64   `json:"version"`
	Hash        string   `json:"hash"`
	BlockNumber uint64   `json:"block_number"`
	BlockHash   string   `json:"block_hash"`
	StateRoot   string   `json:"state_root"`
	StateChunks []string `json:"state_chunks"`
	BlockChunks []string `json:"block_chunks"`
}
