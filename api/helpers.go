package api

import (
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/ledgerwatch/erigon/common"
	"github.com/pkg/errors"

	"github.com/ledgerwatch/snapshotter"
)

const chunkHash = "hash"

func retrieveHashFromURL(r *http.Request) (common.Hash, error) {
	param := strings.TrimPrefix(chi.URLParam(r, chunkHash), "0x")
	b, err := hex.DecodeString(param)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, snapshotter.BadRequest(errors.Errorf("invalid chunk hash %q", param))
	}
	return common.BytesToHash(b), nil
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		return nil, snapshotter.BadRequest(errors.Wrap(err, "read body"))
	}
	return b, nil
}

func hexHashes(hashes []common.Hash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.Hex()
	}
	return out
}
