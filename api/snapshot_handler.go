package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ledgerwatch/erigon/common"
	"github.com/pkg/errors"

	"github.com/ledgerwatch/snapshotter"
	"github.com/ledgerwatch/snapshotter/api/internal"
	"github.com/ledgerwatch/snapshotter/pkg/snapshot"
)

var _ http.Handler = &SnapshotHandler{}

// Snapshots serves the node's current snapshot.
type Snapshots interface {
	Manifest() *snapshot.ManifestData
	Chunk(hash common.Hash) ([]byte, error)
	SupportedVersions() (minVersion, maxVersion uint64, ok bool)
}

type SnapshotHandler struct {
	chi.Router
	snapshots Snapshots
}

// Manifest returns the RLP manifest, or a JSON summary when asked for one.
func (h *SnapshotHandler) Manifest(w http.ResponseWriter, r *http.Request) {
	m := h.snapshots.Manifest()
	if m == nil {
		internal.EncodeError(w, r, snapshotter.NotFound(errors.New("no snapshot available")))
		return
	}

	if r.URL.Query().Get("format") == "json" {
		internal.EncodeJSON(w, r, internal.ManifestJSON{
			Version:     m.Version,
			Hash:        m.Hash().Hex(),
			BlockNumber: m.BlockNumber,
			BlockHash:   m.BlockHash.Hex(),
			StateRoot:   m.StateRoot.Hex(),
			StateChunks: hexHashes(m.StateHashes),
			BlockChunks: hexHashes(m.BlockHashes),
		})
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(m.Bytes())
}

func (h *SnapshotHandler) Chunk(w http.ResponseWriter, r *http.Request) {
	hash, err := retrieveHashFromURL(r)
	if err != nil {
		internal.EncodeError(w, r, err)
		return
	}
	chunk, err := h.snapshots.Chunk(hash)
	if err != nil {
		internal.EncodeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(chunk)
}

func (h *SnapshotHandler) Versions(w http.ResponseWriter, r *http.Request) {
	lo, hi, ok := h.snapshots.SupportedVersions()
	if !ok {
		internal.EncodeError(w, r, snapshotter.ErrSnapshotsUnsupported)
		return
	}
	internal.EncodeJSON(w, r, internal.VersionsJSON{Min: lo, Max: hi})
}

func NewSnapshotHandler(snapshots Snapshots) *SnapshotHandler {
	r := &SnapshotHandler{
		Router:    chi.NewRouter(),
		snapshots: snapshots,
	}

	r.Get("/manifest", r.Manifest)
	r.Get("/chunks/{hash}", r.Chunk)
	r.Get("/versions", r.Versions)

	return r
}
