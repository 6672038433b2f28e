package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ledgerwatch/erigon/common"

	"github.com/ledgerwatch/snapshotter/api/internal"
	"github.com/ledgerwatch/snapshotter/pkg/snapshot"
)

var _ http.Handler = &RestoreHandler{}

// Restorer accepts a snapshot from peers.
type Restorer interface {
	Status() snapshot.RestorationStatus
	CompletedChunks() ([]common.Hash, bool)
	BeginRestore(m *snapshot.ManifestData)
	FeedStateChunk(hash common.Hash, chunk []byte) error
	FeedBlockChunk(hash common.Hash, chunk []byte) error
	AbortRestore()
}

type RestoreHandler struct {
	chi.Router
	restorer    Restorer
	maxBodySize int64
}

func (h *RestoreHandler) Status(w http.ResponseWriter, r *http.Request) {
	internal.EncodeJSON(w, r, h.restorer.Status())
}

func (h *RestoreHandler) Completed(w http.ResponseWriter, r *http.Request) {
	chunks, active := h.restorer.CompletedChunks()
	internal.EncodeJSON(w, r, internal.CompletedJSON{Active: active, Chunks: hexHashes(chunks)})
}

// Begin starts restoring the RLP manifest in the request body.
func (h *RestoreHandler) Begin(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, h.maxBodySize)
	if err != nil {
		internal.EncodeError(w, r, err)
		return
	}
	m, err := snapshot.ManifestFromBytes(body)
	if err != nil {
		internal.EncodeError(w, r, err)
		return
	}
	h.restorer.BeginRestore(m)
	w.WriteHeader(http.StatusAccepted)
}

func (h *RestoreHandler) StateChunk(w http.ResponseWriter, r *http.Request) {
	h.feed(w, r, h.restorer.FeedStateChunk)
}

func (h *RestoreHandler) BlockChunk(w http.ResponseWriter, r *http.Request) {
	h.feed(w, r, h.restorer.FeedBlockChunk)
}

func (h *RestoreHandler) feed(w http.ResponseWriter, r *http.Request, feed func(common.Hash, []byte) error) {
	hash, err := retrieveHashFromURL(r)
	if err != nil {
		internal.EncodeError(w, r, err)
		return
	}
	body, err := readBody(w, r, h.maxBodySize)
	if err != nil {
		internal.EncodeError(w, r, err)
		return
	}
	if err := feed(hash, body); err != nil {
		internal.EncodeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RestoreHandler) Abort(w http.ResponseWriter, r *http.Request) {
	h.restorer.AbortRestore()
	w.WriteHeader(http.StatusNoContent)
}

func NewRestoreHandler(restorer Restorer, maxBodySize int64) *RestoreHandler {
	r := &RestoreHandler{
		Router:      chi.NewRouter(),
		restorer:    restorer,
		maxBodySize: maxBodySize,
	}

	r.Get("/status", r.Status)
	r.Get("/completed", r.Completed)
	r.Post("/", r.Begin)
	r.Post("/state/{hash}", r.StateChunk)
	r.Post("/blocks/{hash}", r.BlockChunk)
	r.Post("/abort", r.Abort)

	return r
}
