package api

import (
	"net/http"

	"github.com/ledgerwatch/snapshotter/api/internal"
)

type healthJSON struct {
	Status   string `json:"status"`
	Snapshot bool   `json:"snapshot"`
}

func HealthCheckHandler(snapshots Snapshots) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		internal.EncodeJSON(w, r, healthJSON{Status: "running", Snapshot: snapshots.Manifest() != nil})
	})
}
