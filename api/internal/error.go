package internal

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ledgerwatch/snapshotter"
)

type Error struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
	Method  string `json:"method"`
	URI     string `json:"uri"`
}

func marshalError(r *http.Request, err error) Error {
	var code int
	switch {
	case snapshotter.IsNotFoundErr(err):
		code = http.StatusNotFound
	case snapshotter.IsBadRequestErr(err), snapshotter.IsFormatErr(err):
		code = http.StatusBadRequest
	case snapshotter.IsVerificationErr(err):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, snapshotter.ErrSnapshotsUnsupported):
		code = http.StatusNotImplemented
	case errors.Is(err, snapshotter.ErrSnapshotInProgress):
		code = http.StatusConflict
	default:
		code = http.StatusInternalServerError
	}

	return Error{
		Code:    code,
		Message: err.Error(),
		Method:  r.Method,
		URI:     r.URL.Path,
	}
}

func EncodeError(w http.ResponseWriter, r *http.Request, err error) {
	w.Header().Set("Content-Type", "application/json")
	encodedError := marshalError(r, err)
	w.WriteHeader(encodedError.Code)

	_ = json.NewEncoder(w).Encode(encodedError)
}

func EncodeJSON(w http.ResponseWriter, r *http.Request, v any) {
	jsonData, err := json.Marshal(v)
	if err != nil {
		EncodeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(jsonData)
}
