package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"vpnpanel/internal/cert"
	"vpnpanel/internal/certid"
	"vpnpanel/internal/store"
)

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, msg string) {
	var res errorResponse
	res.Error.Code = code
	res.Error.Message = msg
	writeJSON(w, status, res)
}

// writeServiceError maps sentinel errors from the store and the certificate
// service to HTTP statuses. Anything unrecognized is a 500.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cert.ErrInvalidFormat):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, certid.ErrExhausted):
		writeError(w, http.StatusServiceUnavailable, "id_exhausted", "could not allocate a certificate identifier")
	case errors.Is(err, cert.ErrGenerationFailed):
		writeError(w, http.StatusBadGateway, "generation_failed", "certificate signing operation failed")
	case errors.Is(err, store.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "storage temporarily unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}
