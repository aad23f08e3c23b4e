package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kalambet/ragchat/internal/embedding"
	"github.com/kalambet/ragchat/internal/extract"
	"github.com/kalambet/ragchat/internal/relay"
	"github.com/kalambet/ragchat/internal/storage"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// writeError maps domain errors onto HTTP statuses and the JSON error
// envelope.
func writeError(w http.ResponseWriter, err error) {
	var embedUp *embedding.UpstreamError
	var relayUp *relay.UpstreamError

	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, storage.ErrUnauthorized):
		httpError(w, http.StatusForbidden, "unauthorized", "%v", err)
	case errors.Is(err, extract.ErrUnsupportedType):
		httpError(w, http.StatusUnsupportedMediaType, "unsupported_file_type", "%v", err)
	case errors.As(err, &embedUp), errors.As(err, &relayUp):
		httpError(w, http.StatusBadGateway, "upstream_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}
