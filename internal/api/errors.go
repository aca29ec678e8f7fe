// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ManuGH/mre/internal/log"
	"github.com/ManuGH/mre/internal/pipeline/lifecycle"
	"github.com/ManuGH/mre/internal/pipeline/model"
	"github.com/ManuGH/mre/internal/pipeline/replay"
	"github.com/ManuGH/mre/internal/pipeline/store"
)

const maxBodyBytes = 4 << 20

var errBadBody = errors.New("malformed request body")

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, kind := classify(err)
	if code >= http.StatusInternalServerError {
		log.FromContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, code, ErrorResponse{
		Error:     kind,
		Detail:    err.Error(),
		RequestID: log.RequestIDFromContext(r.Context()),
	})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errBadBody),
		errors.Is(err, lifecycle.ErrInvalidEvent),
		errors.Is(err, replay.ErrInvalidRequest),
		errors.Is(err, model.ErrInvalidChunk),
		errors.Is(err, model.ErrMalformedResult):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, model.ErrMissingConfig):
		return http.StatusUnprocessableEntity, "missing_configuration"
	case errors.Is(err, lifecycle.ErrEventNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, lifecycle.ErrEventComplete), errors.Is(err, store.ErrConditionFailed):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// decodeJSON reads one JSON object from the request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadBody, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data", errBadBody)
	}
	return nil
}
