package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"tablestore/internal/auth"
	"tablestore/internal/store"
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

// writeServiceError maps store and auth errors onto HTTP responses. Anything
// unrecognised is logged and reported as a bare internal error.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var rejected *store.RejectedError
	if errors.As(err, &rejected) {
		s.log.Warn(r.Context(), "storage rejected write",
			"path", r.URL.Path,
			"request_id", r.Header.Get(requestIDHeader),
			"detail", rejected.Detail,
		)
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit))
	case errors.Is(err, store.ErrInvalidTable):
		writeError(w, http.StatusBadRequest, "invalid_table", "unknown table")
	case errors.Is(err, store.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, "invalid_payload", err.Error())
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusBadRequest, "conflict", err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
	case errors.Is(err, auth.ErrTooManyAttempts):
		writeError(w, http.StatusTooManyRequests, "too_many_attempts", "too many login attempts, try again later")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "timeout", "request timed out")
	default:
		s.log.Error(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", r.Header.Get(requestIDHeader),
			"err", err,
		)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// decodeJSON reads a JSON object body into v.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", auth.ErrInvalidInput)
		}
		return fmt.Errorf("%w: invalid JSON", auth.ErrInvalidInput)
	}
	return nil
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(r.Body)
}
