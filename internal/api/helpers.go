package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/leapdao/acebusters-backend/internal/metrics"
	"github.com/leapdao/acebusters-backend/internal/models"
	"github.com/leapdao/acebusters-backend/internal/oracle"
)

const maxBodyBytes = 64 << 10

// statusFor maps a rejection kind to its HTTP status
func statusFor(kind oracle.Kind) int {
	switch kind {
	case oracle.KindBadRequest:
		return http.StatusBadRequest
	case oracle.KindUnauthorized:
		return http.StatusUnauthorized
	case oracle.KindForbidden:
		return http.StatusForbidden
	case oracle.KindNotFound:
		return http.StatusNotFound
	case oracle.KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// decodeBody reads a JSON request body into v
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// uintParam parses a numeric path parameter
func uintParam(r *http.Request, name string) (uint64, error) {
	raw := chi.URLParam(r, name)
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return v, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

// sendError sends a JSON error response
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, models.ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
		Code:    code,
	})
}

// sendOracleError maps domain rejections to their status and hides infrastructure errors
func (s *Server) sendOracleError(w http.ResponseWriter, r *http.Request, err error) {
	var rejection *oracle.Error
	if errors.As(err, &rejection) {
		metrics.ActionsRejected.WithLabelValues(rejection.Kind.String()).Inc()
		slog.Debug("Request rejected", "path", r.URL.Path, "reason", err)
		s.sendError(w, err.Error(), statusFor(rejection.Kind))
		return
	}

	metrics.ErrorsTotal.WithLabelValues("api").Inc()
	slog.Error("Request failed", "path", r.URL.Path, "error", err)
	s.sendError(w, "Internal server error", http.StatusInternalServerError)
}
