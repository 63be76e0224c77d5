package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
)

// statusFor maps an error onto an HTTP status code by its rag error kind.
func statusFor(err error) int {
	if errors.Is(err, errHistoryDisabled) {
		return http.StatusNotImplemented
	}
	switch rag.Kind(err) {
	case rag.ErrInvalidInput:
		return http.StatusBadRequest
	case rag.ErrCollectionNotFound:
		return http.StatusNotFound
	case rag.ErrCollectionExists, rag.ErrEmbeddingModelMismatch:
		return http.StatusConflict
	case rag.ErrExtraction:
		return http.StatusUnprocessableEntity
	case rag.ErrEmbedding, rag.ErrLanguageModel, rag.ErrGeneration:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err and writes it as a JSON errorResponse.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}
	if k := rag.Kind(err); k != nil {
		resp.Kind = k.Error()
	}
	log := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", slog.Int("status", status), slog.Any("error", err))
	} else {
		log.Warn("request rejected", slog.Int("status", status), slog.Any("error", err))
	}
	writeJSON(w, status, resp)
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
