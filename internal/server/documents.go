package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
	"github.com/54b3r/docrag-go/internal/store"
)

// errHistoryDisabled is returned by the history endpoints when the server
// runs without a conversation store.
var errHistoryDisabled = errors.New("conversation history is disabled")

// resolveDocument validates that raw is an absolute path and, when root is
// set, that it stays inside root after cleaning both. This prevents path
// traversal (e.g. "/docs/../etc/passwd").
func resolveDocument(root, raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("path is required: %w", rag.ErrInvalidInput)
	}
	if !filepath.IsAbs(raw) {
		return "", fmt.Errorf("path must be absolute: %w", rag.ErrInvalidInput)
	}
	target := filepath.Clean(raw)
	if root == "" {
		return target, nil
	}
	root = filepath.Clean(root)
	if !strings.HasPrefix(target+string(filepath.Separator), root+string(filepath.Separator)) {
		return "", fmt.Errorf("path is outside the document root: %w", rag.ErrInvalidInput)
	}
	return target, nil
}

// handleIngest handles POST /api/ingest. The document is read from the
// server's filesystem and ingested synchronously.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, fmt.Errorf("invalid request body: %w", rag.ErrInvalidInput))
		return
	}
	path, err := resolveDocument(s.cfg.DocumentRoot, req.Path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.IngestTimeout)
	defer cancel()

	res, err := s.ingester.Ingest(ctx, path, req.Collection)
	s.observeIngest(res, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("ingested",
		slog.String("collection", res.Collection),
		slog.Bool("skipped", res.Skipped),
		slog.Int("units", res.Total),
	)
	status := http.StatusCreated
	if res.Skipped {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// handleListCollections handles GET /api/collections.
func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	infos, err := s.collections.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if infos == nil {
		infos = []rag.CollectionInfo{}
	}
	writeJSON(w, http.StatusOK, collectionsResponse{Collections: infos})
}

// handleDeleteCollection handles DELETE /api/collections/{name}. The
// collection's conversation history is cleared with it.
func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.collections.Delete(r.Context(), name); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := deleteResponse{Name: name}
	if s.history != nil {
		n, err := s.history.Clear(r.Context(), name)
		if err != nil {
			logging.FromContext(r.Context()).Warn("history not cleared",
				slog.String("collection", name), slog.Any("error", err))
		}
		resp.Deleted = n
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleExportHistory handles GET /api/history/{collection} and returns the
// conversation in the same JSON format the CLI exports.
func (s *Server) handleExportHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, r, errHistoryDisabled)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := store.Export(r.Context(), s.history, r.PathValue("collection"), w); err != nil {
		s.writeError(w, r, err)
	}
}

// handleImportHistory handles POST /api/history/{collection}. The body
// replaces the stored conversation.
func (s *Server) handleImportHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, r, errHistoryDisabled)
		return
	}
	name := r.PathValue("collection")
	n, err := store.Import(r.Context(), s.history, name, r.Body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, importResponse{Name: name, Imported: n})
}

// handleClearHistory handles DELETE /api/history/{collection}.
func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, r, errHistoryDisabled)
		return
	}
	name := r.PathValue("collection")
	n, err := s.history.Clear(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Name: name, Deleted: n})
}
