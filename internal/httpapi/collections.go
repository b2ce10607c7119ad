package httpapi

import (
	"fmt"
	"net/http"

	"tablestore/internal/model"
	"tablestore/internal/store"
)

func (s *Server) tableFromPath(w http.ResponseWriter, r *http.Request) (model.Table, bool) {
	t, ok := s.tables.Lookup(r.PathValue("table"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_table", "unknown table")
		return "", false
	}
	return t, true
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tableFromPath(w, r)
	if !ok {
		return
	}

	docs, err := s.store.ListDocuments(r.Context(), t)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if docs == nil {
		docs = []model.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

// handleReplaceDocuments swaps the table's contents for the posted array.
func (s *Server) handleReplaceDocuments(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tableFromPath(w, r)
	if !ok {
		return
	}

	raw, err := readBody(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	docs, err := store.DecodeDocuments(raw)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	n, err := s.store.ReplaceDocuments(r.Context(), t, docs)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.bus.Publish(string(t), OpReplace, "")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": n})
}

func (s *Server) handleUpsertDocument(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tableFromPath(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	raw, err := readBody(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	doc, err := store.DecodeDocument(raw)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if doc.ID != id {
		s.writeServiceError(w, r, fmt.Errorf("%w: body id %q does not match path id %q", store.ErrInvalidPayload, doc.ID, id))
		return
	}

	if err := s.store.UpsertDocument(r.Context(), t, doc); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.bus.Publish(string(t), OpUpsert, id)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tableFromPath(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	if err := s.store.DeleteDocument(r.Context(), t, id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.bus.Publish(string(t), OpDelete, id)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id})
}
