package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"collabtext/internal/access"
	"collabtext/internal/auth"
	"collabtext/internal/protocol"
	"collabtext/internal/store"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// loadDocument fetches the {docID} document and checks the caller may see
// it. It writes the error response itself and returns false on failure.
func (s *Server) loadDocument(w http.ResponseWriter, r *http.Request, ownerOnly bool) (store.Document, store.User, bool) {
	user, _ := auth.UserFromContext(r.Context())
	doc, err := s.store.GetDocument(r.Context(), store.DocumentID(mux.Vars(r)["docID"]))
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "document not found")
		return store.Document{}, user, false
	}
	if err != nil {
		s.log.Error().Err(err).Msg("load document")
		respondError(w, http.StatusInternalServerError, "internal error")
		return store.Document{}, user, false
	}
	allowed := access.Allowed(doc, user)
	if ownerOnly {
		allowed = access.IsOwner(doc, user)
	}
	if !allowed {
		respondError(w, http.StatusForbidden, "You do not have permission to access this document.")
		return store.Document{}, user, false
	}
	return doc, user, true
}

type createDocumentRequest struct {
	Title    string `json:"title"`
	IsPublic bool   `json:"is_public"`
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	var req createDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if req.Title == "" {
		req.Title = "Untitled Document"
	}
	doc, err := s.store.CreateDocument(r.Context(), store.Document{
		Title:    req.Title,
		Owner:    user,
		IsPublic: req.IsPublic,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("create document")
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusCreated, doc)
}

// handleListDocuments lists what the caller owns, collaborates on or can
// read because it is public.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	docs, err := s.store.ListDocuments(r.Context(), user.ID)
	if err != nil {
		s.log.Error().Err(err).Msg("list documents")
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if docs == nil {
		docs = []store.Document{}
	}
	respondJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, _, ok := s.loadDocument(w, r, false)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	doc, _, ok := s.loadDocument(w, r, false)
	if !ok {
		return
	}
	versions, err := s.store.ListVersions(r.Context(), doc.ID)
	if err != nil {
		s.log.Error().Err(err).Msg("list versions")
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if versions == nil {
		versions = []store.Version{}
	}
	respondJSON(w, http.StatusOK, versions)
}

type saveVersionRequest struct {
	Content string `json:"content"`
}

// handleSaveVersion writes content and records a version, numbered in the
// same sequence as saves made over the websocket.
func (s *Server) handleSaveVersion(w http.ResponseWriter, r *http.Request) {
	doc, user, ok := s.loadDocument(w, r, false)
	if !ok {
		return
	}
	var req saveVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	v, err := s.engine.SaveVersion(r.Context(), user, doc.ID, req.Content)
	if v.Number == 0 {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "document not found")
			return
		}
		s.log.Error().Err(err).Str("doc_id", string(doc.ID)).Msg("save version")
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Str("doc_id", string(doc.ID)).Msg("announce version")
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"version_number": v.Number,
		"timestamp":      protocol.FormatTimestamp(v.CreatedAt),
	})
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	doc, _, ok := s.loadDocument(w, r, false)
	if !ok {
		return
	}
	users, err := s.presence.List(r.Context(), doc.ID)
	if err != nil {
		s.log.Error().Err(err).Msg("list presence")
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"document_id":  doc.ID,
		"active_users": users,
	})
}

func (s *Server) handleAddCollaborator(w http.ResponseWriter, r *http.Request) {
	doc, _, ok := s.loadDocument(w, r, true)
	if !ok {
		return
	}
	var collaborator store.User
	if err := json.NewDecoder(r.Body).Decode(&collaborator); err != nil || collaborator.ID == 0 {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if err := s.store.AddCollaborator(r.Context(), doc.ID, collaborator); err != nil {
		s.log.Error().Err(err).Msg("add collaborator")
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleRemoveCollaborator also drops the removed user's live connections,
// on every replica, unless the document is public.
func (s *Server) handleRemoveCollaborator(w http.ResponseWriter, r *http.Request) {
	doc, _, ok := s.loadDocument(w, r, true)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["userID"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	userID := store.UserID(id)
	if err := s.store.RemoveCollaborator(r.Context(), doc.ID, userID); err != nil {
		s.log.Error().Err(err).Msg("remove collaborator")
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	evicted := 0
	if !doc.IsPublic && userID != doc.Owner.ID {
		evicted, err = s.engine.Revoke(r.Context(), doc.ID, userID)
		if err != nil {
			s.log.Error().Err(err).Str("doc_id", string(doc.ID)).Msg("revoke access")
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "evicted": evicted})
}
