// Package api exposes the engine over HTTP: the document websocket and a
// small JSON surface for documents, versions, collaborators and presence.
package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"collabtext/internal/auth"
	"collabtext/internal/presence"
	"collabtext/internal/session"
	"collabtext/internal/store"
)

// MaxMessageSize bounds one inbound websocket frame.
const MaxMessageSize = 1 << 20

type Config struct {
	Engine   *session.Engine
	Store    store.Store
	Presence presence.Tracker
	Auth     *auth.Authenticator
	Logger   zerolog.Logger
}

type Server struct {
	engine   *session.Engine
	store    store.Store
	presence presence.Tracker
	auth     *auth.Authenticator
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func New(cfg Config) *Server {
	return &Server{
		engine:   cfg.Engine,
		store:    cfg.Store,
		presence: cfg.Presence,
		auth:     cfg.Auth,
		log:      cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router returns the HTTP routes. Everything except /healthz requires a
// token.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	ws := r.PathPrefix("/ws").Subrouter()
	ws.Use(s.auth.Middleware)
	ws.HandleFunc("/document/{docID}/", s.handleConnections)
	ws.HandleFunc("/document/{docID}", s.handleConnections)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.auth.Middleware)
	api.HandleFunc("/documents", s.handleListDocuments).Methods(http.MethodGet)
	api.HandleFunc("/documents", s.handleCreateDocument).Methods(http.MethodPost)
	api.HandleFunc("/documents/{docID}", s.handleGetDocument).Methods(http.MethodGet)
	api.HandleFunc("/documents/{docID}/versions", s.handleListVersions).Methods(http.MethodGet)
	api.HandleFunc("/documents/{docID}/save-version", s.handleSaveVersion).Methods(http.MethodPost)
	api.HandleFunc("/documents/{docID}/presence", s.handlePresence).Methods(http.MethodGet)
	api.HandleFunc("/documents/{docID}/collaborators", s.handleAddCollaborator).Methods(http.MethodPost)
	api.HandleFunc("/documents/{docID}/collaborators/{userID}", s.handleRemoveCollaborator).Methods(http.MethodDelete)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": len(s.engine.Connections()),
	})
}

// handleConnections upgrades the request and hands the socket to the engine
// for the rest of its life.
func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	docID := store.DocumentID(mux.Vars(r)["docID"])
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("doc_id", string(docID)).Msg("websocket upgrade failed")
		return
	}
	ws.SetReadLimit(MaxMessageSize)

	err = s.engine.Serve(r.Context(), ws, user, docID)
	switch {
	case errors.Is(err, session.ErrAccessDenied):
		s.log.Info().Str("doc_id", string(docID)).Int64("user_id", int64(user.ID)).Msg("connection rejected")
	case err != nil:
		s.log.Error().Err(err).Str("doc_id", string(docID)).Msg("connection ended with error")
	}
}
