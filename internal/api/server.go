// Package api exposes the study tracker over HTTP: a WebSocket per live
// session, a workbook export and the template catalogue.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/p-n-ai/study-tracker/internal/curriculum"
	"github.com/p-n-ai/study-tracker/internal/docstore"
	"github.com/p-n-ai/study-tracker/internal/identity"
	"github.com/p-n-ai/study-tracker/internal/session"
)

var errUnauthenticated = errors.New("missing or invalid token")

// Config holds dependencies for a Server.
type Config struct {
	Store          docstore.Store
	Namespace      string
	AppID          string
	WriteTimeout   time.Duration
	Events         session.EventLogger
	Verifier       *identity.Verifier
	AllowAnonymous bool
	Templates      *curriculum.Loader // optional
}

// Server serves the HTTP endpoints.
type Server struct {
	cfg Config
}

// NewServer creates a Server.
func NewServer(cfg Config) *Server {
	if cfg.Events == nil {
		cfg.Events = session.NopEventLogger{}
	}
	return &Server{cfg: cfg}
}

// Register adds the API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /export.xlsx", s.handleExport)
	mux.HandleFunc("GET /templates", s.handleTemplates)
	mux.HandleFunc("GET /templates/{id}/notes", s.handleTemplateNotes)
	mux.HandleFunc("POST /token/anonymous", s.handleAnonymousToken)
}

func (s *Server) newController() *session.Controller {
	return session.NewController(session.Config{
		Store:        s.cfg.Store,
		Namespace:    s.cfg.Namespace,
		AppID:        s.cfg.AppID,
		WriteTimeout: s.cfg.WriteTimeout,
		Events:       s.cfg.Events,
	})
}

// authenticate resolves the caller from an Authorization bearer header or a
// token query parameter. Without a token the caller gets a fresh anonymous
// identity when anonymous is true.
func (s *Server) authenticate(r *http.Request, anonymous bool) (identity.Identity, error) {
	token := bearerToken(r)
	if token == "" {
		if anonymous && s.cfg.AllowAnonymous {
			return identity.Anonymous(), nil
		}
		return identity.Identity{}, errUnauthenticated
	}
	if s.cfg.Verifier == nil {
		return identity.Identity{}, errUnauthenticated
	}
	id, err := s.cfg.Verifier.Verify(token)
	if err != nil {
		slog.Debug("token rejected", "error", err)
		return identity.Identity{}, errUnauthenticated
	}
	return id, nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
	}
	return r.URL.Query().Get("token")
}

type templateSummary struct {
	ID       string `json:"id"`
	Subject  string `json:"subject"`
	Syllabus string `json:"syllabus,omitempty"`
	Chapters int    `json:"chapters"`
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	out := []templateSummary{}
	if s.cfg.Templates != nil {
		for _, t := range s.cfg.Templates.AllTemplates() {
			out = append(out, templateSummary{
				ID:       t.ID,
				Subject:  t.Subject,
				Syllabus: t.Syllabus,
				Chapters: len(t.Chapters),
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": out})
}

func (s *Server) handleTemplateNotes(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Templates == nil {
		http.NotFound(w, r)
		return
	}
	notes, ok := s.cfg.Templates.GetNotes(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(notes))
}

func (s *Server) handleAnonymousToken(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.AllowAnonymous || s.cfg.Verifier == nil {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "anonymous access is disabled"})
		return
	}
	id := identity.Anonymous()
	token, err := s.cfg.Verifier.Issue(id)
	if err != nil {
		slog.Error("failed to issue token", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not issue token"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "identity": id})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}
