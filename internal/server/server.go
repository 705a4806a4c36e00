package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"notebookai/internal/chat"
	"notebookai/internal/notebook"
	"notebookai/internal/registry"
	"notebookai/internal/transform"
	"notebookai/internal/util"
	"notebookai/pkg/ai"
	"notebookai/pkg/domain"
	"notebookai/pkg/extract"
	"notebookai/pkg/store"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	Notebooks *notebook.Service
	Registry  *registry.Registry
	Executor  *transform.Executor
	Chat      *chat.Orchestrator
	// MaxBodyBytes bounds JSON request bodies. Zero means 1 MiB.
	MaxBodyBytes int64
}

// Server exposes the HTTP API: notebooks, sources and their transformations,
// notes, tasks, and grounded chat.
type Server struct {
	notebooks    *notebook.Service
	registry     *registry.Registry
	executor     *transform.Executor
	chat         *chat.Orchestrator
	mux          *http.ServeMux
	maxBodyBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.Notebooks == nil || cfg.Registry == nil || cfg.Executor == nil || cfg.Chat == nil {
		return nil, errors.New("server: all services are required")
	}
	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	s := &Server{
		notebooks:    cfg.Notebooks,
		registry:     cfg.Registry,
		executor:     cfg.Executor,
		chat:         cfg.Chat,
		mux:          http.NewServeMux(),
		maxBodyBytes: maxBodyBytes,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("notebook", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/transformations", s.handleTransformations)

	s.mux.HandleFunc("/notebooks", s.handleNotebooks)
	s.mux.HandleFunc("/notebooks/", s.handleNotebookByID)

	s.mux.HandleFunc("/sources/", s.handleSourceByID)
	s.mux.HandleFunc("/notes/", s.handleNoteByID)
	s.mux.HandleFunc("/tasks/", s.handleTaskByID)
	s.mux.HandleFunc("/sessions/", s.handleSessionByID)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /transformations lists the catalog.
func (s *Server) handleTransformations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	specs := s.executor.Catalog().List()
	type entry struct {
		Name         string `json:"name"`
		Title        string `json:"title"`
		Description  string `json:"description"`
		List         bool   `json:"list"`
		ApplyDefault bool   `json:"applyDefault"`
	}
	items := make([]entry, 0, len(specs))
	for _, spec := range specs {
		items = append(items, entry{
			Name:         spec.Name,
			Title:        spec.Title,
			Description:  spec.Description,
			List:         spec.List,
			ApplyDefault: spec.ApplyDefault,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (s *Server) handleNotebooks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if !s.decode(w, r, &req) {
			return
		}
		nb, err := s.notebooks.CreateNotebook(req.Name, req.Description)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, nb)
	case http.MethodGet:
		nbs, err := s.notebooks.ListNotebooks()
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": nbs, "count": len(nbs)})
	default:
		methodNotAllowed(w)
	}
}

// /notebooks/{id} plus the sources/notes/tasks/sessions subresources.
func (s *Server) handleNotebookByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/notebooks/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "sources":
			s.handleNotebookSources(w, r, id)
		case "notes":
			s.handleNotebookNotes(w, r, id)
		case "tasks":
			s.handleNotebookTasks(w, r, id)
		case "sessions":
			s.handleNotebookSessions(w, r, id)
		default:
			notFound(w, "not found")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		nb, err := s.notebooks.GetNotebook(id)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, nb)
	case http.MethodPatch:
		var req struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if !s.decode(w, r, &req) {
			return
		}
		nb, err := s.notebooks.UpdateNotebook(id, req.Name, req.Description)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, nb)
	case http.MethodDelete:
		if err := s.notebooks.DeleteNotebook(id); err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleNotebookSources(w http.ResponseWriter, r *http.Request, notebookID string) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Origin domain.Origin `json:"origin"`
			Title  string        `json:"title"`
		}
		if !s.decode(w, r, &req) {
			return
		}
		src, err := s.registry.Register(r.Context(), notebookID, req.Origin, req.Title)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, src)
	case http.MethodGet:
		srcs, err := s.registry.List(notebookID)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": srcs, "count": len(srcs)})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleNotebookNotes(w http.ResponseWriter, r *http.Request, notebookID string) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Title   string `json:"title"`
			Content string `json:"content"`
		}
		if !s.decode(w, r, &req) {
			return
		}
		note, err := s.notebooks.CreateNote(notebookID, req.Title, req.Content)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, note)
	case http.MethodGet:
		notes, err := s.notebooks.ListNotes(notebookID)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": notes, "count": len(notes)})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleNotebookTasks(w http.ResponseWriter, r *http.Request, notebookID string) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Description string `json:"description"`
		}
		if !s.decode(w, r, &req) {
			return
		}
		task, err := s.notebooks.CreateTask(notebookID, req.Description)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, task)
	case http.MethodGet:
		tasks, err := s.notebooks.ListTasks(notebookID)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": tasks, "count": len(tasks)})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleNotebookSessions(w http.ResponseWriter, r *http.Request, notebookID string) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Title string `json:"title"`
		}
		if !s.decode(w, r, &req) {
			return
		}
		session, err := s.chat.CreateSession(r.Context(), notebookID, req.Title)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, session)
	case http.MethodGet:
		sessions, err := s.chat.ListSessions(notebookID)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": sessions, "count": len(sessions)})
	default:
		methodNotAllowed(w)
	}
}

// /sources/{id}, /sources/{id}/retry, /sources/{id}/transformations
func (s *Server) handleSourceByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/sources/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "retry":
			if r.Method != http.MethodPost {
				methodNotAllowed(w)
				return
			}
			src, err := s.registry.Retry(r.Context(), id)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusAccepted, src)
		case "transformations":
			s.handleRunTransformation(w, r, id)
		default:
			notFound(w, "not found")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		src, err := s.registry.Get(id)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, src)
	case http.MethodPatch:
		var req struct {
			Title string `json:"title"`
		}
		if !s.decode(w, r, &req) {
			return
		}
		src, err := s.registry.UpdateTitle(id, req.Title)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, src)
	case http.MethodDelete:
		if err := s.registry.Delete(r.Context(), id); err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleRunTransformation(w http.ResponseWriter, r *http.Request, sourceID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Name   string            `json:"name"`
		Params map[string]string `json:"params"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	artifact, err := s.executor.Run(r.Context(), sourceID, req.Name, req.Params)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, artifact)
}

func (s *Server) handleNoteByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/notes/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		note, err := s.notebooks.GetNote(id)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, note)
	case http.MethodPatch:
		var req struct {
			Title   string `json:"title"`
			Content string `json:"content"`
		}
		if !s.decode(w, r, &req) {
			return
		}
		note, err := s.notebooks.UpdateNote(id, req.Title, req.Content)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, note)
	case http.MethodDelete:
		if err := s.notebooks.DeleteNote(id); err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/tasks/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	switch r.Method {
	case http.MethodPatch:
		var req struct {
			Description string `json:"description"`
			Status      string `json:"status"`
		}
		if !s.decode(w, r, &req) {
			return
		}
		task, err := s.notebooks.UpdateTask(id, req.Description, domain.TaskStatus(req.Status))
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, task)
	case http.MethodDelete:
		if err := s.notebooks.DeleteTask(id); err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

// /sessions/{id} and /sessions/{id}/messages
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/sessions/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		if parts[1] != "messages" {
			notFound(w, "not found")
			return
		}
		s.handleSessionMessages(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodPatch:
		var req struct {
			Title string `json:"title"`
		}
		if !s.decode(w, r, &req) {
			return
		}
		session, err := s.chat.RenameSession(id, req.Title)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	case http.MethodDelete:
		if err := s.chat.DeleteSession(id); err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request, sessionID string) {
	switch r.Method {
	case http.MethodGet:
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}
		msgs, err := s.chat.ListMessages(sessionID, limit)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": msgs, "count": len(msgs)})
	case http.MethodPost:
		var req struct {
			Content string `json:"content"`
		}
		if !s.decode(w, r, &req) {
			return
		}
		userMsg, assistantMsg, err := s.chat.PostMessage(r.Context(), sessionID, req.Content)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user":      userMsg,
			"assistant": assistantMsg,
		})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, s.maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeDomainError maps service errors onto HTTP statuses: missing entities
// to 404, state conflicts to 409, bad requests to 400, permanent pipeline
// failures to 422, exhausted transient failures to 502.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, chat.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, transform.ErrUnknownTransformation),
		errors.Is(err, notebook.ErrInvalidInput),
		errors.Is(err, registry.ErrInvalidOrigin),
		errors.Is(err, chat.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, registry.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		var extErr *extract.Error
		if errors.As(err, &extErr) {
			if extErr.Permanent {
				writeError(w, http.StatusUnprocessableEntity, err.Error())
			} else {
				writeError(w, http.StatusBadGateway, err.Error())
			}
			return
		}
		var genErr *ai.GenerationError
		if errors.As(err, &genErr) {
			if genErr.Transient {
				writeError(w, http.StatusBadGateway, err.Error())
			} else {
				writeError(w, http.StatusUnprocessableEntity, err.Error())
			}
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCode(status),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "STATE_CONFLICT"
	case http.StatusUnprocessableEntity:
		return "PIPELINE_PERMANENT_FAILURE"
	case http.StatusBadGateway:
		return "UPSTREAM_UNAVAILABLE"
	case http.StatusServiceUnavailable:
		return "SHUTTING_DOWN"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
