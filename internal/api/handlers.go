package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/jordanhubbard/queryforge/internal/correction"
	"github.com/jordanhubbard/queryforge/internal/database"
	"github.com/jordanhubbard/queryforge/internal/orchestrator"
	"github.com/jordanhubbard/queryforge/internal/session"
	"github.com/jordanhubbard/queryforge/pkg/models"
)

type submitRequest struct {
	Query string `json:"query"`
}

type correctionRequest struct {
	// Structured corrections use the typed fields; free text goes in
	// "text" and is parsed.
	correction.Structured
}

// handleSubmit handles POST /api/v1/queries
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req submitRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	outcome, err := s.orch.Submit(r.Context(), req.Query)
	if err != nil {
		s.respondOrchestratorError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, outcome)
}

// handleSessions handles GET /api/v1/sessions
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	state := models.State(r.URL.Query().Get("state"))
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	sessions, err := s.sessions.List(r.Context(), state, limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, sessions)
}

// handleSession handles GET/DELETE /api/v1/sessions/{id} and
// POST /api/v1/sessions/{id}/corrections
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := s.extractID(r.URL.Path, "/api/v1/sessions")
	if id == "" {
		s.respondError(w, http.StatusBadRequest, "Session id required")
		return
	}

	if strings.HasSuffix(r.URL.Path, "/corrections") {
		s.handleCorrection(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		sess, err := s.sessions.Load(r.Context(), id)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				s.respondError(w, http.StatusNotFound, "Session not found")
				return
			}
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, sess)

	case http.MethodDelete:
		if err := s.sessions.Delete(r.Context(), id); err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleCorrection resumes a parked session with a user correction.
func (s *Server) handleCorrection(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req correctionRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	corr, err := correction.ParseStructured(req.Structured)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, rerr := s.orch.Resume(r.Context(), id, &corr)
	if rerr != nil {
		s.respondOrchestratorError(w, rerr)
		return
	}
	s.respondJSON(w, http.StatusOK, outcome)
}

// handleLessons handles GET /api/v1/lessons
func (s *Server) handleLessons(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.respondJSON(w, http.StatusOK, []*models.Lesson{})
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	lessons, err := s.db.ListLessons(limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, lessons)
}

// handleLesson handles GET/DELETE /api/v1/lessons/{id}
func (s *Server) handleLesson(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		s.respondError(w, http.StatusNotFound, "Lesson not found")
		return
	}
	id := s.extractID(r.URL.Path, "/api/v1/lessons")

	switch r.Method {
	case http.MethodGet:
		lesson, err := s.db.GetLesson(id)
		if err != nil {
			if errors.Is(err, database.ErrLessonNotFound) {
				s.respondError(w, http.StatusNotFound, "Lesson not found")
				return
			}
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, lesson)

	case http.MethodDelete:
		if err := s.db.DeleteLesson(id); err != nil {
			if errors.Is(err, database.ErrLessonNotFound) {
				s.respondError(w, http.StatusNotFound, "Lesson not found")
				return
			}
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// respondOrchestratorError maps pipeline errors onto HTTP statuses.
func (s *Server) respondOrchestratorError(w http.ResponseWriter, err error) {
	var validation *orchestrator.ValidationError
	if errors.As(err, &validation) {
		s.respondError(w, http.StatusBadRequest, validation.Error())
		return
	}
	var cerr *correction.ErrInvalid
	if errors.As(err, &cerr) {
		s.respondError(w, http.StatusBadRequest, cerr.Error())
		return
	}
	if errors.Is(err, session.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "Session not found")
		return
	}
	var schemaErr *orchestrator.SchemaError
	if errors.As(err, &schemaErr) {
		s.respondError(w, http.StatusUnprocessableEntity, schemaErr.Error())
		return
	}
	s.respondError(w, http.StatusInternalServerError, err.Error())
}
