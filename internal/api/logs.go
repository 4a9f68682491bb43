package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jordanhubbard/portway/internal/auth"
)

// handleServerLogs answers GET /api/logs: a thin query surface over
// the structured log manager (A2), filterable by level, source,
// project_id and build_id. Requires an authenticated principal but no
// particular membership, since logs span every owner's projects.
func (s *Server) handleServerLogs(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.logs == nil {
		s.respondError(w, http.StatusNotFound, "log manager not configured")
		return
	}

	q := r.URL.Query()
	limit := 100
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	entries, err := s.logs.Query(limit, q.Get("level"), q.Get("source"), q.Get("project_id"), q.Get("build_id"), time.Time{}, time.Time{})
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to query logs")
		return
	}
	s.respondJSON(w, http.StatusOK, entries)
}
