// Package api implements ControlAPI: the JSON endpoints for project
// lifecycle (create, delete, env, logs, build detail, volume reset,
// status badge, preferences).
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jordanhubbard/portway/internal/apierr"
	"github.com/jordanhubbard/portway/internal/auth"
	"github.com/jordanhubbard/portway/internal/containers"
	"github.com/jordanhubbard/portway/internal/database"
	"github.com/jordanhubbard/portway/internal/deploy"
	"github.com/jordanhubbard/portway/internal/execbridge"
	"github.com/jordanhubbard/portway/internal/logging"
	"github.com/jordanhubbard/portway/internal/metrics"
	"github.com/jordanhubbard/portway/internal/repostore"
	"github.com/jordanhubbard/portway/pkg/config"
)

// Server wires the Registry and every core component behind the
// project-lifecycle JSON API.
type Server struct {
	registry *database.Database
	store    *repostore.Store
	driver   containers.Driver
	bridge   *execbridge.Bridge
	authn    *auth.Authenticator
	cfg      *config.Config
	metrics  *metrics.Metrics
	logs     *logging.Manager
}

// SetLogManager attaches a logging.Manager the /api/logs endpoint
// reads from. Optional; without one, /api/logs responds 404.
func (s *Server) SetLogManager(m *logging.Manager) {
	s.logs = m
}

// SetMetrics attaches a Metrics instance the server reports request
// counts and latency to. Optional.
func (s *Server) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// NewServer builds a Server over the core's already-constructed
// components; it owns none of their lifecycles.
func NewServer(registry *database.Database, store *repostore.Store, driver containers.Driver, authn *auth.Authenticator, cfg *config.Config) *Server {
	return &Server{
		registry: registry,
		store:    store,
		driver:   driver,
		bridge:   execbridge.New(driver),
		authn:    authn,
		cfg:      cfg,
	}
}

// Mux builds the *http.ServeMux this Server answers on. The caller
// wraps it with whatever process-wide middleware it wants (otelhttp,
// request logging); ControlAPI itself only owns auth and routing.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/api/project", s.authn.Middleware(s.handleCreateProject))
	mux.HandleFunc("/api/project/", s.authn.Middleware(s.handleProjectSubresource))
	mux.HandleFunc("/api/logs", s.authn.Middleware(s.handleServerLogs))

	if s.metrics == nil {
		return mux
	}

	instrumented := http.NewServeMux()
	instrumented.Handle("/", s.withRequestMetrics(mux))
	return instrumented
}

// withRequestMetrics records a request count and latency per
// method/path/status once a Metrics instance has been attached.
func (s *Server) withRequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(rec.status), time.Since(started).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// handleProjectSubresource dispatches every `/api/project/:o/:p/...`
// route. net/http's ServeMux has no path-parameter support (matching
// the teacher's own stdlib-only routing), so owner/project/action are
// split out by hand, the same way the teacher's extractID does for a
// single trailing ID segment.
func (s *Server) handleProjectSubresource(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/project/")
	rest = strings.TrimSuffix(rest, "/")
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 2 {
		s.respondError(w, http.StatusNotFound, "not found")
		return
	}
	owner, project := parts[0], parts[1]
	action := ""
	if len(parts) == 3 {
		action = parts[2]
	}

	// Badge is deliberately unauthenticated: it's meant to be embedded
	// in a README, not fetched behind credentials.
	if action == "badge/status" && r.Method == http.MethodGet {
		s.handleBadge(w, r, owner, project)
		return
	}

	if !s.requireMembership(w, p, owner) {
		return
	}

	switch {
	case action == "delete" && r.Method == http.MethodPost:
		s.handleDeleteProject(w, r, owner, project)
	case action == "builds" && r.Method == http.MethodGet:
		s.handleListBuilds(w, r, owner, project)
	case strings.HasPrefix(action, "builds/") && r.Method == http.MethodGet:
		s.handleGetBuild(w, r, owner, project, strings.TrimPrefix(action, "builds/"))
	case action == "logs" && r.Method == http.MethodGet:
		s.handleLogs(w, r, owner, project)
	case action == "env" && r.Method == http.MethodGet:
		s.handleGetEnv(w, r, owner, project)
	case action == "env" && r.Method == http.MethodPost:
		s.handleReplaceEnv(w, r, owner, project)
	case action == "env/delete" && r.Method == http.MethodPost:
		s.handleDeleteEnvKey(w, r, owner, project)
	case action == "volume/delete" && r.Method == http.MethodPost:
		s.handleVolumeReset(w, r, owner, project)
	case action == "preferences" && r.Method == http.MethodGet:
		s.handleGetPreferences(w, r, owner, project)
	case action == "preferences" && r.Method == http.MethodPost:
		s.handleSetPreferences(w, r, owner, project)
	case action == "exec" && r.Method == http.MethodGet:
		s.handleExec(w, r, owner, project)
	default:
		s.respondError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) requireMembership(w http.ResponseWriter, p *auth.Principal, ownerName string) bool {
	if !s.cfg.Auth.Enabled {
		return true
	}
	if !auth.RequireMembership(s.registry, p, ownerName) {
		s.respondError(w, http.StatusUnauthorized, "not a member of this owner")
		return false
	}
	return true
}

// respondJSON writes a JSON response, matching the teacher's
// respondJSON/respondError/parseJSON helper trio exactly.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
	w.Write([]byte("\n"))
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) parseJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// respondAPIErr maps an apierr.Kind to its HTTP status per §7's
// boundary policy and writes {message, error_type}.
func (s *Server) respondAPIErr(w http.ResponseWriter, err error) {
	e, ok := apierr.As(err)
	kind := apierr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case apierr.Validation:
		status = http.StatusBadRequest
	case apierr.NotFound:
		status = http.StatusNotFound
	case apierr.Conflict:
		status = http.StatusConflict
	case apierr.Unauthorized:
		status = http.StatusUnauthorized
	case apierr.Dependency, apierr.Build:
		status = http.StatusBadGateway
	}
	message := err.Error()
	if ok {
		message = e.Message
	}
	s.respondJSON(w, status, map[string]string{"message": message, "error_type": string(kind)})
}
