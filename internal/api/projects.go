package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/jordanhubbard/portway/internal/apierr"
	"github.com/jordanhubbard/portway/internal/auth"
	"github.com/jordanhubbard/portway/internal/deploy"
)

type createProjectRequest struct {
	Owner string         `json:"owner"`
	Name  string         `json:"name"`
	Env   map[string]any `json:"env"`
}

type createProjectResponse struct {
	ID          string `json:"id"`
	Owner       string `json:"owner"`
	Name        string `json:"name"`
	DomainURL   string `json:"domain_url"`
	GitUsername string `json:"git_username"`
	GitPassword string `json:"git_password"`
}

// handleCreateProject implements `POST /api/project`: creates the
// Registry row, the bare repo and an initial API token in one request,
// returning the git push credentials once (spec.md §4.9).
func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req createProjectRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !s.requireMembership(w, p, req.Owner) {
		return
	}

	// The Registry row and its initial token are written atomically
	// (spec.md §4.2): either both land or neither does, so a failure
	// partway through never leaves a project unreachable over git.
	proj, plaintext, err := s.registry.CreateProjectWithToken(req.Owner, req.Name, req.Env)
	if err != nil {
		s.respondAPIErr(w, err)
		return
	}

	// The bare repo lives on the filesystem, outside the Registry's
	// transaction. If it fails to initialize, the committed Registry
	// rows are compensated away rather than left as an orphan project
	// with no backing repo.
	if err := s.store.Init(r.Context(), req.Owner, req.Name); err != nil {
		if delErr := s.registry.DeleteProject(req.Owner, req.Name); delErr != nil {
			log.Printf("project create: failed to compensate project %s/%s after repo init failure: %v", req.Owner, req.Name, delErr)
		}
		s.respondAPIErr(w, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, createProjectResponse{
		ID:          proj.ID,
		Owner:       req.Owner,
		Name:        req.Name,
		DomainURL:   deployedURL(s.cfg.Domains.Base, s.cfg.Domains.Secure, req.Owner, req.Name),
		GitUsername: req.Owner,
		GitPassword: plaintext,
	})
}

func deployedURL(baseDomain string, secure bool, owner, project string) string {
	scheme := "http"
	if secure {
		scheme = "https"
	}
	names := deploy.DeriveNames(owner, project)
	return fmt.Sprintf("%s://%s.%s", scheme, names.Container, baseDomain)
}

// deleteStatus renders a teardown step's outcome using §7's literal
// aggregate-status vocabulary: "successfully deleted", "does not
// exist", or "failed to delete: <reason>" with a client-safe reason,
// never a raw error string.
func deleteStatus(err error) string {
	if err == nil {
		return "successfully deleted"
	}
	if apierr.KindOf(err) == apierr.NotFound {
		return "does not exist"
	}
	msg := err.Error()
	if e, ok := apierr.As(err); ok {
		msg = e.Message
	}
	return "failed to delete: " + msg
}

// teardownContainer stops then removes a container, returning the
// outcome of the removal. A stop against an already-absent container is
// not itself a failure; it's the subsequent remove call whose result
// (ok, NotFound, or a real failure) the caller reports.
func (s *Server) teardownContainer(ctx context.Context, name string) error {
	if err := s.driver.StopContainer(ctx, name); err != nil && apierr.KindOf(err) != apierr.NotFound {
		return err
	}
	return s.driver.RemoveContainer(ctx, name)
}

// handleDeleteProject implements `POST /api/project/:o/:p/delete`:
// cascade delete per §7's aggregate status map. Filesystem and
// container teardown are best-effort and recorded per-resource; the
// Registry row is only removed once those are attempted.
func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request, owner, project string) {
	proj, err := s.registry.FindProject(owner, project)
	if err != nil {
		s.respondAPIErr(w, err)
		return
	}

	status := map[string]string{}
	names := deploy.DeriveNames(owner, project)
	ctx := r.Context()

	status["app_container"] = deleteStatus(s.teardownContainer(ctx, names.Container))
	status["db_container"] = deleteStatus(s.teardownContainer(ctx, names.DB))
	status["volume"] = deleteStatus(s.driver.RemoveVolume(ctx, names.Volume))
	status["network"] = deleteStatus(s.driver.RemoveNetwork(ctx, names.Network))

	if s.store.Exists(owner, project) {
		status["repo"] = deleteStatus(s.store.Delete(owner, project))
	} else {
		status["repo"] = "does not exist"
	}

	if err := s.registry.DeleteProject(owner, project); err != nil {
		status["registry"] = deleteStatus(err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]any{"id": proj.ID, "status": status})
		return
	}
	status["registry"] = "successfully deleted"

	s.respondJSON(w, http.StatusOK, map[string]any{"id": proj.ID, "status": status})
}

func (s *Server) handleListBuilds(w http.ResponseWriter, r *http.Request, owner, project string) {
	proj, err := s.registry.FindProject(owner, project)
	if err != nil {
		s.respondAPIErr(w, err)
		return
	}
	builds, err := s.registry.ListBuilds(proj.ID)
	if err != nil {
		s.respondAPIErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, builds)
}

func (s *Server) handleGetBuild(w http.ResponseWriter, r *http.Request, owner, project, buildID string) {
	if _, err := s.registry.FindProject(owner, project); err != nil {
		s.respondAPIErr(w, err)
		return
	}
	build, err := s.registry.GetBuild(buildID)
	if err != nil {
		s.respondAPIErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, build)
}

const logTailLines = 100

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request, owner, project string) {
	names := deploy.DeriveNames(owner, project)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := s.driver.StreamLogs(r.Context(), names.Container, logTailLines, w, w); err != nil {
		s.respondAPIErr(w, err)
	}
}

func (s *Server) handleGetEnv(w http.ResponseWriter, r *http.Request, owner, project string) {
	proj, err := s.registry.FindProject(owner, project)
	if err != nil {
		s.respondAPIErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, proj.Env)
}

func (s *Server) handleReplaceEnv(w http.ResponseWriter, r *http.Request, owner, project string) {
	proj, err := s.registry.FindProject(owner, project)
	if err != nil {
		s.respondAPIErr(w, err)
		return
	}
	var env map[string]any
	if err := s.parseJSON(r, &env); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid env body")
		return
	}
	if err := s.registry.ReplaceEnv(proj.ID, env); err != nil {
		s.respondAPIErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, env)
}

func (s *Server) handleDeleteEnvKey(w http.ResponseWriter, r *http.Request, owner, project string) {
	proj, err := s.registry.FindProject(owner, project)
	if err != nil {
		s.respondAPIErr(w, err)
		return
	}
	var body struct {
		Key string `json:"key"`
	}
	if err := s.parseJSON(r, &body); err != nil || body.Key == "" {
		s.respondError(w, http.StatusBadRequest, "key is required")
		return
	}
	if err := s.registry.DeleteEnvKey(proj.ID, body.Key); err != nil {
		s.respondAPIErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleVolumeReset implements `POST /api/project/:o/:p/volume/delete`:
// stop DB, remove volume, recreate volume, restart DB (spec.md §4.9).
func (s *Server) handleVolumeReset(w http.ResponseWriter, r *http.Request, owner, project string) {
	names := deploy.DeriveNames(owner, project)
	ctx := r.Context()

	if err := s.driver.StopContainer(ctx, names.DB); err != nil && apierr.KindOf(err) != apierr.NotFound {
		s.respondAPIErr(w, apierr.Wrap(apierr.Dependency, "failed to stop database container", err))
		return
	}
	if err := s.driver.RemoveVolume(ctx, names.Volume); err != nil && apierr.KindOf(err) != apierr.NotFound {
		s.respondAPIErr(w, apierr.Wrap(apierr.Dependency, "failed to remove volume", err))
		return
	}
	if _, err := s.driver.EnsureVolume(ctx, names.Volume); err != nil {
		s.respondAPIErr(w, apierr.Wrap(apierr.Dependency, "failed to recreate volume", err))
		return
	}
	if err := s.driver.StartContainer(ctx, names.DB); err != nil {
		s.respondAPIErr(w, apierr.Wrap(apierr.Dependency, "failed to restart database container", err))
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request, owner, project string) {
	names := deploy.DeriveNames(owner, project)
	s.bridge.Serve(w, r, names.Container)
}
