package api

import "net/http"

// preferences is the per-project override surface recovered from
// original_source/projects/preferences.rs: the db_required boolean the
// operator can set instead of relying purely on buildpack inference.
type preferences struct {
	DBRequired *bool `json:"db_required"`
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request, owner, project string) {
	proj, err := s.registry.FindProject(owner, project)
	if err != nil {
		s.respondAPIErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, preferences{DBRequired: proj.DBRequired})
}

func (s *Server) handleSetPreferences(w http.ResponseWriter, r *http.Request, owner, project string) {
	proj, err := s.registry.FindProject(owner, project)
	if err != nil {
		s.respondAPIErr(w, err)
		return
	}
	var prefs preferences
	if err := s.parseJSON(r, &prefs); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid preferences body")
		return
	}
	if err := s.registry.SetDBRequired(proj.ID, prefs.DBRequired); err != nil {
		s.respondAPIErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, prefs)
}
