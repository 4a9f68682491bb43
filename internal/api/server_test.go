package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jordanhubbard/portway/internal/auth"
	"github.com/jordanhubbard/portway/internal/containers"
	"github.com/jordanhubbard/portway/internal/database"
	"github.com/jordanhubbard/portway/internal/repostore"
	"github.com/jordanhubbard/portway/pkg/config"
)

func openTestDB(t *testing.T) *database.Database {
	t.Helper()
	dsn := os.Getenv("PORTWAY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PORTWAY_TEST_DATABASE_URL not set; skipping ControlAPI integration test")
	}
	db, err := database.Open(dsn, 5, 2, time.Minute)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestServer(t *testing.T, db *database.Database) (*Server, *containers.Fake) {
	t.Helper()
	store := repostore.New(t.TempDir())
	driver := containers.NewFake()
	cfg := config.DefaultConfig()
	cfg.Auth.Enabled = false
	authn := auth.New(db, false)
	return NewServer(db, store, driver, authn, cfg), driver
}

func TestHandleCreateProject(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH")
	}
	db := openTestDB(t)
	owner, err := db.CreateOwner("acme")
	if err != nil {
		t.Fatalf("CreateOwner: %v", err)
	}
	s, _ := newTestServer(t, db)

	body, _ := json.Marshal(createProjectRequest{Owner: owner.Name, Name: "api"})
	r := httptest.NewRequest(http.MethodPost, "/api/project", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.Mux().ServeHTTP(w, r)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp createProjectResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.GitUsername != owner.Name || resp.GitPassword == "" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHandleBadge_ReflectsLatestBuildStatus(t *testing.T) {
	db := openTestDB(t)
	owner, _ := db.CreateOwner("bobco")
	proj, _ := db.CreateProject(owner.Name, "web", nil)
	build, err := db.RecordBuildStart(proj.ID)
	if err != nil {
		t.Fatalf("RecordBuildStart: %v", err)
	}
	if err := db.RecordBuildTransition(build.ID, database.BuildBuilding, ""); err != nil {
		t.Fatalf("RecordBuildTransition: %v", err)
	}

	s, _ := newTestServer(t, db)
	r := httptest.NewRequest(http.MethodGet, "/api/project/"+owner.Name+"/web/badge/status", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("Building")) {
		t.Errorf("expected badge to show Building, got %s", w.Body.String())
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("#dfb317")) {
		t.Errorf("expected badge to use the yellow fill, got %s", w.Body.String())
	}
}

func TestHandleDeleteProject_TearsDownContainersAndRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH")
	}
	db := openTestDB(t)
	owner, _ := db.CreateOwner("carlco")
	_, err := db.CreateProject(owner.Name, "worker", nil)
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	s, _ := newTestServer(t, db)
	if err := s.store.Init(httptest.NewRequest(http.MethodGet, "/", nil).Context(), owner.Name, "worker"); err != nil {
		t.Fatalf("store.Init: %v", err)
	}

	r := httptest.NewRequest(http.MethodPost, "/api/project/"+owner.Name+"/worker/delete", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if s.store.Exists(owner.Name, "worker") {
		t.Error("expected repo to be deleted")
	}
	if _, err := db.FindProject(owner.Name, "worker"); err == nil {
		t.Error("expected project row to be deleted")
	}

	var resp struct {
		Status map[string]string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status["repo"] != "successfully deleted" {
		t.Errorf("repo status = %q, want %q", resp.Status["repo"], "successfully deleted")
	}
	if resp.Status["registry"] != "successfully deleted" {
		t.Errorf("registry status = %q, want %q", resp.Status["registry"], "successfully deleted")
	}
	// No app/db containers or volume/network were ever created for this
	// project, so the cascade must report them absent rather than ok.
	for _, key := range []string{"app_container", "db_container", "volume", "network"} {
		if resp.Status[key] != "does not exist" {
			t.Errorf("%s status = %q, want %q", key, resp.Status[key], "does not exist")
		}
	}
}
