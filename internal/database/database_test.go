package database

import (
	"os"
	"testing"
	"time"
)

func TestRebind(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"no placeholders", "SELECT 1", "SELECT 1"},
		{"single placeholder", "SELECT * FROM owners WHERE name = ?", "SELECT * FROM owners WHERE name = $1"},
		{"multiple placeholders", "UPDATE projects SET env = ? WHERE id = ?", "UPDATE projects SET env = $1 WHERE id = $2"},
		{"placeholder in string literal still rebound", "SELECT '?'", "SELECT '$1'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rebind(tt.query); got != tt.want {
				t.Errorf("rebind(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}

// openTestDB connects to a real PostgreSQL instance configured via
// PORTWAY_TEST_DATABASE_URL, skipping the test when it isn't set. The
// Registry is exercised against a real driver elsewhere in this package's
// test suite; in-memory fakes are reserved for the BuildQueue and
// ContainerDriver per the polymorphism note in the design notes.
func openTestDB(t *testing.T) *Database {
	t.Helper()
	dsn := os.Getenv("PORTWAY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PORTWAY_TEST_DATABASE_URL not set; skipping Registry integration test")
	}
	db, err := Open(dsn, 5, 2, time.Minute)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateAndFindProject(t *testing.T) {
	db := openTestDB(t)

	owner, err := db.CreateOwner("acme")
	if err != nil {
		t.Fatalf("CreateOwner: %v", err)
	}

	proj, err := db.CreateProject(owner.Name, "api", map[string]any{"PORT": "8080"})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	found, err := db.FindProject(owner.Name, "api")
	if err != nil {
		t.Fatalf("FindProject: %v", err)
	}
	if found.ID != proj.ID {
		t.Errorf("FindProject returned %q, want %q", found.ID, proj.ID)
	}
	if found.Env["PORT"] != "8080" {
		t.Errorf("env PORT = %v, want 8080", found.Env["PORT"])
	}
}

func TestVerifyToken(t *testing.T) {
	db := openTestDB(t)

	owner, _ := db.CreateOwner("bobco")
	proj, _ := db.CreateProject(owner.Name, "web", nil)

	if _, err := db.InsertToken(proj.ID, "s3cr3t"); err != nil {
		t.Fatalf("InsertToken: %v", err)
	}

	ok, err := db.VerifyToken(proj.ID, "s3cr3t")
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if !ok {
		t.Error("expected correct token to verify")
	}

	ok, err = db.VerifyToken(proj.ID, "wrong")
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if ok {
		t.Error("expected wrong token to fail verification")
	}
}

func TestBuildLifecycle(t *testing.T) {
	db := openTestDB(t)

	owner, _ := db.CreateOwner("carlco")
	proj, _ := db.CreateProject(owner.Name, "worker", nil)

	build, err := db.RecordBuildStart(proj.ID)
	if err != nil {
		t.Fatalf("RecordBuildStart: %v", err)
	}
	if build.Status != BuildPending {
		t.Errorf("initial status = %q, want PENDING", build.Status)
	}

	if err := db.RecordBuildTransition(build.ID, BuildBuilding, "starting build\n"); err != nil {
		t.Fatalf("RecordBuildTransition(BUILDING): %v", err)
	}
	if err := db.RecordBuildTransition(build.ID, BuildSuccessful, "build complete\n"); err != nil {
		t.Fatalf("RecordBuildTransition(SUCCESSFUL): %v", err)
	}

	latest, err := db.LatestBuild(proj.ID)
	if err != nil {
		t.Fatalf("LatestBuild: %v", err)
	}
	if latest.Status != BuildSuccessful {
		t.Errorf("final status = %q, want SUCCESSFUL", latest.Status)
	}
	if latest.FinishedAt == nil {
		t.Error("expected finished_at to be set on a terminal transition")
	}
}

func TestAbandonStaleBuilds(t *testing.T) {
	db := openTestDB(t)

	owner, _ := db.CreateOwner("dellco")
	proj, _ := db.CreateProject(owner.Name, "svc", nil)
	build, _ := db.RecordBuildStart(proj.ID)
	if err := db.RecordBuildTransition(build.ID, BuildBuilding, ""); err != nil {
		t.Fatalf("RecordBuildTransition: %v", err)
	}

	n, err := db.AbandonStaleBuilds(0) // everything BUILDING is "older" than now
	if err != nil {
		t.Fatalf("AbandonStaleBuilds: %v", err)
	}
	if n == 0 {
		t.Error("expected at least one build to be abandoned")
	}

	got, err := db.GetBuild(build.ID)
	if err != nil {
		t.Fatalf("GetBuild: %v", err)
	}
	if got.Status != BuildFailed {
		t.Errorf("status after reconcile = %q, want FAILED", got.Status)
	}
}
