package gitgateway

import (
	"context"
	"net/http/httptest"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jordanhubbard/portway/internal/buildqueue"
	"github.com/jordanhubbard/portway/internal/cache"
	"github.com/jordanhubbard/portway/internal/database"
	"github.com/jordanhubbard/portway/internal/repostore"
)

func TestPktLine(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"# service=git-upload-pack\n", "001e# service=git-upload-pack\n"},
		{"", "0004"},
	}
	for _, tt := range tests {
		if got := pktLine(tt.in); got != tt.want {
			t.Errorf("pktLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRoutePattern(t *testing.T) {
	m := routePattern.FindStringSubmatch("/acme/api/info/refs")
	if m == nil {
		t.Fatal("expected a match")
	}
	if m[1] != "acme" || m[2] != "api" || m[3] != "info/refs" {
		t.Errorf("got owner=%q project=%q rest=%q", m[1], m[2], m[3])
	}
}

func TestIsDumbRoute(t *testing.T) {
	tests := []struct {
		rest string
		want bool
	}{
		{"HEAD", true},
		{"objects/pack/pack-abc.pack", true},
		{"objects/ab/cdef0123", true},
		{"info/refs", false},
		{"git-upload-pack", false},
	}
	for _, tt := range tests {
		if got := isDumbRoute(tt.rest); got != tt.want {
			t.Errorf("isDumbRoute(%q) = %v, want %v", tt.rest, got, tt.want)
		}
	}
}

func openTestDB(t *testing.T) *database.Database {
	t.Helper()
	dsn := os.Getenv("PORTWAY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PORTWAY_TEST_DATABASE_URL not set; skipping GitGateway integration test")
	}
	db, err := database.Open(dsn, 5, 2, time.Minute)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestReceivePackRequiresAuth(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH")
	}
	db := openTestDB(t)
	owner, _ := db.CreateOwner("acme")
	_, _ = db.CreateProject(owner.Name, "api", nil)

	store := repostore.New(t.TempDir())
	if err := store.Init(context.Background(), owner.Name, "api"); err != nil {
		t.Fatalf("Init: %v", err)
	}

	q := buildqueue.New(db, nil, nil, nil, 1)
	gw := New(store, db, cache.NewLookups(db, nil), q, 0, true)

	req := httptest.NewRequest("POST", "/acme/api/git-receive-pack", nil)
	w := httptest.NewRecorder()
	gw.serviceRPC(w, req, "acme", "api", "receive-pack", true)

	if w.Code != 401 {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if w.Header().Get("WWW-Authenticate") == "" {
		t.Error("expected WWW-Authenticate header on 401")
	}
}
