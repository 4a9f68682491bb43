package auth

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jordanhubbard/portway/internal/database"
)

func openTestDB(t *testing.T) *database.Database {
	t.Helper()
	dsn := os.Getenv("PORTWAY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PORTWAY_TEST_DATABASE_URL not set; skipping auth integration test")
	}
	db, err := database.Open(dsn, 5, 2, time.Minute)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAuthenticator_Disabled(t *testing.T) {
	a := New(nil, false)
	r := httptest.NewRequest("GET", "/", nil)
	p, err := a.Authenticate(r)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.Username != "local" {
		t.Errorf("username = %q, want local", p.Username)
	}
}

func TestAuthenticator_RejectsMissingCredentials(t *testing.T) {
	db := openTestDB(t)
	a := New(db, true)
	r := httptest.NewRequest("GET", "/", nil)
	if _, err := a.Authenticate(r); err == nil {
		t.Fatal("expected an error with no credentials")
	}
}

func TestRegisterAndAuthenticate(t *testing.T) {
	db := openTestDB(t)

	if _, err := Register(db, "alice", "s3cr3t", "Alice"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	a := New(db, true)
	r := httptest.NewRequest("GET", "/", nil)
	r.SetBasicAuth("alice", "s3cr3t")

	p, err := a.Authenticate(r)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.Username != "alice" {
		t.Errorf("username = %q, want alice", p.Username)
	}

	if !RequireMembership(db, p, "alice") {
		t.Error("expected alice to be a member of her own owner")
	}
}

func TestMiddleware_RejectsWithoutCredentials(t *testing.T) {
	db := openTestDB(t)
	a := New(db, true)

	handler := a.Middleware(func(w http.ResponseWriter, r *http.Request, p *Principal) {
		w.WriteHeader(http.StatusOK)
	})

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}
