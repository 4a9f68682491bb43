package repostore

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func skipIfNoGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH")
	}
}

func TestInitAndExists(t *testing.T) {
	skipIfNoGit(t)
	base := t.TempDir()
	s := New(base)
	ctx := context.Background()

	if s.Exists("acme", "api") {
		t.Fatal("repo should not exist before Init")
	}
	if err := s.Init(ctx, "acme", "api"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !s.Exists("acme", "api") {
		t.Fatal("repo should exist after Init")
	}
	// Idempotent.
	if err := s.Init(ctx, "acme", "api"); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func TestInit_RejectsBadNames(t *testing.T) {
	s := New(t.TempDir())
	if err := s.Init(context.Background(), "acme/../etc", "api"); err == nil {
		t.Fatal("expected validation error for a path-traversal owner name")
	}
}

func TestDelete(t *testing.T) {
	skipIfNoGit(t)
	base := t.TempDir()
	s := New(base)
	ctx := context.Background()

	if err := s.Init(ctx, "acme", "api"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := s.Delete("acme", "api"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.Exists("acme", "api") {
		t.Fatal("repo should not exist after Delete")
	}
	// Idempotent.
	if err := s.Delete("acme", "api"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestHeadCommitAndCheckout(t *testing.T) {
	skipIfNoGit(t)
	base := t.TempDir()
	s := New(base)
	ctx := context.Background()

	if err := s.Init(ctx, "acme", "api"); err != nil {
		t.Fatalf("Init: %v", err)
	}

	// Push a commit into the bare repo via a throwaway clone.
	work := t.TempDir()
	run(t, work, "git", "clone", "--quiet", s.Path("acme", "api"), ".")
	if err := os.WriteFile(filepath.Join(work, "Procfile"), []byte("web: echo hi\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	run(t, work, "git", "-c", "user.email=test@portway.local", "-c", "user.name=test", "add", "Procfile")
	run(t, work, "git", "-c", "user.email=test@portway.local", "-c", "user.name=test", "commit", "-m", "initial")
	run(t, work, "git", "push", "--quiet", "origin", "master")

	sha, err := s.HeadCommit(ctx, "acme", "api")
	if err != nil {
		t.Fatalf("HeadCommit: %v", err)
	}
	if sha == "" {
		t.Fatal("expected a non-empty commit SHA")
	}

	dir, cleanup, err := s.Checkout(ctx, "acme", "api", sha)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	defer cleanup()
	if _, err := os.Stat(filepath.Join(dir, "Procfile")); err != nil {
		t.Errorf("expected Procfile in checkout: %v", err)
	}
}

func run(t *testing.T, dir string, name string, args ...string) {
	t.Helper()
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("%s %v: %v\n%s", name, args, err, out)
	}
}
