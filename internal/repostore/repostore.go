// Package repostore implements the RepoStore component: it owns the
// bare git repositories that back each project's git-push deploy
// workflow, and the worktree checkouts the Builder needs to run a
// buildpack against a specific commit.
package repostore

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"

	"github.com/jordanhubbard/portway/internal/apierr"
)

var nameSegmentPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// ownerSegmentPattern allows the dots an owner name may carry, but
// requires at least one letter or digit so "." and ".." are rejected.
var ownerSegmentPattern = regexp.MustCompile(`^[A-Za-z0-9.]*[A-Za-z0-9][A-Za-z0-9.]*$`)

// Store roots every bare repository under baseDir/<owner>/<project>.git.
type Store struct {
	baseDir string
}

// New creates a Store rooted at baseDir, which must already exist.
func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// Path returns the filesystem path of a project's bare repository,
// without checking that it exists.
func (s *Store) Path(ownerName, projectName string) string {
	return filepath.Join(s.baseDir, ownerName, projectName+".git")
}

// Init creates a bare repository for a project if one doesn't already
// exist. Idempotent: calling it twice for the same project is not an
// error (mirrors the cascade-delete idempotency policy elsewhere in
// this core).
func (s *Store) Init(ctx context.Context, ownerName, projectName string) error {
	if !ownerSegmentPattern.MatchString(ownerName) || !nameSegmentPattern.MatchString(projectName) {
		return apierr.New(apierr.Validation, "owner name must match [A-Za-z0-9.]+ and project name [A-Za-z0-9]+")
	}

	path := s.Path(ownerName, projectName)
	if s.Exists(ownerName, projectName) {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apierr.Wrap(apierr.Internal, "failed to create owner directory", err)
	}

	cmd := exec.CommandContext(ctx, "git", "init", "--bare", "--initial-branch=master", path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return apierr.Wrap(apierr.Internal, fmt.Sprintf("git init --bare failed: %s", out), err)
	}
	return nil
}

// Exists reports whether a project's bare repository is present.
func (s *Store) Exists(ownerName, projectName string) bool {
	info, err := os.Stat(s.Path(ownerName, projectName))
	return err == nil && info.IsDir()
}

// Delete removes a project's bare repository from disk. Idempotent.
func (s *Store) Delete(ownerName, projectName string) error {
	if err := os.RemoveAll(s.Path(ownerName, projectName)); err != nil {
		return apierr.Wrap(apierr.Internal, "failed to delete repository", err)
	}
	return nil
}

// HeadCommit returns the commit SHA that the project's default branch
// currently points at. Used by GitGateway immediately after a push to
// learn what to hand the BuildQueue.
func (s *Store) HeadCommit(ctx context.Context, ownerName, projectName string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", s.Path(ownerName, projectName), "rev-parse", "master")
	out, err := cmd.Output()
	if err != nil {
		return "", apierr.Wrap(apierr.Internal, "failed to resolve HEAD commit", err)
	}
	return trimNewline(out), nil
}

// Checkout materializes commitSHA into a fresh temporary worktree
// directory and returns it along with a cleanup func that removes it.
// This is the seam the Builder uses to get buildpack-readable source
// from a bare repository, since `pack build` needs a working tree, not
// a .git directory.
func (s *Store) Checkout(ctx context.Context, ownerName, projectName, commitSHA string) (string, func(), error) {
	repoPath := s.Path(ownerName, projectName)
	dir, err := os.MkdirTemp("", "portway-checkout-*")
	if err != nil {
		return "", nil, apierr.Wrap(apierr.Internal, "failed to create checkout directory", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	cloneCmd := exec.CommandContext(ctx, "git", "clone", "--quiet", repoPath, dir)
	if out, err := cloneCmd.CombinedOutput(); err != nil {
		cleanup()
		return "", nil, apierr.Wrap(apierr.Internal, fmt.Sprintf("git clone failed: %s", out), err)
	}

	ref := commitSHA
	if ref == "" {
		ref = "master"
	}
	checkoutCmd := exec.CommandContext(ctx, "git", "-C", dir, "checkout", "--quiet", ref)
	if out, err := checkoutCmd.CombinedOutput(); err != nil {
		cleanup()
		return "", nil, apierr.Wrap(apierr.Internal, fmt.Sprintf("git checkout %s failed: %s", ref, out), err)
	}

	return dir, cleanup, nil
}

func trimNewline(b []byte) string {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return string(b)
}
