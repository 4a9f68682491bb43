// Package build implements the Builder component: it turns a project's
// bare repository checkout into a runnable container image using a
// Cloud Native Buildpacks builder, via the external "pack" CLI.
package build

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/jordanhubbard/portway/internal/apierr"
	"github.com/jordanhubbard/portway/internal/buildqueue"
)

const (
	// DefaultTimeout bounds a single buildpack invocation.
	DefaultTimeout = 10 * time.Minute
)

// Builder invokes the buildpack tool against a checked-out worktree and
// returns the built image reference and the captured build log. It does
// not decide whether the project needs a database; the Deployer reads
// that from the built image's label.
type Builder struct {
	packPath   string
	builderImg string
	timeout    time.Duration
	// checkout materializes the commit to build into a filesystem
	// directory the buildpack tool can read; it is the seam between
	// RepoStore and Builder.
	checkout func(ctx context.Context, req buildqueue.BuildRequest) (dir string, cleanup func(), err error)
}

// New creates a Builder that shells out to packPath (typically "pack")
// using builderImg as the Cloud Native Buildpacks builder image.
func New(packPath, builderImg string, timeout time.Duration, checkout func(ctx context.Context, req buildqueue.BuildRequest) (string, func(), error)) *Builder {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Builder{packPath: packPath, builderImg: builderImg, timeout: timeout, checkout: checkout}
}

// BuildImage satisfies buildqueue.Builder. It checks out the requested
// commit, runs `pack build <image> --builder <builderImg> --path <dir>`,
// and returns the resulting image reference along with the combined
// build log.
func (b *Builder) BuildImage(ctx context.Context, req buildqueue.BuildRequest) (string, string, error) {
	dir, cleanup, err := b.checkout(ctx, req)
	if err != nil {
		return "", "", apierr.Wrap(apierr.Build, "failed to check out commit for build", err)
	}
	defer cleanup()

	imageRef := fmt.Sprintf("portway/%s-%s:%s", req.OwnerName, req.ProjectName, shortSHA(req.CommitSHA))

	timeoutCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cmd := exec.CommandContext(timeoutCtx, b.packPath, "build", imageRef,
		"--builder", b.builderImg, "--path", dir, "--trust-builder")
	cmd.Env = os.Environ()

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	runErr := cmd.Run()
	log := out.String()

	if timeoutCtx.Err() == context.DeadlineExceeded {
		return "", log, apierr.New(apierr.Build, "build timed out")
	}
	if runErr != nil {
		return "", log, apierr.WithLog("buildpack detection or compilation failed", log)
	}

	return imageRef, log, nil
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	if sha == "" {
		return "latest"
	}
	return sha
}
