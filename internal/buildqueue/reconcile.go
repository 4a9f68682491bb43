package buildqueue

import (
	"context"
	"log"
	"time"

	"github.com/jordanhubbard/portway/internal/database"
)

// Reconciler catches the dangling BUILDING row a process leaves behind
// if it dies mid-build: nothing else ever moves that row to a terminal
// status, so without this it stays BUILDING forever (§4.5's
// abandoned-build edge case). The Queue's in-flight set lives in
// memory only, so such a row does not hold up new builds.
type Reconciler struct {
	registry *database.Database
	after    time.Duration
}

// NewReconciler builds a Reconciler that abandons BUILDING rows older
// than after.
func NewReconciler(registry *database.Database, after time.Duration) *Reconciler {
	return &Reconciler{registry: registry, after: after}
}

// Once runs a single reconciliation pass and returns how many builds it
// abandoned.
func (r *Reconciler) Once() (int64, error) {
	return r.registry.AbandonStaleBuilds(r.after)
}

// Run performs an immediate pass, then repeats every interval until ctx
// is canceled. Intended to run in its own goroutine for the lifetime of
// the process.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	r.runOnceAndLog()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnceAndLog()
		}
	}
}

func (r *Reconciler) runOnceAndLog() {
	n, err := r.Once()
	if err != nil {
		log.Printf("reconciler: pass failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("reconciler: abandoned %d stale build(s)", n)
	}
}
