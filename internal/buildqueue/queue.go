// Package buildqueue implements the bounded, deduplicating build queue
// (BuildQueue) that sits between GitGateway push events and the Builder
// and Deployer components. A single Queue serializes build submissions
// per project while allowing up to capacity builds to run concurrently
// across different projects.
package buildqueue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jordanhubbard/portway/internal/database"
	"github.com/jordanhubbard/portway/internal/metrics"
	"github.com/jordanhubbard/portway/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// BuildRequest describes one push that wants a build.
type BuildRequest struct {
	ProjectID   string
	OwnerName   string
	ProjectName string
	CommitSHA   string
	SubmittedAt time.Time
}

// SubmitResult reports what Submit did with a request.
type SubmitResult int

const (
	// Accepted means the request was appended to the pending FIFO.
	Accepted SubmitResult = iota
	// Coalesced means a build for this project was already pending and
	// this request was dropped; the pending build will pick up whatever
	// is in the repo when it runs.
	Coalesced
)

func (r SubmitResult) String() string {
	if r == Coalesced {
		return "coalesced"
	}
	return "accepted"
}

// Builder produces a runnable image from a project's bare repository.
// Implemented by internal/build; a fake satisfies it in tests (the
// interface-plus-fake pattern used throughout this core for components
// that shell out to external processes).
type Builder interface {
	BuildImage(ctx context.Context, req BuildRequest) (imageRef string, buildLog string, err error)
}

// Deployer takes a built image and makes it the running version of a
// project: container lifecycle, networking, routing table.
type Deployer interface {
	Deploy(ctx context.Context, req BuildRequest, imageRef string) error
}

// EventBus publishes build lifecycle notifications. Nil is valid; a
// Queue with no bus simply doesn't publish.
type EventBus interface {
	PublishBuildEvent(ctx context.Context, subject string, payload any) error
}

// Queue is the BuildQueue. Its internal state is exactly the three
// structures the design calls for: a FIFO of pending requests, a set of
// projects currently represented in that FIFO (for coalescing), and a
// set of projects currently building (for the concurrency cap). All
// three are guarded by one mutex; a condition variable wakes the
// dispatcher when there's new work or when a slot frees up.
type Queue struct {
	mu          sync.Mutex
	cond        *sync.Cond
	pending     []BuildRequest
	pendingKeys map[string]struct{}
	inFlight    map[string]struct{}
	capacity    int

	registry *database.Database
	builder  Builder
	deployer Deployer
	bus      EventBus
	metrics  *metrics.Metrics

	closed bool
}

// SetMetrics attaches a Metrics instance the queue reports occupancy
// and build outcomes to. Optional; a Queue with no metrics attached
// simply doesn't record anything.
func (q *Queue) SetMetrics(m *metrics.Metrics) {
	q.metrics = m
}

func (q *Queue) reportOccupancyLocked() {
	if q.metrics == nil {
		return
	}
	q.metrics.QueueDepth.Set(float64(len(q.pending)))
	q.metrics.QueueInFlight.Set(float64(len(q.inFlight)))
}

// New creates a Queue with the given concurrency capacity. capacity
// must be at least 1.
func New(registry *database.Database, builder Builder, deployer Deployer, bus EventBus, capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue{
		pendingKeys: make(map[string]struct{}),
		inFlight:    make(map[string]struct{}),
		capacity:    capacity,
		registry:    registry,
		builder:     builder,
		deployer:    deployer,
		bus:         bus,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Submit enqueues a build request, coalescing it with any already-pending
// request for the same project. It never blocks on a build running.
//
//   - |in_flight| <= capacity at all times (P1)
//   - at most one pending entry per project at any time (P1)
//   - at most one pending + one in-flight entry per project at any time (P1)
func (q *Queue) Submit(req BuildRequest) SubmitResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.pendingKeys[req.ProjectID]; ok {
		return Coalesced
	}

	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = time.Now().UTC()
	}
	q.pending = append(q.pending, req)
	q.pendingKeys[req.ProjectID] = struct{}{}
	q.reportOccupancyLocked()
	q.cond.Signal()
	return Accepted
}

// Run starts the dispatcher loop. It blocks until ctx is canceled, so
// call it from its own goroutine; canceling ctx is the only way to
// unblock it.
func (q *Queue) Run(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		<-ctx.Done()
		q.mu.Lock()
		q.closed = true
		q.cond.Broadcast()
		q.mu.Unlock()
		close(stopped)
	}()

	for {
		q.mu.Lock()
		req, ok := q.dispatchLocked()
		for !ok && !q.closed {
			q.cond.Wait()
			req, ok = q.dispatchLocked()
		}
		closed := q.closed
		q.mu.Unlock()

		if !ok {
			if closed {
				return
			}
			continue
		}

		go q.execute(ctx, req)
	}
}

// dispatchLocked picks the oldest pending request whose project isn't
// already building, if a concurrency slot is free. Caller holds q.mu.
func (q *Queue) dispatchLocked() (BuildRequest, bool) {
	if len(q.inFlight) >= q.capacity {
		return BuildRequest{}, false
	}
	for i, req := range q.pending {
		if _, building := q.inFlight[req.ProjectID]; building {
			continue
		}
		q.pending = append(q.pending[:i:i], q.pending[i+1:]...)
		delete(q.pendingKeys, req.ProjectID)
		q.inFlight[req.ProjectID] = struct{}{}
		q.reportOccupancyLocked()
		return req, true
	}
	return BuildRequest{}, false
}

// execute runs one build-and-deploy episode for req. It calls
// RecordBuildStart exactly once and RecordBuildTransition into a
// terminal status exactly once, satisfying P2 regardless of which
// stage fails.
func (q *Queue) execute(ctx context.Context, req BuildRequest) {
	defer q.finish(req)
	started := time.Now()

	if telemetry.Tracer != nil {
		var spanCtx context.Context
		spanCtx, sp := telemetry.StartSpan(ctx, "build.execute",
			attribute.String("owner", req.OwnerName),
			attribute.String("project", req.ProjectName),
			attribute.String("commit", req.CommitSHA))
		defer sp.End()
		ctx = spanCtx
	}

	build, err := q.registry.RecordBuildStart(req.ProjectID)
	if err != nil {
		log.Printf("buildqueue: failed to record build start for project %s: %v", req.ProjectID, err)
		return
	}
	q.publish(ctx, "build.pending", build.ID, req)
	q.recordTransition("", "pending", started)
	if telemetry.BuildsStarted != nil {
		telemetry.BuildsStarted.Add(ctx, 1)
	}

	if err := q.registry.RecordBuildTransition(build.ID, database.BuildBuilding, ""); err != nil {
		log.Printf("buildqueue: failed to transition build %s to BUILDING: %v", build.ID, err)
	}
	q.publish(ctx, "build.building", build.ID, req)
	q.recordTransition("pending", "building", started)

	imageRef, buildLog, err := q.builder.BuildImage(ctx, req)
	if err != nil {
		msg := fmt.Sprintf("build failed: %v\n", err)
		if tErr := q.registry.RecordBuildTransition(build.ID, database.BuildFailed, buildLog+msg); tErr != nil {
			log.Printf("buildqueue: failed to record build failure for %s: %v", build.ID, tErr)
		}
		q.publish(ctx, "build.failed", build.ID, req)
		q.recordTransition("building", "failed", started)
		if telemetry.BuildsFailed != nil {
			telemetry.BuildsFailed.Add(ctx, 1)
		}
		return
	}

	if err := q.deployer.Deploy(ctx, req, imageRef); err != nil {
		msg := fmt.Sprintf("deploy failed: %v\n", err)
		if tErr := q.registry.RecordBuildTransition(build.ID, database.BuildFailed, buildLog+msg); tErr != nil {
			log.Printf("buildqueue: failed to record deploy failure for %s: %v", build.ID, tErr)
		}
		q.publish(ctx, "build.failed", build.ID, req)
		q.recordTransition("building", "failed", started)
		if telemetry.BuildsFailed != nil {
			telemetry.BuildsFailed.Add(ctx, 1)
		}
		return
	}

	if err := q.registry.RecordBuildTransition(build.ID, database.BuildSuccessful, buildLog); err != nil {
		log.Printf("buildqueue: failed to record build success for %s: %v", build.ID, err)
	}
	q.publish(ctx, "build.succeeded", build.ID, req)
	q.recordTransition("building", "successful", started)
	if telemetry.BuildsCompleted != nil {
		telemetry.BuildsCompleted.Add(ctx, 1)
	}
	if telemetry.BuildDuration != nil {
		telemetry.BuildDuration.Record(ctx, float64(time.Since(started).Milliseconds()))
	}
}

// recordTransition is a no-op unless SetMetrics was called. elapsed is
// measured from the start of execute, so a terminal status's duration
// is the full build-and-deploy time, not just the time since the
// previous transition.
func (q *Queue) recordTransition(from, to string, started time.Time) {
	if q.metrics == nil {
		return
	}
	q.metrics.RecordBuildTransition(from, to, time.Since(started).Seconds())
}

func (q *Queue) finish(req BuildRequest) {
	q.mu.Lock()
	delete(q.inFlight, req.ProjectID)
	q.reportOccupancyLocked()
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *Queue) publish(ctx context.Context, subject, buildID string, req BuildRequest) {
	if q.bus == nil {
		return
	}
	payload := map[string]string{
		"build_id":     buildID,
		"project_id":   req.ProjectID,
		"owner_name":   req.OwnerName,
		"project_name": req.ProjectName,
		"commit_sha":   req.CommitSHA,
	}
	if err := q.bus.PublishBuildEvent(ctx, subject, payload); err != nil {
		log.Printf("buildqueue: failed to publish %s for build %s: %v", subject, buildID, err)
	}
}

// Stats reports a snapshot of queue occupancy.
type Stats struct {
	Pending  int
	InFlight int
	Capacity int
}

// Stats returns a point-in-time snapshot of the queue's occupancy.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Pending: len(q.pending), InFlight: len(q.inFlight), Capacity: q.capacity}
}
