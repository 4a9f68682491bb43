package buildqueue

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jordanhubbard/portway/internal/database"
)

func openTestDB(t *testing.T) *database.Database {
	t.Helper()
	dsn := os.Getenv("PORTWAY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PORTWAY_TEST_DATABASE_URL not set; skipping BuildQueue integration test")
	}
	db, err := database.Open(dsn, 5, 2, time.Minute)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type fakeBuilder struct {
	delay   time.Duration
	fail    bool
	calls   int32
	mu      sync.Mutex
	started []string
}

func (f *fakeBuilder) BuildImage(ctx context.Context, req BuildRequest) (string, string, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.started = append(f.started, req.ProjectID)
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail {
		return "", "building\n", errBuild
	}
	return "image:" + req.ProjectID, "building\n", nil
}

var errBuild = fmtErr("buildpack detection failed")

type fmtErr string

func (e fmtErr) Error() string { return string(e) }

type fakeDeployer struct {
	calls int32
	fail  bool
}

func (f *fakeDeployer) Deploy(ctx context.Context, req BuildRequest, imageRef string) error {
	atomic.AddInt32(&f.calls, 1)
	if f.fail {
		return fmtErr("deploy failed")
	}
	return nil
}

func TestSubmit_CoalescesWhilePending(t *testing.T) {
	db := openTestDB(t)
	builder := &fakeBuilder{delay: 50 * time.Millisecond}
	deployer := &fakeDeployer{}
	q := New(db, builder, deployer, nil, 1)

	req := BuildRequest{ProjectID: "proj-1", OwnerName: "acme", ProjectName: "api"}

	if res := q.Submit(req); res != Accepted {
		t.Fatalf("first submit = %v, want Accepted", res)
	}
	if res := q.Submit(req); res != Coalesced {
		t.Fatalf("second submit = %v, want Coalesced", res)
	}

	stats := q.Stats()
	if stats.Pending != 1 {
		t.Errorf("pending = %d, want 1", stats.Pending)
	}
}

func TestRun_RespectsCapacity(t *testing.T) {
	db := openTestDB(t)
	builder := &fakeBuilder{delay: 100 * time.Millisecond}
	deployer := &fakeDeployer{}
	q := New(db, builder, deployer, nil, 1)

	owner, _ := db.CreateOwner("capacityco")
	projA, _ := db.CreateProject(owner.Name, "a", nil)
	projB, _ := db.CreateProject(owner.Name, "b", nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go q.Run(ctx)

	q.Submit(BuildRequest{ProjectID: projA.ID, OwnerName: owner.Name, ProjectName: "a"})
	q.Submit(BuildRequest{ProjectID: projB.ID, OwnerName: owner.Name, ProjectName: "b"})

	time.Sleep(20 * time.Millisecond)
	stats := q.Stats()
	if stats.InFlight > 1 {
		t.Errorf("in_flight = %d, want <= capacity (1)", stats.InFlight)
	}

	time.Sleep(300 * time.Millisecond)
	if atomic.LoadInt32(&builder.calls) != 2 {
		t.Errorf("builder calls = %d, want 2", builder.calls)
	}
}

func TestExecute_RecordsTerminalTransitionOnBuildFailure(t *testing.T) {
	db := openTestDB(t)
	builder := &fakeBuilder{fail: true}
	deployer := &fakeDeployer{}
	q := New(db, builder, deployer, nil, 2)

	owner, _ := db.CreateOwner("failco")
	proj, _ := db.CreateProject(owner.Name, "broken", nil)

	req := BuildRequest{ProjectID: proj.ID, OwnerName: owner.Name, ProjectName: proj.Name}
	q.execute(context.Background(), req)

	build, err := db.LatestBuild(proj.ID)
	if err != nil {
		t.Fatalf("LatestBuild: %v", err)
	}
	if build.Status != "FAILED" {
		t.Errorf("status = %q, want FAILED", build.Status)
	}
	if deployer.calls != 0 {
		t.Error("deploy should not be called after a build failure")
	}
}
