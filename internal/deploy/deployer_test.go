package deploy

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jordanhubbard/portway/internal/buildqueue"
	"github.com/jordanhubbard/portway/internal/containers"
	"github.com/jordanhubbard/portway/internal/database"
)

func openTestDB(t *testing.T) *database.Database {
	t.Helper()
	dsn := os.Getenv("PORTWAY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PORTWAY_TEST_DATABASE_URL not set; skipping Deployer integration test")
	}
	db, err := database.Open(dsn, 5, 2, time.Minute)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDeriveNames(t *testing.T) {
	names := DeriveNames("acme.corp", "api")
	if names.Container != "acme-corp-api" {
		t.Errorf("Container = %q, want acme-corp-api", names.Container)
	}
	if names.Network != "acme-corp-api-network" {
		t.Errorf("Network = %q, want acme-corp-api-network", names.Network)
	}
	if names.Volume != "acme-corp-api-volume" {
		t.Errorf("Volume = %q, want acme-corp-api-volume", names.Volume)
	}
	if names.DB != "acme-corp-api-db" {
		t.Errorf("DB = %q, want acme-corp-api-db", names.DB)
	}
}

func TestDeploy_CreatesContainerNetworkAndDomain(t *testing.T) {
	db := openTestDB(t)
	owner, _ := db.CreateOwner("acme")
	proj, _ := db.CreateProject(owner.Name, "api", map[string]any{"PORT": "8080"})

	driver := containers.NewFake()
	d := New(driver, db, nil)

	req := buildqueue.BuildRequest{ProjectID: proj.ID, OwnerName: owner.Name, ProjectName: proj.Name, CommitSHA: "abc123"}
	if err := d.Deploy(context.Background(), req, "portway/acme-api:abc123"); err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	names := DeriveNames(owner.Name, proj.Name)
	if _, ok := driver.Networks[names.Network]; !ok {
		t.Error("expected network to be created")
	}
	c, ok := driver.Containers[names.Container]
	if !ok || !c.Running {
		t.Error("expected app container to exist and be running")
	}

	dom, err := db.FindDomain(proj.ID)
	if err != nil {
		t.Fatalf("FindDomain: %v", err)
	}
	if dom.Port != appPort {
		t.Errorf("port = %d, want %d", dom.Port, appPort)
	}
	if dom.ContainerIP == "" {
		t.Error("expected a non-empty container IP")
	}
}

func TestDeploy_CreatesDatabaseWhenLabelPresent(t *testing.T) {
	db := openTestDB(t)
	owner, _ := db.CreateOwner("bobco")
	proj, _ := db.CreateProject(owner.Name, "web", nil)

	driver := containers.NewFake()
	image := "portway/bobco-web:xyz"
	driver.SetLabel(image, dbRequiredLabel, "postgres")
	d := New(driver, db, nil)

	req := buildqueue.BuildRequest{ProjectID: proj.ID, OwnerName: owner.Name, ProjectName: proj.Name}
	if err := d.Deploy(context.Background(), req, image); err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	names := DeriveNames(owner.Name, proj.Name)
	if _, ok := driver.Volumes[names.Volume]; !ok {
		t.Error("expected database volume to be created")
	}
	if _, ok := driver.Containers[names.DB]; !ok {
		t.Error("expected database container to be created")
	}
}

func TestDeploy_ExplicitOverrideWinsOverLabel(t *testing.T) {
	db := openTestDB(t)
	owner, _ := db.CreateOwner("carlco")
	proj, _ := db.CreateProject(owner.Name, "worker", nil)
	no := false
	if err := db.SetDBRequired(proj.ID, &no); err != nil {
		t.Fatalf("SetDBRequired: %v", err)
	}

	driver := containers.NewFake()
	image := "portway/carlco-worker:xyz"
	driver.SetLabel(image, dbRequiredLabel, "postgres")
	d := New(driver, db, nil)

	req := buildqueue.BuildRequest{ProjectID: proj.ID, OwnerName: owner.Name, ProjectName: proj.Name}
	if err := d.Deploy(context.Background(), req, image); err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	names := DeriveNames(owner.Name, proj.Name)
	if _, ok := driver.Containers[names.DB]; ok {
		t.Error("explicit db_required=false should suppress the database sidecar")
	}
}
