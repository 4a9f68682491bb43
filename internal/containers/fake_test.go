package containers

import (
	"context"
	"testing"

	"github.com/jordanhubbard/portway/internal/apierr"
)

var _ Driver = (*Fake)(nil)

func TestFake_EnsureNetworkIdempotent(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	id1, err := f.EnsureNetwork(ctx, "portway-acme-api")
	if err != nil {
		t.Fatalf("EnsureNetwork: %v", err)
	}
	id2, err := f.EnsureNetwork(ctx, "portway-acme-api")
	if err != nil {
		t.Fatalf("EnsureNetwork (second call): %v", err)
	}
	if id1 != id2 {
		t.Errorf("EnsureNetwork returned different IDs: %q vs %q", id1, id2)
	}
}

func TestFake_AttachNetworkAssignsDeterministicIPs(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	f.CreateContainer(ctx, "acme-api", "portway/acme-api:latest", nil, "", 0)
	ip1, err := f.AttachNetwork(ctx, "acme-api", "portway-net")
	if err != nil {
		t.Fatalf("AttachNetwork: %v", err)
	}

	f.CreateContainer(ctx, "acme-web", "portway/acme-web:latest", nil, "", 0)
	ip2, err := f.AttachNetwork(ctx, "acme-web", "portway-net")
	if err != nil {
		t.Fatalf("AttachNetwork: %v", err)
	}

	if ip1 == ip2 {
		t.Errorf("expected distinct IPs, got %q for both", ip1)
	}
}

func TestFake_AttachNetworkIdempotent(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	f.CreateContainer(ctx, "acme-api", "portway/acme-api:latest", nil, "", 0)
	ip1, err := f.AttachNetwork(ctx, "acme-api", "portway-net")
	if err != nil {
		t.Fatalf("AttachNetwork: %v", err)
	}

	// A redeploy (or a retry after a partial failure) reattaches the
	// same container to the same network; this must not error the way
	// a real Docker daemon's "already attached" conflict would if the
	// driver surfaced it instead of swallowing it.
	ip2, err := f.AttachNetwork(ctx, "acme-api", "portway-net")
	if err != nil {
		t.Fatalf("AttachNetwork (second call, same network): %v", err)
	}
	if ip1 != ip2 {
		t.Errorf("AttachNetwork reassigned IP on reattach: %q vs %q, want idempotent", ip1, ip2)
	}
}

func TestFake_InspectImageLabel(t *testing.T) {
	f := NewFake()
	f.SetLabel("portway/acme-api:latest", "io.portway.requires-db", "postgres")

	v, err := f.InspectImageLabel(context.Background(), "portway/acme-api:latest", "io.portway.requires-db")
	if err != nil {
		t.Fatalf("InspectImageLabel: %v", err)
	}
	if v != "postgres" {
		t.Errorf("label = %q, want postgres", v)
	}
}

func TestFake_RemoveContainerReportsNotFound(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	err := f.RemoveContainer(ctx, "does-not-exist")
	if apierr.KindOf(err) != apierr.NotFound {
		t.Errorf("RemoveContainer on absent container = %v, want a NotFound apierr", err)
	}
}
