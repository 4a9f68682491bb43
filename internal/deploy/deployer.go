// Package deploy implements the Deployer component: it turns a built
// image into a running container wired to a network, an optional
// database sidecar, and a routing-table row.
package deploy

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jordanhubbard/portway/internal/apierr"
	"github.com/jordanhubbard/portway/internal/buildqueue"
	"github.com/jordanhubbard/portway/internal/containers"
	"github.com/jordanhubbard/portway/internal/database"
	"github.com/jordanhubbard/portway/internal/metrics"
)

// dbRequiredLabel is the OCI label a buildpack sets on the built image
// to report that the project needs a database. Reading it here, rather
// than re-deriving the signal at delete time and volume-reset time,
// keeps "does this project need a database" a single uniform answer
// (spec's open question on this).
const dbRequiredLabel = "io.portway.requires-db"

// dbImage is a fixed database image; which engine a project gets is a
// policy decision, not part of this core.
const dbImage = "postgres:16-alpine"

const appPort = 80

// EventBus is the fan-out a Deployer notifies after updating the
// routing table. Satisfied by buildqueue.EventBus / *messagebus.Bus;
// nil is valid and simply disables publishing.
type EventBus interface {
	PublishBuildEvent(ctx context.Context, subject string, payload any) error
}

// Deployer wires ContainerDriver and the Registry together to
// implement the image-to-running-project pipeline.
type Deployer struct {
	driver   containers.Driver
	registry *database.Database
	bus      EventBus
	metrics  *metrics.Metrics
}

// New creates a Deployer over the given ContainerDriver and Registry.
// bus may be nil, in which case domain.updated is never published.
func New(driver containers.Driver, registry *database.Database, bus EventBus) *Deployer {
	return &Deployer{driver: driver, registry: registry, bus: bus}
}

// SetMetrics attaches a Metrics instance the deployer reports deploy
// duration and outcome to. Optional.
func (d *Deployer) SetMetrics(m *metrics.Metrics) {
	d.metrics = m
}

// Names bundles the derived resource names for one project, computed
// once and threaded through every step.
type Names struct {
	Container string
	Network   string
	Volume    string
	DB        string
}

// DeriveNames computes container/network/volume/db names from the
// owner and project, dots replaced by dashes per §4.6 step 1.
func DeriveNames(ownerName, projectName string) Names {
	base := strings.ReplaceAll(ownerName, ".", "-") + "-" + projectName
	return Names{
		Container: base,
		Network:   base + "-network",
		Volume:    base + "-volume",
		DB:        base + "-db",
	}
}

// Deploy implements buildqueue.Deployer: it runs the six-step sequence
// from §4.6 against a freshly built image. Any failure from step 2
// onward is returned as a Build-kind apierr; the Deployer does not roll
// back partial state, since the next successful build reconciles it.
func (d *Deployer) Deploy(ctx context.Context, req buildqueue.BuildRequest, imageRef string) (err error) {
	started := time.Now()
	defer func() {
		if d.metrics == nil {
			return
		}
		result := "success"
		if err != nil {
			result = "failure"
		}
		d.metrics.RecordDeploy(result, time.Since(started).Seconds())
	}()

	names := DeriveNames(req.OwnerName, req.ProjectName)

	if _, err := d.driver.InspectContainer(ctx, names.Container); err == nil {
		if err := d.driver.StopContainer(ctx, names.Container); err != nil && apierr.KindOf(err) != apierr.NotFound {
			return apierr.Wrap(apierr.Build, "failed to stop existing container", err)
		}
		if err := d.driver.RemoveContainer(ctx, names.Container); err != nil && apierr.KindOf(err) != apierr.NotFound {
			return apierr.Wrap(apierr.Build, "failed to remove existing container", err)
		}
	}

	if _, err := d.driver.EnsureNetwork(ctx, names.Network); err != nil {
		return apierr.Wrap(apierr.Build, "failed to ensure network", err)
	}

	proj, err := d.registry.GetProject(req.ProjectID)
	if err != nil {
		return apierr.Wrap(apierr.Build, "failed to load project env", err)
	}
	env := stringifyEnv(proj.Env)

	if _, err := d.driver.CreateContainer(ctx, names.Container, imageRef, env, names.Network, appPort); err != nil {
		return apierr.Wrap(apierr.Build, "failed to create app container", err)
	}
	if err := d.driver.StartContainer(ctx, names.Container); err != nil {
		return apierr.Wrap(apierr.Build, "failed to start app container", err)
	}

	if d.requiresDatabase(ctx, proj, imageRef) {
		if _, err := d.driver.EnsureVolume(ctx, names.Volume); err != nil {
			return apierr.Wrap(apierr.Build, "failed to ensure database volume", err)
		}
		if _, err := d.driver.CreateContainer(ctx, names.DB, dbImage, nil, names.Network, 0); err != nil {
			return apierr.Wrap(apierr.Build, "failed to create database container", err)
		}
		if err := d.driver.StartContainer(ctx, names.DB); err != nil {
			return apierr.Wrap(apierr.Build, "failed to start database container", err)
		}
		if _, err := d.driver.AttachNetwork(ctx, names.DB, names.Network); err != nil {
			return apierr.Wrap(apierr.Build, "failed to attach database container to network", err)
		}
	}

	// CreateContainer never attaches a network itself (see driver.go);
	// this is the one call that both connects the app container and
	// hands back the address UpsertDomain routes to.
	ip, err := d.driver.AttachNetwork(ctx, names.Container, names.Network)
	if err != nil {
		return apierr.Wrap(apierr.Build, "failed to attach app container to network", err)
	}

	if err := d.registry.UpsertDomain(req.ProjectID, names.Container, appPort, ip); err != nil {
		return apierr.Wrap(apierr.Build, "failed to upsert routing table entry", err)
	}
	d.publishDomainUpdated(ctx, req, names, ip)

	return nil
}

// publishDomainUpdated notifies the EventBus after a routing table
// write. The cache layer (A5) does not subscribe to it; its entries
// expire by TTL. Best-effort: a publish failure never fails
// the deploy, since the registry write already succeeded.
func (d *Deployer) publishDomainUpdated(ctx context.Context, req buildqueue.BuildRequest, names Names, ip string) {
	if d.bus == nil {
		return
	}
	payload := map[string]string{
		"project_id":   req.ProjectID,
		"owner_name":   req.OwnerName,
		"project_name": req.ProjectName,
		"container":    names.Container,
		"container_ip": ip,
	}
	if err := d.bus.PublishBuildEvent(ctx, "domain.updated", payload); err != nil {
		log.Printf("deploy: failed to publish domain.updated for %s/%s: %v", req.OwnerName, req.ProjectName, err)
	}
}

// requiresDatabase resolves the uniform "does this project need a
// database" signal: an explicit operator override on the project takes
// precedence over the buildpack-reported label.
func (d *Deployer) requiresDatabase(ctx context.Context, proj *database.Project, imageRef string) bool {
	if proj.DBRequired != nil {
		return *proj.DBRequired
	}
	label, err := d.driver.InspectImageLabel(ctx, imageRef, dbRequiredLabel)
	if err != nil {
		return false
	}
	return label != "" && label != "none"
}

func stringifyEnv(env map[string]any) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = toString(v)
	}
	return out
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
