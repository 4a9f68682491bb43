// Package gitgateway implements the GitGateway component: a Git
// smart-HTTP endpoint that authenticates pushes against the Registry,
// spawns the real `git` binary for upload-pack/receive-pack, and
// enqueues a build on a successful push.
package gitgateway

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/jordanhubbard/portway/internal/apierr"
	"github.com/jordanhubbard/portway/internal/buildqueue"
	"github.com/jordanhubbard/portway/internal/cache"
	"github.com/jordanhubbard/portway/internal/database"
	"github.com/jordanhubbard/portway/internal/repostore"
)

var routePattern = regexp.MustCompile(`^/([A-Za-z0-9.]+)/([A-Za-z0-9]+)/(.+)$`)

// Gateway serves Git's smart-HTTP protocol over a RepoStore, gated by
// the Registry's project API tokens.
type Gateway struct {
	store      *repostore.Store
	registry   *database.Database
	lookups    *cache.Lookups
	queue      *buildqueue.Queue
	bodyLimit  int64
	uploadOpen bool // if true, git-upload-pack does not require auth
}

// New creates a Gateway. uploadOpen controls whether upload-pack (clone
// / fetch) requires authentication; receive-pack (push) is always
// gated regardless of this setting. lookups fronts the project lookup
// every push and fetch makes; pass cache.NewLookups(registry, nil) to
// run uncached.
func New(store *repostore.Store, registry *database.Database, lookups *cache.Lookups, queue *buildqueue.Queue, bodyLimit int64, uploadOpen bool) *Gateway {
	return &Gateway{store: store, registry: registry, lookups: lookups, queue: queue, bodyLimit: bodyLimit, uploadOpen: uploadOpen}
}

// Register wires the gateway's routes onto mux under prefix "/".
func (g *Gateway) Register(mux *http.ServeMux) {
	mux.HandleFunc("/", g.handle)
}

func (g *Gateway) handle(w http.ResponseWriter, r *http.Request) {
	m := routePattern.FindStringSubmatch(r.URL.Path)
	if m == nil {
		http.NotFound(w, r)
		return
	}
	ownerName, projectName, rest := m[1], m[2], m[3]

	if !g.store.Exists(ownerName, projectName) {
		http.NotFound(w, r)
		return
	}

	switch {
	case rest == "info/refs" && r.Method == http.MethodGet:
		g.infoRefs(w, r, ownerName, projectName)
	case rest == "git-upload-pack" && r.Method == http.MethodPost:
		g.serviceRPC(w, r, ownerName, projectName, "upload-pack", false)
	case rest == "git-receive-pack" && r.Method == http.MethodPost:
		g.serviceRPC(w, r, ownerName, projectName, "receive-pack", true)
	case r.Method == http.MethodGet && isDumbRoute(rest):
		g.dumbFile(w, r, ownerName, projectName, rest)
	default:
		http.NotFound(w, r)
	}
}

func isDumbRoute(rest string) bool {
	if rest == "HEAD" {
		return true
	}
	prefixes := []string{"objects/info/alternates", "objects/info/http-alternates", "objects/info/packs", "objects/pack/", "objects/"}
	for _, p := range prefixes {
		if strings.HasPrefix(rest, p) {
			return true
		}
	}
	return false
}

// infoRefs implements the reference advertisement for both services:
// pkt-line("# service=git-<svc>\n") || flush-pkt || git-<svc> --advertise-refs.
func (g *Gateway) infoRefs(w http.ResponseWriter, r *http.Request, ownerName, projectName string) {
	service := strings.TrimPrefix(r.URL.Query().Get("service"), "git-")
	if service != "upload-pack" && service != "receive-pack" {
		http.Error(w, "invalid service", http.StatusBadRequest)
		return
	}

	if service == "receive-pack" || (service == "upload-pack" && !g.uploadOpen) {
		if !g.authenticate(r, ownerName, projectName) {
			g.requireAuth(w)
			return
		}
	}

	w.Header().Set("Content-Type", fmt.Sprintf("application/x-git-%s-advertisement", service))
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	io.WriteString(w, pktLine(fmt.Sprintf("# service=git-%s\n", service)))
	io.WriteString(w, flushPkt())

	cmd := exec.CommandContext(r.Context(), "git", service, "--stateless-rpc", "--advertise-refs", g.store.Path(ownerName, projectName))
	cmd.Stdout = w
	if err := cmd.Run(); err != nil {
		log.Printf("gitgateway: advertise-refs for %s/%s failed: %v", ownerName, projectName, err)
	}
}

// serviceRPC spawns `git <service> --stateless-rpc <repo-path>` with
// stdin piped from the request body and stdout piped to the response.
func (g *Gateway) serviceRPC(w http.ResponseWriter, r *http.Request, ownerName, projectName, service string, gated bool) {
	needsAuth := gated || !g.uploadOpen
	if needsAuth && !g.authenticate(r, ownerName, projectName) {
		g.requireAuth(w)
		return
	}

	body, err := g.decodeBody(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	defer body.Close()

	args := []string{service, "--stateless-rpc", g.store.Path(ownerName, projectName)}
	cmd := exec.CommandContext(r.Context(), "git", args...)
	if proto := r.Header.Get("Git-Protocol"); proto != "" {
		cmd.Env = append(cmd.Env, "GIT_PROTOCOL="+proto)
	}
	cmd.Stdin = body

	w.Header().Set("Content-Type", fmt.Sprintf("application/x-git-%s-result", service))
	w.WriteHeader(http.StatusOK)
	cmd.Stdout = w

	err = cmd.Run()
	if err != nil {
		log.Printf("gitgateway: %s for %s/%s failed: %v", service, ownerName, projectName, err)
		return
	}

	if service == "receive-pack" {
		g.triggerBuild(ownerName, projectName)
	}
}

// decodeBody returns the request body, transparently gunzipping it if
// Content-Encoding: gzip was set, and rejects bodies over the
// configured limit before they reach git. With a limit set, the
// (decompressed) body is read into memory first so an oversized push
// fails before git is spawned.
func (g *Gateway) decodeBody(w http.ResponseWriter, r *http.Request) (io.ReadCloser, error) {
	body := r.Body
	if g.bodyLimit > 0 {
		body = http.MaxBytesReader(w, body, g.bodyLimit)
	}
	var reader io.ReadCloser = body
	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(body)
		if err != nil {
			return nil, apierr.Wrap(apierr.Validation, "invalid gzip body", err)
		}
		reader = gz
	}
	if g.bodyLimit <= 0 {
		return reader, nil
	}
	defer reader.Close()
	data, err := io.ReadAll(io.LimitReader(reader, g.bodyLimit+1))
	if err != nil {
		return nil, apierr.Wrap(apierr.Validation, "failed to read request body", err)
	}
	if int64(len(data)) > g.bodyLimit {
		return nil, apierr.New(apierr.Validation, "request body too large")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// triggerBuild submits a BuildRequest on a successful push. Enqueuing
// is best-effort: the client already has a successful push response
// regardless of whether the build gets picked up.
func (g *Gateway) triggerBuild(ownerName, projectName string) {
	proj, err := g.lookups.FindProject(context.Background(), ownerName, projectName)
	if err != nil {
		log.Printf("gitgateway: failed to look up project for build trigger %s/%s: %v", ownerName, projectName, err)
		return
	}
	sha, err := g.store.HeadCommit(context.Background(), ownerName, projectName)
	if err != nil {
		log.Printf("gitgateway: failed to resolve head commit for %s/%s: %v", ownerName, projectName, err)
		return
	}

	res := g.queue.Submit(buildqueue.BuildRequest{
		ProjectID:   proj.ID,
		OwnerName:   ownerName,
		ProjectName: projectName,
		CommitSHA:   sha,
		SubmittedAt: time.Now().UTC(),
	})
	log.Printf("gitgateway: submitted build for %s/%s: %s", ownerName, projectName, res)
}

// dumbFile serves the static dumb-protocol files git falls back to for
// older clients: HEAD and the objects/ tree, content-addressed objects
// cached forever, everything else no-cache.
func (g *Gateway) dumbFile(w http.ResponseWriter, r *http.Request, ownerName, projectName, rest string) {
	if strings.HasPrefix(rest, "objects/") && !strings.HasPrefix(rest, "objects/info/") {
		w.Header().Set("Cache-Control", "max-age=31536000")
	} else {
		w.Header().Set("Cache-Control", "no-cache")
	}
	http.ServeFile(w, r, g.store.Path(ownerName, projectName)+"/"+rest)
}

// authenticate implements the always-on Basic auth for receive-pack:
// username is the owner name, password is a project API token.
func (g *Gateway) authenticate(r *http.Request, ownerName, projectName string) bool {
	username, password, ok := r.BasicAuth()
	if !ok || username != ownerName {
		return false
	}
	proj, err := g.lookups.FindProject(r.Context(), ownerName, projectName)
	if err != nil {
		return false
	}
	valid, err := g.registry.VerifyToken(proj.ID, password)
	return err == nil && valid
}

func (g *Gateway) requireAuth(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="git"`)
	w.WriteHeader(http.StatusUnauthorized)
}

// pktLine encodes a string as a Git pkt-line: a 4-hex-digit length
// prefix (including itself) followed by the payload.
func pktLine(s string) string {
	return fmt.Sprintf("%04x%s", len(s)+4, s)
}

// flushPkt is Git's pkt-line end-of-section marker.
func flushPkt() string {
	return "0000"
}
