package config

import (
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
)

// reloadable is the safe subset of Config that Watcher will apply on a
// SIGHUP or a file-system change: settings where every in-flight
// request or build can keep running under the old value until it
// finishes. Anything touching a connection pool, a listener address or
// a storage path is excluded.
type reloadable struct {
	ConcurrentBuilds int
	AuthEnabled      bool
}

// Watcher reloads the safe subset of a Config from disk whenever the
// file changes or the process receives SIGHUP, the teacher's
// config-hot-reload shape generalized from a single flag to a small
// struct of fields. Reloaded values are visible only through its
// accessors; the BuildQueue and Authenticator read their settings once
// at startup and do not consult the Watcher.
type Watcher struct {
	path string

	mu  sync.RWMutex
	cur reloadable
}

// NewWatcher loads path once and returns a Watcher seeded with its
// current safe-reloadable fields.
func NewWatcher(path string) (*Watcher, error) {
	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	return &Watcher{path: path, cur: snapshot(cfg)}, nil
}

func snapshot(cfg *Config) reloadable {
	return reloadable{ConcurrentBuilds: cfg.Queue.ConcurrentBuilds, AuthEnabled: cfg.Auth.Enabled}
}

// ConcurrentBuilds returns the live value of queue.concurrent_builds.
func (w *Watcher) ConcurrentBuilds() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur.ConcurrentBuilds
}

// AuthEnabled returns the live value of auth.enabled.
func (w *Watcher) AuthEnabled() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur.AuthEnabled
}

// Run watches the config file and the process's SIGHUP until stop is
// closed, reloading the safe subset on either signal.
func (w *Watcher) Run(stop <-chan struct{}) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(w.path); err != nil {
		return err
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-stop:
			return nil
		case <-hup:
			w.reload()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.reload()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Printf("config: watch error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadConfigFromFile(w.path)
	if err != nil {
		log.Printf("config: reload failed, keeping previous values: %v", err)
		return
	}
	w.mu.Lock()
	w.cur = snapshot(cfg)
	w.mu.Unlock()
	log.Printf("config: reloaded concurrent_builds=%d auth_enabled=%v", w.cur.ConcurrentBuilds, w.cur.AuthEnabled)
}
