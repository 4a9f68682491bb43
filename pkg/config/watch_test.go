package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_ReloadsOnFileChange(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(path, []byte("queue:\n  concurrent_builds: 2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if w.ConcurrentBuilds() != 2 {
		t.Fatalf("ConcurrentBuilds = %d, want 2", w.ConcurrentBuilds())
	}

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- w.Run(stop) }()

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("queue:\n  concurrent_builds: 9\n"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.ConcurrentBuilds() == 9 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if w.ConcurrentBuilds() != 9 {
		t.Errorf("ConcurrentBuilds = %d, want 9 after reload", w.ConcurrentBuilds())
	}

	close(stop)
	<-done
}
