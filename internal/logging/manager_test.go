package logging

import (
	"testing"
	"time"
)

var zeroTime = time.Time{}

func TestManager_LogAndGetRecent(t *testing.T) {
	m := NewManager(nil)

	m.Info("buildqueue", "build started", map[string]interface{}{"project_id": "proj-1", "build_id": "build-1"})
	m.Error("deploy", "deploy failed", map[string]interface{}{"project_id": "proj-2"})

	entries := m.GetRecent(10, "", "", "", "", zeroTime, zeroTime)
	if len(entries) != 2 {
		t.Fatalf("GetRecent returned %d entries, want 2", len(entries))
	}
	if entries[0].Message != "deploy failed" {
		t.Errorf("newest entry = %q, want %q (most recent first)", entries[0].Message, "deploy failed")
	}
}

func TestManager_GetRecent_FiltersByProjectID(t *testing.T) {
	m := NewManager(nil)
	m.Info("buildqueue", "a", map[string]interface{}{"project_id": "proj-1"})
	m.Info("buildqueue", "b", map[string]interface{}{"project_id": "proj-2"})

	entries := m.GetRecent(10, "", "", "proj-2", "", zeroTime, zeroTime)
	if len(entries) != 1 || entries[0].Message != "b" {
		t.Fatalf("expected exactly entry %q, got %+v", "b", entries)
	}
}

func TestManager_GetRecent_FiltersByLevel(t *testing.T) {
	m := NewManager(nil)
	m.Info("buildqueue", "info message", nil)
	m.Error("buildqueue", "error message", nil)

	entries := m.GetRecent(10, LogLevelError, "", "", "", zeroTime, zeroTime)
	if len(entries) != 1 || entries[0].Level != LogLevelError {
		t.Fatalf("expected exactly one error entry, got %+v", entries)
	}
}
