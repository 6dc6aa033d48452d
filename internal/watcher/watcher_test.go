package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherCreation(t *testing.T) {
	tmpDir := t.TempDir()
	target := filepath.Join(tmpDir, "model.glb")

	w, err := New(target, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	if w.Path() != target {
		t.Errorf("expected path %s, got %s", target, w.Path())
	}
	if err := w.fsw.Close(); err != nil {
		t.Errorf("failed to close fs watcher: %v", err)
	}
}

func TestWatcherMissingDirectory(t *testing.T) {
	w, err := New("/nonexistent/dir/model.glb", 200*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	defer w.fsw.Close()

	if err := w.Start(); err == nil {
		t.Error("expected error starting watcher on missing directory")
		w.Stop()
	}
}

func TestWatcherModifiedEvent(t *testing.T) {
	tmpDir := t.TempDir()
	target := filepath.Join(tmpDir, "model.glb")
	if err := os.WriteFile(target, []byte("v1"), 0600); err != nil {
		t.Fatalf("failed to create tracked file: %v", err)
	}

	w, err := New(target, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer w.Stop()

	content := []byte("updated model bytes")
	if err := os.WriteFile(target, content, 0600); err != nil {
		t.Fatalf("failed to modify tracked file: %v", err)
	}

	select {
	case ev := <-w.Events():
		if ev.Op != OpModified {
			t.Errorf("expected modified event, got %s", ev.Op)
		}
		if ev.Path != target {
			t.Errorf("expected path %s, got %s", target, ev.Path)
		}
		if ev.Size != int64(len(content)) {
			t.Errorf("expected size %d, got %d", len(content), ev.Size)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for modified event")
	}
}

func TestWatcherIgnoresSiblings(t *testing.T) {
	tmpDir := t.TempDir()
	target := filepath.Join(tmpDir, "model.glb")
	if err := os.WriteFile(target, []byte("v1"), 0600); err != nil {
		t.Fatalf("failed to create tracked file: %v", err)
	}

	w, err := New(target, 150*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer w.Stop()

	sibling := filepath.Join(tmpDir, "other.glb")
	if err := os.WriteFile(sibling, []byte("noise"), 0600); err != nil {
		t.Fatalf("failed to write sibling: %v", err)
	}

	select {
	case ev := <-w.Events():
		t.Errorf("unexpected event for sibling write: %+v", ev)
	case <-time.After(600 * time.Millisecond):
		// No event is the expected outcome.
	}
}

func TestWatcherDebouncesBurst(t *testing.T) {
	tmpDir := t.TempDir()
	target := filepath.Join(tmpDir, "model.glb")
	if err := os.WriteFile(target, []byte("v0"), 0600); err != nil {
		t.Fatalf("failed to create tracked file: %v", err)
	}

	w, err := New(target, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer w.Stop()

	// Rapid writes closer together than the debounce interval.
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(target, []byte{'v', byte('0' + i)}, 0600); err != nil {
			t.Fatalf("failed to write: %v", err)
		}
		time.Sleep(100 * time.Millisecond)
	}

	eventCount := 0
	timeout := time.After(3 * time.Second)
	for {
		select {
		case <-w.Events():
			eventCount++
			if eventCount > 1 {
				t.Fatal("burst of writes should debounce into one event")
			}
		case <-timeout:
			if eventCount != 1 {
				t.Errorf("expected 1 event, got %d", eventCount)
			}
			return
		}
	}
}

func TestWatcherRenameStyleSave(t *testing.T) {
	tmpDir := t.TempDir()
	target := filepath.Join(tmpDir, "model.glb")
	if err := os.WriteFile(target, []byte("v1"), 0600); err != nil {
		t.Fatalf("failed to create tracked file: %v", err)
	}

	w, err := New(target, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer w.Stop()

	// Save the way editors do: write a temp file, rename it over the target.
	tmp := filepath.Join(tmpDir, ".model.glb.tmp")
	if err := os.WriteFile(tmp, []byte("v2 via rename"), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		t.Fatalf("failed to rename over target: %v", err)
	}

	select {
	case ev := <-w.Events():
		if ev.Op != OpModified {
			t.Errorf("expected modified event after rename save, got %s", ev.Op)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for rename-save event")
	}
}

func TestWatcherRemoval(t *testing.T) {
	tmpDir := t.TempDir()
	target := filepath.Join(tmpDir, "model.glb")
	if err := os.WriteFile(target, []byte("v1"), 0600); err != nil {
		t.Fatalf("failed to create tracked file: %v", err)
	}

	w, err := New(target, 150*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer w.Stop()

	if err := os.Remove(target); err != nil {
		t.Fatalf("failed to remove tracked file: %v", err)
	}

	select {
	case ev := <-w.Events():
		if ev.Op != OpRemoved {
			t.Errorf("expected removed event, got %s", ev.Op)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for removal event")
	}
}
