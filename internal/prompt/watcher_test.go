package prompt_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/giskard/internal/prompt"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	r := prompt.NewRegistry(dir, discardLogger())
	w := prompt.NewWatcher(dir, r, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	path := filepath.Join(dir, "router_v9.9.txt")

	// Retry the write a few times; some platforms drop events fired
	// before the watch is fully established.
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()

	if err := os.WriteFile(path, []byte("hot reloaded"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	for {
		select {
		case name, ok := <-w.Events():
			if !ok {
				t.Fatal("events channel closed early")
			}
			if name != "router_v9.9.txt" {
				t.Fatalf("unexpected event %q", name)
			}
			text, err := r.Get(prompt.NameRouter)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if text != "hot reloaded" {
				t.Fatalf("registry not reloaded, got %q", text)
			}
			return
		case <-tick.C:
			if err := os.WriteFile(path, []byte("hot reloaded"), 0o644); err != nil {
				t.Fatalf("rewrite: %v", err)
			}
		case <-deadline:
			t.Fatal("timed out waiting for reload event")
		}
	}
}

func TestWatcher_IgnoresNonTxtFiles(t *testing.T) {
	dir := t.TempDir()
	r := prompt.NewRegistry(dir, discardLogger())
	w := prompt.NewWatcher(dir, r, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "scratch.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case name := <-w.Events():
		t.Fatalf("unexpected event for non-txt file: %q", name)
	case <-time.After(500 * time.Millisecond):
	}
}
