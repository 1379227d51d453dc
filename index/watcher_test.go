package index_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lsmcp/lsmcp/index"
)

func removeFile(root, relPath string) error {
	return os.Remove(filepath.Join(root, relPath))
}

func waitForEvent(t *testing.T, events <-chan index.Event, kind index.EventKind, timeout time.Duration) index.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case event := <-events:
			if event.Kind == kind {
				return event
			}
		case <-deadline:
			t.Fatalf("no %s event within %s", kind, timeout)
		}
	}
}

func TestWatcherReindexesChangedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.ts", greeterSource)

	source := &fakeSource{}
	idx := index.New(root, source)
	if err := idx.StartWatching(); err != nil {
		t.Skipf("watcher unavailable: %v", err)
	}
	defer idx.Stop()

	if err := idx.IndexFile(context.Background(), "a.ts"); err != nil {
		t.Fatal(err)
	}

	events, cancel := idx.Events().Subscribe()
	defer cancel()

	writeFile(t, root, "a.ts", greeterSource+"\n// touched\n")

	waitForEvent(t, events, index.EventFileIndexed, 5*time.Second)

	if got := source.calls.Load(); got < 2 {
		t.Fatalf("expected the change to trigger a reindex, got %d call/s", got)
	}
}

func TestWatcherDropsRemovedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.ts", greeterSource)

	idx := index.New(root, &fakeSource{})
	if err := idx.StartWatching(); err != nil {
		t.Skipf("watcher unavailable: %v", err)
	}
	defer idx.Stop()

	if err := idx.IndexFile(context.Background(), "a.ts"); err != nil {
		t.Fatal(err)
	}

	events, cancel := idx.Events().Subscribe()
	defer cancel()

	if err := removeFile(root, "a.ts"); err != nil {
		t.Fatal(err)
	}

	waitForEvent(t, events, index.EventFileRemoved, 5*time.Second)

	if stats := idx.Stats(); stats.Files != 0 {
		t.Fatalf("expected the removed file to leave the index, got %d file/s", stats.Files)
	}
}
