package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"calevents/internal/config"
	"calevents/internal/engine"
	"calevents/internal/store"
	"calevents/internal/web"
)

func newTestWeb() *web.Server {
	return web.NewServer(config.DefaultConfig(), engine.New(store.NewMemory(), 0))
}

func TestWriteFeedSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feeds", "public.ics")
	if err := writeFeedSnapshot(context.Background(), newTestWeb(), path); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if !strings.Contains(string(body), "BEGIN:VCALENDAR") {
		t.Fatalf("snapshot is not a calendar:\n%s", body)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Fatalf("snapshot mode: %v", info.Mode())
	}
}

func TestWriteFeedSnapshotSurfacesWriteFailure(t *testing.T) {
	// Occupy the target's parent with a regular file so the write cannot
	// land; the error must come back to the caller, not get swallowed.
	blocked := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(blocked, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	if err := writeFeedSnapshot(context.Background(), newTestWeb(), filepath.Join(blocked, "public.ics")); err == nil {
		t.Fatalf("expected an error writing beneath a file")
	}
}
