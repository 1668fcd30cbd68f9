package middleware

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestLevelDBReplayStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replay")
	store, err := NewLevelDBReplayStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	at := time.Unix(1_700_000_000, 0)

	seen, err := store.Observe(ctx, "0xabc", "t1", at)
	if err != nil || seen {
		t.Fatalf("expected first observation to be new, got %v %v", seen, err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewLevelDBReplayStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	seen, err = reopened.Observe(ctx, "0xabc", "t1", at.Add(time.Second))
	if err != nil || !seen {
		t.Fatalf("expected persisted observation, got %v %v", seen, err)
	}
	// Ids are scoped to the subject.
	if seen, _ := reopened.Observe(ctx, "0xdef", "t1", at); seen {
		t.Fatalf("expected id to be scoped per subject")
	}
}

func TestLevelDBReplayStorePrune(t *testing.T) {
	store, err := NewLevelDBReplayStore("")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	for i, id := range []string{"old", "edge", "new"} {
		if _, err := store.Observe(ctx, "0xabc", id, base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("observe %s: %v", id, err)
		}
	}
	if err := store.Prune(ctx, base.Add(time.Minute)); err != nil {
		t.Fatalf("prune: %v", err)
	}
	if seen, _ := store.Observe(ctx, "0xabc", "old", base.Add(3*time.Minute)); seen {
		t.Fatalf("expected pruned id to be forgotten")
	}
	for _, id := range []string{"edge", "new"} {
		if seen, _ := store.Observe(ctx, "0xabc", id, base.Add(3*time.Minute)); !seen {
			t.Fatalf("expected %s to survive pruning", id)
		}
	}
}

func TestLevelDBReplayStoreRejectsIncompleteRecords(t *testing.T) {
	store, err := NewLevelDBReplayStore("")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	if _, err := store.Observe(context.Background(), " ", "t1", time.Now()); err == nil {
		t.Fatal("expected error for empty subject")
	}
}
