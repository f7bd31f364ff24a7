package service

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestPolicyWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	var reloads atomic.Int32
	w, err := NewPolicyWatcher(dir, func() error {
		reloads.Add(1)
		return nil
	}, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewPolicyWatcher: %v", err)
	}
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	path := filepath.Join(dir, "review.yaml")
	for range 3 {
		if err := os.WriteFile(path, []byte(reviewOnlyPolicy), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for reloads.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected a reload after writing a policy file")
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	if n := reloads.Load(); n > 2 {
		t.Errorf("expected writes to be debounced, got %d reloads", n)
	}
}

func TestPolicyWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	var reloads atomic.Int32
	w, err := NewPolicyWatcher(dir, func() error {
		reloads.Add(1)
		return nil
	}, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	w.Start(context.Background())

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)
	if n := reloads.Load(); n != 0 {
		t.Errorf("expected no reload for non-policy file, got %d", n)
	}
}

func TestPolicyWatcherMissingDir(t *testing.T) {
	if _, err := NewPolicyWatcher(filepath.Join(t.TempDir(), "missing"), func() error { return nil }, 0); err == nil {
		t.Fatal("expected error for a missing directory")
	}
}
