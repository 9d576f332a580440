package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireInDir(context.Background(), dir, "test-app", time.Minute)
	if err != nil {
		t.Fatalf("failed to acquire lock: %v", err)
	}

	lockPath := filepath.Join(dir, LockFileName)
	if lock.Path() != lockPath {
		t.Errorf("Path() = %q, want %q", lock.Path(), lockPath)
	}
	if _, err := os.Stat(lockPath); err != nil {
		t.Fatalf("lock file missing after acquire: %v", err)
	}

	lock.Release()
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Fatal("lock file still present after release")
	}

	// A second release is a no-op.
	lock.Release()
}

func TestAcquireWritesContent(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireInDir(context.Background(), dir, "test-app", time.Minute)
	if err != nil {
		t.Fatalf("failed to acquire lock: %v", err)
	}
	defer lock.Release()

	data, err := os.ReadFile(lock.Path())
	if err != nil {
		t.Fatal(err)
	}
	var content LockContent
	if err := json.Unmarshal(data, &content); err != nil {
		t.Fatalf("lock file is not valid JSON: %v", err)
	}
	if content.PID != int64(os.Getpid()) {
		t.Errorf("PID = %d, want %d", content.PID, os.Getpid())
	}
	if content.AppID != "test-app" {
		t.Errorf("AppID = %q, want %q", content.AppID, "test-app")
	}
	if content.Nonce == "" {
		t.Error("Nonce is empty")
	}
	if time.Since(content.LastUpdate) > time.Minute {
		t.Errorf("LastUpdate = %v, too old", content.LastUpdate)
	}
}

func TestContention(t *testing.T) {
	dir := t.TempDir()

	lock1, err := AcquireInDir(context.Background(), dir, "app-1", time.Minute)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	defer lock1.Release()

	_, err = AcquireInDir(context.Background(), dir, "app-2", time.Minute)
	if err == nil {
		t.Fatal("second acquire unexpectedly succeeded on an active lock")
	}
	var lockErr *ErrLockActive
	if !errors.As(err, &lockErr) {
		t.Fatalf("error type = %T, want *ErrLockActive (%v)", err, err)
	}
	if lockErr.AppID != "app-1" {
		t.Errorf("holder AppID = %q, want %q", lockErr.AppID, "app-1")
	}
}

func TestStaleLockIsTakenOver(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, LockFileName)

	stale := LockContent{
		PID:        99999,
		Hostname:   "dead-host",
		Nonce:      "stale",
		LastUpdate: time.Now().Add(-10 * time.Minute),
		AppID:      "dead-app",
	}
	data, err := json.Marshal(stale)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(lockPath, data, 0644); err != nil {
		t.Fatal(err)
	}

	lock, err := AcquireInDir(context.Background(), dir, "live-app", time.Minute)
	if err != nil {
		t.Fatalf("failed to take over stale lock: %v", err)
	}
	defer lock.Release()

	got, err := readContent(lockPath)
	if err != nil {
		t.Fatal(err)
	}
	if got.AppID != "live-app" {
		t.Errorf("holder AppID after takeover = %q, want %q", got.AppID, "live-app")
	}
}

func TestAcquireHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := AcquireInDir(ctx, t.TempDir(), "app", time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
