package pathseed

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulschiretz/pgl-mirror/pkg/mirror"
)

func newTestSeeder(t *testing.T, opts Options) (*Seeder, mirror.Roots) {
	t.Helper()
	roots := mirror.Roots{Watch: t.TempDir(), Output: t.TempDir()}
	exec := mirror.NewExecutor(roots, mirror.ExecutorOptions{})
	return NewSeeder(roots, exec, opts), roots
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestSeederMirrorsTree(t *testing.T) {
	s, roots := newTestSeeder(t, Options{Workers: 2})

	mustWrite(t, filepath.Join(roots.Watch, "top.txt"), "top")
	mustWrite(t, filepath.Join(roots.Watch, "a", "nested.txt"), "nested")
	mustWrite(t, filepath.Join(roots.Watch, "a", "b", "deep.txt"), "deep")
	if err := os.Symlink("top.txt", filepath.Join(roots.Watch, "link")); err != nil {
		t.Skipf("symlinks not supported here: %v", err)
	}

	sum, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if sum.Files != 3 {
		t.Errorf("Files = %d, want 3", sum.Files)
	}
	if sum.Dirs != 2 {
		t.Errorf("Dirs = %d, want 2", sum.Dirs)
	}
	if sum.Symlinks != 1 {
		t.Errorf("Symlinks = %d, want 1", sum.Symlinks)
	}
	if sum.Failures != 0 {
		t.Errorf("Failures = %d, want 0", sum.Failures)
	}

	for relPath, content := range map[string]string{
		"top.txt":                           "top",
		filepath.Join("a", "nested.txt"):    "nested",
		filepath.Join("a", "b", "deep.txt"): "deep",
	} {
		got, err := os.ReadFile(filepath.Join(roots.Output, relPath))
		if err != nil {
			t.Errorf("missing mirrored file %s: %v", relPath, err)
			continue
		}
		if string(got) != content {
			t.Errorf("mirrored %s = %q, want %q", relPath, got, content)
		}
	}

	target, err := os.Readlink(filepath.Join(roots.Output, "link"))
	if err != nil {
		t.Fatalf("mirrored symlink missing: %v", err)
	}
	if target != "top.txt" {
		t.Errorf("mirrored link target = %q, want %q", target, "top.txt")
	}
}

func TestSeederIsIdempotent(t *testing.T) {
	s, roots := newTestSeeder(t, Options{Workers: 1})

	source := filepath.Join(roots.Watch, "a", "file.txt")
	mustWrite(t, source, "v1")
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(source, old, old); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	mustWrite(t, source, "v2")
	sum, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if sum.Failures != 0 {
		t.Errorf("Failures = %d, want 0", sum.Failures)
	}

	got, err := os.ReadFile(filepath.Join(roots.Output, "a", "file.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v2" {
		t.Errorf("mirrored content = %q, want %q", got, "v2")
	}
}

func TestSeederSkipsUpToDateFiles(t *testing.T) {
	s, roots := newTestSeeder(t, Options{Workers: 1})

	source := filepath.Join(roots.Watch, "file.txt")
	mustWrite(t, source, "stable")
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(source, old, old); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	sum, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if sum.UpToDate != 1 {
		t.Errorf("UpToDate = %d, want 1", sum.UpToDate)
	}
	if sum.Files != 0 {
		t.Errorf("Files = %d, want 0", sum.Files)
	}
}

func TestSeederAppliesExclusions(t *testing.T) {
	s, roots := newTestSeeder(t, Options{
		Workers:      1,
		ExcludeFiles: []string{"*.tmp"},
		ExcludeDirs:  []string{"skipme"},
	})

	mustWrite(t, filepath.Join(roots.Watch, "keep.txt"), "x")
	mustWrite(t, filepath.Join(roots.Watch, "drop.tmp"), "x")
	mustWrite(t, filepath.Join(roots.Watch, "skipme", "inside.txt"), "x")

	sum, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Excluded != 2 {
		t.Errorf("Excluded = %d, want 2", sum.Excluded)
	}

	if _, err := os.Stat(filepath.Join(roots.Output, "keep.txt")); err != nil {
		t.Errorf("kept file missing: %v", err)
	}
	if _, err := os.Lstat(filepath.Join(roots.Output, "drop.tmp")); !os.IsNotExist(err) {
		t.Error("excluded file was mirrored")
	}
	if _, err := os.Lstat(filepath.Join(roots.Output, "skipme")); !os.IsNotExist(err) {
		t.Error("excluded directory was mirrored")
	}
}

func TestSeederSkipsHardlinkedFiles(t *testing.T) {
	s, roots := newTestSeeder(t, Options{Workers: 1})

	original := filepath.Join(roots.Watch, "original.txt")
	mustWrite(t, original, "x")
	if err := os.Link(original, filepath.Join(roots.Watch, "alias.txt")); err != nil {
		t.Skipf("hardlinks not supported here: %v", err)
	}

	sum, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Unsupported != 2 {
		t.Errorf("Unsupported = %d, want 2", sum.Unsupported)
	}
	if sum.Failures != 0 {
		t.Errorf("Failures = %d, want 0", sum.Failures)
	}
	if _, err := os.Lstat(filepath.Join(roots.Output, "original.txt")); !os.IsNotExist(err) {
		t.Error("hardlinked file was mirrored")
	}
}

func TestSeederFinalizesDirectoryMetadata(t *testing.T) {
	s, roots := newTestSeeder(t, Options{Workers: 1})

	dir := filepath.Join(roots.Watch, "restricted")
	mustWrite(t, filepath.Join(dir, "file.txt"), "x")
	if err := os.Chmod(dir, 0750); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	info, err := os.Lstat(filepath.Join(roots.Output, "restricted"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0750 {
		t.Errorf("mirrored dir permissions = %o, want 0750", info.Mode().Perm())
	}
}

func TestSeederHonorsCancellation(t *testing.T) {
	s, roots := newTestSeeder(t, Options{Workers: 1})
	mustWrite(t, filepath.Join(roots.Watch, "file.txt"), "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Run(ctx); err == nil {
		t.Error("expected an error from a canceled seed run, got nil")
	}
}
