// Package pathseed brings a destination tree up to date with the source
// tree once, before watching starts. The walk mirrors directories in walk
// order on the walking goroutine itself, so a parent always exists before
// anything inside it; file and symlink work fans out to a worker pool.
// Directory metadata is finalized deepest-first after all content is in
// place, because copying into a directory disturbs its modification time.
package pathseed

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paulschiretz/pgl-mirror/pkg/fsmeta"
	"github.com/paulschiretz/pgl-mirror/pkg/mirror"
	"github.com/paulschiretz/pgl-mirror/pkg/mirrorpath"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

// Options configure a Seeder.
type Options struct {
	// Workers is the size of the file worker pool. Zero means one worker
	// per CPU.
	Workers int
	// ExcludeFiles and ExcludeDirs are exclusion patterns applied to
	// slash-normalized paths relative to the watch root.
	ExcludeFiles []string
	ExcludeDirs  []string
}

// Summary counts what one seed pass did.
type Summary struct {
	Files       int64
	UpToDate    int64
	Dirs        int64
	Symlinks    int64
	Unsupported int64
	Excluded    int64
	Failures    int64
}

// modTimeWindow is the tolerance within which source and destination
// modification times count as equal. Filesystems differ in timestamp
// resolution, so an exact comparison would re-copy everything.
const modTimeWindow = time.Second

// Seeder performs the initial full pass over the source tree, executing the
// same actions the watch loop would, through the same executor.
type Seeder struct {
	roots        mirror.Roots
	exec         *mirror.Executor
	workers      int
	fileExcludes *ExcludeSet
	dirExcludes  *ExcludeSet
}

type seedTask struct {
	action mirror.Action
	kind   fsmeta.EntryKind
}

// NewSeeder creates a Seeder sharing the watch loop's executor.
func NewSeeder(roots mirror.Roots, exec *mirror.Executor, opts Options) *Seeder {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Seeder{
		roots:        roots,
		exec:         exec,
		workers:      workers,
		fileExcludes: NewExcludeSet(opts.ExcludeFiles),
		dirExcludes:  NewExcludeSet(opts.ExcludeDirs),
	}
}

// Run walks the source tree and mirrors it. Per-entry failures are logged
// and counted, never fatal; the returned error covers only walk failure or
// context cancellation.
func (s *Seeder) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	var failures, files, symlinks, upToDate atomic.Int64

	tasks := make(chan seedTask, 256)
	var seededDirs []string // source paths, in walk order

	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < s.workers; i++ {
		g.Go(func() error {
			for task := range tasks {
				if task.kind == fsmeta.EntryRegular && s.isUpToDate(task) {
					upToDate.Add(1)
					continue
				}
				if err := s.executeTask(task); err != nil {
					plog.Warn("Seed entry failed", "source", task.action.Source, "error", err)
					failures.Add(1)
					continue
				}
				if task.kind == fsmeta.EntrySymlink {
					symlinks.Add(1)
				} else {
					files.Add(1)
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(tasks)
		return filepath.WalkDir(s.roots.Watch, func(path string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				plog.Warn("Cannot access path, skipping", "path", path, "error", err)
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			relPath, err := mirrorpath.Rel(s.roots.Watch, path)
			if err != nil {
				plog.Warn("Cannot compute relative path, skipping", "path", path, "error", err)
				return nil
			}
			if relPath == "." {
				seededDirs = append(seededDirs, path)
				return nil
			}

			if d.IsDir() {
				if s.dirExcludes.Match(relPath) {
					plog.Info("SKIPDIR", "reason", "excluded by pattern", "dir", relPath)
					sum.Excluded++
					return filepath.SkipDir
				}
				if err := s.seedDir(path); err != nil {
					plog.Warn("Seed directory failed, skipping subtree", "dir", relPath, "error", err)
					sum.Failures++
					return filepath.SkipDir
				}
				sum.Dirs++
				seededDirs = append(seededDirs, path)
				return nil
			}

			if s.fileExcludes.Match(relPath) {
				plog.Info("SKIP", "reason", "excluded by pattern", "file", relPath)
				sum.Excluded++
				return nil
			}

			task, ok := s.classifyEntry(path, relPath, &sum)
			if !ok {
				return nil
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case tasks <- task:
				return nil
			}
		})
	})

	if err := g.Wait(); err != nil {
		return sum, fmt.Errorf("seed walk aborted: %w", err)
	}

	s.finalizeDirMetadata(seededDirs, &sum)

	sum.Files = files.Load()
	sum.UpToDate = upToDate.Load()
	sum.Symlinks = symlinks.Load()
	sum.Failures += failures.Load()
	return sum, nil
}

// classifyEntry builds the task for a non-directory entry, counting the
// unsupported ones.
func (s *Seeder) classifyEntry(path, relPath string, sum *Summary) (seedTask, bool) {
	kind, _, err := fsmeta.Probe(path)
	if err != nil {
		plog.Warn("Cannot probe entry, skipping", "path", relPath, "error", err)
		sum.Failures++
		return seedTask{}, false
	}

	dest, err := mirrorpath.Remap(s.roots.Watch, s.roots.Output, path)
	if err != nil {
		plog.Warn("Cannot remap entry, skipping", "path", relPath, "error", err)
		sum.Failures++
		return seedTask{}, false
	}

	switch kind {
	case fsmeta.EntryRegular:
		return seedTask{action: mirror.Action{Op: mirror.OpCopyFile, Source: path, Dest: dest}, kind: kind}, true
	case fsmeta.EntrySymlink:
		return seedTask{action: mirror.Action{Op: mirror.OpCreateSymlink, Source: path, Dest: dest}, kind: kind}, true
	case fsmeta.EntryHardlink:
		plog.Warn("UNSUPPORTED", "reason", "hardlink", "path", relPath)
		sum.Unsupported++
		return seedTask{}, false
	default:
		plog.Warn("UNSUPPORTED", "reason", fmt.Sprintf("entry kind %s", kind), "path", relPath)
		sum.Unsupported++
		return seedTask{}, false
	}
}

// isUpToDate short-circuits a copy when the destination is already a
// regular file of the same size and modification time.
func (s *Seeder) isUpToDate(task seedTask) bool {
	srcMd, err := fsmeta.Read(task.action.Source)
	if err != nil {
		return false
	}
	destInfo, err := os.Lstat(task.action.Dest)
	if err != nil || !destInfo.Mode().IsRegular() {
		return false
	}
	if destInfo.Size() != srcMd.Size {
		return false
	}
	diff := srcMd.ModTime.Sub(destInfo.ModTime())
	if diff < 0 {
		diff = -diff
	}
	return diff <= modTimeWindow
}

// executeTask runs one file or symlink action. Symlinks cannot be created
// over an existing destination entry, so a leftover from a previous run is
// removed first.
func (s *Seeder) executeTask(task seedTask) error {
	if task.kind == fsmeta.EntrySymlink {
		if _, err := os.Lstat(task.action.Dest); err == nil {
			if err := s.exec.Execute(mirror.Action{Op: mirror.OpRemoveEntry, Dest: task.action.Dest}); err != nil {
				return err
			}
		}
	}
	return s.exec.Execute(task.action)
}

// seedDir mirrors one directory on the walking goroutine. A destination
// directory surviving from a previous run is fine; its metadata is brought
// in line by the finalization pass.
func (s *Seeder) seedDir(path string) error {
	dest, err := mirrorpath.Remap(s.roots.Watch, s.roots.Output, path)
	if err != nil {
		return err
	}
	err = s.exec.Execute(mirror.Action{Op: mirror.OpCreateDir, Source: path, Dest: dest})
	if err != nil && !errors.Is(err, fs.ErrExist) {
		return err
	}
	return nil
}

// finalizeDirMetadata applies directory permissions and timestamps
// deepest-first, after all content writes that would disturb them.
func (s *Seeder) finalizeDirMetadata(dirs []string, sum *Summary) {
	sort.Slice(dirs, func(i, j int) bool {
		return strings.Count(dirs[i], string(filepath.Separator)) > strings.Count(dirs[j], string(filepath.Separator))
	})

	for _, dir := range dirs {
		dest, err := mirrorpath.Remap(s.roots.Watch, s.roots.Output, dir)
		if err != nil {
			continue
		}
		if err := s.exec.Execute(mirror.Action{Op: mirror.OpSyncMetadata, Source: dir, Dest: dest}); err != nil {
			plog.Warn("Directory metadata finalization failed", "dir", dir, "error", err)
			sum.Failures++
		}
	}
}
