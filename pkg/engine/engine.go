// Package engine runs the mirror daemon: it acquires the destination lock,
// optionally archives and seeds the destination, then pulls change events
// from the notification source and replays them one at a time. Event
// handling is strictly sequential and memoryless; every event is classified
// and executed against current on-disk state only.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-mirror/pkg/buildinfo"
	"github.com/paulschiretz/pgl-mirror/pkg/config"
	"github.com/paulschiretz/pgl-mirror/pkg/lockfile"
	"github.com/paulschiretz/pgl-mirror/pkg/metrics"
	"github.com/paulschiretz/pgl-mirror/pkg/mirror"
	"github.com/paulschiretz/pgl-mirror/pkg/mirrorpath"
	"github.com/paulschiretz/pgl-mirror/pkg/notify"
	"github.com/paulschiretz/pgl-mirror/pkg/patharchive"
	"github.com/paulschiretz/pgl-mirror/pkg/pathseed"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// progressInterval is how often a running daemon logs its counters.
const progressInterval = 60 * time.Second

// Engine is one configured daemon run.
type Engine struct {
	cfg config.Config

	roots        mirror.Roots
	exec         *mirror.Executor
	metrics      metrics.Metrics
	fileExcludes *pathseed.ExcludeSet
	dirExcludes  *pathseed.ExcludeSet
}

// New creates an Engine from a validated configuration.
func New(cfg config.Config) *Engine {
	var m metrics.Metrics = &metrics.NoopMetrics{}
	if cfg.Engine.Metrics {
		m = &metrics.MirrorMetrics{}
	}
	return &Engine{
		cfg:          cfg,
		metrics:      m,
		fileExcludes: pathseed.NewExcludeSet(cfg.Sync.ExcludeFiles()),
		dirExcludes:  pathseed.NewExcludeSet(cfg.Sync.ExcludeDirs()),
	}
}

// Run executes the daemon until ctx is cancelled or the notification source
// fails to start. Setup errors are fatal; per-event errors are logged and
// the loop continues.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.resolveRoots(); err != nil {
		return err
	}
	plog.Notice("MIRROR", "source", e.roots.Watch, "output", e.roots.Output, "dry_run", e.cfg.Runtime.DryRun)

	if !e.cfg.Runtime.DryRun {
		lock, err := lockfile.AcquireInDir(ctx, e.roots.Output, buildinfo.Name, lockfile.DefaultHeartbeat)
		if err != nil {
			return fmt.Errorf("failed to lock output root: %w", err)
		}
		defer lock.Release()
	}

	if e.cfg.Archive.Enabled {
		if err := e.archiveOutput(ctx); err != nil {
			return err
		}
	}

	e.exec = mirror.NewExecutor(e.roots, mirror.ExecutorOptions{
		BufferSizeKB: e.cfg.Engine.Performance.BufferSizeKB,
		DryRun:       e.cfg.Runtime.DryRun,
	})

	// The source starts watching before the seed pass so mutations racing
	// the seed are replayed, not lost.
	source, err := notify.NewSource(e.roots.Watch, notify.Options{
		RenameWindow: time.Duration(e.cfg.Engine.RenameWindowMillis) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("failed to create notification source: %w", err)
	}
	if err := source.Start(); err != nil {
		return fmt.Errorf("failed to start watching %s: %w", e.roots.Watch, err)
	}

	if e.cfg.Seed.Enabled {
		if err := e.seedOutput(ctx); err != nil {
			source.Close()
			return err
		}
	}

	e.metrics.StartProgress("PROGRESS", progressInterval)
	defer func() {
		e.metrics.StopProgress()
		e.metrics.LogSummary("SUMMARY")
	}()

	plog.Notice("WATCHING", "source", e.roots.Watch)

	ctxDone := ctx.Done()
	for {
		select {
		case <-ctxDone:
			// Close the source and drain what it already delivered; the
			// events channel closing ends the loop.
			ctxDone = nil
			plog.Notice("SHUTDOWN", "reason", ctx.Err())
			source.Close()
		case err, ok := <-source.Errors():
			if ok {
				plog.Warn("Watch error", "error", err)
				e.metrics.AddFailures(1)
			}
		case ev, ok := <-source.Events():
			if !ok {
				return nil
			}
			e.handleEvent(ev)
		}
	}
}

// resolveRoots canonicalizes both roots, creating the output root if it
// does not exist yet.
func (e *Engine) resolveRoots() error {
	watch, err := canonicalizeDir(e.cfg.Source)
	if err != nil {
		return fmt.Errorf("invalid source path: %w", err)
	}

	if err := os.MkdirAll(e.cfg.OutputBase, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create output root: %w", err)
	}
	output, err := canonicalizeDir(e.cfg.OutputBase)
	if err != nil {
		return fmt.Errorf("invalid output path: %w", err)
	}

	e.roots = mirror.Roots{Watch: watch, Output: output}
	return nil
}

func canonicalizeDir(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", resolved)
	}
	return resolved, nil
}

func (e *Engine) archiveOutput(ctx context.Context) error {
	format, err := patharchive.FormatFromString(e.cfg.Archive.Format)
	if err != nil {
		return err
	}
	archiver := patharchive.NewArchiver(patharchive.Options{
		Format:    format,
		SkipNames: []string{lockfile.LockFileName, config.ConfigFileName},
		DryRun:    e.cfg.Runtime.DryRun,
	})
	if _, err := archiver.Archive(ctx, e.roots.Output, e.cfg.ArchiveDir()); err != nil {
		return fmt.Errorf("failed to archive output root: %w", err)
	}
	return nil
}

func (e *Engine) seedOutput(ctx context.Context) error {
	seeder := pathseed.NewSeeder(e.roots, e.exec, pathseed.Options{
		Workers:      e.cfg.Engine.Performance.Workers,
		ExcludeFiles: e.cfg.Sync.ExcludeFiles(),
		ExcludeDirs:  e.cfg.Sync.ExcludeDirs(),
	})

	plog.Notice("SEED", "source", e.roots.Watch, "output", e.roots.Output)
	sum, err := seeder.Run(ctx)
	if err != nil {
		return fmt.Errorf("seed pass failed: %w", err)
	}
	plog.Notice("SEED COMPLETE",
		"files", sum.Files,
		"uptodate", sum.UpToDate,
		"dirs", sum.Dirs,
		"symlinks", sum.Symlinks,
		"unsupported", sum.Unsupported,
		"excluded", sum.Excluded,
		"failures", sum.Failures,
	)
	return nil
}

// handleEvent replays one change event. Failures are reported and
// swallowed; the loop never stops for a single event.
func (e *Engine) handleEvent(ev notify.Event) {
	e.metrics.AddEventsSeen(1)

	if e.isExcluded(ev) {
		plog.Info("IGNORE", "reason", "excluded by pattern", "path", ev.Path())
		e.metrics.AddIgnored(1)
		return
	}

	action, err := mirror.Classify(e.roots, ev)
	if err != nil {
		plog.Warn("Cannot classify event", "kind", ev.Kind, "path", ev.Path(), "error", err)
		e.metrics.AddFailures(1)
		return
	}

	e.logAction(action)

	if err := e.exec.Execute(action); err != nil {
		plog.Warn("Mirror action failed", "op", action.Op, "source", action.Source, "dest", action.Dest, "error", err)
		e.metrics.AddFailures(1)
		return
	}
	e.countAction(action)
}

// isExcluded checks every path the event names against both exclusion
// sets. The entry is often gone by the time the event arrives, so the
// check cannot rely on knowing whether the path is a directory.
func (e *Engine) isExcluded(ev notify.Event) bool {
	for _, path := range ev.Paths {
		rel, err := mirrorpath.Rel(e.roots.Watch, path)
		if err != nil {
			continue
		}
		if e.fileExcludes.Match(rel) || e.dirExcludes.Match(rel) {
			return true
		}
	}
	return false
}

func (e *Engine) logAction(a mirror.Action) {
	name := strings.ToUpper(a.Op.String())
	switch a.Op {
	case mirror.OpIgnore:
		plog.Info(name, "reason", a.Reason, "path", a.Source)
	case mirror.OpUnsupported:
		plog.Warn(name, "reason", a.Reason, "path", a.Source)
	case mirror.OpRenameEntry:
		plog.Info(name, "from", a.DestOld, "to", a.Dest)
	default:
		plog.Info(name, "source", a.Source, "dest", a.Dest)
	}
}

func (e *Engine) countAction(a mirror.Action) {
	switch a.Op {
	case mirror.OpCopyFile:
		e.metrics.AddFilesCopied(1)
	case mirror.OpCreateDir:
		e.metrics.AddDirsCreated(1)
	case mirror.OpCreateSymlink:
		e.metrics.AddSymlinksCreated(1)
	case mirror.OpRemoveEntry:
		e.metrics.AddEntriesRemoved(1)
	case mirror.OpRenameEntry:
		e.metrics.AddEntriesRenamed(1)
	case mirror.OpSyncMetadata:
		e.metrics.AddMetadataSynced(1)
	case mirror.OpUnsupported:
		e.metrics.AddUnsupported(1)
	case mirror.OpIgnore:
		e.metrics.AddIgnored(1)
	}
}
