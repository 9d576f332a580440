package mirror

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/paulschiretz/pgl-mirror/pkg/fsmeta"
	"github.com/paulschiretz/pgl-mirror/pkg/mirrorpath"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// DefaultBufferSizeKB is the copy buffer size used when none is configured.
const DefaultBufferSizeKB = 256

// ExecutorOptions tune an Executor.
type ExecutorOptions struct {
	// BufferSizeKB is the I/O buffer size for file copies in kilobytes.
	BufferSizeKB int
	// DryRun logs the mutation each action would perform without touching
	// the destination tree.
	DryRun bool
}

// Executor performs classified actions against the destination tree. Every
// target it writes to is the output of a successful remap, so it never
// mutates anything outside the output root. An Executor is safe for
// concurrent use.
type Executor struct {
	roots        Roots
	dryRun       bool
	ioBufferPool sync.Pool
}

// NewExecutor creates an Executor for the given roots.
func NewExecutor(roots Roots, opts ExecutorOptions) *Executor {
	bufSizeKB := opts.BufferSizeKB
	if bufSizeKB <= 0 {
		bufSizeKB = DefaultBufferSizeKB
	}
	return &Executor{
		roots:  roots,
		dryRun: opts.DryRun,
		ioBufferPool: sync.Pool{
			New: func() any {
				b := make([]byte, bufSizeKB*1024)
				return &b
			},
		},
	}
}

// Execute performs the mutation an action calls for. A returned error covers
// exactly this action; it carries the operation and both paths so the
// failure can be diagnosed, and the caller continues with the next event.
func (x *Executor) Execute(a Action) error {
	switch a.Op {
	case OpIgnore:
		return nil
	case OpUnsupported:
		return nil
	}

	if x.dryRun {
		plog.Notice("[DRY RUN] "+a.Op.String(), "source", a.Source, "dest", a.Dest)
		return nil
	}

	switch a.Op {
	case OpCopyFile:
		return x.copyFile(a)
	case OpCreateDir:
		return x.createDir(a)
	case OpCreateSymlink:
		return x.createSymlink(a)
	case OpRemoveEntry:
		return x.removeEntry(a)
	case OpRenameEntry:
		return x.renameEntry(a)
	case OpSyncMetadata:
		return x.syncMetadata(a)
	default:
		return fmt.Errorf("unknown mirror operation %d", a.Op)
	}
}

// copyFile replaces the destination with the full content of the source
// file. The content is staged into a temp file in the destination directory
// and renamed into place, so a half-written file never sits at the final
// path. Missing destination parents are created first.
func (x *Executor) copyFile(a Action) (retErr error) {
	in, err := os.Open(a.Source)
	if err != nil {
		return fmt.Errorf("copy %s -> %s: failed to open source: %w", a.Source, a.Dest, err)
	}
	defer in.Close()

	srcInfo, err := in.Stat()
	if err != nil {
		return fmt.Errorf("copy %s -> %s: failed to stat source: %w", a.Source, a.Dest, err)
	}

	destDir := filepath.Dir(a.Dest)
	if err := os.MkdirAll(destDir, util.WithUserWritePermission(util.UserWritableDirPerms)); err != nil {
		return fmt.Errorf("copy %s -> %s: failed to create parent directories: %w", a.Source, a.Dest, err)
	}

	out, err := os.CreateTemp(destDir, "pgl-mirror-*.tmp")
	if err != nil {
		return fmt.Errorf("copy %s -> %s: failed to create temporary file: %w", a.Source, a.Dest, err)
	}

	tempPath := out.Name()
	// If the rename succeeds tempPath is cleared, making this a no-op.
	defer func() {
		if tempPath != "" {
			os.Remove(tempPath)
		}
	}()

	bufPtr := x.ioBufferPool.Get().(*[]byte)
	defer x.ioBufferPool.Put(bufPtr)

	if _, err := io.CopyBuffer(out, in, *bufPtr); err != nil {
		out.Close()
		return fmt.Errorf("copy %s -> %s: failed to copy content: %w", a.Source, a.Dest, err)
	}

	if err := out.Chmod(srcInfo.Mode().Perm()); err != nil {
		out.Close()
		return fmt.Errorf("copy %s -> %s: failed to set permissions: %w", a.Source, a.Dest, err)
	}

	// Close before Chtimes; flushing on close may touch the modification
	// time.
	if err := out.Close(); err != nil {
		return fmt.Errorf("copy %s -> %s: failed to close temporary file: %w", a.Source, a.Dest, err)
	}

	if err := os.Chtimes(tempPath, srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		return fmt.Errorf("copy %s -> %s: failed to set timestamps: %w", a.Source, a.Dest, err)
	}

	if err := os.Rename(tempPath, a.Dest); err != nil {
		return fmt.Errorf("copy %s -> %s: failed to move into place: %w", a.Source, a.Dest, err)
	}
	tempPath = ""
	return nil
}

// createDir creates exactly the mirrored directory with the source's
// permission bits. The create is deliberately non-recursive: parents are
// mirrored by their own events.
func (x *Executor) createDir(a Action) error {
	perm := util.UserWritableDirPerms
	if md, err := fsmeta.Read(a.Source); err == nil {
		perm = md.Mode.Perm()
	}
	if err := os.Mkdir(a.Dest, util.WithUserWritePermission(perm)); err != nil {
		return fmt.Errorf("mkdir %s: %w", a.Dest, err)
	}
	return nil
}

// createSymlink recreates the source symlink at the destination. A link
// target under the watch root is remapped like any entry path; any other
// target (absolute elsewhere, or relative) is preserved verbatim.
func (x *Executor) createSymlink(a Action) error {
	target, err := os.Readlink(a.Source)
	if err != nil {
		return fmt.Errorf("symlink %s: failed to read link target: %w", a.Source, err)
	}

	mirroredTarget := target
	if remapped, err := mirrorpath.Remap(x.roots.Watch, x.roots.Output, target); err == nil {
		mirroredTarget = remapped
	}

	if err := os.Symlink(mirroredTarget, a.Dest); err != nil {
		return fmt.Errorf("symlink %s -> %s: %w", a.Dest, mirroredTarget, err)
	}
	return nil
}

// removeEntry removes the destination entry: recursively when it is a
// directory at removal time, as a single entry otherwise. A destination
// that is already gone counts as done.
func (x *Executor) removeEntry(a Action) error {
	info, err := os.Lstat(a.Dest)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("remove %s: failed to inspect destination: %w", a.Dest, err)
	}

	if info.IsDir() {
		if err := os.RemoveAll(a.Dest); err != nil {
			return fmt.Errorf("remove %s: %w", a.Dest, err)
		}
		return nil
	}
	if err := os.Remove(a.Dest); err != nil {
		return fmt.Errorf("remove %s: %w", a.Dest, err)
	}
	return nil
}

// renameEntry atomically renames the destination entry between the two
// remapped endpoints. Classification guarantees both endpoints are valid
// mirrored paths before this runs.
func (x *Executor) renameEntry(a Action) error {
	if err := os.Rename(a.DestOld, a.Dest); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", a.DestOld, a.Dest, err)
	}
	return nil
}

// syncMetadata re-reads the source metadata and applies permissions,
// timestamps and ownership to the destination independently: one property
// failing does not stop the next, and every failure is reported on its own.
func (x *Executor) syncMetadata(a Action) error {
	md, err := fsmeta.Read(a.Source)
	if err != nil {
		return fmt.Errorf("syncmeta %s: %w", a.Dest, err)
	}

	var errs []error

	if err := os.Chmod(a.Dest, md.Mode.Perm()); err != nil {
		err = fmt.Errorf("syncmeta %s: failed to set permissions: %w", a.Dest, err)
		plog.Warn("Failed to apply permissions", "source", a.Source, "dest", a.Dest, "error", err)
		errs = append(errs, err)
	}

	if err := fsmeta.SetTimes(a.Dest, md.AccessTime, md.ModTime); err != nil {
		err = fmt.Errorf("syncmeta %s: %w", a.Dest, err)
		plog.Warn("Failed to apply timestamps", "source", a.Source, "dest", a.Dest, "error", err)
		errs = append(errs, err)
	}

	if md.UID >= 0 {
		if err := fsmeta.SetOwner(a.Dest, md.UID, md.GID); err != nil {
			if errors.Is(err, fsmeta.ErrOwnershipUnsupported) {
				plog.Debug("Skipping ownership sync", "dest", a.Dest, "reason", err)
			} else {
				err = fmt.Errorf("syncmeta %s: %w", a.Dest, err)
				plog.Warn("Failed to apply ownership", "source", a.Source, "dest", a.Dest, "error", err)
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}
