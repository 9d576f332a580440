// Package patharchive snapshots the destination tree into a compressed tar
// archive before a mirror run starts overwriting it. Archives are staged as
// a temp file next to the final path and renamed into place, so an aborted
// run never leaves a half-written archive behind.
package patharchive

import (
	"archive/tar"
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

// Format selects the archive compression.
type Format int

const (
	TarGz Format = iota
	TarZst
)

// FormatFromString parses a config value into a Format.
func FormatFromString(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tar.gz", "targz", "gz":
		return TarGz, nil
	case "tar.zst", "tarzst", "zst", "zstd":
		return TarZst, nil
	default:
		return TarGz, fmt.Errorf("unknown archive format %q", s)
	}
}

// Extension returns the archive file extension including the leading dot.
func (f Format) Extension() string {
	if f == TarZst {
		return ".tar.zst"
	}
	return ".tar.gz"
}

func (f Format) String() string {
	return strings.TrimPrefix(f.Extension(), ".")
}

// Options configure an Archiver.
type Options struct {
	Format Format
	// SkipNames are entry basenames never archived (lock and config files
	// living inside the tree).
	SkipNames []string
	DryRun    bool
}

// Archiver writes pre-run snapshots of a directory tree.
type Archiver struct {
	format    Format
	skipNames map[string]struct{}
	dryRun    bool
}

// NewArchiver creates an Archiver.
func NewArchiver(opts Options) *Archiver {
	skip := make(map[string]struct{}, len(opts.SkipNames))
	for _, name := range opts.SkipNames {
		skip[name] = struct{}{}
	}
	return &Archiver{format: opts.Format, skipNames: skip, dryRun: opts.DryRun}
}

// ArchiveName returns the timestamped archive filename for a run starting
// at the given time.
func (a *Archiver) ArchiveName(start time.Time) string {
	return "pgl-mirror_" + start.Format("2006-01-02_15-04-05") + a.format.Extension()
}

// Archive snapshots sourceDir into archiveDir and returns the final archive
// path. An empty sourceDir still produces a (header-only) archive.
func (a *Archiver) Archive(ctx context.Context, sourceDir, archiveDir string) (string, error) {
	finalPath := filepath.Join(archiveDir, a.ArchiveName(time.Now()))

	plog.Notice("ARCHIVE", "source", sourceDir, "archive", finalPath)
	if a.dryRun {
		plog.Notice("[DRY RUN] ARCHIVE", "source", sourceDir, "archive", finalPath)
		return finalPath, nil
	}

	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	out, err := os.CreateTemp(archiveDir, "pgl-mirror-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp archive: %w", err)
	}
	tempPath := out.Name()
	defer func() {
		if tempPath != "" {
			out.Close()
			os.Remove(tempPath)
		}
	}()

	if err := a.writeArchive(ctx, sourceDir, out); err != nil {
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp archive: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		return "", fmt.Errorf("failed to move archive into place: %w", err)
	}
	tempPath = ""
	return finalPath, nil
}

func (a *Archiver) writeArchive(ctx context.Context, sourceDir string, out io.Writer) error {
	bufWriter := bufio.NewWriterSize(out, 512*1024)

	var compressed io.WriteCloser
	if a.format == TarZst {
		zw, err := zstd.NewWriter(bufWriter, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		compressed = zw
	} else {
		gw, err := pgzip.NewWriterLevel(bufWriter, pgzip.DefaultCompression)
		if err != nil {
			return fmt.Errorf("failed to create gzip writer: %w", err)
		}
		compressed = gw
	}

	tw := tar.NewWriter(compressed)

	err := filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			plog.Warn("Cannot access path, skipping in archive", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == sourceDir {
			return nil
		}
		if _, skip := a.skipNames[d.Name()]; skip {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		return a.addEntry(tw, sourceDir, path, d)
	})
	if err != nil {
		return fmt.Errorf("archive walk failed: %w", err)
	}

	// Close order matters: tar trailer, then compressor flush, then the
	// buffered writer.
	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finalize tar stream: %w", err)
	}
	if err := compressed.Close(); err != nil {
		return fmt.Errorf("failed to finalize compression: %w", err)
	}
	if err := bufWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush archive: %w", err)
	}
	return nil
}

func (a *Archiver) addEntry(tw *tar.Writer, sourceDir, path string, d fs.DirEntry) error {
	relPath, err := filepath.Rel(sourceDir, path)
	if err != nil {
		return fmt.Errorf("failed to compute archive path for %s: %w", path, err)
	}

	info, err := d.Info()
	if err != nil {
		plog.Warn("Cannot stat entry, skipping in archive", "path", path, "error", err)
		return nil
	}

	var linkTarget string
	if info.Mode()&os.ModeSymlink != 0 {
		linkTarget, err = os.Readlink(path)
		if err != nil {
			plog.Warn("Cannot read link target, skipping in archive", "path", path, "error", err)
			return nil
		}
	} else if !info.Mode().IsRegular() && !info.IsDir() {
		plog.Warn("Skipping special entry in archive", "path", path, "mode", info.Mode().String())
		return nil
	}

	hdr, err := tar.FileInfoHeader(info, linkTarget)
	if err != nil {
		return fmt.Errorf("failed to build tar header for %s: %w", path, err)
	}
	hdr.Name = filepath.ToSlash(relPath)
	if info.IsDir() {
		hdr.Name += "/"
	}

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s for archiving: %w", path, err)
	}
	defer in.Close()

	if _, err := io.Copy(tw, in); err != nil {
		return fmt.Errorf("failed to archive content of %s: %w", path, err)
	}
	return nil
}
