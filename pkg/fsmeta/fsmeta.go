// Package fsmeta is the portable metadata capability of the mirror: a single
// read interface over an entry's permissions, timestamps, ownership and link
// count, with platform backends filling in what the host OS can provide, and
// fallible apply operations for the writable subset.
package fsmeta

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// EntryKind is the on-disk type of a filesystem entry, decided without ever
// following symlinks.
type EntryKind int

const (
	EntryRegular EntryKind = iota
	EntryDirectory
	EntrySymlink
	// EntryHardlink marks a regular file whose link count is greater than
	// one. Copying its bytes would silently break the link-sharing between
	// the source entries, so callers flag it instead of mirroring it.
	EntryHardlink
	EntryOther
)

// String returns a short name for logging.
func (k EntryKind) String() string {
	switch k {
	case EntryRegular:
		return "file"
	case EntryDirectory:
		return "dir"
	case EntrySymlink:
		return "symlink"
	case EntryHardlink:
		return "hardlink"
	default:
		return "other"
	}
}

// ErrOwnershipUnsupported is returned by SetOwner on platforms without a
// POSIX ownership concept. Callers report the skip and move on.
var ErrOwnershipUnsupported = errors.New("ownership changes are not supported on this platform")

// Metadata is a snapshot of an entry's portable metadata. UID and GID are -1
// when the platform does not expose ownership.
type Metadata struct {
	Mode       os.FileMode
	Size       int64
	ModTime    time.Time
	AccessTime time.Time
	UID        int
	GID        int
	Links      uint64
}

// Kind classifies the entry the metadata was read from. The symlink check
// comes first: a symlink must never be classified by the type of its target.
func (m Metadata) Kind() EntryKind {
	switch {
	case m.Mode&os.ModeSymlink != 0:
		return EntrySymlink
	case m.Mode.IsDir():
		return EntryDirectory
	case m.Mode.IsRegular():
		if m.Links > 1 {
			return EntryHardlink
		}
		return EntryRegular
	default:
		return EntryOther
	}
}

// Read returns the metadata of the entry at path without following a final
// symlink.
func Read(path string) (Metadata, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata for %s: %w", path, err)
	}
	return fromFileInfo(info), nil
}

// Probe reads the entry's metadata and classifies it in one call.
func Probe(path string) (EntryKind, Metadata, error) {
	md, err := Read(path)
	if err != nil {
		return EntryOther, Metadata{}, err
	}
	return md.Kind(), md, nil
}

// fromFileInfo builds a Metadata from an Lstat result, letting the platform
// backend fill in access time, ownership and link count.
func fromFileInfo(info os.FileInfo) Metadata {
	md := Metadata{
		Mode:       info.Mode(),
		Size:       info.Size(),
		ModTime:    info.ModTime(),
		AccessTime: info.ModTime(), // Fallback when the platform provides nothing better.
		UID:        -1,
		GID:        -1,
		Links:      1,
	}
	platformFill(&md, info)
	return md
}

// SetTimes applies the access and modification timestamps to the entry at
// path.
func SetTimes(path string, atime, mtime time.Time) error {
	if err := os.Chtimes(path, atime, mtime); err != nil {
		return fmt.Errorf("failed to set timestamps on %s: %w", path, err)
	}
	return nil
}
