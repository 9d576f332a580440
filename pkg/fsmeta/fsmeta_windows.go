package fsmeta

import (
	"os"
	"syscall"
	"time"
)

// platformFill extracts the access time from the Win32 attribute data.
// Windows exposes neither POSIX ownership nor a usable link count here, so
// the portable defaults stand.
func platformFill(md *Metadata, info os.FileInfo) {
	if attrs, ok := info.Sys().(*syscall.Win32FileAttributeData); ok {
		md.AccessTime = time.Unix(0, attrs.LastAccessTime.Nanoseconds())
	}
}

// SetOwner is a reported no-op on Windows; there is no POSIX ownership to
// apply.
func SetOwner(path string, uid, gid int) error {
	return ErrOwnershipUnsupported
}
