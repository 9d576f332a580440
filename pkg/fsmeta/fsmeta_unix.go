//go:build !windows

package fsmeta

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// platformFill copies access time, ownership and link count out of the
// underlying stat structure.
func platformFill(md *Metadata, info os.FileInfo) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	md.UID = int(st.Uid)
	md.GID = int(st.Gid)
	md.Links = uint64(st.Nlink)
	md.AccessTime = statAtime(st)
}

// SetOwner applies the owning user and group to the entry at path without
// following a final symlink. A uid or gid of -1 leaves that id unchanged.
func SetOwner(path string, uid, gid int) error {
	if err := unix.Lchown(path, uid, gid); err != nil {
		return fmt.Errorf("failed to set owner %d:%d on %s: %w", uid, gid, path, err)
	}
	return nil
}
