//go:build !windows && !linux && !darwin

package fsmeta

import (
	"syscall"
	"time"
)

// Other unixes keep different field names for the access timestamp; fall
// back to the modification time rather than maintaining one file per OS.
func statAtime(st *syscall.Stat_t) time.Time {
	return time.Unix(st.Mtim.Sec, st.Mtim.Nsec)
}
