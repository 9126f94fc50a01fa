//go:build darwin

package tool

import (
	"io/fs"
	"syscall"
	"time"
)

// fileCtime extracts the inode change time from stat metadata.
func fileCtime(info fs.FileInfo) (time.Time, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(st.Ctimespec.Sec, st.Ctimespec.Nsec), true
}
