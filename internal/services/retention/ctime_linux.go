//go:build linux

package retention

import (
	"os"
	"syscall"
	"time"
)

// changeTime returns the inode status-change time of info, falling back to the
// modification time for filesystems that do not expose it.
func changeTime(info os.FileInfo) time.Time {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
	}
	return info.ModTime()
}
