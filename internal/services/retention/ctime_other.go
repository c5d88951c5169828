//go:build !linux

package retention

import (
	"os"
	"time"
)

func changeTime(info os.FileInfo) time.Time {
	return info.ModTime()
}
