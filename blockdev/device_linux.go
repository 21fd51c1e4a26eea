//go:build linux

package blockdev

import (
	"os"

	"golang.org/x/sys/unix"
)

// deviceSize returns the size in bytes of a real block device node via
// BLKGETSIZE64. For plain image files, or if the ioctl fails, it reports
// false and sizeOf falls back to a regular Stat().
func deviceSize(f *os.File) (int64, bool) {
	info, err := f.Stat()
	if err != nil || info.Mode()&os.ModeDevice == 0 {
		return 0, false
	}
	size, err := unix.IoctlGetUint64(int(f.Fd()), unix.BLKGETSIZE64)
	if err != nil {
		return 0, false
	}
	return int64(size), true
}
