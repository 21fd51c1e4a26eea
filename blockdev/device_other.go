//go:build !linux

package blockdev

import "os"

// deviceSize has no portable ioctl for raw device nodes outside Linux;
// callers fall back to Stat().Size(), which the OS reports correctly for
// device files on Darwin and BSD too, just not through this code path.
func deviceSize(_ *os.File) (int64, bool) {
	return 0, false
}
