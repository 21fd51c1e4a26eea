package pintos

import "errors"

// Sentinel errors returned by facade operations. Internal invariant
// violations (bad magic, eviction of a pinned slot, deny-write exceeding
// open count) are not in this list: they panic via assertf, since they
// denote on-disk or in-memory corruption rather than a user-correctable
// condition.
var (
	// ErrNoSpace is returned when the free map has no room for a requested allocation.
	ErrNoSpace = errors.New("pintos: no space left on device")
	// ErrNotFound is returned when a path component or directory entry does not exist.
	ErrNotFound = errors.New("pintos: no such file or directory")
	// ErrNotDirectory is returned when a non-terminal path component is not a directory.
	ErrNotDirectory = errors.New("pintos: not a directory")
	// ErrIsDirectory is returned when an operation that requires a file is given a directory.
	ErrIsDirectory = errors.New("pintos: is a directory")
	// ErrNameTooLong is returned when a path component exceeds NameMax bytes.
	ErrNameTooLong = errors.New("pintos: name too long")
	// ErrExists is returned by dirAdd when the name is already in use.
	ErrExists = errors.New("pintos: file exists")
	// ErrBusy is returned removing a non-empty directory, or one that is a CWD or open elsewhere.
	ErrBusy = errors.New("pintos: directory not empty or in use")
	// ErrInvalidHandle is returned for operations on a removed or never-opened handle.
	ErrInvalidHandle = errors.New("pintos: invalid handle")
	// ErrReadOnly is returned for a write while deny-write is in effect.
	ErrReadOnly = errors.New("pintos: file is deny-write")

	// errShortFreeMapRead and errShortFreeMapWrite signal a short transfer
	// against the free-map's own inode; they indicate device or cache
	// failure rather than a user-correctable condition, so they are not
	// exported alongside the sentinels above.
	errShortFreeMapRead  = errors.New("pintos: short read of free map")
	errShortFreeMapWrite = errors.New("pintos: short write of free map")
)
