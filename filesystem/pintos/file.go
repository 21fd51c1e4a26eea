package pintos

import (
	"fmt"
	"io"
	"io/fs"
	"time"
)

// File is an open handle to a Pintos file or directory. It implements
// github.com/ventimdg/Operating-Systems/filesystem.File (itself
// fs.ReadDirFile plus io.Writer and io.Seeker). Each open File holds one
// openRefs reference on its inode, which RemoveAt consults to refuse
// deleting a directory that is still open elsewhere.
type File struct {
	fs    *FileSystem
	in    *inode
	name  string
	isDir bool

	pos    int64  // byte seek position, meaningful only for regular files
	dirPos uint32 // directory-entry cursor, meaningful only for directories
	closed bool
}

type fileInfo struct {
	name  string
	size  int64
	isDir bool
}

func (i *fileInfo) Name() string       { return i.name }
func (i *fileInfo) Size() int64        { return i.size }
func (i *fileInfo) ModTime() time.Time { return time.Time{} } // no timestamps in the on-disk inode
func (i *fileInfo) Sys() any           { return nil }
func (i *fileInfo) IsDir() bool        { return i.isDir }
func (i *fileInfo) Mode() fs.FileMode {
	if i.isDir {
		return fs.ModeDir | 0o777
	}
	return 0o666
}

type dirEntryInfo struct {
	name  string
	isDir bool
	size  int64
}

func (e *dirEntryInfo) Name() string { return e.name }
func (e *dirEntryInfo) IsDir() bool  { return e.isDir }
func (e *dirEntryInfo) Type() fs.FileMode {
	if e.isDir {
		return fs.ModeDir
	}
	return 0
}
func (e *dirEntryInfo) Info() (fs.FileInfo, error) {
	return &fileInfo{name: e.name, size: e.size, isDir: e.isDir}, nil
}

// Stat implements fs.File.
func (f *File) Stat() (fs.FileInfo, error) {
	if f.closed {
		return nil, ErrInvalidHandle
	}
	return &fileInfo{name: f.name, size: int64(f.fs.length(f.in)), isDir: f.isDir}, nil
}

// Read implements io.Reader.
func (f *File) Read(p []byte) (int, error) {
	if f.closed {
		return 0, ErrInvalidHandle
	}
	if f.isDir {
		return 0, ErrIsDirectory
	}
	n := f.fs.readAt(f.in, p, uint32(f.pos))
	f.pos += int64(n)
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write implements io.Writer.
func (f *File) Write(p []byte) (int, error) {
	if f.closed {
		return 0, ErrInvalidHandle
	}
	if f.isDir {
		return 0, ErrIsDirectory
	}
	n := f.fs.writeAt(f.in, p, uint32(f.pos))
	f.pos += int64(n)
	if n != len(p) {
		return n, ErrReadOnly
	}
	return n, nil
}

// Seek implements io.Seeker.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, ErrInvalidHandle
	}
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = f.pos
	case io.SeekEnd:
		base = int64(f.fs.length(f.in))
	default:
		return 0, fmt.Errorf("pintos: invalid whence %d", whence)
	}
	np := base + offset
	if np < 0 {
		return 0, fmt.Errorf("pintos: negative seek position %d", np)
	}
	f.pos = np
	return np, nil
}

// ReadDir implements fs.ReadDirFile. n<=0 returns every remaining entry;
// n>0 returns at most n and io.EOF once nothing more is available.
func (f *File) ReadDir(n int) ([]fs.DirEntry, error) {
	if f.closed {
		return nil, ErrInvalidHandle
	}
	if !f.isDir {
		return nil, ErrNotDirectory
	}
	var entries []fs.DirEntry
	for n <= 0 || len(entries) < n {
		name, ok := f.fs.dirReadDir(f.in, &f.dirPos)
		if !ok {
			break
		}
		sector, isDir, found := f.fs.dirLookup(f.in, name)
		if !found {
			continue
		}
		child := f.fs.inodeOpen(sector)
		size := int64(f.fs.length(child))
		f.fs.inodeClose(child)
		entries = append(entries, &dirEntryInfo{name: name, isDir: isDir, size: size})
	}
	if n > 0 && len(entries) == 0 {
		return nil, io.EOF
	}
	return entries, nil
}

// ReadAt reads len(p) bytes starting at byte offset off, independent of and
// without disturbing the handle's seek position.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, ErrInvalidHandle
	}
	if f.isDir {
		return 0, ErrIsDirectory
	}
	n := f.fs.readAt(f.in, p, uint32(off))
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes len(p) bytes starting at byte offset off, growing the file
// if necessary, independent of and without disturbing the seek position.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, ErrInvalidHandle
	}
	if f.isDir {
		return 0, ErrIsDirectory
	}
	n := f.fs.writeAt(f.in, p, uint32(off))
	if n != len(p) {
		return n, ErrReadOnly
	}
	return n, nil
}

// Tell returns the handle's current seek position, per Pintos's tell().
func (f *File) Tell() int64 { return f.pos }

// Size returns the file's current byte length, per Pintos's file_length().
func (f *File) Size() int64 {
	if f.closed {
		return 0
	}
	return int64(f.fs.length(f.in))
}

// IsDir reports whether the handle refers to a directory rather than a
// regular file.
func (f *File) IsDir() bool { return f.isDir }

// Inumber returns the sector number of the handle's underlying inode, per
// Pintos's inumber syscall.
func (f *File) Inumber() uint32 { return f.in.sector }

// DenyWrite blocks concurrent writers to the file, per deny_write: used
// while an executable backed by this file is running. It has no effect on
// directories. The deny count must never exceed the open count; violating
// that is a programming error and panics rather than returning an error.
func (f *File) DenyWrite() {
	if !f.isDir {
		f.in.denyWrite()
	}
}

// AllowWrite reverses one prior DenyWrite, per allow_write.
func (f *File) AllowWrite() {
	if !f.isDir {
		f.in.allowWrite()
	}
}

// Close implements io.Closer.
func (f *File) Close() error {
	if f.closed {
		return ErrInvalidHandle
	}
	f.closed = true
	f.in.addOpenRef(-1)
	f.fs.inodeClose(f.in)
	return nil
}
