package pintos

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/ventimdg/Operating-Systems/backend"
	"github.com/ventimdg/Operating-Systems/blockdev"
)

// memStorage is a fixed-size, in-memory backend.Storage, standing in for
// a disk image file in tests so they never touch the real filesystem.
type memStorage struct {
	data []byte
	pos  int64
}

func newMemStorage(sectors int) *memStorage {
	return &memStorage{data: make([]byte, sectors*SectorSize)}
}

func newTestDevice(tb testing.TB, sectors int) *blockdev.Device {
	tb.Helper()
	dev, err := blockdev.New(newMemStorage(sectors), SectorSize)
	if err != nil {
		tb.Fatalf("blockdev.New: %v", err)
	}
	return dev
}

// newTestFS formats a fresh, sectors-sized volume and opens it, returning
// both the FileSystem and a root Env ready for use by a test.
func newTestFS(tb testing.TB, sectors int) *FileSystem {
	tb.Helper()
	dev := newTestDevice(tb, sectors)
	fs, err := Format(dev, &Params{})
	if err != nil {
		tb.Fatalf("Format: %v", err)
	}
	tb.Cleanup(func() { fs.Close() })
	return fs
}

type memFileInfo struct {
	size int64
}

func (i memFileInfo) Name() string       { return "mem" }
func (i memFileInfo) Size() int64        { return i.size }
func (i memFileInfo) Mode() fs.FileMode  { return 0o600 }
func (i memFileInfo) ModTime() time.Time { return time.Time{} }
func (i memFileInfo) IsDir() bool        { return false }
func (i memFileInfo) Sys() any           { return nil }

func (m *memStorage) Stat() (fs.FileInfo, error) {
	return memFileInfo{size: int64(len(m.data))}, nil
}

func (m *memStorage) Read(p []byte) (int, error) {
	n, err := m.ReadAt(p, m.pos)
	m.pos += int64(n)
	return n, err
}

func (m *memStorage) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memStorage) WriteAt(p []byte, off int64) (int, error) {
	if off+int64(len(p)) > int64(len(m.data)) {
		return 0, fmt.Errorf("write beyond fixed memStorage size")
	}
	return copy(m.data[off:], p), nil
}

func (m *memStorage) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = m.pos
	case io.SeekEnd:
		base = int64(len(m.data))
	}
	m.pos = base + offset
	return m.pos, nil
}

func (m *memStorage) Close() error { return nil }

func (m *memStorage) Sys() (*os.File, error) {
	return nil, fmt.Errorf("memStorage is not backed by a real OS file")
}

func (m *memStorage) Writable() (backend.WritableFile, error) {
	return m, nil
}
