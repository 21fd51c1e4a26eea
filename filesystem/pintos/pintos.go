// Package pintos implements the extended file system from the Pintos
// "Filesystem" project: a write-back buffer cache, multi-level indexed
// inodes with file growth, a directory tree with path resolution, and
// fine-grained reader/writer concurrency, all layered over a
// github.com/ventimdg/Operating-Systems/blockdev.Device.
package pintos

import (
	"fmt"
	"os"
	"sync"

	"github.com/ventimdg/Operating-Systems/blockdev"
	"github.com/ventimdg/Operating-Systems/filesystem"
	"github.com/ventimdg/Operating-Systems/util/timestamp"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// SectorSize is the fixed size, in bytes, of a single sector.
	SectorSize = blockdev.DefaultSectorSize
	// FreeMapSector is the sector holding the free-map file's inode.
	FreeMapSector uint32 = 0
	// RootDirSector is the sector holding the root directory's inode.
	RootDirSector uint32 = 1
	// NameMax is the maximum length, in bytes, of one path component.
	NameMax = 14
	// cacheSlots is the number of sector-sized buffers in the buffer cache.
	cacheSlots = 64
)

// Params configures Format. The zero value is a valid, minimal configuration.
type Params struct {
	// Log receives structured diagnostics: an info message when a volume
	// is formatted or mounted, and a warning when persisting the free map
	// or flushing a cache slot at shutdown fails. Cache eviction failures,
	// free-map exhaustion and corruption panics are not logged. Defaults
	// to logrus.StandardLogger().
	Log *logrus.Logger
	// VolumeLabel is carried in memory only, for diagnostics; it has no
	// on-disk representation in the Pintos inode/directory formats.
	VolumeLabel string
}

// FileSystem is a mounted instance of the Pintos file system. All exported
// methods are safe for concurrent use; the concurrency model is described
// in filesystem/pintos's package-level design notes (see DESIGN.md).
type FileSystem struct {
	dev   *blockdev.Device
	log   *logrus.Entry
	label string
	id    uuid.UUID

	fm    *freeMap
	cache *bufferCache

	openMu    sync.Mutex
	openInode map[uint32]*inode
}

// Env is the process-environment external collaborator: it supplies a
// current-working-directory inumber per caller, and is mutated by Chdir.
// A library has no kernel thread table, so unlike Pintos's
// thread_current()->pcb->CWD, callers carry their own Env explicitly.
type Env struct {
	CWD uint32

	// cwdRefd reports whether CWD's inode already holds a live cwdRef
	// registered by a previous Chdir. A freshly constructed Env (e.g. from
	// RootEnv) starts false: its CWD was never explicitly opened as a
	// directory slot, so the first Chdir away from it must not decrement a
	// ref that was never taken.
	cwdRefd bool
}

// RootEnv returns an Env whose CWD is the root directory.
func RootEnv() *Env {
	return &Env{CWD: RootDirSector}
}

func newLogger(p *Params) *logrus.Entry {
	base := logrus.StandardLogger()
	if p != nil && p.Log != nil {
		base = p.Log
	}
	return base.WithField("component", "pintos")
}

// Format lays down a fresh free map and root directory on dev and returns a
// mounted FileSystem. It corresponds to filesys_init(format=true).
func Format(dev *blockdev.Device, p *Params) (*FileSystem, error) {
	if p == nil {
		p = &Params{}
	}
	fs := newFileSystem(dev, p)
	fs.log.Info("formatting Pintos file system")

	fs.fm.bits = bitmapForDevice(dev)
	markPermanent(fs.fm.bits)

	// The free-map file is created at its final size up front and never
	// resized again: every later bitmap_write-equivalent is a fixed-size
	// overwrite, so persisting the free map never recurses back into
	// freeMap.allocate while fm.mu is held.
	bitmapLen := uint32(len(fs.fm.bits.ToBytes()))
	if !fs.createInode(FreeMapSector, bitmapLen) {
		return nil, fmt.Errorf("pintos: format: create free-map inode: %w", ErrNoSpace)
	}
	rootParent := uint32(RootDirSector) // root self-parents, see Open Question (a)
	if !fs.dirCreateRaw(RootDirSector, 2, rootParent) {
		return nil, fmt.Errorf("pintos: format: create root directory")
	}
	if err := fs.persistFreeMap(); err != nil {
		return nil, fmt.Errorf("pintos: format: persist free map: %w", err)
	}
	return fs, nil
}

// Open mounts an existing Pintos file system from dev, reading its free map
// from sector FreeMapSector. It corresponds to filesys_init(format=false).
func Open(dev *blockdev.Device, p *Params) (*FileSystem, error) {
	if p == nil {
		p = &Params{}
	}
	fs := newFileSystem(dev, p)
	fs.log.Info("mounting Pintos file system")

	bits, err := fs.readFreeMap()
	if err != nil {
		return nil, fmt.Errorf("pintos: open: read free map: %w", err)
	}
	fs.fm.bits = bits
	return fs, nil
}

func newFileSystem(dev *blockdev.Device, p *Params) *FileSystem {
	fs := &FileSystem{
		dev:       dev,
		label:     p.VolumeLabel,
		id:        uuid.New(),
		openInode: make(map[uint32]*inode),
	}
	fs.log = newLogger(p).WithField("volume", fs.id.String()).WithField("mounted_at", timestamp.GetTime())
	fs.fm = &freeMap{fs: fs}
	fs.cache = newBufferCache(dev, fs.log)
	return fs
}

// Close flushes every dirty, non-removed cache slot to the device and
// persists the free map. It corresponds to filesys_done.
func (fs *FileSystem) Close() error {
	if err := fs.persistFreeMap(); err != nil {
		fs.log.WithError(err).Warn("failed to persist free map on close")
	}
	fs.cache.flushAll()
	return nil
}

// Type implements filesystem.FileSystem.
func (fs *FileSystem) Type() filesystem.Type {
	return filesystem.Type(-1) // not one of the teacher's format constants; this is a foreign fs type
}

// Label implements filesystem.FileSystem.
func (fs *FileSystem) Label() string {
	return fs.label
}

// SetLabel implements filesystem.FileSystem. The label is in-memory only.
func (fs *FileSystem) SetLabel(label string) error {
	fs.label = label
	return nil
}

// Mknod, Link, Symlink, Chmod, and Chown are explicit non-goals (devices,
// hard/symbolic links, permissions); they report filesystem.ErrNotSupported
// instead of silently no-opping.
func (fs *FileSystem) Mknod(string, uint32, int) error { return filesystem.ErrNotSupported }
func (fs *FileSystem) Link(string, string) error       { return filesystem.ErrNotSupported }
func (fs *FileSystem) Symlink(string, string) error    { return filesystem.ErrNotSupported }
func (fs *FileSystem) Chmod(string, os.FileMode) error { return filesystem.ErrNotSupported }
func (fs *FileSystem) Chown(string, int, int) error    { return filesystem.ErrNotSupported }
