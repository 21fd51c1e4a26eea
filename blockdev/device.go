// Package blockdev provides fixed-size sector I/O over a backend.Storage.
//
// It is the "block device" external collaborator of the filesystem/pintos
// package: sectors are addressed by index, never by byte offset, and every
// read or write is exactly one sector wide.
package blockdev

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/ventimdg/Operating-Systems/backend"
)

// DefaultSectorSize is the sector size used by the Pintos filesystem, 512 bytes.
const DefaultSectorSize = 512

// Device is a sector-addressable block device backed by a backend.Storage.
type Device struct {
	b          backend.Storage
	sectorSize int64
	sectors    uint32
	readCount  atomic.Uint64
	writeCount atomic.Uint64
}

// New wraps b as a Device of the given sector size. The backing storage's
// size must be an exact multiple of sectorSize.
func New(b backend.Storage, sectorSize int64) (*Device, error) {
	size, err := sizeOf(b)
	if err != nil {
		return nil, fmt.Errorf("determine device size: %w", err)
	}
	return NewSized(b, sectorSize, size)
}

// NewSized wraps b as a Device of the given sector size, using size (bytes)
// as the device's extent instead of deriving it from b.Stat()/ioctl. This
// is required when b is a backend.SubStorage carving a volume out of a
// larger backing file: SubStorage.Stat() reports the underlying file's
// full size rather than the sub-region's, the same reason ext4.Create and
// ext4.Read in the teacher package take an explicit size/start pair
// instead of trusting Stat() on a sub-backend.
func NewSized(b backend.Storage, sectorSize, size int64) (*Device, error) {
	if sectorSize <= 0 {
		return nil, fmt.Errorf("sector size must be positive, got %d", sectorSize)
	}
	if size%sectorSize != 0 {
		return nil, fmt.Errorf("device size %d is not a multiple of sector size %d", size, sectorSize)
	}
	return &Device{
		b:          b,
		sectorSize: sectorSize,
		sectors:    uint32(size / sectorSize),
	}, nil
}

func sizeOf(b backend.Storage) (int64, error) {
	if f, err := b.Sys(); err == nil && f != nil {
		if size, ok := deviceSize(f); ok {
			return size, nil
		}
	}
	info, err := b.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Size returns the number of sectors on the device.
func (d *Device) Size() uint32 {
	return d.sectors
}

// SectorSize returns the size, in bytes, of a single sector.
func (d *Device) SectorSize() int64 {
	return d.sectorSize
}

// ReadCount returns the number of sector reads issued against the backing
// storage, for tests that assert on cache-hit behavior.
func (d *Device) ReadCount() uint64 {
	return d.readCount.Load()
}

// WriteCount returns the number of sector writes issued against the backing storage.
func (d *Device) WriteCount() uint64 {
	return d.writeCount.Load()
}

func (d *Device) checkSector(sector uint32, buf []byte) error {
	if sector >= d.sectors {
		return fmt.Errorf("sector %d out of range (device has %d sectors)", sector, d.sectors)
	}
	if int64(len(buf)) != d.sectorSize {
		return fmt.Errorf("buffer size %d does not match sector size %d", len(buf), d.sectorSize)
	}
	return nil
}

// ReadSector reads the sector at the given index into buf, which must be
// exactly SectorSize() bytes long.
func (d *Device) ReadSector(sector uint32, buf []byte) error {
	if err := d.checkSector(sector, buf); err != nil {
		return err
	}
	d.readCount.Add(1)
	_, err := d.b.ReadAt(buf, int64(sector)*d.sectorSize)
	return err
}

// WriteSector writes buf, which must be exactly SectorSize() bytes long, to
// the sector at the given index.
func (d *Device) WriteSector(sector uint32, buf []byte) error {
	if err := d.checkSector(sector, buf); err != nil {
		return err
	}
	w, err := d.b.Writable()
	if err != nil {
		return err
	}
	d.writeCount.Add(1)
	_, err = w.WriteAt(buf, int64(sector)*d.sectorSize)
	return err
}

// IsRealDevice reports whether the backing storage is an actual OS block
// device rather than a plain image file.
func IsRealDevice(b backend.Storage) bool {
	info, err := b.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeDevice != 0
}
