package pintos

import (
	"fmt"

	"github.com/ventimdg/Operating-Systems/backend"
	"github.com/ventimdg/Operating-Systems/backend/file"
	"github.com/ventimdg/Operating-Systems/blockdev"
)

// PathParams locates a Pintos volume within a backing file or block
// device. Offset and Size carve out the sub-region holding the volume
// (via backend.Sub), the same way a Pintos disk image can hold the
// filesystem in one region alongside a kernel or swap region elsewhere on
// the same backing file; a zero Size means "the rest of the file".
type PathParams struct {
	Offset     int64
	Size       int64
	SectorSize int64 // defaults to SectorSize (512) when zero
}

// storageFor returns the backend.Storage the volume actually lives on
// (raw, or a backend.Sub carve-out) along with the sector size and the
// exact byte extent of that region. The extent is computed from raw's own
// Stat() before any sub-storage wrapping, since backend.SubStorage.Stat()
// reports the underlying file's full size rather than the sub-region's
// (see blockdev.NewSized).
func (pp PathParams) storageFor(raw backend.Storage) (storage backend.Storage, sectorSize, size int64, err error) {
	sectorSize = pp.SectorSize
	if sectorSize == 0 {
		sectorSize = SectorSize
	}
	if pp.Offset == 0 && pp.Size == 0 {
		info, statErr := raw.Stat()
		if statErr != nil {
			return nil, 0, 0, fmt.Errorf("pintos: stat backing storage: %w", statErr)
		}
		return raw, sectorSize, info.Size(), nil
	}
	size = pp.Size
	if size == 0 {
		info, statErr := raw.Stat()
		if statErr != nil {
			return nil, 0, 0, fmt.Errorf("pintos: stat backing storage: %w", statErr)
		}
		size = info.Size() - pp.Offset
	}
	return backend.Sub(raw, pp.Offset, size), sectorSize, size, nil
}

// CreatePath creates a fresh backing image file at path of the given
// byte size, then formats a new Pintos volume on it. It is the path-based
// counterpart to Format for callers that don't already have a
// blockdev.Device.
func CreatePath(path string, size int64, pp PathParams, p *Params) (*FileSystem, error) {
	raw, err := file.CreateFromPath(path, size)
	if err != nil {
		return nil, fmt.Errorf("pintos: create %s: %w", path, err)
	}
	storage, sectorSize, extent, err := pp.storageFor(raw)
	if err != nil {
		return nil, err
	}
	dev, err := blockdev.NewSized(storage, sectorSize, extent)
	if err != nil {
		return nil, fmt.Errorf("pintos: create %s: %w", path, err)
	}
	return Format(dev, p)
}

// OpenPath mounts an existing Pintos volume from a path to an image file
// or a raw block device (e.g. "/dev/sdb1"), the path-based counterpart to
// Open. readOnly controls whether writes through the resulting
// FileSystem are permitted by the backing storage.
func OpenPath(path string, readOnly bool, pp PathParams, p *Params) (*FileSystem, error) {
	raw, err := file.OpenFromPath(path, readOnly)
	if err != nil {
		return nil, fmt.Errorf("pintos: open %s: %w", path, err)
	}
	storage, sectorSize, extent, err := pp.storageFor(raw)
	if err != nil {
		return nil, err
	}
	dev, err := blockdev.NewSized(storage, sectorSize, extent)
	if err != nil {
		return nil, fmt.Errorf("pintos: open %s: %w", path, err)
	}
	return Open(dev, p)
}
