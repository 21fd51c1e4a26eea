package pintos

import (
	"sync"

	"github.com/ventimdg/Operating-Systems/blockdev"
	"github.com/ventimdg/Operating-Systems/util/bitmap"
)

// freeMap is the L1 free-space allocator from spec.md section 4.1: one bit
// per device sector, persisted through the ordinary inode machinery at
// FreeMapSector. mu is held for the full duration of an allocate/release
// call, including any index-block cache writes that go with it and the
// write that persists the bitmap through the free-map inode. resize calls
// allocate and release while already holding the file's resizeMu.
type freeMap struct {
	mu   sync.Mutex
	bits *bitmap.Bitmap
	fs   *FileSystem

	// ready is set once the free-map inode exists on disk; until then
	// persistLocked has nothing to write through.
	ready bool
}

// bitmapForDevice returns a fresh, all-clear bitmap sized to address every
// sector on dev, for use by Format.
func bitmapForDevice(dev *blockdev.Device) *bitmap.Bitmap {
	return bitmap.NewBits(int(dev.Size()))
}

// markPermanent reserves the sectors that are never returned by allocate:
// the free-map inode's own sector and the root directory inode's sector.
func markPermanent(bits *bitmap.Bitmap) {
	_ = bits.Set(int(FreeMapSector))
	_ = bits.Set(int(RootDirSector))
}

// allocate reserves count sectors and reports their first index.
//
// When into is nil (or count is 1), it is a simple, general-purpose
// allocation: a single contiguous run of count free sectors, used for the
// inode sector Create reserves and for the one-sector-at-a-time allocations
// resize performs on individual direct/indirect/doubly-indirect slots. This
// path does not touch into.
//
// When into is non-nil, it performs the bulk allocation inode_create uses
// to lay out a brand new file of count data sectors in one shot: it first
// computes how many extra "helper" sectors are needed for an indirect
// block and/or a doubly-indirect block plus its second-level blocks, tries
// to satisfy count+extras as a single contiguous run, and on failure falls
// back to allocating each sector individually. Either way, into's
// Direct/Indirect/Doubly fields and the corresponding index blocks (via
// the buffer cache) are populated as sectors are assigned, exactly as the
// source's free_map_allocate does for struct inode_disk.
func (f *freeMap) allocate(count int, into *onDiskInode, inumber uint32) (uint32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if count == 1 || into == nil {
		sector := f.bits.ScanAndFlip(0, count)
		if sector < 0 {
			return 0, false
		}
		if err := f.persistLocked(); err != nil {
			f.bits.SetRange(sector, count, false)
			return 0, false
		}
		return uint32(sector), true
	}

	indirectNeeded := count > directCount
	doublyBlocks := 0
	if count > doublyBase {
		calc := count - doublyBase
		doublyBlocks = (calc-1)/pointersPerBlk + 1
	}
	extra := 0
	if indirectNeeded {
		extra++
	}
	if doublyBlocks > 0 {
		extra += 1 + doublyBlocks // the doubly-indirect block itself, plus each second-level block
	}
	total := count + extra

	if start, ok := f.tryContiguous(total, count, into, inumber); ok {
		return start, true
	}
	return f.tryPerSector(total, count, into, inumber)
}

// tryContiguous attempts the fast path: one contiguous run of total free
// sectors, assigned in order to data slots then helper blocks.
func (f *freeMap) tryContiguous(total, count int, into *onDiskInode, inumber uint32) (uint32, bool) {
	start := f.bits.ScanAndFlip(0, total)
	if start < 0 {
		return 0, false
	}
	if !f.assignRun(uint32(start), count, into, inumber) || f.persistLocked() != nil {
		f.bits.SetRange(start, total, false)
		return 0, false
	}
	return uint32(start), true
}

// tryPerSector is the fallback when no single contiguous run of total
// sectors is free: it allocates the total sectors one at a time, wherever
// they land, and assigns them to the same slots tryContiguous would have.
func (f *freeMap) tryPerSector(total, count int, into *onDiskInode, inumber uint32) (uint32, bool) {
	sectors := make([]uint32, 0, total)
	rollback := func() {
		for _, s := range sectors {
			f.bits.SetRange(int(s), 1, false)
		}
	}
	next := func() (uint32, bool) {
		s := f.bits.ScanAndFlip(0, 1)
		if s < 0 {
			return 0, false
		}
		sectors = append(sectors, uint32(s))
		return uint32(s), true
	}

	first := uint32(0)
	ok := true
	for i := 0; i < total && ok; i++ {
		s, got := next()
		if !got {
			ok = false
			break
		}
		if i == 0 {
			first = s
		}
		ok = f.assignOne(i, s, count, into, inumber)
	}
	if !ok || f.persistLocked() != nil {
		rollback()
		return 0, false
	}
	return first, true
}

// assignRun assigns a contiguous block of sectors starting at start to
// into's slots, writing index blocks as it goes. It is equivalent to
// assignOne called for i in [0, total) with sector = start+i, but avoids
// re-deriving start+i arithmetic at each step.
func (f *freeMap) assignRun(start uint32, count int, into *onDiskInode, inumber uint32) bool {
	total := count
	if count > directCount {
		total++
	}
	if count > doublyBase {
		calc := count - doublyBase
		total += 1 + (calc-1)/pointersPerBlk + 1
	}
	for i := 0; i < total; i++ {
		if !f.assignOne(i, start+uint32(i), count, into, inumber) {
			return false
		}
	}
	return true
}

// assignOne assigns the i'th sector of a bulk allocation (of count data
// sectors total) to its slot in into, writing through the helper index
// blocks via the buffer cache as needed. The contiguous-index layout is:
//
//	[0, 12)                 direct data sectors
//	12                      indirect block pointer   (only if count > 12)
//	[13, 141)               indirect block's 128 data sectors
//	141                     doubly-indirect block pointer (only if count > 140)
//	then, repeated per second-level block:
//	  +0                    second-level block pointer
//	  +1..128               that block's data sectors
func (f *freeMap) assignOne(i int, sector uint32, count int, into *onDiskInode, inumber uint32) bool {
	switch {
	case i < directCount:
		into.Direct[i] = sector
		return true
	case i == directCount:
		into.Indirect = sector
		return true
	case i < doublyBase+1:
		slot := i - directCount - 1
		ptrs, err := readPointerBlock(f.fs, into.Indirect, inumber)
		if err != nil {
			return false
		}
		ptrs[slot] = sector
		return writePointerBlock(f.fs, into.Indirect, inumber, ptrs) == nil
	case i == doublyBase+1:
		into.Doubly = sector
		return true
	default:
		rel := i - (doublyBase + 2)
		blockIdx, slot := rel/(pointersPerBlk+1), rel%(pointersPerBlk+1)
		outer, err := readPointerBlock(f.fs, into.Doubly, inumber)
		if err != nil {
			return false
		}
		if slot == 0 {
			outer[blockIdx] = sector
			return writePointerBlock(f.fs, into.Doubly, inumber, outer) == nil
		}
		inner, err := readPointerBlock(f.fs, outer[blockIdx], inumber)
		if err != nil {
			return false
		}
		inner[slot-1] = sector
		return writePointerBlock(f.fs, outer[blockIdx], inumber, inner) == nil
	}
}

// release makes count sectors starting at sector available again. Callers
// must hold no inode locks that would otherwise be re-entered by the
// persisted write going through the buffer cache.
func (f *freeMap) release(sector uint32, count int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	assertf(f.bits.AllSet(int(sector), count), "pintos: releasing sector range [%d,%d) that is not fully allocated", sector, int(sector)+count)
	_ = f.bits.SetRange(int(sector), count, false)
	if err := f.persistLocked(); err != nil {
		f.fs.log.WithError(err).Warn("failed to persist free map after release")
	}
}

// reserve re-marks count sectors starting at sector as allocated, without
// searching for a free run the way allocate does. It undoes a release
// performed earlier within a resize attempt that is being rolled back, where
// the sectors must go back to "allocated" because the on-disk index block
// that would have stopped referencing them was never persisted.
func (f *freeMap) reserve(sector uint32, count int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	assertf(f.bits.Count(int(sector), count, true) == 0, "pintos: reserving sector range [%d,%d) that is already partly allocated", sector, int(sector)+count)
	_ = f.bits.SetRange(int(sector), count, true)
	if err := f.persistLocked(); err != nil {
		f.fs.log.WithError(err).Warn("failed to persist free map after reserve")
	}
}

// persistLocked writes the free map bitmap through the buffer cache to its
// inode, exactly like free_map_allocate/free_map_release's bitmap_write.
// Callers must hold mu. It is a no-op until ready is set, which
// persistFreeMap does at the end of Format and readFreeMap does at Open:
// during Format the first allocations happen before the free-map inode
// has been written.
func (f *freeMap) persistLocked() error {
	if !f.ready {
		return nil
	}
	return f.fs.writeFreeMapBytes(f.bits.ToBytes())
}

// persistFreeMap writes the current free map to its on-disk inode; it
// corresponds to the bitmap_write calls inside free_map_allocate/release,
// performed once explicitly at Format and Close time as well.
func (fs *FileSystem) persistFreeMap() error {
	fs.fm.mu.Lock()
	defer fs.fm.mu.Unlock()
	fs.fm.ready = true
	return fs.fm.persistLocked()
}

// readFreeMap reads the free map's bytes back from its on-disk inode.
func (fs *FileSystem) readFreeMap() (*bitmap.Bitmap, error) {
	in := fs.inodeOpen(FreeMapSector)
	defer fs.inodeClose(in)
	length := fs.length(in)
	buf := make([]byte, length)
	if n := fs.readAt(in, buf, 0); uint32(n) != length {
		return nil, errShortFreeMapRead
	}
	fs.fm.ready = true
	return bitmap.FromBytes(buf), nil
}

// writeFreeMapBytes writes raw bitmap bytes through the free-map inode.
// The free-map file is created at its final size in Format and is never
// resized again (see the comment there), so this is always a fixed-size
// overwrite and never recurses back into freeMap.allocate.
func (fs *FileSystem) writeFreeMapBytes(b []byte) error {
	in := fs.inodeOpen(FreeMapSector)
	defer fs.inodeClose(in)
	if n := fs.writeAt(in, b, 0); n != len(b) {
		return errShortFreeMapWrite
	}
	return nil
}
