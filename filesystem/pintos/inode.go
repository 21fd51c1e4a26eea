package pintos

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// inodeMagic identifies a valid on-disk inode; see spec section 6.
const inodeMagic uint32 = 0x494e4f44

const (
	directCount    = 12
	pointersPerBlk = SectorSize / 4 // 128 sector pointers per indirect/doubly block
	indirectBase   = directCount
	doublyBase     = indirectBase + pointersPerBlk                // 140
	maxSectorIndex = doublyBase + pointersPerBlk*pointersPerBlk    // 16524
	maxFileLength  = uint32(maxSectorIndex) * uint32(SectorSize)
)

// onDiskInode is the fixed, one-sector on-disk inode layout from spec
// section 6: 12 direct pointers, one indirect pointer, one doubly-indirect
// pointer, a byte length, and a magic number, zero-padded to exactly
// SectorSize bytes.
type onDiskInode struct {
	Direct [directCount]uint32
	Indirect uint32
	Doubly   uint32
	Length   uint32
	Magic    uint32
}

func encodeInode(in *onDiskInode) [SectorSize]byte {
	var buf [SectorSize]byte
	off := 0
	for _, v := range in.Direct {
		binary.LittleEndian.PutUint32(buf[off:], v)
		off += 4
	}
	binary.LittleEndian.PutUint32(buf[off:], in.Indirect)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], in.Doubly)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], in.Length)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], in.Magic)
	// remaining bytes are the zero padding required by spec section 6
	return buf
}

func decodeInode(buf []byte) (*onDiskInode, error) {
	if len(buf) < SectorSize {
		return nil, fmt.Errorf("pintos: inode buffer too small: %d bytes", len(buf))
	}
	var in onDiskInode
	off := 0
	for i := range in.Direct {
		in.Direct[i] = binary.LittleEndian.Uint32(buf[off:])
		off += 4
	}
	in.Indirect = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	in.Doubly = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	in.Length = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	in.Magic = binary.LittleEndian.Uint32(buf[off:])
	assertf(in.Magic == inodeMagic, "pintos: bad inode magic at decode: %#x", in.Magic)
	return &in, nil
}

func bytesToSectors(length uint32) uint32 {
	return (length + SectorSize - 1) / SectorSize
}

func readPointerBlock(fs *FileSystem, sector, inumber uint32) ([pointersPerBlk]uint32, error) {
	var ptrs [pointersPerBlk]uint32
	var buf [SectorSize]byte
	if err := fs.cache.read(sector, inumber, buf[:]); err != nil {
		return ptrs, err
	}
	for i := range ptrs {
		ptrs[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return ptrs, nil
}

func writePointerBlock(fs *FileSystem, sector, inumber uint32, ptrs [pointersPerBlk]uint32) error {
	var buf [SectorSize]byte
	for i, v := range ptrs {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return fs.cache.write(sector, inumber, buf[:])
}

func (fs *FileSystem) readOnDiskInode(sector, inumber uint32) (*onDiskInode, error) {
	var buf [SectorSize]byte
	if err := fs.cache.read(sector, inumber, buf[:]); err != nil {
		return nil, err
	}
	return decodeInode(buf[:])
}

func (fs *FileSystem) writeOnDiskInode(sector, inumber uint32, in *onDiskInode) error {
	buf := encodeInode(in)
	return fs.cache.write(sector, inumber, buf[:])
}

// sectorForIndex translates a sector-relative index within a file (as
// produced by byteToSector) into the device sector holding it, per the
// three-way split in spec section 4.3.
func (fs *FileSystem) sectorForIndex(disk *onDiskInode, inumber, n uint32) (uint32, error) {
	switch {
	case n < directCount:
		return disk.Direct[n], nil
	case n < doublyBase:
		ptrs, err := readPointerBlock(fs, disk.Indirect, inumber)
		if err != nil {
			return 0, err
		}
		return ptrs[n-indirectBase], nil
	case n < uint32(maxSectorIndex):
		rel := n - doublyBase
		idx1, idx2 := rel/pointersPerBlk, rel%pointersPerBlk
		outer, err := readPointerBlock(fs, disk.Doubly, inumber)
		if err != nil {
			return 0, err
		}
		inner, err := readPointerBlock(fs, outer[idx1], inumber)
		if err != nil {
			return 0, err
		}
		return inner[idx2], nil
	default:
		return 0, fmt.Errorf("pintos: sector index %d out of range", n)
	}
}

// byteToSector returns the device sector containing byte offset pos within
// an inode of the given length, or an error if pos is not covered by the
// inode. Unlike the source's byte_to_sector, which bumps pos by one when it
// lands exactly on a sector boundary before dividing (Open Question (b) in
// spec section 9), this computes the index directly as pos/SectorSize.
func (fs *FileSystem) byteToSector(disk *onDiskInode, inumber uint32, pos uint32) (uint32, error) {
	if pos >= disk.Length {
		return 0, fmt.Errorf("pintos: offset %d beyond length %d", pos, disk.Length)
	}
	return fs.sectorForIndex(disk, inumber, pos/SectorSize)
}

// inode is the in-memory, reference-counted representation of an on-disk
// inode. At most one inode exists per sector at a time; see
// FileSystem.inodeOpen.
type inode struct {
	fs     *FileSystem
	sector uint32

	metaMu        sync.RWMutex // guards openCount, removed, denyWriteCount
	openCount     int
	removed       bool
	denyWriteCount int

	// resizeMu is held in shared mode by reads and non-extending writes,
	// and in exclusive mode while a write grows the file; see spec
	// section 4.3.
	resizeMu sync.RWMutex

	isDir  bool
	isRoot bool

	// openRefs/cwdRefs mirror the source's ref_open/ref_cwd: how many live
	// File/Dir handles or CWD slots reference this inode, used by Remove
	// to refuse deleting a directory that is still in use. They are
	// distinct from openCount, which merely tracks the in-memory inode's
	// own lifecycle across internal opens (path traversal, etc).
	refMu    sync.Mutex
	openRefs int
	cwdRefs  int
}

// inodeOpen returns the shared in-memory inode for sector, opening it if
// this is the first reference.
func (fs *FileSystem) inodeOpen(sector uint32) *inode {
	fs.openMu.Lock()
	defer fs.openMu.Unlock()
	if in, ok := fs.openInode[sector]; ok {
		in.metaMu.Lock()
		in.openCount++
		in.metaMu.Unlock()
		return in
	}
	in := &inode{
		fs:        fs,
		sector:    sector,
		openCount: 1,
		isRoot:    sector == RootDirSector,
	}
	fs.openInode[sector] = in
	return in
}

// inodeClose decrements in's open count; on reaching zero it drops the
// in-memory inode and, if removed, frees its on-disk blocks.
func (fs *FileSystem) inodeClose(in *inode) {
	if in == nil {
		return
	}
	in.metaMu.Lock()
	in.openCount--
	count := in.openCount
	removed := in.removed
	in.metaMu.Unlock()

	if count > 0 {
		return
	}
	fs.openMu.Lock()
	delete(fs.openInode, in.sector)
	fs.openMu.Unlock()

	if removed {
		fs.freeInodeBlocks(in.sector)
		fs.cache.invalidate(in.sector)
	}
}

func (in *inode) setRemoved() {
	in.metaMu.Lock()
	in.removed = true
	in.metaMu.Unlock()
}

func (in *inode) isRemoved() bool {
	in.metaMu.RLock()
	defer in.metaMu.RUnlock()
	return in.removed
}

func (in *inode) denyWrite() {
	in.metaMu.Lock()
	defer in.metaMu.Unlock()
	in.denyWriteCount++
	assertf(in.denyWriteCount <= in.openCount, "pintos: deny-write count %d exceeds open count %d", in.denyWriteCount, in.openCount)
}

func (in *inode) allowWrite() {
	in.metaMu.Lock()
	defer in.metaMu.Unlock()
	assertf(in.denyWriteCount > 0, "pintos: allow-write with no matching deny-write")
	in.denyWriteCount--
}

func (in *inode) writeDenied() bool {
	in.metaMu.RLock()
	defer in.metaMu.RUnlock()
	return in.denyWriteCount > 0
}

func (in *inode) addOpenRef(delta int) {
	in.refMu.Lock()
	in.openRefs += delta
	in.refMu.Unlock()
}

func (in *inode) addCWDRef(delta int) {
	in.refMu.Lock()
	in.cwdRefs += delta
	in.refMu.Unlock()
}

func (in *inode) refs() (openRefs, cwdRefs int) {
	in.refMu.Lock()
	defer in.refMu.Unlock()
	return in.openRefs, in.cwdRefs
}

// createInode allocates and zero-fills length bytes' worth of sectors and
// writes a fresh on-disk inode at sector. It corresponds to inode_create.
func (fs *FileSystem) createInode(sector uint32, length uint32) bool {
	disk := &onDiskInode{Magic: inodeMagic, Length: length}
	sectors := bytesToSectors(length)
	if sectors > 0 {
		first, ok := fs.fm.allocate(int(sectors), disk, sector)
		if !ok {
			return false
		}
		// allocate's single-sector path reserves the sector without
		// recording it in disk.
		if sectors == 1 {
			disk.Direct[0] = first
		}
	}
	if err := fs.writeOnDiskInode(sector, sector, disk); err != nil {
		return false
	}
	var zero [SectorSize]byte
	for i := uint32(0); i < sectors; i++ {
		s, err := fs.sectorForIndex(disk, sector, i)
		if err != nil {
			return false
		}
		if err := fs.cache.write(s, sector, zero[:]); err != nil {
			return false
		}
	}
	return true
}

// freeInodeBlocks releases every data and index sector referenced by the
// inode at sector, plus the inode's own sector. Called once the last
// in-memory reference to a removed inode is closed.
func (fs *FileSystem) freeInodeBlocks(sector uint32) {
	disk, err := fs.readOnDiskInode(sector, sector)
	fs.fm.release(sector, 1)
	if err != nil {
		return
	}
	n := bytesToSectors(disk.Length)
	for i := uint32(0); i < n; i++ {
		s, serr := fs.sectorForIndex(disk, sector, i)
		if serr != nil || s == 0 {
			continue
		}
		fs.fm.release(s, 1)
	}
	if disk.Indirect != 0 {
		fs.fm.release(disk.Indirect, 1)
	}
	if disk.Doubly != 0 {
		if ptrs, perr := readPointerBlock(fs, disk.Doubly, sector); perr == nil {
			for _, p := range ptrs {
				if p != 0 {
					fs.fm.release(p, 1)
				}
			}
		}
		fs.fm.release(disk.Doubly, 1)
	}
}

// resizeTxn tracks sectors allocated and released during one resize attempt
// so a mid-resize failure can unwind, rather than by recursing back into
// resize as the source's inode_resize does (see spec section 9 DESIGN NOTES
// on re-entrant resize). Unwinding has two parts: freeing sectors allocated
// during the attempt, and re-reserving sectors released during it, since
// pendingWrites defers every index-block write until the whole attempt is
// known to succeed — on failure the real, persisted index blocks still
// reference the sectors this attempt released, so the free map must go back
// to agreeing with them.
type resizeTxn struct {
	fs            *FileSystem
	allocated     []uint32
	dataAllocated []uint32
	released      []uint32
	pendingWrites []pendingBlockWrite
}

// pendingBlockWrite is one index block's new contents, held in memory until
// the resize attempt as a whole succeeds. Deferring the write this way
// means a pre-existing indirect or doubly-indirect block is never touched
// on disk by an attempt that ends up failing.
type pendingBlockWrite struct {
	sector  uint32
	inumber uint32
	ptrs    [pointersPerBlk]uint32
}

func (t *resizeTxn) allocOne(isData bool) (uint32, bool) {
	sector, ok := t.fs.fm.allocate(1, nil, 0)
	if !ok {
		return 0, false
	}
	t.allocated = append(t.allocated, sector)
	if isData {
		t.dataAllocated = append(t.dataAllocated, sector)
	}
	return sector, true
}

func (t *resizeTxn) rollback() {
	for _, s := range t.allocated {
		t.fs.fm.release(s, 1)
	}
	for _, s := range t.released {
		t.fs.fm.reserve(s, 1)
	}
}

// commit flushes every deferred index-block write now that the attempt is
// known to succeed, in the order they were recorded (children before the
// parent levels that merely hold pointers to them).
func (t *resizeTxn) commit() bool {
	for _, w := range t.pendingWrites {
		if writePointerBlock(t.fs, w.sector, w.inumber, w.ptrs) != nil {
			return false
		}
	}
	return true
}

// adjustSlot grows or shrinks a single pointer slot in place: it allocates
// a sector if want is true and the slot is empty, or releases and clears
// it if want is false and it is occupied. isData controls whether the
// allocation is tracked for zero-filling (data sectors) or not (index
// blocks, whose content is written explicitly).
func (t *resizeTxn) adjustSlot(ptr *uint32, want, isData bool) bool {
	switch {
	case !want && *ptr != 0:
		t.fs.fm.release(*ptr, 1)
		t.released = append(t.released, *ptr)
		*ptr = 0
	case want && *ptr == 0:
		sector, ok := t.allocOne(isData)
		if !ok {
			return false
		}
		*ptr = sector
	}
	return true
}

// adjustPointerBlock grows, shrinks, or leaves alone a 128-entry pointer
// block. want reports whether the block should exist at all; adjustSlot is
// invoked once per entry (whether or not the block previously existed) to
// decide that entry's own fate, and is what lets a single routine serve the
// indirect block, the doubly-indirect block, and each of its second-level
// blocks. A block that survives (want true) has its new contents queued in
// t.pendingWrites rather than written immediately, so a later failure
// elsewhere in the walk never leaves a real, reachable index block holding
// stale pointers into sectors this attempt has freed.
func (t *resizeTxn) adjustPointerBlock(fs *FileSystem, inumber uint32, ptr *uint32, want bool, adjustSlot func(i int, slot *uint32) bool) bool {
	have := *ptr != 0
	if !have && !want {
		return true
	}
	var ptrs [pointersPerBlk]uint32
	if have {
		p, err := readPointerBlock(fs, *ptr, inumber)
		if err != nil {
			return false
		}
		ptrs = p
	} else if !t.adjustSlot(ptr, true, false) {
		return false
	}
	for i := range ptrs {
		if !adjustSlot(i, &ptrs[i]) {
			return false
		}
	}
	if want {
		t.pendingWrites = append(t.pendingWrites, pendingBlockWrite{sector: *ptr, inumber: inumber, ptrs: ptrs})
		return true
	}
	return t.adjustSlot(ptr, false, false)
}

// resize grows or shrinks the inode at h.sector to newLen bytes, per spec
// section 4.3. Callers must hold h.resizeMu in exclusive mode.
func (fs *FileSystem) resize(h *inode, newLen uint32) bool {
	if newLen > maxFileLength {
		return false
	}
	disk, err := fs.readOnDiskInode(h.sector, h.sector)
	if err != nil {
		return false
	}
	inumber := h.sector
	txn := &resizeTxn{fs: fs}

	ok := func() bool {
		for i := 0; i < directCount; i++ {
			want := newLen > uint32(i)*SectorSize
			if !txn.adjustSlot(&disk.Direct[i], want, true) {
				return false
			}
		}
		if !txn.adjustPointerBlock(fs, inumber, &disk.Indirect, newLen > directCount*SectorSize, func(i int, slot *uint32) bool {
			return txn.adjustSlot(slot, newLen > uint32(indirectBase+i)*SectorSize, true)
		}) {
			return false
		}
		if !txn.adjustPointerBlock(fs, inumber, &disk.Doubly, newLen > doublyBase*SectorSize, func(i int, slot *uint32) bool {
			blockWant := newLen > uint32(doublyBase+i*pointersPerBlk)*SectorSize
			return txn.adjustPointerBlock(fs, inumber, slot, blockWant, func(j int, inner *uint32) bool {
				return txn.adjustSlot(inner, newLen > uint32(doublyBase+i*pointersPerBlk+j)*SectorSize, true)
			})
		}) {
			return false
		}
		return true
	}()
	if !ok || !txn.commit() {
		txn.rollback()
		return false
	}

	var zero [SectorSize]byte
	for _, s := range txn.dataAllocated {
		if err := fs.cache.write(s, inumber, zero[:]); err != nil {
			txn.rollback()
			return false
		}
	}
	disk.Length = newLen
	if err := fs.writeOnDiskInode(h.sector, inumber, disk); err != nil {
		txn.rollback()
		return false
	}
	return true
}

// length returns the inode's current byte length.
func (fs *FileSystem) length(h *inode) uint32 {
	disk, err := fs.readOnDiskInode(h.sector, h.sector)
	if err != nil {
		return 0
	}
	return disk.Length
}

// readAt reads up to len(buf) bytes starting at offset, returning the
// number of bytes actually read.
func (fs *FileSystem) readAt(h *inode, buf []byte, offset uint32) int {
	h.resizeMu.RLock()
	defer h.resizeMu.RUnlock()

	disk, err := fs.readOnDiskInode(h.sector, h.sector)
	if err != nil {
		return 0
	}
	size := len(buf)
	read := 0
	for read < size {
		pos := offset + uint32(read)
		if pos >= disk.Length {
			break
		}
		sector, serr := fs.sectorForIndex(disk, h.sector, pos/SectorSize)
		if serr != nil {
			break
		}
		sectorOfs := int(pos % SectorSize)
		left := int(disk.Length - pos)
		sectorLeft := SectorSize - sectorOfs
		chunk := size - read
		if chunk > left {
			chunk = left
		}
		if chunk > sectorLeft {
			chunk = sectorLeft
		}
		if chunk <= 0 {
			break
		}
		if sectorOfs == 0 && chunk == SectorSize {
			if err := fs.cache.read(sector, h.sector, buf[read:read+chunk]); err != nil {
				break
			}
		} else {
			var bounce [SectorSize]byte
			if err := fs.cache.read(sector, h.sector, bounce[:]); err != nil {
				break
			}
			copy(buf[read:read+chunk], bounce[sectorOfs:sectorOfs+chunk])
		}
		read += chunk
	}
	return read
}

// writeAt writes len(buf) bytes starting at offset, growing the inode
// first if necessary, and returns the number of bytes actually written.
// Returns 0 without writing if the inode currently denies writes.
func (fs *FileSystem) writeAt(h *inode, buf []byte, offset uint32) int {
	newLen := offset + uint32(len(buf))
	if newLen < offset {
		return 0 // overflow
	}
	if h.writeDenied() {
		return 0
	}

	h.resizeMu.RLock()
	disk, err := fs.readOnDiskInode(h.sector, h.sector)
	extends := err == nil && newLen > disk.Length
	h.resizeMu.RUnlock()
	if err != nil {
		return 0
	}

	if extends {
		h.resizeMu.Lock()
		if d, derr := fs.readOnDiskInode(h.sector, h.sector); derr == nil && newLen > d.Length {
			if !fs.resize(h, newLen) {
				h.resizeMu.Unlock()
				return 0
			}
		}
		h.resizeMu.Unlock()
	}

	h.resizeMu.RLock()
	defer h.resizeMu.RUnlock()
	disk, err = fs.readOnDiskInode(h.sector, h.sector)
	if err != nil {
		return 0
	}

	written := 0
	size := len(buf)
	for written < size {
		pos := offset + uint32(written)
		sector, serr := fs.sectorForIndex(disk, h.sector, pos/SectorSize)
		if serr != nil {
			break
		}
		sectorOfs := int(pos % SectorSize)
		left := int(disk.Length - pos)
		sectorLeft := SectorSize - sectorOfs
		chunk := size - written
		if chunk > left {
			chunk = left
		}
		if chunk > sectorLeft {
			chunk = sectorLeft
		}
		if chunk <= 0 {
			break
		}
		if sectorOfs == 0 && chunk == SectorSize {
			if err := fs.cache.write(sector, h.sector, buf[written:written+chunk]); err != nil {
				break
			}
		} else {
			var bounce [SectorSize]byte
			if sectorOfs > 0 || chunk < sectorLeft {
				if err := fs.cache.read(sector, h.sector, bounce[:]); err != nil {
					break
				}
			}
			copy(bounce[sectorOfs:sectorOfs+chunk], buf[written:written+chunk])
			if err := fs.cache.write(sector, h.sector, bounce[:]); err != nil {
				break
			}
		}
		written += chunk
	}
	return written
}
