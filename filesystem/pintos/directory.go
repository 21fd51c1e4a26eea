package pintos

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// dirEntrySize is sizeof(struct dir_entry): a sector number, a
// NameMax+1-byte name buffer, and two one-byte flags.
const dirEntrySize = 4 + (NameMax + 1) + 1 + 1

// dirEntry is one record of a directory's contents, stored as a flat
// array of fixed-size entries within the directory's own inode (itself an
// ordinary file as far as the inode engine is concerned).
type dirEntry struct {
	Sector uint32
	Name   string
	InUse  bool
	IsDir  bool
}

func encodeDirEntry(e dirEntry) []byte {
	buf := make([]byte, dirEntrySize)
	binary.LittleEndian.PutUint32(buf[0:4], e.Sector)
	copy(buf[4:4+NameMax+1], []byte(e.Name))
	if e.InUse {
		buf[4+NameMax+1] = 1
	}
	if e.IsDir {
		buf[4+NameMax+2] = 1
	}
	return buf
}

func decodeDirEntry(buf []byte) dirEntry {
	sector := binary.LittleEndian.Uint32(buf[0:4])
	nameBytes := buf[4 : 4+NameMax+1]
	n := bytes.IndexByte(nameBytes, 0)
	if n < 0 {
		n = len(nameBytes)
	}
	return dirEntry{
		Sector: sector,
		Name:   string(nameBytes[:n]),
		InUse:  buf[4+NameMax+1] != 0,
		IsDir:  buf[4+NameMax+2] != 0,
	}
}

// dirCreateRaw creates a new, empty directory inode at sector with "."
// and ".." entries already populated, per dir_create. The root directory
// is its own parent (see the Open Question on root's self-reference).
func (fs *FileSystem) dirCreateRaw(sector uint32, entryCount int, parentSector uint32) bool {
	if !fs.createInode(sector, uint32(entryCount)*dirEntrySize) {
		return false
	}
	in := fs.inodeOpen(sector)
	defer fs.inodeClose(in)
	in.isDir = true

	self := encodeDirEntry(dirEntry{Sector: sector, Name: ".", InUse: true, IsDir: true})
	parent := encodeDirEntry(dirEntry{Sector: parentSector, Name: "..", InUse: true, IsDir: true})
	if fs.writeAt(in, self, 0) != len(self) {
		return false
	}
	if fs.writeAt(in, parent, dirEntrySize) != len(parent) {
		return false
	}
	return true
}

// dirLookup searches dirIn's entries for name, per dir_lookup.
func (fs *FileSystem) dirLookup(dirIn *inode, name string) (sector uint32, isDir bool, found bool) {
	length := fs.length(dirIn)
	var buf [dirEntrySize]byte
	for ofs := uint32(0); ofs+dirEntrySize <= length; ofs += dirEntrySize {
		if fs.readAt(dirIn, buf[:], ofs) != dirEntrySize {
			break
		}
		e := decodeDirEntry(buf[:])
		if e.InUse && e.Name == name {
			return e.Sector, e.IsDir, true
		}
	}
	return 0, false, false
}

// dirAdd inserts a new entry for name -> sector into dirIn, reusing a
// freed slot if one exists or appending (growing the directory's inode)
// otherwise, per dir_add.
func (fs *FileSystem) dirAdd(dirIn *inode, name string, sector uint32, isDir bool) error {
	if len(name) == 0 || len(name) > NameMax {
		return ErrNameTooLong
	}
	if name == "." || name == ".." {
		return ErrExists
	}
	if _, _, found := fs.dirLookup(dirIn, name); found {
		return ErrExists
	}

	length := fs.length(dirIn)
	var buf [dirEntrySize]byte
	ofs := uint32(0)
	for ; ofs < length; ofs += dirEntrySize {
		if fs.readAt(dirIn, buf[:], ofs) != dirEntrySize {
			return fmt.Errorf("pintos: short read scanning directory for a free slot")
		}
		if !decodeDirEntry(buf[:]).InUse {
			break
		}
	}

	entry := encodeDirEntry(dirEntry{Sector: sector, Name: name, InUse: true, IsDir: isDir})
	if fs.writeAt(dirIn, entry, ofs) != len(entry) {
		return ErrNoSpace
	}
	return nil
}

// dirRemove clears name's entry in dirIn and marks its inode removed, per
// dir_remove. Callers are responsible for any emptiness/in-use checks
// that should gate the removal of a directory; see FileSystem.RemoveAt.
func (fs *FileSystem) dirRemove(dirIn *inode, name string) error {
	length := fs.length(dirIn)
	var buf [dirEntrySize]byte
	for ofs := uint32(0); ofs+dirEntrySize <= length; ofs += dirEntrySize {
		if fs.readAt(dirIn, buf[:], ofs) != dirEntrySize {
			break
		}
		e := decodeDirEntry(buf[:])
		if !e.InUse || e.Name != name {
			continue
		}
		target := fs.inodeOpen(e.Sector)
		target.setRemoved()
		fs.inodeClose(target)

		e.InUse = false
		out := encodeDirEntry(e)
		if fs.writeAt(dirIn, out, ofs) != len(out) {
			return fmt.Errorf("pintos: failed to clear directory entry %q", name)
		}
		return nil
	}
	return ErrNotFound
}

// dirReadDir advances the cursor *pos past the next in-use entry other
// than "." or "..", returning its name. It corresponds to dir_readdir.
func (fs *FileSystem) dirReadDir(dirIn *inode, pos *uint32) (string, bool) {
	length := fs.length(dirIn)
	var buf [dirEntrySize]byte
	for *pos+dirEntrySize <= length {
		ofs := *pos
		*pos += dirEntrySize
		if fs.readAt(dirIn, buf[:], ofs) != dirEntrySize {
			return "", false
		}
		e := decodeDirEntry(buf[:])
		if e.InUse && e.Name != "." && e.Name != ".." {
			return e.Name, true
		}
	}
	return "", false
}
