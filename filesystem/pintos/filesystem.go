package pintos

import (
	"os"

	"github.com/ventimdg/Operating-Systems/filesystem"
)

// Create creates a file or directory named name, resolved against env's
// CWD for relative paths, with the given initial size. It corresponds to
// filesys_create.
func (pfs *FileSystem) Create(env *Env, name string, initialSize uint32, isDir bool) error {
	dir, part, err := pfs.resolve(env, name)
	if err != nil {
		return err
	}
	defer pfs.inodeClose(dir)
	if part == "" {
		return ErrExists
	}

	sector, ok := pfs.fm.allocate(1, nil, 0)
	if !ok {
		return ErrNoSpace
	}
	var created bool
	if isDir {
		created = pfs.dirCreateRaw(sector, 2, dir.sector)
	} else {
		created = pfs.createInode(sector, initialSize)
	}
	if !created {
		pfs.fm.release(sector, 1)
		return ErrNoSpace
	}
	if err := pfs.dirAdd(dir, part, sector, isDir); err != nil {
		in := pfs.inodeOpen(sector)
		in.setRemoved()
		pfs.inodeClose(in)
		return err
	}
	return nil
}

// OpenAt opens name for reading and writing, resolved against env's CWD
// for relative paths. It corresponds to filesys_open.
func (pfs *FileSystem) OpenAt(env *Env, name string) (*File, error) {
	dir, part, err := pfs.resolve(env, name)
	if err != nil {
		return nil, err
	}
	if part == "" {
		dir.addOpenRef(1)
		return &File{fs: pfs, in: dir, name: name, isDir: true}, nil
	}
	defer pfs.inodeClose(dir)

	sector, isDir, found := pfs.dirLookup(dir, part)
	if !found {
		return nil, ErrNotFound
	}
	in := pfs.inodeOpen(sector)
	in.isDir = isDir
	in.addOpenRef(1)
	return &File{fs: pfs, in: in, name: part, isDir: isDir}, nil
}

// lookupPath resolves name to its inode sector without opening a handle.
func (pfs *FileSystem) lookupPath(env *Env, name string) (sector uint32, isDir, found bool) {
	dir, part, err := pfs.resolve(env, name)
	if err != nil {
		return 0, false, false
	}
	defer pfs.inodeClose(dir)
	if part == "" {
		return dir.sector, true, true
	}
	return pfs.dirLookup(dir, part)
}

// RemoveAt deletes name, resolved against env's CWD for relative paths.
// Removing a directory additionally requires that it is empty (beyond
// "." and "..") and not the root, a current working directory, or open
// elsewhere: filesys_remove checks the ref-count guard first and only
// then performs the full emptiness scan, and RemoveAt preserves that
// order and both checks.
func (pfs *FileSystem) RemoveAt(env *Env, name string) error {
	dir, part, err := pfs.resolve(env, name)
	if err != nil {
		return err
	}
	defer pfs.inodeClose(dir)
	if part == "" {
		return ErrBusy
	}

	sector, isDir, found := pfs.dirLookup(dir, part)
	if !found {
		return ErrNotFound
	}
	target := pfs.inodeOpen(sector)
	defer pfs.inodeClose(target)

	if isDir {
		openRefs, cwdRefs := target.refs()
		if openRefs != 0 || cwdRefs != 0 || target.isRoot {
			return ErrBusy
		}
		length := pfs.length(target)
		var buf [dirEntrySize]byte
		for ofs := uint32(2 * dirEntrySize); ofs+dirEntrySize <= length; ofs += dirEntrySize {
			if pfs.readAt(target, buf[:], ofs) != dirEntrySize {
				break
			}
			if decodeDirEntry(buf[:]).InUse {
				return ErrBusy
			}
		}
	}
	return pfs.dirRemove(dir, part)
}

// Chdir changes env's CWD to name, resolved against its current CWD for
// relative paths. There is no kernel thread table here, so unlike Pintos
// the caller's Env is mutated directly rather than thread_current()->pcb.
func (pfs *FileSystem) Chdir(env *Env, name string) error {
	dir, part, err := pfs.resolve(env, name)
	if err != nil {
		return err
	}
	var target *inode
	if part == "" {
		target = dir
	} else {
		sector, isDir, found := pfs.dirLookup(dir, part)
		pfs.inodeClose(dir)
		if !found {
			return ErrNotFound
		}
		if !isDir {
			return ErrNotDirectory
		}
		target = pfs.inodeOpen(sector)
	}

	// env's current CWD only holds a live cwdRef once some prior Chdir has
	// registered it; a freshly constructed Env (e.g. from RootEnv) has not,
	// so there is nothing to release yet.
	if env.cwdRefd {
		old := pfs.inodeOpen(env.CWD)
		old.addCWDRef(-1)
		pfs.inodeClose(old)
		pfs.inodeClose(old) // the reference kept open while it was env's CWD
	}

	// target stays open while it is env's CWD, so its in-memory inode and
	// the cwdRef registered on it remain visible to RemoveAt.
	target.addCWDRef(1)
	env.CWD = target.sector
	env.cwdRefd = true
	return nil
}

// MkdirAt creates a directory named name relative to env, with no
// initial content beyond "." and "..".
func (pfs *FileSystem) MkdirAt(env *Env, name string) error {
	return pfs.Create(env, name, 0, true)
}

// The methods below satisfy filesystem.FileSystem using the root
// directory as an implicit CWD; callers that need CWD-relative
// operations use the Env-aware methods above directly.

// Mkdir implements filesystem.FileSystem.
func (pfs *FileSystem) Mkdir(pathname string) error {
	return pfs.MkdirAt(RootEnv(), pathname)
}

// Remove implements filesystem.FileSystem.
func (pfs *FileSystem) Remove(pathname string) error {
	return pfs.RemoveAt(RootEnv(), pathname)
}

// Rename is an explicit non-goal: the source has no filesys_rename.
func (pfs *FileSystem) Rename(oldpath, newpath string) error {
	return filesystem.ErrNotSupported
}

// ReadDir implements filesystem.FileSystem.
func (pfs *FileSystem) ReadDir(pathname string) ([]os.FileInfo, error) {
	f, err := pfs.OpenAt(RootEnv(), pathname)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	entries, err := f.ReadDir(0)
	if err != nil {
		return nil, err
	}
	infos := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// OpenFile implements filesystem.FileSystem. flag follows os.O_* bits;
// Pintos has no access-mode enforcement beyond deny-write, so O_RDONLY
// and O_WRONLY are not distinguished.
func (pfs *FileSystem) OpenFile(pathname string, flag int) (filesystem.File, error) {
	env := RootEnv()
	if flag&os.O_CREATE != 0 {
		if _, _, found := pfs.lookupPath(env, pathname); !found {
			if err := pfs.Create(env, pathname, 0, false); err != nil {
				return nil, err
			}
		}
	}
	f, err := pfs.OpenAt(env, pathname)
	if err != nil {
		return nil, err
	}
	if flag&os.O_TRUNC != 0 && !f.isDir {
		f.in.resizeMu.Lock()
		pfs.resize(f.in, 0)
		f.in.resizeMu.Unlock()
	}
	if flag&os.O_APPEND != 0 {
		f.pos = int64(pfs.length(f.in))
	}
	return f, nil
}
