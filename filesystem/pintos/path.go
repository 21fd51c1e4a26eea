package pintos

import "strings"

// getNextPart extracts the next '/'-separated component from path,
// skipping any leading slashes, and returns it along with the unconsumed
// remainder. ok is false once path has no more components. It corresponds
// to get_next_part, except it returns the too-long condition as an error
// instead of a magic -1 sentinel.
func getNextPart(path string) (part, rest string, ok bool, err error) {
	i := 0
	for i < len(path) && path[i] == '/' {
		i++
	}
	if i == len(path) {
		return "", "", false, nil
	}
	j := i
	for j < len(path) && path[j] != '/' {
		j++
	}
	if j-i > NameMax {
		return "", "", false, ErrNameTooLong
	}
	return path[i:j], path[j:], true, nil
}

// resolve walks path down to the directory containing its final
// component: absolute paths (leading '/') start at the root, relative
// paths start at env.CWD. It corresponds to resolve_path together with
// the get_next_part loop every filesys_* caller used to peel off the
// final component afterward.
//
// The returned inode is the containing directory, open and owned by the
// caller (it must be passed to inodeClose). part is the final path
// component, or "" if path has no components at all (e.g. "/" or ""). A
// final "." or ".." is returned as part like any other name.
func (fs *FileSystem) resolve(env *Env, path string) (*inode, string, error) {
	var dirSector uint32
	if strings.HasPrefix(path, "/") {
		dirSector = RootDirSector
	} else {
		dirSector = env.CWD
	}
	dir := fs.inodeOpen(dirSector)

	part, next, ok, err := getNextPart(path)
	if err != nil {
		fs.inodeClose(dir)
		return nil, "", err
	}
	if !ok {
		return dir, "", nil
	}

	for {
		nextPart, nextRest, hasMore, err2 := getNextPart(next)
		if err2 != nil {
			fs.inodeClose(dir)
			return nil, "", err2
		}
		if !hasMore {
			// part is the final component; dir is its containing directory.
			return dir, part, nil
		}
		// "." and ".." need no special case: dirCreateRaw writes them as
		// ordinary entries pointing at the directory itself and its parent.
		childSector, isDirChild, found := fs.dirLookup(dir, part)
		if !found {
			fs.inodeClose(dir)
			return nil, "", ErrNotFound
		}
		if !isDirChild {
			fs.inodeClose(dir)
			return nil, "", ErrNotDirectory
		}
		child := fs.inodeOpen(childSector)
		fs.inodeClose(dir)
		dir = child
		part, next = nextPart, nextRest
	}
}
