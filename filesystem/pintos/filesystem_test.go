package pintos

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/ventimdg/Operating-Systems/filesystem"
)

func TestConcurrentReadersDoNotBlockEachOther(t *testing.T) {
	fs := newTestFS(t, 64)
	env := RootEnv()
	if err := fs.Create(env, "shared", 0, false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	w, err := fs.OpenAt(env, "shared")
	if err != nil {
		t.Fatalf("OpenAt: %v", err)
	}
	payload := pattern(4096)
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	w.Close()

	const readers = 8
	var wg sync.WaitGroup
	errs := make(chan error, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := fs.OpenAt(env, "shared")
			if err != nil {
				errs <- err
				return
			}
			defer r.Close()
			buf := make([]byte, len(payload))
			if _, err := r.Read(buf); err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(buf, payload) {
				errs <- fmt.Errorf("reader read back mismatched bytes")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent reader failed: %v", err)
		}
	}
}

func TestDenyWriteBlocksConcurrentWriters(t *testing.T) {
	fs := newTestFS(t, 64)
	env := RootEnv()
	if err := fs.Create(env, "x", 0, false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	f, err := fs.OpenAt(env, "x")
	if err != nil {
		t.Fatalf("OpenAt: %v", err)
	}
	defer f.Close()

	f.DenyWrite()
	n, err := f.Write([]byte("nope"))
	if n != 0 || err != ErrReadOnly {
		t.Fatalf("Write while denied = (%d, %v), want (0, ErrReadOnly)", n, err)
	}
	f.AllowWrite()
	n, err = f.Write([]byte("ok"))
	if n != 2 || err != nil {
		t.Fatalf("Write after allow = (%d, %v), want (2, nil)", n, err)
	}
}

func TestOpenFileFlags(t *testing.T) {
	pfs := newTestFS(t, 64)

	f, err := pfs.OpenFile("created", os.O_CREATE)
	if err != nil {
		t.Fatalf("OpenFile(O_CREATE): %v", err)
	}
	if _, err := f.Write([]byte("12345")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f.Close()

	f2, err := pfs.OpenFile("created", os.O_CREATE|os.O_TRUNC)
	if err != nil {
		t.Fatalf("OpenFile(O_TRUNC): %v", err)
	}
	info, err := f2.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("size after O_TRUNC = %d, want 0", info.Size())
	}
	if _, err := f2.Write([]byte("abc")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f2.Close()

	f3, err := pfs.OpenFile("created", os.O_APPEND)
	if err != nil {
		t.Fatalf("OpenFile(O_APPEND): %v", err)
	}
	if _, err := f3.Write([]byte("def")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f3.Close()

	f4, err := pfs.OpenFile("created", 0)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f4.Close()
	buf := make([]byte, 6)
	n, _ := f4.Read(buf)
	if string(buf[:n]) != "abcdef" {
		t.Fatalf("contents = %q, want %q", buf[:n], "abcdef")
	}
}

func TestRenameIsNotSupported(t *testing.T) {
	pfs := newTestFS(t, 64)
	if err := pfs.Rename("a", "b"); err != filesystem.ErrNotSupported {
		t.Fatalf("Rename = %v, want filesystem.ErrNotSupported", err)
	}
}

func TestFileConvenienceAccessors(t *testing.T) {
	fs := newTestFS(t, 64)
	env := RootEnv()
	if err := fs.Create(env, "acc", 0, false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	f, err := fs.OpenAt(env, "acc")
	if err != nil {
		t.Fatalf("OpenAt: %v", err)
	}
	defer f.Close()

	if f.IsDir() {
		t.Fatal("IsDir() = true for a regular file")
	}
	if f.Inumber() == FreeMapSector || f.Inumber() == RootDirSector {
		t.Fatalf("Inumber() = %d, want a freshly allocated data sector", f.Inumber())
	}

	if n, err := f.WriteAt([]byte("0123456789"), 100); err != nil || n != 10 {
		t.Fatalf("WriteAt = (%d, %v), want (10, nil)", n, err)
	}
	if f.Size() != 110 {
		t.Fatalf("Size() = %d, want 110", f.Size())
	}
	if f.Tell() != 0 {
		t.Fatalf("Tell() = %d, want 0 (WriteAt must not move the seek position)", f.Tell())
	}

	buf := make([]byte, 10)
	if n, err := f.ReadAt(buf, 100); err != nil || n != 10 {
		t.Fatalf("ReadAt = (%d, %v), want (10, nil)", n, err)
	}
	if string(buf) != "0123456789" {
		t.Fatalf("ReadAt content = %q, want %q", buf, "0123456789")
	}
}

// TestCacheAbsorbsRepeatedAccess checks that repeatedly re-reading the same
// sector does not issue a fresh device read each time: the buffer cache
// must serve it from the in-memory slot once it is resident.
func TestCacheAbsorbsRepeatedAccess(t *testing.T) {
	fs := newTestFS(t, 64)
	env := RootEnv()
	if err := fs.Create(env, "hot", 0, false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	f, err := fs.OpenAt(env, "hot")
	if err != nil {
		t.Fatalf("OpenAt: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteAt([]byte("x"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	before := fs.dev.ReadCount()
	buf := make([]byte, 1)
	for i := 0; i < 50; i++ {
		if _, err := f.ReadAt(buf, 0); err != nil {
			t.Fatalf("ReadAt: %v", err)
		}
	}
	after := fs.dev.ReadCount()
	if after != before {
		t.Fatalf("50 repeated reads of a cached sector issued %d device reads, want 0", after-before)
	}
}

func TestFileSystemSatisfiesFilesystemInterface(t *testing.T) {
	var _ filesystem.FileSystem = (*FileSystem)(nil)
	var _ filesystem.File = (*File)(nil)
}
