package pintos

import (
	"sort"
	"testing"
)

func TestDirectoryCreateLookupReadDir(t *testing.T) {
	fs := newTestFS(t, 64)
	env := RootEnv()

	if err := fs.MkdirAt(env, "sub"); err != nil {
		t.Fatalf("MkdirAt: %v", err)
	}
	if err := fs.Create(env, "sub/a", 0, false); err != nil {
		t.Fatalf("Create(sub/a): %v", err)
	}
	if err := fs.Create(env, "sub/b", 0, false); err != nil {
		t.Fatalf("Create(sub/b): %v", err)
	}

	d, err := fs.OpenAt(env, "sub")
	if err != nil {
		t.Fatalf("OpenAt(sub): %v", err)
	}
	defer d.Close()

	entries, err := d.ReadDir(0)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	want := []string{"a", "b"}
	if len(names) != len(want) || names[0] != want[0] || names[1] != want[1] {
		t.Fatalf("ReadDir() = %v, want %v (. and .. must be skipped)", names, want)
	}
}

func TestDirectoryRemoveRejectsNonEmpty(t *testing.T) {
	fs := newTestFS(t, 64)
	env := RootEnv()
	if err := fs.MkdirAt(env, "sub"); err != nil {
		t.Fatalf("MkdirAt: %v", err)
	}
	if err := fs.Create(env, "sub/a", 0, false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := fs.Remove("sub"); err != ErrBusy {
		t.Fatalf("Remove(non-empty dir) = %v, want ErrBusy", err)
	}
	if err := fs.RemoveAt(env, "sub/a"); err != nil {
		t.Fatalf("RemoveAt(sub/a): %v", err)
	}
	if err := fs.Remove("sub"); err != nil {
		t.Fatalf("Remove(now-empty dir): %v", err)
	}
}

func TestDirectoryRemoveRejectsRootAndOpenDirectory(t *testing.T) {
	fs := newTestFS(t, 64)
	env := RootEnv()
	if err := fs.Remove("/"); err != ErrBusy {
		t.Fatalf("Remove(root) = %v, want ErrBusy", err)
	}

	if err := fs.MkdirAt(env, "sub"); err != nil {
		t.Fatalf("MkdirAt: %v", err)
	}
	open, err := fs.OpenAt(env, "sub")
	if err != nil {
		t.Fatalf("OpenAt(sub): %v", err)
	}
	if err := fs.Remove("sub"); err != ErrBusy {
		t.Fatalf("Remove(open dir) = %v, want ErrBusy", err)
	}
	open.Close()
	if err := fs.Remove("sub"); err != nil {
		t.Fatalf("Remove(sub) after close: %v", err)
	}
}

func TestDirectoryAddRejectsDuplicateAndReservedNames(t *testing.T) {
	fs := newTestFS(t, 64)
	env := RootEnv()
	if err := fs.Create(env, "dup", 0, false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := fs.Create(env, "dup", 0, false); err != ErrExists {
		t.Fatalf("Create(duplicate) = %v, want ErrExists", err)
	}
	if err := fs.Create(env, "..", 0, false); err == nil {
		t.Fatal("Create(\"..\") unexpectedly succeeded")
	}
}
