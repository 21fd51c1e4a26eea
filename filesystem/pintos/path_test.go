package pintos

import "testing"

func TestPathResolutionAbsoluteAndRelative(t *testing.T) {
	fs := newTestFS(t, 64)
	env := RootEnv()

	if err := fs.MkdirAt(env, "a"); err != nil {
		t.Fatalf("MkdirAt(a): %v", err)
	}
	if err := fs.Create(env, "/a/b", 0, false); err != nil {
		t.Fatalf("Create(/a/b): %v", err)
	}

	if err := fs.Chdir(env, "a"); err != nil {
		t.Fatalf("Chdir(a): %v", err)
	}
	if env.CWD == RootDirSector {
		t.Fatal("Chdir(a) did not change CWD")
	}

	f, err := fs.OpenAt(env, "b")
	if err != nil {
		t.Fatalf("OpenAt(b) relative to a: %v", err)
	}
	f.Close()

	f2, err := fs.OpenAt(env, "../a/b")
	if err != nil {
		t.Fatalf("OpenAt(../a/b): %v", err)
	}
	f2.Close()

	if err := fs.Chdir(env, ".."); err != nil {
		t.Fatalf("Chdir(..): %v", err)
	}
	if env.CWD != RootDirSector {
		t.Fatalf("Chdir(..) from /a landed on sector %d, want root %d", env.CWD, RootDirSector)
	}
}

func TestPathResolutionErrors(t *testing.T) {
	fs := newTestFS(t, 64)
	env := RootEnv()

	if _, err := fs.OpenAt(env, "missing"); err != ErrNotFound {
		t.Fatalf("OpenAt(missing) = %v, want ErrNotFound", err)
	}
	if err := fs.Create(env, "plain", 0, false); err != nil {
		t.Fatalf("Create(plain): %v", err)
	}
	if _, err := fs.OpenAt(env, "plain/x"); err != ErrNotDirectory {
		t.Fatalf("OpenAt(plain/x) = %v, want ErrNotDirectory", err)
	}

	long := make([]byte, NameMax+1)
	for i := range long {
		long[i] = 'x'
	}
	if err := fs.Create(env, string(long), 0, false); err != ErrNameTooLong {
		t.Fatalf("Create(too-long name) = %v, want ErrNameTooLong", err)
	}
}
