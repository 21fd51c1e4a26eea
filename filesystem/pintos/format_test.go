package pintos

import "testing"

func TestFormatThenOpenRoundTrip(t *testing.T) {
	dev := newTestDevice(t, 256)

	fs1, err := Format(dev, &Params{VolumeLabel: "scratch"})
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	env := RootEnv()
	if err := fs1.Create(env, "hello", 0, false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	f, err := fs1.OpenAt(env, "hello")
	if err != nil {
		t.Fatalf("OpenAt: %v", err)
	}
	if _, err := f.Write([]byte("hi there")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f.Close()
	if err := fs1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	fs2, err := Open(dev, &Params{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer fs2.Close()

	f2, err := fs2.OpenAt(RootEnv(), "hello")
	if err != nil {
		t.Fatalf("OpenAt after remount: %v", err)
	}
	defer f2.Close()
	buf := make([]byte, 8)
	n, err := f2.Read(buf)
	if err != nil {
		t.Fatalf("Read after remount: %v", err)
	}
	if string(buf[:n]) != "hi there" {
		t.Fatalf("got %q, want %q", buf[:n], "hi there")
	}
}

func TestFormatRootIsSelfParented(t *testing.T) {
	fs := newTestFS(t, 64)
	root, err := fs.OpenAt(RootEnv(), "..")
	if err != nil {
		t.Fatalf("OpenAt(\"..\"): %v", err)
	}
	defer root.Close()
	if root.in.sector != RootDirSector {
		t.Fatalf("root's .. resolved to sector %d, want %d", root.in.sector, RootDirSector)
	}
}
