package fsutil

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestListImagesFindsFITSAndXISF(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.fits"))
	touch(t, filepath.Join(root, "a.wcs"))
	touch(t, filepath.Join(root, "night2", "b.XISF"))
	touch(t, filepath.Join(root, "night2", "c.fit"))
	touch(t, filepath.Join(root, "notes.txt"))

	files, err := ListImages(root)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	sort.Strings(files)
	want := []string{
		filepath.Join(root, "a.fits"),
		filepath.Join(root, "night2", "b.XISF"),
		filepath.Join(root, "night2", "c.fit"),
	}
	if len(files) != len(want) {
		t.Fatalf("expected %v, got %v", want, files)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, files)
		}
	}
}

func TestExpandImagesKeepsFiles(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "dir", "x.fts"))
	missing := filepath.Join(root, "missing.fits")

	out, err := ExpandImages([]string{filepath.Join(root, "dir"), missing})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(out) != 2 || out[0] != filepath.Join(root, "dir", "x.fts") || out[1] != missing {
		t.Fatalf("unexpected expansion %v", out)
	}
}

func TestFirstExisting(t *testing.T) {
	root := t.TempDir()
	present := filepath.Join(root, "astap")
	touch(t, present)
	if got := FirstExisting(filepath.Join(root, "nope"), present); got != present {
		t.Fatalf("expected %s, got %q", present, got)
	}
	if got := FirstExisting(filepath.Join(root, "nope")); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
