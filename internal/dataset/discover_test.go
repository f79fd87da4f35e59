package dataset

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParseFolderSortsClasses(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "zebra", "a.png"))
	mustWrite(t, filepath.Join(dir, "ant", "b.jpg"))
	mustWrite(t, filepath.Join(dir, "readme.txt"))

	classes, err := ParseFolder(dir)
	if err != nil {
		t.Fatalf("ParseFolder error: %v", err)
	}
	if want := []string{"ant", "zebra"}; !reflect.DeepEqual(classes, want) {
		t.Fatalf("classes %v want %v", classes, want)
	}
}

func TestDiscoverImagesLabels(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "ant", "b.JPG"))
	mustWrite(t, filepath.Join(dir, "ant", "nested", "a.png"))
	mustWrite(t, filepath.Join(dir, "ant", "notes.txt"))
	mustWrite(t, filepath.Join(dir, "bee", "c.bmp"))

	entries, err := DiscoverImages(dir, []string{"ant", "bee"})
	if err != nil {
		t.Fatalf("DiscoverImages error: %v", err)
	}
	want := []Entry{
		{Path: filepath.Join(dir, "ant", "b.JPG"), Label: 0},
		{Path: filepath.Join(dir, "ant", "nested", "a.png"), Label: 0},
		{Path: filepath.Join(dir, "bee", "c.bmp"), Label: 1},
	}
	if !reflect.DeepEqual(entries, want) {
		t.Fatalf("entries %v want %v", entries, want)
	}
}

func TestParseFolderMissing(t *testing.T) {
	if _, err := ParseFolder(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("expected error")
	}
}

func mustWrite(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
