package job

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestSetThenFromName(t *testing.T) {
	store := &Store{Dir: filepath.Join(t.TempDir(), "jobs")}
	j := store.New("run1")
	if err := j.Set("number", 1); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if err := j.Set("arch", "resnet50"); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	loaded, err := store.FromName("run1")
	if err != nil {
		t.Fatalf("FromName error: %v", err)
	}
	v, ok := loaded.Get("number")
	if !ok || v.GetNumberValue() != 1 {
		t.Fatalf("number = %v (ok=%v), want 1", v, ok)
	}
	if v, _ := loaded.Get("arch"); v.GetStringValue() != "resnet50" {
		t.Fatalf("arch = %v", v)
	}
}

func TestDefaultName(t *testing.T) {
	store := &Store{Dir: t.TempDir()}
	a, b := store.New(""), store.New("")
	if !strings.HasPrefix(a.Name, "job_") || a.Name == b.Name {
		t.Fatalf("generated names %q and %q", a.Name, b.Name)
	}
}

func TestConcurrentSavesIntoFreshDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "jobs")
	// Separate stores do not share a lock, so the directory creation races.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store := &Store{Dir: dir}
			errs[i] = store.New("shared").Set("worker", i)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "shared" {
		t.Fatalf("directory entries %v, want only shared", entries)
	}
	if _, err := (&Store{Dir: dir}).FromName("shared"); err != nil {
		t.Fatalf("reload: %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	store := &Store{Dir: dir}
	if _, err := store.FromName("missing"); err == nil {
		t.Fatal("expected error for missing job")
	}
	if err := os.WriteFile(filepath.Join(dir, "corrupt"), []byte("not zlib"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.FromName("corrupt"); err == nil {
		t.Fatal("expected error for corrupt job")
	}
}

func TestCompressionLevel(t *testing.T) {
	store := &Store{Dir: t.TempDir(), Compression: 42}
	if err := store.New("bad").Save(); err == nil {
		t.Fatal("expected error for invalid compression level")
	}
}
