package filestore

import (
	"bytes"
	"os"
	"testing"

	"github.com/olimpiadi-informatica/task-maker-go/filekey"
)

func TestStoreGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 1<<20, 1<<19)
	if err != nil {
		t.Fatal(err)
	}
	content := []byte("hello, task-maker")
	key := filekey.Sum(content)
	h, err := s.StoreBytes(key, content)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Drop()

	got, err := s.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	defer got.Drop()
	f, err := got.Open()
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	buf := make([]byte, len(content))
	if _, err := f.Read(buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, content) {
		t.Fatalf("round trip mismatch: %q != %q", buf, content)
	}
}

func TestStoreIdempotentOnCollision(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 1<<20, 1<<19)
	if err != nil {
		t.Fatal(err)
	}
	content := []byte("identical bytes, two ids")
	key := filekey.Sum(content)

	h1, err := s.StoreBytes(key, content)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := s.StoreBytes(key, content)
	if err != nil {
		t.Fatal(err)
	}
	if s.TotalSize() != int64(len(content)) {
		t.Fatalf("expected a single stored copy, totalSize=%d", s.TotalSize())
	}
	s.mu.Lock()
	rc := s.entries[key].refcount
	s.mu.Unlock()
	if rc != 2 {
		t.Fatalf("expected refcount 2 while both handles live, got %d", rc)
	}
	h1.Drop()
	h2.Drop()
	s.mu.Lock()
	rc = s.entries[key].refcount
	s.mu.Unlock()
	if rc != 0 {
		t.Fatalf("expected refcount 0 after both drops, got %d", rc)
	}
}

func TestGetNotFound(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 1<<20, 1<<19)
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Get(filekey.Sum([]byte("never stored")))
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLRUFlushSparesHandles(t *testing.T) {
	dir := t.TempDir()
	// small watermarks so a handful of 100-byte files trigger a flush
	s, err := New(dir, 300, 150)
	if err != nil {
		t.Fatal(err)
	}
	mk := func(tag byte) []byte {
		b := make([]byte, 100)
		for i := range b {
			b[i] = tag
		}
		return b
	}

	pinned, err := s.StoreBytes(filekey.Sum(mk('A')), mk('A'))
	if err != nil {
		t.Fatal(err)
	}
	defer pinned.Drop()

	h2, err := s.StoreBytes(filekey.Sum(mk('B')), mk('B'))
	if err != nil {
		t.Fatal(err)
	}
	h2.Drop() // now evictable, and it's the oldest unreferenced entry

	// touch pinned again so its last-access is newer than B's
	if _, err := s.Get(pinned.Key()); err != nil {
		t.Fatal(err)
	}

	h3, err := s.StoreBytes(filekey.Sum(mk('C')), mk('C'))
	if err != nil {
		t.Fatal(err)
	}
	defer h3.Drop()
	s.maybeFlush()

	if !s.Has(pinned.Key()) {
		t.Fatal("a handle-pinned entry must never be evicted")
	}
	if s.Has(filekey.Sum(mk('B'))) {
		t.Fatal("expected the unreferenced oldest entry to be evicted")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 1<<20, 1<<19)
	if err != nil {
		t.Fatal(err)
	}
	content := []byte("persisted across restart")
	key := filekey.Sum(content)
	h, err := s.StoreBytes(key, content)
	if err != nil {
		t.Fatal(err)
	}
	h.Drop()

	idxPath := dir + "/index"
	if err := s.Save(idxPath); err != nil {
		t.Fatal(err)
	}

	s2, err := New(dir, 1<<20, 1<<19)
	if err != nil {
		t.Fatal(err)
	}
	if err := Load(idxPath, s2); err != nil {
		t.Fatal(err)
	}
	if !s2.Has(key) {
		t.Fatal("expected loaded index to contain the persisted key")
	}
}

func TestLoadRejectsCorruptIndex(t *testing.T) {
	dir := t.TempDir()
	idxPath := dir + "/index"
	if err := writeGarbage(idxPath); err != nil {
		t.Fatal(err)
	}
	s, err := New(dir, 1<<20, 1<<19)
	if err != nil {
		t.Fatal(err)
	}
	err = Load(idxPath, s)
	if err == nil {
		t.Fatal("expected an error loading a garbage index file")
	}
}

func writeGarbage(path string) error {
	return os.WriteFile(path, []byte("not a valid index file at all"), 0644)
}
