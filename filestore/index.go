package filestore

import (
	"encoding/gob"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/olimpiadi-informatica/task-maker-go/filekey"
	"github.com/olimpiadi-informatica/task-maker-go/internal/filehdr"
)

const (
	indexMagic   = "TMEXECSTOREIDXV1"
	indexVersion = "1"
)

// diskEntry is the serializable form of entry.
type diskEntry struct {
	Key        filekey.Key
	Size       int64
	LastAccess int64
}

type diskIndex struct {
	TotalSize int64
	Entries   []diskEntry
}

// Save atomically rewrites the index file at path with the store's
// current state. Save is intended to be called once, on shutdown
// (spec.md §4.A "Persistence").
func (s *Store) Save(path string) error {
	s.mu.Lock()
	idx := diskIndex{TotalSize: s.totalSize, Entries: make([]diskEntry, 0, len(s.entries))}
	for k, e := range s.entries {
		idx.Entries = append(idx.Entries, diskEntry{Key: k, Size: e.size, LastAccess: e.lastAccess})
	}
	s.mu.Unlock()

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	hdr, err := filehdr.New(indexMagic, indexVersion)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := hdr.Write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := gob.NewEncoder(zw).Encode(&idx); err != nil {
		zw.Close()
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := zw.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Load replaces the store's in-memory index with the contents of the
// index file at path. A version mismatch (or any other malformed header
// or body) is reported as ErrCorruptIndex: per spec.md §4.A, the store
// never attempts to silently migrate an incompatible index. Callers that
// get ErrCorruptIndex should start from an empty index and may call
// Reconcile to recover accounting for files already on disk.
func Load(path string, store *Store) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // fresh store, nothing to load
		}
		return err
	}
	defer f.Close()
	if err := filehdr.Read(f, indexMagic, indexVersion); err != nil {
		return fmt.Errorf("%w: %s", ErrCorruptIndex, err)
	}
	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrCorruptIndex, err)
	}
	defer zr.Close()
	var idx diskIndex
	if err := gob.NewDecoder(zr).Decode(&idx); err != nil {
		return fmt.Errorf("%w: %s", ErrCorruptIndex, err)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	store.entries = make(map[filekey.Key]*entry, len(idx.Entries))
	store.totalSize = idx.TotalSize
	for _, de := range idx.Entries {
		store.entries[de.Key] = &entry{size: de.Size, lastAccess: de.LastAccess}
	}
	return nil
}
