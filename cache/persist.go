package cache

import (
	"encoding/gob"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/olimpiadi-informatica/task-maker-go/filekey"
	"github.com/olimpiadi-informatica/task-maker-go/internal/filehdr"
)

const (
	cacheMagic   = "TMEXECCACHEIDXV1"
	cacheVersion = "1"
)

// ErrCorrupt is returned by Load on a magic/version mismatch or an
// undeserializable body (spec.md §4.B "persisted to a single file on
// shutdown (same magic+version discipline as the store)").
var ErrCorrupt = fmt.Errorf("cache: corrupt persistence file")

type diskRecord struct {
	Key     filekey.Key
	Entries []Entry
}

func init() {
	// the concrete dag.ExecutionResult / dag.Limits fields embedded in
	// Entry are plain structs with only stdlib types (time.Duration,
	// pointers, slices), so the default gob encoding handles them
	// without registration.
}

// Save atomically rewrites the cache persistence file at path
// (spec.md §4.B).
func (c *Cache) Save(path string) error {
	c.mu.Lock()
	records := make([]diskRecord, 0, len(c.entries))
	for k, es := range c.entries {
		records = append(records, diskRecord{Key: k, Entries: es})
	}
	c.mu.Unlock()

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	hdr, err := filehdr.New(cacheMagic, cacheVersion)
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
	if err := gob.NewEncoder(zw).Encode(&records); err != nil {
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

// Load replaces c's in-memory state with the contents of the cache
// persistence file at path. A missing file is not an error (fresh
// cache); a malformed header or body is reported as ErrCorrupt, and per
// spec.md §7 the caller should treat this the same as an empty cache.
func (c *Cache) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	if err := filehdr.Read(f, cacheMagic, cacheVersion); err != nil {
		return fmt.Errorf("%w: %s", ErrCorrupt, err)
	}
	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrCorrupt, err)
	}
	defer zr.Close()
	var records []diskRecord
	if err := gob.NewDecoder(zr).Decode(&records); err != nil {
		return fmt.Errorf("%w: %s", ErrCorrupt, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[filekey.Key][]Entry, len(records))
	for _, r := range records {
		c.entries[r.Key] = r.Entries
	}
	return nil
}
