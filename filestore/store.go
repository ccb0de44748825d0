// Package filestore implements the content-addressed, size-capped disk
// store described in spec.md §4.A: files are addressed by filekey.Key,
// sharded two levels deep on disk, reference-counted while a Handle is
// held, and LRU-flushed back down to a low watermark once a high
// watermark is crossed.
package filestore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/olimpiadi-informatica/task-maker-go/filekey"
	"github.com/olimpiadi-informatica/task-maker-go/heap"
)

// Store is a single writer-many-reader content-addressed disk store,
// guarded by a mutex over its index plus per-key atomicity of insert
// (spec.md §5 "Shared-resource policy").
type Store struct {
	dir     string
	maxSize int64
	minSize int64
	logger  *log.Logger

	mu        sync.Mutex
	totalSize int64
	entries   map[filekey.Key]*entry
}

type entry struct {
	size       int64
	lastAccess int64 // unix nanoseconds; bumped under mu by Get and Store
	refcount   int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger attaches a logger used for non-fatal diagnostics (eviction
// walk errors, etc). If unset, the store is silent, matching
// tenant.Manager's WithLogger convention.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New opens (or creates) a store rooted at dir. maxSize/minSize implement
// the flush watermarks from spec.md §4.A: once total size reaches maxSize,
// maybe_flush evicts LRU entries with refcount 0 until total size is at
// or below minSize. minSize must be <= maxSize.
func New(dir string, maxSize, minSize int64, opts ...Option) (*Store, error) {
	if minSize > maxSize {
		return nil, fmt.Errorf("filestore: minSize %d exceeds maxSize %d", minSize, maxSize)
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, err
	}
	s := &Store{
		dir:     dir,
		maxSize: maxSize,
		minSize: minSize,
		entries: make(map[filekey.Key]*entry),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Store) errorf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// path returns the on-disk path for key using the two-level hex sharding
// scheme from spec.md §4.A / §6: base/<first-2-hex>/<next-2-hex>/<rest-hex>.
func (s *Store) path(key filekey.Key) string {
	hex := key.String()
	return filepath.Join(s.dir, hex[:2], hex[2:4], hex[4:])
}

// Handle is an owning, reference-counted pin on a key in the store. While
// any Handle for a key exists, that key's file will not be evicted by
// maybeFlush (spec.md invariant 4).
type Handle struct {
	store    *Store
	key      filekey.Key
	size     int64
	dropped  bool
	dropOnce sync.Once
}

// Key returns the key this handle pins.
func (h *Handle) Key() filekey.Key { return h.key }

// Size returns the size, in bytes, of the pinned file.
func (h *Handle) Size() int64 { return h.size }

// Path returns the on-disk path of the pinned file. The path is only
// valid for as long as the handle is held.
func (h *Handle) Path() string { return h.store.path(h.key) }

// Open opens the pinned file for reading.
func (h *Handle) Open() (*os.File, error) {
	return os.Open(h.Path())
}

// Clone returns a new Handle pinning the same key, incrementing the
// refcount. Both handles must independently be Dropped.
func (h *Handle) Clone() *Handle {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if e := h.store.entries[h.key]; e != nil {
		e.refcount++
	}
	return &Handle{store: h.store, key: h.key, size: h.size}
}

// Drop releases this handle's pin on its key. Drop is idempotent: calling
// it more than once has no additional effect.
func (h *Handle) Drop() {
	h.dropOnce.Do(func() {
		h.store.drop(h.key)
		h.dropped = true
	})
}

func (s *Store) drop(key filekey.Key) {
	s.mu.Lock()
	e := s.entries[key]
	if e != nil && e.refcount > 0 {
		e.refcount--
	}
	s.mu.Unlock()
}

func (s *Store) touch(e *entry) {
	e.lastAccess = time.Now().UnixNano()
}

// Store writes the bytes read from r under key and returns an owning
// Handle. Store is idempotent on key collision: since the key is a
// content hash, bytes for an existing key are assumed equal, so a second
// Store call for the same key simply bumps the refcount without
// re-writing anything (spec.md §4.A, §8 property 3).
func (s *Store) Store(key filekey.Key, r io.Reader) (*Handle, error) {
	s.mu.Lock()
	if e, ok := s.entries[key]; ok {
		e.refcount++
		s.touch(e)
		size := e.size
		s.mu.Unlock()
		// drain the reader so callers that assumed Store always
		// consumes r (e.g. while streaming a file sub-protocol) don't
		// need a special case
		_, _ = io.Copy(io.Discard, r)
		return &Handle{store: s, key: key, size: size}, nil
	}
	s.mu.Unlock()

	target := s.path(key)
	if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".store-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDiskFull, err)
	}
	tmpName := tmp.Name()
	n, err := io.Copy(tmp, r)
	cerr := tmp.Close()
	if err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("%w: %s", ErrDiskFull, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return nil, err
	}

	s.mu.Lock()
	// another goroutine may have raced us and inserted the same key;
	// since content is assumed identical for a given key, prefer the
	// entry that is already registered and drop our freshly-written
	// duplicate bytes (they are byte-identical, so either copy is fine
	// to keep on disk -- we just avoid double-counting totalSize).
	if e, ok := s.entries[key]; ok {
		e.refcount++
		s.touch(e)
		s.mu.Unlock()
		return &Handle{store: s, key: key, size: e.size}, nil
	}
	e := &entry{size: n, refcount: 1}
	s.touch(e)
	s.entries[key] = e
	s.totalSize += n
	total := s.totalSize
	s.mu.Unlock()

	if total >= s.maxSize && s.maxSize > 0 {
		s.maybeFlush()
	}
	return &Handle{store: s, key: key, size: n}, nil
}

// StoreBytes is a convenience wrapper around Store for in-memory content.
func (s *Store) StoreBytes(key filekey.Key, b []byte) (*Handle, error) {
	return s.Store(key, &byteReader{b: b})
}

type byteReader struct {
	b []byte
}

func (r *byteReader) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.b)
	r.b = r.b[n:]
	return n, nil
}

// Get looks up key, bumping its last-access time and refcount if present.
// Get returns ErrNotFound if the key is absent, including the case where
// the key existed but was evicted by a concurrent maybeFlush.
func (s *Store) Get(key filekey.Key) (*Handle, error) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	e.refcount++
	s.touch(e)
	size := e.size
	s.mu.Unlock()
	return &Handle{store: s, key: key, size: size}, nil
}

// Has reports whether key is currently known to the store, without
// affecting its refcount or last-access time.
func (s *Store) Has(key filekey.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// TotalSize returns the current total size, in bytes, of everything the
// store is tracking (evicted or not-yet-evicted).
func (s *Store) TotalSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalSize
}

// fprio is a single candidate entry for eviction, ordered oldest-first.
type fprio struct {
	key        filekey.Key
	size       int64
	lastAccess int64
}

func lruLess(x, y fprio) bool { return x.lastAccess < y.lastAccess }

// maybeFlush implements spec.md §4.A maybe_flush: if total size is at or
// above maxSize, evict least-recently-used zero-refcount entries until
// total size is at or below minSize.
func (s *Store) maybeFlush() {
	s.mu.Lock()
	if s.totalSize < s.maxSize {
		s.mu.Unlock()
		return
	}
	var candidates []fprio
	for k, e := range s.entries {
		if e.refcount == 0 {
			candidates = append(candidates, fprio{key: k, size: e.size, lastAccess: e.lastAccess})
		}
	}
	heap.OrderSlice(candidates, lruLess)
	s.mu.Unlock()

	for len(candidates) > 0 {
		s.mu.Lock()
		if s.totalSize <= s.minSize {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		c := heap.PopSlice(&candidates, lruLess)
		s.mu.Lock()
		e, ok := s.entries[c.key]
		if !ok || e.refcount != 0 || e.lastAccess != c.lastAccess {
			// entry is gone, now pinned, or was re-touched since we
			// snapshotted candidates; skip it rather than evict
			// something still in use.
			s.mu.Unlock()
			continue
		}
		delete(s.entries, c.key)
		s.totalSize -= e.size
		s.mu.Unlock()

		path := s.path(c.key)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.errorf("filestore: evicting %s: %s", c.key, err)
		}
		s.pruneEmptyDirs(filepath.Dir(path))
	}
}

// pruneEmptyDirs removes empty shard directories up to (but not
// including) the store root, as required by spec.md §4.A.
func (s *Store) pruneEmptyDirs(dir string) {
	for dir != s.dir && len(dir) > len(s.dir) {
		ents, err := os.ReadDir(dir)
		if err != nil || len(ents) > 0 {
			return
		}
		if os.Remove(dir) != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// Reconcile rehashes every file currently on disk and discards (from the
// in-memory index only) any entry whose content no longer hashes to its
// key (spec.md §7: "a stored file whose rehash disagrees with its key").
// It is intended to be run after Load returns ErrCorruptIndex, so that a
// corrupt index does not also hide genuinely live files from eviction
// accounting forever; all such files simply become untracked (and thus
// immediately eligible to be overwritten by a fresh Store call).
func (s *Store) Reconcile() error {
	return filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(s.dir, path)
		if err != nil {
			return nil
		}
		hex := strings.ReplaceAll(rel, string(filepath.Separator), "")
		key, err := filekey.ParseKey(hex)
		if err != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		h := filekey.NewHasher()
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil || h.Sum() != key {
			s.mu.Lock()
			if e, ok := s.entries[key]; ok {
				delete(s.entries, key)
				s.totalSize -= e.size
			}
			s.mu.Unlock()
			return nil
		}
		s.mu.Lock()
		if _, ok := s.entries[key]; !ok {
			e := &entry{size: info.Size()}
			s.touch(e)
			s.entries[key] = e
			s.totalSize += info.Size()
		}
		s.mu.Unlock()
		return nil
	})
}
