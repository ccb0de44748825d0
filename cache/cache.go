// Package cache implements the execution cache described in spec.md
// §4.B: an in-memory map from CacheKey to a list of CacheEntry values
// (one per distinct limit set seen for that key), persisted to a single
// file on shutdown with the same magic+version discipline as the file
// store.
package cache

import (
	"log"
	"sync"

	"github.com/olimpiadi-informatica/task-maker-go/dag"
	"github.com/olimpiadi-informatica/task-maker-go/filekey"
	"github.com/olimpiadi-informatica/task-maker-go/filestore"
)

// Entry is the cached record of one past execution (spec.md §3
// "CacheEntry").
type Entry struct {
	Limits    dag.Limits
	Result    dag.ExecutionResult
	StdoutKey *filekey.Key
	StderrKey *filekey.Key
	Outputs   map[string]filekey.Key // sandbox-path -> FileKey
}

func (e Entry) outputKeys() []filekey.Key {
	keys := make([]filekey.Key, 0, len(e.Outputs)+2)
	for _, k := range e.Outputs {
		keys = append(keys, k)
	}
	if e.StdoutKey != nil {
		keys = append(keys, *e.StdoutKey)
	}
	if e.StderrKey != nil {
		keys = append(keys, *e.StderrKey)
	}
	return keys
}

// Cache is a coarse-grained, mutex-guarded map of CacheKey -> []Entry
// (spec.md §5 "The cache map is guarded by a single mutex; operations are
// coarse-grained and brief").
type Cache struct {
	mu      sync.Mutex
	entries map[filekey.Key][]Entry
	logger  *log.Logger
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[filekey.Key][]Entry)}
}

// SetLogger attaches a logger for diagnostics (stale-entry eviction,
// etc). A nil logger (the default) makes the cache silent.
func (c *Cache) SetLogger(l *log.Logger) { c.logger = l }

func (c *Cache) errorf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// Result is what Lookup returns on a hit: the cached result plus an
// owning Handle for every output file, pinned so the store cannot evict
// them out from under the caller before it inserts them into the
// scheduler's handle table.
type Result struct {
	Entry   Entry
	Handles []*filestore.Handle
}

// Lookup implements spec.md §4.B cache lookup: given a CacheKey and the
// new execution's limits, find a live, limit-compatible entry.
//
// "Live" means every output FileKey (stdout, stderr, each declared
// output) is still present in store; stale entries (where a key has been
// evicted) are deleted as they're discovered, per spec.md §4.B step 2.
//
// "Compatible" follows the rule in spec.md §4.B: a Success entry must
// have limits at least as strict as newLimits; a non-Success entry must
// have limits at least as lenient as newLimits.
func (c *Cache) Lookup(key filekey.Key, newLimits dag.Limits, store *filestore.Store) (Result, bool) {
	c.mu.Lock()
	entries := append([]Entry(nil), c.entries[key]...)
	c.mu.Unlock()

	var stale []int
	for i, e := range entries {
		if !c.isLive(e, store) {
			stale = append(stale, i)
			continue
		}
		if !compatible(e, newLimits) {
			continue
		}
		handles, ok := c.pinOutputs(e, store)
		if !ok {
			// raced with an eviction between the liveness check
			// and pinning; treat as stale and keep looking.
			stale = append(stale, i)
			continue
		}
		return Result{Entry: e, Handles: handles}, true
	}
	if len(stale) > 0 {
		c.removeStale(key, stale)
	}
	return Result{}, false
}

func compatible(e Entry, newLimits dag.Limits) bool {
	if e.Result.Status.Cacheable() && e.Result.Success() {
		return e.Limits.AtLeastAsStrict(newLimits)
	}
	return e.Limits.AtLeastAsLenient(newLimits)
}

func (c *Cache) isLive(e Entry, store *filestore.Store) bool {
	for _, k := range e.outputKeys() {
		if !store.Has(k) {
			return false
		}
	}
	return true
}

func (c *Cache) pinOutputs(e Entry, store *filestore.Store) ([]*filestore.Handle, bool) {
	handles := make([]*filestore.Handle, 0, len(e.outputKeys()))
	for _, k := range e.outputKeys() {
		h, err := store.Get(k)
		if err != nil {
			for _, got := range handles {
				got.Drop()
			}
			return nil, false
		}
		handles = append(handles, h)
	}
	return handles, true
}

// removeStale deletes, by index, entries discovered to be stale during a
// Lookup (spec.md §4.B step 2: "If any is gone, the entry is stale
// (delete it)").
func (c *Cache) removeStale(key filekey.Key, staleIdx []int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.entries[key]
	if cur == nil {
		return
	}
	drop := make(map[int]struct{}, len(staleIdx))
	for _, i := range staleIdx {
		drop[i] = struct{}{}
	}
	kept := cur[:0]
	for i, e := range cur {
		if _, dead := drop[i]; !dead {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(c.entries, key)
	} else {
		c.entries[key] = kept
	}
	c.errorf("cache: dropped %d stale entr(ies) for key %s", len(staleIdx), key)
}

// Insert adds a new Entry for key. Results with status InternalError are
// never cached (spec.md §4.B). Entries with limits equal to one already
// recorded are deduplicated (the existing entry is replaced).
func (c *Cache) Insert(key filekey.Key, e Entry) {
	if !e.Result.Status.Cacheable() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.entries[key]
	for i, existing := range cur {
		if existing.Limits.Equal(e.Limits) {
			cur[i] = e
			return
		}
	}
	c.entries[key] = append(cur, e)
}

// Len returns the total number of entries across all keys, for tests and
// status reporting.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, es := range c.entries {
		n += len(es)
	}
	return n
}
