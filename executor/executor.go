// Package executor implements the front door described in spec.md §4.H:
// it accepts client and worker connections, validates and resolves
// incoming DAGs, forwards them to the scheduler, and relays scheduler
// events back over the wire.
package executor

import (
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/olimpiadi-informatica/task-maker-go/cache"
	"github.com/olimpiadi-informatica/task-maker-go/dag"
	"github.com/olimpiadi-informatica/task-maker-go/filekey"
	"github.com/olimpiadi-informatica/task-maker-go/filestore"
	"github.com/olimpiadi-informatica/task-maker-go/proto"
	"github.com/olimpiadi-informatica/task-maker-go/sched"
)

// Executor owns the central store, cache and scheduler for one server
// process and drives the per-client and per-worker connection loops
// (spec.md §4.H).
type Executor struct {
	Store  *filestore.Store
	Cache  *cache.Cache
	Sched  *sched.Scheduler
	Logger *log.Logger

	// SingleClient, when true, triggers graceful shutdown once the first
	// client's DAG finishes (spec.md §4.H "In single-client mode the
	// first client's completion triggers graceful shutdown").
	SingleClient bool

	// CacheOverride, when non-nil, replaces every submitted DAG's
	// Config.CacheMode (the server's --no-cache flag from spec.md §6
	// takes precedence over whatever a client requested).
	CacheOverride *dag.CacheMode

	mu       sync.Mutex
	shutdown chan struct{}
	once     sync.Once
}

// New returns an Executor backed by store/cache, with a freshly
// constructed Scheduler.
func New(store *filestore.Store, c *cache.Cache, logger *log.Logger, singleClient bool) *Executor {
	return &Executor{
		Store:        store,
		Cache:        c,
		Sched:        sched.New(store, c, logger),
		Logger:       logger,
		SingleClient: singleClient,
		shutdown:     make(chan struct{}),
	}
}

func (e *Executor) errorf(format string, args ...interface{}) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}

// Done returns a channel closed once the executor has decided to shut
// down (single-client mode only).
func (e *Executor) Done() <-chan struct{} { return e.shutdown }

func (e *Executor) triggerShutdown() {
	if !e.SingleClient {
		return
	}
	e.once.Do(func() { close(e.shutdown) })
}

// AcceptClient handles one client connection end to end: handshake,
// per-client message loop, and scheduler notification on disconnect
// (spec.md §4.H "On ClientConnected").
func (e *Executor) AcceptClient(conn net.Conn) error {
	role, err := proto.ReadHandshake(conn)
	if err != nil {
		return fmt.Errorf("executor: client handshake: %w", err)
	}
	if role != proto.RoleClient {
		conn.Close()
		return fmt.Errorf("executor: expected client role, got %v", role)
	}
	codec := proto.NewCodec(conn)
	defer codec.Close()

	clientID := proto.ClientId(uuid.NewString())
	cs := newClientSession(clientID, codec, e)
	defer e.Sched.Stop(clientID)

	return cs.serve()
}

// AcceptWorker handles one worker connection end to end (spec.md §4.H "On
// WorkerConnected").
func (e *Executor) AcceptWorker(conn net.Conn) error {
	role, err := proto.ReadHandshake(conn)
	if err != nil {
		return fmt.Errorf("executor: worker handshake: %w", err)
	}
	if role != proto.RoleWorker {
		conn.Close()
		return fmt.Errorf("executor: expected worker role, got %v", role)
	}
	codec := proto.NewCodec(conn)
	defer codec.Close()

	workerID := proto.WorkerId(uuid.NewString())
	ws := &workerSession{id: workerID, codec: codec, exec: e}
	defer e.Sched.UnregisterWorker(workerID)
	defer e.Sched.WorkerLost(workerID)

	return ws.serve()
}

// storeInlineProvidedFiles hashes and stores every inline-content entry
// of d.ProvidedFiles, returning the resolved map Evaluate needs up front.
// Entries with a LocalPath instead of inline Content are left for the
// client to resolve (see client.go).
func storeInlineProvidedFiles(store *filestore.Store, d *dag.ExecutionDAG) (map[dag.FileId]filekey.Key, error) {
	resolved := make(map[dag.FileId]filekey.Key)
	for file, pf := range d.ProvidedFiles {
		if pf.LocalPath != "" {
			continue
		}
		key := filekey.Sum(pf.Content)
		handle, err := store.StoreBytes(key, pf.Content)
		if err != nil {
			return nil, fmt.Errorf("storing provided file %s: %w", file, err)
		}
		handle.Drop()
		resolved[file] = key
	}
	return resolved, nil
}
