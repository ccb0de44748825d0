// Package sched implements the scheduler described in spec.md §4.G: it
// tracks readiness of executions across submitted DAGs, consults the
// execution cache, dispatches ExecutionGroups to idle workers, and fans
// notifications out to watching clients.
//
// The scheduler owns its state and is addressed only through its public
// methods, each of which takes the single state mutex briefly (the same
// coarse-grained, mutex-guarded discipline as cache.Cache and
// filestore.Store), matching spec.md §5's "no component holds a lock
// across a channel send or a subprocess wait": every call that might
// block (waiting for an idle worker slot) parks on a channel outside the
// lock, never while holding it.
package sched

import (
	"log"
	"sync"
	"time"

	"github.com/olimpiadi-informatica/task-maker-go/cache"
	"github.com/olimpiadi-informatica/task-maker-go/dag"
	"github.com/olimpiadi-informatica/task-maker-go/filekey"
	"github.com/olimpiadi-informatica/task-maker-go/filestore"
	"github.com/olimpiadi-informatica/task-maker-go/heap"
	"github.com/olimpiadi-informatica/task-maker-go/proto"
)

// ClientEvents is how the scheduler reports progress for one client's
// DAG; the executor implements it by writing proto.ServerMessage values
// to that client's codec (spec.md §4.D server->client messages).
type ClientEvents interface {
	NotifyStart(exec dag.ExecId, worker proto.WorkerId)
	NotifyDone(exec dag.ExecId, result dag.ExecutionResult)
	NotifySkip(exec dag.ExecId)
	FileReady(result proto.FileResult, urgent bool)
	Done(msg proto.DoneMsg)
}

// ErrWorkerLost is the status message used for a group whose worker
// disconnected mid-run with no other worker available to requeue onto
// (spec.md §7 "Worker failure").
const ErrWorkerLost = "worker lost"

// workAssignment is what a parked GetWork call receives once the
// scheduler has a job for it.
type workAssignment struct {
	job  proto.WorkerJob
	exit bool
}

// Scheduler is the single scheduling authority for all DAGs submitted
// against one store+cache pair (spec.md §4.G).
type Scheduler struct {
	store  *filestore.Store
	cache  *cache.Cache
	logger *log.Logger

	mu       sync.Mutex
	sessions map[proto.ClientId]*session
	submSeq  int64

	readyQ []*readyItem

	idle    map[proto.WorkerId]chan workAssignment
	cores   map[proto.WorkerId]int
	running map[proto.WorkerId]*runningGroup

	closed bool
}

// runningGroup is what sched.running tracks per busy worker (spec.md
// §4.G "running[worker_id] = (client_id, exec_id, started_at)").
type runningGroup struct {
	client    proto.ClientId
	exec      dag.ExecId
	startedAt time.Time
	job       proto.WorkerJob
}

// New returns a Scheduler with no sessions and no workers registered.
func New(store *filestore.Store, c *cache.Cache, logger *log.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		cache:    c,
		logger:   logger,
		sessions: make(map[proto.ClientId]*session),
		idle:     make(map[proto.WorkerId]chan workAssignment),
		cores:    make(map[proto.WorkerId]int),
		running:  make(map[proto.WorkerId]*runningGroup),
	}
}

func (s *Scheduler) errorf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func readyLess(a, b *readyItem) bool {
	if a.priority != b.priority {
		return a.priority > b.priority // higher priority pops first
	}
	if a.submitSeq != b.submitSeq {
		return a.submitSeq < b.submitSeq // earlier submission pops first
	}
	return a.exec < b.exec // deterministic tiebreak
}

// pushReady enqueues a group that has become runnable; callers run
// dispatchLocked afterwards to hand it out.
func (s *Scheduler) pushReady(item *readyItem) {
	heap.PushSlice(&s.readyQ, item, readyLess)
}

// dispatchLocked hands out ready groups to idle workers until either
// queue runs dry. Must be called with s.mu held.
func (s *Scheduler) dispatchLocked() {
	for len(s.readyQ) > 0 {
		item := s.readyQ[0]
		sess, ok := s.sessions[item.client]
		if !ok || sess.stopped || sess.done[item.exec] {
			heap.PopSlice(&s.readyQ, readyLess)
			continue
		}

		if s.tryCacheHitLocked(sess, item.exec) {
			heap.PopSlice(&s.readyQ, readyLess)
			continue
		}

		wid, ch, ok := s.pickIdleWorkerLocked(sess, item.exec)
		if !ok {
			return // no idle worker right now; wait for one
		}
		heap.PopSlice(&s.readyQ, readyLess)

		job := s.buildJobLocked(sess, item.exec)
		s.running[wid] = &runningGroup{client: item.client, exec: item.exec, startedAt: time.Now(), job: job}
		delete(s.idle, wid)
		ch <- workAssignment{job: job}
		sess.events.NotifyStart(item.exec, wid)
	}
}

func (s *Scheduler) pickIdleWorkerLocked(sess *session, exec dag.ExecId) (proto.WorkerId, chan workAssignment, bool) {
	need := len(sess.group(exec).Executions)
	for wid, ch := range s.idle {
		if s.cores[wid] >= need || s.cores[wid] == 0 {
			return wid, ch, true
		}
	}
	return "", nil, false
}

func (s *Scheduler) buildJobLocked(sess *session, exec dag.ExecId) proto.WorkerJob {
	group := sess.group(exec)
	inputs := make(map[dag.FileId]filekey.Key)
	for _, ex := range group.Executions {
		if ex.Stdin != "" {
			inputs[ex.Stdin] = sess.resolved[ex.Stdin]
		}
		for _, in := range ex.Inputs {
			inputs[in.File] = sess.resolved[in.File]
		}
	}
	return proto.WorkerJob{
		Exec:          exec,
		Group:         group,
		Inputs:        inputs,
		ExtraTime:     sess.d.Config.ExtraTime,
		CopyExe:       sess.d.Config.CopyExe,
		CopyLogs:      sess.d.Config.CopyLogs,
		KeepSandboxes: sess.d.Config.KeepSandboxes,
	}
}

// Close marks the scheduler as shutting down: every worker parked in
// GetWork is released with Exit, and no further work is dispatched
// (spec.md §4.G "Exit").
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for wid, ch := range s.idle {
		ch <- workAssignment{exit: true}
		delete(s.idle, wid)
	}
}
