package sched

import (
	"fmt"

	"github.com/olimpiadi-informatica/task-maker-go/cache"
	"github.com/olimpiadi-informatica/task-maker-go/dag"
	"github.com/olimpiadi-informatica/task-maker-go/filekey"
	"github.com/olimpiadi-informatica/task-maker-go/proto"
)

// Evaluate registers a freshly validated DAG under clientID and begins
// dispatching whatever executions are immediately ready (spec.md §4.G
// "Evaluate"). resolvedProvided carries the FileKey of every provided
// file already resolved; any other entry of d.ProvidedFiles stays pending
// until ResolveProvidedFile reports it.
func (s *Scheduler) Evaluate(clientID proto.ClientId, d *dag.ExecutionDAG, resolvedProvided map[dag.FileId]filekey.Key, watch proto.WatchSet, events ClientEvents) error {
	if err := dag.Validate(d); err != nil {
		return fmt.Errorf("validating dag: %w", err)
	}

	sess := newSession(clientID, d, resolvedProvided, watch, events)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[clientID] = sess

	if sess.finished() {
		s.finishSessionLocked(sess)
		return nil
	}

	for _, exec := range sess.readyNow() {
		s.submSeq++
		s.pushReady(&readyItem{client: clientID, exec: exec, priority: groupPriority(sess, exec), submitSeq: s.submSeq})
	}
	s.dispatchLocked()
	return nil
}

// ResolveProvidedFile reports the outcome of resolving a client-provided
// file (either the client hashed it locally, or streamed it via
// ProvideFile) and promotes or skips its consumers (spec.md §4.D
// "ProvideFile" / §4.H).
func (s *Scheduler) ResolveProvidedFile(clientID proto.ClientId, file dag.FileId, key filekey.Key, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[clientID]
	if !ok {
		return fmt.Errorf("sched: unknown client %s", clientID)
	}
	s.resolveFileLocked(sess, file, key, success)
	s.dispatchLocked()
	return nil
}

// RegisterWorker records a worker's declared core count so dispatch can
// avoid oversubscribing it (SPEC_FULL.md supplemented feature #4).
func (s *Scheduler) RegisterWorker(workerID proto.WorkerId, hello proto.HelloMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cores[workerID] = hello.NumCores
}

// UnregisterWorker forgets a worker's core count; callers should also
// call WorkerLost if the worker was running a group.
func (s *Scheduler) UnregisterWorker(workerID proto.WorkerId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cores, workerID)
	delete(s.idle, workerID)
}

// GetWork blocks until a job is available for workerID or the scheduler
// is closed, matching spec.md §4.F's "Working loop": GetWork() -> job.
// The second return is false when the scheduler is shutting down and the
// worker should disconnect.
func (s *Scheduler) GetWork(workerID proto.WorkerId) (proto.WorkerJob, bool) {
	ch := make(chan workAssignment, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return proto.WorkerJob{}, false
	}
	s.idle[workerID] = ch
	s.dispatchLocked()
	s.mu.Unlock()

	assignment := <-ch
	if assignment.exit {
		return proto.WorkerJob{}, false
	}
	return assignment.job, true
}

// WorkerDone records the outcome of a group a worker just finished,
// inserts cacheable results into the cache, resolves every declared
// output, and resumes dispatch (spec.md §4.D "WorkerDone").
func (s *Scheduler) WorkerDone(workerID proto.WorkerId, msg proto.WorkerDoneMsg) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	running, ok := s.running[workerID]
	if !ok || running.exec != msg.Exec {
		return fmt.Errorf("sched: worker %s reported done for unexpected exec %s", workerID, msg.Exec)
	}
	delete(s.running, workerID)

	sess, ok := s.sessions[running.client]
	if !ok {
		return fmt.Errorf("sched: worker done for unknown client %s", running.client)
	}

	group := sess.group(msg.Exec)
	key := computeGroupCacheKey(sess, group, msg.Exec)
	for _, entry := range msg.Results {
		ex := group.Executions[entry.Index]
		sess.events.NotifyDone(msg.Exec, entry.Result)

		if mode := sess.d.Config.CacheMode; mode.Eligible(ex.Tag) {
			s.cache.Insert(key[entry.Index], cacheEntryFor(ex, entry, msg.Outputs))
		}

		for _, out := range ex.Outputs {
			outKey, produced := msg.Outputs[out.File]
			s.resolveFileLocked(sess, out.File, outKey, produced && entry.Result.Status == dag.StatusSuccess)
		}
	}

	if sess.markDone(msg.Exec) && sess.finished() {
		s.finishSessionLocked(sess)
	}
	s.dispatchLocked()
	return nil
}

// computeGroupCacheKey returns one cache key per execution in the group,
// indexed the same way as group.Executions and msg.Results.
func computeGroupCacheKey(sess *session, group dag.ExecutionGroup, exec dag.ExecId) []filekey.Key {
	keys := make([]filekey.Key, len(group.Executions))
	for i, ex := range group.Executions {
		keys[i] = computeExecCacheKey(sess, ex)
	}
	return keys
}

// cacheEntryFor builds the cache.Entry for one execution's result. Stdout
// and stderr bytes are dropped from the cached copy (the worker already
// content-addressed them into the store) and referenced only by key, so
// the cache file doesn't duplicate bytes the store already owns.
func cacheEntryFor(ex dag.Execution, entry proto.ExecutionResultEntry, outputs map[dag.FileId]filekey.Key) cache.Entry {
	result := entry.Result
	result.Stdout = nil
	result.Stderr = nil

	outs := make(map[string]filekey.Key, len(ex.Outputs))
	for _, out := range ex.Outputs {
		if k, ok := outputs[out.File]; ok {
			outs[out.SandboxPath] = k
		}
	}
	return cache.Entry{
		Limits:    ex.Limits,
		Result:    result,
		StdoutKey: entry.StdoutKey,
		StderrKey: entry.StderrKey,
		Outputs:   outs,
	}
}

// WorkerLost handles a worker disconnecting mid-run: its in-flight group
// is requeued if another worker is idle at that moment, otherwise
// it's failed outright (spec.md §7 "Worker failure").
func (s *Scheduler) WorkerLost(workerID proto.WorkerId) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cores, workerID)
	delete(s.idle, workerID)

	running, ok := s.running[workerID]
	if !ok {
		return nil
	}
	delete(s.running, workerID)

	sess, ok := s.sessions[running.client]
	if !ok {
		return nil
	}
	if sess.done[running.exec] || sess.skipped[running.exec] {
		return nil
	}

	if len(s.idle) > 0 {
		priority := groupPriority(sess, running.exec)
		s.submSeq++
		s.pushReady(&readyItem{client: running.client, exec: running.exec, priority: priority, submitSeq: s.submSeq})
		s.dispatchLocked()
		return nil
	}

	s.failGroupLocked(sess, running.exec)
	return nil
}

// failGroupLocked marks every execution in exec's group as a terminal
// internal error and skip-propagates their declared outputs (spec.md §7).
func (s *Scheduler) failGroupLocked(sess *session, exec dag.ExecId) {
	group := sess.group(exec)
	result := dag.ExecutionResult{Status: dag.StatusInternalError, Message: ErrWorkerLost}
	for _, ex := range group.Executions {
		sess.events.NotifyDone(exec, result)
		for _, out := range ex.Outputs {
			s.resolveFileLocked(sess, out.File, filekey.Key{}, false)
		}
	}
	if sess.markDone(exec) && sess.finished() {
		s.finishSessionLocked(sess)
	}
}

// Stop cancels a client's outstanding work: the session is flagged as
// stopped and dropped, so its queued groups are discarded at dispatch. No
// further notifications are sent for its executions, and groups already
// running on a worker are not interrupted. Idempotent.
func (s *Scheduler) Stop(clientID proto.ClientId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[clientID]
	if !ok || sess.stopped {
		return nil
	}
	sess.stopped = true
	delete(s.sessions, clientID)
	return nil
}

// Status builds a point-in-time snapshot of every tracked execution and
// worker (SPEC_FULL.md supplemented feature #1).
func (s *Scheduler) Status() proto.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := proto.Snapshot{
		Execs:   make(map[dag.ExecId]proto.ExecStatus),
		Workers: make(map[proto.WorkerId]proto.WorkerStatus),
	}

	readyNow := make(map[dag.ExecId]struct{}, len(s.readyQ))
	for _, item := range s.readyQ {
		readyNow[item.exec] = struct{}{}
	}
	runningNow := make(map[dag.ExecId]struct{}, len(s.running))
	for _, r := range s.running {
		runningNow[r.exec] = struct{}{}
	}

	for _, sess := range s.sessions {
		for execID, need := range sess.pending {
			waiting := make([]dag.FileId, 0, len(need))
			for f := range need {
				waiting = append(waiting, f)
			}
			_, ready := readyNow[execID]
			_, running := runningNow[execID]
			snap.Execs[execID] = proto.ExecStatus{
				Ready:     ready,
				WaitingOn: waiting,
				Running:   running,
				Done:      sess.done[execID],
			}
		}
	}

	for wid := range s.idle {
		snap.Workers[wid] = proto.WorkerStatus{Connected: true, Ready: true}
	}
	for wid, r := range s.running {
		exec := r.exec
		snap.Workers[wid] = proto.WorkerStatus{Connected: true, Ready: false, Group: &exec}
	}

	return snap
}
