package sched

import (
	"github.com/olimpiadi-informatica/task-maker-go/dag"
	"github.com/olimpiadi-informatica/task-maker-go/filekey"
	"github.com/olimpiadi-informatica/task-maker-go/proto"
)

// resolveFileLocked marks file as resolved (or permanently failed) and
// promotes or skips every execution that reads it (spec.md §4.G step 4,
// §7 "Provide-file error" / "Skip propagation"). Must be called with
// s.mu held.
func (s *Scheduler) resolveFileLocked(sess *session, file dag.FileId, key filekey.Key, success bool) {
	if file == "" {
		return
	}
	sess.resolved[file] = key
	sess.fileSuccess[file] = success

	if sess.watch.WatchesFile(file) {
		result := proto.FileResult{File: file, Key: key, Success: success}
		if sess.watch.IsUrgent(file) {
			sess.events.FileReady(result, true)
		} else {
			sess.fileResults = append(sess.fileResults, result)
		}
	}

	for _, consumer := range sess.consumers[file] {
		if sess.done[consumer] || sess.skipped[consumer] {
			continue
		}
		if !success {
			s.skipExecLocked(sess, consumer)
			continue
		}
		need := sess.pending[consumer]
		delete(need, file)
		if len(need) == 0 {
			priority := groupPriority(sess, consumer)
			s.submSeq++
			s.pushReady(&readyItem{client: sess.id, exec: consumer, priority: priority, submitSeq: s.submSeq})
		}
	}
}

// skipExecLocked marks exec (and everything transitively downstream of
// its outputs) as Skipped (spec.md §4.G "Skip propagation"). Idempotent.
func (s *Scheduler) skipExecLocked(sess *session, exec dag.ExecId) {
	if sess.skipped[exec] {
		return
	}
	sess.skipped[exec] = true
	sess.events.NotifySkip(exec)

	for _, ex := range sess.group(exec).Executions {
		for _, out := range ex.Outputs {
			s.resolveFileLocked(sess, out.File, filekey.Key{}, false)
		}
	}

	if sess.markDone(exec) && sess.finished() {
		s.finishSessionLocked(sess)
	}
}

// groupPriority derives a group's scheduling priority from the highest
// declared priority among its executions plus the DAG's priority bias
// (SPEC_FULL.md supplemented feature #2).
func groupPriority(sess *session, exec dag.ExecId) int {
	best := 0
	first := true
	for _, ex := range sess.group(exec).Executions {
		if first || ex.Priority > best {
			best = ex.Priority
			first = false
		}
	}
	return best + sess.d.Config.PriorityBias
}

// finishSessionLocked emits the terminal Done batch once every execution
// in the session has reached a terminal state (spec.md §4.D "Done").
func (s *Scheduler) finishSessionLocked(sess *session) {
	sess.events.Done(proto.DoneMsg{Files: sess.fileResults})
}
