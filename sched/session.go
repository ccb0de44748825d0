package sched

import (
	"github.com/olimpiadi-informatica/task-maker-go/dag"
	"github.com/olimpiadi-informatica/task-maker-go/filekey"
	"github.com/olimpiadi-informatica/task-maker-go/proto"
)

// session is the scheduler's per-DAG-submission state (spec.md §4.G
// "pending", "waiting", "subscribers", "urgent_files").
type session struct {
	id     proto.ClientId
	d      *dag.ExecutionDAG
	watch  proto.WatchSet
	events ClientEvents

	// pending[exec] is the set of FileIds exec is still waiting on.
	pending map[dag.ExecId]map[dag.FileId]struct{}
	// consumers[file] lists every ExecId that reads file, built once at
	// Evaluate time so resolveFile can promote/skip them in O(1) per
	// consumer instead of scanning every execution.
	consumers map[dag.FileId][]dag.ExecId
	// producer[file] is the ExecId that produces file, if any (absent
	// for client-provided files).
	producer map[dag.FileId]dag.ExecId

	resolved    map[dag.FileId]filekey.Key
	fileSuccess map[dag.FileId]bool

	done    map[dag.ExecId]bool
	skipped map[dag.ExecId]bool

	fileResults []proto.FileResult
	remaining   int
	stopped     bool
}

func (s *session) group(exec dag.ExecId) dag.ExecutionGroup {
	return s.d.Executions[exec]
}

// newSession builds the tracking state for a freshly validated DAG.
// resolvedProvided holds the FileKeys of the provided files already
// resolved; every other input, provided or produced, starts out in its
// consumers' pending sets.
func newSession(id proto.ClientId, d *dag.ExecutionDAG, resolvedProvided map[dag.FileId]filekey.Key, watch proto.WatchSet, events ClientEvents) *session {
	sess := &session{
		id:          id,
		d:           d,
		watch:       watch,
		events:      events,
		pending:     make(map[dag.ExecId]map[dag.FileId]struct{}),
		consumers:   make(map[dag.FileId][]dag.ExecId),
		producer:    make(map[dag.FileId]dag.ExecId),
		resolved:    make(map[dag.FileId]filekey.Key),
		fileSuccess: make(map[dag.FileId]bool),
		done:        make(map[dag.ExecId]bool),
		skipped:     make(map[dag.ExecId]bool),
	}
	for f, k := range resolvedProvided {
		sess.resolved[f] = k
		sess.fileSuccess[f] = true
	}
	for execID, group := range d.Executions {
		for _, ex := range group.Executions {
			for _, out := range ex.Outputs {
				sess.producer[out.File] = execID
			}
		}
	}
	for execID, group := range d.Executions {
		need := make(map[dag.FileId]struct{})
		add := func(f dag.FileId) {
			if f == "" {
				return
			}
			sess.consumers[f] = append(sess.consumers[f], execID)
			if _, ok := sess.resolved[f]; !ok {
				need[f] = struct{}{}
			}
		}
		for _, ex := range group.Executions {
			add(ex.Stdin)
			for _, in := range ex.Inputs {
				add(in.File)
			}
		}
		sess.pending[execID] = need
		sess.remaining++
	}
	return sess
}

// readyNow returns the ExecIds whose pending set is already empty at
// session construction time (every input was a client-provided file
// resolved up front).
func (s *session) readyNow() []dag.ExecId {
	var out []dag.ExecId
	for execID, need := range s.pending {
		if len(need) == 0 {
			out = append(out, execID)
		}
	}
	return out
}

// markDone records that exec will never be dispatched again (it finished
// or was skipped), decrementing the session's outstanding-execution
// count and returning true exactly once per ExecId.
func (s *session) markDone(exec dag.ExecId) bool {
	if s.done[exec] {
		return false
	}
	s.done[exec] = true
	s.remaining--
	return true
}

func (s *session) finished() bool {
	return s.remaining <= 0
}
