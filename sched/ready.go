package sched

import (
	"github.com/olimpiadi-informatica/task-maker-go/dag"
	"github.com/olimpiadi-informatica/task-maker-go/proto"
)

// readyItem is one entry in the scheduler's global ready queue (spec.md
// §4.G "ready: priority-ordered queue of groups ..."), ordered by
// readyLess in sched.go: higher priority first, then earlier submission,
// then a deterministic ExecId tiebreak.
type readyItem struct {
	client    proto.ClientId
	exec      dag.ExecId
	priority  int
	submitSeq int64
}
