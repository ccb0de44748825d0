package executor

import (
	"bytes"

	"github.com/olimpiadi-informatica/task-maker-go/dag"
	"github.com/olimpiadi-informatica/task-maker-go/proto"
)

// clientRelay implements sched.ClientEvents by translating scheduler
// callbacks into ServerMessage writes on one client's codec (spec.md
// §4.D server->client messages). The scheduler may invoke these from
// whatever goroutine is driving dispatch (the client's own Evaluate call,
// a worker's WorkerDone, etc); Codec serializes concurrent writers
// itself, so no extra locking is needed here.
type clientRelay struct {
	cs *clientSession
}

func (r *clientRelay) NotifyStart(exec dag.ExecId, worker proto.WorkerId) {
	r.cs.codec.SendServer(proto.ServerMessage{
		Kind:        proto.ServerNotifyStart,
		NotifyStart: &proto.NotifyStartMsg{Exec: exec, Worker: worker},
	})
}

func (r *clientRelay) NotifyDone(exec dag.ExecId, result dag.ExecutionResult) {
	r.cs.codec.SendServer(proto.ServerMessage{
		Kind:       proto.ServerNotifyDone,
		NotifyDone: &proto.NotifyDoneMsg{Exec: exec, Result: result},
	})
}

func (r *clientRelay) NotifySkip(exec dag.ExecId) {
	e := exec
	r.cs.codec.SendServer(proto.ServerMessage{Kind: proto.ServerNotifySkip, NotifySkip: &e})
}

// FileReady streams a produced (or failed) file to the client: the
// ProvideFileToClient header always precedes a file sub-protocol session,
// even when the file was never produced, so the client's reader always
// sees a matching Data*/End sequence (spec.md §4.D "the sender emits
// Data(chunk) repeatedly then End").
func (r *clientRelay) FileReady(result proto.FileResult, urgent bool) {
	if err := r.cs.codec.SendServer(proto.ServerMessage{
		Kind:        proto.ServerProvideFile,
		ProvideFile: &proto.ProvideFileToClient{File: result.File, Success: result.Success},
	}); err != nil {
		return
	}

	if !result.Success {
		r.cs.codec.SendFile(bytes.NewReader(nil))
		return
	}
	handle, err := r.cs.exec.Store.Get(result.Key)
	if err != nil {
		r.cs.codec.SendFile(bytes.NewReader(nil))
		return
	}
	defer handle.Drop()
	f, err := handle.Open()
	if err != nil {
		r.cs.codec.SendFile(bytes.NewReader(nil))
		return
	}
	defer f.Close()
	r.cs.codec.SendFile(f)
}

func (r *clientRelay) Done(msg proto.DoneMsg) {
	r.cs.codec.SendServer(proto.ServerMessage{Kind: proto.ServerDone, Done: &msg})
	r.cs.exec.triggerShutdown()
}
