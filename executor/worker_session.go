package executor

import (
	"fmt"
	"io"

	"github.com/olimpiadi-informatica/task-maker-go/proto"
)

// workerSession drives one worker connection's message loop (spec.md
// §4.H "On WorkerConnected"): register the worker, hand out work on
// request, and store every file the worker streams back.
type workerSession struct {
	id    proto.WorkerId
	codec *proto.Codec
	exec  *Executor
}

func (ws *workerSession) serve() error {
	for {
		msg, err := ws.codec.RecvWorker()
		if err != nil {
			return err
		}
		if err := ws.handle(msg); err != nil {
			return err
		}
	}
}

func (ws *workerSession) handle(msg proto.WorkerMessage) error {
	switch msg.Kind {
	case proto.WorkerHello:
		if msg.Hello == nil {
			return fmt.Errorf("executor: Hello message missing payload")
		}
		ws.exec.Sched.RegisterWorker(ws.id, *msg.Hello)
		return nil
	case proto.WorkerGetWork:
		return ws.handleGetWork()
	case proto.WorkerDoneMsgKind:
		if msg.WorkerDone == nil {
			return fmt.Errorf("executor: WorkerDone message missing payload")
		}
		return ws.exec.Sched.WorkerDone(ws.id, *msg.WorkerDone)
	case proto.WorkerProvideFile:
		if msg.ProvideFile == nil {
			return fmt.Errorf("executor: ProvideFile message missing payload")
		}
		return ws.handleProvideFile(msg.ProvideFile)
	case proto.WorkerAskFile:
		if msg.AskFile == nil {
			return fmt.Errorf("executor: AskFile message missing payload")
		}
		return ws.handleAskFile(msg.AskFile)
	default:
		return fmt.Errorf("executor: unexpected worker message kind %v", msg.Kind)
	}
}

// handleGetWork blocks on the scheduler until a job is ready for this
// worker, then relays it (or Exit) over the wire. Since worker.Serve only
// issues the next GetWork after this round-trip completes, it's safe for
// this single connection goroutine to block here.
func (ws *workerSession) handleGetWork() error {
	job, ok := ws.exec.Sched.GetWork(ws.id)
	if !ok {
		return ws.codec.SendSched(proto.SchedMessage{Kind: proto.SchedExit})
	}
	return ws.codec.SendSched(proto.SchedMessage{Kind: proto.SchedWork, Work: &job})
}

// handleProvideFile stores the bytes a worker streams back -- either a
// declared DAG output (correlated to its FileId via the WorkerDoneMsg's
// Outputs map, not via this header) or a content-addressed stdout/stderr
// capture (whose File field is left zero, since it isn't a DAG file and
// is only ever looked up by key).
func (ws *workerSession) handleProvideFile(hdr *proto.ProvideFileHeader) error {
	handle, err := ws.exec.Store.Store(hdr.Key, byPipe(ws.codec))
	if err != nil {
		return err
	}
	handle.Drop()
	return nil
}

// byPipe adapts a codec's file sub-protocol session into an io.Reader
// that Store can consume directly.
func byPipe(codec *proto.Codec) io.Reader {
	pr, pw := io.Pipe()
	go func() {
		err := codec.RecvFile(pw)
		pw.CloseWithError(err)
	}()
	return pr
}

// handleAskFile answers a worker's request for bytes it doesn't have
// locally (spec.md §4.D "Worker->Server: AskFile(FileKey)").
func (ws *workerSession) handleAskFile(req *proto.AskFileFromWorker) error {
	handle, err := ws.exec.Store.Get(req.Key)
	if err != nil {
		// nothing we can do but let the worker's read time out / error;
		// the protocol has no negative-ack for AskFile.
		return fmt.Errorf("executor: worker requested unknown key %s: %w", req.Key, err)
	}
	defer handle.Drop()

	key := req.Key
	if err := ws.codec.SendSched(proto.SchedMessage{Kind: proto.SchedProvideFile, ProvideFile: &key}); err != nil {
		return err
	}
	f, err := handle.Open()
	if err != nil {
		return err
	}
	defer f.Close()
	return ws.codec.SendFile(f)
}
