// Package worker implements the per-worker state machine described in
// spec.md §4.F: Idle -> Working{group} -> Idle, fetching dependency
// files, invoking the sandbox helper, and streaming outputs back to the
// server.
package worker

import (
	"fmt"
	"log"
	"os"

	"github.com/olimpiadi-informatica/task-maker-go/filestore"
	"github.com/olimpiadi-informatica/task-maker-go/proto"
)

// Worker runs one connection's worth of the Idle/Working loop against a
// server (spec.md §4.F).
type Worker struct {
	ID         proto.WorkerId
	NumCores   int
	HelperPath string
	Store      *filestore.Store
	BaseDir    string
	Logger     *log.Logger
}

func (w *Worker) errorf(format string, args ...interface{}) {
	if w.Logger != nil {
		w.Logger.Printf(format, args...)
	}
}

// Serve drives the worker's request/dispatch loop over an already
// handshaken codec until the server sends Exit or the connection fails
// (spec.md §4.F "GetWork -> receive Work(job)").
func (w *Worker) Serve(codec *proto.Codec) error {
	if err := codec.SendWorker(proto.WorkerMessage{
		Kind:  proto.WorkerHello,
		Hello: &proto.HelloMsg{NumCores: w.NumCores},
	}); err != nil {
		return fmt.Errorf("worker: sending hello: %w", err)
	}

	for {
		if err := codec.SendWorker(proto.WorkerMessage{Kind: proto.WorkerGetWork}); err != nil {
			return fmt.Errorf("worker: requesting work: %w", err)
		}
		msg, err := codec.RecvSched()
		if err != nil {
			return fmt.Errorf("worker: waiting for work: %w", err)
		}
		switch msg.Kind {
		case proto.SchedExit:
			return nil
		case proto.SchedWork:
			if msg.Work == nil {
				return fmt.Errorf("worker: Work message missing payload")
			}
			done, err := w.runJob(codec, *msg.Work)
			if err != nil {
				return fmt.Errorf("worker: running job %s: %w", msg.Work.Exec, err)
			}
			if err := codec.SendWorker(proto.WorkerMessage{
				Kind:       proto.WorkerDoneMsgKind,
				WorkerDone: &done,
			}); err != nil {
				return fmt.Errorf("worker: reporting done: %w", err)
			}
		default:
			return fmt.Errorf("worker: unexpected message kind %v from scheduler", msg.Kind)
		}
	}
}

func mkGroupDir(base string) (string, error) {
	if err := os.MkdirAll(base, 0750); err != nil {
		return "", err
	}
	return os.MkdirTemp(base, "group-*")
}
