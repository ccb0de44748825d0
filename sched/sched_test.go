package sched

import (
	"sync"
	"testing"
	"time"

	"github.com/olimpiadi-informatica/task-maker-go/cache"
	"github.com/olimpiadi-informatica/task-maker-go/dag"
	"github.com/olimpiadi-informatica/task-maker-go/filekey"
	"github.com/olimpiadi-informatica/task-maker-go/filestore"
	"github.com/olimpiadi-informatica/task-maker-go/proto"
	"github.com/stretchr/testify/require"
)

// recordingEvents is a ClientEvents implementation that records every
// callback for assertion, guarded by its own mutex since the scheduler
// may call it from whichever goroutine is driving dispatch.
type recordingEvents struct {
	mu      sync.Mutex
	starts  []dag.ExecId
	dones   []dag.ExecId
	skips   []dag.ExecId
	ready   []proto.FileResult
	done    *proto.DoneMsg
	doneSig chan struct{}
}

func newRecordingEvents() *recordingEvents {
	return &recordingEvents{doneSig: make(chan struct{}, 1)}
}

func (r *recordingEvents) NotifyStart(exec dag.ExecId, worker proto.WorkerId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, exec)
}

func (r *recordingEvents) NotifyDone(exec dag.ExecId, result dag.ExecutionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dones = append(r.dones, exec)
}

func (r *recordingEvents) NotifySkip(exec dag.ExecId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skips = append(r.skips, exec)
}

func (r *recordingEvents) FileReady(result proto.FileResult, urgent bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = append(r.ready, result)
}

func (r *recordingEvents) Done(msg proto.DoneMsg) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := msg
	r.done = &m
	select {
	case r.doneSig <- struct{}{}:
	default:
	}
}

func newTestScheduler(t *testing.T) (*Scheduler, *filestore.Store) {
	t.Helper()
	store, err := filestore.New(t.TempDir(), 1<<30, 1<<20)
	require.NoError(t, err)
	return New(store, cache.New(), nil), store
}

// singleExecDAG builds a one-execution, one-input, one-output DAG: a
// client-provided input file feeds straight into a single execution that
// declares one output.
func singleExecDAG(in, out dag.FileId, exec dag.ExecId) *dag.ExecutionDAG {
	return &dag.ExecutionDAG{
		ProvidedFiles: map[dag.FileId]dag.ProvidedFile{in: {Content: []byte("hi")}},
		Executions: map[dag.ExecId]dag.ExecutionGroup{
			exec: {Executions: []dag.Execution{{
				Command: dag.Command{SystemPath: "/bin/true"},
				Inputs:  []dag.InputFile{{SandboxPath: "in", File: in}},
				Outputs: []dag.OutputFile{{SandboxPath: "out", File: out}},
			}}},
		},
	}
}

func TestEvaluateDispatchesReadyExecToIdleWorker(t *testing.T) {
	s, _ := newTestScheduler(t)
	in, out, exec := dag.NewFileId(), dag.NewFileId(), dag.NewExecId()
	d := singleExecDAG(in, out, exec)

	s.RegisterWorker("w1", proto.HelloMsg{NumCores: 1})

	jobCh := make(chan proto.WorkerJob, 1)
	go func() {
		job, ok := s.GetWork("w1")
		require.True(t, ok)
		jobCh <- job
	}()

	// GetWork may register before or after Evaluate runs; the scheduler
	// handles either ordering, so the test does not force one.
	events := newRecordingEvents()
	inKey := filekey.Sum([]byte("hi"))
	require.NoError(t, s.Evaluate("c1", d, map[dag.FileId]filekey.Key{in: inKey}, proto.NewWatchSet(), events))

	job := <-jobCh
	require.Equal(t, exec, job.Exec)
	require.Equal(t, inKey, job.Inputs[in])
}

func TestWorkerDoneResolvesOutputAndFinishes(t *testing.T) {
	s, store := newTestScheduler(t)
	in, out, exec := dag.NewFileId(), dag.NewFileId(), dag.NewExecId()
	d := singleExecDAG(in, out, exec)

	outBytes := []byte("result")
	outKey := filekey.Sum(outBytes)
	handle, err := store.StoreBytes(outKey, outBytes)
	require.NoError(t, err)
	handle.Drop()

	events := newRecordingEvents()
	watch := proto.NewWatchSet()
	watch.Files[out] = struct{}{}

	s.RegisterWorker("w1", proto.HelloMsg{NumCores: 1})
	jobCh := make(chan proto.WorkerJob, 1)
	go func() {
		job, _ := s.GetWork("w1")
		jobCh <- job
	}()

	inKey := filekey.Sum([]byte("hi"))
	require.NoError(t, s.Evaluate("c1", d, map[dag.FileId]filekey.Key{in: inKey}, watch, events))
	<-jobCh

	done := proto.WorkerDoneMsg{
		Exec: exec,
		Results: []proto.ExecutionResultEntry{{
			Index:  0,
			Result: dag.ExecutionResult{Status: dag.StatusSuccess},
		}},
		Outputs: map[dag.FileId]filekey.Key{out: outKey},
	}
	require.NoError(t, s.WorkerDone("w1", done))

	select {
	case <-events.doneSig:
	default:
		t.Fatal("expected Done to have fired")
	}
	require.Len(t, events.dones, 1)
	require.Equal(t, exec, events.dones[0])
}

func TestWorkerLostRequeuesWhenAnotherWorkerIsIdle(t *testing.T) {
	s, _ := newTestScheduler(t)
	in, out, exec := dag.NewFileId(), dag.NewFileId(), dag.NewExecId()
	d := singleExecDAG(in, out, exec)

	s.RegisterWorker("w1", proto.HelloMsg{NumCores: 1})
	s.RegisterWorker("w2", proto.HelloMsg{NumCores: 1})

	job1Ch := make(chan proto.WorkerJob, 1)
	go func() {
		job, _ := s.GetWork("w1")
		job1Ch <- job
	}()

	events := newRecordingEvents()
	inKey := filekey.Sum([]byte("hi"))
	require.NoError(t, s.Evaluate("c1", d, map[dag.FileId]filekey.Key{in: inKey}, proto.NewWatchSet(), events))
	<-job1Ch

	job2Ch := make(chan proto.WorkerJob, 1)
	go func() {
		job, ok := s.GetWork("w2")
		require.True(t, ok)
		job2Ch <- job
	}()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, idle := s.idle["w2"]
		return idle
	}, time.Second, time.Millisecond)

	require.NoError(t, s.WorkerLost("w1"))

	job2 := <-job2Ch
	require.Equal(t, exec, job2.Exec)
}

func TestStopIsIdempotentAndDropsSession(t *testing.T) {
	s, _ := newTestScheduler(t)
	in, out, exec := dag.NewFileId(), dag.NewFileId(), dag.NewExecId()
	d := singleExecDAG(in, out, exec)
	events := newRecordingEvents()
	inKey := filekey.Sum([]byte("hi"))
	require.NoError(t, s.Evaluate("c1", d, map[dag.FileId]filekey.Key{in: inKey}, proto.NewWatchSet(), events))

	require.NoError(t, s.Stop("c1"))
	require.NoError(t, s.Stop("c1"))

	snap := s.Status()
	_, ok := snap.Execs[exec]
	require.False(t, ok)
}

func TestReadyLessOrdersByPriorityThenSubmissionThenExecId(t *testing.T) {
	a := &readyItem{exec: "b", priority: 5, submitSeq: 2}
	b := &readyItem{exec: "a", priority: 5, submitSeq: 1}
	c := &readyItem{exec: "z", priority: 10, submitSeq: 9}

	require.True(t, readyLess(c, a)) // higher priority wins regardless of submission order
	require.True(t, readyLess(b, a)) // equal priority: earlier submission wins
	d := &readyItem{exec: "a", priority: 5, submitSeq: 2}
	require.True(t, readyLess(d, a)) // equal priority and submission: lower ExecId wins
}

func TestGetWorkReturnsFalseAfterClose(t *testing.T) {
	s, _ := newTestScheduler(t)
	doneCh := make(chan bool, 1)
	go func() {
		_, ok := s.GetWork("w1")
		doneCh <- ok
	}()
	s.Close()
	require.False(t, <-doneCh)
}
