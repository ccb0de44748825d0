// Package proto implements the wire protocol described in spec.md §4.D:
// four direction-specific message envelopes (client->server,
// server->client, worker->server, server->worker) plus the file
// sub-protocol used to stream bytes alongside a ProvideFile header.
//
// Each direction is modeled as a Kind-tagged envelope struct rather than
// an interface, so the whole message (including zero-valued unused
// fields) can be sent with a single gob Encode/Decode call -- the same
// technique net/rpc's gob codec relies on to keep the wire format a flat
// sequence of self-delimited values with no separate length prefix to
// maintain by hand.
package proto

import (
	"github.com/olimpiadi-informatica/task-maker-go/dag"
	"github.com/olimpiadi-informatica/task-maker-go/filekey"
)

// WatchSet declares which execution IDs and file IDs a client wants
// events for, and which file IDs within that set are "urgent" (streamed
// immediately on completion rather than batched into the terminal Done
// message), per spec.md §4.D. The scheduler consults Files and Urgent;
// Execs is not consulted, and execution start/done/skip events are sent
// for every execution of the DAG.
type WatchSet struct {
	Execs  map[dag.ExecId]struct{}
	Files  map[dag.FileId]struct{}
	Urgent map[dag.FileId]struct{}
}

// NewWatchSet returns an empty WatchSet.
func NewWatchSet() WatchSet {
	return WatchSet{
		Execs:  make(map[dag.ExecId]struct{}),
		Files:  make(map[dag.FileId]struct{}),
		Urgent: make(map[dag.FileId]struct{}),
	}
}

// WatchesExec reports whether id is in the watched execution set.
func (w WatchSet) WatchesExec(id dag.ExecId) bool { _, ok := w.Execs[id]; return ok }

// WatchesFile reports whether id is in the watched file set.
func (w WatchSet) WatchesFile(id dag.FileId) bool { _, ok := w.Files[id]; return ok }

// IsUrgent reports whether id is in the urgent file subset.
func (w WatchSet) IsUrgent(id dag.FileId) bool { _, ok := w.Urgent[id]; return ok }

// FileResult pairs a file with the key it resolved to and whether it was
// produced successfully, used both in the terminal Done message and in
// urgent file-ready notifications (spec.md §4.D).
type FileResult struct {
	File    dag.FileId
	Key     filekey.Key
	Success bool
}

// ---- Client -> Server ----

// ClientMsgKind tags the variant of a ClientMessage.
type ClientMsgKind int

const (
	ClientEvaluate ClientMsgKind = iota
	ClientProvideFile
	ClientAskFile
	ClientStatus
	ClientStop
)

// EvaluateMsg submits a DAG for execution along with the client's
// WatchSet (spec.md §4.D "Evaluate{dag, watch_set}").
type EvaluateMsg struct {
	DAG   dag.ExecutionDAG
	Watch WatchSet
}

// ProvideFileHeader announces that bytes for File, hashing to Key, are
// about to follow via the file sub-protocol (spec.md §4.D "ProvideFile").
type ProvideFileHeader struct {
	File dag.FileId
	Key  filekey.Key
}

// AskFileReply answers a server-initiated AskFile request: Success is
// false if the client failed to read/hash the local file.
type AskFileReply struct {
	File    dag.FileId
	Key     filekey.Key
	Success bool
}

// ClientMessage is the client->server envelope (spec.md §4.D).
type ClientMessage struct {
	Kind        ClientMsgKind
	Evaluate    *EvaluateMsg
	ProvideFile *ProvideFileHeader
	AskFile     *AskFileReply
}

// ---- Server -> Client ----

// ServerMsgKind tags the variant of a ServerMessage.
type ServerMsgKind int

const (
	ServerAskFile ServerMsgKind = iota
	ServerProvideFile
	ServerNotifyStart
	ServerNotifyDone
	ServerNotifySkip
	ServerError
	ServerStatus
	ServerDone
)

// ProvideFileToClient announces that output bytes for File are about to
// follow via the file sub-protocol; Success is false if the producing
// execution failed (the file may still carry partial/no bytes).
type ProvideFileToClient struct {
	File    dag.FileId
	Success bool
}

// NotifyDoneMsg reports the terminal result of one execution (spec.md
// §4.D "NotifyDone(ExecId, ExecutionResult)").
type NotifyDoneMsg struct {
	Exec   dag.ExecId
	Result dag.ExecutionResult
}

// NotifyStartMsg reports that an execution has been dispatched.
type NotifyStartMsg struct {
	Exec   dag.ExecId
	Worker WorkerId
}

// DoneMsg is the terminal batch of non-urgent file results sent once a
// client's DAG finishes (spec.md §4.D "Done(list of (FileId, FileKey,
// success))").
type DoneMsg struct {
	Files []FileResult
}

// ServerMessage is the server->client envelope (spec.md §4.D).
type ServerMessage struct {
	Kind        ServerMsgKind
	AskFile     *dag.FileId
	ProvideFile *ProvideFileToClient
	NotifyStart *NotifyStartMsg
	NotifyDone  *NotifyDoneMsg
	NotifySkip  *dag.ExecId
	Error       string
	Status      *Snapshot
	Done        *DoneMsg
}

// ---- Worker -> Server ----

// WorkerMsgKind tags the variant of a WorkerMessage.
type WorkerMsgKind int

const (
	WorkerHello WorkerMsgKind = iota
	WorkerGetWork
	WorkerDoneMsgKind
	WorkerProvideFile
	WorkerAskFile
)

// HelloMsg is sent once per worker connection, before the first GetWork,
// so the scheduler can avoid oversubscribing a worker (SPEC_FULL.md
// "Supplemented features" #4).
type HelloMsg struct {
	NumCores int
}

// ExecutionResultEntry pairs one execution within a group (by its index
// in ExecutionGroup.Executions) with its terminal result.
type ExecutionResultEntry struct {
	Index     int
	Result    dag.ExecutionResult
	StdoutKey *filekey.Key
	StderrKey *filekey.Key
}

// WorkerDoneMsg reports the outcome of an entire ExecutionGroup (spec.md
// §4.D "WorkerDone(ExecutionResult, Map<FileId, FileKey>)"; widened here
// to one result per execution in the group, since a group may hold more
// than one co-scheduled execution).
type WorkerDoneMsg struct {
	Exec    dag.ExecId
	Results []ExecutionResultEntry
	Outputs map[dag.FileId]filekey.Key
}

// AskFileFromWorker requests the bytes for a content key the worker
// doesn't have locally (spec.md §4.D "Worker->Server: AskFile(FileKey)").
type AskFileFromWorker struct {
	Key filekey.Key
}

// WorkerMessage is the worker->server envelope (spec.md §4.D).
type WorkerMessage struct {
	Kind        WorkerMsgKind
	Hello       *HelloMsg
	WorkerDone  *WorkerDoneMsg
	ProvideFile *ProvideFileHeader
	AskFile     *AskFileFromWorker
}

// ---- Server -> Worker ----

// SchedMsgKind tags the variant of a SchedMessage.
type SchedMsgKind int

const (
	SchedWork SchedMsgKind = iota
	SchedProvideFile
	SchedExit
)

// WorkerJob is everything a worker needs to run one ExecutionGroup
// (spec.md §4.F): the group itself, its resolved input keys, and the
// DAG-level config knobs that affect worker behavior.
type WorkerJob struct {
	Exec          dag.ExecId
	Group         dag.ExecutionGroup
	Inputs        map[dag.FileId]filekey.Key
	ExtraTime     float64
	CopyExe       bool
	CopyLogs      bool
	KeepSandboxes bool
}

// SchedMessage is the server->worker envelope (spec.md §4.D).
type SchedMessage struct {
	Kind        SchedMsgKind
	Work        *WorkerJob
	ProvideFile *filekey.Key
}

// ---- Status snapshot (SPEC_FULL.md supplemented feature #1) ----

// ExecStatus is the per-execution state reported in a Status snapshot.
type ExecStatus struct {
	Ready     bool
	WaitingOn []dag.FileId
	Running   bool
	Done      bool
}

// WorkerStatus is the per-worker state reported in a Status snapshot.
type WorkerStatus struct {
	Connected bool
	Ready     bool
	Group     *dag.ExecId
}

// Snapshot is returned by the scheduler for a Server->Client Status
// request (SPEC_FULL.md supplemented feature #1).
type Snapshot struct {
	Execs   map[dag.ExecId]ExecStatus
	Workers map[WorkerId]WorkerStatus
}
