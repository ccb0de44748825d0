package dag

// StartCallback is invoked once an execution has been dispatched to a
// worker (or synthesized as a cache hit).
type StartCallback func(id ExecId)

// DoneCallback is invoked exactly once with the terminal result of an
// execution.
type DoneCallback func(id ExecId, result ExecutionResult)

// SkipCallback is invoked exactly once if an execution is never run
// because an upstream dependency failed (spec.md §8 property 6).
type SkipCallback func(id ExecId)

// ContentCallback is invoked with the first N bytes of a file, once the
// file is ready (spec.md §4.C get_file_content).
type ContentCallback func(id FileId, content []byte)

// WriteResultCallback is invoked after a scheduled local write completes
// (spec.md §4.C write_file_to); err is nil on success.
type WriteResultCallback func(id FileId, err error)

// writeRequest captures one write_file_to registration.
type writeRequest struct {
	file          FileId
	dest          string
	executable    bool
	allowFailure  bool
	result        WriteResultCallback
}

// contentRequest captures one get_file_content registration.
type contentRequest struct {
	file      FileId
	byteLimit int64
	callback  ContentCallback
}

// DAG is the full client-side builder: the wire-portion (ExecutionDAG)
// plus the local-only callbacks from spec.md §4.C / §4.D ("Client
// callbacks ... must not be serialized to workers"). Only the embedded
// ExecutionDAG is ever sent to the executor.
type DAG struct {
	ExecutionDAG

	onStart map[ExecId]StartCallback
	onDone  map[ExecId]DoneCallback
	onSkip  map[ExecId]SkipCallback

	writes   []writeRequest
	contents []contentRequest
}

// New returns an empty DAG builder.
func New() *DAG {
	return &DAG{
		ExecutionDAG: ExecutionDAG{
			ProvidedFiles: make(map[FileId]ProvidedFile),
			Executions:    make(map[ExecId]ExecutionGroup),
		},
		onStart: make(map[ExecId]StartCallback),
		onDone:  make(map[ExecId]DoneCallback),
		onSkip:  make(map[ExecId]SkipCallback),
	}
}

// ProvideFile registers file as an input read from a local path.
func (d *DAG) ProvideFile(file FileId, localPath string) {
	d.ProvidedFiles[file] = ProvidedFile{LocalPath: localPath}
}

// ProvideContent registers file as an input with inline byte content.
func (d *DAG) ProvideContent(file FileId, content []byte) {
	d.ProvidedFiles[file] = ProvidedFile{Content: content}
}

// AddExecutionGroup adds a unit of dispatch work to the DAG and returns
// the ExecId assigned to it.
func (d *DAG) AddExecutionGroup(group ExecutionGroup) ExecId {
	id := NewExecId()
	d.Executions[id] = group
	return id
}

// WriteFileTo schedules a local write of file's content to dest once it
// is ready. If allowFailure is false, a failure writing the file is
// treated as a DAG-level error.
func (d *DAG) WriteFileTo(file FileId, dest string, executable, allowFailure bool, result WriteResultCallback) {
	d.writes = append(d.writes, writeRequest{
		file: file, dest: dest, executable: executable,
		allowFailure: allowFailure, result: result,
	})
}

// GetFileContent schedules callback to run with the first byteLimit
// bytes of file once it is ready.
func (d *DAG) GetFileContent(file FileId, byteLimit int64, callback ContentCallback) {
	d.contents = append(d.contents, contentRequest{file: file, byteLimit: byteLimit, callback: callback})
}

// OnExecutionStart registers a start callback for id.
func (d *DAG) OnExecutionStart(id ExecId, cb StartCallback) { d.onStart[id] = cb }

// OnExecutionDone registers a done callback for id.
func (d *DAG) OnExecutionDone(id ExecId, cb DoneCallback) { d.onDone[id] = cb }

// OnExecutionSkip registers a skip callback for id.
func (d *DAG) OnExecutionSkip(id ExecId, cb SkipCallback) { d.onSkip[id] = cb }

// WriteRequests exposes the registered write_file_to callbacks in
// registration order, each carrying the FileId it watches. Used by the client-side driver loop, not sent
// over the wire.
func (d *DAG) WriteRequests() []writeRequest { return d.writes }

// ContentRequests exposes the registered get_file_content callbacks.
func (d *DAG) ContentRequests() []contentRequest { return d.contents }

// FireStart invokes the registered start callback for id, if any.
func (d *DAG) FireStart(id ExecId) {
	if cb := d.onStart[id]; cb != nil {
		cb(id)
	}
}

// FireDone invokes the registered done callback for id, if any.
func (d *DAG) FireDone(id ExecId, result ExecutionResult) {
	if cb := d.onDone[id]; cb != nil {
		cb(id, result)
	}
}

// FireSkip invokes the registered skip callback for id, if any.
func (d *DAG) FireSkip(id ExecId) {
	if cb := d.onSkip[id]; cb != nil {
		cb(id)
	}
}

// Wire returns the serializable portion of the DAG, i.e. everything a
// server or worker needs without any of the client-only callbacks.
func (d *DAG) Wire() ExecutionDAG { return d.ExecutionDAG }
