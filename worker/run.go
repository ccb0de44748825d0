package worker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/olimpiadi-informatica/task-maker-go/dag"
	"github.com/olimpiadi-informatica/task-maker-go/filekey"
	"github.com/olimpiadi-informatica/task-maker-go/proto"
	"github.com/olimpiadi-informatica/task-maker-go/sandbox"
)

// runJob implements the Working half of spec.md §4.F: fetch inputs,
// create FIFOs, run every execution in the group concurrently, collect
// results, stream outputs back, and report WorkerDone.
func (w *Worker) runJob(codec *proto.Codec, job proto.WorkerJob) (proto.WorkerDoneMsg, error) {
	if err := fetchMissing(codec, w.Store, job.Inputs); err != nil {
		return proto.WorkerDoneMsg{}, err
	}

	groupDir, err := mkGroupDir(w.BaseDir)
	if err != nil {
		return proto.WorkerDoneMsg{}, err
	}
	if !job.KeepSandboxes {
		defer os.RemoveAll(groupDir)
	}

	execDirs := make([]string, len(job.Group.Executions))
	for i := range job.Group.Executions {
		execDirs[i] = filepath.Join(groupDir, fmt.Sprintf("exec-%d", i))
		if err := os.MkdirAll(execDirs[i], 0750); err != nil {
			return proto.WorkerDoneMsg{}, err
		}
	}

	for _, fifo := range job.Group.Fifos {
		if err := mkfifo(filepath.Join(groupDir, string(fifo))); err != nil {
			return proto.WorkerDoneMsg{}, fmt.Errorf("creating fifo %s: %w", fifo, err)
		}
	}

	if err := materializeInputs(job.Group, w.Store, job.Inputs, execDirs); err != nil {
		return proto.WorkerDoneMsg{}, err
	}

	results := make([]proto.ExecutionResultEntry, len(job.Group.Executions))
	var wg sync.WaitGroup
	for i, ex := range job.Group.Executions {
		i, ex := i, ex
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = w.runOne(i, ex, execDirs[i], groupDir, job)
		}()
	}
	wg.Wait()

	outputs, err := w.collectOutputs(job.Group, execDirs)
	if err != nil {
		return proto.WorkerDoneMsg{}, err
	}

	if job.CopyExe || job.CopyLogs {
		w.keepArtifacts(job, execDirs)
	}

	if err := w.sendOutputs(codec, outputs); err != nil {
		return proto.WorkerDoneMsg{}, err
	}
	if err := w.sendCaptures(codec, results); err != nil {
		return proto.WorkerDoneMsg{}, err
	}

	return proto.WorkerDoneMsg{Exec: job.Exec, Results: results, Outputs: outputs}, nil
}

// runOne runs a single execution within the group and maps its sandbox
// result to a dag.ExecutionResult (spec.md §4.F steps 4-5).
func (w *Worker) runOne(index int, ex dag.Execution, execDir, groupDir string, job proto.WorkerJob) proto.ExecutionResultEntry {
	cfg, err := buildSandboxConfig(ex, execDir, groupDir, job)
	if err != nil {
		return proto.ExecutionResultEntry{Index: index, Result: dag.ExecutionResult{
			Status:  dag.StatusInternalError,
			Message: err.Error(),
		}}
	}

	res, err := invokeHelper(context.Background(), w.HelperPath, cfg)
	if err != nil {
		return proto.ExecutionResultEntry{Index: index, Result: dag.ExecutionResult{
			Status:  dag.StatusInternalError,
			Message: err.Error(),
		}}
	}

	result := sandbox.MapStatus(res, ex.Limits)
	entry := proto.ExecutionResultEntry{Index: index, Result: result}

	// Captured stdout/stderr are attached to the result directly (so the
	// watching client sees them immediately) and also content-addressed
	// into the store under their own key, so a future cache hit on this
	// execution can still report a live stdout/stderr key even though it
	// won't re-run the sandbox (cache.Entry.StdoutKey/StderrKey).
	if ex.CaptureStdout {
		if b, ok := readCapped(filepath.Join(execDir, "stdout.out"), ex.StdoutCapByte); ok {
			entry.Result.Stdout = b
			if key, err := w.storeCapture(b); err == nil {
				entry.StdoutKey = &key
			}
		}
	}
	if ex.CaptureStderr {
		if b, ok := readCapped(filepath.Join(execDir, "stderr.out"), ex.StderrCapByte); ok {
			entry.Result.Stderr = b
			if key, err := w.storeCapture(b); err == nil {
				entry.StderrKey = &key
			}
		}
	}
	return entry
}

func (w *Worker) storeCapture(b []byte) (filekey.Key, error) {
	key := filekey.Sum(b)
	handle, err := w.Store.StoreBytes(key, b)
	if err != nil {
		return filekey.Key{}, err
	}
	handle.Drop()
	return key, nil
}

func readCapped(path string, capBytes int64) ([]byte, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	if capBytes > 0 && int64(len(b)) > capBytes {
		b = b[:capBytes]
	}
	return b, true
}

// buildSandboxConfig resolves an Execution's command, argv, and
// redirections into a sandbox.Config (spec.md §4.E).
func buildSandboxConfig(ex dag.Execution, execDir, groupDir string, job proto.WorkerJob) (sandbox.Config, error) {
	cfg := sandbox.Config{
		WorkDir:           execDir,
		Args:              ex.Args,
		ExtraReadableDirs: ex.Limits.ExtraReadableDirs,
		ReadOnlyRoot:      ex.Limits.ReadOnlyRoot,
		MountTmpfs:        ex.Limits.MountTmpfs,
		MountProc:         ex.Limits.MountProc,
		Multiprocess:      ex.Limits.Processes == nil || *ex.Limits.Processes > 1,
		CPUTime:           ex.Limits.CPUTime,
		SysTime:           ex.Limits.SysTime,
		WallTime:          ex.Limits.WallTime,
		MemoryKiB:         ex.Limits.MemoryKiB,
		Processes:         ex.Limits.Processes,
		OpenFiles:         ex.Limits.OpenFiles,
		FileSizeKiB:       ex.Limits.FileSizeKiB,
		StackKiB:          ex.Limits.StackKiB,
		LockedMemKiB:      ex.Limits.LockedMemKiB,
		ExtraTime:         job.ExtraTime,
	}

	switch {
	case ex.Command.SystemPath != "":
		resolved, err := exec.LookPath(ex.Command.SystemPath)
		if err != nil {
			return sandbox.Config{}, fmt.Errorf("resolving system command %q: %w", ex.Command.SystemPath, err)
		}
		cfg.Executable = resolved
	case ex.Command.LocalFile != "":
		var path string
		for _, in := range ex.Inputs {
			if in.File == ex.Command.LocalFile {
				path = filepath.Join(execDir, in.SandboxPath)
			}
		}
		if path == "" {
			return sandbox.Config{}, fmt.Errorf("command file %s not among the execution's inputs", ex.Command.LocalFile)
		}
		cfg.Executable = path
	default:
		return sandbox.Config{}, fmt.Errorf("execution has neither a system command nor a local file command")
	}

	if ex.Stdin != "" {
		cfg.Stdin = filepath.Join(execDir, ".stdin")
	}
	if ex.CaptureStdout {
		cfg.Stdout = filepath.Join(execDir, "stdout.out")
	}
	if ex.CaptureStderr {
		cfg.Stderr = filepath.Join(execDir, "stderr.out")
	}
	return cfg, nil
}

// collectOutputs hashes and inserts every declared output that an
// execution actually produced into the store (spec.md §4.F step 5). A
// declared output that is missing from disk (the execution failed before
// writing it) is simply absent from the returned map; the scheduler
// treats a missing key as "not produced".
func (w *Worker) collectOutputs(group dag.ExecutionGroup, execDirs []string) (map[dag.FileId]filekey.Key, error) {
	outputs := make(map[dag.FileId]filekey.Key)
	for i, ex := range group.Executions {
		for _, out := range ex.Outputs {
			path := filepath.Join(execDirs[i], out.SandboxPath)
			b, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			key := filekey.Sum(b)
			handle, err := w.Store.StoreBytes(key, b)
			if err != nil {
				return nil, fmt.Errorf("storing output %s: %w", out.SandboxPath, err)
			}
			handle.Drop()
			outputs[out.File] = key
		}
	}
	return outputs, nil
}

func (w *Worker) keepArtifacts(job proto.WorkerJob, execDirs []string) {
	keepDir := filepath.Join(w.BaseDir, "keep", string(job.Exec))
	for i, ex := range job.Group.Executions {
		dir := filepath.Join(keepDir, fmt.Sprintf("exec-%d", i))
		if err := os.MkdirAll(dir, 0750); err != nil {
			w.errorf("worker: keep-artifacts mkdir: %s", err)
			continue
		}
		if job.CopyExe {
			if cfg, err := buildSandboxConfig(ex, execDirs[i], "", job); err == nil {
				_ = copyFile(cfg.Executable, filepath.Join(dir, "exe"))
			}
		}
		if job.CopyLogs {
			_ = copyFile(filepath.Join(execDirs[i], "stdout.out"), filepath.Join(dir, "stdout.out"))
			_ = copyFile(filepath.Join(execDirs[i], "stderr.out"), filepath.Join(dir, "stderr.out"))
		}
	}
}

func (w *Worker) sendOutputs(codec *proto.Codec, outputs map[dag.FileId]filekey.Key) error {
	for file, key := range outputs {
		if err := w.sendKeyedBlob(codec, file, key); err != nil {
			return err
		}
	}
	return nil
}

// sendCaptures streams each execution's content-addressed stdout/stderr
// blobs to the server, so the central store holds a live copy for the
// cache.Entry.StdoutKey/StderrKey references a future cache hit reports
// (the worker's own local store doesn't help a different worker's
// cache-hit dispatch). The FileId is left zero; it has no meaning for
// these blobs since they aren't DAG outputs and aren't looked up by File.
func (w *Worker) sendCaptures(codec *proto.Codec, results []proto.ExecutionResultEntry) error {
	for _, r := range results {
		if r.StdoutKey != nil {
			if err := w.sendKeyedBlob(codec, "", *r.StdoutKey); err != nil {
				return err
			}
		}
		if r.StderrKey != nil {
			if err := w.sendKeyedBlob(codec, "", *r.StderrKey); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Worker) sendKeyedBlob(codec *proto.Codec, file dag.FileId, key filekey.Key) error {
	if err := codec.SendWorker(proto.WorkerMessage{
		Kind:        proto.WorkerProvideFile,
		ProvideFile: &proto.ProvideFileHeader{File: file, Key: key},
	}); err != nil {
		return err
	}
	handle, err := w.Store.Get(key)
	if err != nil {
		return err
	}
	f, err := handle.Open()
	if err != nil {
		handle.Drop()
		return err
	}
	err = codec.SendFile(f)
	f.Close()
	handle.Drop()
	return err
}
