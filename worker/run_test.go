package worker

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/olimpiadi-informatica/task-maker-go/dag"
	"github.com/olimpiadi-informatica/task-maker-go/filekey"
	"github.com/olimpiadi-informatica/task-maker-go/proto"
)

func TestBuildSandboxConfigSystemPath(t *testing.T) {
	ex := dag.Execution{
		Command: dag.Command{SystemPath: "true"},
		Args:    []string{"-z"},
	}
	cfg, err := buildSandboxConfig(ex, "/tmp/exec-dir", "/tmp/group-dir", proto.WorkerJob{ExtraTime: 0.5})
	if err != nil {
		t.Fatalf("buildSandboxConfig: %v", err)
	}
	if cfg.Executable == "" {
		t.Fatalf("expected resolved executable path, got empty string")
	}
	if cfg.ExtraTime != 0.5 {
		t.Fatalf("ExtraTime not propagated: got %v", cfg.ExtraTime)
	}
	if len(cfg.Args) != 1 || cfg.Args[0] != "-z" {
		t.Fatalf("args not propagated: %v", cfg.Args)
	}
}

func TestBuildSandboxConfigLocalFile(t *testing.T) {
	ex := dag.Execution{
		Command: dag.Command{LocalFile: "prog"},
		Inputs: []dag.InputFile{
			{SandboxPath: "prog", File: "prog", Executable: true},
		},
		Stdin:         "in",
		CaptureStdout: true,
		CaptureStderr: true,
	}
	cfg, err := buildSandboxConfig(ex, "/tmp/exec-dir", "/tmp/group-dir", proto.WorkerJob{})
	if err != nil {
		t.Fatalf("buildSandboxConfig: %v", err)
	}
	if cfg.Executable != filepath.Join("/tmp/exec-dir", "prog") {
		t.Fatalf("unexpected executable path: %s", cfg.Executable)
	}
	if cfg.Stdin != filepath.Join("/tmp/exec-dir", ".stdin") {
		t.Fatalf("unexpected stdin redirection: %s", cfg.Stdin)
	}
	if cfg.Stdout == "" || cfg.Stderr == "" {
		t.Fatalf("expected stdout/stderr redirection paths to be set")
	}
}

func TestBuildSandboxConfigMissingCommandFileIsError(t *testing.T) {
	ex := dag.Execution{Command: dag.Command{LocalFile: "missing"}}
	if _, err := buildSandboxConfig(ex, "/tmp/exec-dir", "/tmp/group-dir", proto.WorkerJob{}); err == nil {
		t.Fatalf("expected error when command file isn't among inputs")
	}
}

func TestBuildSandboxConfigNoCommandIsError(t *testing.T) {
	ex := dag.Execution{}
	if _, err := buildSandboxConfig(ex, "/tmp/exec-dir", "/tmp/group-dir", proto.WorkerJob{}); err == nil {
		t.Fatalf("expected error when execution declares neither command form")
	}
}

func TestCollectOutputsSkipsMissingFiles(t *testing.T) {
	st := newTestWorkerStore(t)
	w := &Worker{Store: st}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "out.txt"), []byte("produced"), 0644); err != nil {
		t.Fatalf("seeding output file: %v", err)
	}

	group := dag.ExecutionGroup{
		Executions: []dag.Execution{{
			Outputs: []dag.OutputFile{
				{SandboxPath: "out.txt", File: "produced-file"},
				{SandboxPath: "never-written.txt", File: "missing-file"},
			},
		}},
	}

	outputs, err := w.collectOutputs(group, []string{dir})
	if err != nil {
		t.Fatalf("collectOutputs: %v", err)
	}
	if len(outputs) != 1 {
		t.Fatalf("expected exactly one collected output, got %d: %v", len(outputs), outputs)
	}
	key, ok := outputs["produced-file"]
	if !ok {
		t.Fatalf("expected produced-file to be present in outputs")
	}
	if key != filekey.Sum([]byte("produced")) {
		t.Fatalf("output key does not match content hash")
	}
	if _, ok := outputs["missing-file"]; ok {
		t.Fatalf("missing-file should not appear in outputs")
	}
}

func TestKeepArtifactsCopiesLogsNotExecutable(t *testing.T) {
	baseDir := t.TempDir()
	w := &Worker{BaseDir: baseDir}

	execDir := t.TempDir()
	os.WriteFile(filepath.Join(execDir, "stdout.out"), []byte("stdout contents"), 0644)
	os.WriteFile(filepath.Join(execDir, "stderr.out"), []byte("stderr contents"), 0644)

	job := proto.WorkerJob{
		Exec:     "exec-1",
		CopyLogs: true,
		Group: dag.ExecutionGroup{
			Executions: []dag.Execution{{CaptureStdout: true, CaptureStderr: true}},
		},
	}

	w.keepArtifacts(job, []string{execDir})

	keepDir := filepath.Join(baseDir, "keep", "exec-1", "exec-0")
	got, err := os.ReadFile(filepath.Join(keepDir, "stdout.out"))
	if err != nil {
		t.Fatalf("reading kept stdout: %v", err)
	}
	if string(got) != "stdout contents" {
		t.Fatalf("unexpected kept stdout content: %q", got)
	}
	if _, err := os.Stat(filepath.Join(keepDir, "exe")); !os.IsNotExist(err) {
		t.Fatalf("expected no kept executable since CopyExe was false, stat err: %v", err)
	}
}

func TestSendOutputsStreamsEachFile(t *testing.T) {
	st := newTestWorkerStore(t)
	content := []byte("output bytes")
	key, err := func() (filekey.Key, error) {
		k := filekey.Sum(content)
		h, err := st.StoreBytes(k, content)
		if err != nil {
			return filekey.Key{}, err
		}
		h.Drop()
		return k, nil
	}()
	if err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	w := &Worker{Store: st}
	a, b := net.Pipe()
	workerSide := proto.NewCodec(a)
	serverSide := proto.NewCodec(b)

	recvDone := make(chan error, 1)
	go func() {
		msg, err := serverSide.RecvWorker()
		if err != nil {
			recvDone <- err
			return
		}
		if msg.Kind != proto.WorkerProvideFile || msg.ProvideFile == nil || msg.ProvideFile.Key != key {
			recvDone <- nil
			return
		}
		var buf bytes.Buffer
		if err := serverSide.RecvFile(&buf); err != nil {
			recvDone <- err
			return
		}
		if !bytes.Equal(buf.Bytes(), content) {
			recvDone <- nil
			return
		}
		recvDone <- nil
	}()

	outputs := map[dag.FileId]filekey.Key{"out": key}
	if err := w.sendOutputs(workerSide, outputs); err != nil {
		t.Fatalf("sendOutputs: %v", err)
	}

	select {
	case err := <-recvDone:
		if err != nil {
			t.Fatalf("server side: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for server side to receive output")
	}
}
