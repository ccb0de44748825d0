package worker

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/olimpiadi-informatica/task-maker-go/dag"
	"github.com/olimpiadi-informatica/task-maker-go/filekey"
	"github.com/olimpiadi-informatica/task-maker-go/filestore"
	"github.com/olimpiadi-informatica/task-maker-go/proto"
)

func newTestWorkerStore(t *testing.T) *filestore.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := filestore.New(dir, 1<<30, 1<<29)
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	return st
}

func pipeCodecs() (*proto.Codec, *proto.Codec) {
	a, b := net.Pipe()
	return proto.NewCodec(a), proto.NewCodec(b)
}

func TestFetchOneStoresBytesFromServer(t *testing.T) {
	content := []byte("hello from the server")
	key := filekey.Sum(content)
	store := newTestWorkerStore(t)

	workerSide, serverSide := pipeCodecs()
	done := make(chan error, 1)
	go func() {
		msg, err := serverSide.RecvWorker()
		if err != nil {
			done <- err
			return
		}
		if msg.Kind != proto.WorkerAskFile || msg.AskFile.Key != key {
			done <- nil
			return
		}
		if err := serverSide.SendSched(proto.SchedMessage{
			Kind:        proto.SchedProvideFile,
			ProvideFile: &key,
		}); err != nil {
			done <- err
			return
		}
		done <- serverSide.SendFile(bytes.NewReader(content))
	}()

	if err := fetchOne(workerSide, store, key); err != nil {
		t.Fatalf("fetchOne: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("server side: %v", err)
	}

	if !store.Has(key) {
		t.Fatalf("store does not have key after fetchOne")
	}
	handle, err := store.Get(key)
	if err != nil {
		t.Fatalf("store.Get: %v", err)
	}
	defer handle.Drop()
	f, err := handle.Open()
	if err != nil {
		t.Fatalf("handle.Open: %v", err)
	}
	defer f.Close()
	got := make([]byte, len(content))
	if _, err := f.Read(got); err != nil {
		t.Fatalf("reading stored file: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("stored content mismatch: got %q want %q", got, content)
	}
}

func TestFetchMissingSkipsAlreadyPresentAndDuplicateKeys(t *testing.T) {
	store := newTestWorkerStore(t)
	present := []byte("already here")
	presentKey := filekey.Sum(present)
	if _, err := store.StoreBytes(presentKey, present); err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	inputs := map[dag.FileId]filekey.Key{
		"a": presentKey,
		"b": presentKey, // duplicate key under a different FileId
	}

	workerSide, serverSide := pipeCodecs()
	calls := make(chan struct{})
	go func() {
		defer close(calls)
		// If fetchMissing asks for anything, that's a bug: the key is
		// already in the store and deduplicated across FileIds.
		serverSide.RecvWorker()
	}()

	if err := fetchMissing(workerSide, store, inputs); err != nil {
		t.Fatalf("fetchMissing: %v", err)
	}
	workerSide.Close()
	serverSide.Close()
	<-calls
}

func TestPlaceInputHardlinksAndMarksExecutable(t *testing.T) {
	store := newTestWorkerStore(t)
	content := []byte("#!/bin/sh\necho hi\n")
	key := filekey.Sum(content)
	if _, err := store.StoreBytes(key, content); err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	destDir := t.TempDir()
	dest := filepath.Join(destDir, "nested", "prog")
	if err := placeInput(store, key, dest, true); err != nil {
		t.Fatalf("placeInput: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading placed file: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("content mismatch: got %q want %q", got, content)
	}
	info, err := os.Stat(dest)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode()&0111 == 0 {
		t.Fatalf("expected executable bit set, got mode %v", info.Mode())
	}
}

func TestMaterializeInputsPlacesEveryDeclaredInput(t *testing.T) {
	store := newTestWorkerStore(t)
	progBytes := []byte("binary")
	dataBytes := []byte("data")
	progKey := filekey.Sum(progBytes)
	dataKey := filekey.Sum(dataBytes)
	store.StoreBytes(progKey, progBytes)
	store.StoreBytes(dataKey, dataBytes)

	group := dag.ExecutionGroup{
		Executions: []dag.Execution{
			{
				Inputs: []dag.InputFile{
					{SandboxPath: "prog", File: "prog", Executable: true},
					{SandboxPath: "data.txt", File: "data"},
				},
				Stdin: "data",
			},
		},
	}
	inputs := map[dag.FileId]filekey.Key{"prog": progKey, "data": dataKey}
	execDir := t.TempDir()

	if err := materializeInputs(group, store, inputs, []string{execDir}); err != nil {
		t.Fatalf("materializeInputs: %v", err)
	}

	for _, want := range []struct {
		path string
		data []byte
	}{
		{filepath.Join(execDir, "prog"), progBytes},
		{filepath.Join(execDir, "data.txt"), dataBytes},
		{filepath.Join(execDir, ".stdin"), dataBytes},
	} {
		got, err := os.ReadFile(want.path)
		if err != nil {
			t.Fatalf("reading %s: %v", want.path, err)
		}
		if !bytes.Equal(got, want.data) {
			t.Fatalf("%s: got %q want %q", want.path, got, want.data)
		}
	}
}
