package worker

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/olimpiadi-informatica/task-maker-go/dag"
	"github.com/olimpiadi-informatica/task-maker-go/filekey"
	"github.com/olimpiadi-informatica/task-maker-go/filestore"
	"github.com/olimpiadi-informatica/task-maker-go/proto"
)

// fetchMissing implements spec.md §4.F step 2's network half: for every
// distinct content key referenced by the group's inputs that isn't
// already in the worker's local store, ask the server for it and stream
// it in. Requests are sequential because they share one connection (the
// wire protocol has no request-id to pipeline concurrent AskFile/
// ProvideFile pairs over a single Codec), but this is the only part of
// dependency resolution that must be: everything downstream of the local
// store is placed in parallel, one goroutine per execution, in
// materializeInputs.
func fetchMissing(codec *proto.Codec, store *filestore.Store, inputs map[dag.FileId]filekey.Key) error {
	seen := make(map[filekey.Key]struct{}, len(inputs))
	for _, key := range inputs {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if store.Has(key) {
			continue
		}
		if err := fetchOne(codec, store, key); err != nil {
			return fmt.Errorf("worker: fetching %s: %w", key, err)
		}
	}
	return nil
}

func fetchOne(codec *proto.Codec, store *filestore.Store, key filekey.Key) error {
	if err := codec.SendWorker(proto.WorkerMessage{
		Kind:    proto.WorkerAskFile,
		AskFile: &proto.AskFileFromWorker{Key: key},
	}); err != nil {
		return err
	}
	msg, err := codec.RecvSched()
	if err != nil {
		return err
	}
	if msg.Kind != proto.SchedProvideFile || msg.ProvideFile == nil {
		return fmt.Errorf("expected ProvideFile in reply to AskFile, got kind %v", msg.Kind)
	}
	if *msg.ProvideFile != key {
		// per spec.md §9 Open Question: a concurrent AskFile/ProvideFile
		// race is tolerated; a mismatched key here just means the bytes
		// that follow aren't for this request, so surface it rather
		// than silently mis-attributing them.
		return fmt.Errorf("server replied with key %s, expected %s", *msg.ProvideFile, key)
	}

	pr, pw := io.Pipe()
	var handle *filestore.Handle
	var storeErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		handle, storeErr = store.Store(key, pr)
		if storeErr != nil {
			pr.CloseWithError(storeErr)
		}
	}()

	recvErr := codec.RecvFile(pw)
	pw.CloseWithError(recvErr)
	wg.Wait()
	if recvErr != nil {
		return recvErr
	}
	if storeErr != nil {
		return storeErr
	}
	handle.Drop()
	return nil
}

// materializeInputs places every declared input of every execution in
// group into its per-execution sandbox directory: a hard link when the
// store and the sandbox dir share a filesystem, a plain copy otherwise
// (spec.md §4.F step 2). Inputs across executions are materialized
// concurrently, one errgroup goroutine per execution with no further
// limit, since this step is pure local I/O once fetchMissing has
// populated the store.
func materializeInputs(group dag.ExecutionGroup, store *filestore.Store, inputs map[dag.FileId]filekey.Key, execDirs []string) error {
	var g errgroup.Group
	for i, ex := range group.Executions {
		i, ex := i, ex
		dir := execDirs[i]
		g.Go(func() error {
			for _, in := range ex.Inputs {
				key, ok := inputs[in.File]
				if !ok {
					return fmt.Errorf("no resolved key for input file %s", in.File)
				}
				if err := placeInput(store, key, filepath.Join(dir, in.SandboxPath), in.Executable); err != nil {
					return err
				}
			}
			if ex.Stdin != "" {
				key, ok := inputs[ex.Stdin]
				if !ok {
					return fmt.Errorf("no resolved key for stdin file %s", ex.Stdin)
				}
				if err := placeInput(store, key, filepath.Join(dir, ".stdin"), false); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func placeInput(store *filestore.Store, key filekey.Key, dest string, executable bool) error {
	handle, err := store.Get(key)
	if err != nil {
		return err
	}
	defer handle.Drop()

	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return err
	}
	os.Remove(dest)
	if err := os.Link(handle.Path(), dest); err != nil {
		if !errors.Is(err, os.ErrExist) {
			if copyErr := copyFile(handle.Path(), dest); copyErr != nil {
				return copyErr
			}
		}
	}
	if executable {
		return os.Chmod(dest, 0755)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
