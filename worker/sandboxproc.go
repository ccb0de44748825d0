package worker

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/olimpiadi-informatica/task-maker-go/sandbox"
)

// invokeHelper launches the sandbox helper binary, writes cfg to its
// stdin, and reads back a Result from its stdout (spec.md §6 "a sandbox
// helper binary that reads exactly one serialized SandboxConfig from
// stdin and writes exactly one serialized SandboxResult to stdout").
//
// The helper is started via exec.CommandContext so that cancelling ctx
// (the server dropping the write handle, or an explicit abort) kills it
// immediately -- the "kill-on-drop" requirement from spec.md §4.E/§4.F
// cancellation semantics.
func invokeHelper(ctx context.Context, helperPath string, cfg sandbox.Config) (sandbox.Result, error) {
	cmd := exec.CommandContext(ctx, helperPath)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return sandbox.Result{}, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return sandbox.Result{}, err
	}

	if err := cmd.Start(); err != nil {
		return sandbox.Result{}, fmt.Errorf("starting sandbox helper: %w", err)
	}

	writeErrc := make(chan error, 1)
	go func() {
		writeErrc <- sandbox.WriteConfig(stdin, cfg)
		stdin.Close()
	}()

	res, readErr := sandbox.ReadResult(stdout)
	writeErr := <-writeErrc
	waitErr := cmd.Wait()

	if readErr != nil {
		return sandbox.Result{}, fmt.Errorf("reading sandbox result: %w", readErr)
	}
	if writeErr != nil {
		return sandbox.Result{}, fmt.Errorf("writing sandbox config: %w", writeErr)
	}
	if waitErr != nil {
		return sandbox.Result{}, fmt.Errorf("sandbox helper exited with error: %w", waitErr)
	}
	return res, nil
}
