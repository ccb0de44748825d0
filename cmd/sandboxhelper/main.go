// Command sandboxhelper is the out-of-process sandbox helper binary
// referenced by spec.md §6: it reads exactly one serialized SandboxConfig
// from stdin, runs it, and writes exactly one serialized SandboxResult to
// stdout. A non-zero exit means the helper itself failed, distinct from
// the sandboxed child process failing (which is reported as a Result
// instead).
package main

import (
	"fmt"
	"os"

	"github.com/olimpiadi-informatica/task-maker-go/sandbox"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sandboxhelper: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := sandbox.ReadConfig(os.Stdin)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	res, err := sandbox.Run(cfg)
	if err != nil {
		return fmt.Errorf("running sandbox: %w", err)
	}
	if err := sandbox.WriteResult(os.Stdout, res); err != nil {
		return fmt.Errorf("writing result: %w", err)
	}
	return nil
}
