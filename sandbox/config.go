// Package sandbox implements the sandboxed process runner described in
// spec.md §4.E: it turns a SandboxConfig into a child process constrained
// by resource limits and a restricted filesystem view, and reports back a
// SandboxResult. The actual OS-level isolation (bubblewrap + cgroupv2) is
// adapted from the teacher's tenant.Manager.sandboxStart / cgroup.Dir.
package sandbox

import "time"

// Config describes one sandboxed process invocation (spec.md §4.E
// "SandboxConfig").
type Config struct {
	// WorkDir is the sandbox's working directory, writable, created by
	// the worker for the lifetime of one execution.
	WorkDir string

	// Executable is the absolute path of the program to run, already
	// validated to exist and look like a real executable.
	Executable string
	Args       []string

	// Env holds fully-resolved "NAME=VALUE" pairs (explicit vars plus
	// anything inherited from the worker's own environment); the
	// sandbox package does no env resolution of its own.
	Env []string

	// Stdin/Stdout/Stderr are absolute paths to redirect the child's
	// standard streams to, or "" for /dev/null.
	Stdin  string
	Stdout string
	Stderr string

	CPUTime      *time.Duration
	SysTime      *time.Duration
	WallTime     *time.Duration
	MemoryKiB    *int64
	Processes    *int64
	OpenFiles    *int64
	FileSizeKiB  *int64
	StackKiB     *int64
	LockedMemKiB *int64

	// Multiprocess allows the child to fork/exec further descendants;
	// when false the sandbox expects (but does not strictly enforce
	// beyond Processes) a single-process workload.
	Multiprocess bool

	ReadOnlyRoot      bool
	MountTmpfs        bool
	MountProc         bool
	ExtraReadableDirs []string

	UID *int
	GID *int

	// ExtraTime is the grace fraction added to CPUTime/WallTime before
	// the sandbox's own internal kill fires (spec.md §4.E "An 'extra
	// time' grace is added to cpu and wall limits before the sandbox's
	// internal kill").
	ExtraTime float64
}

// cpuDeadline returns the CPU time limit after ExtraTime grace, or nil if
// unset.
func (c Config) cpuDeadline() *time.Duration {
	return withGrace(c.CPUTime, c.ExtraTime)
}

// wallDeadline returns the wall time limit after ExtraTime grace, or nil
// if unset.
func (c Config) wallDeadline() *time.Duration {
	return withGrace(c.WallTime, c.ExtraTime)
}

func withGrace(d *time.Duration, extra float64) *time.Duration {
	if d == nil {
		return nil
	}
	grace := time.Duration(float64(*d) * extra)
	out := *d + grace
	return &out
}

// StatusKind classifies how the sandboxed process terminated (spec.md
// §4.E "SandboxResult.status").
type StatusKind int

const (
	ExitCode StatusKind = iota
	Signaled
	Killed
)

// Status is the raw termination status of the sandboxed process, before
// the worker applies the higher-level status-mapping rule.
type Status struct {
	Kind StatusKind
	Code int32 // valid when Kind == ExitCode
	Sig  int32 // valid when Kind == Signaled
}

// Usage records the resources consumed by the sandboxed process (spec.md
// §4.E "resource_usage").
type Usage struct {
	UserCPU   time.Duration
	SysCPU    time.Duration
	Wall      time.Duration
	PeakKiB   int64
}

// Result is what the sandbox helper reports back (spec.md §4.E
// "SandboxResult").
type Result struct {
	Status Status
	Usage  Usage
}
