//go:build linux
// +build linux

package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/olimpiadi-informatica/task-maker-go/cgroup"
)

var (
	bwrapPath string
	bwrapOnce sync.Once
)

func lookBwrap() string {
	bwrapOnce.Do(func() {
		if p, err := exec.LookPath("bwrap"); err == nil {
			bwrapPath = p
		}
	})
	return bwrapPath
}

var (
	sandboxCgroupRoot     cgroup.Dir
	sandboxCgroupRootErr  error
	sandboxCgroupRootOnce sync.Once
	sandboxCgroupSeq      int64
)

// execCgroup returns a freshly created per-execution cgroup for memory
// accounting/limiting, or the zero Dir if cgroupv2 isn't usable (no
// delegation, missing mount, etc). This is best-effort: bwrap plus the
// rlimits in applyRlimits already provide the isolation spec.md §4.E
// requires, so a cgroup failure here is not fatal to the run.
func execCgroup() cgroup.Dir {
	sandboxCgroupRootOnce.Do(func() {
		self, err := cgroup.Self()
		if err != nil {
			sandboxCgroupRootErr = err
			return
		}
		sandboxCgroupRoot, sandboxCgroupRootErr = self.Create("task-maker-sandbox", true)
	})
	if sandboxCgroupRootErr != nil {
		return ""
	}
	n := atomic.AddInt64(&sandboxCgroupSeq, 1)
	cg, err := sandboxCgroupRoot.Create(fmt.Sprintf("exec-%d-%d", os.Getpid(), n), true)
	if err != nil {
		return ""
	}
	return cg
}

// Run launches cfg's executable under bubblewrap with the declared
// resource limits and mount restrictions, waits for it to finish (or to
// be killed by the wall-time watchdog), and reports the outcome (spec.md
// §4.E). It is adapted from tenant.Manager.sandboxStart's use of bwrap
// and cgroup.Dir, generalized from a fixed cache-dir bind-mount to the
// arbitrary per-execution mount list spec.md §4.E describes, and
// simplified from sandboxStart's --block-fd/--info-fd synchronization
// since each execution already gets its own cgroup rather than sharing
// one across a tenant's whole lifetime.
func Run(cfg Config) (Result, error) {
	if err := validateExecutable(cfg.Executable); err != nil {
		return Result{}, err
	}
	bw := lookBwrap()
	if bw == "" {
		return Result{}, fmt.Errorf("sandbox: bwrap(1) not found in PATH")
	}

	args := buildBwrapArgs(cfg)
	cmd := exec.Command(bw, append(args, append([]string{cfg.Executable}, cfg.Args...))...)
	cmd.Env = cfg.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if cfg.UID != nil || cfg.GID != nil {
		cmd.SysProcAttr.Credential = credentialFor(cfg)
	}

	stdin, stdout, stderr, closers, err := openStdio(cfg)
	defer closeAll(closers)
	if err != nil {
		return Result{}, err
	}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = stdin, stdout, stderr

	if err := applyRlimits(cfg); err != nil {
		return Result{}, err
	}

	cg := execCgroup()
	if !cg.IsZero() {
		defer func() {
			cg.Kill()
			cg.Remove()
		}()
		if cfg.MemoryKiB != nil {
			cg.WriteInt("memory.max", int(*cfg.MemoryKiB*1024))
		}
		if cfg.Processes != nil {
			cg.WriteInt("pids.max", int(*cfg.Processes))
		}
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, err
	}
	if !cg.IsZero() {
		// best-effort: a failure here just means the rlimits above are the
		// only enforcement for this run, same as if cg were zero.
		cgroup.Move(cmd.Process.Pid, cg)
	}

	killed := false
	var timer *time.Timer
	if wall := cfg.wallDeadline(); wall != nil {
		timer = time.AfterFunc(*wall, func() {
			killed = true
			killGroup(cmd.Process.Pid)
		})
	}

	err = cmd.Wait()
	if timer != nil {
		timer.Stop()
	}
	wall := time.Since(start)

	status, usage := interpretWait(cmd, err, wall, killed)
	if !cg.IsZero() {
		if peakBytes, err := cg.ReadInt("memory.peak"); err == nil {
			if peakKiB := peakBytes / 1024; peakKiB > usage.PeakKiB {
				usage.PeakKiB = peakKiB
			}
		}
	}
	return Result{Status: status, Usage: usage}, nil
}

func killGroup(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

func interpretWait(cmd *exec.Cmd, waitErr error, wall time.Duration, killed bool) (Status, Usage) {
	var st Status
	switch {
	case killed:
		st = Status{Kind: Killed}
	default:
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				if ws.Signaled() {
					st = Status{Kind: Signaled, Sig: int32(ws.Signal())}
				} else {
					st = Status{Kind: ExitCode, Code: int32(ws.ExitStatus())}
				}
				break
			}
			st = Status{Kind: ExitCode, Code: -1}
		} else if waitErr != nil {
			st = Status{Kind: ExitCode, Code: -1}
		} else {
			st = Status{Kind: ExitCode, Code: 0}
		}
	}

	usage := Usage{Wall: wall}
	if ps := cmd.ProcessState; ps != nil {
		if ru, ok := ps.SysUsage().(*syscall.Rusage); ok {
			usage.UserCPU = time.Duration(ru.Utime.Nano())
			usage.SysCPU = time.Duration(ru.Stime.Nano())
			usage.PeakKiB = ru.Maxrss
		}
	}
	return st, usage
}

func credentialFor(cfg Config) *syscall.Credential {
	cred := &syscall.Credential{}
	if cfg.UID != nil {
		cred.Uid = uint32(*cfg.UID)
	}
	if cfg.GID != nil {
		cred.Gid = uint32(*cfg.GID)
	}
	return cred
}

func openStdio(cfg Config) (stdin, stdout, stderr *os.File, closers []*os.File, err error) {
	open := func(path string, write bool) (*os.File, error) {
		if path == "" {
			path = os.DevNull
		}
		if write {
			return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		}
		return os.Open(path)
	}
	if stdin, err = open(cfg.Stdin, false); err != nil {
		return
	}
	closers = append(closers, stdin)
	if stdout, err = open(cfg.Stdout, true); err != nil {
		return
	}
	closers = append(closers, stdout)
	if stderr, err = open(cfg.Stderr, true); err != nil {
		return
	}
	closers = append(closers, stderr)
	return
}

func closeAll(files []*os.File) {
	for _, f := range files {
		f.Close()
	}
}

// buildBwrapArgs translates cfg's mount/namespace constraints into
// bubblewrap flags, generalizing tenant.Manager.sandboxStart's fixed
// "--ro-bind / /, --bind cachedir /tmp" pair into the per-execution mount
// list spec.md §4.E describes.
func buildBwrapArgs(cfg Config) []string {
	args := []string{"--die-with-parent", "--unshare-pid"}
	if cfg.ReadOnlyRoot {
		args = append(args, "--ro-bind", "/", "/")
	} else {
		args = append(args, "--bind", "/", "/")
	}
	args = append(args, "--bind", cfg.WorkDir, cfg.WorkDir)
	for _, dir := range cfg.ExtraReadableDirs {
		args = append(args, "--ro-bind", dir, dir)
	}
	if cfg.MountProc {
		args = append(args, "--proc", "/proc")
	}
	if cfg.MountTmpfs {
		args = append(args, "--tmpfs", "/tmp")
	}
	args = append(args, "--chdir", cfg.WorkDir, "--")
	return args
}

func applyRlimits(cfg Config) error {
	set := func(res int, val *int64, scale int64) error {
		if val == nil {
			return nil
		}
		v := uint64(*val * scale)
		return unix.Setrlimit(res, &unix.Rlimit{Cur: v, Max: v})
	}
	if cfg.CPUTime != nil {
		secs := int64(cfg.cpuDeadline().Seconds()) + 1
		if err := unix.Setrlimit(unix.RLIMIT_CPU, &unix.Rlimit{Cur: uint64(secs), Max: uint64(secs)}); err != nil {
			return err
		}
	}
	if err := set(unix.RLIMIT_AS, cfg.MemoryKiB, 1024); err != nil {
		return err
	}
	if err := set(unix.RLIMIT_NOFILE, cfg.OpenFiles, 1); err != nil {
		return err
	}
	if err := set(unix.RLIMIT_FSIZE, cfg.FileSizeKiB, 1024); err != nil {
		return err
	}
	if err := set(unix.RLIMIT_STACK, cfg.StackKiB, 1024); err != nil {
		return err
	}
	if err := set(unix.RLIMIT_MEMLOCK, cfg.LockedMemKiB, 1024); err != nil {
		return err
	}
	if cfg.Processes != nil {
		if err := set(unix.RLIMIT_NPROC, cfg.Processes, 1); err != nil {
			return err
		}
	}
	return nil
}
