package sandbox

import (
	"github.com/olimpiadi-informatica/task-maker-go/dag"
)

// MapStatus implements the status-mapping rule from spec.md §4.E,
// applied by the worker (not the sandbox) because limit checks may
// escalate a lower-level signal into a resource-limit status: usage is
// compared against limits in order (cpu, sys, wall, memory), and an
// exceeded limit overrides any raw signal/exit code. Absent any exceeded
// limit, Killed maps to WallTimeLimitExceeded, a raw signal to Signal,
// ExitCode(0) to Success, and any other exit code to ReturnCode.
func MapStatus(res Result, limits dag.Limits) dag.ExecutionResult {
	out := dag.ExecutionResult{
		WasKilled: res.Status.Kind == Killed,
		Usage: dag.ResourceUsage{
			UserCPU:   res.Usage.UserCPU.Milliseconds(),
			SysCPU:    res.Usage.SysCPU.Milliseconds(),
			Wall:      res.Usage.Wall.Milliseconds(),
			MemoryKiB: res.Usage.PeakKiB,
		},
	}

	switch {
	case limits.CPUTime != nil && res.Usage.UserCPU > *limits.CPUTime:
		out.Status = dag.StatusTimeLimitExceeded
		return out
	case limits.SysTime != nil && res.Usage.SysCPU > *limits.SysTime:
		out.Status = dag.StatusSysTimeLimitExceeded
		return out
	case limits.WallTime != nil && res.Usage.Wall > *limits.WallTime:
		out.Status = dag.StatusWallTimeLimitExceeded
		return out
	case limits.MemoryKiB != nil && res.Usage.PeakKiB > *limits.MemoryKiB:
		out.Status = dag.StatusMemoryLimitExceeded
		return out
	}

	switch res.Status.Kind {
	case Signaled:
		out.Status = dag.StatusSignal
		out.SignalNum = res.Status.Sig
		out.SignalName = signalName(res.Status.Sig)
	case Killed:
		out.Status = dag.StatusWallTimeLimitExceeded
	case ExitCode:
		if res.Status.Code == 0 {
			out.Status = dag.StatusSuccess
		} else {
			out.Status = dag.StatusReturnCode
			out.ReturnCode = res.Status.Code
		}
	}
	return out
}
