package dag

// ExecutionGroup is an ordered list of Executions that must be
// co-scheduled on a single worker and may share named FIFOs (spec.md §3
// "ExecutionGroup"). The group, not the individual Execution, is the unit
// of dispatch (spec.md §4.G).
type ExecutionGroup struct {
	Executions []Execution

	// Fifos lists the named FIFOs the worker must create in the
	// group's sandbox working directory before starting any
	// execution in the group (spec.md §4.F step 3).
	Fifos []FifoId
}

// CacheMode controls which executions within a DAG are eligible for a
// cache lookup (spec.md §4.G).
type CacheMode struct {
	// Mode selects the overall policy.
	Mode CacheModeKind
	// ExceptTags is consulted only when Mode == CacheExceptTags: an
	// execution is still cache-eligible unless its Tag is in this set.
	ExceptTags map[string]struct{}
}

// CacheModeKind enumerates the three cache policies from spec.md §4.G.
type CacheModeKind int

const (
	CacheEverything CacheModeKind = iota
	CacheNothing
	CacheExceptTags
)

// Eligible reports whether an execution with the given tag should be
// looked up in the cache under this mode.
func (c CacheMode) Eligible(tag string) bool {
	switch c.Mode {
	case CacheEverything:
		return true
	case CacheNothing:
		return false
	case CacheExceptTags:
		_, excluded := c.ExceptTags[tag]
		return !excluded
	default:
		return true
	}
}

// Config holds DAG-level configuration (spec.md §3 "ExecutionDAG").
type Config struct {
	KeepSandboxes bool
	DryRun        bool
	CacheMode     CacheMode
	ExtraTime     float64 // fraction added as grace to cpu/wall limits, e.g. 0.5 = +50%
	CopyExe       bool
	CopyLogs      bool
	// PriorityBias is added to every execution's declared priority
	// before it is inserted into the scheduler's ready queue,
	// supplementing spec.md §3's ExecutionDAG config (see
	// SPEC_FULL.md "Supplemented features" #2).
	PriorityBias int
}
