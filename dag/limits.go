package dag

import "time"

// Limits describes the resource and sandbox constraints applied to a
// single Execution (spec.md §3 Execution "resource limits" and "sandbox
// constraints"). A nil numeric field means "unbounded" (None = ∞).
type Limits struct {
	CPUTime      *time.Duration
	SysTime      *time.Duration
	WallTime     *time.Duration
	MemoryKiB    *int64
	Processes    *int64
	OpenFiles    *int64
	FileSizeKiB  *int64
	StackKiB     *int64
	LockedMemKiB *int64

	ReadOnlyRoot      bool
	MountTmpfs        bool
	MountProc         bool
	ExtraReadableDirs []string
}

func durLEQ(a, b *time.Duration) bool {
	if a == nil {
		return b == nil
	}
	if b == nil {
		return true
	}
	return *a <= *b
}

func intLEQ(a, b *int64) bool {
	if a == nil {
		return b == nil
	}
	if b == nil {
		return true
	}
	return *a <= *b
}

func stringSetSubset(a, b []string) bool {
	set := make(map[string]struct{}, len(b))
	for _, s := range b {
		set[s] = struct{}{}
	}
	for _, s := range a {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}

// AtLeastAsStrict reports whether l is at least as strict as other, i.e.
// any execution that would succeed (or, symmetrically, any resource axis
// that would be exceeded) under l would do so under other as well. This
// implements the per-axis ordering from spec.md §4.B:
//
//   - every scalar limit satisfies l <= other, with nil meaning unbounded
//   - read_only: false->true increases strictness (true is stricter)
//   - mount_tmpfs: true->false increases strictness (false is stricter)
//   - extra_readable_dirs: removals increase strictness (subset is
//     stricter)
func (l Limits) AtLeastAsStrict(other Limits) bool {
	if !durLEQ(l.CPUTime, other.CPUTime) {
		return false
	}
	if !durLEQ(l.SysTime, other.SysTime) {
		return false
	}
	if !durLEQ(l.WallTime, other.WallTime) {
		return false
	}
	if !intLEQ(l.MemoryKiB, other.MemoryKiB) {
		return false
	}
	if !intLEQ(l.Processes, other.Processes) {
		return false
	}
	if !intLEQ(l.OpenFiles, other.OpenFiles) {
		return false
	}
	if !intLEQ(l.FileSizeKiB, other.FileSizeKiB) {
		return false
	}
	if !intLEQ(l.StackKiB, other.StackKiB) {
		return false
	}
	if !intLEQ(l.LockedMemKiB, other.LockedMemKiB) {
		return false
	}
	// read_only=true is the stricter state; l must be at least as
	// restrictive as other, so if other is read-only, l must be too.
	if other.ReadOnlyRoot && !l.ReadOnlyRoot {
		return false
	}
	// mount_tmpfs=false is the stricter state; if other has no tmpfs,
	// l must have no tmpfs either.
	if !other.MountTmpfs && l.MountTmpfs {
		return false
	}
	if !stringSetSubset(l.ExtraReadableDirs, other.ExtraReadableDirs) {
		return false
	}
	return true
}

// AtLeastAsLenient reports whether l is at least as lenient as other,
// i.e. other.AtLeastAsStrict(l).
func (l Limits) AtLeastAsLenient(other Limits) bool {
	return other.AtLeastAsStrict(l)
}

// Equal reports whether two Limits describe the same resource/sandbox
// configuration; used to deduplicate CacheEntry values recorded under
// identical limits (spec.md §4.B "Entries with identical limits are
// deduplicated on insert").
func (l Limits) Equal(other Limits) bool {
	return l.AtLeastAsStrict(other) && other.AtLeastAsStrict(l) && l.MountProc == other.MountProc
}
