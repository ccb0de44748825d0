package sched

import (
	"github.com/olimpiadi-informatica/task-maker-go/cache"
	"github.com/olimpiadi-informatica/task-maker-go/dag"
	"github.com/olimpiadi-informatica/task-maker-go/filekey"
	"github.com/olimpiadi-informatica/task-maker-go/filestore"
)

// groupCacheLookup is the outcome of consulting the cache for one
// execution within a group.
type groupCacheLookup struct {
	entry   cache.Entry
	handles []*filestore.Handle
}

// tryCacheHitLocked implements spec.md §4.G's cache-consultation rule:
// consult the cache for every execution in the group that the DAG's
// cache mode makes eligible; a partial hit (some eligible executions hit,
// others miss or are ineligible) is treated as a full miss for the whole
// group, and any handles pinned during the attempt are released. Must be
// called with s.mu held.
func (s *Scheduler) tryCacheHitLocked(sess *session, exec dag.ExecId) bool {
	group := sess.group(exec)
	mode := sess.d.Config.CacheMode

	hits := make([]groupCacheLookup, len(group.Executions))
	var allHandles []*filestore.Handle
	ok := true
	for i, ex := range group.Executions {
		if !mode.Eligible(ex.Tag) {
			ok = false
			break
		}
		key := computeExecCacheKey(sess, ex)
		res, found := s.cache.Lookup(key, ex.Limits, s.store)
		if !found {
			ok = false
			break
		}
		hits[i] = groupCacheLookup{entry: res.Entry, handles: res.Handles}
		allHandles = append(allHandles, res.Handles...)
	}

	if !ok {
		for _, h := range allHandles {
			h.Drop()
		}
		return false
	}

	s.applyCacheHitLocked(sess, exec, group, hits)
	return true
}

func computeExecCacheKey(sess *session, ex dag.Execution) filekey.Key {
	var stdinKey *filekey.Key
	if ex.Stdin != "" {
		k := sess.resolved[ex.Stdin]
		stdinKey = &k
	}
	inputs := make([]cache.ResolvedInput, len(ex.Inputs))
	for i, in := range ex.Inputs {
		inputs[i] = cache.ResolvedInput{
			SandboxPath: in.SandboxPath,
			Key:         sess.resolved[in.File],
			Executable:  in.Executable,
		}
	}
	return cache.ComputeKey(ex, stdinKey, inputs)
}

// applyCacheHitLocked synthesizes the start and done events (the start
// with an empty WorkerId) for a group that was
// entirely served from cache: every declared output is resolved from the
// cached entry's Outputs map and promoted downstream exactly as if a
// worker had just produced it.
func (s *Scheduler) applyCacheHitLocked(sess *session, exec dag.ExecId, group dag.ExecutionGroup, hits []groupCacheLookup) {
	sess.events.NotifyStart(exec, "")
	for i, ex := range group.Executions {
		hit := hits[i]
		result := hit.entry.Result
		result.WasCached = true
		sess.events.NotifyDone(exec, result)

		for _, out := range ex.Outputs {
			key, produced := hit.entry.Outputs[out.SandboxPath]
			s.resolveFileLocked(sess, out.File, key, produced && result.Status == dag.StatusSuccess)
		}
	}
	if sess.markDone(exec) && sess.finished() {
		s.finishSessionLocked(sess)
	}
}
