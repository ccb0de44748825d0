package cache

import (
	"sort"

	"github.com/olimpiadi-informatica/task-maker-go/dag"
	"github.com/olimpiadi-informatica/task-maker-go/filekey"
)

// ResolvedInput pairs one of an execution's declared inputs with the
// FileKey it resolved to, for CacheKey computation.
type ResolvedInput struct {
	SandboxPath string
	Key         filekey.Key
	Executable  bool
}

// ComputeKey implements spec.md §3 "CacheKey": a deterministic function
// of command, argv, Some(stdin_key)?, sorted (sandbox-path, input_key,
// executable-bit) triples, and sorted (env-name, env-value) pairs.
// Ordering is lexicographic; the caller's input/env map iteration order
// must not affect the result (spec.md §8 property 1), which this
// function guarantees by sorting both sequences before mixing them.
func ComputeKey(ex dag.Execution, stdinKey *filekey.Key, inputs []ResolvedInput) filekey.Key {
	m := filekey.NewMixer()

	m.AddString(ex.Command.SystemPath)
	m.AddString(string(ex.Command.LocalFile))
	for _, a := range ex.Args {
		m.AddString(a)
	}

	if stdinKey != nil {
		m.AddBool(true)
		m.AddKey(*stdinKey)
	} else {
		m.AddBool(false)
	}

	sorted := append([]ResolvedInput(nil), inputs...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].SandboxPath < sorted[j].SandboxPath
	})
	m.AddString("inputs")
	for _, in := range sorted {
		m.AddString(in.SandboxPath)
		m.AddKey(in.Key)
		m.AddBool(in.Executable)
	}

	env := append([]dag.EnvVar(nil), ex.Env...)
	sort.Slice(env, func(i, j int) bool { return env[i].Name < env[j].Name })
	m.AddString("env")
	for _, e := range env {
		m.AddString(e.Name)
		m.AddString(e.Value)
	}

	inherit := append([]string(nil), ex.InheritEnv...)
	sort.Strings(inherit)
	m.AddString("inherit")
	for _, name := range inherit {
		m.AddString(name)
	}

	return m.Sum()
}
