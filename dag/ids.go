// Package dag implements the client-facing DAG builder and the typed
// graph of executions and files described in spec.md §3 / §4.C. A DAG is
// split into a "wire portion" (everything that can be serialized and sent
// to the executor, see DAG.Wire) and a "local portion" (the client-side
// callbacks in §4.C, which never leave this process).
package dag

import "github.com/google/uuid"

// FileId identifies a file: either one provided by the client or one
// produced by an execution's output slot. FileId values are unique and
// randomly generated at DAG-build time (spec.md §3 "Lifecycle").
type FileId string

// NewFileId returns a fresh, random FileId.
func NewFileId() FileId {
	return FileId(uuid.NewString())
}

// ExecId identifies one ExecutionGroup within a DAG.
type ExecId string

// NewExecId returns a fresh, random ExecId.
func NewExecId() ExecId {
	return ExecId(uuid.NewString())
}

// FifoId identifies a named FIFO shared between executions within a
// single ExecutionGroup (spec.md §3 ExecutionGroup, §4.F step 3).
type FifoId string

// NewFifoId returns a fresh, random FifoId.
func NewFifoId() FifoId {
	return FifoId(uuid.NewString())
}
