package dag

import "fmt"

// ValidationError is returned by Validate and identifies which spec.md §3
// invariant was violated (§7 "DAG validation error").
type ValidationError struct {
	Kind ValidationErrorKind
	Msg  string
}

func (e *ValidationError) Error() string { return e.Msg }

// ValidationErrorKind classifies a ValidationError.
type ValidationErrorKind int

const (
	ErrUnknownInput ValidationErrorKind = iota
	ErrDuplicateOutputWriter
	ErrCycle
)

func errUnknownInput(execID ExecId, file FileId) error {
	return &ValidationError{Kind: ErrUnknownInput, Msg: fmt.Sprintf(
		"execution %s reads file %s which is neither provided nor produced", execID, file)}
}

func errDuplicateWriter(file FileId, a, b ExecId) error {
	return &ValidationError{Kind: ErrDuplicateOutputWriter, Msg: fmt.Sprintf(
		"file %s is produced by both %s and %s", file, a, b)}
}

func errCycle(path []ExecId) error {
	return &ValidationError{Kind: ErrCycle, Msg: fmt.Sprintf("execution dependency cycle: %v", path)}
}

// Validate checks the three invariants from spec.md §3/§4.C:
//  1. every input FileId is known (provided, or produced upstream)
//  2. every output FileId is produced by exactly one execution
//     (single-writer)
//  3. the "input depends on output" relation is acyclic
func Validate(d *ExecutionDAG) error {
	producer := make(map[FileId]ExecId, len(d.Executions))
	for execID, group := range d.Executions {
		for _, ex := range group.Executions {
			for _, out := range ex.Outputs {
				if other, ok := producer[out.File]; ok && other != execID {
					return errDuplicateWriter(out.File, other, execID)
				}
				producer[out.File] = execID
			}
		}
	}

	for execID, group := range d.Executions {
		for _, ex := range group.Executions {
			check := func(f FileId) error {
				if f == "" {
					return nil
				}
				if _, ok := d.ProvidedFiles[f]; ok {
					return nil
				}
				if _, ok := producer[f]; ok {
					return nil
				}
				return errUnknownInput(execID, f)
			}
			if err := check(ex.Stdin); err != nil {
				return err
			}
			for _, in := range ex.Inputs {
				if err := check(in.File); err != nil {
					return err
				}
			}
		}
	}

	return checkAcyclic(d, producer)
}

// dependencies returns the set of ExecIds that execID directly depends
// on, i.e. the producers of everything execID reads.
func dependencies(group ExecutionGroup, producer map[FileId]ExecId, self ExecId) map[ExecId]struct{} {
	deps := make(map[ExecId]struct{})
	add := func(f FileId) {
		if f == "" {
			return
		}
		if p, ok := producer[f]; ok && p != self {
			deps[p] = struct{}{}
		}
	}
	for _, ex := range group.Executions {
		add(ex.Stdin)
		for _, in := range ex.Inputs {
			add(in.File)
		}
	}
	return deps
}

func checkAcyclic(d *ExecutionDAG, producer map[FileId]ExecId) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[ExecId]int, len(d.Executions))
	var path []ExecId

	var visit func(id ExecId) error
	visit = func(id ExecId) error {
		switch color[id] {
		case black:
			return nil
		case gray:
			return errCycle(append(append([]ExecId{}, path...), id))
		}
		color[id] = gray
		path = append(path, id)
		for dep := range dependencies(d.Executions[id], producer, id) {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return nil
	}

	for id := range d.Executions {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}
