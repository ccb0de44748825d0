package dag

import "testing"

func TestValidateAcceptsSimpleChain(t *testing.T) {
	d := New()
	in := NewFileId()
	d.ProvideContent(in, []byte("hi"))
	out := NewFileId()
	a := d.AddExecutionGroup(ExecutionGroup{Executions: []Execution{{
		Command: Command{SystemPath: "/bin/true"},
		Inputs:  []InputFile{{SandboxPath: "in", File: in}},
		Outputs: []OutputFile{{SandboxPath: "out", File: out}},
	}}})
	_ = a
	wire := d.Wire()
	if err := Validate(&wire); err != nil {
		t.Fatal(err)
	}
}

func TestValidateRejectsUnknownInput(t *testing.T) {
	d := New()
	unknown := NewFileId()
	d.AddExecutionGroup(ExecutionGroup{Executions: []Execution{{
		Command: Command{SystemPath: "/bin/true"},
		Inputs:  []InputFile{{SandboxPath: "in", File: unknown}},
	}}})
	wire := d.Wire()
	err := Validate(&wire)
	if err == nil {
		t.Fatal("expected a validation error")
	}
	ve, ok := err.(*ValidationError)
	if !ok || ve.Kind != ErrUnknownInput {
		t.Fatalf("expected ErrUnknownInput, got %v", err)
	}
}

func TestValidateRejectsDuplicateWriter(t *testing.T) {
	d := New()
	out := NewFileId()
	d.AddExecutionGroup(ExecutionGroup{Executions: []Execution{{
		Command: Command{SystemPath: "/bin/true"},
		Outputs: []OutputFile{{SandboxPath: "out", File: out}},
	}}})
	d.AddExecutionGroup(ExecutionGroup{Executions: []Execution{{
		Command: Command{SystemPath: "/bin/true"},
		Outputs: []OutputFile{{SandboxPath: "out2", File: out}},
	}}})
	wire := d.Wire()
	err := Validate(&wire)
	if err == nil {
		t.Fatal("expected a validation error")
	}
	ve, ok := err.(*ValidationError)
	if !ok || ve.Kind != ErrDuplicateOutputWriter {
		t.Fatalf("expected ErrDuplicateOutputWriter, got %v", err)
	}
}

func TestValidateRejectsCycle(t *testing.T) {
	d := New()
	fA := NewFileId()
	fB := NewFileId()

	aID := NewExecId()
	bID := NewExecId()
	d.Executions[aID] = ExecutionGroup{Executions: []Execution{{
		Command: Command{SystemPath: "/bin/true"},
		Inputs:  []InputFile{{SandboxPath: "in", File: fB}},
		Outputs: []OutputFile{{SandboxPath: "out", File: fA}},
	}}}
	d.Executions[bID] = ExecutionGroup{Executions: []Execution{{
		Command: Command{SystemPath: "/bin/true"},
		Inputs:  []InputFile{{SandboxPath: "in", File: fA}},
		Outputs: []OutputFile{{SandboxPath: "out", File: fB}},
	}}}

	wire := d.Wire()
	err := Validate(&wire)
	if err == nil {
		t.Fatal("expected a cycle validation error")
	}
	ve, ok := err.(*ValidationError)
	if !ok || ve.Kind != ErrCycle {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
}
