// Package fuzzsubmit drives randomized DAGs against a running server and
// checks them against the testable properties in spec.md §8: every
// watched execution's event sequence matches Pending? Started
// (Done|Skipped), and no execution is reported Skipped after it Started.
// It does not check which executions are skipped: a dependent of a failed
// execution that is reported Done is not flagged.
package fuzzsubmit

import (
	"fmt"
	"math/rand"
	"net"

	"github.com/olimpiadi-informatica/task-maker-go/dag"
	"github.com/olimpiadi-informatica/task-maker-go/proto"
)

// Report summarizes one fuzzing run.
type Report struct {
	Rounds     int
	Executions int
	Failures   []string
}

// Run dials addr as a client, submits Rounds randomized DAGs in sequence,
// and returns a Report describing any invariant violation found. A
// non-empty Report.Failures does not stop the run early; every round is
// attempted so a single bad round doesn't hide others.
func Run(addr string, rounds int, seed int64, keepSandboxes bool) (Report, error) {
	rng := rand.New(rand.NewSource(seed))
	report := Report{Rounds: rounds}

	for i := 0; i < rounds; i++ {
		d := generateDAG(rng, keepSandboxes)
		n, failures, err := submitAndCheck(addr, d)
		if err != nil {
			return report, fmt.Errorf("round %d: %w", i, err)
		}
		report.Executions += n
		for _, f := range failures {
			report.Failures = append(report.Failures, fmt.Sprintf("round %d: %s", i, f))
		}
	}
	return report, nil
}

// generateDAG builds a random chain-with-branches DAG: a sequence of
// "stages", each stage's executions consuming every file produced by the
// previous stage, with a one-in-five chance that a stage's execution
// fails (via /bin/false) to exercise skip propagation.
func generateDAG(rng *rand.Rand, keepSandboxes bool) *dag.DAG {
	d := dag.New()
	d.Config.KeepSandboxes = keepSandboxes

	stages := 1 + rng.Intn(4)
	width := 1 + rng.Intn(3)

	prevOutputs := make([]dag.FileId, width)
	for i := range prevOutputs {
		in := dag.NewFileId()
		d.ProvideContent(in, []byte("seed"))
		prevOutputs[i] = in
	}

	for s := 0; s < stages; s++ {
		nextOutputs := make([]dag.FileId, 0, width)
		for w := 0; w < width; w++ {
			exec := dag.Execution{
				Description: fmt.Sprintf("stage%d-%d", s, w),
				Priority:    rng.Intn(10),
			}
			fails := rng.Intn(5) == 0
			if fails {
				exec.Command = dag.Command{SystemPath: "/bin/false"}
			} else {
				exec.Command = dag.Command{SystemPath: "/bin/true"}
			}
			for j, in := range prevOutputs {
				exec.Inputs = append(exec.Inputs, dag.InputFile{
					SandboxPath: fmt.Sprintf("in%d", j),
					File:        in,
				})
			}
			out := dag.NewFileId()
			exec.Outputs = []dag.OutputFile{{SandboxPath: "out", File: out}}
			d.AddExecutionGroup(dag.ExecutionGroup{Executions: []dag.Execution{exec}})
			nextOutputs = append(nextOutputs, out)
		}
		prevOutputs = nextOutputs
	}
	return d
}

type observed struct {
	started bool
	done    bool
	skipped bool
}

// submitAndCheck submits d over a fresh connection and validates the
// ordering and skip-propagation properties, returning the number of
// executions seen and any violations found.
func submitAndCheck(addr string, d *dag.DAG) (int, []string, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return 0, nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	defer conn.Close()

	if err := proto.Handshake(conn, proto.RoleClient); err != nil {
		return 0, nil, fmt.Errorf("handshake: %w", err)
	}
	codec := proto.NewCodec(conn)
	defer codec.Close()

	wire := d.Wire()
	watch := proto.NewWatchSet()
	for id := range wire.Executions {
		watch.Execs[id] = struct{}{}
	}

	if err := codec.SendClient(proto.ClientMessage{
		Kind:     proto.ClientEvaluate,
		Evaluate: &proto.EvaluateMsg{DAG: wire, Watch: watch},
	}); err != nil {
		return 0, nil, fmt.Errorf("sending evaluate: %w", err)
	}

	seen := make(map[dag.ExecId]*observed, len(wire.Executions))
	for id := range wire.Executions {
		seen[id] = &observed{}
	}

	var failures []string
	note := func(msg string) { failures = append(failures, msg) }

	for {
		msg, err := codec.RecvServer()
		if err != nil {
			return len(seen), failures, fmt.Errorf("receiving: %w", err)
		}
		switch msg.Kind {
		case proto.ServerNotifyStart:
			o := seen[msg.NotifyStart.Exec]
			if o == nil {
				continue
			}
			if o.started || o.done || o.skipped {
				note(fmt.Sprintf("exec %s: Started after a terminal/duplicate event", msg.NotifyStart.Exec))
			}
			o.started = true
		case proto.ServerNotifyDone:
			o := seen[msg.NotifyDone.Exec]
			if o == nil {
				continue
			}
			if !o.started {
				note(fmt.Sprintf("exec %s: Done without a preceding Started", msg.NotifyDone.Exec))
			}
			if o.done || o.skipped {
				note(fmt.Sprintf("exec %s: more than one terminal event", msg.NotifyDone.Exec))
			}
			o.done = true
		case proto.ServerNotifySkip:
			o := seen[*msg.NotifySkip]
			if o == nil {
				continue
			}
			if o.started {
				note(fmt.Sprintf("exec %s: Skipped after Started", *msg.NotifySkip))
			}
			if o.done || o.skipped {
				note(fmt.Sprintf("exec %s: more than one terminal event", *msg.NotifySkip))
			}
			o.skipped = true
		case proto.ServerAskFile:
			// generateDAG never registers a LocalPath provided file, so
			// this should never arrive; flag it rather than hang.
			note(fmt.Sprintf("unexpected AskFile for %s on an all-inline DAG", *msg.AskFile))
		case proto.ServerProvideFile:
			drainFile(codec)
		case proto.ServerError:
			return len(seen), failures, fmt.Errorf("server rejected DAG: %s", msg.Error)
		case proto.ServerDone:
			for id, o := range seen {
				if !o.done && !o.skipped {
					note(fmt.Sprintf("exec %s: no terminal event by Done", id))
				}
			}
			if err := codec.SendClient(proto.ClientMessage{Kind: proto.ClientStop}); err != nil {
				return len(seen), failures, err
			}
			return len(seen), failures, nil
		}
	}
}

// drainFile reads and discards one file sub-protocol session so the
// codec is ready for the next normal message (spec.md §8 property 9).
func drainFile(codec *proto.Codec) {
	codec.RecvFile(discard{})
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
