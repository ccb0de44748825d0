package fuzzsubmit

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/olimpiadi-informatica/task-maker-go/dag"
)

func TestGenerateDAGValidates(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		d := generateDAG(rng, false)
		wire := d.Wire()
		require.NoError(t, dag.Validate(&wire), "seed round %d produced an invalid DAG", i)
	}
}

func TestGenerateDAGChainsOnPreviousStageOutputs(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	d := generateDAG(rng, true)
	require.True(t, d.Config.KeepSandboxes)

	wire := d.Wire()
	require.NotEmpty(t, wire.Executions)

	produced := make(map[dag.FileId]bool)
	for _, g := range wire.Executions {
		for _, e := range g.Executions {
			for _, out := range e.Outputs {
				produced[out.File] = true
			}
		}
	}
	for _, g := range wire.Executions {
		for _, e := range g.Executions {
			for _, in := range e.Inputs {
				_, provided := wire.ProvidedFiles[in.File]
				require.True(t, produced[in.File] || provided,
					"input %s is neither provided nor produced by an earlier stage", in.File)
			}
		}
	}
}
