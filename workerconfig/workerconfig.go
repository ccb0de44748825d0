// Package workerconfig parses the optional static worker-pool bootstrap
// file (SPEC_FULL.md "Supplemented features" #4): a YAML list of workers
// to dial automatically when the server starts, so an operator doesn't
// have to launch each worker process by hand.
package workerconfig

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// Worker describes one statically configured worker connection.
type Worker struct {
	// Address is the HOST:PORT the server should dial to reach this
	// worker's listener (workers in this mode listen rather than dial,
	// the reverse of the default --worker HOST:PORT attach flow, so the
	// server can reconnect if the link drops without operator action).
	Address string `json:"address"`
	// NumCores overrides the worker's self-reported core count, for
	// pools where the operator wants to under-provision a host.
	NumCores int `json:"numCores,omitempty"`
}

// List is the top-level shape of a worker-list YAML file.
type List struct {
	Workers []Worker `json:"workers"`
}

// Load reads and parses a worker-list file at path.
func Load(path string) (List, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return List{}, fmt.Errorf("workerconfig: reading %s: %w", path, err)
	}
	var l List
	if err := yaml.Unmarshal(b, &l); err != nil {
		return List{}, fmt.Errorf("workerconfig: parsing %s: %w", path, err)
	}
	for i, w := range l.Workers {
		if w.Address == "" {
			return List{}, fmt.Errorf("workerconfig: entry %d missing address", i)
		}
	}
	return l, nil
}
