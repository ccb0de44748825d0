package sandbox

import (
	"encoding/gob"
	"io"
)

// WriteConfig serializes cfg to w. The sandbox helper binary reads
// exactly one of these from stdin (spec.md §6 "a sandbox helper binary
// that reads exactly one serialized SandboxConfig from stdin"). Gob is
// used here rather than the wire protocol's framed Codec because this is
// a private, single-shot handoff between a worker and its own
// subprocess, not a network protocol -- the same encoding already used
// for the filestore/cache persistence files.
func WriteConfig(w io.Writer, cfg Config) error {
	return gob.NewEncoder(w).Encode(&cfg)
}

// ReadConfig deserializes a Config written by WriteConfig.
func ReadConfig(r io.Reader) (Config, error) {
	var cfg Config
	err := gob.NewDecoder(r).Decode(&cfg)
	return cfg, err
}

// WriteResult serializes res to w. The worker reads exactly one of these
// from the helper's stdout.
func WriteResult(w io.Writer, res Result) error {
	return gob.NewEncoder(w).Encode(&res)
}

// ReadResult deserializes a Result written by WriteResult.
func ReadResult(r io.Reader) (Result, error) {
	var res Result
	err := gob.NewDecoder(r).Decode(&res)
	return res, err
}
