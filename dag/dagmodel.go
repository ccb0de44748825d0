package dag

import "io"

// ProvidedFile describes a client-provided input: either an inline byte
// slice, or a path to a local file to be hashed and streamed in.
type ProvidedFile struct {
	LocalPath string
	Content   []byte // used when LocalPath == ""
}

// Open returns a reader over the provided file's content, regardless of
// whether it was registered via a local path or inline bytes.
func (p ProvidedFile) Open(openLocal func(path string) (io.ReadCloser, error)) (io.ReadCloser, error) {
	if p.LocalPath != "" {
		return openLocal(p.LocalPath)
	}
	return io.NopCloser(&sliceReader{b: p.Content}), nil
}

type sliceReader struct{ b []byte }

func (r *sliceReader) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.b)
	r.b = r.b[n:]
	return n, nil
}

// ExecutionDAG is the wire-portion of a client's DAG submission (spec.md
// §3 "ExecutionDAG"): everything needed to execute the DAG, with no
// client-side callbacks. Callbacks live in DAG, which embeds this.
type ExecutionDAG struct {
	ProvidedFiles map[FileId]ProvidedFile
	Executions    map[ExecId]ExecutionGroup
	Config        Config
}
