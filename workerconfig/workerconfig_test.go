package workerconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workers.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadParsesWorkerList(t *testing.T) {
	path := writeTemp(t, `
workers:
  - address: 10.0.0.1:9000
    numCores: 4
  - address: 10.0.0.2:9000
`)
	l, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(l.Workers) != 2 {
		t.Fatalf("expected 2 workers, got %d", len(l.Workers))
	}
	if l.Workers[0].NumCores != 4 {
		t.Fatalf("expected NumCores 4, got %d", l.Workers[0].NumCores)
	}
	if l.Workers[1].NumCores != 0 {
		t.Fatalf("expected NumCores 0 default, got %d", l.Workers[1].NumCores)
	}
}

func TestLoadRejectsMissingAddress(t *testing.T) {
	path := writeTemp(t, `
workers:
  - numCores: 2
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a worker entry with no address")
	}
}

func TestLoadReportsUnreadableFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
