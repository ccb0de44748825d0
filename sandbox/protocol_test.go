package sandbox

import (
	"bytes"
	"testing"
)

func TestConfigRoundTrip(t *testing.T) {
	cfg := Config{
		WorkDir:    "/tmp/work",
		Executable: "/usr/bin/g++",
		Args:       []string{"-O2", "main.cpp"},
		Env:        []string{"PATH=/usr/bin"},
		ExtraTime:  0.5,
	}
	var buf bytes.Buffer
	if err := WriteConfig(&buf, cfg); err != nil {
		t.Fatal(err)
	}
	got, err := ReadConfig(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Executable != cfg.Executable || len(got.Args) != len(cfg.Args) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestResultRoundTrip(t *testing.T) {
	res := Result{Status: Status{Kind: ExitCode, Code: 3}}
	var buf bytes.Buffer
	if err := WriteResult(&buf, res); err != nil {
		t.Fatal(err)
	}
	got, err := ReadResult(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status.Kind != ExitCode || got.Status.Code != 3 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestValidateExecutableRejectsMissingPath(t *testing.T) {
	if err := validateExecutable("/nonexistent-path-xyz"); err == nil {
		t.Fatal("expected an error for a missing path")
	}
}
