package dag

import (
	"testing"
	"time"
)

func dur(d time.Duration) *time.Duration { return &d }

func TestLimitsAtLeastAsStrictScalar(t *testing.T) {
	cached := Limits{CPUTime: dur(time.Second)}
	looser := Limits{CPUTime: dur(2 * time.Second)}
	tighter := Limits{CPUTime: dur(500 * time.Millisecond)}

	if !cached.AtLeastAsStrict(looser) {
		t.Fatal("1s cached should be at least as strict as a 2s new limit")
	}
	if cached.AtLeastAsStrict(tighter) {
		t.Fatal("1s cached should NOT be at least as strict as a 500ms new limit")
	}
}

func TestLimitsNoneIsUnbounded(t *testing.T) {
	unbounded := Limits{}
	bounded := Limits{CPUTime: dur(time.Second)}
	if !bounded.AtLeastAsStrict(unbounded) {
		t.Fatal("any finite cached limit should be at least as strict as unbounded")
	}
	if unbounded.AtLeastAsStrict(bounded) {
		t.Fatal("unbounded cached limit should not be at least as strict as a finite one")
	}
}

func TestLimitsReadOnlyStrictness(t *testing.T) {
	ro := Limits{ReadOnlyRoot: true}
	rw := Limits{ReadOnlyRoot: false}
	if !ro.AtLeastAsStrict(rw) {
		t.Fatal("read-only should be at least as strict as read-write")
	}
	if rw.AtLeastAsStrict(ro) {
		t.Fatal("read-write should not be at least as strict as read-only")
	}
}

func TestLimitsTmpfsStrictness(t *testing.T) {
	noTmp := Limits{MountTmpfs: false}
	withTmp := Limits{MountTmpfs: true}
	if !noTmp.AtLeastAsStrict(withTmp) {
		t.Fatal("no tmpfs should be at least as strict as mounting tmpfs")
	}
	if withTmp.AtLeastAsStrict(noTmp) {
		t.Fatal("mounting tmpfs should not be at least as strict as no tmpfs")
	}
}

func TestLimitsExtraDirsStrictness(t *testing.T) {
	fewer := Limits{ExtraReadableDirs: []string{"/opt/a"}}
	more := Limits{ExtraReadableDirs: []string{"/opt/a", "/opt/b"}}
	if !fewer.AtLeastAsStrict(more) {
		t.Fatal("fewer extra readable dirs should be at least as strict")
	}
	if more.AtLeastAsStrict(fewer) {
		t.Fatal("more extra readable dirs should not be at least as strict")
	}
}
