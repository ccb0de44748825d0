package filekey

import "testing"

func TestSumDeterministic(t *testing.T) {
	a := Sum([]byte("hello world"))
	b := Sum([]byte("hello world"))
	if a != b {
		t.Fatalf("Sum is not deterministic: %s != %s", a, b)
	}
	c := Sum([]byte("hello worlD"))
	if a == c {
		t.Fatalf("distinct inputs produced the same key")
	}
}

func TestParseKeyRoundTrip(t *testing.T) {
	k := Sum([]byte("round trip"))
	parsed, err := ParseKey(k.String())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != k {
		t.Fatalf("round trip mismatch: %s != %s", parsed, k)
	}
}

func TestParseKeyRejectsGarbage(t *testing.T) {
	if _, err := ParseKey("not-hex"); err == nil {
		t.Fatal("expected error for malformed key")
	}
	if _, err := ParseKey("ab"); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestMixerFieldBoundary(t *testing.T) {
	m1 := NewMixer()
	m1.AddString("ab")
	m1.AddString("c")
	k1 := m1.Sum()

	m2 := NewMixer()
	m2.AddString("a")
	m2.AddString("bc")
	k2 := m2.Sum()

	if k1 == k2 {
		t.Fatal("length-prefixing failed to separate field boundaries")
	}
}

func TestMixerOrderSensitive(t *testing.T) {
	m1 := NewMixer()
	m1.AddString("x")
	m1.AddString("y")
	k1 := m1.Sum()

	m2 := NewMixer()
	m2.AddString("y")
	m2.AddString("x")
	k2 := m2.Sum()

	if k1 == k2 {
		t.Fatal("mixer order should matter; caller is responsible for sorting first")
	}
}
