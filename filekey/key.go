// Package filekey implements the content-addressing primitives shared by
// the file store, the execution cache and the DAG model: FileKey (a digest
// over file bytes) and CacheKey (a digest over an execution's fingerprint).
//
// Keys are fixed-width 32-byte values computed from four independent
// xxhash lanes (distinct seeds) rather than a single 64-bit hash, which
// widens the collision space to the same class as a cryptographic digest
// while staying on the fast non-cryptographic hash already used elsewhere
// in the corpus for content fingerprints.
package filekey

import (
	"encoding/hex"
	"errors"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Size is the width, in bytes, of a Key.
const Size = 32

// lane seeds; arbitrary but fixed so that Key values are reproducible
// across processes and across restarts.
var laneSeeds = [4]uint64{
	0x9e3779b97f4a7c15,
	0xc2b2ae3d27d4eb4f,
	0x165667b19e3779f9,
	0x27d4eb2f165667c5,
}

// Key is a content or execution-fingerprint digest.
type Key [Size]byte

// String returns the lowercase hex encoding of k.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// IsZero reports whether k is the zero value.
func (k Key) IsZero() bool {
	return k == Key{}
}

// ErrBadKey is returned by ParseKey when the input is not a valid
// hex-encoded Key.
var ErrBadKey = errors.New("filekey: malformed key")

// ParseKey parses the hex encoding produced by Key.String.
func ParseKey(s string) (Key, error) {
	var k Key
	if len(s) != Size*2 {
		return k, ErrBadKey
	}
	n, err := hex.Decode(k[:], []byte(s))
	if err != nil || n != Size {
		return Key{}, ErrBadKey
	}
	return k, nil
}

// Hasher incrementally computes a Key from a byte stream, mirroring the
// io.Writer shape of hash.Hash so it can be used as the destination of an
// io.Copy while content is being streamed into the file store.
type Hasher struct {
	lanes [4]*xxhash.Digest
}

// NewHasher returns a ready-to-use Hasher.
func NewHasher() *Hasher {
	h := &Hasher{}
	for i, seed := range laneSeeds {
		h.lanes[i] = xxhash.NewWithSeed(seed)
	}
	return h
}

// Write implements io.Writer.
func (h *Hasher) Write(p []byte) (int, error) {
	for _, l := range h.lanes {
		// xxhash.Digest.Write never fails
		_, _ = l.Write(p)
	}
	return len(p), nil
}

// Sum returns the final 32-byte Key for everything written so far.
// Sum does not reset the Hasher.
func (h *Hasher) Sum() Key {
	var k Key
	for i, l := range h.lanes {
		putUint64(k[i*8:(i+1)*8], l.Sum64())
	}
	return k
}

func putUint64(dst []byte, v uint64) {
	_ = dst[7]
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
	dst[4] = byte(v >> 32)
	dst[5] = byte(v >> 40)
	dst[6] = byte(v >> 48)
	dst[7] = byte(v >> 56)
}

// Sum computes the Key of a single in-memory byte slice.
func Sum(b []byte) Key {
	h := NewHasher()
	_, _ = h.Write(b)
	return h.Sum()
}

// Mixer builds a digest out of an ordered sequence of fields, used to
// compute CacheKey (spec.md §3 CacheKey, §8 property 1). The digest
// depends on the order of the Add* calls, so callers sort fields drawn
// from maps before adding them.
//
// AddString and AddBytes prefix the field's bytes with their length, so
// that e.g. the two-field sequence ("ab","c") cannot collide with
// ("a","bc"); AddKey writes the fixed-width key bytes as they are.
type Mixer struct {
	h *Hasher
}

// NewMixer returns a ready-to-use Mixer.
func NewMixer() *Mixer {
	return &Mixer{h: NewHasher()}
}

func (m *Mixer) addLen(n int) {
	var b [8]byte
	putUint64(b[:], uint64(n))
	_, _ = m.h.Write(b[:])
}

// AddString mixes a length-prefixed string into the digest.
func (m *Mixer) AddString(s string) {
	m.addLen(len(s))
	_, _ = m.h.Write([]byte(s))
}

// AddBytes mixes a length-prefixed byte slice into the digest.
func (m *Mixer) AddBytes(b []byte) {
	m.addLen(len(b))
	_, _ = m.h.Write(b)
}

// AddBool mixes a single boolean into the digest.
func (m *Mixer) AddBool(b bool) {
	if b {
		m.AddString("T")
	} else {
		m.AddString("F")
	}
}

// AddKey mixes an existing Key (e.g. a FileKey) into the digest.
func (m *Mixer) AddKey(k Key) {
	_, _ = m.h.Write(k[:])
}

// Sum returns the final Key.
func (m *Mixer) Sum() Key {
	return m.h.Sum()
}

// SortStrings sorts a slice of strings in place; exposed so callers that
// need a deterministic field order (e.g. environment variable names) don't
// each re-import "sort".
func SortStrings(s []string) {
	sort.Strings(s)
}
