package proto

import (
	"encoding/gob"
	"fmt"
	"net"
	"sync"
)

// handshakeMagic identifies this protocol on a fresh connection, mirroring
// the fixed magic-prefixed handshake tenant/tnproto uses before switching
// a net.Conn into its own framing.
const handshakeMagic = "TASKMAKERWIREV1\x00"

// Role is the first thing written on a new connection, telling the
// remote end which of the two peer-to-peer roles it is.
type Role byte

const (
	RoleClient Role = iota
	RoleWorker
)

// Handshake writes the magic + role on a freshly dialed connection.
func Handshake(conn net.Conn, role Role) error {
	buf := append([]byte(handshakeMagic), byte(role))
	_, err := conn.Write(buf)
	return err
}

// ReadHandshake reads and validates the magic + role written by
// Handshake, as the accepting side of a connection.
func ReadHandshake(conn net.Conn) (Role, error) {
	buf := make([]byte, len(handshakeMagic)+1)
	if _, err := fullRead(conn, buf); err != nil {
		return 0, err
	}
	if string(buf[:len(handshakeMagic)]) != handshakeMagic {
		return 0, fmt.Errorf("proto: bad handshake magic")
	}
	return Role(buf[len(handshakeMagic)]), nil
}

func fullRead(conn net.Conn, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := conn.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// Codec frames messages over a net.Conn using gob: each Encode/Decode
// call is already self-delimited in gob's wire format, which satisfies
// spec.md §4.D's "length-prefixed, preserve message boundaries"
// requirement without separate bookkeeping, the same way net/rpc's
// built-in gob codec works. Writes and reads are each serialized by their
// own mutex so the file sub-protocol's Data/End sequence can never be
// interleaved with an unrelated message from a concurrent goroutine.
type Codec struct {
	conn net.Conn
	enc  *gob.Encoder
	dec  *gob.Decoder

	wmu sync.Mutex
	rmu sync.Mutex
}

// NewCodec wraps conn. The caller is responsible for the initial
// Handshake/ReadHandshake exchange before using the Codec.
func NewCodec(conn net.Conn) *Codec {
	return &Codec{conn: conn, enc: gob.NewEncoder(conn), dec: gob.NewDecoder(conn)}
}

// Close closes the underlying connection.
func (c *Codec) Close() error { return c.conn.Close() }

func (c *Codec) send(v interface{}) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.enc.Encode(v)
}

func (c *Codec) recv(v interface{}) error {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	return c.dec.Decode(v)
}

// SendClient sends a ClientMessage (used by a client dialing the server).
func (c *Codec) SendClient(m ClientMessage) error { return c.send(&m) }

// RecvClient reads a ClientMessage (used by the server's per-client loop).
func (c *Codec) RecvClient() (ClientMessage, error) {
	var m ClientMessage
	err := c.recv(&m)
	return m, err
}

// SendServer sends a ServerMessage (used by the server's per-client loop).
func (c *Codec) SendServer(m ServerMessage) error { return c.send(&m) }

// RecvServer reads a ServerMessage (used by a client).
func (c *Codec) RecvServer() (ServerMessage, error) {
	var m ServerMessage
	err := c.recv(&m)
	return m, err
}

// SendWorker sends a WorkerMessage (used by a worker).
func (c *Codec) SendWorker(m WorkerMessage) error { return c.send(&m) }

// RecvWorker reads a WorkerMessage (used by the server's worker manager).
func (c *Codec) RecvWorker() (WorkerMessage, error) {
	var m WorkerMessage
	err := c.recv(&m)
	return m, err
}

// SendSched sends a SchedMessage (used by the server's worker manager).
func (c *Codec) SendSched(m SchedMessage) error { return c.send(&m) }

// RecvSched reads a SchedMessage (used by a worker).
func (c *Codec) RecvSched() (SchedMessage, error) {
	var m SchedMessage
	err := c.recv(&m)
	return m, err
}

// Lock acquires the write lock for the duration of a file sub-protocol
// session, so SendFileChunk/SendFileEnd calls from the same goroutine
// are not interleaved with an unrelated Send from another goroutine.
// Callers must pair every Lock with Unlock.
func (c *Codec) Lock()   { c.wmu.Lock() }
func (c *Codec) Unlock() { c.wmu.Unlock() }

// RLock/RUnlock are the read-side equivalent, used while receiving a file
// sub-protocol session.
func (c *Codec) RLock()   { c.rmu.Lock() }
func (c *Codec) RUnlock() { c.rmu.Unlock() }

func (c *Codec) sendLocked(v interface{}) error { return c.enc.Encode(v) }
func (c *Codec) recvLocked(v interface{}) error { return c.dec.Decode(v) }
