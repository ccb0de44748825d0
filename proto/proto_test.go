package proto

import (
	"bytes"
	"net"
	"testing"

	"github.com/olimpiadi-informatica/task-maker-go/dag"
	"github.com/olimpiadi-informatica/task-maker-go/filekey"
)

func pipeCodecs() (*Codec, *Codec, func()) {
	a, b := net.Pipe()
	return NewCodec(a), NewCodec(b), func() { a.Close(); b.Close() }
}

func TestClientServerMessageRoundTrip(t *testing.T) {
	client, server, closeFn := pipeCodecs()
	defer closeFn()

	go func() {
		_ = client.SendClient(ClientMessage{
			Kind:     ClientEvaluate,
			Evaluate: &EvaluateMsg{DAG: dag.ExecutionDAG{}, Watch: NewWatchSet()},
		})
	}()

	got, err := server.RecvClient()
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != ClientEvaluate || got.Evaluate == nil {
		t.Fatalf("unexpected message: %+v", got)
	}
}

func TestFileSubProtocolRoundTrip(t *testing.T) {
	sender, receiver, closeFn := pipeCodecs()
	defer closeFn()

	payload := bytes.Repeat([]byte("x"), fileChunkSize+17)

	errc := make(chan error, 1)
	go func() { errc <- sender.SendFile(bytes.NewReader(payload)) }()

	var got bytes.Buffer
	if err := receiver.RecvFile(&got); err != nil {
		t.Fatal(err)
	}
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Bytes(), payload) {
		t.Fatal("round-tripped file bytes do not match")
	}
}

func TestFileSubProtocolDoesNotInterleave(t *testing.T) {
	sender, receiver, closeFn := pipeCodecs()
	defer closeFn()

	payload := []byte("hello world")

	go func() {
		_ = sender.SendFile(bytes.NewReader(payload))
		// a normal message sent right after the file session must not be
		// observed until the receiver has consumed the End frame.
		_ = sender.SendWorker(WorkerMessage{Kind: WorkerGetWork})
	}()

	var got bytes.Buffer
	if err := receiver.RecvFile(&got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Bytes(), payload) {
		t.Fatal("file bytes corrupted by interleaving")
	}
	msg, err := receiver.RecvWorker()
	if err != nil {
		t.Fatal(err)
	}
	if msg.Kind != WorkerGetWork {
		t.Fatalf("expected GetWork after file session, got %+v", msg)
	}
}

func TestRecvFileKeyedComputesContentKey(t *testing.T) {
	sender, receiver, closeFn := pipeCodecs()
	defer closeFn()

	payload := []byte("hash me please")
	go func() { _ = sender.SendFile(bytes.NewReader(payload)) }()

	var got bytes.Buffer
	key, err := RecvFileKeyed(receiver, &got)
	if err != nil {
		t.Fatal(err)
	}
	if key != filekey.Sum(payload) {
		t.Fatal("RecvFileKeyed computed the wrong key")
	}
	if !bytes.Equal(got.Bytes(), payload) {
		t.Fatal("RecvFileKeyed did not forward all bytes to the writer")
	}
}

func TestHandshakeRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	go func() { _ = Handshake(a, RoleWorker) }()

	role, err := ReadHandshake(b)
	if err != nil {
		t.Fatal(err)
	}
	if role != RoleWorker {
		t.Fatalf("expected RoleWorker, got %v", role)
	}
}
