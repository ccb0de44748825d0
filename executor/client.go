package executor

import (
	"fmt"
	"io"
	"sync"

	"github.com/olimpiadi-informatica/task-maker-go/dag"
	"github.com/olimpiadi-informatica/task-maker-go/filestore"
	"github.com/olimpiadi-informatica/task-maker-go/proto"
)

// clientSession drives one client connection's message loop (spec.md
// §4.H "On ClientConnected"): validate, resolve provided files, forward
// to the scheduler, relay subsequent messages.
type clientSession struct {
	id    proto.ClientId
	codec *proto.Codec
	exec  *Executor
}

func newClientSession(id proto.ClientId, codec *proto.Codec, exec *Executor) *clientSession {
	return &clientSession{id: id, codec: codec, exec: exec}
}

func (cs *clientSession) serve() error {
	for {
		msg, err := cs.codec.RecvClient()
		if err != nil {
			return err
		}
		if err := cs.handle(msg); err != nil {
			return err
		}
	}
}

func (cs *clientSession) handle(msg proto.ClientMessage) error {
	switch msg.Kind {
	case proto.ClientEvaluate:
		if msg.Evaluate == nil {
			return fmt.Errorf("executor: Evaluate message missing payload")
		}
		return cs.handleEvaluate(msg.Evaluate)
	case proto.ClientProvideFile:
		if msg.ProvideFile == nil {
			return fmt.Errorf("executor: ProvideFile message missing payload")
		}
		return cs.handleProvideFile(msg.ProvideFile)
	case proto.ClientAskFile:
		if msg.AskFile == nil {
			return fmt.Errorf("executor: AskFile message missing payload")
		}
		return cs.exec.Sched.ResolveProvidedFile(cs.id, msg.AskFile.File, msg.AskFile.Key, msg.AskFile.Success)
	case proto.ClientStatus:
		snap := cs.exec.Sched.Status()
		return cs.codec.SendServer(proto.ServerMessage{Kind: proto.ServerStatus, Status: &snap})
	case proto.ClientStop:
		return cs.exec.Sched.Stop(cs.id)
	default:
		return fmt.Errorf("executor: unexpected client message kind %v", msg.Kind)
	}
}

// handleEvaluate implements spec.md §4.H steps (a)-(d): validate, resolve
// the DAG's inline-content provided files up front, forward to the
// scheduler, and ask the client to resolve any local-path provided files
// (spec.md §4.H "for every provided file checks whether its key is
// already in the store and either replies AskFile or reports it
// resolved").
func (cs *clientSession) handleEvaluate(msg *proto.EvaluateMsg) error {
	d := msg.DAG
	if cs.exec.CacheOverride != nil {
		d.Config.CacheMode = *cs.exec.CacheOverride
	}
	if err := dag.Validate(&d); err != nil {
		return cs.codec.SendServer(proto.ServerMessage{Kind: proto.ServerError, Error: err.Error()})
	}

	resolved, err := storeInlineProvidedFiles(cs.exec.Store, &d)
	if err != nil {
		return err
	}

	events := &clientRelay{cs: cs}
	if err := cs.exec.Sched.Evaluate(cs.id, &d, resolved, msg.Watch, events); err != nil {
		return cs.codec.SendServer(proto.ServerMessage{Kind: proto.ServerError, Error: err.Error()})
	}

	for file, pf := range d.ProvidedFiles {
		if pf.LocalPath == "" {
			continue
		}
		f := file
		if err := cs.codec.SendServer(proto.ServerMessage{Kind: proto.ServerAskFile, AskFile: &f}); err != nil {
			return err
		}
	}
	return nil
}

// handleProvideFile receives a client-streamed provided file (the
// client's answer to a ServerAskFile for a local-path entry), verifying
// the declared key against the actual bytes (spec.md §7 "Provide-file
// error — ... hash mismatch during streaming").
func (cs *clientSession) handleProvideFile(hdr *proto.ProvideFileHeader) error {
	pr, pw := io.Pipe()
	var (
		handle   *filestore.Handle
		storeErr error
		wg       sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		h, err := cs.exec.Store.Store(hdr.Key, pr)
		storeErr = err
		if err != nil {
			pr.CloseWithError(err)
			return
		}
		handle = h
	}()

	computedKey, recvErr := proto.RecvFileKeyed(cs.codec, pw)
	pw.CloseWithError(recvErr)
	wg.Wait()

	if handle != nil {
		handle.Drop()
	}
	success := recvErr == nil && storeErr == nil && computedKey == hdr.Key
	return cs.exec.Sched.ResolveProvidedFile(cs.id, hdr.File, hdr.Key, success)
}
