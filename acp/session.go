// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package acp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warrenhq/warren/lib/pathmap"
)

// errSessionClosed reports that a pending agent call was abandoned
// because its session was disposed.
var errSessionClosed = errors.New("session closed")

// session owns one agent subprocess and everything private to it: the
// stdin write lock, the table of in-flight proxy-originated requests,
// and the background goroutine reading the agent's output.
//
// Identifier discipline: proxyID is what the editor knows; the agent's
// own session id stays private to this type and to the dispatcher's
// rewriting, and the two are never equal in any formatted message.
type session struct {
	proxyID    string
	workspace  string
	translator *pathmap.Translator
	process    Process
	out        *outputWriter
	recorder   *transcriptRecorder
	logger     *slog.Logger

	// agentMu guards agentID, which is written once when the agent's
	// session/new handshake completes and read by the reader goroutine
	// on every forwarded message.
	agentMu sync.Mutex
	agentID string

	// writeMu serializes writes to the agent's stdin. Process pipes
	// are not safe for concurrent writers.
	writeMu sync.Mutex

	// pending maps proxy-chosen request ids (raw JSON form) to their
	// single-fulfillment reply channels.
	pendingMu sync.Mutex
	pending   map[string]chan message

	requestSeq atomic.Uint64

	// readerDone closes when the reader goroutine exits, which happens
	// once the agent closes its stdout.
	readerDone chan struct{}

	disposeOnce sync.Once
}

// newSession wraps a freshly launched process and starts its reader
// immediately, before anything is written to the agent, so no output
// can be missed.
func newSession(proxyID, workspace string, translator *pathmap.Translator, process Process, out *outputWriter, recorder *transcriptRecorder, logger *slog.Logger) *session {
	s := &session{
		proxyID:    proxyID,
		workspace:  workspace,
		translator: translator,
		process:    process,
		out:        out,
		recorder:   recorder,
		logger:     logger,
		pending:    make(map[string]chan message),
		readerDone: make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *session) agentSessionID() string {
	s.agentMu.Lock()
	defer s.agentMu.Unlock()
	return s.agentID
}

func (s *session) setAgentSessionID(id string) {
	s.agentMu.Lock()
	defer s.agentMu.Unlock()
	s.agentID = id
}

// readLoop reads the agent's output line by line. Replies to
// proxy-originated requests fulfill their correlation and stop there;
// everything else is rewritten to the editor's session id and enqueued
// for the editor. Malformed lines are skipped — one bad line never
// takes the session down.
func (s *session) readLoop() {
	defer close(s.readerDone)

	scanner := bufio.NewScanner(s.process.Stdout())
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var msg message
		if err := json.Unmarshal(line, &msg); err != nil {
			s.logger.Debug("skipping malformed agent output",
				"session", s.proxyID, "error", err)
			continue
		}
		if !msg.isValid() {
			continue
		}

		s.recorder.RecordMessage(directionAgentToProxy, s.proxyID, line)

		if msg.isResponse() {
			if ch, ok := s.takePending(string(msg.ID)); ok {
				// Proxy-internal correlation: fulfilled exactly once
				// (takePending removed it) and never forwarded.
				ch <- msg
				continue
			}
		}

		forwarded := s.rewriteForEditor(msg)
		if s.recorder != nil {
			if encoded, err := json.Marshal(forwarded); err == nil {
				s.recorder.RecordMessage(directionProxyToEditor, s.proxyID, encoded)
			}
		}
		s.out.Enqueue(forwarded)
	}

	if err := scanner.Err(); err != nil {
		s.logger.Debug("agent output stream closed", "session", s.proxyID, "error", err)
	}
}

// rewriteForEditor swaps the agent's session id for the proxy's in
// params.sessionId. Messages without params, with foreign session ids,
// or with unparseable params pass through untouched.
func (s *session) rewriteForEditor(msg message) message {
	if len(msg.Params) == 0 {
		return msg
	}
	var params map[string]any
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return msg
	}
	id, ok := params["sessionId"].(string)
	if !ok || id != s.agentSessionID() {
		return msg
	}
	params["sessionId"] = s.proxyID
	encoded, err := json.Marshal(params)
	if err != nil {
		return msg
	}
	msg.Params = encoded
	return msg
}

// send writes one message to the agent's stdin under the write lock.
func (s *session) send(msg message) error {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %s for agent: %w", msg.Method, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.process.Stdin().Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("writing %s to agent: %w", msg.Method, err)
	}
	s.recorder.RecordMessage(directionProxyToAgent, s.proxyID, encoded)
	return nil
}

// call sends a proxy-originated request to the agent and awaits its
// reply. The reply never reaches the editor — the reader fulfills the
// correlation instead of forwarding. Returns the agent's result, or an
// error on agent-reported failure, disposal, or context expiry.
func (s *session) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	var encodedParams json.RawMessage
	if params != nil {
		var err error
		encodedParams, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encoding %s params: %w", method, err)
		}
	}

	id := json.RawMessage(fmt.Sprintf("%q", fmt.Sprintf("warren-%d", s.requestSeq.Add(1))))
	ch := make(chan message, 1)

	s.pendingMu.Lock()
	s.pending[string(id)] = ch
	s.pendingMu.Unlock()
	defer s.takePending(string(id))

	if err := s.send(message{JSONRPC: "2.0", ID: id, Method: method, Params: encodedParams}); err != nil {
		return nil, err
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%s: %w", method, errSessionClosed)
		}
		if reply.Error != nil {
			return nil, fmt.Errorf("agent rejected %s: %s (code %d)", method, reply.Error.Message, reply.Error.Code)
		}
		return reply.Result, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("awaiting %s reply: %w", method, ctx.Err())
	}
}

// forward relays an editor message to the agent unchanged except for
// the already-rewritten params. No correlation: if the agent replies,
// the reply flows back to the editor through the reader.
func (s *session) forward(msg message) error {
	return s.send(msg)
}

// takePending removes and returns the correlation for id, if any.
// Removal before fulfillment is what makes fulfillment single-shot.
func (s *session) takePending(id string) (chan message, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	ch, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	return ch, ok
}

// drain waits up to timeout for the reader to see the agent's stdout
// close.
func (s *session) drain(timeout time.Duration) {
	select {
	case <-s.readerDone:
	case <-time.After(timeout):
	}
}

// dispose kills the process, abandons in-flight correlations, waits
// briefly for the reader to settle, and releases the process.
// Idempotent; always paired with registry removal by the callers.
func (s *session) dispose(settle time.Duration) {
	s.disposeOnce.Do(func() {
		s.process.Kill()

		s.pendingMu.Lock()
		for id, ch := range s.pending {
			delete(s.pending, id)
			close(ch)
		}
		s.pendingMu.Unlock()

		s.drain(settle)
		if err := s.process.Wait(); err != nil {
			s.logger.Debug("agent process exit", "session", s.proxyID, "error", err)
		}
	})
}
