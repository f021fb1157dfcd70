// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/warrenhq/warren/lib/config"
	"github.com/warrenhq/warren/lib/testutil"
)

// fakeProcess satisfies Process with in-memory pipes connected to a
// scripted fakeAgent goroutine instead of a real subprocess.
type fakeProcess struct {
	stdinWriter  *io.PipeWriter
	stdoutReader *io.PipeReader

	agent *fakeAgent

	killOnce sync.Once
	exited   chan struct{}
}

func (p *fakeProcess) Stdin() io.WriteCloser { return p.stdinWriter }
func (p *fakeProcess) Stdout() io.ReadCloser { return p.stdoutReader }

func (p *fakeProcess) Kill() {
	p.killOnce.Do(func() {
		p.stdoutReader.Close()
		p.agent.stdin.Close()
		close(p.exited)
	})
}

func (p *fakeProcess) Wait() error {
	<-p.exited
	return nil
}

// fakeAgent speaks just enough of the agent side of the protocol for
// handshakes and prompt routing: it answers initialize and session/new,
// emits one session/update notification before every prompt reply, and
// exits on session/end.
type fakeAgent struct {
	sessionID string

	// mute suppresses all replies, for handshake timeout tests.
	mute bool

	// replyDelay is slept before every handshake reply, for timeout
	// budget tests.
	replyDelay time.Duration

	stdin  *io.PipeReader
	stdout *io.PipeWriter

	mu       sync.Mutex
	received []message
}

// startFakeAgent wires a fakeAgent to a fakeProcess and starts its
// serve loop.
func startFakeAgent(sessionID string, mute bool, replyDelay time.Duration) *fakeProcess {
	stdinReader, stdinWriter := io.Pipe()
	stdoutReader, stdoutWriter := io.Pipe()
	agent := &fakeAgent{
		sessionID:  sessionID,
		mute:       mute,
		replyDelay: replyDelay,
		stdin:      stdinReader,
		stdout:     stdoutWriter,
	}
	process := &fakeProcess{
		stdinWriter:  stdinWriter,
		stdoutReader: stdoutReader,
		agent:        agent,
		exited:       make(chan struct{}),
	}
	go agent.serve(process)
	return process
}

func (a *fakeAgent) serve(process *fakeProcess) {
	scanner := bufio.NewScanner(a.stdin)
	for scanner.Scan() {
		var msg message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		a.mu.Lock()
		a.received = append(a.received, msg)
		a.mu.Unlock()

		if a.mute || msg.isNotification() {
			continue
		}
		switch msg.Method {
		case "initialize":
			time.Sleep(a.replyDelay)
			a.respond(msg.ID, map[string]any{"protocolVersion": defaultProtocolVersion})
		case "session/new":
			time.Sleep(a.replyDelay)
			a.respond(msg.ID, map[string]any{"sessionId": a.sessionID})
		case "session/prompt":
			a.notify("session/update", map[string]any{"sessionId": a.sessionID, "text": "thinking"})
			a.respond(msg.ID, map[string]any{"stopReason": "end_turn"})
		case "session/end":
			a.respond(msg.ID, map[string]any{})
			a.stdout.Close()
			process.Kill()
			return
		}
	}
}

func (a *fakeAgent) respond(id json.RawMessage, result any) {
	a.write(resultMessage(id, result))
}

func (a *fakeAgent) notify(method string, params any) {
	encoded, err := json.Marshal(params)
	if err != nil {
		panic(err)
	}
	a.write(message{JSONRPC: "2.0", Method: method, Params: encoded})
}

func (a *fakeAgent) write(msg message) {
	encoded, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}
	a.stdout.Write(append(encoded, '\n'))
}

// messages returns a snapshot of everything the proxy sent the agent.
func (a *fakeAgent) messages() []message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]message(nil), a.received...)
}

// requests returns the received messages with the given method.
func (a *fakeAgent) requests(method string) []message {
	var out []message
	for _, msg := range a.messages() {
		if msg.Method == method {
			out = append(out, msg)
		}
	}
	return out
}

// fakeLauncher hands out fakeAgent processes and records every launch.
type fakeLauncher struct {
	mute       bool
	replyDelay time.Duration
	fail       error

	mu         sync.Mutex
	workspaces []string
	agents     []*fakeAgent
}

func (l *fakeLauncher) Launch(ctx context.Context, workspace string) (Process, error) {
	if l.fail != nil {
		return nil, l.fail
	}
	process := startFakeAgent(testutil.UniqueID("agent-session"), l.mute, l.replyDelay)
	l.mu.Lock()
	l.workspaces = append(l.workspaces, workspace)
	l.agents = append(l.agents, process.agent)
	l.mu.Unlock()
	return process, nil
}

func (l *fakeLauncher) Describe() LaunchInfo {
	return LaunchInfo{Agent: "fake-agent"}
}

func (l *fakeLauncher) agent(t *testing.T, i int) *fakeAgent {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if i >= len(l.agents) {
		t.Fatalf("no agent %d launched (have %d)", i, len(l.agents))
	}
	return l.agents[i]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig returns defaults with timeouts short enough for tests.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.Root = t.TempDir()
	cfg.Paths.Bin = filepath.Join(cfg.Paths.Root, "bin")
	cfg.Paths.State = filepath.Join(cfg.Paths.Root, "state")
	cfg.ACP.HandshakeTimeout = "2s"
	cfg.ACP.EndTimeout = "500ms"
	cfg.ACP.SettleTimeout = "200ms"
	return cfg
}

// proxyHarness runs a Server against pipe-backed editor streams.
type proxyHarness struct {
	t        *testing.T
	launcher *fakeLauncher

	input   *io.PipeWriter
	replies chan message
	done    chan struct{}
	cancel  context.CancelFunc
}

func startProxy(t *testing.T, cfg *config.Config, launcher *fakeLauncher) *proxyHarness {
	t.Helper()
	if cfg == nil {
		cfg = testConfig(t)
	}
	server, err := NewServer(cfg, launcher, testLogger())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	inputReader, inputWriter := io.Pipe()
	outputReader, outputWriter := io.Pipe()

	replies := make(chan message, 64)
	go func() {
		defer close(replies)
		scanner := bufio.NewScanner(outputReader)
		for scanner.Scan() {
			var msg message
			if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
				continue
			}
			replies <- msg
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer outputWriter.Close()
		server.Run(ctx, inputReader, outputWriter)
	}()

	h := &proxyHarness{
		t:        t,
		launcher: launcher,
		input:    inputWriter,
		replies:  replies,
		done:     done,
		cancel:   cancel,
	}
	t.Cleanup(func() {
		inputWriter.Close()
		testutil.RequireClosed(t, done, 5*time.Second, "proxy shutdown")
		cancel()
	})
	return h
}

// send writes one line to the proxy's editor input.
func (h *proxyHarness) send(format string, args ...any) {
	h.t.Helper()
	line := fmt.Sprintf(format, args...)
	if _, err := io.WriteString(h.input, line+"\n"); err != nil {
		h.t.Fatalf("writing editor input: %v", err)
	}
}

// expect reads the next editor-bound message.
func (h *proxyHarness) expect() message {
	h.t.Helper()
	return testutil.RequireReceive(h.t, h.replies, 5*time.Second, "awaiting editor-bound message")
}

// newSession drives a full session/new and returns the proxy session
// id from the reply.
func (h *proxyHarness) newSession(cwd string) string {
	h.t.Helper()
	h.send(`{"jsonrpc":"2.0","id":%q,"method":"session/new","params":{"cwd":%q}}`, testutil.UniqueID("req"), cwd)
	reply := h.expect()
	if reply.Error != nil {
		h.t.Fatalf("session/new failed: %v", reply.Error.Message)
	}
	var result struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(reply.Result, &result); err != nil {
		h.t.Fatalf("parsing session/new result: %v", err)
	}
	if result.SessionID == "" {
		h.t.Fatalf("session/new reply carries no sessionId")
	}
	return result.SessionID
}

// gitWorkspace creates a directory with a .git marker and a
// subdirectory, returning both paths.
func gitWorkspace(t *testing.T) (root, sub string) {
	t.Helper()
	root = t.TempDir()
	if err := os.Mkdir(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	sub = filepath.Join(root, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	return root, sub
}
