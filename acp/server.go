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
	"sync"

	"github.com/google/uuid"

	"github.com/warrenhq/warren/lib/config"
	"github.com/warrenhq/warren/lib/pathmap"
	"github.com/warrenhq/warren/lib/version"
	"github.com/warrenhq/warren/lib/workspace"
)

// Server is the agent protocol terminating proxy. It reads one editor
// connection from an input stream, spawns one agent subprocess per
// session, and owns every piece of process-wide state: the session
// registry, the single editor-facing output writer, the cached editor
// handshake, and the optional transcript recorder.
type Server struct {
	cfg      *config.Config
	launcher Launcher
	logger   *slog.Logger

	registry *registry
	recorder *transcriptRecorder

	// extraServers come from the configured MCP servers file and are
	// injected into every agent's session/new, after translation.
	extraServers []pathmap.MCPServer

	// initMu guards the cached editor handshake payload. Cached once
	// at the proxy level and replayed into every spawned agent;
	// overwritten if the editor re-initializes.
	initMu     sync.Mutex
	clientInfo json.RawMessage
	clientCaps json.RawMessage

	out *outputWriter
}

// NewServer builds a proxy from configuration. The MCP servers file
// and the transcript directory are both opt-in; when configured they
// must work, so their failures are construction failures.
func NewServer(cfg *config.Config, launcher Launcher, logger *slog.Logger) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		launcher: launcher,
		logger:   logger,
		registry: newRegistry(),
	}

	if path := cfg.ACP.MCPServersFile; path != "" {
		servers, err := config.ReadMCPServersFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading MCP servers: %w", err)
		}
		s.extraServers = servers
	}

	if dir := cfg.ACP.TranscriptDir; dir != "" {
		recorder, err := newTranscriptRecorder(dir, logger)
		if err != nil {
			return nil, fmt.Errorf("opening transcript: %w", err)
		}
		recorder.RecordLaunch(launcher.Describe())
		s.recorder = recorder
	}
	return s, nil
}

// Run serves the editor connection until the input stream ends or ctx
// is canceled, then shuts down every live session and drains the
// output writer. Per-message failures never end the run; the returned
// error is reserved for the stream itself.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	s.out = newOutputWriter(out, s.logger)

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	var err error
loop:
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("interrupt received, shutting down")
			break loop
		case line, ok := <-lines:
			if !ok {
				select {
				case err = <-readErr:
					if err != nil {
						err = fmt.Errorf("reading editor stream: %w", err)
					}
				default:
				}
				s.logger.Debug("editor stream ended")
				break loop
			}
			s.dispatch(ctx, line)
		}
	}

	s.shutdown()
	s.out.Close()
	s.recorder.Close()
	return err
}

// dispatch handles one inbound editor line: parse, then route by
// method. A malformed line affects only itself.
func (s *Server) dispatch(ctx context.Context, line []byte) {
	var msg message
	if err := json.Unmarshal(line, &msg); err != nil {
		s.logger.Error("malformed editor input", "error", err)
		return
	}
	if !msg.isValid() {
		s.logger.Debug("discarding invalid envelope")
		return
	}

	s.recorder.RecordMessage(directionEditorToProxy, "", line)

	switch msg.Method {
	case "initialize":
		s.handleInitialize(msg)
	case "session/new":
		s.handleSessionNew(ctx, msg)
	case "session/prompt":
		s.handlePrompt(msg)
	case "session/end":
		s.handleSessionEnd(ctx, msg)
	case "":
		// A response from the editor to an agent-originated request.
		// Agent requests are forwarded without tracking which session
		// issued them, so there is nowhere to route the reply.
		s.logger.Debug("dropping editor response", "id", string(msg.ID))
	default:
		if msg.isNotification() {
			s.logger.Debug("dropping unknown notification", "method", msg.Method)
			return
		}
		s.reply(errorMessage(msg.ID, codeMethodNotFound, "Method not found: "+msg.Method))
	}
}

// reply enqueues a dispatcher-originated message for the editor.
func (s *Server) reply(msg message) {
	if s.recorder != nil {
		if encoded, err := json.Marshal(msg); err == nil {
			s.recorder.RecordMessage(directionProxyToEditor, "", encoded)
		}
	}
	s.out.Enqueue(msg)
}

// initializeParams is the editor handshake payload. Everything beyond
// the version is cached raw and replayed to agents uninterpreted.
type initializeParams struct {
	ProtocolVersion string          `json:"protocolVersion"`
	ClientInfo      json.RawMessage `json:"clientInfo"`
	Capabilities    json.RawMessage `json:"capabilities"`
}

// handleInitialize caches the editor's handshake and replies with the
// proxy's capabilities, echoing the requested protocol version.
func (s *Server) handleInitialize(msg message) {
	var params initializeParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.logger.Debug("unparseable initialize params", "error", err)
		}
	}

	s.initMu.Lock()
	s.clientInfo = params.ClientInfo
	s.clientCaps = params.Capabilities
	s.initMu.Unlock()

	if msg.isNotification() {
		return
	}

	protocolVersion := params.ProtocolVersion
	if protocolVersion == "" {
		protocolVersion = defaultProtocolVersion
	}
	s.reply(resultMessage(msg.ID, map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{"multiSession": true},
		"serverInfo": map[string]any{
			"name":    "warren",
			"version": version.Short(),
		},
	}))
}

// sessionNewParams is the editor's session/new payload.
type sessionNewParams struct {
	Cwd        string             `json:"cwd"`
	MCPServers []pathmap.MCPServer `json:"mcpServers"`
}

// handleSessionNew spawns an agent, runs the two-step handshake with
// it, and registers the session. Failure at any step tears down the
// partial session and leaves the registry untouched.
func (s *Server) handleSessionNew(ctx context.Context, msg message) {
	sess, proxyID, err := s.createSession(ctx, msg)
	if err != nil {
		s.logger.Error("session creation failed", "error", err)
		if !msg.isNotification() {
			s.reply(errorMessage(msg.ID, codeSessionFailed, "Session creation failed: "+err.Error()))
		}
		return
	}

	s.registry.register(sess)
	s.logger.Info("session created",
		"session", proxyID, "agentSession", sess.agentSessionID(), "workspace", sess.workspace)
	if !msg.isNotification() {
		s.reply(resultMessage(msg.ID, map[string]any{"sessionId": proxyID}))
	}
}

func (s *Server) createSession(ctx context.Context, msg message) (*session, string, error) {
	var params sessionNewParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return nil, "", fmt.Errorf("parsing session/new params: %w", err)
		}
	}
	if params.Cwd == "" {
		return nil, "", fmt.Errorf("session/new requires cwd")
	}

	root, _, err := workspace.Resolve(params.Cwd)
	if err != nil {
		return nil, "", fmt.Errorf("resolving workspace for %s: %w", params.Cwd, err)
	}
	translator := pathmap.New(root, s.cfg.ACP.SandboxWorkspace)

	process, err := s.launcher.Launch(ctx, root)
	if err != nil {
		return nil, "", err
	}

	proxyID := uuid.NewString()
	sess := newSession(proxyID, root, translator, process, s.out, s.recorder, s.logger)

	if err := s.handshake(ctx, sess, params, translator); err != nil {
		sess.dispose(s.cfg.ACP.SettleTimeoutDuration())
		return nil, "", err
	}
	return sess, proxyID, nil
}

// handshake drives the freshly spawned agent through initialize and
// session/new, and records the agent's session id on success. Each
// step gets its own timeout budget: a slow initialize must not eat
// into the session/new wait.
func (s *Server) handshake(ctx context.Context, sess *session, params sessionNewParams, translator *pathmap.Translator) error {
	s.initMu.Lock()
	initParams := map[string]json.RawMessage{}
	if len(s.clientInfo) > 0 {
		initParams["clientInfo"] = s.clientInfo
	}
	if len(s.clientCaps) > 0 {
		initParams["capabilities"] = s.clientCaps
	}
	s.initMu.Unlock()

	timeout := s.cfg.ACP.HandshakeTimeoutDuration()
	initCtx, cancel := context.WithTimeout(ctx, timeout)
	_, err := sess.call(initCtx, "initialize", initParams)
	cancel()
	if err != nil {
		return err
	}

	newParams := map[string]any{
		"cwd": translator.Translate(params.Cwd),
	}
	servers := append(append([]pathmap.MCPServer(nil), params.MCPServers...), s.extraServers...)
	if len(servers) > 0 {
		newParams["mcpServers"] = translator.TranslateMCPServers(servers)
	}

	newCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result, err := sess.call(newCtx, "session/new", newParams)
	if err != nil {
		return err
	}

	var reply struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(result, &reply); err != nil {
		return fmt.Errorf("parsing agent session/new result: %w", err)
	}
	if reply.SessionID == "" {
		return fmt.Errorf("agent session/new result carries no sessionId")
	}
	sess.setAgentSessionID(reply.SessionID)
	return nil
}

// handlePrompt routes session/prompt to its session, rewriting the
// session id to the agent's before forwarding. The agent's reply keeps
// the editor's request id and flows back through the session reader.
func (s *Server) handlePrompt(msg message) {
	sess, params, ok := s.lookupRouted(msg)
	if !ok {
		return
	}

	params["sessionId"] = sess.agentSessionID()
	encoded, err := json.Marshal(params)
	if err != nil {
		s.logger.Error("re-encoding routed params", "error", err)
		return
	}
	msg.Params = encoded

	if err := sess.forward(msg); err != nil {
		s.logger.Error("forwarding to agent", "session", sess.proxyID, "error", err)
		if !msg.isNotification() {
			s.reply(errorMessage(msg.ID, codeSessionFailed, "Forwarding failed: "+err.Error()))
		}
	}
}

// handleSessionEnd ends a session: remove it from the registry first
// so no further routing can reach it, ask the agent to end
// gracefully, wait a bounded time for its final output to drain, then
// dispose. The proxy acknowledges the editor itself — the agent's
// reply to the end request is proxy-internal.
func (s *Server) handleSessionEnd(ctx context.Context, msg message) {
	_, sid, ok := s.routedParams(msg)
	if !ok {
		return
	}
	sess, found := s.registry.remove(sid)
	if !found {
		s.replySessionNotFound(msg, sid)
		return
	}

	endCtx, cancel := context.WithTimeout(ctx, s.cfg.ACP.EndTimeoutDuration())
	defer cancel()

	if _, err := sess.call(endCtx, "session/end", map[string]any{"sessionId": sess.agentSessionID()}); err != nil {
		s.logger.Debug("agent end request", "session", sess.proxyID, "error", err)
	}
	sess.drain(s.cfg.ACP.EndTimeoutDuration())
	sess.dispose(s.cfg.ACP.SettleTimeoutDuration())

	s.logger.Info("session ended", "session", sess.proxyID)
	if !msg.isNotification() {
		s.reply(resultMessage(msg.ID, map[string]any{}))
	}
}

// routedParams extracts params and the sessionId from a routed
// message. Reports false after replying (when permitted) if the
// message cannot be routed.
func (s *Server) routedParams(msg message) (map[string]any, string, bool) {
	var params map[string]any
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.logger.Debug("unparseable routed params", "method", msg.Method, "error", err)
		}
	}
	sid, _ := params["sessionId"].(string)
	if sid == "" {
		s.replySessionNotFound(msg, sid)
		return nil, "", false
	}
	return params, sid, true
}

// lookupRouted resolves a routed message to its live session.
func (s *Server) lookupRouted(msg message) (*session, map[string]any, bool) {
	params, sid, ok := s.routedParams(msg)
	if !ok {
		return nil, nil, false
	}
	sess, found := s.registry.lookup(sid)
	if !found {
		s.replySessionNotFound(msg, sid)
		return nil, nil, false
	}
	return sess, params, true
}

func (s *Server) replySessionNotFound(msg message, sid string) {
	if msg.isNotification() {
		s.logger.Debug("dropping notification for unknown session", "method", msg.Method, "session", sid)
		return
	}
	s.reply(errorMessage(msg.ID, codeSessionNotFound, "Session not found: "+sid))
}

// shutdown ends every live session concurrently: best-effort
// session/end to the agent, a bounded settle, then disposal.
func (s *Server) shutdown() {
	sessions := s.registry.drainAll()
	if len(sessions) == 0 {
		return
	}
	s.logger.Info("ending live sessions", "count", len(sessions))

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(sess *session) {
			defer wg.Done()
			err := sess.send(message{
				JSONRPC: "2.0",
				Method:  "session/end",
				Params:  json.RawMessage(fmt.Sprintf(`{"sessionId":%q}`, sess.agentSessionID())),
			})
			if err != nil {
				s.logger.Debug("shutdown end request", "session", sess.proxyID, "error", err)
			}
			sess.drain(s.cfg.ACP.SettleTimeoutDuration())
			sess.dispose(0)
		}(sess)
	}
	wg.Wait()
}
