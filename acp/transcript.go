// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package acp

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/warrenhq/warren/lib/codec"
	"github.com/warrenhq/warren/lib/version"
)

// Transcript message directions. The values are stored in transcript
// records — changing them breaks readers of existing transcripts.
const (
	directionEditorToProxy = "editor_to_proxy"
	directionProxyToEditor = "proxy_to_editor"
	directionProxyToAgent  = "proxy_to_agent"
	directionAgentToProxy  = "agent_to_proxy"
)

// transcriptRecord is one entry in a transcript stream. Exactly one of
// the optional payload groups is populated, selected by Kind.
type transcriptRecord struct {
	// Kind is "header", "launch", or "message".
	Kind string `json:"kind"`

	Time time.Time `json:"time"`

	// Header fields (kind "header"), written once per run.
	ProxyVersion string `json:"proxy_version,omitempty"`

	// Launch fields (kind "launch"), written once per spawned agent.
	Agent       string `json:"agent,omitempty"`
	AgentDigest string `json:"agent_digest,omitempty"`

	// Message fields (kind "message").
	Direction string `json:"direction,omitempty"`
	Session   string `json:"session,omitempty"`
	Payload   []byte `json:"payload,omitempty"`
}

// transcriptRecorder appends every message crossing the proxy to a
// zstd-compressed stream of deterministic CBOR records, one file per
// proxy run. Recording is pure observability: failures are logged and
// never affect routing, and the proxy never reads transcripts back.
//
// A nil recorder is valid and records nothing, so call sites do not
// branch on whether recording is enabled.
type transcriptRecorder struct {
	logger *slog.Logger

	mu         sync.Mutex
	file       *os.File
	compressor *zstd.Encoder
	encoder    *codec.Encoder
	closed     bool
}

// newTranscriptRecorder creates the transcript file in dir and writes
// the header record. The file name embeds the start time and pid so
// concurrent proxy runs never collide.
func newTranscriptRecorder(dir string, logger *slog.Logger) (*transcriptRecorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating transcript dir: %w", err)
	}

	started := time.Now().UTC()
	name := fmt.Sprintf("acp-%s-%d.cbor.zst", started.Format("20060102T150405"), os.Getpid())
	path := filepath.Join(dir, name)

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating transcript %s: %w", path, err)
	}

	compressor, err := zstd.NewWriter(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("initializing transcript compressor: %w", err)
	}

	recorder := &transcriptRecorder{
		logger:     logger,
		file:       file,
		compressor: compressor,
		encoder:    codec.NewEncoder(compressor),
	}
	recorder.append(transcriptRecord{
		Kind:         "header",
		Time:         started,
		ProxyVersion: version.Short(),
	})
	logger.Info("recording transcript", "path", path)
	return recorder, nil
}

// RecordLaunch notes the identity of a spawned agent binary.
func (r *transcriptRecorder) RecordLaunch(info LaunchInfo) {
	if r == nil {
		return
	}
	r.append(transcriptRecord{
		Kind:        "launch",
		Time:        time.Now().UTC(),
		Agent:       info.Agent,
		AgentDigest: info.Digest,
	})
}

// RecordMessage appends one protocol message. payload is the exact
// JSON bytes as they crossed the boundary; session is the proxy
// session id when the message is attributable to one.
func (r *transcriptRecorder) RecordMessage(direction, session string, payload []byte) {
	if r == nil {
		return
	}
	r.append(transcriptRecord{
		Kind:      "message",
		Time:      time.Now().UTC(),
		Direction: direction,
		Session:   session,
		// The payload escapes into the record; the caller may reuse
		// its line buffer.
		Payload: append([]byte(nil), payload...),
	})
}

func (r *transcriptRecorder) append(record transcriptRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if err := r.encoder.Encode(record); err != nil {
		r.logger.Warn("writing transcript record", "error", err)
	}
}

// Close flushes the compressed stream and closes the file. Idempotent.
func (r *transcriptRecorder) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	if err := r.compressor.Close(); err != nil {
		r.logger.Warn("flushing transcript", "error", err)
	}
	if err := r.file.Close(); err != nil {
		r.logger.Warn("closing transcript", "error", err)
	}
}
