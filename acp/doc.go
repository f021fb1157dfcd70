// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

// Package acp implements Warren's agent protocol terminating proxy.
//
// The proxy speaks newline-delimited JSON-RPC 2.0 on its own stdin and
// stdout with a single editor, and the same protocol with each agent
// subprocess it spawns. It terminates the editor's view of the
// protocol: every session the editor opens maps to an independently
// spawned agent process, possibly inside a sandbox, and the proxy owns
// the translation between the two sides.
//
// Two namespaces are translated at the session boundary:
//
//   - Session identifiers. The proxy issues its own session ids to the
//     editor and keeps the agent's ids private. Every message crossing
//     the boundary is rewritten to carry the id correct for its
//     destination.
//   - Filesystem paths. Editors speak in host paths; sandboxed agents
//     see their workspace at a fixed mount point. Working directories
//     and MCP server definitions are rewritten via lib/pathmap.
//
// Concurrency model: a single sequential dispatcher reads the editor
// stream; each session runs one background goroutine reading its
// agent's output; all outbound messages to the editor funnel through a
// single writer goroutine that owns stdout. Failure of one agent never
// destabilizes another — errors are scoped to the message, call, or
// session that produced them.
package acp
