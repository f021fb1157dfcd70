// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

// Package pathmap translates filesystem paths between the host and the
// sandbox view of an agent workspace.
//
// Inside a sandbox the workspace is always mounted at a fixed path
// (DefaultSandboxRoot unless configured otherwise), regardless of where
// the workspace lives on the host. Editors speak in host paths; agents
// running inside a sandbox see only the sandbox mount. The ACP proxy
// uses a Translator to rewrite the session working directory and MCP
// server definitions it forwards into each agent.
package pathmap

import (
	"path"
	"path/filepath"
	"strings"
)

// DefaultSandboxRoot is the fixed path at which a session's workspace
// is mounted inside the sandbox.
const DefaultSandboxRoot = "/workspace"

// Translator maps host-absolute paths under a workspace root to their
// sandbox-side equivalents. The zero value is not usable; construct
// with New.
type Translator struct {
	hostRoot    string
	sandboxRoot string
}

// New returns a Translator mapping hostRoot to sandboxRoot. The host
// root is cleaned once at construction so repeated Translate calls do
// not re-normalize it. An empty sandboxRoot selects DefaultSandboxRoot.
func New(hostRoot, sandboxRoot string) *Translator {
	if sandboxRoot == "" {
		sandboxRoot = DefaultSandboxRoot
	}
	return &Translator{
		hostRoot:    filepath.Clean(hostRoot),
		sandboxRoot: sandboxRoot,
	}
}

// HostRoot returns the cleaned host workspace root.
func (t *Translator) HostRoot() string {
	return t.hostRoot
}

// SandboxRoot returns the sandbox mount path.
func (t *Translator) SandboxRoot() string {
	return t.sandboxRoot
}

// Translate maps a host-absolute path to its sandbox equivalent.
//
// The input is cleaned (".."/"." resolved, trailing separators
// stripped). A path equal to the host root maps to the sandbox root; a
// descendant of the host root maps to the sandbox root plus the
// relative suffix, with separators normalized to forward slashes.
// Anything else — paths outside the workspace, relative paths,
// already-translated sandbox paths, strings that are not paths at all —
// is returned unchanged. Translate is therefore idempotent.
func (t *Translator) Translate(hostPath string) string {
	if !filepath.IsAbs(hostPath) {
		return hostPath
	}
	cleaned := filepath.Clean(hostPath)
	if cleaned == t.hostRoot {
		return t.sandboxRoot
	}
	prefix := t.hostRoot + string(filepath.Separator)
	if !strings.HasPrefix(cleaned, prefix) {
		return hostPath
	}
	suffix := filepath.ToSlash(cleaned[len(prefix):])
	return path.Join(t.sandboxRoot, suffix)
}

// MCPServer is one MCP server definition as it appears in session/new
// parameters and in the proxy's extra-servers configuration file.
type MCPServer struct {
	Name    string            `json:"name"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// TranslateMCPServers applies Translate element-wise to each server's
// command and argument strings. Values that are not host workspace
// paths pass through unchanged. The input slice is not modified.
func (t *Translator) TranslateMCPServers(servers []MCPServer) []MCPServer {
	if len(servers) == 0 {
		return servers
	}
	translated := make([]MCPServer, len(servers))
	for i, server := range servers {
		out := server
		out.Command = t.Translate(server.Command)
		if len(server.Args) > 0 {
			out.Args = make([]string, len(server.Args))
			for j, arg := range server.Args {
				out.Args[j] = t.Translate(arg)
			}
		}
		translated[i] = out
	}
	return translated
}
