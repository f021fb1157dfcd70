// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package pathmap

import (
	"reflect"
	"testing"
)

func TestTranslate(t *testing.T) {
	translator := New("/home/alice/project", "")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"workspace root itself", "/home/alice/project", "/workspace"},
		{"root with trailing separator", "/home/alice/project/", "/workspace"},
		{"direct child", "/home/alice/project/main.go", "/workspace/main.go"},
		{"nested descendant", "/home/alice/project/sub/dir/file.txt", "/workspace/sub/dir/file.txt"},
		{"dot segments resolved", "/home/alice/project/sub/../main.go", "/workspace/main.go"},
		{"outside the workspace", "/home/alice/other/file", "/home/alice/other/file"},
		{"sibling with shared prefix", "/home/alice/project-backup/file", "/home/alice/project-backup/file"},
		{"already sandbox-side", "/workspace/sub", "/workspace/sub"},
		{"relative path", "relative/path", "relative/path"},
		{"not a path", "--flag=value", "--flag=value"},
		{"empty string", "", ""},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := translator.Translate(test.in); got != test.want {
				t.Errorf("Translate(%q) = %q, want %q", test.in, got, test.want)
			}
		})
	}
}

func TestTranslateIdempotent(t *testing.T) {
	translator := New("/home/alice/project", "")

	inputs := []string{
		"/home/alice/project/sub",
		"/workspace/sub",
		"/tmp/elsewhere",
		"not-a-path",
	}
	for _, in := range inputs {
		once := translator.Translate(in)
		twice := translator.Translate(once)
		if once != twice {
			t.Errorf("Translate not idempotent on %q: %q then %q", in, once, twice)
		}
	}
}

func TestTranslateCustomSandboxRoot(t *testing.T) {
	translator := New("/srv/work", "/mnt/agent")
	if got := translator.Translate("/srv/work/cmd"); got != "/mnt/agent/cmd" {
		t.Errorf("Translate = %q, want /mnt/agent/cmd", got)
	}
}

func TestTranslateMCPServers(t *testing.T) {
	translator := New("/home/alice/project", "")

	servers := []MCPServer{
		{
			Name:    "filesystem",
			Command: "/home/alice/project/tools/mcp-fs",
			Args:    []string{"--root", "/home/alice/project/data", "--verbose"},
			Env:     map[string]string{"MODE": "strict"},
		},
		{
			Name:    "fetch",
			Command: "npx",
			Args:    []string{"-y", "@example/mcp-fetch"},
		},
	}

	translated := translator.TranslateMCPServers(servers)

	want := []MCPServer{
		{
			Name:    "filesystem",
			Command: "/workspace/tools/mcp-fs",
			Args:    []string{"--root", "/workspace/data", "--verbose"},
			Env:     map[string]string{"MODE": "strict"},
		},
		{
			Name:    "fetch",
			Command: "npx",
			Args:    []string{"-y", "@example/mcp-fetch"},
		},
	}
	if !reflect.DeepEqual(translated, want) {
		t.Errorf("TranslateMCPServers =\n  %+v\nwant\n  %+v", translated, want)
	}

	// The input slice must be untouched.
	if servers[0].Command != "/home/alice/project/tools/mcp-fs" {
		t.Error("TranslateMCPServers mutated its input")
	}
	if servers[0].Args[1] != "/home/alice/project/data" {
		t.Error("TranslateMCPServers mutated input args")
	}
}

func TestTranslateMCPServersEmpty(t *testing.T) {
	translator := New("/home/alice/project", "")
	if got := translator.TranslateMCPServers(nil); got != nil {
		t.Errorf("TranslateMCPServers(nil) = %v, want nil", got)
	}
}
