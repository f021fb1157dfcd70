// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/warrenhq/warren/lib/pathmap"
)

// mcpServersFile is the on-disk shape of the extra MCP servers file:
// a top-level "mcpServers" list, matching the shape editors put in
// session/new parameters.
type mcpServersFile struct {
	MCPServers []pathmap.MCPServer `json:"mcpServers"`
}

// ParseMCPServers strips JSONC comments and trailing commas from data,
// then unmarshals the result into MCP server definitions. The input
// format is the session/new mcpServers shape, extended with // line
// comments, /* block comments */, and trailing commas.
func ParseMCPServers(data []byte) ([]pathmap.MCPServer, error) {
	stripped := jsonc.ToJSON(data)

	var file mcpServersFile
	if err := json.Unmarshal(stripped, &file); err != nil {
		return nil, fmt.Errorf("parsing MCP servers: %w", err)
	}

	for i, server := range file.MCPServers {
		if server.Name == "" {
			return nil, fmt.Errorf("MCP server %d: name is required", i)
		}
		if server.Command == "" {
			return nil, fmt.Errorf("MCP server %q: command is required", server.Name)
		}
	}
	return file.MCPServers, nil
}

// ReadMCPServersFile reads a JSONC MCP servers file from disk and
// parses it. Returns a descriptive error if the file cannot be read or
// the JSON is malformed.
func ReadMCPServersFile(path string) ([]pathmap.MCPServer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	servers, err := ParseMCPServers(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return servers, nil
}
