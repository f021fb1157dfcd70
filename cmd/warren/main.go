// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

// warren drives sandboxed coding agents for external editors.
//
// Usage:
//
//	warren acp [flags] [agent]
//	warren version
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/warrenhq/warren/lib/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Logging goes to stderr: stdout is a protocol stream.
	logLevel := slog.LevelInfo
	if os.Getenv("WARREN_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "acp":
		err = acpCmd(args, logger)
	case "version", "--version", "-v":
		fmt.Printf("warren %s\n", version.Info())
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`warren - Drive sandboxed coding agents from external editors

USAGE
    warren <command> [flags] [args...]

COMMANDS
    acp       Serve the agent protocol over stdio for an editor
    version   Show version

EXAMPLES
    # Serve the default agent to an editor over stdio
    warren acp

    # Serve a specific agent binary
    warren acp my-agent

    # Record a protocol transcript for later inspection
    warren acp --transcript-dir ~/.local/state/warren/transcripts

ENVIRONMENT
    WARREN_CONFIG       Path to the YAML configuration file
    WARREN_ACP_DIRECT   Spawn agents directly instead of sandboxed
    WARREN_DEBUG        Enable debug logging
`)
}
