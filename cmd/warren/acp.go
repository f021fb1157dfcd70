// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/warrenhq/warren/acp"
	"github.com/warrenhq/warren/lib/config"
)

// acpCmd serves the agent protocol on stdin/stdout until the editor
// closes the stream or the process is interrupted.
func acpCmd(args []string, logger *slog.Logger) error {
	var (
		configPath    string
		transcriptDir string
		profile       string
	)
	flagSet := pflag.NewFlagSet("acp", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to configuration file (default: $WARREN_CONFIG)")
	flagSet.StringVar(&transcriptDir, "transcript-dir", "", "record a protocol transcript into this directory")
	flagSet.StringVar(&profile, "profile", "", "sandbox profile (default from configuration)")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			printACPHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printACPHelp(flagSet)
		return nil
	}
	if len(flagSet.Args()) > 1 {
		return fmt.Errorf("at most one positional argument (the agent binary), got %d", len(flagSet.Args()))
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if transcriptDir != "" {
		cfg.ACP.TranscriptDir = transcriptDir
	}
	if profile != "" {
		cfg.Sandbox.Profile = profile
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	agent := cfg.ACP.DefaultAgent
	if flagSet.NArg() == 1 {
		agent = flagSet.Arg(0)
	}

	// stdout carries protocol frames. A human at a terminal is almost
	// certainly a mistake, but an editor allocating a pty is not
	// impossible, so warn rather than refuse.
	if term.IsTerminal(int(os.Stdin.Fd())) {
		logger.Warn("stdin is a terminal; this command expects an editor on a pipe")
	}

	launcher := buildLauncher(cfg, agent, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server, err := acp.NewServer(cfg, launcher, logger)
	if err != nil {
		return err
	}
	return server.Run(ctx, os.Stdin, os.Stdout)
}

// buildLauncher selects between direct and sandboxed agent spawning.
// WARREN_ACP_DIRECT bypasses the sandbox, for tests and for hosts
// without the launcher installed.
func buildLauncher(cfg *config.Config, agent string, logger *slog.Logger) acp.Launcher {
	if os.Getenv("WARREN_ACP_DIRECT") != "" {
		return &acp.DirectLauncher{Agent: agent, Logger: logger}
	}

	launcher := cfg.Sandbox.Launcher
	if resolved, err := cfg.BinaryPath(launcher); err == nil {
		launcher = resolved
	}
	return &acp.SandboxLauncher{
		Launcher: launcher,
		Agent:    agent,
		Profile:  cfg.Sandbox.Profile,
		Logger:   logger,
	}
}

func printACPHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Serve the agent protocol over stdio.

The editor speaks newline-delimited JSON-RPC on stdin/stdout; each
session/new spawns one agent subprocess, sandboxed unless
WARREN_ACP_DIRECT is set. Logging goes to stderr.

USAGE
    warren acp [flags] [agent]

The positional argument names the agent binary (default from
configuration: claude).

FLAGS
%s`, flagSet.FlagUsages())
}
