// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package acp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"github.com/warrenhq/warren/lib/binhash"
)

// agentModeFlag is the flag that switches an agent binary into
// agent-protocol mode on stdio.
const agentModeFlag = "--acp"

// Process is one running agent, however it was launched. The proxy
// owns the process for the lifetime of its session: it writes protocol
// lines to Stdin, reads protocol lines from Stdout, and kills the
// process when the session is disposed. Stderr is not part of the
// interface — launchers connect it straight through to the proxy's own
// stderr.
type Process interface {
	// Stdin is the agent's protocol input stream.
	Stdin() io.WriteCloser

	// Stdout is the agent's protocol output stream.
	Stdout() io.ReadCloser

	// Kill forcibly terminates the process. Idempotent.
	Kill()

	// Wait blocks until the process has exited and releases it.
	Wait() error
}

// Launcher spawns one agent process per session. Implementations
// decide what "spawn" means — a direct exec of the agent binary, or an
// external sandbox launcher that wraps it.
type Launcher interface {
	Launch(ctx context.Context, workspace string) (Process, error)

	// Describe returns the launch target for logs and transcripts:
	// the agent binary and, when resolvable, its content digest.
	Describe() LaunchInfo
}

// LaunchInfo identifies what a Launcher runs.
type LaunchInfo struct {
	Agent  string // agent binary name or path
	Digest string // hex SHA256 of the agent binary, "" if unresolved
}

// execProcess adapts exec.Cmd to the Process interface.
type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.ReadCloser { return p.stdout }

func (p *execProcess) Kill() {
	if p.cmd.Process != nil {
		// The child was started in its own process group; signal the
		// group so agent-spawned helpers die with it.
		_ = syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL)
	}
}

func (p *execProcess) Wait() error {
	return p.cmd.Wait()
}

// startCommand wires stdio pipes, puts the child in its own process
// group, and starts it. The context bounds only the start, not the
// process lifetime — session disposal, not context cancellation,
// decides when an agent dies, so a shutdown can still end sessions
// gracefully before killing anything.
func startCommand(name string, args ...string) (Process, error) {
	cmd := exec.Command(name, args...)
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("allocating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("allocating stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", name, err)
	}
	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

// DirectLauncher runs the agent binary itself, unsandboxed, with the
// protocol-mode flag. Selected by the WARREN_ACP_DIRECT toggle; used
// for tests and for hosts where the sandbox launcher is unavailable.
type DirectLauncher struct {
	// Agent is the agent binary name or path.
	Agent string

	Logger *slog.Logger
}

// Launch starts the agent directly in the given workspace.
func (l *DirectLauncher) Launch(ctx context.Context, workspace string) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.Logger.Debug("launching agent directly",
		"agent", l.Agent, "workspace", workspace)

	process, err := startCommand(l.Agent, agentModeFlag)
	if err != nil {
		return nil, fmt.Errorf("direct launch of %s: %w", l.Agent, err)
	}
	return process, nil
}

// Describe resolves the agent binary and hashes it. Hash failures are
// not fatal — the digest is observability, not enforcement.
func (l *DirectLauncher) Describe() LaunchInfo {
	return describeAgent(l.Agent, l.Logger)
}

// SandboxLauncher runs the agent through the external sandbox launcher
// binary, which mounts the workspace at its fixed sandbox path and
// connects the proxy's pipes through to the agent inside.
type SandboxLauncher struct {
	// Launcher is the resolved path of the sandbox launcher binary.
	Launcher string

	// Agent is the agent binary name, resolved inside the sandbox.
	Agent string

	// Profile is the sandbox profile name.
	Profile string

	Logger *slog.Logger
}

// Launch starts the launcher wrapping the agent. The --quiet flag
// keeps the launcher's own chatter off the stdio streams, which carry
// protocol bytes only.
func (l *SandboxLauncher) Launch(ctx context.Context, workspace string) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	args := []string{"run", "--quiet", "--profile", l.Profile, "--workspace", workspace,
		"--", l.Agent, agentModeFlag}
	l.Logger.Debug("launching agent in sandbox",
		"launcher", l.Launcher, "agent", l.Agent, "workspace", workspace, "profile", l.Profile)

	process, err := startCommand(l.Launcher, args...)
	if err != nil {
		return nil, fmt.Errorf("sandboxed launch of %s: %w", l.Agent, err)
	}
	return process, nil
}

// Describe identifies the agent binary as resolvable on the host.
// Inside the sandbox the agent may resolve differently; the host-side
// digest is still the best available identification.
func (l *SandboxLauncher) Describe() LaunchInfo {
	return describeAgent(l.Agent, l.Logger)
}

// describeAgent resolves an agent binary on PATH and hashes it.
func describeAgent(agent string, logger *slog.Logger) LaunchInfo {
	info := LaunchInfo{Agent: agent}

	resolved, err := exec.LookPath(agent)
	if err != nil {
		logger.Debug("agent binary not resolvable on host", "agent", agent, "error", err)
		return info
	}
	digest, err := binhash.HashFile(resolved)
	if err != nil {
		logger.Debug("hashing agent binary", "agent", resolved, "error", err)
		return info
	}
	info.Digest = binhash.FormatDigest(digest)
	logger.Debug("agent binary identified", "agent", resolved, "sha256", info.Digest)
	return info
}
