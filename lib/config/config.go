// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Warren components.
//
// Configuration is loaded from a single YAML file specified by:
//   - WARREN_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery: when neither is
// given, the compiled-in defaults apply unchanged. This keeps
// configuration deterministic and auditable, with no hidden overrides.
// The only expansion performed is ${VAR} and ${VAR:-default} patterns
// in path values, for portability.
package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for Warren.
type Config struct {
	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// ACP configures the agent protocol terminating proxy.
	ACP ACPConfig `yaml:"acp"`

	// Sandbox configures how agent subprocesses are wrapped.
	Sandbox SandboxConfig `yaml:"sandbox"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for Warren data.
	Root string `yaml:"root"`

	// Bin is where Warren binaries are installed. This provides
	// hermetic binary paths independent of user PATH. Contains:
	// warren-sandbox and friends.
	Bin string `yaml:"bin"`

	// State is where runtime state (transcripts, logs) is stored.
	State string `yaml:"state"`
}

// ACPConfig configures the agent protocol proxy.
type ACPConfig struct {
	// DefaultAgent is the agent binary spawned when the command line
	// names none. Default: claude.
	DefaultAgent string `yaml:"default_agent"`

	// SandboxWorkspace is the fixed path at which a session workspace
	// is mounted inside the sandbox. Default: /workspace.
	SandboxWorkspace string `yaml:"sandbox_workspace"`

	// HandshakeTimeout bounds each agent handshake request
	// (initialize, session/new). Default: 30s.
	HandshakeTimeout string `yaml:"handshake_timeout"`

	// EndTimeout bounds the drain after forwarding session/end to an
	// agent. Default: 5s.
	EndTimeout string `yaml:"end_timeout"`

	// SettleTimeout bounds the per-session drain during proxy
	// shutdown. Default: 2s.
	SettleTimeout string `yaml:"settle_timeout"`

	// TranscriptDir, when set, enables transcript recording: every
	// message crossing the proxy is appended to a compressed CBOR
	// stream in this directory. Empty disables recording.
	TranscriptDir string `yaml:"transcript_dir"`

	// MCPServersFile is an optional JSONC file of extra MCP server
	// definitions injected into every session/new forwarded to an
	// agent, after path translation.
	MCPServersFile string `yaml:"mcp_servers_file"`
}

// SandboxConfig configures how agent subprocesses are wrapped.
type SandboxConfig struct {
	// Launcher is the external sandbox launcher binary. It receives
	// the resolved workspace path and spawns the agent inside the
	// sandbox with stdio connected through. Default: warren-sandbox.
	Launcher string `yaml:"launcher"`

	// Profile is the sandbox profile passed to the launcher.
	// Default: developer.
	Profile string `yaml:"profile"`
}

// Default returns the default configuration. These defaults are the
// complete configuration when no config file is given.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "warren")

	return &Config{
		Paths: PathsConfig{
			Root:  defaultRoot,
			Bin:   filepath.Join(defaultRoot, "bin"),
			State: filepath.Join(defaultRoot, "state"),
		},
		ACP: ACPConfig{
			DefaultAgent:     "claude",
			SandboxWorkspace: "/workspace",
			HandshakeTimeout: "30s",
			EndTimeout:       "5s",
			SettleTimeout:    "2s",
		},
		Sandbox: SandboxConfig{
			Launcher: "warren-sandbox",
			Profile:  "developer",
		},
	}
}

// Load loads configuration from the WARREN_CONFIG environment
// variable, falling back to defaults when it is unset.
func Load() (*Config, error) {
	configPath := os.Getenv("WARREN_CONFIG")
	if configPath == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merging the
// file over the defaults. Environment variables do not override config
// values — the file is the single source of truth.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"WARREN_ROOT": c.Paths.Root,
		"HOME":        os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["WARREN_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.Bin = expandVars(c.Paths.Bin, vars)
	c.Paths.State = expandVars(c.Paths.State, vars)
	c.ACP.TranscriptDir = expandVars(c.ACP.TranscriptDir, vars)
	c.ACP.MCPServersFile = expandVars(c.ACP.MCPServersFile, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.ACP.DefaultAgent == "" {
		errs = append(errs, fmt.Errorf("acp.default_agent is required"))
	}
	if c.ACP.SandboxWorkspace == "" || !filepath.IsAbs(c.ACP.SandboxWorkspace) {
		errs = append(errs, fmt.Errorf("acp.sandbox_workspace must be an absolute path"))
	}
	if c.Sandbox.Launcher == "" {
		errs = append(errs, fmt.Errorf("sandbox.launcher is required"))
	}

	for name, value := range map[string]string{
		"acp.handshake_timeout": c.ACP.HandshakeTimeout,
		"acp.end_timeout":       c.ACP.EndTimeout,
		"acp.settle_timeout":    c.ACP.SettleTimeout,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// duration parses a config duration string, returning fallback when
// the string is empty or malformed. Malformed values are caught by
// Validate; the fallback here keeps direct Config construction in
// tests convenient.
func duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// HandshakeTimeoutDuration returns the parsed handshake timeout.
func (c ACPConfig) HandshakeTimeoutDuration() time.Duration {
	return duration(c.HandshakeTimeout, 30*time.Second)
}

// EndTimeoutDuration returns the parsed session/end drain timeout.
func (c ACPConfig) EndTimeoutDuration() time.Duration {
	return duration(c.EndTimeout, 5*time.Second)
}

// SettleTimeoutDuration returns the parsed shutdown settle timeout.
func (c ACPConfig) SettleTimeoutDuration() time.Duration {
	return duration(c.SettleTimeout, 2*time.Second)
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{c.Paths.Root, c.Paths.Bin, c.Paths.State}
	if c.ACP.TranscriptDir != "" {
		paths = append(paths, c.ACP.TranscriptDir)
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}

// BinaryPath returns the full path to a Warren binary. It looks in
// Paths.Bin first, then falls back to exec.LookPath. This provides
// hermetic binary resolution when Bin is configured.
func (c *Config) BinaryPath(name string) (string, error) {
	if c.Paths.Bin != "" {
		binPath := filepath.Join(c.Paths.Bin, name)
		if _, err := os.Stat(binPath); err == nil {
			return binPath, nil
		}
	}

	path, err := exec.LookPath(name)
	if err != nil {
		if c.Paths.Bin != "" {
			return "", fmt.Errorf("%s not found in %s or PATH", name, c.Paths.Bin)
		}
		return "", fmt.Errorf("%s not found in PATH", name)
	}
	return path, nil
}
