// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

// Package workspace resolves the workspace root for a session working
// directory.
//
// Editors hand the proxy an arbitrary cwd, often a subdirectory deep
// inside a checkout. The sandbox mounts whole workspaces, so the proxy
// needs the enclosing root: the nearest version-control root wins, then
// the nearest directory carrying a recognizable project marker, and as
// a last resort the cwd itself.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// vcsEntries are directory entries that mark a version-control root.
// Checked as plain stat hits: .git may be a file in git worktrees and
// submodules, not just a directory.
var vcsEntries = []string{".git", ".hg", ".svn"}

// projectMarkers are files whose presence marks a project root when no
// version control root encloses the cwd.
var projectMarkers = []string{
	"go.mod",
	"package.json",
	"Cargo.toml",
	"pyproject.toml",
	"setup.py",
	"Makefile",
}

// Resolve returns the workspace root enclosing cwd and the relative
// offset of cwd beneath it ("." when cwd is the root itself). cwd must
// name an existing directory.
func Resolve(cwd string) (root string, offset string, err error) {
	absolute, err := filepath.Abs(cwd)
	if err != nil {
		return "", "", fmt.Errorf("resolving %q: %w", cwd, err)
	}
	info, err := os.Stat(absolute)
	if err != nil {
		return "", "", fmt.Errorf("resolving workspace for %q: %w", cwd, err)
	}
	if !info.IsDir() {
		return "", "", fmt.Errorf("resolving workspace: %q is not a directory", cwd)
	}

	root = findUpward(absolute, hasVCSEntry)
	if root == "" {
		root = findUpward(absolute, hasProjectMarker)
	}
	if root == "" {
		root = absolute
	}

	offset, err = filepath.Rel(root, absolute)
	if err != nil {
		return "", "", fmt.Errorf("computing offset of %q under %q: %w", absolute, root, err)
	}
	return root, offset, nil
}

// findUpward walks from dir toward the filesystem root and returns the
// first directory for which match returns true, or "" if none does.
func findUpward(dir string, match func(string) bool) string {
	for {
		if match(dir) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func hasVCSEntry(dir string) bool {
	for _, entry := range vcsEntries {
		if _, err := os.Stat(filepath.Join(dir, entry)); err == nil {
			return true
		}
	}
	return false
}

func hasProjectMarker(dir string) bool {
	for _, marker := range projectMarkers {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}
