// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package fs provides filesystem confinement helpers. The frame service only
// ever opens paths resolved through ConfineRelPath against a configured
// library root; symlinks that escape the root are rejected.
package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ConfineRelPath resolves relTarget against root and verifies the result
// stays inside root after symlink resolution. Returns the absolute path.
func ConfineRelPath(root, relTarget string) (string, error) {
	if filepath.IsAbs(relTarget) {
		return "", fmt.Errorf("absolute path not allowed: %s", relTarget)
	}

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		return "", fmt.Errorf("resolve root symlinks: %w", err)
	}

	candidate := filepath.Join(realRoot, relTarget)
	return confine(realRoot, candidate)
}

// ConfineAbsPath verifies targetAbs stays inside rootAbs after symlink
// resolution.
func ConfineAbsPath(rootAbs, targetAbs string) (string, error) {
	realRoot, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		return "", fmt.Errorf("resolve root symlinks: %w", err)
	}
	return confine(realRoot, targetAbs)
}

// confine resolves symlinks on candidate (or its parent when the leaf does
// not exist yet) and checks the result is under realRoot.
func confine(realRoot, candidate string) (string, error) {
	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("resolve target: %w", err)
		}
		// Leaf may not exist yet: resolve the parent, re-join the leaf.
		parent, leaf := filepath.Split(candidate)
		realParent, perr := filepath.EvalSymlinks(filepath.Clean(parent))
		if perr != nil {
			return "", fmt.Errorf("resolve target parent: %w", perr)
		}
		resolved = filepath.Join(realParent, leaf)
	}

	rel, err := filepath.Rel(realRoot, resolved)
	if err != nil {
		return "", fmt.Errorf("relativize target: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes root: %s", rel)
	}
	return resolved, nil
}

// IsRegularFile verifies the path exists and is a regular file.
func IsRegularFile(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", path)
	}
	return nil
}
