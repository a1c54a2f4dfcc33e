//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Test groups test targets (all, race, integration, cover).
type Test mg.Namespace

// All runs the unit tests of every package.
func (Test) All() error {
	return sh.RunV(binGo, "test", "./...")
}

// Race runs the unit tests with the race detector.
func (Test) Race() error {
	return sh.RunV(binGo, "test", "-race", "./...")
}

// Integration runs the tests behind the integration build tag. They start
// Postgres with testcontainers, so a container runtime must be available.
func (Test) Integration() error {
	if containerRuntime() == "" {
		return fmt.Errorf("integration tests need docker or podman on PATH")
	}
	return sh.RunV(binGo, "test", "-tags", "integration", "-count=1", "./...")
}

// Cover writes a coverage profile to bin/coverage.out and prints the summary.
func (Test) Cover() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	profile := filepath.Join(binaryDir, "coverage.out")
	if err := sh.RunV(binGo, "test", "-coverprofile", profile, "./..."); err != nil {
		return err
	}
	return sh.RunV(binGo, "tool", "cover", "-func", profile)
}

// containerRuntime returns "podman" or "docker" if a working runtime is
// available, or "" if neither is usable.
func containerRuntime() string {
	for _, name := range []string{"podman", "docker"} {
		if _, err := exec.LookPath(name); err != nil {
			continue
		}
		if exec.Command(name, "info").Run() != nil {
			continue
		}
		return name
	}
	return ""
}
