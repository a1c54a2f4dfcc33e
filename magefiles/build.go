//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

// Build targets for pantry.
//
//	mage build             compile bin/pantry
//	mage test:all          unit tests for every package
//	mage test:integration  Postgres tests in containers (needs docker or podman)
//	mage lint              golangci-lint
//	mage clean             remove build artifacts
//	mage install           copy bin/pantry to GOPATH/bin
package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binGo       = "go"
	binGit      = "git"
	binaryName  = "pantry"
	binaryDir   = "bin"
	cmdDir      = "./cmd/pantry"
	versionVar  = "github.com/mesh-intelligence/pantry/internal/cli.Version"
	fallbackTag = "0.1.0-dev"
)

// version returns the nearest git tag without its leading "v".
func version() string {
	out, err := sh.Output(binGit, "describe", "--tags", "--always", "--dirty")
	if err != nil || out == "" {
		return fallbackTag
	}
	return strings.TrimPrefix(out, "v")
}

// Build compiles the pantry binary to bin/, stamping the version.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	ldflags := "-X " + versionVar + "=" + version()
	return sh.RunV(binGo, "build", "-v", "-ldflags", ldflags, "-o", filepath.Join(binaryDir, binaryName), cmdDir)
}

// Clean removes build artifacts.
func Clean() error {
	if err := os.RemoveAll(binaryDir); err != nil {
		return err
	}
	return sh.RunV(binGo, "clean")
}

// Install builds and copies the binary to GOPATH/bin.
func Install() error {
	mg.Deps(Build)
	gopath, err := sh.Output(binGo, "env", "GOPATH")
	if err != nil {
		return err
	}
	src := filepath.Join(binaryDir, binaryName)
	dst := filepath.Join(gopath, "bin", binaryName)
	if err := sh.Copy(dst, src); err != nil {
		return err
	}
	return os.Chmod(dst, 0o755)
}
