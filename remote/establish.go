// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"fmt"
	"strings"
)

// establishConnection runs one connection attempt for key. The steps
// are ordered and each failure is terminal for the whole attempt:
// handshake, platform probe, agent provisioning, version check. The
// pool guarantees at most one attempt per key is in flight.
func establishConnection(ctx context.Context, key ConnectionKey, options Options) (*Connection, error) {
	options.Status("Connecting to " + key.String())
	session, err := options.Dialer.Dial(ctx, key)
	if err != nil {
		return nil, &EstablishError{Phase: PhaseHandshake, Err: err}
	}
	// Every failure past this point must tear the session down.

	platform, err := probePlatform(ctx, session)
	if err != nil {
		session.Close()
		return nil, &EstablishError{Phase: PhasePlatformProbe, Err: err}
	}
	options.Logger.Debug("probed remote platform", "host", key.Host, "platform", platform.String())

	options.Status("Checking remote agent")
	remotePath, err := options.Provisioner.EnsurePresent(ctx, session, platform)
	if err != nil {
		session.Close()
		return nil, &EstablishError{Phase: PhaseBinaryProvisioning, Err: err}
	}

	output, err := session.RunCommand(ctx, shellQuote(remotePath)+" version")
	if err != nil {
		session.Close()
		return nil, &EstablishError{Phase: PhaseVersionCheck, Err: fmt.Errorf("running %s version: %w", remotePath, err)}
	}
	options.Logger.Info("remote agent ready",
		"host", key.Host,
		"path", remotePath,
		"version", strings.TrimSpace(output))

	return &Connection{
		key:        key,
		session:    session,
		platform:   platform,
		remotePath: remotePath,
		logger:     options.Logger,
	}, nil
}

// probePlatform detects the remote OS and architecture by running a
// fixed uname command and normalizing the result to GOOS/GOARCH names.
func probePlatform(ctx context.Context, session Session) (Platform, error) {
	output, err := session.RunCommand(ctx, "uname -sm")
	if err != nil {
		return Platform{}, fmt.Errorf("running uname: %w", err)
	}
	return parsePlatform(output)
}

// parsePlatform normalizes "uname -sm" output. The ARM family name
// zoo (armv8l, armv9, arm64, aarch64) collapses to arm64; x86_64 and
// friends to amd64. Anything else has no agent build and is an error.
func parsePlatform(unameOutput string) (Platform, error) {
	fields := strings.Fields(unameOutput)
	if len(fields) != 2 {
		return Platform{}, fmt.Errorf("unexpected uname output %q", strings.TrimSpace(unameOutput))
	}

	osName := strings.ToLower(fields[0])
	switch osName {
	case "linux", "darwin":
	default:
		return Platform{}, fmt.Errorf("unsupported remote OS %q", fields[0])
	}

	machine := strings.ToLower(fields[1])
	var arch string
	switch {
	case strings.HasPrefix(machine, "armv8"),
		strings.HasPrefix(machine, "armv9"),
		strings.HasPrefix(machine, "arm64"),
		strings.HasPrefix(machine, "aarch64"):
		arch = "arm64"
	case strings.HasPrefix(machine, "x86"):
		arch = "amd64"
	default:
		return Platform{}, fmt.Errorf("unsupported remote architecture %q", fields[1])
	}

	return Platform{OS: osName, Arch: arch}, nil
}
