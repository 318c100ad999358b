// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tether-dev/tether/lib/binhash"
)

// Provisioner resolves and installs the platform-matching agent binary
// on a remote host. Build and cross-compilation mechanics are outside
// this package; the provisioner only needs to find a finished binary
// locally and make it current remotely.
type Provisioner interface {
	// ResolvePath returns the local path of an agent binary built for
	// platform.
	ResolvePath(ctx context.Context, platform Platform) (string, error)

	// EnsurePresent makes sure a current agent binary exists on the
	// remote host, uploading it if necessary, and returns its remote
	// path.
	EnsurePresent(ctx context.Context, session Session, platform Platform) (string, error)
}

// defaultRemoteDir is where agent binaries are installed, relative to
// the remote user's home directory (remote commands start there).
const defaultRemoteDir = ".tether/bin"

// UploadProvisioner implements Provisioner by uploading a locally
// built agent binary over the session. Uploaded binaries are named
// after their content fingerprint, so currency on the remote host is
// a pure existence check: if the fingerprinted path exists, the bytes
// match and the upload is skipped.
type UploadProvisioner struct {
	// LocalBinaries maps a platform to the local path of an agent
	// binary built for it. Checked before BinaryDir.
	LocalBinaries map[Platform]string

	// BinaryDir is a directory searched for binaries named
	// "tether-agent-<os>-<arch>". Used when LocalBinaries has no entry
	// for the platform.
	BinaryDir string

	// RemoteDir is the remote installation directory. Empty means
	// ".tether/bin" under the remote home directory.
	RemoteDir string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (p *UploadProvisioner) ResolvePath(ctx context.Context, platform Platform) (string, error) {
	if path, ok := p.LocalBinaries[platform]; ok {
		return path, nil
	}
	if p.BinaryDir != "" {
		path := filepath.Join(p.BinaryDir, fmt.Sprintf("tether-agent-%s-%s", platform.OS, platform.Arch))
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no agent binary for %s", platform)
}

func (p *UploadProvisioner) EnsurePresent(ctx context.Context, session Session, platform Platform) (string, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	localPath, err := p.ResolvePath(ctx, platform)
	if err != nil {
		return "", err
	}

	digest, err := binhash.HashFile(localPath)
	if err != nil {
		return "", fmt.Errorf("fingerprinting %s: %w", localPath, err)
	}

	remoteDir := p.RemoteDir
	if remoteDir == "" {
		remoteDir = defaultRemoteDir
	}
	remotePath := fmt.Sprintf("%s/tether-agent-%s-%s-%s",
		remoteDir, platform.OS, platform.Arch, binhash.FormatDigest(digest)[:16])

	// Fingerprinted name: existence implies currency.
	if _, err := session.RunCommand(ctx, "test -x "+shellQuote(remotePath)); err == nil {
		logger.Debug("remote agent already current", "path", remotePath)
		return remotePath, nil
	}

	logger.Info("uploading agent binary", "from", localPath, "to", remotePath)
	if _, err := session.RunCommand(ctx, "mkdir -p "+shellQuote(remoteDir)); err != nil {
		return "", fmt.Errorf("creating remote directory %s: %w", remoteDir, err)
	}
	if err := session.Upload(ctx, localPath, remotePath); err != nil {
		return "", fmt.Errorf("uploading agent binary: %w", err)
	}

	return remotePath, nil
}
