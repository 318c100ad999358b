// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides the secure channels the connection pool
// dials through. It implements the remote.Dialer and remote.Session
// interfaces; everything above this package is transport-agnostic and
// sees only sessions, commands, and piped processes.
//
// The production implementation, [SSHDialer], speaks SSH via
// golang.org/x/crypto/ssh: public key authentication from an identity
// file, an ssh-agent when SSH_AUTH_SOCK is set, interactive password
// fallback, known_hosts host key verification, and ProxyJump chains
// of intermediate hosts in OpenSSH -J syntax. Uploads stream through
// gzip into "gunzip -c" on the remote side, so the only remote
// prerequisites are a POSIX shell and gunzip.
//
// [MemoryDialer] is an in-process implementation for tests: command
// output is scripted, uploads land in a map, and the proxy process is
// a goroutine over in-memory pipes.
package transport
