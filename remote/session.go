// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"io"
)

// Dialer opens secure sessions to remote hosts. The SSH implementation
// lives in the transport package; tests use an in-memory one.
type Dialer interface {
	// Dial performs the secure channel handshake and authentication
	// for key. The returned session is ready to run commands.
	Dial(ctx context.Context, key ConnectionKey) (Session, error)
}

// Session is an established secure channel to one remote host. A
// session outlives individual commands and proxy processes: the pool
// holds it open and hands it to every caller connecting to the same
// key.
type Session interface {
	// RunCommand runs a shell command on the remote host and returns
	// its combined output. The command string is interpreted by the
	// remote shell.
	RunCommand(ctx context.Context, command string) (string, error)

	// Start launches a long-running remote command with stdin, stdout,
	// and stderr piped. The command keeps running after Start returns;
	// the caller owns the returned process.
	Start(ctx context.Context, command string) (ProxyProcess, error)

	// Upload streams the local file at localPath to remotePath on the
	// remote host and makes it executable.
	Upload(ctx context.Context, localPath, remotePath string) error

	// Close tears down the secure channel. Any processes started over
	// the session lose their pipes.
	Close() error
}

// ProxyProcess is a running remote process with piped stdio. Each pipe
// is owned exclusively by one multiplexer loop; the process itself is
// reaped exactly once via Wait.
type ProxyProcess interface {
	// Stdin is the process's input pipe. Closing it signals a healthy
	// agent to shut down.
	Stdin() io.WriteCloser

	// Stdout is the process's output pipe.
	Stdout() io.Reader

	// Stderr is the process's diagnostic pipe.
	Stderr() io.Reader

	// Wait blocks until the process exits and returns its exit code.
	// When the process cannot report one (killed by a signal, channel
	// torn down), Wait returns 1.
	Wait() int

	// Kill terminates the process and unblocks all three pipes.
	// Best-effort: the process lives beyond a network hop, so delivery
	// of the signal is not guaranteed.
	Kill()
}
