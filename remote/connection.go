// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tether-dev/tether/lib/ipc"
)

// proxyEnvVars are the local environment variables forwarded to the
// remote agent process when set. They control the agent's log level
// and crash diagnostics.
var proxyEnvVars = []string{"TETHER_LOG", "TETHER_BACKTRACE"}

// Channel capacities for one proxy. Outgoing is shallow — senders
// should feel backpressure from a slow pipe. Incoming is deeper so
// the reader loop can stay ahead of a briefly busy consumer.
const (
	outgoingBufferSize = 16
	incomingBufferSize = 256
)

// Connection is an established, verified session to one remote host:
// the secure channel is up, the platform is known, and the agent
// binary at remotePath has passed its version check. Connections are
// shared — the pool hands the same Connection to every caller for a
// key — so per-caller state lives in the Proxy, not here.
type Connection struct {
	key        ConnectionKey
	session    Session
	platform   Platform
	remotePath string
	logger     *slog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
}

// Key returns the connection's pool key.
func (c *Connection) Key() ConnectionKey { return c.key }

// Platform returns the probed remote platform.
func (c *Connection) Platform() Platform { return c.platform }

// RemoteBinaryPath returns the verified agent binary path on the
// remote host.
func (c *Connection) RemoteBinaryPath() string { return c.remotePath }

// Alive reports whether the underlying session has not been closed.
func (c *Connection) Alive() bool { return !c.closed.Load() }

// Close tears down the secure channel. Called by the pool when the
// last handle is released; safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.session.Close()
	})
	return err
}

// StartProxy launches the remote agent's proxy process over the
// session and returns a running Proxy bound to its pipes. Each call
// spawns a fresh process; concurrent proxies over one connection are
// independent. reconnect is forwarded as --reconnect so the agent can
// resume state from a previous proxy with the same identifier.
func (c *Connection) StartProxy(ctx context.Context, identifier string, reconnect bool) (*Proxy, error) {
	command := buildProxyCommand(c.remotePath, identifier, reconnect, os.Getenv)
	c.logger.Debug("starting proxy", "host", c.key.Host, "identifier", identifier, "reconnect", reconnect)

	process, err := c.session.Start(ctx, command)
	if err != nil {
		return nil, &StreamError{Stream: "spawn", Err: err}
	}

	outgoing := make(chan ipc.Envelope, outgoingBufferSize)
	incoming := make(chan ipc.Envelope, incomingBufferSize)
	activity := make(chan struct{}, 1)

	// The proxy's lifetime is owned by the returned handle, not by the
	// ctx that launched it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	proxy := &Proxy{
		identifier: identifier,
		outgoing:   outgoing,
		incoming:   incoming,
		activity:   activity,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	m := &multiplexer{
		process:  process,
		outgoing: outgoing,
		incoming: incoming,
		activity: activity,
		logger:   c.logger,
	}
	go func() {
		exitCode, err := m.run(runCtx)
		proxy.exitCode = exitCode
		proxy.err = err
		close(proxy.done)
		if err != nil {
			c.logger.Warn("proxy terminated", "identifier", identifier, "exit_code", exitCode, "error", err)
		} else {
			c.logger.Debug("proxy exited", "identifier", identifier, "exit_code", exitCode)
		}
	}()

	return proxy, nil
}

// Proxy is one running agent proxy process, exposed as a pair of
// envelope channels plus a completion signal.
type Proxy struct {
	identifier string
	outgoing   chan ipc.Envelope
	incoming   chan ipc.Envelope
	activity   chan struct{}
	cancel     context.CancelFunc
	done       chan struct{}

	// Set before done is closed.
	exitCode int
	err      error
}

// Identifier returns the --identifier the proxy was started with.
func (p *Proxy) Identifier() string { return p.identifier }

// Outgoing is the caller→remote envelope sink. Closing it shuts the
// proxy down cleanly: the writer loop finishes, stdin closes, and the
// agent exits.
func (p *Proxy) Outgoing() chan<- ipc.Envelope { return p.outgoing }

// Incoming is the remote→caller envelope stream, delivered in the
// order the agent wrote them. It is closed when the proxy terminates.
func (p *Proxy) Incoming() <-chan ipc.Envelope { return p.incoming }

// Activity receives a best-effort signal on every successful read or
// write. External heartbeat and idle policy consume it; signals are
// dropped when nobody is ready.
func (p *Proxy) Activity() <-chan struct{} { return p.activity }

// Done is closed when the proxy process has exited and all loops have
// stopped.
func (p *Proxy) Done() <-chan struct{} { return p.done }

// Wait blocks until the proxy terminates and returns its exit code
// and the first transport error, if any. A clean shutdown (closed
// Outgoing, or the agent closing stdout at a frame boundary) returns
// a nil error.
func (p *Proxy) Wait() (int, error) {
	<-p.done
	return p.exitCode, p.err
}

// Close kills the proxy process and waits for its loops to stop.
func (p *Proxy) Close() {
	p.cancel()
	<-p.done
}

// buildProxyCommand assembles the remote invocation:
//
//	TETHER_LOG=... <remotePath> proxy --identifier <id> [--reconnect]
//
// getenv supplies the local environment (parameterized for tests).
// All operands pass through shellQuote since the session hands the
// string to the remote shell.
func buildProxyCommand(remotePath, identifier string, reconnect bool, getenv func(string) string) string {
	var parts []string
	for _, name := range proxyEnvVars {
		if value := getenv(name); value != "" {
			parts = append(parts, name+"="+shellQuote(value))
		}
	}
	parts = append(parts, shellQuote(remotePath), "proxy", "--identifier", shellQuote(identifier))
	if reconnect {
		parts = append(parts, "--reconnect")
	}
	return strings.Join(parts, " ")
}

// shellQuote wraps s in single quotes for the remote POSIX shell,
// escaping embedded single quotes. Plain identifier-safe strings are
// returned as-is.
func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return false
		case r == '-' || r == '_' || r == '.' || r == '/' || r == '=':
			return false
		}
		return true
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
