// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/tether-dev/tether/lib/ipc"
)

// Client is one caller's live connection to a remote host: a pooled
// session handle plus a running proxy process. It is the package's
// high-level surface; callers that manage proxies themselves can use
// Pool.Acquire and Connection.StartProxy directly.
type Client struct {
	pool       *Pool
	key        ConnectionKey
	identifier string

	mu     sync.Mutex
	handle *Handle
	proxy  *Proxy
}

// Connect acquires (or reuses) a connection for key and starts a
// proxy process on it. identifier names the remote session for state
// resumption; empty generates a fresh one.
func (p *Pool) Connect(ctx context.Context, key ConnectionKey, identifier string) (*Client, error) {
	if identifier == "" {
		identifier = newIdentifier()
	}

	handle, err := p.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}

	proxy, err := handle.Connection().StartProxy(ctx, identifier, false)
	if err != nil {
		handle.Release()
		return nil, fmt.Errorf("starting proxy: %w", err)
	}

	return &Client{
		pool:       p,
		key:        key,
		identifier: identifier,
		handle:     handle,
		proxy:      proxy,
	}, nil
}

// Identifier returns the remote session identifier.
func (c *Client) Identifier() string { return c.identifier }

// Proxy returns the current proxy. After Reconnect the previous
// Proxy's channels are dead; re-read them from here.
func (c *Client) Proxy() *Proxy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proxy
}

// Outgoing is the caller→remote envelope sink of the current proxy.
func (c *Client) Outgoing() chan<- ipc.Envelope { return c.Proxy().Outgoing() }

// Incoming is the remote→caller envelope stream of the current proxy.
func (c *Client) Incoming() <-chan ipc.Envelope { return c.Proxy().Incoming() }

// Activity is the current proxy's activity beacon.
func (c *Client) Activity() <-chan struct{} { return c.Proxy().Activity() }

// Wait blocks until the current proxy terminates, returning its exit
// code and first transport error.
func (c *Client) Wait() (int, error) { return c.Proxy().Wait() }

// Done is closed when the current proxy has terminated.
func (c *Client) Done() <-chan struct{} { return c.Proxy().Done() }

// Reconnect tears down the current proxy and starts a fresh one with
// --reconnect, re-establishing the underlying session first if it
// died. Reconnection is always caller-initiated: the pool never
// retries on its own.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.proxy.Close()

	// Acquire before releasing the old handle so a still-healthy
	// session stays pooled instead of being torn down and redialed.
	handle, err := c.pool.Acquire(ctx, c.key)
	if err != nil {
		c.handle.Release()
		return err
	}
	proxy, err := handle.Connection().StartProxy(ctx, c.identifier, true)
	if err != nil {
		handle.Release()
		c.handle.Release()
		return fmt.Errorf("starting proxy: %w", err)
	}

	c.handle.Release()
	c.handle = handle
	c.proxy = proxy
	return nil
}

// Close kills the proxy process and releases the connection handle.
// If this was the last handle for the key, the session is torn down.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.proxy.Close()
	c.handle.Release()
}

// newIdentifier generates a random proxy identifier.
func newIdentifier() string {
	var raw [8]byte
	_, _ = rand.Read(raw[:])
	return "tether-" + hex.EncodeToString(raw[:])
}
