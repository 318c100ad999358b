// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"log/slog"
	"sync"
)

// StatusFunc receives human-readable progress text during connection
// establishment ("Connecting to …", "Checking remote agent"). UI
// layers render it; the default discards it.
type StatusFunc func(status string)

// Options configures a Pool. Dialer and Provisioner are required;
// Status and Logger default to no-op and slog.Default.
type Options struct {
	Dialer      Dialer
	Provisioner Provisioner
	Status      StatusFunc
	Logger      *slog.Logger
}

// Pool is the process-wide connection registry: a keyed, single-flight
// cache of established sessions. For each key at most one
// establishment attempt is ever in flight, and every concurrent caller
// for that key shares its outcome. Established connections are handed
// out through reference-counted handles; releasing the last handle
// closes the session and removes the entry.
//
// The entries map is the only shared mutable state in this package and
// every access to it happens under mu. Nothing slow runs under the
// lock: establishment, proxy launch, and session teardown all happen
// outside it.
type Pool struct {
	options Options

	mu      sync.Mutex
	entries map[ConnectionKey]*poolEntry
}

// poolEntry is the registry's record for one key. It starts
// connecting and either becomes connected or is removed. All fields
// after ready are written exactly once, before ready is closed.
type poolEntry struct {
	// ready is closed when the establishment attempt resolves, for
	// better or worse.
	ready chan struct{}

	// cancelEstablish aborts the in-flight attempt. Called when the
	// last interested waiter gives up.
	cancelEstablish context.CancelFunc

	// waiters counts callers between enqueueing on this entry and
	// resolving their Acquire call.
	waiters int

	// abandoned is set when every waiter gave up mid-establishment.
	abandoned bool

	// connected is true once conn is usable.
	connected bool

	// conn and err are the attempt's outcome; exactly one is set.
	// err is shared by every waiter — it must stay immutable.
	conn *Connection
	err  error

	// refs counts outstanding handles on a connected entry.
	refs int
}

// NewPool creates a connection pool. Dialer and Provisioner must be
// set; NewPool panics otherwise, since no later call could succeed.
func NewPool(options Options) *Pool {
	if options.Dialer == nil {
		panic("remote: NewPool requires a Dialer")
	}
	if options.Provisioner == nil {
		panic("remote: NewPool requires a Provisioner")
	}
	if options.Status == nil {
		options.Status = func(string) {}
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Pool{
		options: options,
		entries: make(map[ConnectionKey]*poolEntry),
	}
}

// Acquire returns a handle on an established connection for key,
// reusing a live session when one exists, joining an in-flight
// establishment when one is running, and starting a new attempt
// otherwise. Cancelling ctx abandons the caller's interest; when the
// last interested caller abandons a connecting entry, the attempt
// itself is aborted.
func (p *Pool) Acquire(ctx context.Context, key ConnectionKey) (*Handle, error) {
	for {
		p.mu.Lock()
		entry := p.entries[key]

		if entry == nil {
			// First caller for this key: start the single attempt.
			establishCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			entry = &poolEntry{
				ready:           make(chan struct{}),
				cancelEstablish: cancel,
				waiters:         1,
			}
			p.entries[key] = entry
			p.mu.Unlock()
			go p.establish(establishCtx, key, entry)
			return p.wait(ctx, key, entry)
		}

		if !entry.connected && entry.err == nil {
			// An attempt is in flight; join it.
			entry.waiters++
			p.mu.Unlock()
			return p.wait(ctx, key, entry)
		}

		if entry.connected && entry.conn.Alive() {
			entry.refs++
			p.mu.Unlock()
			return &Handle{pool: p, key: key, entry: entry, conn: entry.conn}, nil
		}

		// The session died underneath its entry (transport failure
		// closed it). Discard and retry with a fresh attempt.
		if p.entries[key] == entry {
			delete(p.entries, key)
		}
		p.mu.Unlock()
	}
}

// wait blocks a caller on an in-flight entry until the attempt
// resolves or the caller's ctx is cancelled.
func (p *Pool) wait(ctx context.Context, key ConnectionKey, entry *poolEntry) (*Handle, error) {
	select {
	case <-entry.ready:
		p.mu.Lock()
		defer p.mu.Unlock()
		entry.waiters--
		if entry.err != nil {
			return nil, entry.err
		}
		entry.refs++
		return &Handle{pool: p, key: key, entry: entry, conn: entry.conn}, nil

	case <-ctx.Done():
		p.mu.Lock()
		defer p.mu.Unlock()
		entry.waiters--
		if !entry.connected && entry.err == nil {
			// Still connecting. If nobody else is interested, abort
			// the attempt; its completion will notify any waiter that
			// squeezes in between now and removal.
			if entry.waiters == 0 {
				entry.abandoned = true
				entry.cancelEstablish()
			}
		} else if entry.connected && entry.waiters == 0 && entry.refs == 0 {
			// The attempt succeeded in the race window but every
			// caller is gone. Nobody holds a handle, so nobody would
			// ever release the entry — drop it here.
			p.removeEntry(key, entry)
			go entry.conn.Close()
		}
		return nil, ctx.Err()
	}
}

// establish runs the single establishment attempt for entry and
// publishes its outcome. Runs outside the pool lock; only the final
// bookkeeping takes it.
func (p *Pool) establish(ctx context.Context, key ConnectionKey, entry *poolEntry) {
	conn, err := establishConnection(ctx, key, p.options)

	p.mu.Lock()
	switch {
	case entry.abandoned:
		// Every caller gave up. Whatever happened, the result has no
		// taker; surface the abandonment to stragglers.
		entry.err = ErrDroppedWhileConnecting
		p.removeEntry(key, entry)
	case err != nil:
		entry.err = err
		p.removeEntry(key, entry)
		p.options.Logger.Warn("connection failed", "host", key.Host, "error", err)
	default:
		entry.conn = conn
		entry.connected = true
	}
	close(entry.ready)
	p.mu.Unlock()

	if entry.err != nil && conn != nil {
		conn.Close()
	}
}

// removeEntry deletes entry from the registry if it is still the
// current record for key. The guard keeps an entry from being removed
// twice when a successor entry already took the slot.
func (p *Pool) removeEntry(key ConnectionKey, entry *poolEntry) {
	if p.entries[key] == entry {
		delete(p.entries, key)
	}
}

// release drops one handle's reference. The last reference removes
// the entry and closes the session.
func (p *Pool) release(key ConnectionKey, entry *poolEntry) {
	p.mu.Lock()
	entry.refs--
	last := entry.refs == 0 && entry.waiters == 0
	if last {
		p.removeEntry(key, entry)
	}
	p.mu.Unlock()

	if last {
		entry.conn.Close()
	}
}

// entryCount returns the number of live registry entries. Test hook.
func (p *Pool) entryCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// waiterCount returns the number of callers blocked on key's entry.
// Test hook.
func (p *Pool) waiterCount(key ConnectionKey) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry := p.entries[key]; entry != nil {
		return entry.waiters
	}
	return 0
}

// Handle is one caller's reference to a pooled connection. Releasing
// it may tear down the session, so callers must not use the
// connection afterwards.
type Handle struct {
	pool  *Pool
	key   ConnectionKey
	entry *poolEntry
	conn  *Connection

	releaseOnce sync.Once
}

// Connection returns the established connection this handle refers to.
func (h *Handle) Connection() *Connection { return h.conn }

// Release drops the reference. When the last handle for a key is
// released, the entry is removed and the session closed. Safe to call
// more than once.
func (h *Handle) Release() {
	h.releaseOnce.Do(func() {
		h.pool.release(h.key, h.entry)
	})
}
