// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tether-dev/tether/lib/testutil"
)

// stubSession satisfies Session with scripted command output. Start is
// unused by the pool tests.
type stubSession struct {
	closed atomic.Bool
}

func (s *stubSession) RunCommand(ctx context.Context, command string) (string, error) {
	if s.closed.Load() {
		return "", errors.New("session closed")
	}
	if command == "uname -sm" {
		return "Linux x86_64\n", nil
	}
	return "0.1.0-test\n", nil
}

func (s *stubSession) Start(ctx context.Context, command string) (ProxyProcess, error) {
	return nil, errors.New("stub session cannot start processes")
}

func (s *stubSession) Upload(ctx context.Context, localPath, remotePath string) error {
	return nil
}

func (s *stubSession) Close() error {
	s.closed.Store(true)
	return nil
}

// stubDialer counts dials and can stall behind a gate or fail with a
// fixed error. ignoreCancel makes a gated dial press on even after
// its context is cancelled, like a handshake past the point of no
// return.
type stubDialer struct {
	gate         chan struct{}
	ignoreCancel bool
	err          error

	dials    atomic.Int32
	sessions []*stubSession
	mu       sync.Mutex
}

func (d *stubDialer) Dial(ctx context.Context, key ConnectionKey) (Session, error) {
	d.dials.Add(1)
	if d.gate != nil {
		if d.ignoreCancel {
			<-d.gate
		} else {
			select {
			case <-d.gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	session := &stubSession{}
	d.mu.Lock()
	d.sessions = append(d.sessions, session)
	d.mu.Unlock()
	return session, nil
}

func (d *stubDialer) lastSession() *stubSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sessions) == 0 {
		return nil
	}
	return d.sessions[len(d.sessions)-1]
}

// stubProvisioner reports a fixed remote path without uploading.
type stubProvisioner struct{}

func (stubProvisioner) ResolvePath(ctx context.Context, platform Platform) (string, error) {
	return "/home/dev/.tether/bin/tether-agent", nil
}

func (stubProvisioner) EnsurePresent(ctx context.Context, session Session, platform Platform) (string, error) {
	return "/home/dev/.tether/bin/tether-agent", nil
}

func testKey(host string) ConnectionKey {
	return ConnectionKey{Host: host, Port: 22, User: "dev"}
}

func newTestPool(dialer *stubDialer) *Pool {
	return NewPool(Options{
		Dialer:      dialer,
		Provisioner: stubProvisioner{},
		Logger:      discardLogger(),
	})
}

// Concurrent acquires for one key must share a single establishment
// attempt and all succeed with the same connection.
func TestPoolSingleFlight(t *testing.T) {
	dialer := &stubDialer{gate: make(chan struct{})}
	pool := newTestPool(dialer)
	key := testKey("build-host")

	const callers = 8
	type outcome struct {
		handle *Handle
		err    error
	}
	results := make(chan outcome, callers)
	for i := 0; i < callers; i++ {
		go func() {
			handle, err := pool.Acquire(context.Background(), key)
			results <- outcome{handle, err}
		}()
	}
	close(dialer.gate)

	var handles []*Handle
	for i := 0; i < callers; i++ {
		r := testutil.RequireReceive(t, results, testTimeout, "caller %d", i)
		if r.err != nil {
			t.Fatalf("Acquire() error = %v", r.err)
		}
		handles = append(handles, r.handle)
	}

	if got := dialer.dials.Load(); got != 1 {
		t.Errorf("dial count = %d, want 1", got)
	}
	for i, handle := range handles[1:] {
		if handle.Connection() != handles[0].Connection() {
			t.Errorf("caller %d got a different connection", i+1)
		}
	}

	for _, handle := range handles {
		handle.Release()
	}
	if got := pool.entryCount(); got != 0 {
		t.Errorf("entry count after release = %d, want 0", got)
	}
	if session := dialer.lastSession(); !session.closed.Load() {
		t.Error("session not closed after last release")
	}
}

// A failed attempt delivers the identical error value to every waiter
// and leaves no entry behind.
func TestPoolFailureFanOut(t *testing.T) {
	dialFailure := errors.New("connection refused")
	dialer := &stubDialer{gate: make(chan struct{}), err: dialFailure}
	pool := newTestPool(dialer)
	key := testKey("unreachable")

	const callers = 4
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			_, err := pool.Acquire(context.Background(), key)
			results <- err
		}()
	}
	waitForCondition(t, func() bool { return pool.waiterCount(key) == callers })
	close(dialer.gate)

	var first error
	for i := 0; i < callers; i++ {
		err := testutil.RequireReceive(t, results, testTimeout, "caller %d", i)
		if err == nil {
			t.Fatal("Acquire() succeeded, want failure")
		}
		if first == nil {
			first = err
		} else if err != first {
			t.Errorf("caller %d got a distinct error value: %v", i, err)
		}
	}

	var establishErr *EstablishError
	if !errors.As(first, &establishErr) {
		t.Fatalf("error = %v, want *EstablishError", first)
	}
	if establishErr.Phase != PhaseHandshake {
		t.Errorf("phase = %q, want %q", establishErr.Phase, PhaseHandshake)
	}
	if !errors.Is(first, dialFailure) {
		t.Errorf("error %v does not wrap the dial failure", first)
	}

	if got := pool.entryCount(); got != 0 {
		t.Errorf("entry count after failure = %d, want 0", got)
	}
}

// A failure must not poison the key: the next acquire starts a fresh
// attempt.
func TestPoolRetriesAfterFailure(t *testing.T) {
	dialer := &stubDialer{err: errors.New("transient failure")}
	pool := newTestPool(dialer)
	key := testKey("flaky")

	if _, err := pool.Acquire(context.Background(), key); err == nil {
		t.Fatal("first Acquire() succeeded, want failure")
	}

	dialer.err = nil
	handle, err := pool.Acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("second Acquire() error = %v", err)
	}
	defer handle.Release()

	if got := dialer.dials.Load(); got != 2 {
		t.Errorf("dial count = %d, want 2", got)
	}
}

// Different keys establish independently.
func TestPoolIndependentKeys(t *testing.T) {
	dialer := &stubDialer{}
	pool := newTestPool(dialer)

	handleA, err := pool.Acquire(context.Background(), testKey("host-a"))
	if err != nil {
		t.Fatalf("Acquire(host-a) error = %v", err)
	}
	defer handleA.Release()
	handleB, err := pool.Acquire(context.Background(), testKey("host-b"))
	if err != nil {
		t.Fatalf("Acquire(host-b) error = %v", err)
	}
	defer handleB.Release()

	if got := dialer.dials.Load(); got != 2 {
		t.Errorf("dial count = %d, want 2", got)
	}
	if got := pool.entryCount(); got != 2 {
		t.Errorf("entry count = %d, want 2", got)
	}
}

// When every waiter cancels mid-establishment the attempt is aborted
// and the key is free for a fresh attempt. No caller hangs.
func TestPoolAbandonedAttempt(t *testing.T) {
	dialer := &stubDialer{gate: make(chan struct{})}
	pool := newTestPool(dialer)
	key := testKey("slow-host")

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan error, 1)
	go func() {
		_, err := pool.Acquire(ctx, key)
		results <- err
	}()

	// Wait for the attempt to be in flight, then abandon it.
	waitForCondition(t, func() bool { return dialer.dials.Load() == 1 })
	cancel()

	err := testutil.RequireReceive(t, results, testTimeout, "abandoned caller")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Acquire() error = %v, want context.Canceled", err)
	}

	// The aborted attempt resolves and removes its entry.
	waitForCondition(t, func() bool { return pool.entryCount() == 0 })

	// A fresh acquire starts over.
	close(dialer.gate)
	handle, err := pool.Acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("fresh Acquire() error = %v", err)
	}
	handle.Release()
	if got := dialer.dials.Load(); got != 2 {
		t.Errorf("dial count = %d, want 2", got)
	}
}

// A waiter that joins an attempt after every earlier caller abandoned
// it must get the dropped-while-connecting error when the attempt
// resolves, even if the establishment itself would have succeeded.
func TestPoolStragglerSeesDroppedError(t *testing.T) {
	dialer := &stubDialer{gate: make(chan struct{}), ignoreCancel: true}
	pool := newTestPool(dialer)
	key := testKey("abandoned-host")

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := pool.Acquire(ctx, key)
		first <- err
	}()

	// Abandon the attempt while the dial is stuck past cancellation.
	waitForCondition(t, func() bool { return dialer.dials.Load() == 1 })
	cancel()
	err := testutil.RequireReceive(t, first, testTimeout, "abandoning caller")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("abandoning caller error = %v, want context.Canceled", err)
	}

	// A second caller squeezes in before the attempt resolves and
	// joins the abandoned entry.
	straggler := make(chan error, 1)
	go func() {
		_, err := pool.Acquire(context.Background(), key)
		straggler <- err
	}()
	waitForCondition(t, func() bool { return pool.waiterCount(key) == 1 })

	// The dial now completes successfully, but the attempt was
	// already abandoned: the straggler gets the drop error, not a
	// connection.
	close(dialer.gate)
	err = testutil.RequireReceive(t, straggler, testTimeout, "straggling caller")
	if !errors.Is(err, ErrDroppedWhileConnecting) {
		t.Fatalf("straggler error = %v, want ErrDroppedWhileConnecting", err)
	}

	if got := pool.entryCount(); got != 0 {
		t.Errorf("entry count = %d, want 0", got)
	}
	if session := dialer.lastSession(); session != nil && !session.closed.Load() {
		t.Error("orphaned session not closed after abandoned attempt")
	}

	// The key is free: a fresh acquire starts over and succeeds.
	handle, err := pool.Acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("fresh Acquire() error = %v", err)
	}
	handle.Release()
	if got := dialer.dials.Load(); got != 2 {
		t.Errorf("dial count = %d, want 2", got)
	}
}

// A connection that died underneath its entry is discarded and
// re-established on the next acquire.
func TestPoolReplacesDeadConnection(t *testing.T) {
	dialer := &stubDialer{}
	pool := newTestPool(dialer)
	key := testKey("dying-host")

	handle, err := pool.Acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	handle.Connection().Close()

	fresh, err := pool.Acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("second Acquire() error = %v", err)
	}
	defer fresh.Release()
	handle.Release()

	if got := dialer.dials.Load(); got != 2 {
		t.Errorf("dial count = %d, want 2", got)
	}
	if fresh.Connection() == handle.Connection() {
		t.Error("second Acquire returned the dead connection")
	}
}

// Release is idempotent; double-releasing one handle must not tear
// down a connection another handle still uses.
func TestPoolDoubleRelease(t *testing.T) {
	dialer := &stubDialer{}
	pool := newTestPool(dialer)
	key := testKey("shared-host")

	first, err := pool.Acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	second, err := pool.Acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	first.Release()
	first.Release()

	if !second.Connection().Alive() {
		t.Fatal("connection closed while a handle is outstanding")
	}
	second.Release()
	if second.Connection().Alive() {
		t.Error("connection still alive after last release")
	}
}

// waitForCondition polls until condition holds or the timeout fires.
func waitForCondition(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}
