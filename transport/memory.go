// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tether-dev/tether/remote"
)

// Compile-time interface checks.
var (
	_ remote.Dialer       = (*MemoryDialer)(nil)
	_ remote.Session      = (*MemorySession)(nil)
	_ remote.ProxyProcess = (*memoryProcess)(nil)
)

// ProxyHandler plays the remote side of a proxy process in tests: it
// reads the process's stdin, writes its stdout and stderr, and
// returns the exit code. The pipes close when the handler returns.
type ProxyHandler func(stdin io.Reader, stdout, stderr io.Writer) int

// MemoryDialer is an in-process remote.Dialer for tests. Command
// execution is scripted through RunCommand, uploads land in an
// in-memory map, and Start runs Handler as a goroutine over io.Pipe
// pairs. A nil RunCommand answers every command with empty output,
// except "uname -sm", which reports a linux/amd64 host.
type MemoryDialer struct {
	// RunCommand scripts remote command execution for all sessions.
	RunCommand func(command string) (string, error)

	// Handler serves each started proxy process. Nil makes Start fail.
	Handler ProxyHandler

	// DialError, when set, fails every Dial with this error.
	DialError error

	// DialDelay stalls each Dial, simulating a slow handshake so
	// tests can pile concurrent callers onto one attempt.
	DialDelay time.Duration

	dialCount atomic.Int32

	mu       sync.Mutex
	uploads  map[string][]byte
	commands []string
}

// DialCount reports how many Dial calls completed successfully. The
// single-flight tests assert on it.
func (d *MemoryDialer) DialCount() int {
	return int(d.dialCount.Load())
}

// Uploads returns a copy of every path uploaded across all sessions,
// mapped to the raw local file contents.
func (d *MemoryDialer) Uploads() map[string][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	uploads := make(map[string][]byte, len(d.uploads))
	for path, data := range d.uploads {
		uploads[path] = data
	}
	return uploads
}

// Commands returns every command run across all sessions, in order.
func (d *MemoryDialer) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

func (d *MemoryDialer) Dial(ctx context.Context, key remote.ConnectionKey) (remote.Session, error) {
	if d.DialDelay > 0 {
		timer := time.NewTimer(d.DialDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.DialError != nil {
		return nil, d.DialError
	}
	d.dialCount.Add(1)
	return &MemorySession{dialer: d, key: key}, nil
}

// MemorySession is the in-process session MemoryDialer hands out.
type MemorySession struct {
	dialer *MemoryDialer
	key    remote.ConnectionKey
	closed atomic.Bool
}

func (s *MemorySession) RunCommand(ctx context.Context, command string) (string, error) {
	if s.closed.Load() {
		return "", errors.New("session closed")
	}
	s.dialer.mu.Lock()
	s.dialer.commands = append(s.dialer.commands, command)
	s.dialer.mu.Unlock()

	if s.dialer.RunCommand != nil {
		return s.dialer.RunCommand(command)
	}
	if command == "uname -sm" {
		return "Linux x86_64\n", nil
	}
	return "", nil
}

func (s *MemorySession) Start(ctx context.Context, command string) (remote.ProxyProcess, error) {
	if s.closed.Load() {
		return nil, errors.New("session closed")
	}
	if s.dialer.Handler == nil {
		return nil, fmt.Errorf("no proxy handler configured for %q", command)
	}

	stdinReader, stdinWriter := io.Pipe()
	stdoutReader, stdoutWriter := io.Pipe()
	stderrReader, stderrWriter := io.Pipe()

	process := &memoryProcess{
		stdinReader:  stdinReader,
		stdinWriter:  stdinWriter,
		stdoutReader: stdoutReader,
		stdoutWriter: stdoutWriter,
		stderrReader: stderrReader,
		stderrWriter: stderrWriter,
		exited:       make(chan int, 1),
	}
	go func() {
		code := s.dialer.Handler(stdinReader, stdoutWriter, stderrWriter)
		stdoutWriter.Close()
		stderrWriter.Close()
		stdinReader.Close()
		process.exited <- code
	}()
	return process, nil
}

func (s *MemorySession) Upload(ctx context.Context, localPath, remotePath string) error {
	if s.closed.Load() {
		return errors.New("session closed")
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", localPath, err)
	}
	s.dialer.mu.Lock()
	if s.dialer.uploads == nil {
		s.dialer.uploads = make(map[string][]byte)
	}
	s.dialer.uploads[remotePath] = data
	s.dialer.mu.Unlock()
	return nil
}

func (s *MemorySession) Close() error {
	s.closed.Store(true)
	return nil
}

// memoryProcess is a goroutine-backed proxy process over io.Pipe
// pairs.
type memoryProcess struct {
	stdinReader  *io.PipeReader
	stdinWriter  *io.PipeWriter
	stdoutReader *io.PipeReader
	stdoutWriter *io.PipeWriter
	stderrReader *io.PipeReader
	stderrWriter *io.PipeWriter

	killed atomic.Bool
	exited chan int

	waitOnce sync.Once
	exitCode int
}

func (p *memoryProcess) Stdin() io.WriteCloser { return p.stdinWriter }
func (p *memoryProcess) Stdout() io.Reader     { return p.stdoutReader }
func (p *memoryProcess) Stderr() io.Reader     { return p.stderrReader }

func (p *memoryProcess) Wait() int {
	p.waitOnce.Do(func() {
		code := <-p.exited
		if p.killed.Load() {
			// A killed process reports no exit status; mirror the
			// transport sentinel.
			code = 1
		}
		p.exitCode = code
	})
	return p.exitCode
}

func (p *memoryProcess) Kill() {
	p.killed.Store(true)
	killErr := errors.New("process killed")
	p.stdinReader.CloseWithError(killErr)
	p.stdinWriter.CloseWithError(killErr)
	p.stdoutWriter.CloseWithError(killErr)
	p.stderrWriter.CloseWithError(killErr)
}
