// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/tether-dev/tether/lib/ipc"
)

// stderrChunkSize is the read granularity of the stderr loop.
const stderrChunkSize = 1024

// LogRecord is the structured form of one agent stderr line. The agent
// logs through slog's JSON handler; these fields mirror its output.
// Lines that do not decode as a record are relayed verbatim.
type LogRecord struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Message string `json:"msg"`
}

// slogLevel maps the record's level name to a slog level, defaulting
// to info for unknown names.
func (r LogRecord) slogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(r.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// multiplexer moves envelopes between the local channels and a proxy
// process's pipes. Each pipe is owned by exactly one loop, so the
// multiplexer needs no locking around I/O; the only shared state is
// the first-error slot.
type multiplexer struct {
	process  ProxyProcess
	outgoing <-chan ipc.Envelope
	incoming chan<- ipc.Envelope
	activity chan<- struct{}
	logger   *slog.Logger

	mu         sync.Mutex
	firstError error
}

// recordError stores the first transport failure, labeled by the pipe
// it originated on. Later failures are dropped: by then the connection
// is already coming down and the first cause is the one worth
// reporting.
func (m *multiplexer) recordError(stream string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.firstError == nil {
		m.firstError = &StreamError{Stream: stream, Err: err}
	}
}

// ping fires the activity beacon without blocking. The beacon is an
// external idle/heartbeat concern; if nobody is listening the signal
// is dropped.
func (m *multiplexer) ping() {
	if m.activity == nil {
		return
	}
	select {
	case m.activity <- struct{}{}:
	default:
	}
}

// run drives the writer, reader, and stderr loops to completion, then
// reaps the process. The first loop to finish — error or not — brings
// the others down. run always waits for the process to exit and
// returns its exit code along with the first transport error (nil when
// the shutdown was clean, e.g. the outgoing channel was closed or the
// remote closed stdout at a frame boundary).
//
// Cancelling ctx kills the process and unblocks all three loops. The
// incoming channel is closed before run returns.
func (m *multiplexer) run(ctx context.Context) (int, error) {
	stdin := m.process.Stdin()
	stdout := m.process.Stdout()
	stderr := m.process.Stderr()

	// done is closed when any loop finishes, triggering shutdown of
	// the rest.
	done := make(chan struct{})
	var doneOnce sync.Once
	triggerDone := func() { doneOnce.Do(func() { close(done) }) }

	var loops sync.WaitGroup

	// Writer loop: outgoing envelopes → stdin, strictly in channel
	// order. A closed outgoing channel is a clean shutdown request.
	loops.Add(1)
	go func() {
		defer loops.Done()
		defer triggerDone()
		var frameBuffer []byte
		for {
			var message ipc.Envelope
			var ok bool
			select {
			case message, ok = <-m.outgoing:
				if !ok {
					return
				}
			case <-done:
				return
			}
			if err := WriteEnvelope(stdin, &frameBuffer, message); err != nil {
				m.recordError("stdin", err)
				return
			}
			m.ping()
		}
	}()

	// Reader loop: stdout frames → incoming, in stream order. EOF at
	// a frame boundary ends the loop without error.
	loops.Add(1)
	go func() {
		defer loops.Done()
		defer triggerDone()
		var bodyBuffer []byte
		for {
			message, err := ReadEnvelope(stdout, &bodyBuffer)
			if err == io.EOF {
				return
			}
			if err != nil {
				m.recordError("stdout", err)
				return
			}
			m.ping()
			select {
			case m.incoming <- message:
			case <-done:
				return
			}
		}
	}()

	// Stderr loop: accumulate bytes, split on newline, relay each
	// complete line as a structured log record or a raw remote line.
	loops.Add(1)
	go func() {
		defer loops.Done()
		defer triggerDone()
		lineBuffer := make([]byte, 0, 4*stderrChunkSize)
		chunk := make([]byte, stderrChunkSize)
		for {
			bytesRead, err := stderr.Read(chunk)
			if bytesRead > 0 {
				lineBuffer = append(lineBuffer, chunk[:bytesRead]...)
				consumed := 0
				for {
					newline := bytes.IndexByte(lineBuffer[consumed:], '\n')
					if newline < 0 {
						break
					}
					m.relayStderrLine(lineBuffer[consumed : consumed+newline])
					consumed += newline + 1
				}
				// Compact: keep only the trailing partial line.
				remaining := copy(lineBuffer, lineBuffer[consumed:])
				lineBuffer = lineBuffer[:remaining]
				m.ping()
			}
			if err != nil {
				if err != io.EOF {
					m.recordError("stderr", err)
				}
				return
			}
		}
	}()

	// Parent cancellation also brings the loops down, via the process
	// kill below.
	watchdogDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			triggerDone()
		case <-watchdogDone:
		}
	}()

	<-done

	// Closing stdin asks a healthy agent to exit; killing covers a
	// wedged one and the cancellation path. After the process dies its
	// pipes return EOF or errors, unblocking whichever loops remain.
	_ = stdin.Close()
	m.mu.Lock()
	failed := m.firstError != nil
	m.mu.Unlock()
	if failed || ctx.Err() != nil {
		m.process.Kill()
	}

	exitCode := m.process.Wait()
	close(watchdogDone)
	loops.Wait()
	close(m.incoming)

	m.mu.Lock()
	firstError := m.firstError
	m.mu.Unlock()
	return exitCode, firstError
}

// relayStderrLine relays one complete stderr line through the local
// logger. Lines the agent wrote through its JSON handler come back as
// records at their original level; anything else (panics, library
// prints, shell noise) is logged verbatim, prefixed to mark its
// remote origin.
func (m *multiplexer) relayStderrLine(line []byte) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return
	}
	var record LogRecord
	if err := json.Unmarshal(trimmed, &record); err == nil && record.Message != "" {
		m.logger.Log(context.Background(), record.slogLevel(), record.Message, "remote", true)
		return
	}
	m.logger.Info("(remote) "+string(trimmed), "remote", true)
}
