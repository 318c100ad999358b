// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"errors"
	"fmt"
)

// EstablishPhase identifies which step of session establishment failed.
type EstablishPhase string

const (
	// PhaseHandshake is the secure channel handshake and authentication.
	PhaseHandshake EstablishPhase = "handshake"

	// PhasePlatformProbe is the remote OS/architecture detection.
	PhasePlatformProbe EstablishPhase = "platform probe"

	// PhaseBinaryProvisioning is resolving and installing the agent
	// binary on the remote host.
	PhaseBinaryProvisioning EstablishPhase = "binary provisioning"

	// PhaseVersionCheck is running "<agent> version" to confirm the
	// installed binary executes.
	PhaseVersionCheck EstablishPhase = "version check"
)

// EstablishError is a failed session establishment attempt. The same
// error value is delivered to every caller waiting on the attempt, so
// it must never carry per-caller state.
type EstablishError struct {
	// Phase is the establishment step that failed.
	Phase EstablishPhase

	// Err is the underlying failure.
	Err error
}

func (e *EstablishError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Phase, e.Err)
}

func (e *EstablishError) Unwrap() error {
	return e.Err
}

// ErrDroppedWhileConnecting is delivered to waiters when every caller
// abandons an establishment attempt before it completes. A subsequent
// connect for the same key starts a fresh attempt.
var ErrDroppedWhileConnecting = errors.New("connection dropped while connecting")

// StreamError is a transport failure on one of the proxy process's
// pipes, labeled by the stream it originated on.
type StreamError struct {
	// Stream is "stdin", "stdout", or "stderr".
	Stream string

	// Err is the underlying read, write, or decode failure.
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stream, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}
