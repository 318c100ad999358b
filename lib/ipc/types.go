// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import "github.com/tether-dev/tether/lib/codec"

// Envelope is one RPC message unit exchanged between the local client
// and the remote agent. The transport layer frames envelopes onto the
// agent's stdio pipes and never looks inside Payload; the meaning of
// Type and the shape of Payload are a contract between the two ends.
type Envelope struct {
	// ID is the sender-assigned message identifier, unique per
	// direction for the lifetime of one proxy process.
	ID uint64 `cbor:"id"`

	// ReplyTo is the ID of the request this envelope answers, or zero
	// for unsolicited messages (the agent's hello, notifications).
	ReplyTo uint64 `cbor:"reply_to,omitempty"`

	// Type names the payload shape: "hello", "ping", "pong", "exec",
	// "exec-result", or "error".
	Type string `cbor:"type"`

	// Payload is the CBOR-encoded message body for Type. Empty for
	// bodyless messages like "ping".
	Payload codec.RawMessage `cbor:"payload,omitempty"`
}

// NewEnvelope marshals payload and wraps it in an envelope of the
// given type. A nil payload produces an empty-bodied envelope.
func NewEnvelope(id uint64, messageType string, payload any) (Envelope, error) {
	envelope := Envelope{ID: id, Type: messageType}
	if payload != nil {
		encoded, err := codec.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		envelope.Payload = encoded
	}
	return envelope, nil
}

// Reply builds a response envelope to request, marshaling payload the
// same way NewEnvelope does.
func Reply(id uint64, request Envelope, messageType string, payload any) (Envelope, error) {
	envelope, err := NewEnvelope(id, messageType, payload)
	if err != nil {
		return Envelope{}, err
	}
	envelope.ReplyTo = request.ID
	return envelope, nil
}

// Hello is the agent's first envelope after startup. The client uses
// it to confirm the proxy process came up and, on reconnect, whether
// prior session state survived.
type Hello struct {
	// Version is the agent's build version string.
	Version string `cbor:"version"`

	// Identifier echoes the --identifier flag the agent was started with.
	Identifier string `cbor:"identifier"`

	// Resumed is true when the agent was started with --reconnect and
	// found prior session state for this identifier.
	Resumed bool `cbor:"resumed,omitempty"`
}

// ExecRequest asks the agent to run a shell command on the remote host.
type ExecRequest struct {
	// Command is passed to "sh -c" on the remote host.
	Command string `cbor:"command"`
}

// ExecResult is the agent's reply to an ExecRequest.
type ExecResult struct {
	// Output is the combined stdout and stderr of the command.
	Output string `cbor:"output,omitempty"`

	// ExitCode is the command's exit status.
	ExitCode int `cbor:"exit_code"`
}

// ErrorReply reports a request the agent could not handle.
type ErrorReply struct {
	// Message describes what went wrong.
	Message string `cbor:"message"`
}
