// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"testing"

	"github.com/tether-dev/tether/lib/codec"
)

func TestNewEnvelope(t *testing.T) {
	envelope, err := NewEnvelope(3, "exec", ExecRequest{Command: "ls"})
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}
	if envelope.ID != 3 || envelope.Type != "exec" {
		t.Errorf("envelope = %+v", envelope)
	}

	var request ExecRequest
	if err := codec.Unmarshal(envelope.Payload, &request); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if request.Command != "ls" {
		t.Errorf("command = %q, want %q", request.Command, "ls")
	}
}

func TestNewEnvelopeNilPayload(t *testing.T) {
	envelope, err := NewEnvelope(1, "ping", nil)
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}
	if len(envelope.Payload) != 0 {
		t.Errorf("payload = %x, want empty", envelope.Payload)
	}
}

func TestReplyLinksRequest(t *testing.T) {
	request, err := NewEnvelope(9, "ping", nil)
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}
	reply, err := Reply(10, request, "pong", nil)
	if err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	if reply.ReplyTo != 9 {
		t.Errorf("reply_to = %d, want 9", reply.ReplyTo)
	}
	if reply.ID != 10 || reply.Type != "pong" {
		t.Errorf("reply = %+v", reply)
	}
}
