// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/tether-dev/tether/lib/codec"
	"github.com/tether-dev/tether/lib/ipc"
	"github.com/tether-dev/tether/lib/process"
	"github.com/tether-dev/tether/lib/version"
	"github.com/tether-dev/tether/remote"
)

// proxyServer serves one envelope stream. Requests are handled in
// arrival order; the reply to each request is written before the next
// request is read, so reply order always matches request order.
type proxyServer struct {
	logger     *slog.Logger
	identifier string
	resumed    bool

	nextID      uint64
	writeBuffer []byte
}

// serve announces itself with a hello envelope, then answers requests
// until the stream closes. A clean EOF on stdin returns nil; any
// other stream failure is the error.
func (s *proxyServer) serve(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	hello, err := ipc.NewEnvelope(s.allocateID(), "hello", ipc.Hello{
		Version:    version.Short(),
		Identifier: s.identifier,
		Resumed:    s.resumed,
	})
	if err != nil {
		return fmt.Errorf("building hello: %w", err)
	}
	if err := remote.WriteEnvelope(stdout, &s.writeBuffer, hello); err != nil {
		return err
	}

	var readBuffer []byte
	for {
		request, err := remote.ReadEnvelope(stdin, &readBuffer)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		reply, err := s.handle(ctx, request)
		if err != nil {
			return err
		}
		if err := remote.WriteEnvelope(stdout, &s.writeBuffer, reply); err != nil {
			return err
		}
	}
}

// handle dispatches one request. Unknown types and bad payloads come
// back as error replies rather than ending the stream — a confused
// client should not take the whole session down.
func (s *proxyServer) handle(ctx context.Context, request ipc.Envelope) (ipc.Envelope, error) {
	s.logger.Debug("request", "id", request.ID, "type", request.Type)

	switch request.Type {
	case "ping":
		return ipc.Reply(s.allocateID(), request, "pong", nil)

	case "exec":
		var execRequest ipc.ExecRequest
		if err := decodePayload(request, &execRequest); err != nil {
			return s.errorReply(request, fmt.Sprintf("bad exec payload: %v", err))
		}
		result := s.runCommand(ctx, execRequest.Command)
		return ipc.Reply(s.allocateID(), request, "exec-result", result)

	default:
		return s.errorReply(request, fmt.Sprintf("unknown request type %q", request.Type))
	}
}

// runCommand executes a shell command and captures its outcome. A
// non-zero exit is a result, not a stream error.
func (s *proxyServer) runCommand(ctx context.Context, command string) ipc.ExecResult {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	output, err := cmd.CombinedOutput()
	result := ipc.ExecResult{Output: string(output)}
	if err != nil {
		if code, ok := process.ExitCode(err); ok {
			result.ExitCode = code
		} else {
			result.ExitCode = 1
			if result.Output == "" {
				result.Output = err.Error()
			}
		}
		s.logger.Warn("command failed",
			"command", truncate(command, 120),
			"exit_code", result.ExitCode)
	}
	return result
}

func (s *proxyServer) errorReply(request ipc.Envelope, message string) (ipc.Envelope, error) {
	s.logger.Warn("rejecting request", "id", request.ID, "type", request.Type, "reason", message)
	return ipc.Reply(s.allocateID(), request, "error", ipc.ErrorReply{Message: message})
}

func (s *proxyServer) allocateID() uint64 {
	s.nextID++
	return s.nextID
}

func decodePayload(request ipc.Envelope, target any) error {
	if len(request.Payload) == 0 {
		return fmt.Errorf("empty payload")
	}
	return codec.Unmarshal(request.Payload, target)
}

func truncate(s string, limit int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
