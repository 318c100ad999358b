// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tether-dev/tether/remote"
)

func remoteKey(host string) remote.ConnectionKey {
	return remote.ConnectionKey{Host: host, Port: 22}
}

func TestMemorySessionScriptedCommands(t *testing.T) {
	dialer := &MemoryDialer{
		RunCommand: func(command string) (string, error) {
			if command == "uname -sm" {
				return "Darwin arm64\n", nil
			}
			return "", errors.New("unknown command")
		},
	}
	session, err := dialer.Dial(context.Background(), remoteKey("scripted"))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	output, err := session.RunCommand(context.Background(), "uname -sm")
	if err != nil {
		t.Fatalf("RunCommand() error = %v", err)
	}
	if output != "Darwin arm64\n" {
		t.Errorf("output = %q", output)
	}

	commands := dialer.Commands()
	if len(commands) != 1 || commands[0] != "uname -sm" {
		t.Errorf("recorded commands = %v", commands)
	}
}

func TestMemorySessionDefaultUname(t *testing.T) {
	dialer := &MemoryDialer{}
	session, err := dialer.Dial(context.Background(), remoteKey("default"))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	output, err := session.RunCommand(context.Background(), "uname -sm")
	if err != nil {
		t.Fatalf("RunCommand() error = %v", err)
	}
	if output != "Linux x86_64\n" {
		t.Errorf("output = %q, want the default linux/amd64 host", output)
	}
}

func TestMemorySessionUpload(t *testing.T) {
	localPath := filepath.Join(t.TempDir(), "agent")
	if err := os.WriteFile(localPath, []byte("binary bytes"), 0755); err != nil {
		t.Fatalf("writing local file: %v", err)
	}

	dialer := &MemoryDialer{}
	session, err := dialer.Dial(context.Background(), remoteKey("upload"))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if err := session.Upload(context.Background(), localPath, ".tether/bin/agent"); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	uploads := dialer.Uploads()
	if string(uploads[".tether/bin/agent"]) != "binary bytes" {
		t.Errorf("uploads = %v", uploads)
	}
}

func TestMemoryProcessLifecycle(t *testing.T) {
	dialer := &MemoryDialer{
		Handler: func(stdin io.Reader, stdout, stderr io.Writer) int {
			// Echo raw bytes until stdin closes, then exit 7.
			_, _ = io.Copy(stdout, stdin)
			return 7
		},
	}
	session, err := dialer.Dial(context.Background(), remoteKey("proc"))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	process, err := session.Start(context.Background(), "agent proxy --identifier x")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if _, err := process.Stdin().Write([]byte("ping")); err != nil {
		t.Fatalf("writing stdin: %v", err)
	}
	buffer := make([]byte, 4)
	if _, err := io.ReadFull(process.Stdout(), buffer); err != nil {
		t.Fatalf("reading stdout: %v", err)
	}
	if string(buffer) != "ping" {
		t.Errorf("stdout = %q, want %q", buffer, "ping")
	}

	if err := process.Stdin().Close(); err != nil {
		t.Fatalf("closing stdin: %v", err)
	}
	if code := process.Wait(); code != 7 {
		t.Errorf("exit code = %d, want 7", code)
	}
}

func TestMemoryProcessKillReportsSentinel(t *testing.T) {
	dialer := &MemoryDialer{
		Handler: func(stdin io.Reader, stdout, stderr io.Writer) int {
			_, _ = io.Copy(io.Discard, stdin)
			return 0
		},
	}
	session, err := dialer.Dial(context.Background(), remoteKey("kill"))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	process, err := session.Start(context.Background(), "agent proxy")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	process.Kill()
	if code := process.Wait(); code != 1 {
		t.Errorf("exit code after kill = %d, want 1", code)
	}
}

func TestMemoryDialerDelayHonorsContext(t *testing.T) {
	dialer := &MemoryDialer{DialDelay: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := dialer.Dial(ctx, remoteKey("slow")); !errors.Is(err, context.Canceled) {
		t.Errorf("Dial() error = %v, want context.Canceled", err)
	}
}

func TestClosedSessionRefusesWork(t *testing.T) {
	dialer := &MemoryDialer{}
	session, err := dialer.Dial(context.Background(), remoteKey("closed"))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := session.RunCommand(context.Background(), "true"); err == nil {
		t.Error("RunCommand() on closed session succeeded")
	}
	if _, err := session.Start(context.Background(), "agent"); err == nil {
		t.Error("Start() on closed session succeeded")
	}
}
