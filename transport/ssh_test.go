// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"testing"

	"github.com/tether-dev/tether/remote"
)

func TestParseJumpChainDirect(t *testing.T) {
	key := remote.ConnectionKey{Host: "target", Port: 2222, User: "dev"}
	hops, err := parseJumpChain(key)
	if err != nil {
		t.Fatalf("parseJumpChain() error = %v", err)
	}
	if len(hops) != 1 {
		t.Fatalf("got %d hops, want 1", len(hops))
	}
	if hops[0].user != "dev" || hops[0].address != "target:2222" {
		t.Errorf("hop = %+v, want dev@target:2222", hops[0])
	}
}

func TestParseJumpChainWithBastions(t *testing.T) {
	key := remote.ConnectionKey{
		Host:      "inner",
		Port:      22,
		User:      "dev",
		ProxyJump: "jump@bastion:2200, relay",
	}
	hops, err := parseJumpChain(key)
	if err != nil {
		t.Fatalf("parseJumpChain() error = %v", err)
	}
	if len(hops) != 3 {
		t.Fatalf("got %d hops, want 3", len(hops))
	}

	// First bastion carries its own user and port.
	if hops[0].user != "jump" || hops[0].address != "bastion:2200" {
		t.Errorf("hop 0 = %+v, want jump@bastion:2200", hops[0])
	}
	// Bare entries inherit the key's user and default to port 22.
	if hops[1].user != "dev" || hops[1].address != "relay:22" {
		t.Errorf("hop 1 = %+v, want dev@relay:22", hops[1])
	}
	// The target is always the last hop.
	if hops[2].user != "dev" || hops[2].address != "inner:22" {
		t.Errorf("hop 2 = %+v, want dev@inner:22", hops[2])
	}
}

func TestParseJumpChainEmptyEntry(t *testing.T) {
	key := remote.ConnectionKey{Host: "target", Port: 22, ProxyJump: "bastion,,other"}
	if _, err := parseJumpChain(key); err == nil {
		t.Fatal("parseJumpChain() error = nil, want error for empty entry")
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"/home/dev/.tether/bin", "/home/dev/.tether/bin"},
		{"has space", "'has space'"},
		{"a'b", `'a'\''b'`},
		{"$(rm -rf /)", `'$(rm -rf /)'`},
		{"", "''"},
	}
	for _, tt := range tests {
		if got := shellQuote(tt.in); got != tt.want {
			t.Errorf("shellQuote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
