// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import "testing"

func TestBuildProxyCommand(t *testing.T) {
	env := map[string]string{
		"TETHER_LOG": "debug",
	}
	getenv := func(name string) string { return env[name] }

	got := buildProxyCommand("/home/dev/.tether/bin/tether-agent", "tether-abc123", false, getenv)
	want := "TETHER_LOG=debug /home/dev/.tether/bin/tether-agent proxy --identifier tether-abc123"
	if got != want {
		t.Errorf("command = %q, want %q", got, want)
	}
}

func TestBuildProxyCommandReconnect(t *testing.T) {
	getenv := func(string) string { return "" }
	got := buildProxyCommand("/opt/agent", "id-1", true, getenv)
	want := "/opt/agent proxy --identifier id-1 --reconnect"
	if got != want {
		t.Errorf("command = %q, want %q", got, want)
	}
}

func TestBuildProxyCommandQuoting(t *testing.T) {
	env := map[string]string{
		"TETHER_LOG":       "debug",
		"TETHER_BACKTRACE": "full stack",
	}
	getenv := func(name string) string { return env[name] }

	got := buildProxyCommand("/path with space/agent", "it's", false, getenv)
	want := `TETHER_LOG=debug TETHER_BACKTRACE='full stack' '/path with space/agent' proxy --identifier 'it'\''s'`
	if got != want {
		t.Errorf("command = %q, want %q", got, want)
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"/usr/local/bin/agent", "/usr/local/bin/agent"},
		{"name-with_safe.chars", "name-with_safe.chars"},
		{"has space", "'has space'"},
		{"semi;colon", "'semi;colon'"},
		{"don't", `'don'\''t'`},
		{"", "''"},
		{"$HOME", "'$HOME'"},
	}
	for _, tt := range tests {
		if got := shellQuote(tt.in); got != tt.want {
			t.Errorf("shellQuote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
