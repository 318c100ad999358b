// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// tether opens a pooled SSH connection to a remote host, provisions
// the tether-agent binary on it, and talks to the agent's proxy
// process over length-prefixed CBOR envelopes.
//
// Usage:
//
//	tether connect <target>
//	tether exec <target> <command...>
//	tether ping <target>
//	tether version
//
// A target is either an alias from the config file named by
// TETHER_CONFIG, or a raw "[user@]host[:port]" string.
package main

import (
	"fmt"
	"os"

	"github.com/tether-dev/tether/lib/process"
	"github.com/tether-dev/tether/lib/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "connect":
		err = connectCmd(args)
	case "exec":
		err = execCmd(args)
	case "ping":
		err = pingCmd(args)
	case "version", "--version", "-v":
		fmt.Println(version.Full())
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		process.Fatal(err)
	}
}

func printUsage() {
	fmt.Print(`tether - remote development connections

USAGE
    tether <command> [flags]

COMMANDS
    connect       Open a session and run commands interactively
    exec          Run one command on the remote host and exit
    ping          Measure envelope round-trip time to a host
    version       Print version information

FLAGS (connect, exec)
    --config          Config file (default from TETHER_CONFIG)
    --identity        SSH private key file
    --jump            ProxyJump chain, OpenSSH -J syntax
    --user            SSH login name
    --port            SSH port
    --binary-dir      Directory holding tether-agent-<os>-<arch> binaries
    --known-hosts     known_hosts file (default ~/.ssh/known_hosts)
    --insecure-host-key   Skip host key verification
    --log-level       debug, info, warn, or error

ENVIRONMENT
    TETHER_CONFIG     Config file path
    TETHER_LOG        Log level, forwarded to the remote agent
`)
}
