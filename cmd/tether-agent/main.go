// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// tether-agent is the remote-side agent binary. The tether client
// uploads it to the remote host during connection establishment and
// launches the proxy subcommand over the session.
//
// Usage:
//
//	tether-agent version
//	tether-agent proxy --identifier <id> [--reconnect]
//
// The proxy subcommand serves length-prefixed CBOR envelopes on
// stdin/stdout and writes structured JSON logs to stderr; the client
// side parses those back into its own log stream.
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
	case "proxy":
		err = proxyCmd(args)
	case "version", "--version", "-v":
		fmt.Println(version.Short())
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
	fmt.Print(`tether-agent - Tether remote-side agent

USAGE
    tether-agent <command> [flags]

COMMANDS
    proxy         Serve the envelope stream on stdin/stdout
    version       Print the agent version

PROXY FLAGS
    --identifier  Session identifier (required)
    --reconnect   Resume state from a previous proxy with this identifier
    --log-level   debug, info, warn, or error (default from TETHER_LOG)

ENVIRONMENT
    TETHER_LOG    Log level when --log-level is not given
`)
}
