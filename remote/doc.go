// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package remote establishes and reuses connections to remote
// development hosts and multiplexes the envelope stream of the agent
// process launched on them.
//
// The package is organized around the connection data flow:
//
//   - pool.go: single-flight, reference-counted connection registry
//   - establish.go: one connection attempt (handshake, platform probe,
//     agent provisioning, version check)
//   - provision.go: uploading the agent binary to the remote host
//   - connection.go: an established session and proxy process launch
//   - multiplex.go: the three pipe loops over a running proxy process
//   - protocol.go: length-prefixed envelope framing
//   - client.go: the high-level one-call connect surface
//
// A caller asks the pool for a connection by key. The pool either
// reuses an existing session or runs exactly one establishment attempt
// that all concurrent callers for that key share. Once a session is
// connected, each caller launches its own proxy process over it and
// exchanges envelopes through the multiplexer's channels.
//
// The secure channel itself is pluggable: the pool dials through a
// Dialer and speaks to hosts through the Session interface. The SSH
// implementation lives in the transport package; tests use an
// in-memory one.
package remote
