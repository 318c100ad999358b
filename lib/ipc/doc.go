// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the CBOR-encoded envelope and payload types for
// the client↔agent wire protocol. Both the remote transport layer and
// cmd/tether-agent import this package so the wire types are defined
// once rather than mirrored.
package ipc
