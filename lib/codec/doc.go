// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Tether's standard CBOR encoding configuration.
//
// Tether uses two serialization formats with a clear boundary:
//
//   - CBOR for the wire protocol: every envelope exchanged between the
//     local client and the remote agent over the framed stdio stream.
//   - JSON for diagnostics: the agent's structured stderr log lines,
//     which the multiplexer parses back into slog records.
//
// This package provides the shared CBOR encoding and decoding modes so
// that the client and the agent encode identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes.
//
// For buffer-oriented operations (framing an envelope):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations:
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
package codec
