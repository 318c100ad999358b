// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash provides BLAKE3 content hashing for binary files.
//
// Tether uploads the agent binary to remote hosts under a name that
// embeds a content fingerprint. When the fingerprinted path already
// exists on the remote host, the upload is skipped entirely — a stale
// agent can never be mistaken for a current one, and a current one is
// never re-uploaded. BLAKE3 keeps the fingerprint cost negligible even
// for large statically linked binaries.
//
// The API surface is three functions:
//
//   - [HashFile] -- streams a file through BLAKE3, returning a [32]byte
//     digest with constant memory usage regardless of file size
//   - [FormatDigest] -- converts a [32]byte digest to its canonical
//     hex-encoded string representation
//   - [ParseDigest] -- parses a hex-encoded digest string back to a
//     [32]byte array, validating length and encoding
//
// This package has no dependencies on other Tether packages.
package binhash
