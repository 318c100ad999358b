// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for Tether
// binaries. These functions centralize the raw I/O patterns that exist
// before or after the structured logger:
//
//   - Fatal error reporting to stderr when the logger may not be
//     initialized (pre-logger).
//   - Extracting child exit codes from exec errors so main() can
//     propagate them.
package process
