// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the tether CLI.
//
// Configuration is loaded from a single YAML file specified by:
//   - TETHER_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no search paths or automatic discovery. When no file is
// given, built-in defaults apply and every setting remains reachable
// through command-line flags.
//
// The file maps host aliases to connection settings, with a defaults
// section merged under every entry:
//
//	defaults:
//	  user: dev
//	  identity_file: ${HOME}/.ssh/id_ed25519
//	hosts:
//	  build:
//	    host: build.internal.example.com
//	    proxy_jump: bastion.example.com
//	  gpu:
//	    host: 10.40.0.7
//	    port: 2222
//	    user: ml
package config
