// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"fmt"
	"net"
	"strconv"
)

// ConnectionKey identifies one distinct remote target. Two keys are
// the same pool entry exactly when every field matches: connecting as
// a different user, through a different jump chain, or with a
// different identity is a different connection. The struct is
// comparable and used directly as the pool's map key.
type ConnectionKey struct {
	// Host is the hostname or IP address of the remote machine.
	Host string

	// Port is the SSH port.
	Port int

	// User is the remote login name. Empty means the transport's
	// default (typically the local user).
	User string

	// IdentityFile is the path of the private key used for
	// authentication. Empty means the transport's default auth.
	IdentityFile string

	// ProxyJump is a comma-separated chain of intermediate hosts in
	// OpenSSH -J syntax. Empty means a direct connection.
	ProxyJump string
}

// Address returns the dialable "host:port" form of the key.
func (k ConnectionKey) Address() string {
	return net.JoinHostPort(k.Host, strconv.Itoa(k.Port))
}

// String returns a compact "user@host:port" form for logs and status
// text. It omits the identity and jump chain.
func (k ConnectionKey) String() string {
	if k.User == "" {
		return k.Address()
	}
	return fmt.Sprintf("%s@%s", k.User, k.Address())
}

// Platform is the operating system and CPU architecture of a remote
// host, normalized to Go's GOOS/GOARCH vocabulary.
type Platform struct {
	OS   string
	Arch string
}

func (p Platform) String() string {
	return p.OS + "/" + p.Arch
}
