// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/tether-dev/tether/remote"
)

// Compile-time interface checks.
var (
	_ remote.Dialer       = (*SSHDialer)(nil)
	_ remote.Session      = (*sshSession)(nil)
	_ remote.ProxyProcess = (*sshProcess)(nil)
)

// defaultDialTimeout bounds the TCP connect of each hop. The SSH
// handshake itself is bounded by the caller's context.
const defaultDialTimeout = 30 * time.Second

// SSHDialer opens SSH sessions for the connection pool. The zero
// value is usable: local-user login, ~/.ssh/known_hosts verification,
// ssh-agent when available.
type SSHDialer struct {
	// KnownHostsFile verifies host keys. Empty means
	// ~/.ssh/known_hosts.
	KnownHostsFile string

	// InsecureHostKey accepts any host key. For keys that also set
	// it per-host, prefer the config file's insecure_host_key.
	InsecureHostKey bool

	// AskPassword prompts the user for a secret: identity file
	// passphrases and password authentication fallback. Nil disables
	// both.
	AskPassword func(prompt string) (string, error)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Dial connects through key's ProxyJump chain (if any) to the target
// host and completes the SSH handshake and authentication for each
// hop.
func (d *SSHDialer) Dial(ctx context.Context, key remote.ConnectionKey) (remote.Session, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hops, err := parseJumpChain(key)
	if err != nil {
		return nil, err
	}

	session := &sshSession{logger: logger}
	for i, hop := range hops {
		config, cleanup, err := d.clientConfig(hop, key.IdentityFile)
		if err != nil {
			session.Close()
			return nil, err
		}
		session.cleanups = append(session.cleanups, cleanup)

		var conn net.Conn
		if len(session.clients) == 0 {
			dialer := &net.Dialer{Timeout: defaultDialTimeout}
			conn, err = dialer.DialContext(ctx, "tcp", hop.address)
		} else {
			conn, err = session.clients[len(session.clients)-1].DialContext(ctx, "tcp", hop.address)
		}
		if err != nil {
			session.Close()
			return nil, fmt.Errorf("connecting to %s: %w", hop.address, err)
		}

		client, err := handshake(ctx, conn, hop.address, config)
		if err != nil {
			conn.Close()
			session.Close()
			return nil, fmt.Errorf("ssh handshake with %s: %w", hop.address, err)
		}
		session.clients = append(session.clients, client)
		if i < len(hops)-1 {
			logger.Debug("established jump hop", "address", hop.address)
		}
	}

	logger.Debug("ssh session established", "target", key.String(), "hops", len(hops))
	return session, nil
}

// hop is one host in the jump chain; the last hop is the target.
type hop struct {
	user    string
	address string
}

// parseJumpChain expands key.ProxyJump (OpenSSH -J syntax,
// "user@host:port" entries separated by commas) followed by the
// target itself.
func parseJumpChain(key remote.ConnectionKey) ([]hop, error) {
	var hops []hop
	if key.ProxyJump != "" {
		for _, entry := range strings.Split(key.ProxyJump, ",") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				return nil, fmt.Errorf("empty entry in proxy jump chain %q", key.ProxyJump)
			}
			jumpUser := key.User
			rest := entry
			if u, hostPart, ok := strings.Cut(entry, "@"); ok {
				jumpUser = u
				rest = hostPart
			}
			address := rest
			if _, _, err := net.SplitHostPort(rest); err != nil {
				address = net.JoinHostPort(rest, "22")
			}
			hops = append(hops, hop{user: jumpUser, address: address})
		}
	}
	hops = append(hops, hop{user: key.User, address: key.Address()})
	return hops, nil
}

// clientConfig builds the per-hop SSH client configuration. The
// returned cleanup closes any ssh-agent connection opened for the
// hop; it is safe to call when nil auth was used.
func (d *SSHDialer) clientConfig(h hop, identityFile string) (*ssh.ClientConfig, func(), error) {
	loginUser := h.user
	if loginUser == "" {
		current, err := user.Current()
		if err != nil {
			return nil, nil, fmt.Errorf("determining local user: %w", err)
		}
		loginUser = current.Username
	}

	var methods []ssh.AuthMethod
	cleanup := func() {}

	if identityFile != "" {
		signer, err := d.loadIdentity(identityFile)
		if err != nil {
			return nil, nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if socket := os.Getenv("SSH_AUTH_SOCK"); socket != "" {
		conn, err := net.Dial("unix", socket)
		if err == nil {
			agentClient := agent.NewClient(conn)
			methods = append(methods, ssh.PublicKeysCallback(agentClient.Signers))
			cleanup = func() { conn.Close() }
		}
	}

	if d.AskPassword != nil {
		prompt := fmt.Sprintf("password for %s@%s: ", loginUser, h.address)
		methods = append(methods, ssh.PasswordCallback(func() (string, error) {
			return d.AskPassword(prompt)
		}))
	}

	if len(methods) == 0 {
		cleanup()
		return nil, nil, errors.New("no usable authentication method: set an identity file, start an ssh-agent, or enable password prompts")
	}

	hostKeyCallback, err := d.hostKeyCallback()
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	return &ssh.ClientConfig{
		User:            loginUser,
		Auth:            methods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         defaultDialTimeout,
	}, cleanup, nil
}

// loadIdentity parses the private key at path, prompting for its
// passphrase when the key is encrypted.
func (d *SSHDialer) loadIdentity(path string) (ssh.Signer, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err == nil {
		return signer, nil
	}

	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) && d.AskPassword != nil {
		passphrase, askErr := d.AskPassword(fmt.Sprintf("passphrase for %s: ", path))
		if askErr != nil {
			return nil, askErr
		}
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(passphrase))
		if err == nil {
			return signer, nil
		}
	}
	return nil, fmt.Errorf("parsing identity file %s: %w", path, err)
}

func (d *SSHDialer) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if d.InsecureHostKey {
		//nolint:gosec // explicit opt-in for lab hosts without stable keys
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := d.KnownHostsFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locating known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("loading known_hosts %s: %w", path, err)
	}
	return callback, nil
}

// handshake completes the SSH handshake over an established TCP
// connection, honoring ctx by closing the connection on cancellation.
func handshake(ctx context.Context, conn net.Conn, address string, config *ssh.ClientConfig) (*ssh.Client, error) {
	type result struct {
		client *ssh.Client
		err    error
	}
	resultCh := make(chan result, 1)
	go func() {
		clientConn, channels, requests, err := ssh.NewClientConn(conn, address, config)
		if err != nil {
			resultCh <- result{err: err}
			return
		}
		resultCh <- result{client: ssh.NewClient(clientConn, channels, requests)}
	}()

	select {
	case r := <-resultCh:
		return r.client, r.err
	case <-ctx.Done():
		conn.Close()
		// The handshake goroutine fails promptly once the connection
		// is gone; reap it so nothing leaks.
		r := <-resultCh
		if r.client != nil {
			r.client.Close()
		}
		return nil, ctx.Err()
	}
}

// sshSession is an established SSH connection chain. The last client
// is the target host; earlier ones are jump hops.
type sshSession struct {
	clients  []*ssh.Client
	cleanups []func()
	logger   *slog.Logger
	closed   atomic.Bool
}

// target returns the client for the final host.
func (s *sshSession) target() *ssh.Client {
	return s.clients[len(s.clients)-1]
}

func (s *sshSession) RunCommand(ctx context.Context, command string) (string, error) {
	if s.closed.Load() {
		return "", errors.New("session closed")
	}
	execSession, err := s.target().NewSession()
	if err != nil {
		return "", fmt.Errorf("opening exec channel: %w", err)
	}
	defer execSession.Close()

	// Interrupt the remote command if ctx is cancelled mid-run.
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			_ = execSession.Signal(ssh.SIGKILL)
			execSession.Close()
		case <-finished:
		}
	}()

	output, err := execSession.CombinedOutput(command)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		trimmed := strings.TrimSpace(string(output))
		if trimmed != "" {
			return "", fmt.Errorf("remote command failed: %w: %s", err, trimmed)
		}
		return "", fmt.Errorf("remote command failed: %w", err)
	}
	return string(output), nil
}

func (s *sshSession) Start(ctx context.Context, command string) (remote.ProxyProcess, error) {
	if s.closed.Load() {
		return nil, errors.New("session closed")
	}
	execSession, err := s.target().NewSession()
	if err != nil {
		return nil, fmt.Errorf("opening exec channel: %w", err)
	}

	stdin, err := execSession.StdinPipe()
	if err != nil {
		execSession.Close()
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := execSession.StdoutPipe()
	if err != nil {
		execSession.Close()
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := execSession.StderrPipe()
	if err != nil {
		execSession.Close()
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := execSession.Start(command); err != nil {
		execSession.Close()
		return nil, fmt.Errorf("starting remote process: %w", err)
	}

	return &sshProcess{
		session: execSession,
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
	}, nil
}

// Upload streams the local file through gzip into the remote shell:
// "gunzip -c > path.partial && chmod +x && mv". The partial-then-
// rename dance keeps a half-written binary from ever being executable
// at the final path.
func (s *sshSession) Upload(ctx context.Context, localPath, remotePath string) error {
	if s.closed.Load() {
		return errors.New("session closed")
	}
	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer localFile.Close()

	execSession, err := s.target().NewSession()
	if err != nil {
		return fmt.Errorf("opening exec channel: %w", err)
	}
	defer execSession.Close()

	stdin, err := execSession.StdinPipe()
	if err != nil {
		return fmt.Errorf("creating stdin pipe: %w", err)
	}

	partial := remotePath + ".partial"
	command := fmt.Sprintf("gunzip -c > %s && chmod +x %s && mv %s %s",
		shellQuote(partial), shellQuote(partial), shellQuote(partial), shellQuote(remotePath))
	if err := execSession.Start(command); err != nil {
		return fmt.Errorf("starting remote receiver: %w", err)
	}

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			execSession.Close()
		case <-finished:
		}
	}()

	compressor := gzip.NewWriter(stdin)
	if _, err := io.Copy(compressor, localFile); err != nil {
		stdin.Close()
		return fmt.Errorf("streaming %s: %w", localPath, err)
	}
	if err := compressor.Close(); err != nil {
		stdin.Close()
		return fmt.Errorf("flushing upload: %w", err)
	}
	if err := stdin.Close(); err != nil {
		return fmt.Errorf("closing upload stream: %w", err)
	}

	if err := execSession.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("remote receiver failed: %w", err)
	}
	return nil
}

func (s *sshSession) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	var firstErr error
	// Tear down target first, then the hops carrying it.
	for i := len(s.clients) - 1; i >= 0; i-- {
		if err := s.clients[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, cleanup := range s.cleanups {
		cleanup()
	}
	return firstErr
}

// sshProcess adapts an *ssh.Session running a remote command to
// remote.ProxyProcess.
type sshProcess struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	stderr  io.Reader
}

func (p *sshProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *sshProcess) Stdout() io.Reader     { return p.stdout }
func (p *sshProcess) Stderr() io.Reader     { return p.stderr }

// Wait reaps the remote process. SSH does not always deliver an exit
// status (killed by signal, channel torn down); those cases return
// the sentinel 1.
func (p *sshProcess) Wait() int {
	err := p.session.Wait()
	if err == nil {
		return 0
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus()
	}
	return 1
}

// Kill terminates the remote process. Best-effort: the signal crosses
// a network hop, so closing the channel is the reliable part.
func (p *sshProcess) Kill() {
	_ = p.session.Signal(ssh.SIGKILL)
	_ = p.session.Close()
}

// shellQuote wraps s in single quotes for the remote POSIX shell,
// escaping embedded single quotes.
func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n\"'\\$&|;<>(){}[]*?~#`!") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
