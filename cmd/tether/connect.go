// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/tether-dev/tether/lib/codec"
	"github.com/tether-dev/tether/lib/config"
	"github.com/tether-dev/tether/lib/ipc"
	"github.com/tether-dev/tether/remote"
	"github.com/tether-dev/tether/transport"
)

// connectFlags is the flag surface shared by connect and exec.
type connectFlags struct {
	configPath      string
	identity        string
	jump            string
	user            string
	port            int
	binaryDir       string
	knownHosts      string
	insecureHostKey bool
	logLevel        string
}

func registerConnectFlags(flags *pflag.FlagSet) *connectFlags {
	cf := &connectFlags{}
	flags.StringVar(&cf.configPath, "config", "", "config file (default from TETHER_CONFIG)")
	flags.StringVar(&cf.identity, "identity", "", "SSH private key file")
	flags.StringVar(&cf.jump, "jump", "", "ProxyJump chain, OpenSSH -J syntax")
	flags.StringVar(&cf.user, "user", "", "SSH login name")
	flags.IntVar(&cf.port, "port", 0, "SSH port")
	flags.StringVar(&cf.binaryDir, "binary-dir", "", "directory holding tether-agent-<os>-<arch> binaries")
	flags.StringVar(&cf.knownHosts, "known-hosts", "", "known_hosts file (default ~/.ssh/known_hosts)")
	flags.BoolVar(&cf.insecureHostKey, "insecure-host-key", false, "skip host key verification")
	flags.StringVar(&cf.logLevel, "log-level", "", "debug, info, warn, or error")
	return cf
}

func connectCmd(args []string) error {
	flags := pflag.NewFlagSet("connect", pflag.ContinueOnError)
	cf := registerConnectFlags(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return errors.New("usage: tether connect [flags] <target>")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := openSession(ctx, cf, flags.Arg(0))
	if err != nil {
		return err
	}
	defer client.Close()

	return runInteractive(ctx, client)
}

func execCmd(args []string) error {
	flags := pflag.NewFlagSet("exec", pflag.ContinueOnError)
	cf := registerConnectFlags(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() < 2 {
		return errors.New("usage: tether exec [flags] <target> <command...>")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := openSession(ctx, cf, flags.Arg(0))
	if err != nil {
		return err
	}
	defer client.Close()

	caller := &envelopeCaller{client: client}
	if err := caller.awaitHello(ctx); err != nil {
		return err
	}
	result, err := caller.exec(ctx, strings.Join(flags.Args()[1:], " "))
	if err != nil {
		return err
	}
	fmt.Print(result.Output)
	if result.ExitCode != 0 {
		// os.Exit skips the deferred Close; shut the proxy down and
		// release the pooled session first.
		client.Close()
		os.Exit(result.ExitCode)
	}
	return nil
}

// openSession resolves the target, builds the transport and
// provisioning stack, and establishes (or joins) the pooled
// connection, returning a client with a running proxy.
func openSession(ctx context.Context, cf *connectFlags, target string) (*remote.Client, error) {
	logger := newLogger(cf.logLevel)

	cfg, err := loadConfig(cf.configPath)
	if err != nil {
		return nil, err
	}
	key, err := cfg.Resolve(target)
	if err != nil {
		return nil, err
	}
	settings := cfg.HostSettings(target)

	// Flags override everything the config file says.
	if cf.user != "" {
		key.User = cf.user
	}
	if cf.port != 0 {
		key.Port = cf.port
	}
	if cf.identity != "" {
		key.IdentityFile = cf.identity
	}
	if cf.jump != "" {
		key.ProxyJump = cf.jump
	}

	dialer := &transport.SSHDialer{
		KnownHostsFile:  cf.knownHosts,
		InsecureHostKey: cf.insecureHostKey || settings.InsecureHostKey,
		AskPassword:     askPassword,
		Logger:          logger,
	}
	provisioner := &remote.UploadProvisioner{
		BinaryDir: cf.binaryDir,
		RemoteDir: settings.AgentDir,
		Logger:    logger,
	}
	pool := remote.NewPool(remote.Options{
		Dialer:      dialer,
		Provisioner: provisioner,
		Status: func(status string) {
			fmt.Fprintln(os.Stderr, status)
		},
		Logger: logger,
	})

	return pool.Connect(ctx, key, "")
}

// runInteractive reads command lines from stdin and runs each on the
// remote host, printing the combined output. An EOF on stdin or a
// proxy exit ends the loop.
func runInteractive(ctx context.Context, client *remote.Client) error {
	caller := &envelopeCaller{client: client}
	if err := caller.awaitHello(ctx); err != nil {
		return err
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		result, err := caller.exec(ctx, line)
		if err != nil {
			if errors.Is(err, errProxyExited) {
				fmt.Fprintln(os.Stderr, "remote agent exited")
				return nil
			}
			return err
		}
		fmt.Print(result.Output)
		if result.ExitCode != 0 {
			fmt.Fprintf(os.Stderr, "exit %d\n", result.ExitCode)
		}
	}
	return scanner.Err()
}

var errProxyExited = errors.New("proxy exited")

// envelopeCaller runs the sequential request/reply exchange with the
// agent: one outstanding request at a time, replies matched by
// ReplyTo.
type envelopeCaller struct {
	client *remote.Client
	nextID uint64
}

// awaitHello consumes the agent's hello envelope, which is always the
// first message on a fresh proxy stream.
func (c *envelopeCaller) awaitHello(ctx context.Context) error {
	envelope, err := c.receive(ctx)
	if err != nil {
		return err
	}
	if envelope.Type != "hello" {
		return fmt.Errorf("expected hello, got %q", envelope.Type)
	}
	var hello ipc.Hello
	if err := codec.Unmarshal(envelope.Payload, &hello); err != nil {
		return fmt.Errorf("decoding hello: %w", err)
	}
	if hello.Resumed {
		fmt.Fprintf(os.Stderr, "Resumed session %s (agent %s)\n", hello.Identifier, hello.Version)
	} else {
		fmt.Fprintf(os.Stderr, "Connected as session %s (agent %s)\n", hello.Identifier, hello.Version)
	}
	return nil
}

// exec sends one exec request and waits for its reply.
func (c *envelopeCaller) exec(ctx context.Context, command string) (ipc.ExecResult, error) {
	c.nextID++
	request, err := ipc.NewEnvelope(c.nextID, "exec", ipc.ExecRequest{Command: command})
	if err != nil {
		return ipc.ExecResult{}, err
	}

	select {
	case c.client.Outgoing() <- request:
	case <-c.client.Done():
		return ipc.ExecResult{}, errProxyExited
	case <-ctx.Done():
		return ipc.ExecResult{}, ctx.Err()
	}

	for {
		reply, err := c.receive(ctx)
		if err != nil {
			return ipc.ExecResult{}, err
		}
		if reply.ReplyTo != request.ID {
			continue
		}
		switch reply.Type {
		case "exec-result":
			var result ipc.ExecResult
			if err := codec.Unmarshal(reply.Payload, &result); err != nil {
				return ipc.ExecResult{}, fmt.Errorf("decoding exec result: %w", err)
			}
			return result, nil
		case "error":
			var errorReply ipc.ErrorReply
			if err := codec.Unmarshal(reply.Payload, &errorReply); err != nil {
				return ipc.ExecResult{}, fmt.Errorf("decoding error reply: %w", err)
			}
			return ipc.ExecResult{}, fmt.Errorf("remote agent: %s", errorReply.Message)
		default:
			return ipc.ExecResult{}, fmt.Errorf("unexpected reply type %q", reply.Type)
		}
	}
}

func (c *envelopeCaller) receive(ctx context.Context) (ipc.Envelope, error) {
	select {
	case envelope, ok := <-c.client.Incoming():
		if !ok {
			return ipc.Envelope{}, errProxyExited
		}
		return envelope, nil
	case <-ctx.Done():
		return ipc.Envelope{}, ctx.Err()
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// askPassword prompts on the terminal without echo. Establishment
// finishes before the interactive loop starts, so reading the
// terminal directly here never races with command input.
func askPassword(prompt string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(password), nil
}

func newLogger(levelName string) *slog.Logger {
	var level slog.Level
	name := levelName
	if name == "" {
		name = os.Getenv("TETHER_LOG")
	}
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}
