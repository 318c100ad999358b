// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/tether-dev/tether/lib/version"
)

func proxyCmd(args []string) error {
	flags := pflag.NewFlagSet("proxy", pflag.ContinueOnError)
	identifier := flags.String("identifier", "", "session identifier (required)")
	reconnect := flags.Bool("reconnect", false, "resume state from a previous proxy with this identifier")
	logLevel := flags.String("log-level", "", "debug, info, warn, or error (default from TETHER_LOG)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *identifier == "" {
		return errors.New("--identifier is required")
	}

	level := parseLogLevel(*logLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resumed, statePath, err := claimSessionState(*identifier, *reconnect)
	if err != nil {
		return err
	}

	logger.Info("ready",
		"identifier", *identifier,
		"version", version.Short(),
		"resumed", resumed)

	server := &proxyServer{
		logger:     logger,
		identifier: *identifier,
		resumed:    resumed,
	}
	serveErr := server.serve(ctx, os.Stdin, os.Stdout)
	if serveErr == nil {
		// Clean shutdown (client closed stdin): the session is over,
		// forget its state.
		_ = os.Remove(statePath)
		logger.Info("shutting down", "identifier", *identifier)
		return nil
	}
	logger.Error("proxy stream failed", "identifier", *identifier, "error", serveErr)
	return serveErr
}

// claimSessionState records this proxy's session state file and, on
// --reconnect, reports whether a previous proxy left state behind.
// The file outlives a killed proxy on purpose: that is what makes
// resumption detectable.
func claimSessionState(identifier string, reconnect bool) (resumed bool, statePath string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return false, "", fmt.Errorf("locating state directory: %w", err)
	}
	stateDir := filepath.Join(home, ".tether", "state")
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return false, "", fmt.Errorf("creating state directory: %w", err)
	}

	statePath = filepath.Join(stateDir, identifier)
	if reconnect {
		_, statErr := os.Stat(statePath)
		resumed = statErr == nil
	}

	content := fmt.Sprintf("started %s\n", time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(statePath, []byte(content), 0600); err != nil {
		return false, "", fmt.Errorf("writing state file: %w", err)
	}
	return resumed, statePath, nil
}

// parseLogLevel resolves the effective log level from the flag, then
// TETHER_LOG, then the info default.
func parseLogLevel(flagValue string) slog.Level {
	name := flagValue
	if name == "" {
		name = os.Getenv("TETHER_LOG")
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo
	}
	return level
}
