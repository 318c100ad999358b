// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/tether-dev/tether/lib/ipc"
)

func pingCmd(args []string) error {
	flags := pflag.NewFlagSet("ping", pflag.ContinueOnError)
	cf := registerConnectFlags(flags)
	count := flags.Int("count", 3, "number of round trips")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return errors.New("usage: tether ping [flags] <target>")
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

	for i := 0; i < *count; i++ {
		elapsed, err := caller.ping(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("pong from %s: %v\n", flags.Arg(0), elapsed.Round(time.Microsecond))
	}
	return nil
}

// ping sends one ping envelope and measures the reply round trip.
func (c *envelopeCaller) ping(ctx context.Context) (time.Duration, error) {
	c.nextID++
	request, err := ipc.NewEnvelope(c.nextID, "ping", nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	select {
	case c.client.Outgoing() <- request:
	case <-c.client.Done():
		return 0, errProxyExited
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	for {
		reply, err := c.receive(ctx)
		if err != nil {
			return 0, err
		}
		if reply.ReplyTo != request.ID {
			continue
		}
		if reply.Type != "pong" {
			return 0, fmt.Errorf("unexpected reply type %q", reply.Type)
		}
		return time.Since(start), nil
	}
}
