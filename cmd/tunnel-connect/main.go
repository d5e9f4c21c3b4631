// Copyright 2026 The OpenPresenter Authors
// SPDX-License-Identifier: Apache-2.0

// tunnel-connect is the remote side of tunnel-bridge. It listens on a
// local TCP address and carries every accepted connection to the
// bridge named by a ticket, so local clients reach the bridged service
// as if it ran on this machine.
//
// The connecting identity is ephemeral: a fresh key per run.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/theopenpresenter/tunnel/lib/config"
	"github.com/theopenpresenter/tunnel/lib/logging"
	"github.com/theopenpresenter/tunnel/lib/process"
	"github.com/theopenpresenter/tunnel/lib/version"
	"github.com/theopenpresenter/tunnel/tunnel"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath    string
		listenAddress string
		listenAddrs   []string
		logLevel      string
		verbose       bool
		dialTimeout   time.Duration
	)

	flagSet := pflag.NewFlagSet("tunnel-connect", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "configuration file (default: $"+config.EnvironmentVariable+")")
	flagSet.StringVarP(&listenAddress, "listen", "l", "127.0.0.1:0", "local TCP address to accept clients on")
	flagSet.StringSliceVar(&listenAddrs, "p2p-listen", nil, "libp2p listen multiaddr (repeatable)")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable per-connection debug logging")
	flagSet.DurationVar(&dialTimeout, "dial-timeout", tunnel.DefaultDialTimeout, "bound on reaching the bridge per connection")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print(os.Stdout, "tunnel-connect")
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return &process.ExitCodeError{Code: 2, Err: err}
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if flagSet.NArg() != 1 {
		return &process.ExitCodeError{Code: 2, Err: fmt.Errorf("expected exactly one ticket argument")}
	}

	ticket, err := tunnel.ParseTicket(flagSet.Arg(0))
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if flagSet.Changed("p2p-listen") {
		cfg.ListenAddrs = listenAddrs
	}
	if flagSet.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, level, logging.Format(cfg.Log.Format))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	key, err := tunnel.GenerateSecretKey()
	if err != nil {
		return err
	}
	endpoint, err := tunnel.NewEndpoint(ctx, key, tunnel.EndpointConfig{
		ListenAddrs:        cfg.ListenAddrs,
		DisablePortMapping: cfg.DisablePortMapping,
		Logger:             logger,
	})
	if err != nil {
		return err
	}
	defer endpoint.Close()

	connector := &tunnel.Connector{
		Endpoint:    endpoint,
		Ticket:      ticket,
		ListenAddr:  listenAddress,
		DialTimeout: dialTimeout,
		Logger:      logger,
	}
	if err := connector.Start(ctx); err != nil {
		return err
	}
	defer connector.Stop()

	fmt.Println(connector.Addr().String())

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `tunnel-connect - reach a service exposed by tunnel-bridge

USAGE
    tunnel-connect [flags] <ticket>

The local listening address is printed on stdout.

FLAGS
%s`, flagSet.FlagUsages())
}
