// Copyright 2026 The OpenPresenter Authors
// SPDX-License-Identifier: Apache-2.0

// tunnel-bridge exposes one local TCP service to remote peers. It
// prints a ticket on stdout; a peer running tunnel-connect with that
// ticket reaches the service through a NAT-traversing, encrypted
// libp2p connection.
//
// The identity is persisted in the data directory, so the ticket stays
// valid across restarts as long as the listening addresses do.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
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
		dataDirectory string
		target        string
		listenAddrs   []string
		relays        []string
		statusAddress string
		logLevel      string
		logFormat     string
		verbose       bool
		noPortMapping bool
	)

	flagSet := pflag.NewFlagSet("tunnel-bridge", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "configuration file (default: $"+config.EnvironmentVariable+")")
	flagSet.StringVarP(&dataDirectory, "data-dir", "d", "", "directory holding the persisted identity")
	flagSet.StringVarP(&target, "target", "t", "", "local IPv4 TCP service to expose, e.g. 127.0.0.1:8080")
	flagSet.StringSliceVar(&listenAddrs, "listen", nil, "libp2p listen multiaddr (repeatable)")
	flagSet.StringSliceVar(&relays, "relay", nil, "static circuit relay multiaddr ending in /p2p/<id> (repeatable)")
	flagSet.StringVar(&statusAddress, "status-addr", "", "serve /status and /metrics on this TCP address")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	flagSet.StringVar(&logFormat, "log-format", "", "auto, text or json")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable per-connection debug logging")
	flagSet.BoolVar(&noPortMapping, "no-port-mapping", false, "disable UPnP/NAT-PMP port mapping")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print(os.Stdout, "tunnel-bridge")
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
	if flagSet.NArg() > 0 {
		return &process.ExitCodeError{Code: 2, Err: fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if flagSet.Changed("data-dir") {
		cfg.DataDirectory = dataDirectory
	}
	if flagSet.Changed("target") {
		cfg.Target = target
	}
	if flagSet.Changed("listen") {
		cfg.ListenAddrs = listenAddrs
	}
	if flagSet.Changed("relay") {
		cfg.StaticRelays = relays
	}
	if flagSet.Changed("status-addr") {
		cfg.StatusAddress = statusAddress
	}
	if flagSet.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flagSet.Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if noPortMapping {
		cfg.DisablePortMapping = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, level, logging.Format(cfg.Log.Format))
	slog.SetDefault(logger)

	bridgeConfig, err := bridgeConfigFrom(cfg, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	bridgeConfig.Metrics = tunnel.NewMetrics(registry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	controller := &tunnel.Controller{Config: bridgeConfig}
	status, err := controller.Start(ctx)
	if err != nil {
		return err
	}
	defer controller.Stop()

	fmt.Println(status.Ticket)

	if cfg.StatusAddress != "" {
		server, err := serveStatus(ctx, cfg.StatusAddress, controller, registry, logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownContext, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(shutdownContext)
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// bridgeConfigFrom converts the file/flag configuration into the
// library's BridgeConfig.
func bridgeConfigFrom(cfg *config.Config, logger *slog.Logger) (tunnel.BridgeConfig, error) {
	targetAddress, err := cfg.TargetAddress()
	if err != nil {
		return tunnel.BridgeConfig{}, err
	}
	staticRelays, err := parseRelays(cfg.StaticRelays)
	if err != nil {
		return tunnel.BridgeConfig{}, err
	}
	return tunnel.BridgeConfig{
		DataDirectory: cfg.DataDirectory,
		Target:        targetAddress,
		Endpoint: tunnel.EndpointConfig{
			ListenAddrs:        cfg.ListenAddrs,
			StaticRelays:       staticRelays,
			DisablePortMapping: cfg.DisablePortMapping,
			Logger:             logger,
		},
		OnlineTimeout:    cfg.OnlineTimeout,
		HandshakeTimeout: cfg.HandshakeTimeout,
		ConnectTimeout:   cfg.ConnectTimeout,
		Logger:           logger,
	}, nil
}

func parseRelays(values []string) ([]peer.AddrInfo, error) {
	relays := make([]peer.AddrInfo, 0, len(values))
	for _, value := range values {
		info, err := peer.AddrInfoFromString(value)
		if err != nil {
			return nil, fmt.Errorf("relay %q: %w", value, err)
		}
		relays = append(relays, *info)
	}
	return relays, nil
}

func serveStatus(ctx context.Context, address string, controller *tunnel.Controller, registry *prometheus.Registry, logger *slog.Logger) (*http.Server, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("status listener on %s: %w", address, err)
	}
	server := &http.Server{
		Handler:           newStatusHandler(ctx, controller, registry, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server failed", "error", err)
		}
	}()
	logger.Info("status server listening", "addr", listener.Addr().String())
	return server, nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `tunnel-bridge - expose a local TCP service to remote peers

USAGE
    tunnel-bridge --target 127.0.0.1:8080 [flags]

The ticket is printed on stdout. Give it to the remote side:

    tunnel-connect --listen 127.0.0.1:8080 <ticket>

FLAGS
%s
HTTP (with --status-addr)
    GET  /status    {"enabled", "ticket", "node_id"}
    GET  /ticket    the ticket as text (404 when stopped)
    POST /start     start the bridge (409 when already running)
    POST /stop      stop the bridge
    GET  /metrics   Prometheus metrics
`, flagSet.FlagUsages())
}
