// Copyright 2026 The OpenPresenter Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file when --config is absent.
const EnvironmentVariable = "TUNNEL_CONFIG"

// Config is the configuration shared by tunnel-bridge and
// tunnel-connect.
type Config struct {
	// DataDirectory holds the persisted secret key and lock file.
	DataDirectory string `yaml:"data_directory"`

	// Target is the local IPv4 TCP service the bridge forwards to,
	// e.g. "127.0.0.1:8080".
	Target string `yaml:"target"`

	// ListenAddrs are libp2p multiaddrs to bind. Empty selects QUIC and
	// TCP on every interface.
	ListenAddrs []string `yaml:"listen_addrs"`

	// StaticRelays are circuit-relay servers as full multiaddrs ending
	// in /p2p/<peer-id>.
	StaticRelays []string `yaml:"static_relays"`

	// DisablePortMapping turns off UPnP/NAT-PMP.
	DisablePortMapping bool `yaml:"disable_port_mapping"`

	OnlineTimeout    time.Duration `yaml:"online_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`

	// StatusAddress is where tunnel-bridge serves /status and /metrics.
	// Empty disables the HTTP listener.
	StatusAddress string `yaml:"status_address"`

	Log LogConfig `yaml:"log"`
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is auto, text, or json. Auto picks text on a terminal.
	Format string `yaml:"format"`
}

// Default returns the configuration used before any file is applied.
func Default() *Config {
	return &Config{
		DataDirectory:    "${XDG_DATA_HOME:-${HOME}/.local/share}/openpresenter/tunnel",
		OnlineTimeout:    10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		ConnectTimeout:   5 * time.Second,
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads the file named by path, or by TUNNEL_CONFIG when path is
// empty. With neither set it returns Default with variables expanded.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvironmentVariable)
	}
	if path == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file on top of Default.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	// JSON is a subset of YAML, so both forms decode through the same
	// yaml tags once comments and trailing commas are stripped.
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func (c *Config) expandVariables() {
	c.DataDirectory = expandVars(c.DataDirectory)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-((?:[^{}]|\$\{[^}]*\})*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}. A default may itself
// contain one level of ${VAR}.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return expandVars(parts[2])
	})
}

// TargetAddress parses Target.
func (c *Config) TargetAddress() (netip.AddrPort, error) {
	target, err := netip.ParseAddrPort(c.Target)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("target %q: %w", c.Target, err)
	}
	if !target.Addr().Unmap().Is4() {
		return netip.AddrPort{}, fmt.Errorf("target %q: must be an IPv4 address", c.Target)
	}
	return target, nil
}

// Validate checks the fields tunnel-bridge needs.
func (c *Config) Validate() error {
	var errs []error

	if c.DataDirectory == "" {
		errs = append(errs, fmt.Errorf("data_directory is required"))
	}
	if c.Target == "" {
		errs = append(errs, fmt.Errorf("target is required"))
	} else if _, err := c.TargetAddress(); err != nil {
		errs = append(errs, err)
	}
	if c.OnlineTimeout < 0 || c.HandshakeTimeout < 0 || c.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("timeouts must not be negative"))
	}
	switch c.Log.Format {
	case "", "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be one of: auto, text, json"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
