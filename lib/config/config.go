// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Beamlink commands.
//
// Configuration is loaded from a single YAML file specified by:
//   - BEAMLINK_CONFIG environment variable, or
//   - --config flag passed to the command
//
// The config file is the single source of truth; individual values are
// not overridden from the environment. The only expansion performed is
// ${HOME} and similar path variables for portability.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/beamlink/beamlink/wire"
)

// Config is the master configuration for Beamlink.
type Config struct {
	// Relay configures the signaling relay connection.
	Relay RelayConfig `yaml:"relay"`

	// Security configures the session handshake policy.
	Security SecurityConfig `yaml:"security"`

	// Transfer configures file handling.
	Transfer TransferConfig `yaml:"transfer"`

	// ICE lists STUN/TURN servers for direct-transport negotiation.
	// Empty means host candidates only, which covers LAN transfers.
	ICE []ICEServerConfig `yaml:"ice"`
}

// RelayConfig configures the signaling relay connection.
type RelayConfig struct {
	// URL is the relay's WebSocket endpoint (ws:// or wss://).
	URL string `yaml:"url"`

	// Alias is the human-readable name shown to other peers.
	// Defaults to the hostname.
	Alias string `yaml:"alias"`

	// DeviceModel is a free-form device description.
	DeviceModel string `yaml:"deviceModel"`

	// DeviceType categorizes this peer for roster display.
	DeviceType wire.DeviceType `yaml:"deviceType"`
}

// SecurityConfig configures the session handshake policy.
type SecurityConfig struct {
	// PIN, when non-empty, gates inbound sessions: senders must
	// submit it before any file data flows.
	PIN string `yaml:"pin"`

	// MaxPinAttempts bounds wrong PIN submissions per session.
	MaxPinAttempts int `yaml:"maxPinAttempts"`
}

// TransferConfig configures file handling.
type TransferConfig struct {
	// DownloadDir is where received files are written.
	DownloadDir string `yaml:"downloadDir"`

	// AcceptAll skips the interactive per-file accept prompt and
	// accepts every offered file.
	AcceptAll bool `yaml:"acceptAll"`
}

// ICEServerConfig is one STUN or TURN server entry.
type ICEServerConfig struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

// Default returns the default configuration. These defaults ensure
// every field has a sensible value before a config file is merged in;
// commands without a config file run entirely on them.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "beamlink"
	}

	return &Config{
		Relay: RelayConfig{
			Alias:      hostname,
			DeviceType: wire.DeviceHeadless,
		},
		Security: SecurityConfig{
			MaxPinAttempts: 3,
		},
		Transfer: TransferConfig{
			DownloadDir: filepath.Join(homeDir, "Downloads"),
		},
	}
}

// Load loads configuration from the BEAMLINK_CONFIG environment
// variable. When the variable is unset, the defaults are returned; the
// relay URL must then come from the command line.
func Load() (*Config, error) {
	configPath := os.Getenv("BEAMLINK_CONFIG")
	if configPath == "" {
		return Default(), nil
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merged over
// the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${HOME} and ${HOSTNAME} in path-valued
// fields for portability across machines.
func (c *Config) expandVariables() {
	homeDir, _ := os.UserHomeDir()
	hostname, _ := os.Hostname()
	vars := map[string]string{
		"HOME":     homeDir,
		"HOSTNAME": hostname,
	}

	c.Transfer.DownloadDir = expandVars(c.Transfer.DownloadDir, vars)
	c.Relay.Alias = expandVars(c.Relay.Alias, vars)
}

var varPattern = regexp.MustCompile(`\$\{(\w+)\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := varPattern.FindStringSubmatch(match)[1]
		if value, ok := vars[name]; ok {
			return value
		}
		return match
	})
}

// Validate checks the configuration for internal consistency. A relay
// URL is required because every command registers with the relay.
func (c *Config) Validate() error {
	if c.Relay.URL == "" {
		return fmt.Errorf("relay.url is required")
	}
	parsed, err := url.Parse(c.Relay.URL)
	if err != nil {
		return fmt.Errorf("relay.url: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return fmt.Errorf("relay.url: scheme %q is not ws or wss", parsed.Scheme)
	}

	switch c.Relay.DeviceType {
	case wire.DeviceMobile, wire.DeviceDesktop, wire.DeviceWeb, wire.DeviceHeadless, wire.DeviceServer:
	default:
		return fmt.Errorf("relay.deviceType: unknown type %q", c.Relay.DeviceType)
	}

	if c.Security.MaxPinAttempts < 1 {
		return fmt.Errorf("security.maxPinAttempts must be at least 1")
	}
	if c.Transfer.DownloadDir == "" {
		return fmt.Errorf("transfer.downloadDir is required")
	}
	return nil
}

// ClientInfo builds the relay registration payload from the relay
// section.
func (c *Config) ClientInfo() wire.ClientInfo {
	return wire.ClientInfo{
		Alias:           c.Relay.Alias,
		ProtocolVersion: wire.ProtocolVersion,
		DeviceModel:     c.Relay.DeviceModel,
		DeviceType:      c.Relay.DeviceType,
	}
}
