// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tether-dev/tether/remote"
)

// Config is the master configuration for the tether CLI.
type Config struct {
	// Defaults applies to every host unless the host entry overrides it.
	Defaults HostConfig `yaml:"defaults"`

	// Hosts maps an alias (the name passed to "tether connect") to its
	// connection settings.
	Hosts map[string]HostConfig `yaml:"hosts"`
}

// HostConfig is the connection settings for one remote host.
type HostConfig struct {
	// Host is the hostname or IP address to connect to.
	Host string `yaml:"host,omitempty"`

	// Port is the SSH port. Zero means 22.
	Port int `yaml:"port,omitempty"`

	// User is the SSH login name. Empty means the local user.
	User string `yaml:"user,omitempty"`

	// IdentityFile is the path to the private key used for public key
	// authentication. ${HOME} is expanded.
	IdentityFile string `yaml:"identity_file,omitempty"`

	// ProxyJump is a comma-separated chain of intermediate hosts in
	// OpenSSH -J syntax ("user@bastion:port,user@inner").
	ProxyJump string `yaml:"proxy_jump,omitempty"`

	// AgentDir is the remote directory the agent binary is uploaded
	// to. Empty means the agent's default (~/.tether/bin).
	AgentDir string `yaml:"agent_dir,omitempty"`

	// InsecureHostKey disables known_hosts verification for this host.
	InsecureHostKey bool `yaml:"insecure_host_key,omitempty"`
}

// Default returns the built-in configuration: no hosts, port 22.
func Default() *Config {
	return &Config{
		Defaults: HostConfig{Port: 22},
		Hosts:    map[string]HostConfig{},
	}
}

// Load loads configuration from the TETHER_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// If TETHER_CONFIG is not set, the built-in defaults are returned —
// every setting is reachable through command-line flags, so a config
// file is a convenience, not a requirement.
func Load() (*Config, error) {
	configPath := os.Getenv("TETHER_CONFIG")
	if configPath == "" {
		return Default(), nil
	}
	return LoadFile(configPath)
}

// LoadFile loads the configuration file at path on top of the built-in
// defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Resolve turns a connect target — either a configured alias or a raw
// "[user@]host[:port]" string — into a connection key. Alias entries
// are merged over Defaults; raw targets use Defaults for everything
// the target string does not carry.
func (c *Config) Resolve(target string) (remote.ConnectionKey, error) {
	settings := c.Defaults

	if hostConfig, ok := c.Hosts[target]; ok {
		settings = merge(settings, hostConfig)
		if settings.Host == "" {
			settings.Host = target
		}
	} else {
		rest := target
		if user, hostPart, ok := strings.Cut(rest, "@"); ok {
			settings.User = user
			rest = hostPart
		}
		if host, port, ok := strings.Cut(rest, ":"); ok {
			settings.Host = host
			parsed, err := parsePort(port)
			if err != nil {
				return remote.ConnectionKey{}, fmt.Errorf("target %q: %w", target, err)
			}
			settings.Port = parsed
		} else {
			settings.Host = rest
		}
	}

	if settings.Host == "" {
		return remote.ConnectionKey{}, fmt.Errorf("target %q resolves to an empty host", target)
	}
	if settings.Port == 0 {
		settings.Port = 22
	}

	return remote.ConnectionKey{
		Host:         settings.Host,
		Port:         settings.Port,
		User:         settings.User,
		IdentityFile: settings.IdentityFile,
		ProxyJump:    settings.ProxyJump,
	}, nil
}

// HostSettings returns the merged settings for target without
// converting to a connection key. Used for fields the key does not
// carry (AgentDir, InsecureHostKey).
func (c *Config) HostSettings(target string) HostConfig {
	settings := c.Defaults
	if hostConfig, ok := c.Hosts[target]; ok {
		settings = merge(settings, hostConfig)
	}
	return settings
}

// Validate checks the configuration for entries that can never connect.
func (c *Config) Validate() error {
	for alias, hostConfig := range c.Hosts {
		if hostConfig.Port < 0 || hostConfig.Port > 65535 {
			return fmt.Errorf("host %q: port %d out of range", alias, hostConfig.Port)
		}
	}
	if c.Defaults.Port < 0 || c.Defaults.Port > 65535 {
		return fmt.Errorf("defaults: port %d out of range", c.Defaults.Port)
	}
	return nil
}

// merge overlays override on top of base, field by field.
func merge(base, override HostConfig) HostConfig {
	merged := base
	if override.Host != "" {
		merged.Host = override.Host
	}
	if override.Port != 0 {
		merged.Port = override.Port
	}
	if override.User != "" {
		merged.User = override.User
	}
	if override.IdentityFile != "" {
		merged.IdentityFile = override.IdentityFile
	}
	if override.ProxyJump != "" {
		merged.ProxyJump = override.ProxyJump
	}
	if override.AgentDir != "" {
		merged.AgentDir = override.AgentDir
	}
	if override.InsecureHostKey {
		merged.InsecureHostKey = true
	}
	return merged
}

// expandVariables expands ${HOME} in path-valued fields for portability
// across machines sharing one config file.
func (c *Config) expandVariables() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	expand := func(hostConfig *HostConfig) {
		hostConfig.IdentityFile = strings.ReplaceAll(hostConfig.IdentityFile, "${HOME}", home)
		hostConfig.AgentDir = strings.ReplaceAll(hostConfig.AgentDir, "${HOME}", home)
	}
	expand(&c.Defaults)
	for alias, hostConfig := range c.Hosts {
		expand(&hostConfig)
		c.Hosts[alias] = hostConfig
	}
}

func parsePort(s string) (int, error) {
	port := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid port %q", s)
		}
		port = port*10 + int(r-'0')
		if port > 65535 {
			return 0, fmt.Errorf("port %q out of range", s)
		}
	}
	if s == "" {
		return 0, fmt.Errorf("empty port")
	}
	return port, nil
}
