// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath overrides the default location of the config file.
const EnvConfigPath = "OTACTL_CONFIG"

var brokerSchemes = []string{"tcp", "ssl", "tls", "ws", "wss", "mqtt", "mqtts", "nats"}

type Config struct {
	ActiveContext string             `yaml:"active_context"`
	Contexts      map[string]Context `yaml:"contexts"`
}

// Context is one store the console talks to, with the broker its devices
// are reachable through.
type Context struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`

	Broker          string        `yaml:"broker,omitempty"`
	ClientId        string        `yaml:"client_id,omitempty"`
	Username        string        `yaml:"username,omitempty"`
	Password        string        `yaml:"password,omitempty"`
	ResponseTimeout time.Duration `yaml:"response_timeout,omitempty"`
}

// Validate reports the first setting that keeps the context from being used.
func (c Context) Validate() error {
	if c.URL == "" {
		return errors.New("no URL configured")
	} else if u, err := url.Parse(c.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("URL %q is not an http(s) address", c.URL)
	}
	if c.Token == "" {
		return errors.New("no token configured")
	}
	if c.Broker != "" {
		u, err := url.Parse(c.Broker)
		if err != nil || u.Host == "" {
			return fmt.Errorf("broker %q is not a url", c.Broker)
		}
		if !contains(brokerSchemes, u.Scheme) {
			return fmt.Errorf("broker scheme %q is not one of %v", u.Scheme, brokerSchemes)
		}
	}
	if c.ResponseTimeout < 0 {
		return errors.New("response timeout is negative")
	}
	return nil
}

// LoadConfig reads the file at path, or at the default location when path is
// empty. A missing file is reported with an error wrapping os.ErrNotExist.
func LoadConfig(path string) (*Config, error) {
	path, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file not found at %s, run `otactl login` first: %w", path, err)
	} else if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// GetContext returns the named context, or the active one for an empty name.
func (c *Config) GetContext(name string) (*Context, error) {
	if name == "" {
		if name = c.ActiveContext; name == "" {
			return nil, errors.New("no default context set")
		}
	}
	ctx, ok := c.Contexts[name]
	if !ok {
		return nil, fmt.Errorf("context '%s' not found", name)
	}
	if err := ctx.Validate(); err != nil {
		return nil, fmt.Errorf("context '%s': %w", name, err)
	}
	return &ctx, nil
}

// SetContext stores ctx under name, making it the active one when no other is.
func (c *Config) SetContext(name string, ctx Context) {
	if c.Contexts == nil {
		c.Contexts = map[string]Context{}
	}
	c.Contexts[name] = ctx
	if c.ActiveContext == "" {
		c.ActiveContext = name
	}
}

// SaveConfig writes cfg readable by the owner only, since it holds tokens and
// broker passwords. The file is replaced atomically.
func SaveConfig(path string, cfg *Config) error {
	path, err := resolvePath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

func resolvePath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config path: %w", err)
	}
	return filepath.Join(home, ".config", "otactl.yaml"), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
