// Copyright (c) 2025 BVK Chaitanya

// Package setup implements subcommands that record venue credentials and
// alerting parameters into the configuration file.
package setup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/bvk/rangebot/config"
)

// loadOrNew reads the configuration file without the run-time validation,
// so credentials can be recorded before any market is configured. A
// missing file starts a fresh configuration.
func loadOrNew(path string) (*config.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("could not read config file %q: %w", path, err)
		}
		return &config.Config{Accounts: make(map[string]*config.Account)}, nil
	}

	c := new(config.Config)
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(c); err != nil {
		return nil, fmt.Errorf("could not decode config file %q: %w", path, err)
	}
	if c.Accounts == nil {
		c.Accounts = make(map[string]*config.Account)
	}
	return c, nil
}

// save writes the configuration with owner-only permissions. Full
// validation happens when the bot starts, not here, because a credentials
// only configuration has no markets yet.
func save(path string, c *config.Config) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("could not encode config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("could not write config file %q: %w", path, err)
	}
	return nil
}
