// Copyright (c) 2025 BVK Chaitanya

// Package config defines the bot's configuration file format. Every field
// is named and typed; unknown keys in the file are a configuration error,
// not data to carry along.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/bvk/rangebot/strategy"
)

// Config is the root of the bot configuration file.
type Config struct {
	// Accounts maps an account name to its venue credentials and traded
	// markets.
	Accounts map[string]*Account `json:"accounts"`

	// Telegram, when present, enables operator alerts.
	Telegram *Telegram `json:"telegram,omitempty"`
}

// Account configures one authenticated venue account.
type Account struct {
	// Venue is the exchange adapter name, e.g. "kucoin".
	Venue string `json:"venue"`

	Key        string `json:"key"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase,omitempty"`

	// Markets maps a trading pair symbol, e.g. "ADB/ETH", to its traded
	// market configuration.
	Markets map[string]*Market `json:"markets"`
}

// Market configures the strategies running on one trading pair.
type Market struct {
	Strategies map[string]*strategy.Settings `json:"strategies"`
}

// Telegram configures operator alerting.
type Telegram struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config file %q: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file %q: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates configuration data. Unknown fields are
// rejected. Credential fields may reference environment variables with
// the ${NAME} syntax, which keeps secrets out of the config file.
func Parse(data []byte) (*Config, error) {
	c := new(Config)
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(c); err != nil {
		return nil, fmt.Errorf("could not decode config: %w", err)
	}
	c.expandEnv()
	if err := c.Check(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) expandEnv() {
	for _, a := range c.Accounts {
		a.Key = os.ExpandEnv(a.Key)
		a.Secret = os.ExpandEnv(a.Secret)
		a.Passphrase = os.ExpandEnv(a.Passphrase)
	}
	if c.Telegram != nil {
		c.Telegram.Token = os.ExpandEnv(c.Telegram.Token)
	}
}

// Save writes the configuration to a file readable only by the owner, as
// it holds venue credentials.
func (c *Config) Save(path string) error {
	if err := c.Check(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("could not encode config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("could not write config file %q: %w", path, err)
	}
	return nil
}

// Check validates the configuration.
func (c *Config) Check() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account is required: %w", os.ErrInvalid)
	}
	for name, a := range c.Accounts {
		if err := a.check(); err != nil {
			return fmt.Errorf("account %q: %w", name, err)
		}
	}
	if c.Telegram != nil {
		if len(c.Telegram.Token) == 0 || c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram alerts need both token and chat id: %w", os.ErrInvalid)
		}
	}
	return nil
}

func (a *Account) check() error {
	if len(a.Venue) == 0 {
		return fmt.Errorf("venue name cannot be empty: %w", os.ErrInvalid)
	}
	if len(a.Key) == 0 || len(a.Secret) == 0 {
		return fmt.Errorf("venue credentials cannot be empty: %w", os.ErrInvalid)
	}
	if len(a.Markets) == 0 {
		return fmt.Errorf("at least one traded market is required: %w", os.ErrInvalid)
	}
	for symbol, m := range a.Markets {
		if len(m.Strategies) == 0 {
			return fmt.Errorf("market %q has no strategies: %w", symbol, os.ErrInvalid)
		}
		for sname, settings := range m.Strategies {
			if err := settings.Check(); err != nil {
				return fmt.Errorf("market %q strategy %q: %w", symbol, sname, err)
			}
		}
	}
	return nil
}
