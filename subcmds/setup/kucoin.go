// Copyright (c) 2025 BVK Chaitanya

package setup

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/bvk/rangebot/config"
	"github.com/bvk/rangebot/kucoin"
	"github.com/visvasity/cli"
	"golang.org/x/term"
)

type Kucoin struct {
	configPath string

	account string

	key string

	skipTesting bool
}

func (c *Kucoin) Purpose() string {
	return "Records KuCoin API credentials into the configuration file"
}

func (c *Kucoin) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("kucoin", flag.ContinueOnError)
	fset.StringVar(&c.configPath, "config", "trading_bot_config.json", "path to the configuration file")
	fset.StringVar(&c.account, "account", "kucoin", "account name in the configuration file")
	fset.StringVar(&c.key, "key", "", "KuCoin API key")
	fset.BoolVar(&c.skipTesting, "skip-testing", false, "don't test the credentials")
	return "kucoin", fset, cli.CmdFunc(c.run)
}

func (c *Kucoin) Description() string {
	return `

Command "kucoin" records KuCoin API credentials for an account. The API
secret and passphrase are read from the terminal without echo. Unless
-skip-testing is given, the credentials are verified with a balance
request before they are saved.

Market and strategy parameters for the account are edited in the
configuration file directly.

`
}

func (c *Kucoin) run(ctx context.Context, args []string) error {
	if len(c.key) == 0 {
		return fmt.Errorf("api key cannot be empty: %w", os.ErrInvalid)
	}

	secret, err := promptSecret("KuCoin API secret: ")
	if err != nil {
		return err
	}
	passphrase, err := promptSecret("KuCoin API passphrase: ")
	if err != nil {
		return err
	}
	if len(secret) == 0 || len(passphrase) == 0 {
		return fmt.Errorf("api secret and passphrase cannot be empty: %w", os.ErrInvalid)
	}

	if !c.skipTesting {
		client, err := kucoin.New(c.key, secret, passphrase, nil /* opts */)
		if err != nil {
			return err
		}
		defer client.Close()
		if _, err := client.FetchBalance(ctx); err != nil {
			return fmt.Errorf("could not verify the credentials with a balance request: %w", err)
		}
	}

	cfg, err := loadOrNew(c.configPath)
	if err != nil {
		return err
	}
	account := cfg.Accounts[c.account]
	if account == nil {
		account = new(config.Account)
		cfg.Accounts[c.account] = account
	}
	account.Venue = "kucoin"
	account.Key = c.key
	account.Secret = secret
	account.Passphrase = passphrase

	if err := save(c.configPath, cfg); err != nil {
		return err
	}
	fmt.Printf("recorded kucoin credentials for account %q in %s\n", c.account, c.configPath)
	return nil
}

func promptSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	data, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("could not read the secret from the terminal: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
