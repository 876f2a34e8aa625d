// Copyright (c) 2025 BVK Chaitanya

package setup

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/bvk/rangebot/config"
	"github.com/bvk/rangebot/telegram"
	"github.com/visvasity/cli"
	"golang.org/x/term"
)

type Telegram struct {
	configPath string

	botToken string
	chatID   int64

	skipTesting bool
}

func (c *Telegram) Purpose() string {
	return "Records Telegram alerting parameters into the configuration file"
}

func (c *Telegram) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("telegram", flag.ContinueOnError)
	fset.StringVar(&c.configPath, "config", "trading_bot_config.json", "path to the configuration file")
	fset.StringVar(&c.botToken, "bot-token", "", "Telegram bot's authentication token")
	fset.Int64Var(&c.chatID, "chat-id", 0, "Telegram chat id to receive the alerts")
	fset.BoolVar(&c.skipTesting, "skip-testing", false, "don't test the parameters")
	return "telegram", fset, cli.CmdFunc(c.run)
}

func (c *Telegram) Description() string {
	return `

Command "telegram" helps users configure alerts to their Telegram account
through a Telegram bot.

Telegram configuration is optional. It is only required to receive alerts
when a market is deactivated or an account scan keeps failing:

  $ rangebot setup telegram -chat-id=12345 -bot-token=USCJS2...TVP4KV

`
}

func (c *Telegram) run(ctx context.Context, args []string) error {
	if len(c.botToken) == 0 || c.chatID == 0 {
		return fmt.Errorf("both bot-token and chat-id are required: %w", os.ErrInvalid)
	}

	if !c.skipTesting {
		func() {
			fmt.Println("Start a chat with the telegram bot and then press any key")
			// switch stdin into 'raw' mode
			oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
			if err != nil {
				log.Fatal(err)
			}
			defer term.Restore(int(os.Stdin.Fd()), oldState)

			b := make([]byte, 1)
			if _, err := os.Stdin.Read(b); err != nil {
				log.Fatal(err)
			}
		}()

		alerter, err := telegram.New(ctx, c.botToken, c.chatID)
		if err != nil {
			return err
		}
		defer alerter.Close()
		alerter.SendAlert(ctx, time.Now(), "Test message from the alert setup; please ignore.")
	}

	cfg, err := loadOrNew(c.configPath)
	if err != nil {
		return err
	}
	cfg.Telegram = &config.Telegram{
		Token:  c.botToken,
		ChatID: c.chatID,
	}
	if err := save(c.configPath, cfg); err != nil {
		return err
	}
	fmt.Printf("recorded telegram alerting parameters in %s\n", c.configPath)
	return nil
}
