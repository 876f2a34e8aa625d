// Copyright (c) 2025 BVK Chaitanya

package subcmds

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bvk/rangebot/bot"
	"github.com/bvk/rangebot/config"
	"github.com/bvk/rangebot/ctxutil"
	"github.com/bvk/rangebot/envfile"
	"github.com/bvk/rangebot/exchange"
	"github.com/bvk/rangebot/kucoin"
	"github.com/bvk/rangebot/subcmds/cmdutil"
	"github.com/bvk/rangebot/telegram"
	"github.com/bvkgo/kvbadger"
	"github.com/dgraph-io/badger/v4"
	"github.com/nightlyone/lockfile"
	"github.com/visvasity/cli"
	"github.com/visvasity/sglog"
)

type Run struct {
	configPath string
	dataDir    string

	interval time.Duration

	restart         bool
	shutdownTimeout time.Duration

	debugLogs bool
}

func (c *Run) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("run", flag.ContinueOnError)
	fset.StringVar(&c.configPath, "config", "trading_bot_config.json", "path to the configuration file")
	fset.StringVar(&c.dataDir, "data-dir", "", "path to the data directory")
	fset.DurationVar(&c.interval, "interval", bot.DefaultInterval, "delay between market scan cycles")
	fset.BoolVar(&c.restart, "restart", false, "when true, stops any old instance holding the data-dir lock")
	fset.DurationVar(&c.shutdownTimeout, "shutdown-timeout", 30*time.Second, "max timeout for shutdown when restarting")
	fset.BoolVar(&c.debugLogs, "debug-logs", false, "when true debug level logs are enabled")
	return "run", fset, cli.CmdFunc(c.run)
}

func (c *Run) Purpose() string {
	return "Runs the trading bot in foreground"
}

func (c *Run) Description() string {
	return `

Command "run" starts the trading bot. The bot scans the configured markets
periodically and drives the configured strategies through their buy and
sell cycles. Session state is checkpointed into the data directory after
every scan cycle, so a restarted bot continues where it left off.

Venue API keys and market strategies are read from the configuration file.
Use the "setup" commands to record venue credentials.

`
}

func (c *Run) run(ctx context.Context, args []string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(c.dataDir) == 0 {
		c.dataDir = filepath.Join(os.Getenv("HOME"), ".rangebot")
	}
	if _, err := os.Stat(c.dataDir); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("could not stat data directory %q: %w", c.dataDir, err)
		}
		if err := os.MkdirAll(c.dataDir, 0700); err != nil {
			return fmt.Errorf("could not create data directory %q: %w", c.dataDir, err)
		}
	}
	dataDir, err := filepath.Abs(c.dataDir)
	if err != nil {
		return fmt.Errorf("could not determine data-dir %q absolute path: %w", c.dataDir, err)
	}

	// Credentials referenced from the config file with ${NAME} syntax can
	// come from an env file next to the config or in the home directory.
	if err := envfile.UpdateEnv("rangebot.env", envfile.SearchCurrentDir(true)); err != nil {
		return fmt.Errorf("could not load the environment file: %w", err)
	}

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return fmt.Errorf("could not load configuration %q: %w", c.configPath, err)
	}

	logDir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("could not create log directory %q: %w", logDir, err)
	}
	backend := sglog.NewBackend(&sglog.Options{
		LogDirs: []string{logDir},
	})
	defer backend.Close()
	slog.SetDefault(slog.New(backend.Handler()))
	if c.debugLogs {
		backend.SetLevel(slog.LevelDebug)
	}

	log.SetFlags(log.Flags() | log.Lmicroseconds)
	log.Printf("using data directory %s and configuration file %s", dataDir, c.configPath)

	lockPath := filepath.Join(dataDir, "rangebot.lock")
	flock, err := lockfile.New(lockPath)
	if err != nil {
		return fmt.Errorf("could not create lock file %q: %w", lockPath, err)
	}
	if err := flock.TryLock(); err != nil {
		if !c.restart {
			return fmt.Errorf("could not get lock on file %q: %w", lockPath, err)
		}
		owner, err := flock.GetOwner()
		if err != nil {
			return fmt.Errorf("could not get current owner of the lock file: %w", err)
		}
		if err := owner.Signal(os.Interrupt); err == nil {
			log.Printf("waiting for the previous instance to shutdown")
			if err := ctxutil.RetryTimeout(ctx, time.Second, c.shutdownTimeout, flock.TryLock); err != nil {
				if err := owner.Signal(os.Kill); err != nil {
					return fmt.Errorf("could not kill current owner of the lock file: %w", err)
				}
				ctxutil.Sleep(ctx, time.Millisecond)
			}
		}
		if err := flock.TryLock(); err != nil {
			return fmt.Errorf("could not get lock on file %q after stopping the previous instance: %w", lockPath, err)
		}
	}
	defer flock.Unlock()

	bopts := badger.DefaultOptions(dataDir)
	bdb, err := badger.Open(bopts)
	if err != nil {
		return fmt.Errorf("could not open the database: %w", err)
	}
	defer bdb.Close()
	db := kvbadger.New(bdb, cmdutil.IsGoodKey)

	b, err := bot.Configure(ctx, db, cfg, dialVenue, nil /* opts */)
	if err != nil {
		return err
	}
	b.SetInterval(c.interval)

	if cfg.Telegram != nil {
		alerter, err := telegram.New(ctx, cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			return fmt.Errorf("could not create the telegram alerter: %w", err)
		}
		defer alerter.Close()
		b.SetAlerter(alerter)

		status := func(ctx context.Context, args []string) error {
			fmt.Fprint(cli.Stdout(ctx), sessionText(b.State(), false))
			return nil
		}
		if err := alerter.AddCommand(ctx, "status", "Prints a summary of all markets", status); err != nil {
			return fmt.Errorf("could not register the telegram status command: %w", err)
		}
	}

	log.Printf("started the trading bot with a %s scan interval", c.interval)
	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Printf("trading bot is shutting down")
	return nil
}

// dialVenue creates the exchange client for an account and starts the
// websocket price feeds for its configured markets.
func dialVenue(ctx context.Context, name string, acfg *config.Account) (exchange.Client, error) {
	switch acfg.Venue {
	case "kucoin":
		client, err := kucoin.New(acfg.Key, acfg.Secret, acfg.Passphrase, nil /* opts */)
		if err != nil {
			return nil, fmt.Errorf("could not create kucoin client for account %q: %w", name, err)
		}
		for symbol := range acfg.Markets {
			client.Watch(symbol)
		}
		return client, nil
	}
	return nil, fmt.Errorf("account %q venue %q is not supported: %w", name, acfg.Venue, os.ErrInvalid)
}
