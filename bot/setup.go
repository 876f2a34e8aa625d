// Copyright (c) 2025 BVK Chaitanya

package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/bvk/rangebot/account"
	"github.com/bvk/rangebot/config"
	"github.com/bvk/rangebot/exchange"
	"github.com/bvk/rangebot/gobs"
	"github.com/bvk/rangebot/market"
	"github.com/bvk/rangebot/retry"
	"github.com/bvk/rangebot/session"
	"github.com/bvk/rangebot/strategy"
	"github.com/bvkgo/kv"
)

// Dialer creates an authenticated venue client for one configured
// account.
type Dialer func(ctx context.Context, name string, cfg *config.Account) (exchange.Client, error)

// Options adjust how a bot is assembled from its configuration.
type Options struct {
	// RetryPolicy, when non-nil, overrides the backoff timings of every
	// account, market and strategy.
	RetryPolicy *retry.Policy
}

// Configure assembles a bot from the configuration and the last session
// checkpoint in the database. Accounts, markets and strategies present in
// the checkpoint are rehydrated; everything else starts fresh.
func Configure(ctx context.Context, db kv.Database, cfg *config.Config, dial Dialer, opts *Options) (*Bot, error) {
	if opts == nil {
		opts = &Options{}
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}

	state, err := session.Load(ctx, db)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		state = nil
		slog.Info("no session checkpoint found, starting fresh")
	}

	b := New(db)
	if state != nil {
		b.cycles = state.Cycles
	}

	names := make([]string, 0, len(cfg.Accounts))
	for name := range cfg.Accounts {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		acfg := cfg.Accounts[name]
		client, err := dial(ctx, name, acfg)
		if err != nil {
			return nil, fmt.Errorf("could not dial venue for account %q: %w", name, err)
		}
		a := account.New(name, client)
		if opts.RetryPolicy != nil {
			a.SetRetryPolicy(opts.RetryPolicy)
		}

		infos, err := a.LoadMarkets(ctx)
		if err != nil {
			return nil, err
		}

		for symbol, mcfg := range acfg.Markets {
			info, ok := infos[symbol]
			if !ok {
				return nil, fmt.Errorf("symbol %q is not traded on account %q: %w", symbol, name, os.ErrInvalid)
			}

			m, mstate := restoreMarket(state, name, symbol, client, info)
			if opts.RetryPolicy != nil {
				m.SetRetryPolicy(opts.RetryPolicy)
			}

			for sname, settings := range mcfg.Strategies {
				var s market.Strategy
				if mstate != nil && mstate.Strategies[sname] != nil {
					s, err = strategy.Restore(client, m, settings, mstate.Strategies[sname])
				} else {
					s, err = strategy.New(sname, client, m, settings)
				}
				if err != nil {
					return nil, fmt.Errorf("market %q on account %q: %w", symbol, name, err)
				}
				if opts.RetryPolicy != nil {
					if v, ok := s.(interface{ SetRetryPolicy(*retry.Policy) }); ok {
						v.SetRetryPolicy(opts.RetryPolicy)
					}
				}
				m.AddStrategy(s)
			}
			a.AddMarket(m)
		}
		b.AddAccount(a)
	}
	return b, nil
}

func restoreMarket(state *gobs.SessionState, name, symbol string, client exchange.Client, info exchange.MarketInfo) (*market.Market, *gobs.MarketState) {
	if state != nil {
		if astate, ok := state.Accounts[name]; ok {
			if mstate, ok := astate.Markets[symbol]; ok {
				if m, err := market.FromState(client, mstate); err == nil {
					return m, mstate
				}
				slog.Warn("could not restore market state, starting fresh", "account", name, "symbol", symbol)
			}
		}
	}
	return market.New(client, symbol, info.Base, info.Quote), nil
}
