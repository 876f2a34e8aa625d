// Copyright (c) 2025 BVK Chaitanya

// Package bot runs the trading cycle loop over the configured accounts.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/bvk/rangebot/account"
	"github.com/bvk/rangebot/ctxutil"
	"github.com/bvk/rangebot/gobs"
	"github.com/bvk/rangebot/session"
	"github.com/bvk/rangebot/telegram"
	"github.com/bvkgo/kv"
)

const DefaultInterval = 10 * time.Second

// Bot owns the configured accounts and drives them through trading
// cycles. A cycle visits every account sequentially, then checkpoints the
// whole session.
type Bot struct {
	db kv.Database

	accounts map[string]*account.Account

	alerter *telegram.Alerter

	interval time.Duration

	cycles uint64

	// downAlerted remembers which markets already triggered a
	// deactivation alert, keyed by "account/symbol".
	downAlerted map[string]bool
}

func New(db kv.Database) *Bot {
	return &Bot{
		db:          db,
		accounts:    make(map[string]*account.Account),
		interval:    DefaultInterval,
		downAlerted: make(map[string]bool),
	}
}

func (b *Bot) SetInterval(d time.Duration) {
	if d > 0 {
		b.interval = d
	}
}

func (b *Bot) SetAlerter(a *telegram.Alerter) {
	b.alerter = a
}

func (b *Bot) AddAccount(a *account.Account) {
	b.accounts[a.Name()] = a
}

func (b *Bot) Account(name string) *account.Account {
	return b.accounts[name]
}

// AccountNames returns the account names in sorted order.
func (b *Bot) AccountNames() []string {
	names := make([]string, 0, len(b.accounts))
	for name := range b.accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *Bot) Cycles() uint64 {
	return b.cycles
}

// Step runs one trading cycle. A failing account is logged and alerted,
// but does not stop the other accounts. The session checkpoint is written
// after every account finished its mutations for this cycle.
func (b *Bot) Step(ctx context.Context) error {
	for _, name := range b.AccountNames() {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		if err := b.accounts[name].RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			slog.Error("account cycle failed (continuing with others)", "account", name, "err", err)
			b.alert(ctx, fmt.Sprintf("account %s: %v", name, err))
		}
		b.alertDownMarkets(ctx, name)
	}
	b.cycles++
	if err := session.Save(ctx, b.db, b.State()); err != nil {
		return fmt.Errorf("could not checkpoint session: %w", err)
	}
	return nil
}

// Run cycles until the context is canceled.
func (b *Bot) Run(ctx context.Context) error {
	if len(b.accounts) == 0 {
		return fmt.Errorf("bot has no accounts: %w", os.ErrInvalid)
	}
	slog.Info("starting the trading loop", "accounts", b.AccountNames(), "interval", b.interval)
	for ctx.Err() == nil {
		if err := b.Step(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		}
		ctxutil.Sleep(ctx, b.interval)
	}
	return context.Cause(ctx)
}

// alertDownMarkets sends one alert for every market of the account that
// was deactivated since the last alert. Reactivating a market rearms its
// alert.
func (b *Bot) alertDownMarkets(ctx context.Context, name string) {
	a := b.accounts[name]
	for _, symbol := range a.Symbols() {
		key := name + "/" + symbol
		if a.Market(symbol).Active() {
			delete(b.downAlerted, key)
			continue
		}
		if !b.downAlerted[key] {
			b.downAlerted[key] = true
			b.alert(ctx, fmt.Sprintf("market %s on account %s is deactivated", symbol, name))
		}
	}
}

func (b *Bot) alert(ctx context.Context, text string) {
	if b.alerter != nil {
		b.alerter.SendAlert(ctx, time.Now(), text)
	}
}

func (b *Bot) State() *gobs.SessionState {
	gs := &gobs.SessionState{
		Accounts: make(map[string]*gobs.AccountState),
		Cycles:   b.cycles,
	}
	for name, a := range b.accounts {
		gs.Accounts[name] = a.State()
	}
	return gs
}
