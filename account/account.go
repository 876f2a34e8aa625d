// Copyright (c) 2025 BVK Chaitanya

// Package account ties one authenticated venue client to the markets
// traded on it.
package account

import (
	"context"
	"fmt"
	"sort"

	"github.com/bvk/rangebot/exchange"
	"github.com/bvk/rangebot/gobs"
	"github.com/bvk/rangebot/market"
	"github.com/bvk/rangebot/retry"
)

// Account holds one venue client, the subset of its markets that is
// traded and the balance snapshot for the current cycle. The snapshot is
// refreshed once per cycle and shared by every market of the account, so
// markets with a common quote currency see a consistent view.
type Account struct {
	name   string
	client exchange.Client

	markets map[string]*market.Market

	balances exchange.Balances

	retryPolicy *retry.Policy
}

func New(name string, client exchange.Client) *Account {
	return &Account{
		name:        name,
		client:      client,
		markets:     make(map[string]*market.Market),
		retryPolicy: retry.Default(exchange.IsNetwork, nil),
	}
}

func (a *Account) Name() string {
	return a.name
}

func (a *Account) Client() exchange.Client {
	return a.client
}

// SetRetryPolicy overrides the backoff timings used for venue calls made
// by this account.
func (a *Account) SetRetryPolicy(p *retry.Policy) {
	a.retryPolicy = p
}

func (a *Account) AddMarket(m *market.Market) {
	a.markets[m.Symbol()] = m
}

func (a *Account) Market(symbol string) *market.Market {
	return a.markets[symbol]
}

// Symbols returns the traded symbols in sorted order.
func (a *Account) Symbols() []string {
	syms := make([]string, 0, len(a.markets))
	for s := range a.markets {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	return syms
}

// LoadMarkets fetches the venue's market metadata, retrying transient
// failures. Exhausting the budget is a persistent failure because nothing
// can be traded without the metadata.
func (a *Account) LoadMarkets(ctx context.Context) (map[string]exchange.MarketInfo, error) {
	var ms map[string]exchange.MarketInfo
	pol := a.retryPolicy.WithFallback(retry.Fail)
	err := pol.Do(ctx, "load-markets", func(ctx context.Context) error {
		vs, err := a.client.LoadMarkets(ctx)
		if err != nil {
			return err
		}
		ms = vs
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not load markets on %s: %w", a.name, err)
	}
	return ms, nil
}

// RefreshBalance fetches a fresh balance snapshot for this cycle.
func (a *Account) RefreshBalance(ctx context.Context) error {
	var bs exchange.Balances
	pol := a.retryPolicy.WithFallback(retry.Fail)
	err := pol.Do(ctx, "fetch-balance", func(ctx context.Context) error {
		vs, err := a.client.FetchBalance(ctx)
		if err != nil {
			return err
		}
		bs = vs
		return nil
	})
	if err != nil {
		return fmt.Errorf("could not fetch balance on %s: %w", a.name, err)
	}
	a.balances = bs
	return nil
}

func (a *Account) Balances() exchange.Balances {
	return a.balances
}

// RunCycle performs one full pass over the account: refresh the balance
// snapshot, then visit each traded market in symbol order. The first
// failure aborts the rest of the account's markets; the bot loop isolates
// it from other accounts.
func (a *Account) RunCycle(ctx context.Context) error {
	if err := a.RefreshBalance(ctx); err != nil {
		return err
	}
	for _, symbol := range a.Symbols() {
		if err := a.markets[symbol].Refresh(ctx, a.balances); err != nil {
			return fmt.Errorf("market %s on %s: %w", symbol, a.name, err)
		}
	}
	return nil
}

func (a *Account) State() *gobs.AccountState {
	gs := &gobs.AccountState{
		Venue:   a.client.Name(),
		Markets: make(map[string]*gobs.MarketState),
	}
	for symbol, m := range a.markets {
		gs.Markets[symbol] = m.State()
	}
	return gs
}
