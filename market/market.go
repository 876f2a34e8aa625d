// Copyright (c) 2025 BVK Chaitanya

// Package market tracks recent price and balance observations for one
// traded symbol and dispatches change events to its strategies.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/bvk/rangebot/exchange"
	"github.com/bvk/rangebot/gobs"
	"github.com/bvk/rangebot/retry"
	"github.com/shopspring/decimal"
)

const (
	// Older samples beyond these limits are evicted.
	maxPriceHistory   = 500
	maxBalanceHistory = 100
)

// Strategy is the event-handling surface a trading strategy exposes to its
// market. A strategy owns its orders exclusively; the market only forwards
// price and balance change events and collects state for checkpointing.
type Strategy interface {
	Name() string

	// PriceChanged handles a new last-trade price observation.
	PriceChanged(ctx context.Context, price decimal.Decimal) error

	// BalanceChanged handles a change in the quote currency balance.
	BalanceChanged(ctx context.Context) error

	State() *gobs.StrategyState
}

// Market holds bounded price and balance histories for one trading pair on
// one venue. All methods must be called from a single goroutine.
type Market struct {
	client exchange.Client

	symbol string
	base   string
	quote  string

	prices   []decimal.Decimal
	balances []decimal.Decimal

	active bool

	strategies map[string]Strategy

	retryPolicy *retry.Policy
}

// New creates an active market with empty histories.
func New(client exchange.Client, symbol, base, quote string) *Market {
	return &Market{
		client:      client,
		symbol:      symbol,
		base:        base,
		quote:       quote,
		active:      true,
		strategies:  make(map[string]Strategy),
		retryPolicy: retry.Default(exchange.IsNetwork, nil),
	}
}

// SetRetryPolicy overrides the backoff timings used for venue calls made
// by this market.
func (m *Market) SetRetryPolicy(p *retry.Policy) {
	m.retryPolicy = p
}

func (m *Market) String() string {
	return fmt.Sprintf("market %s on %s", m.symbol, m.client.Name())
}

func (m *Market) Symbol() string {
	return m.symbol
}

func (m *Market) Base() string {
	return m.base
}

func (m *Market) Quote() string {
	return m.quote
}

// Active returns false when the market is suspended. A suspended market
// takes no order actions until it is reactivated manually.
func (m *Market) Active() bool {
	return m.active
}

// Deactivate permanently suspends the market. Markets are deactivated when
// the venue becomes persistently unreachable for their symbol.
func (m *Market) Deactivate() {
	if m.active {
		slog.Warn("deactivating market", "market", m.String())
		m.active = false
	}
}

func (m *Market) Activate() {
	m.active = true
}

// AddStrategy registers a strategy. A strategy with the same name replaces
// the previous one.
func (m *Market) AddStrategy(s Strategy) {
	m.strategies[s.Name()] = s
}

func (m *Market) Strategies() map[string]Strategy {
	return m.strategies
}

// LastPrice returns the most recent price sample, or zero when no ticker
// was observed yet.
func (m *Market) LastPrice() decimal.Decimal {
	if len(m.prices) == 0 {
		return decimal.Zero
	}
	return m.prices[len(m.prices)-1]
}

// UpdateTicker fetches the last-trade price and appends it to the price
// history. Transient fetch failures are retried with backoff; when the
// budget runs out the market is deactivated instead of failing the cycle.
func (m *Market) UpdateTicker(ctx context.Context) error {
	pol := m.retryPolicy.WithFallback(func(ctx context.Context) error {
		m.Deactivate()
		return nil
	})
	var ticker *exchange.Ticker
	err := pol.Do(ctx, "fetch-ticker", func(ctx context.Context) error {
		v, err := m.client.FetchTicker(ctx, m.symbol)
		if err != nil {
			return err
		}
		ticker = v
		return nil
	})
	if err != nil {
		return fmt.Errorf("could not fetch ticker for %s: %w", m.symbol, err)
	}
	if ticker == nil {
		// Retries were exhausted and the market was deactivated.
		return nil
	}
	m.prices = appendBounded(m.prices, ticker.Last, maxPriceHistory)
	return nil
}

// UpdateBalance appends the base currency free balance from the account's
// per-cycle balance snapshot. A buy fill grows the base balance, so this
// history is what makes fills observable as balance change events.
func (m *Market) UpdateBalance(balances exchange.Balances) {
	m.balances = appendBounded(m.balances, balances.Free(m.base), maxBalanceHistory)
}

// PriceChanged reports whether the last two price samples differ. Fewer
// than two samples always report a change, so strategies get an initial
// event after startup.
func (m *Market) PriceChanged() bool {
	return changed(m.prices)
}

func (m *Market) BalanceChanged() bool {
	return changed(m.balances)
}

// RunEvents dispatches price and balance change events into every strategy
// of an active market. The first strategy failure stops the dispatch; the
// caller isolates it at the account level.
func (m *Market) RunEvents(ctx context.Context) error {
	if !m.active {
		return nil
	}
	if m.BalanceChanged() {
		for _, s := range m.strategies {
			if err := s.BalanceChanged(ctx); err != nil {
				return fmt.Errorf("strategy %s on %s: %w", s.Name(), m.symbol, err)
			}
		}
	}
	if m.PriceChanged() {
		price := m.LastPrice()
		for _, s := range m.strategies {
			if err := s.PriceChanged(ctx, price); err != nil {
				return fmt.Errorf("strategy %s on %s: %w", s.Name(), m.symbol, err)
			}
		}
	}
	return nil
}

// Refresh runs one full market step of the account cycle: record the quote
// balance from the snapshot, fetch the ticker and dispatch events.
func (m *Market) Refresh(ctx context.Context, balances exchange.Balances) error {
	if !m.active {
		return nil
	}
	m.UpdateBalance(balances)
	if err := m.UpdateTicker(ctx); err != nil {
		return err
	}
	return m.RunEvents(ctx)
}

func (m *Market) State() *gobs.MarketState {
	gs := &gobs.MarketState{
		Symbol:     m.symbol,
		Base:       m.base,
		Quote:      m.quote,
		Prices:     append([]decimal.Decimal{}, m.prices...),
		Balances:   append([]decimal.Decimal{}, m.balances...),
		Active:     m.active,
		Strategies: make(map[string]*gobs.StrategyState),
	}
	for name, s := range m.strategies {
		gs.Strategies[name] = s.State()
	}
	return gs
}

// FromState restores a market's histories and active flag. Strategies are
// rehydrated separately by the caller and registered with AddStrategy.
func FromState(client exchange.Client, gs *gobs.MarketState) (*Market, error) {
	if len(gs.Symbol) == 0 {
		return nil, fmt.Errorf("market state has no symbol: %w", os.ErrInvalid)
	}
	m := New(client, gs.Symbol, gs.Base, gs.Quote)
	m.prices = append(m.prices, gs.Prices...)
	m.balances = append(m.balances, gs.Balances...)
	m.active = gs.Active
	return m, nil
}

func appendBounded(vs []decimal.Decimal, v decimal.Decimal, max int) []decimal.Decimal {
	vs = append(vs, v)
	if len(vs) > max {
		vs = vs[len(vs)-max:]
	}
	return vs
}

func changed(vs []decimal.Decimal) bool {
	if len(vs) < 2 {
		return true
	}
	return !vs[len(vs)-1].Equal(vs[len(vs)-2])
}
