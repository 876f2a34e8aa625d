// Copyright (c) 2025 BVK Chaitanya

// Package exchangetest implements an in-memory venue for tests. Orders are
// held open until the test fills or cancels them, and every operation can be
// primed with errors to exercise retry and fallback paths.
package exchangetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/bvk/rangebot/exchange"
	"github.com/shopspring/decimal"
)

type Fake struct {
	mu sync.Mutex

	name string

	markets  map[string]exchange.MarketInfo
	balances exchange.Balances
	tickers  map[string]decimal.Decimal

	nextID int
	open   map[string]*openOrder

	// failures holds errors to be returned by the named operation, one per
	// call, before the operation succeeds again.
	failures map[string][]error

	calls map[string]int
}

type openOrder struct {
	id     string
	symbol string
	side   string
	otype  string
	amount decimal.Decimal
	price  decimal.Decimal
}

func New(name string) *Fake {
	return &Fake{
		name:     name,
		markets:  make(map[string]exchange.MarketInfo),
		balances: make(exchange.Balances),
		tickers:  make(map[string]decimal.Decimal),
		open:     make(map[string]*openOrder),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

func (f *Fake) Name() string {
	return f.name
}

// AddMarket registers a tradeable symbol.
func (f *Fake) AddMarket(symbol, base, quote string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markets[symbol] = exchange.MarketInfo{Symbol: symbol, Base: base, Quote: quote}
}

// SetBalance sets the free balance for a currency.
func (f *Fake) SetBalance(currency string, free decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[currency] = exchange.Balance{Currency: currency, Free: free}
}

// SetPrice sets the ticker price for a symbol.
func (f *Fake) SetPrice(symbol string, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickers[symbol] = price
}

// Fail primes the named operation ("FetchTicker", "CreateOrder", etc.) to
// return the given errors, one per call, before succeeding again.
func (f *Fake) Fail(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], errs...)
}

// Calls returns how many times the named operation was invoked, including
// calls that failed.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Fill removes an open order as if the venue filled it completely.
func (f *Fake) Fill(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.open, id)
}

// OpenIDs returns the ids of the orders currently open for the symbol.
func (f *Fake) OpenIDs(symbol string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, o := range f.open {
		if o.symbol == symbol {
			ids = append(ids, o.id)
		}
	}
	return ids
}

// OpenCount returns the number of orders currently open for the symbol.
func (f *Fake) OpenCount(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, o := range f.open {
		if o.symbol == symbol {
			n++
		}
	}
	return n
}

func (f *Fake) takeFailure(op string) error {
	f.calls[op]++
	errs := f.failures[op]
	if len(errs) == 0 {
		return nil
	}
	err := errs[0]
	f.failures[op] = errs[1:]
	return err
}

func (f *Fake) LoadMarkets(ctx context.Context) (map[string]exchange.MarketInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("LoadMarkets"); err != nil {
		return nil, err
	}
	ms := make(map[string]exchange.MarketInfo, len(f.markets))
	for k, v := range f.markets {
		ms[k] = v
	}
	return ms, nil
}

func (f *Fake) FetchTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("FetchTicker"); err != nil {
		return nil, err
	}
	last, ok := f.tickers[symbol]
	if !ok {
		return nil, fmt.Errorf("no ticker for symbol %q: %w", symbol, exchange.ErrInvalidOrder)
	}
	return &exchange.Ticker{Symbol: symbol, Last: last}, nil
}

func (f *Fake) FetchBalance(ctx context.Context) (exchange.Balances, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("FetchBalance"); err != nil {
		return nil, err
	}
	bs := make(exchange.Balances, len(f.balances))
	for k, v := range f.balances {
		bs[k] = v
	}
	return bs, nil
}

func (f *Fake) CreateOrder(ctx context.Context, symbol, otype, side string, amount, price decimal.Decimal) (*exchange.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("CreateOrder"); err != nil {
		return nil, err
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount %s: %w", amount, exchange.ErrInvalidOrder)
	}
	f.nextID++
	o := &openOrder{
		id:     fmt.Sprintf("%s-%06d", f.name, f.nextID),
		symbol: symbol,
		side:   side,
		otype:  otype,
		amount: amount,
		price:  price,
	}
	f.open[o.id] = o
	return &exchange.OrderResult{ID: o.id, Amount: amount, Status: "open"}, nil
}

func (f *Fake) CancelOrder(ctx context.Context, id, symbol string) (*exchange.CancelResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("CancelOrder"); err != nil {
		return nil, err
	}
	if _, ok := f.open[id]; !ok {
		return nil, fmt.Errorf("order %q: %w", id, exchange.ErrOrderNotFound)
	}
	delete(f.open, id)
	return &exchange.CancelResult{Success: true}, nil
}

func (f *Fake) FetchOpenOrders(ctx context.Context, symbol string) ([]exchange.OpenOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("FetchOpenOrders"); err != nil {
		return nil, err
	}
	var orders []exchange.OpenOrder
	for _, o := range f.open {
		if o.symbol == symbol {
			orders = append(orders, exchange.OpenOrder{ID: o.id, Side: o.side})
		}
	}
	return orders, nil
}

var _ exchange.Client = &Fake{}
