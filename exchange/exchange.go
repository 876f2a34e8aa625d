// Copyright (c) 2025 BVK Chaitanya

// Package exchange defines the capability interface that venue adapters must
// implement for the trading bot. The bot core only ever talks to a venue
// through this interface, so a fake implementation is enough to test every
// strategy and order code path.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"
)

// Ticker holds the most recent trade price for a symbol.
type Ticker struct {
	Symbol string

	Last decimal.Decimal
}

// Balance holds the spendable and held amounts for one currency.
type Balance struct {
	Currency string

	Free decimal.Decimal
	Used decimal.Decimal
}

// Balances maps currency code to its balance snapshot.
type Balances map[string]Balance

// Free returns the spendable amount for the given currency. Unknown
// currencies report zero.
func (bs Balances) Free(currency string) decimal.Decimal {
	return bs[currency].Free
}

// MarketInfo describes one tradeable symbol on the venue.
type MarketInfo struct {
	Symbol string
	Base   string
	Quote  string
}

// OrderResult is the venue's response to a successful order creation.
type OrderResult struct {
	ID     string
	Amount decimal.Decimal
	Status string
}

// CancelResult reports whether the venue acknowledged a cancelation.
type CancelResult struct {
	Success bool
}

// OpenOrder is one entry of an open-orders listing.
type OpenOrder struct {
	ID   string
	Side string
}

// Client is the venue capability used by the bot core. All operations may
// fail with transient availability errors; implementations must classify
// their failures with the sentinels in errors.go so that retry policies can
// tell transient failures from fatal ones.
type Client interface {
	// Name returns the venue name, e.g. "kucoin".
	Name() string

	// LoadMarkets returns the tradeable symbols of the venue.
	LoadMarkets(ctx context.Context) (map[string]MarketInfo, error)

	// FetchTicker returns the latest price for the symbol.
	FetchTicker(ctx context.Context, symbol string) (*Ticker, error)

	// FetchBalance returns the per-currency balance snapshot.
	FetchBalance(ctx context.Context) (Balances, error)

	// CreateOrder places an order of the given type and side. Amount is in
	// the base currency and price in the quote currency.
	CreateOrder(ctx context.Context, symbol, otype, side string, amount, price decimal.Decimal) (*OrderResult, error)

	// CancelOrder cancels the order with the venue-assigned id. Returns
	// ErrOrderNotFound if the venue no longer knows the order.
	CancelOrder(ctx context.Context, id, symbol string) (*CancelResult, error)

	// FetchOpenOrders lists the currently open orders for the symbol.
	FetchOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
}
