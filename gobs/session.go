// Copyright (c) 2025 BVK Chaitanya

// Package gobs holds the gob-encodable state types persisted in the
// database. Fields are enumerated explicitly; nothing in here is derived
// through reflection, so the on-disk schema is exactly what these structs
// declare.
package gobs

import "github.com/shopspring/decimal"

// KeyValue holds one raw database item in export/import streams.
type KeyValue struct {
	Key   string
	Value []byte
}

// OrderState is the persisted form of one order. Amount and Cost store the
// raw authoritative fields, at most one of which is non-zero.
type OrderState struct {
	InternalID string
	ExchangeID string

	Side  string
	Type  string
	Price decimal.Decimal

	Amount      decimal.Decimal
	Cost        decimal.Decimal
	InitialCost decimal.Decimal

	Status string
}

// StrategyState is the persisted form of one strategy instance.
type StrategyState struct {
	Name  string
	State string

	TotalBuyCost  decimal.Decimal
	BoughtCounter decimal.Decimal
	AmountToSell  decimal.Decimal

	Orders map[string]*OrderState
}

// MarketState is the persisted form of one traded market.
type MarketState struct {
	Symbol string
	Base   string
	Quote  string

	Prices   []decimal.Decimal
	Balances []decimal.Decimal

	Active bool

	Strategies map[string]*StrategyState
}

// AccountState is the persisted form of one venue account.
type AccountState struct {
	Venue string

	Markets map[string]*MarketState
}

// SessionState is the root of the persisted session, keyed by account name.
type SessionState struct {
	Accounts map[string]*AccountState

	Cycles uint64
}
