// Copyright (c) 2025 BVK Chaitanya

// Package strategy implements the trading strategies dispatched by market
// change events. The only strategy today is range account building, which
// accumulates a base asset by cycling tranches of limit orders inside a
// price range.
package strategy

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/bvk/rangebot/exchange"
	"github.com/bvk/rangebot/gobs"
	"github.com/bvk/rangebot/market"
)

// State identifies one state of a strategy's state machine.
type State string

const (
	Idle      State = "idle"
	Buying    State = "buying"
	Bought    State = "bought"
	BoughtAll State = "bought_all"
	Selling   State = "selling"
	Sold      State = "sold"
	SoldAll   State = "sold_all"
)

// Trigger identifies the external event kind driving a transition.
type Trigger string

const (
	PriceChange   Trigger = "price-change"
	BalanceChange Trigger = "balance-change"
)

// A transition fires when its trigger arrives in its source state and the
// guard approves. The action runs before the state switches to dest.
type transition struct {
	trigger Trigger
	source  State
	guard   func(ctx context.Context) (bool, error)
	action  func(ctx context.Context) error
	dest    State
}

// New creates a strategy instance from its configured name. Names starting
// with "range_account_building" select the range account building
// strategy.
func New(name string, client exchange.Client, mkt *market.Market, settings *Settings) (market.Strategy, error) {
	if strings.HasPrefix(name, "range_account_building") {
		return NewRangeAccountBuilding(name, client, mkt, settings)
	}
	return nil, fmt.Errorf("unknown strategy name %q: %w", name, os.ErrInvalid)
}

// Restore rehydrates a strategy from its checkpointed state.
func Restore(client exchange.Client, mkt *market.Market, settings *Settings, gs *gobs.StrategyState) (market.Strategy, error) {
	if strings.HasPrefix(gs.Name, "range_account_building") {
		return RestoreRangeAccountBuilding(client, mkt, settings, gs)
	}
	return nil, fmt.Errorf("unknown strategy name %q: %w", gs.Name, os.ErrInvalid)
}
