// Copyright (c) 2025 BVK Chaitanya

package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/bvk/rangebot/exchange"
	"github.com/bvk/rangebot/gobs"
	"github.com/bvk/rangebot/market"
	"github.com/bvk/rangebot/order"
	"github.com/bvk/rangebot/retry"
	"github.com/shopspring/decimal"
)

// RangeAccountBuilding accumulates the base asset inside a price range. It
// buys tranches when the price drops below the buy trigger, sells them in
// tranches computed from the accumulated amount, and folds the proceeds
// back into the buy side. Orders are owned exclusively by the strategy.
//
// The buy trigger sits between the first sell and first buy tranche
// prices, a configurable fraction below the sell side.
type RangeAccountBuilding struct {
	name   string
	client exchange.Client
	mkt    *market.Market

	settings *Settings

	state  State
	orders map[string]*order.Order

	totalBuyCost  decimal.Decimal
	boughtCounter decimal.Decimal
	amountToSell  decimal.Decimal
	buyTrigger    decimal.Decimal

	lastPrice decimal.Decimal

	retryPolicy *retry.Policy

	transitions []transition
}

var _ market.Strategy = &RangeAccountBuilding{}

// NewRangeAccountBuilding creates a fresh strategy with potential orders
// derived from the settings. Each tranche order's cost starts as the total
// buy cost scaled by the tranche percentage.
func NewRangeAccountBuilding(name string, client exchange.Client, mkt *market.Market, settings *Settings) (*RangeAccountBuilding, error) {
	if err := settings.Check(); err != nil {
		return nil, fmt.Errorf("invalid settings for strategy %s: %w", name, err)
	}

	s := &RangeAccountBuilding{
		name:         name,
		client:       client,
		mkt:          mkt,
		settings:     settings,
		state:        Idle,
		orders:       make(map[string]*order.Order),
		totalBuyCost: settings.TotalBuyCost,
		retryPolicy:  retry.Default(exchange.IsNetwork, nil),
	}
	for i, t := range settings.BuyTranches {
		id := fmt.Sprintf("buy_order_%d", i+1)
		cost := settings.TotalBuyCost.Mul(t.Percentage)
		o, err := order.New(id, mkt.Symbol(), "buy", "limit", t.Price, cost)
		if err != nil {
			return nil, err
		}
		s.orders[id] = o
	}
	for i, t := range settings.SellTranches {
		id := fmt.Sprintf("sell_order_%d", i+1)
		cost := settings.TotalBuyCost.Mul(t.Percentage)
		o, err := order.New(id, mkt.Symbol(), "sell", "limit", t.Price, cost)
		if err != nil {
			return nil, err
		}
		s.orders[id] = o
	}

	s.buyTrigger = buyTrigger(settings)
	s.buildTransitions()
	return s, nil
}

// RestoreRangeAccountBuilding rehydrates a strategy from a checkpoint. The
// settings still come from the configuration; only the dynamic fields and
// the orders are taken from the checkpoint.
func RestoreRangeAccountBuilding(client exchange.Client, mkt *market.Market, settings *Settings, gs *gobs.StrategyState) (*RangeAccountBuilding, error) {
	if err := settings.Check(); err != nil {
		return nil, fmt.Errorf("invalid settings for strategy %s: %w", gs.Name, err)
	}
	if len(gs.Name) == 0 {
		return nil, fmt.Errorf("strategy state has no name: %w", os.ErrInvalid)
	}

	s := &RangeAccountBuilding{
		name:          gs.Name,
		client:        client,
		mkt:           mkt,
		settings:      settings,
		state:         State(gs.State),
		orders:        make(map[string]*order.Order),
		totalBuyCost:  gs.TotalBuyCost,
		boughtCounter: gs.BoughtCounter,
		amountToSell:  gs.AmountToSell,
		retryPolicy:   retry.Default(exchange.IsNetwork, nil),
	}
	if len(s.state) == 0 {
		s.state = Idle
	}
	for id, gorder := range gs.Orders {
		o, err := order.FromState(mkt.Symbol(), gorder)
		if err != nil {
			return nil, fmt.Errorf("could not restore order %s: %w", id, err)
		}
		s.orders[id] = o
	}
	if _, ok := s.orders["buy_order_1"]; !ok {
		return nil, fmt.Errorf("strategy state has no first buy order: %w", os.ErrInvalid)
	}
	if _, ok := s.orders["sell_order_1"]; !ok {
		return nil, fmt.Errorf("strategy state has no first sell order: %w", os.ErrInvalid)
	}

	s.buyTrigger = buyTrigger(settings)
	s.buildTransitions()
	return s, nil
}

// buyTrigger computes the price threshold below which buy tranches are
// placed, a fraction of the first-buy to first-sell distance below the
// first sell price.
func buyTrigger(settings *Settings) decimal.Decimal {
	buy1 := settings.BuyTranches[0].Price
	sell1 := settings.SellTranches[0].Price
	dist := sell1.Sub(buy1).Mul(settings.triggerFraction())
	return sell1.Sub(dist)
}

// Order of the table entries matters: the first transition whose guard
// approves wins.
func (s *RangeAccountBuilding) buildTransitions() {
	s.transitions = []transition{
		{PriceChange, Idle, s.priceBelowTrigger, s.placeBuyOrders, Buying},
		{PriceChange, Buying, s.priceAtTriggerNoSellsOpen, s.cancelBuyOrders, Idle},
		{PriceChange, Buying, s.priceAtTriggerSellsOpen, s.cancelBuyOrders, Selling},
		{BalanceChange, Buying, s.anyBuyOrderFilled, nil, Bought},
		{PriceChange, Selling, s.priceBelowTrigger, s.placeBuyOrders, Buying},
		{BalanceChange, Selling, s.anySellOrderFilled, nil, Sold},
	}
}

func (s *RangeAccountBuilding) Name() string {
	return s.name
}

// CurrentState returns the state machine's current state.
func (s *RangeAccountBuilding) CurrentState() State {
	return s.state
}

// BuyTrigger returns the computed buy trigger price.
func (s *RangeAccountBuilding) BuyTrigger() decimal.Decimal {
	return s.buyTrigger
}

// SetRetryPolicy overrides the backoff timings used for open-order
// lookups.
func (s *RangeAccountBuilding) SetRetryPolicy(p *retry.Policy) {
	s.retryPolicy = p
}

// PriceChanged feeds a new price observation into the state machine.
func (s *RangeAccountBuilding) PriceChanged(ctx context.Context, price decimal.Decimal) error {
	s.lastPrice = price
	return s.fire(ctx, PriceChange)
}

// BalanceChanged feeds a balance change into the state machine.
func (s *RangeAccountBuilding) BalanceChanged(ctx context.Context) error {
	return s.fire(ctx, BalanceChange)
}

func (s *RangeAccountBuilding) fire(ctx context.Context, trigger Trigger) error {
	for _, t := range s.transitions {
		if t.trigger != trigger || t.source != s.state {
			continue
		}
		ok, err := t.guard(ctx)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if t.action != nil {
			if err := t.action(ctx); err != nil {
				return err
			}
		}
		return s.enter(ctx, t.dest)
	}
	return nil
}

func (s *RangeAccountBuilding) enter(ctx context.Context, state State) error {
	if s.state != state {
		slog.Info("strategy state change", "strategy", s.name, "market", s.mkt.Symbol(), "from", s.state, "to", state)
	}
	s.state = state
	switch state {
	case Bought:
		return s.onEnterBought(ctx)
	case Sold:
		return s.onEnterSold(ctx)
	}
	return nil
}

// onEnterBought reacts to a newly filled buy tranche: sell orders are
// canceled, their amounts recomputed from the accumulated base amount, and
// placed again. The machine then settles in bought_all when every buy
// tranche is filled, or back in buying.
func (s *RangeAccountBuilding) onEnterBought(ctx context.Context) error {
	if err := s.cancelSellOrders(ctx); err != nil {
		return err
	}
	if err := s.recalculateSellOrders(); err != nil {
		return err
	}
	if err := s.placeSellOrders(ctx); err != nil {
		return err
	}
	if s.allOrdersFilled("buy") {
		return s.enter(ctx, BoughtAll)
	}
	return s.enter(ctx, Buying)
}

// onEnterSold reacts to a newly filled sell tranche: buy tranche costs are
// recomputed from the unspent budget. The machine settles in idle when
// every sell tranche is filled, or back in selling.
func (s *RangeAccountBuilding) onEnterSold(ctx context.Context) error {
	s.recalculateBuyOrders()
	if s.allOrdersFilled("sell") {
		return s.enter(ctx, Idle)
	}
	return s.enter(ctx, Selling)
}

// Guards

func (s *RangeAccountBuilding) priceBelowTrigger(ctx context.Context) (bool, error) {
	return s.lastPrice.LessThan(s.buyTrigger), nil
}

func (s *RangeAccountBuilding) priceAtTriggerNoSellsOpen(ctx context.Context) (bool, error) {
	return s.lastPrice.GreaterThanOrEqual(s.buyTrigger) && !s.anySellOrderOpen(), nil
}

func (s *RangeAccountBuilding) priceAtTriggerSellsOpen(ctx context.Context) (bool, error) {
	return s.lastPrice.GreaterThanOrEqual(s.buyTrigger) && s.anySellOrderOpen(), nil
}

func (s *RangeAccountBuilding) anySellOrderOpen() bool {
	for _, o := range s.orders {
		if o.Side == "sell" && o.Status == order.Open {
			return true
		}
	}
	return false
}

// anyBuyOrderFilled reports whether a buy order was newly filled since the
// last check. The first newly filled order also updates the bought counter
// and the accumulated sell amount; further fills are picked up by later
// balance events one at a time.
func (s *RangeAccountBuilding) anyBuyOrderFilled(ctx context.Context) (bool, error) {
	for _, o := range s.sideOrders("buy", false) {
		filled, err := o.IsFilled(ctx, s.client, s.lookupPolicy())
		if err != nil {
			return false, err
		}
		if filled {
			s.boughtCounter = s.boughtCounter.Add(o.Cost())
			s.amountToSell = s.amountToSell.Add(o.Amount())
			return true, nil
		}
	}
	return false, nil
}

func (s *RangeAccountBuilding) anySellOrderFilled(ctx context.Context) (bool, error) {
	for _, o := range s.sideOrders("sell", false) {
		filled, err := o.IsFilled(ctx, s.client, s.lookupPolicy())
		if err != nil {
			return false, err
		}
		if filled {
			s.boughtCounter = s.boughtCounter.Sub(o.Cost())
			return true, nil
		}
	}
	return false, nil
}

// lookupPolicy treats repeated open-order lookup failures as a market
// level problem: the market is suspended and the failure still propagates
// so the cycle does not act on unknown order states.
func (s *RangeAccountBuilding) lookupPolicy() *retry.Policy {
	return s.retryPolicy.WithFallback(func(ctx context.Context) error {
		s.mkt.Deactivate()
		return fmt.Errorf("open order lookup on %s failed: %w", s.mkt.Symbol(), retry.ErrExhausted)
	})
}

func (s *RangeAccountBuilding) allOrdersFilled(side string) bool {
	for _, o := range s.orders {
		if o.Side == side && o.Status != order.Filled {
			return false
		}
	}
	return true
}

// Actions

func (s *RangeAccountBuilding) placeBuyOrders(ctx context.Context) error {
	return s.placeOrders(ctx, "buy")
}

func (s *RangeAccountBuilding) placeSellOrders(ctx context.Context) error {
	return s.placeOrders(ctx, "sell")
}

// placeOrders places the side's tranche orders in ascending tranche order.
// Orders already live on the venue or already filled are left alone.
func (s *RangeAccountBuilding) placeOrders(ctx context.Context, side string) error {
	for _, o := range s.sideOrders(side, false) {
		if o.Status == order.Open || o.Status == order.Filled {
			continue
		}
		if err := o.Place(ctx, s.client); err != nil {
			return fmt.Errorf("could not place %s: %w", o.InternalID, err)
		}
	}
	return nil
}

func (s *RangeAccountBuilding) cancelBuyOrders(ctx context.Context) error {
	return s.cancelOrders(ctx, "buy")
}

func (s *RangeAccountBuilding) cancelSellOrders(ctx context.Context) error {
	return s.cancelOrders(ctx, "sell")
}

func (s *RangeAccountBuilding) cancelOrders(ctx context.Context, side string) error {
	for _, o := range s.sideOrders(side, false) {
		if o.Status != order.Open {
			continue
		}
		if err := o.Cancel(ctx, s.client); err != nil {
			return fmt.Errorf("could not cancel %s: %w", o.InternalID, err)
		}
	}
	return nil
}

// recalculateSellOrders assigns each sell tranche its percentage of the
// remaining accumulated amount, in ascending tranche order, shrinking the
// pool as it goes. A residue below the combined percentages stays in
// amountToSell for the next round.
func (s *RangeAccountBuilding) recalculateSellOrders() error {
	for _, o := range s.sideOrders("sell", false) {
		n := trancheNumber(o.InternalID)
		if n < 1 || n > len(s.settings.SellTranches) {
			return fmt.Errorf("no sell tranche settings for %s: %w", o.InternalID, os.ErrInvalid)
		}
		amount := s.amountToSell.Mul(s.settings.SellTranches[n-1].Percentage)
		o.SetAmount(amount)
		o.Status = order.Potential
		s.amountToSell = s.amountToSell.Sub(amount)
	}
	return nil
}

// recalculateBuyOrders redistributes the unspent part of the budget over
// the buy tranches in descending tranche order. Each tranche takes at most
// its original cost, so the highest numbered tranches refill first.
func (s *RangeAccountBuilding) recalculateBuyOrders() {
	toDivide := s.totalBuyCost.Sub(s.boughtCounter)
	for _, o := range s.sideOrders("buy", true) {
		cost := decimal.Min(toDivide, o.InitialCost())
		o.SetCost(cost)
		o.Status = order.Potential
		toDivide = toDivide.Sub(cost)
	}
}

// sideOrders returns the side's orders sorted by tranche number.
func (s *RangeAccountBuilding) sideOrders(side string, descending bool) []*order.Order {
	var vs []*order.Order
	for _, o := range s.orders {
		if o.Side == side {
			vs = append(vs, o)
		}
	}
	sort.Slice(vs, func(i, j int) bool {
		a, b := trancheNumber(vs[i].InternalID), trancheNumber(vs[j].InternalID)
		if descending {
			return a > b
		}
		return a < b
	})
	return vs
}

// trancheNumber extracts the tranche number from an internal order id like
// "buy_order_12". Returns zero for malformed ids.
func trancheNumber(internalID string) int {
	i := strings.LastIndex(internalID, "_")
	if i < 0 {
		return 0
	}
	n, err := strconv.Atoi(internalID[i+1:])
	if err != nil {
		return 0
	}
	return n
}

func (s *RangeAccountBuilding) State() *gobs.StrategyState {
	gs := &gobs.StrategyState{
		Name:          s.name,
		State:         string(s.state),
		TotalBuyCost:  s.totalBuyCost,
		BoughtCounter: s.boughtCounter,
		AmountToSell:  s.amountToSell,
		Orders:        make(map[string]*gobs.OrderState),
	}
	for id, o := range s.orders {
		gs.Orders[id] = o.State()
	}
	return gs
}
