// Copyright (c) 2025 BVK Chaitanya

// Package order implements the lifecycle of a single exchange order, from
// its creation as a not-yet-placed "potential" order through placement,
// fill detection and cancelation. The local representation is reconciled
// against venue-reported state; the venue never owns the truth about an
// order's tranche sizing, only about its open/absent status.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bvk/rangebot/exchange"
	"github.com/bvk/rangebot/gobs"
	"github.com/bvk/rangebot/retry"
	"github.com/shopspring/decimal"
)

// Status is the local lifecycle state of an order.
type Status string

const (
	// Potential orders exist only locally and were never sent to a venue.
	Potential Status = "potential"

	// Open orders were placed successfully and are live on the venue.
	Open Status = "open"

	// Filled orders are complete. The status is final.
	Filled Status = "filled"

	// Canceled orders were canceled explicitly or found missing at the
	// venue. The status is final.
	Canceled Status = "canceled"
)

var (
	// ErrAmbiguous is reported when an order placement timed out, so a
	// live duplicate may or may not exist at the venue. The condition
	// needs manual reconciliation and is never retried automatically.
	ErrAmbiguous = errors.New("order placement outcome is unknown")

	// ErrZeroAmount is reported when an order would be placed with a zero
	// amount, which is a configuration problem rather than a transient
	// failure.
	ErrZeroAmount = errors.New("order amount cannot be zero")
)

// Order is one exchange order, real or not yet placed. Exactly one of the
// internal amount/cost fields is authoritative at any time; the other is
// derived through the price. Orders are owned by the strategy that created
// them and must not be shared.
type Order struct {
	Symbol string

	Side string
	Type string

	InternalID string
	ExchangeID string

	Status Status

	price decimal.Decimal

	// amount is in the base currency, cost in the quote currency. At most
	// one of them is non-zero; see SetAmount and SetCost.
	amount decimal.Decimal
	cost   decimal.Decimal

	initialCost decimal.Decimal
}

// New creates a potential limit/market order priced by cost.
func New(internalID, symbol, side, otype string, price, cost decimal.Decimal) (*Order, error) {
	if !strings.EqualFold(side, "buy") && !strings.EqualFold(side, "sell") {
		return nil, fmt.Errorf("order side %q is invalid", side)
	}
	if len(internalID) == 0 {
		return nil, fmt.Errorf("order internal id cannot be empty")
	}
	v := &Order{
		Symbol:      symbol,
		Side:        strings.ToLower(side),
		Type:        otype,
		InternalID:  internalID,
		Status:      Potential,
		price:       price,
		cost:        cost,
		initialCost: cost,
	}
	return v, nil
}

func (o *Order) String() string {
	return fmt.Sprintf("(%s) %s %s order for %s %s at price %s with internal id %s, id %q",
		o.Status, o.Type, o.Side, o.Amount(), o.Symbol, o.price, o.InternalID, o.ExchangeID)
}

// Price returns the limit price.
func (o *Order) Price() decimal.Decimal {
	return o.price
}

// SetPrice updates the limit price. Derived amount or cost readings follow
// the new price automatically.
func (o *Order) SetPrice(v decimal.Decimal) {
	o.price = v
}

// InitialCost returns the cost the order was created with. Tranche sizing
// is re-derived from this value when buy orders are recomputed.
func (o *Order) InitialCost() decimal.Decimal {
	return o.initialCost
}

// Amount returns the order size in the base currency. When cost is the
// authoritative field the amount is derived as cost/price.
func (o *Order) Amount() decimal.Decimal {
	if o.amount.IsZero() {
		if o.cost.IsZero() || o.price.IsZero() {
			return decimal.Zero
		}
		return o.cost.Div(o.price)
	}
	return o.amount
}

// SetAmount makes amount the authoritative field. Setting a non-zero
// amount zeroes the stored cost; setting zero makes both read as derived
// (or zero when the other side is zero too).
func (o *Order) SetAmount(v decimal.Decimal) {
	o.amount = v
	if !v.IsZero() {
		o.cost = decimal.Zero
	}
}

// Cost returns the order value in the quote currency. When amount is the
// authoritative field the cost is derived as amount*price.
func (o *Order) Cost() decimal.Decimal {
	if o.cost.IsZero() {
		if o.amount.IsZero() {
			return decimal.Zero
		}
		return o.amount.Mul(o.price)
	}
	return o.cost
}

// SetCost makes cost the authoritative field, zeroing the stored amount
// when the value is non-zero.
func (o *Order) SetCost(v decimal.Decimal) {
	o.cost = v
	if !v.IsZero() {
		o.amount = decimal.Zero
	}
}

// Place sends the order to the venue. Availability failures are retried
// with backoff and turn into retry.ErrExhausted when the budget runs out.
// A request timeout surfaces immediately as ErrAmbiguous because a live
// duplicate may already exist. On success the venue-reported amount, id
// and status replace the local values.
func (o *Order) Place(ctx context.Context, ex exchange.Client) error {
	pol := retry.Default(exchange.IsTransient, retry.Fail)
	return pol.Do(ctx, o.InternalID+":place", func(ctx context.Context) error {
		amount := o.Amount()
		res, err := ex.CreateOrder(ctx, o.Symbol, o.Type, o.Side, amount, o.price)
		if err != nil {
			if errors.Is(err, exchange.ErrInvalidOrder) && amount.IsZero() {
				slog.Error("order amount cannot be zero", "order", o.String())
				return fmt.Errorf("%w: %w", ErrZeroAmount, err)
			}
			if errors.Is(err, exchange.ErrTimeout) {
				return fmt.Errorf("create order %s: %w", o.InternalID, ErrAmbiguous)
			}
			return err
		}
		o.SetAmount(res.Amount)
		o.ExchangeID = res.ID
		if len(res.Status) != 0 {
			o.Status = Status(res.Status)
		} else {
			o.Status = Open
		}
		slog.Info("placed order", "order", o.String())
		return nil
	})
}

// Cancel removes the order from the venue. A not-found response is treated
// as an implicit cancel because the order may have filled or been removed
// already. When the venue reports an unsuccessful cancel the status is
// left unchanged so a later cycle can re-evaluate it.
func (o *Order) Cancel(ctx context.Context, ex exchange.Client) error {
	pol := retry.Default(exchange.IsNetwork, retry.Fail)
	return pol.Do(ctx, o.InternalID+":cancel", func(ctx context.Context) error {
		res, err := ex.CancelOrder(ctx, o.ExchangeID, o.Symbol)
		if err != nil {
			if errors.Is(err, exchange.ErrOrderNotFound) {
				slog.Warn("cancel target is already gone (implicit cancel)", "order", o.String(), "err", err)
				o.Status = Canceled
				return nil
			}
			return err
		}
		if res.Success {
			o.Status = Canceled
			slog.Info("order canceled", "order", o.String())
			return nil
		}
		slog.Warn("something went wrong canceling order", "order", o.String())
		return nil
	})
}

// IsFilled reports whether an open order has disappeared from the venue's
// open-orders listing, which means it filled. Final statuses (filled,
// canceled) and potential orders return false without a lookup, so the
// check is idempotent once an order completes. The open-orders lookup runs
// under the given policy; call sites configure its fallback, typically to
// deactivate the owning market.
func (o *Order) IsFilled(ctx context.Context, ex exchange.Client, pol *retry.Policy) (bool, error) {
	switch o.Status {
	case Potential, Filled, Canceled:
		return false, nil
	}

	found := false
	err := pol.Do(ctx, o.InternalID+":open-orders", func(ctx context.Context) error {
		orders, err := ex.FetchOpenOrders(ctx, o.Symbol)
		if err != nil {
			return err
		}
		found = false
		for _, v := range orders {
			if v.ID == o.ExchangeID {
				found = true
				break
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("could not check open orders for %s: %w", o.InternalID, err)
	}
	if found {
		return false, nil
	}
	o.Status = Filled
	slog.Info("order is filled", "order", o.String())
	return true, nil
}

// IsValid reports whether the order can be placed: positive amount and
// price, and enough free quote-currency balance to cover the cost.
func (o *Order) IsValid(ctx context.Context, ex exchange.Client, quote string) (bool, error) {
	if o.Amount().Sign() <= 0 {
		return false, nil
	}
	if o.price.Sign() <= 0 {
		return false, nil
	}

	var balances exchange.Balances
	pol := retry.Default(exchange.IsNetwork, retry.Fail)
	err := pol.Do(ctx, o.InternalID+":balance", func(ctx context.Context) error {
		bs, err := ex.FetchBalance(ctx)
		if err != nil {
			return err
		}
		balances = bs
		return nil
	})
	if err != nil {
		return false, err
	}
	return balances.Free(quote).GreaterThanOrEqual(o.Cost()), nil
}

// State returns the persisted form of the order.
func (o *Order) State() *gobs.OrderState {
	return &gobs.OrderState{
		InternalID:  o.InternalID,
		ExchangeID:  o.ExchangeID,
		Side:        o.Side,
		Type:        o.Type,
		Price:       o.price,
		Amount:      o.amount,
		Cost:        o.cost,
		InitialCost: o.initialCost,
		Status:      string(o.Status),
	}
}

// FromState rebuilds an order from its persisted form.
func FromState(symbol string, gs *gobs.OrderState) (*Order, error) {
	v, err := New(gs.InternalID, symbol, gs.Side, gs.Type, gs.Price, gs.Cost)
	if err != nil {
		return nil, err
	}
	v.amount = gs.Amount
	v.cost = gs.Cost
	v.initialCost = gs.InitialCost
	v.ExchangeID = gs.ExchangeID
	v.Status = Status(gs.Status)
	return v, nil
}
