// Copyright (c) 2025 BVK Chaitanya

package strategy

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
)

// Tranche describes one fixed sub-order of a strategy side. Percentage is a
// fraction of the side's total (cost for buys, accumulated amount for
// sells) expressed in the range (0, 1].
type Tranche struct {
	Price      decimal.Decimal `json:"price"`
	Percentage decimal.Decimal `json:"percentage"`
}

// Settings holds the static parameters of a range account building
// strategy. Tranche index i becomes order number i+1, so the first buy
// tranche turns into the order with internal id "buy_order_1".
type Settings struct {
	// TotalBuyCost is the quote currency budget split across the buy
	// tranches.
	TotalBuyCost decimal.Decimal `json:"total_buy_cost"`

	BuyTranches  []Tranche `json:"buy_tranches"`
	SellTranches []Tranche `json:"sell_tranches"`

	// TriggerFraction positions the buy trigger between the first sell and
	// first buy tranche prices. Zero picks the default of 0.25.
	TriggerFraction decimal.Decimal `json:"trigger_fraction,omitempty"`
}

// Check validates the settings.
func (s *Settings) Check() error {
	if s.TotalBuyCost.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("total buy cost must be positive: %w", os.ErrInvalid)
	}
	if len(s.BuyTranches) == 0 {
		return fmt.Errorf("at least one buy tranche is required: %w", os.ErrInvalid)
	}
	if len(s.SellTranches) == 0 {
		return fmt.Errorf("at least one sell tranche is required: %w", os.ErrInvalid)
	}
	for i, t := range s.BuyTranches {
		if err := t.check(); err != nil {
			return fmt.Errorf("buy tranche %d: %w", i+1, err)
		}
	}
	for i, t := range s.SellTranches {
		if err := t.check(); err != nil {
			return fmt.Errorf("sell tranche %d: %w", i+1, err)
		}
	}
	if s.TriggerFraction.IsNegative() || s.TriggerFraction.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("trigger fraction must be within [0, 1]: %w", os.ErrInvalid)
	}
	first := s.SellTranches[0].Price
	if first.LessThanOrEqual(s.BuyTranches[0].Price) {
		return fmt.Errorf("first sell tranche price must be above the first buy tranche price: %w", os.ErrInvalid)
	}
	return nil
}

func (t *Tranche) check() error {
	if t.Price.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("tranche price must be positive: %w", os.ErrInvalid)
	}
	if t.Percentage.LessThanOrEqual(decimal.Zero) || t.Percentage.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("tranche percentage must be within (0, 1]: %w", os.ErrInvalid)
	}
	return nil
}

func (s *Settings) triggerFraction() decimal.Decimal {
	if s.TriggerFraction.IsZero() {
		return decimal.RequireFromString("0.25")
	}
	return s.TriggerFraction
}
