// Copyright (c) 2025 BVK Chaitanya

package session

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/bvk/rangebot/gobs"
	"github.com/bvkgo/kv/kvmemdb"
	"github.com/shopspring/decimal"
)

func testState() *gobs.SessionState {
	return &gobs.SessionState{
		Cycles: 42,
		Accounts: map[string]*gobs.AccountState{
			"primary": {
				Venue: "kucoin",
				Markets: map[string]*gobs.MarketState{
					"ADB/ETH": {
						Symbol:   "ADB/ETH",
						Base:     "ADB",
						Quote:    "ETH",
						Prices:   []decimal.Decimal{decimal.NewFromInt(100), decimal.NewFromInt(101)},
						Balances: []decimal.Decimal{decimal.NewFromInt(5)},
						Active:   true,
						Strategies: map[string]*gobs.StrategyState{
							"range_account_building_1": {
								Name:          "range_account_building_1",
								State:         "buying",
								TotalBuyCost:  decimal.NewFromInt(300),
								BoughtCounter: decimal.NewFromInt(150),
								AmountToSell:  decimal.RequireFromString("0.375"),
								Orders: map[string]*gobs.OrderState{
									"buy_order_1": {
										InternalID: "buy_order_1",
										ExchangeID: "kucoin-000001",
										Side:       "buy",
										Type:       "limit",
										Price:      decimal.NewFromInt(100),
										Amount:     decimal.RequireFromString("1.5"),
										Status:     "filled",
									},
									"sell_order_1": {
										InternalID:  "sell_order_1",
										Side:        "sell",
										Type:        "limit",
										Price:       decimal.NewFromInt(110),
										Cost:        decimal.NewFromInt(150),
										InitialCost: decimal.NewFromInt(150),
										Status:      "potential",
									},
								},
							},
						},
					},
				},
			},
		},
	}
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	db := kvmemdb.New()

	state := testState()
	if err := Save(ctx, db, state); err != nil {
		t.Fatal(err)
	}

	v, err := Load(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if v.Cycles != state.Cycles {
		t.Fatalf("cycles: want %d, got %d", state.Cycles, v.Cycles)
	}
	astate, ok := v.Accounts["primary"]
	if !ok {
		t.Fatalf("primary account missing")
	}
	mstate, ok := astate.Markets["ADB/ETH"]
	if !ok {
		t.Fatalf("ADB/ETH market missing")
	}
	if !mstate.Active || len(mstate.Prices) != 2 || len(mstate.Balances) != 1 {
		t.Fatalf("market state does not round trip: %+v", mstate)
	}
	sstate, ok := mstate.Strategies["range_account_building_1"]
	if !ok {
		t.Fatalf("strategy state missing")
	}
	if sstate.State != "buying" {
		t.Fatalf("strategy state: want buying, got %s", sstate.State)
	}
	if !sstate.BoughtCounter.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("bought counter does not round trip")
	}
	ostate, ok := sstate.Orders["buy_order_1"]
	if !ok {
		t.Fatalf("buy_order_1 missing")
	}
	if ostate.Status != "filled" || ostate.ExchangeID != "kucoin-000001" {
		t.Fatalf("order state does not round trip: %+v", ostate)
	}
	if !ostate.Amount.Equal(decimal.RequireFromString("1.5")) || !ostate.Cost.IsZero() {
		t.Fatalf("order amount/cost does not round trip: %+v", ostate)
	}
}

func TestLoadEmpty(t *testing.T) {
	ctx := context.Background()
	db := kvmemdb.New()

	if _, err := Load(ctx, db); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("want os.ErrNotExist, got %v", err)
	}
}

func TestOverwrite(t *testing.T) {
	ctx := context.Background()
	db := kvmemdb.New()

	state := testState()
	if err := Save(ctx, db, state); err != nil {
		t.Fatal(err)
	}
	state.Cycles = 43
	state.Accounts["primary"].Markets["ADB/ETH"].Active = false
	if err := Save(ctx, db, state); err != nil {
		t.Fatal(err)
	}

	v, err := Load(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if v.Cycles != 43 {
		t.Fatalf("cycles: want 43, got %d", v.Cycles)
	}
	if v.Accounts["primary"].Markets["ADB/ETH"].Active {
		t.Fatalf("market must be inactive after the second checkpoint")
	}
}
