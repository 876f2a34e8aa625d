// Copyright (c) 2025 BVK Chaitanya

package strategy

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bvk/rangebot/exchange"
	"github.com/bvk/rangebot/exchange/exchangetest"
	"github.com/bvk/rangebot/market"
	"github.com/bvk/rangebot/order"
	"github.com/bvk/rangebot/retry"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testSettings() *Settings {
	return &Settings{
		TotalBuyCost: d("300"),
		BuyTranches: []Tranche{
			{Price: d("100"), Percentage: d("0.5")},
			{Price: d("80"), Percentage: d("0.5")},
		},
		SellTranches: []Tranche{
			{Price: d("110"), Percentage: d("0.5")},
			{Price: d("120"), Percentage: d("0.5")},
		},
	}
}

func newTestStrategy(t *testing.T) (*RangeAccountBuilding, *exchangetest.Fake, *market.Market) {
	t.Helper()
	fake := exchangetest.New("testvenue")
	fake.AddMarket("ADB/ETH", "ADB", "ETH")
	fake.SetBalance("ETH", d("1000"))

	mkt := market.New(fake, "ADB/ETH", "ADB", "ETH")
	s, err := NewRangeAccountBuilding("range_account_building_1", fake, mkt, testSettings())
	if err != nil {
		t.Fatal(err)
	}
	s.SetRetryPolicy(&retry.Policy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		Multiplier:   1,
		Transient:    exchange.IsNetwork,
	})
	mkt.AddStrategy(s)
	return s, fake, mkt
}

func TestBuyTrigger(t *testing.T) {
	s, _, _ := newTestStrategy(t)
	// 110 - (110-100)*0.25
	if !s.BuyTrigger().Equal(d("107.5")) {
		t.Fatalf("buy trigger: want 107.5, got %s", s.BuyTrigger())
	}
}

func TestInitialOrders(t *testing.T) {
	s, _, _ := newTestStrategy(t)
	if len(s.orders) != 4 {
		t.Fatalf("want 4 tranche orders, got %d", len(s.orders))
	}
	b1 := s.orders["buy_order_1"]
	if !b1.Cost().Equal(d("150")) || !b1.InitialCost().Equal(d("150")) {
		t.Fatalf("buy_order_1 cost: want 150, got %s", b1.Cost())
	}
	if b1.Status != order.Potential {
		t.Fatalf("buy_order_1 status: want potential, got %s", b1.Status)
	}
	if s.CurrentState() != Idle {
		t.Fatalf("initial state: want idle, got %s", s.CurrentState())
	}
}

func TestIdleToBuying(t *testing.T) {
	ctx := context.Background()
	s, fake, _ := newTestStrategy(t)

	// Above the trigger nothing happens.
	if err := s.PriceChanged(ctx, d("108")); err != nil {
		t.Fatal(err)
	}
	if s.CurrentState() != Idle {
		t.Fatalf("state: want idle, got %s", s.CurrentState())
	}

	if err := s.PriceChanged(ctx, d("90")); err != nil {
		t.Fatal(err)
	}
	if s.CurrentState() != Buying {
		t.Fatalf("state: want buying, got %s", s.CurrentState())
	}
	if n := fake.OpenCount("ADB/ETH"); n != 2 {
		t.Fatalf("want 2 open buy orders, got %d", n)
	}
	for _, id := range []string{"buy_order_1", "buy_order_2"} {
		o := s.orders[id]
		if o.Status != order.Open || len(o.ExchangeID) == 0 {
			t.Fatalf("%s was not placed: %v", id, o)
		}
	}
}

func TestBuyingToIdle(t *testing.T) {
	ctx := context.Background()
	s, fake, _ := newTestStrategy(t)

	if err := s.PriceChanged(ctx, d("90")); err != nil {
		t.Fatal(err)
	}
	// No sell order is open, so climbing back to the trigger abandons the
	// buy side entirely. The trigger price itself counts as above.
	if err := s.PriceChanged(ctx, d("107.5")); err != nil {
		t.Fatal(err)
	}
	if s.CurrentState() != Idle {
		t.Fatalf("state: want idle, got %s", s.CurrentState())
	}
	if n := fake.OpenCount("ADB/ETH"); n != 0 {
		t.Fatalf("want all buy orders canceled, got %d open", n)
	}
	if s.orders["buy_order_1"].Status != order.Canceled {
		t.Fatalf("buy_order_1 status: want canceled, got %s", s.orders["buy_order_1"].Status)
	}
}

func TestBuyFillAndSellCycle(t *testing.T) {
	ctx := context.Background()
	s, fake, mkt := newTestStrategy(t)

	if err := s.PriceChanged(ctx, d("90")); err != nil {
		t.Fatal(err)
	}

	// The venue fills the first buy tranche.
	fake.Fill(s.orders["buy_order_1"].ExchangeID)
	if err := s.BalanceChanged(ctx); err != nil {
		t.Fatal(err)
	}

	// One buy tranche is still open, so the machine settles back in
	// buying with fresh sell orders on the venue.
	if s.CurrentState() != Buying {
		t.Fatalf("state: want buying, got %s", s.CurrentState())
	}
	if !s.boughtCounter.Equal(d("150")) {
		t.Fatalf("bought counter: want 150, got %s", s.boughtCounter)
	}
	for _, id := range []string{"sell_order_1", "sell_order_2"} {
		o := s.orders[id]
		if o.Status != order.Open {
			t.Fatalf("%s was not placed: %v", id, o)
		}
	}
	// buy_order_1 filled 1.5 of the base asset; the sell tranches take 50%
	// of the remaining pool each and the residue carries over.
	bought := d("1.5")
	sell1 := bought.Mul(d("0.5"))
	sell2 := bought.Sub(sell1).Mul(d("0.5"))
	if !s.orders["sell_order_1"].Amount().Equal(sell1) {
		t.Fatalf("sell_order_1 amount: want %s, got %s", sell1, s.orders["sell_order_1"].Amount())
	}
	if !s.orders["sell_order_2"].Amount().Equal(sell2) {
		t.Fatalf("sell_order_2 amount: want %s, got %s", sell2, s.orders["sell_order_2"].Amount())
	}
	if !s.amountToSell.Equal(bought.Sub(sell1).Sub(sell2)) {
		t.Fatalf("amount to sell residue: got %s", s.amountToSell)
	}

	// Climbing above the trigger with sells open moves to selling.
	if err := s.PriceChanged(ctx, d("108")); err != nil {
		t.Fatal(err)
	}
	if s.CurrentState() != Selling {
		t.Fatalf("state: want selling, got %s", s.CurrentState())
	}
	if s.orders["buy_order_2"].Status != order.Canceled {
		t.Fatalf("buy_order_2 status: want canceled, got %s", s.orders["buy_order_2"].Status)
	}

	// The first sell tranche fills: the machine visits sold, recomputes
	// the buy tranches and settles back in selling.
	counterBefore := s.boughtCounter
	fake.Fill(s.orders["sell_order_1"].ExchangeID)
	if err := s.BalanceChanged(ctx); err != nil {
		t.Fatal(err)
	}
	if s.CurrentState() != Selling {
		t.Fatalf("state: want selling, got %s", s.CurrentState())
	}
	if !s.boughtCounter.Equal(counterBefore.Sub(s.orders["sell_order_1"].Cost())) {
		t.Fatalf("bought counter was not decremented: %s", s.boughtCounter)
	}
	if s.orders["buy_order_1"].Status != order.Potential {
		t.Fatalf("buy tranches must be reset to potential after sold")
	}

	// The last sell tranche fills: back to idle.
	fake.Fill(s.orders["sell_order_2"].ExchangeID)
	if err := s.BalanceChanged(ctx); err != nil {
		t.Fatal(err)
	}
	if s.CurrentState() != Idle {
		t.Fatalf("state: want idle, got %s", s.CurrentState())
	}
	if !mkt.Active() {
		t.Fatalf("market must still be active")
	}
}

func TestBoughtAll(t *testing.T) {
	ctx := context.Background()
	s, fake, _ := newTestStrategy(t)

	if err := s.PriceChanged(ctx, d("90")); err != nil {
		t.Fatal(err)
	}

	// Both buy tranches fill; each balance event picks up one fill.
	fake.Fill(s.orders["buy_order_1"].ExchangeID)
	fake.Fill(s.orders["buy_order_2"].ExchangeID)
	if err := s.BalanceChanged(ctx); err != nil {
		t.Fatal(err)
	}
	if s.CurrentState() != Buying {
		t.Fatalf("state: want buying after first fill, got %s", s.CurrentState())
	}
	if err := s.BalanceChanged(ctx); err != nil {
		t.Fatal(err)
	}
	if s.CurrentState() != BoughtAll {
		t.Fatalf("state: want bought_all, got %s", s.CurrentState())
	}
	if !s.boughtCounter.Equal(d("300")) {
		t.Fatalf("bought counter: want 300, got %s", s.boughtCounter)
	}
}

func TestRecalculateBuyOrders(t *testing.T) {
	s, _, _ := newTestStrategy(t)

	s.boughtCounter = d("100")
	s.recalculateBuyOrders()

	// 300 - 100 = 200 to divide in descending tranche order: tranche 2
	// takes min(200, 150), tranche 1 takes min(50, 150).
	if got := s.orders["buy_order_2"].Cost(); !got.Equal(d("150")) {
		t.Fatalf("buy_order_2 cost: want 150, got %s", got)
	}
	if got := s.orders["buy_order_1"].Cost(); !got.Equal(d("50")) {
		t.Fatalf("buy_order_1 cost: want 50, got %s", got)
	}
}

func TestLookupFailureDeactivatesMarket(t *testing.T) {
	ctx := context.Background()
	s, fake, mkt := newTestStrategy(t)

	if err := s.PriceChanged(ctx, d("90")); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		fake.Fail("FetchOpenOrders", fmt.Errorf("down: %w", exchange.ErrUnavailable))
	}
	err := s.BalanceChanged(ctx)
	if !errors.Is(err, retry.ErrExhausted) {
		t.Fatalf("want ErrExhausted, got %v", err)
	}
	if mkt.Active() {
		t.Fatalf("market must be deactivated after lookup retries run out")
	}
	if s.orders["buy_order_1"].Status != order.Open {
		t.Fatalf("a failed lookup must not change the order status")
	}
	if s.CurrentState() != Buying {
		t.Fatalf("state must not change on a failed lookup")
	}
}

func TestStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, fake, mkt := newTestStrategy(t)

	if err := s.PriceChanged(ctx, d("90")); err != nil {
		t.Fatal(err)
	}
	fake.Fill(s.orders["buy_order_1"].ExchangeID)
	if err := s.BalanceChanged(ctx); err != nil {
		t.Fatal(err)
	}

	v, err := RestoreRangeAccountBuilding(fake, mkt, testSettings(), s.State())
	if err != nil {
		t.Fatal(err)
	}
	if v.CurrentState() != s.CurrentState() {
		t.Fatalf("state does not match: %s vs %s", v.CurrentState(), s.CurrentState())
	}
	if !v.boughtCounter.Equal(s.boughtCounter) || !v.amountToSell.Equal(s.amountToSell) {
		t.Fatalf("counters do not match")
	}
	if !v.BuyTrigger().Equal(s.BuyTrigger()) {
		t.Fatalf("buy trigger does not match")
	}
	for id, o := range s.orders {
		w, ok := v.orders[id]
		if !ok {
			t.Fatalf("order %s was not restored", id)
		}
		if w.Status != o.Status || w.ExchangeID != o.ExchangeID {
			t.Fatalf("order %s does not match: %v vs %v", id, w, o)
		}
		if !w.Amount().Equal(o.Amount()) || !w.Cost().Equal(o.Cost()) || !w.Price().Equal(o.Price()) {
			t.Fatalf("order %s values do not match", id)
		}
	}
}
