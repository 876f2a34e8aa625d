// Copyright (c) 2025 BVK Chaitanya

package bot

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bvk/rangebot/config"
	"github.com/bvk/rangebot/exchange"
	"github.com/bvk/rangebot/exchange/exchangetest"
	"github.com/bvk/rangebot/order"
	"github.com/bvk/rangebot/retry"
	"github.com/bvk/rangebot/session"
	"github.com/bvk/rangebot/strategy"
	"github.com/bvkgo/kv/kvmemdb"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func quickPolicy() *retry.Policy {
	return &retry.Policy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		Multiplier:   1,
		Transient:    exchange.IsNetwork,
	}
}

func testConfig(accounts ...string) *config.Config {
	c := &config.Config{Accounts: make(map[string]*config.Account)}
	for _, name := range accounts {
		c.Accounts[name] = &config.Account{
			Venue:  "testvenue",
			Key:    "test-key",
			Secret: "test-secret",
			Markets: map[string]*config.Market{
				"ADB/ETH": {
					Strategies: map[string]*strategy.Settings{
						"range_account_building_1": {
							TotalBuyCost: d("300"),
							BuyTranches: []strategy.Tranche{
								{Price: d("100"), Percentage: d("0.5")},
								{Price: d("80"), Percentage: d("0.5")},
							},
							SellTranches: []strategy.Tranche{
								{Price: d("110"), Percentage: d("0.5")},
								{Price: d("120"), Percentage: d("0.5")},
							},
						},
					},
				},
			},
		}
	}
	return c
}

func testDialer(fakes map[string]*exchangetest.Fake) Dialer {
	return func(ctx context.Context, name string, cfg *config.Account) (exchange.Client, error) {
		f, ok := fakes[name]
		if !ok {
			return nil, fmt.Errorf("no fake venue for account %q", name)
		}
		return f, nil
	}
}

func newFake() *exchangetest.Fake {
	f := exchangetest.New("testvenue")
	f.AddMarket("ADB/ETH", "ADB", "ETH")
	f.SetPrice("ADB/ETH", d("90"))
	f.SetBalance("ETH", d("1000"))
	f.SetBalance("ADB", d("0"))
	return f
}

func TestStep(t *testing.T) {
	ctx := context.Background()
	db := kvmemdb.New()
	fakes := map[string]*exchangetest.Fake{"primary": newFake()}

	b, err := Configure(ctx, db, testConfig("primary"), testDialer(fakes), &Options{RetryPolicy: quickPolicy()})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Step(ctx); err != nil {
		t.Fatal(err)
	}
	if b.Cycles() != 1 {
		t.Fatalf("cycles: want 1, got %d", b.Cycles())
	}

	// The price is below the buy trigger, so the first cycle places both
	// buy tranches.
	if n := fakes["primary"].OpenCount("ADB/ETH"); n != 2 {
		t.Fatalf("want 2 open orders on the venue, got %d", n)
	}

	state, err := session.Load(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if state.Cycles != 1 {
		t.Fatalf("checkpoint cycles: want 1, got %d", state.Cycles)
	}
	sstate := state.Accounts["primary"].Markets["ADB/ETH"].Strategies["range_account_building_1"]
	if sstate == nil {
		t.Fatalf("strategy missing from checkpoint")
	}
	if sstate.State != string(strategy.Buying) {
		t.Fatalf("checkpoint state: want buying, got %s", sstate.State)
	}
}

func TestAccountIsolation(t *testing.T) {
	ctx := context.Background()
	db := kvmemdb.New()
	fakes := map[string]*exchangetest.Fake{"aaa": newFake(), "bbb": newFake()}

	b, err := Configure(ctx, db, testConfig("aaa", "bbb"), testDialer(fakes), &Options{RetryPolicy: quickPolicy()})
	if err != nil {
		t.Fatal(err)
	}

	// Account aaa's balance fetch fails for the whole cycle.
	for i := 0; i < 5; i++ {
		fakes["aaa"].Fail("FetchBalance", fmt.Errorf("down: %w", exchange.ErrUnavailable))
	}
	if err := b.Step(ctx); err != nil {
		t.Fatal(err)
	}

	// Account bbb still traded and the checkpoint includes both accounts.
	if n := fakes["bbb"].OpenCount("ADB/ETH"); n != 2 {
		t.Fatalf("want 2 open orders for bbb, got %d", n)
	}
	if n := fakes["aaa"].OpenCount("ADB/ETH"); n != 0 {
		t.Fatalf("want no orders for the failed account, got %d", n)
	}
	state, err := session.Load(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Accounts) != 2 {
		t.Fatalf("checkpoint accounts: want 2, got %d", len(state.Accounts))
	}
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	db := kvmemdb.New()
	fakes := map[string]*exchangetest.Fake{"primary": newFake()}

	b, err := Configure(ctx, db, testConfig("primary"), testDialer(fakes), &Options{RetryPolicy: quickPolicy()})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Step(ctx); err != nil {
		t.Fatal(err)
	}

	// A second bot over the same database resumes from the checkpoint. The
	// restored strategy keeps its state and the placed orders.
	v, err := Configure(ctx, db, testConfig("primary"), testDialer(fakes), &Options{RetryPolicy: quickPolicy()})
	if err != nil {
		t.Fatal(err)
	}
	if v.Cycles() != 1 {
		t.Fatalf("restored cycles: want 1, got %d", v.Cycles())
	}
	m := v.Account("primary").Market("ADB/ETH")
	if m == nil {
		t.Fatalf("market was not restored")
	}
	if !m.LastPrice().Equal(d("90")) {
		t.Fatalf("restored last price: want 90, got %s", m.LastPrice())
	}
	s, ok := m.Strategies()["range_account_building_1"].(*strategy.RangeAccountBuilding)
	if !ok {
		t.Fatalf("strategy was not restored")
	}
	if s.CurrentState() != strategy.Buying {
		t.Fatalf("restored state: want buying, got %s", s.CurrentState())
	}

	// The next cycle detects a fill that happened while restarting.
	for _, o := range fakes["primary"].OpenIDs("ADB/ETH") {
		fakes["primary"].Fill(o)
		break
	}
	fakes["primary"].SetBalance("ADB", d("1.5"))
	if err := v.Step(ctx); err != nil {
		t.Fatal(err)
	}
	filled := 0
	for _, gs := range v.State().Accounts["primary"].Markets["ADB/ETH"].Strategies["range_account_building_1"].Orders {
		if gs.Side == "buy" && gs.Status == string(order.Filled) {
			filled++
		}
	}
	if filled != 1 {
		t.Fatalf("want 1 filled buy order after restart, got %d", filled)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	db := kvmemdb.New()
	fakes := map[string]*exchangetest.Fake{"primary": newFake()}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	b, err := Configure(ctx, db, testConfig("primary"), testDialer(fakes), &Options{RetryPolicy: quickPolicy()})
	if err != nil {
		t.Fatal(err)
	}
	b.SetInterval(time.Millisecond)

	err = b.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
	if b.Cycles() == 0 {
		t.Fatalf("want at least one completed cycle")
	}
}
