// Copyright (c) 2025 BVK Chaitanya

package order

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bvk/rangebot/exchange"
	"github.com/bvk/rangebot/exchange/exchangetest"
	"github.com/bvk/rangebot/retry"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func quickPolicy(onExhausted func(ctx context.Context) error) *retry.Policy {
	return &retry.Policy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		Multiplier:   1,
		Transient:    exchange.IsNetwork,
		OnExhausted:  onExhausted,
	}
}

func TestAmountCostExclusivity(t *testing.T) {
	o, err := New("buy_order_1", "ADB/ETH", "buy", "limit", d("2"), decimal.Zero)
	if err != nil {
		t.Fatal(err)
	}

	o.SetAmount(d("10"))
	if got := o.Cost(); !got.Equal(d("20")) {
		t.Fatalf("cost: want 20, got %s", got)
	}

	o.SetCost(d("30"))
	if got := o.Amount(); !got.Equal(d("15")) {
		t.Fatalf("amount: want 15, got %s", got)
	}

	// Setting cost to zero makes it derive from amount, but amount was
	// zeroed by the cost assignment above, so both read as zero.
	o.SetCost(decimal.Zero)
	if !o.Amount().IsZero() || !o.Cost().IsZero() {
		t.Fatalf("want both zero, got amount=%s cost=%s", o.Amount(), o.Cost())
	}

	o.SetAmount(d("4"))
	o.SetAmount(decimal.Zero)
	if !o.Amount().IsZero() || !o.Cost().IsZero() {
		t.Fatalf("want both zero, got amount=%s cost=%s", o.Amount(), o.Cost())
	}
}

func TestNewDerivesAmountFromCost(t *testing.T) {
	o, err := New("buy_order_1", "ADB/ETH", "buy", "limit", d("0.02"), d("2"))
	if err != nil {
		t.Fatal(err)
	}
	if got := o.Amount(); !got.Equal(d("100")) {
		t.Fatalf("amount: want 100, got %s", got)
	}
	if got := o.InitialCost(); !got.Equal(d("2")) {
		t.Fatalf("initial cost: want 2, got %s", got)
	}
	if o.Status != Potential {
		t.Fatalf("status: want potential, got %s", o.Status)
	}
}

func TestPlace(t *testing.T) {
	ctx := context.Background()
	fake := exchangetest.New("testvenue")
	fake.AddMarket("ADB/ETH", "ADB", "ETH")

	o, err := New("buy_order_1", "ADB/ETH", "buy", "limit", d("0.02"), d("2"))
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Place(ctx, fake); err != nil {
		t.Fatal(err)
	}
	if o.Status != Open {
		t.Fatalf("status: want open, got %s", o.Status)
	}
	if len(o.ExchangeID) == 0 {
		t.Fatalf("exchange id was not assigned")
	}
	if fake.OpenCount("ADB/ETH") != 1 {
		t.Fatalf("want 1 open order at the venue, got %d", fake.OpenCount("ADB/ETH"))
	}
}

func TestPlaceZeroAmount(t *testing.T) {
	ctx := context.Background()
	fake := exchangetest.New("testvenue")

	o, err := New("buy_order_1", "ADB/ETH", "buy", "limit", d("0.02"), decimal.Zero)
	if err != nil {
		t.Fatal(err)
	}
	err = o.Place(ctx, fake)
	if !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("want ErrZeroAmount, got %v", err)
	}
	if o.Status != Potential {
		t.Fatalf("status: want potential, got %s", o.Status)
	}
}

func TestPlaceTimeoutIsAmbiguous(t *testing.T) {
	ctx := context.Background()
	fake := exchangetest.New("testvenue")
	fake.Fail("CreateOrder", fmt.Errorf("no response: %w", exchange.ErrTimeout))

	o, err := New("buy_order_1", "ADB/ETH", "buy", "limit", d("0.02"), d("2"))
	if err != nil {
		t.Fatal(err)
	}
	err = o.Place(ctx, fake)
	if !errors.Is(err, ErrAmbiguous) {
		t.Fatalf("want ErrAmbiguous, got %v", err)
	}
	// The timeout must not be retried: a duplicate might already exist.
	if n := fake.Calls("CreateOrder"); n != 1 {
		t.Fatalf("want 1 CreateOrder call, got %d", n)
	}
}

func TestCancelNotFoundIsImplicitCancel(t *testing.T) {
	ctx := context.Background()
	fake := exchangetest.New("testvenue")

	o, err := New("buy_order_1", "ADB/ETH", "buy", "limit", d("0.02"), d("2"))
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Place(ctx, fake); err != nil {
		t.Fatal(err)
	}

	// The venue fills the order before we cancel.
	fake.Fill(o.ExchangeID)

	if err := o.Cancel(ctx, fake); err != nil {
		t.Fatal(err)
	}
	if o.Status != Canceled {
		t.Fatalf("status: want canceled, got %s", o.Status)
	}
}

func TestIsFilled(t *testing.T) {
	ctx := context.Background()
	fake := exchangetest.New("testvenue")

	o, err := New("buy_order_1", "ADB/ETH", "buy", "limit", d("0.02"), d("2"))
	if err != nil {
		t.Fatal(err)
	}

	pol := quickPolicy(nil)

	// Potential orders never report filled.
	if filled, err := o.IsFilled(ctx, fake, pol); err != nil || filled {
		t.Fatalf("potential: want false/nil, got %v/%v", filled, err)
	}

	if err := o.Place(ctx, fake); err != nil {
		t.Fatal(err)
	}

	// Still open at the venue.
	if filled, err := o.IsFilled(ctx, fake, pol); err != nil || filled {
		t.Fatalf("open: want false/nil, got %v/%v", filled, err)
	}

	fake.Fill(o.ExchangeID)
	filled, err := o.IsFilled(ctx, fake, pol)
	if err != nil {
		t.Fatal(err)
	}
	if !filled {
		t.Fatalf("want filled")
	}
	if o.Status != Filled {
		t.Fatalf("status: want filled, got %s", o.Status)
	}

	// Idempotent once final: repeated calls return false without lookups.
	calls := fake.Calls("FetchOpenOrders")
	for i := 0; i < 3; i++ {
		if filled, err := o.IsFilled(ctx, fake, pol); err != nil || filled {
			t.Fatalf("final: want false/nil, got %v/%v", filled, err)
		}
	}
	if n := fake.Calls("FetchOpenOrders"); n != calls {
		t.Fatalf("final status must not query the venue: %d extra calls", n-calls)
	}
}

func TestIsFilledLookupExhausted(t *testing.T) {
	ctx := context.Background()
	fake := exchangetest.New("testvenue")

	o, err := New("buy_order_1", "ADB/ETH", "buy", "limit", d("0.02"), d("2"))
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Place(ctx, fake); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		fake.Fail("FetchOpenOrders", fmt.Errorf("down: %w", exchange.ErrUnavailable))
	}

	deactivated := false
	pol := quickPolicy(func(ctx context.Context) error {
		deactivated = true
		return fmt.Errorf("lookup failed: %w", retry.ErrExhausted)
	})

	filled, err := o.IsFilled(ctx, fake, pol)
	if !errors.Is(err, retry.ErrExhausted) {
		t.Fatalf("want ErrExhausted, got %v", err)
	}
	if filled {
		t.Fatalf("a failed lookup must not report the order as filled")
	}
	if !deactivated {
		t.Fatalf("fallback did not run")
	}
	if o.Status != Open {
		t.Fatalf("status: want open, got %s", o.Status)
	}
}

func TestIsValid(t *testing.T) {
	ctx := context.Background()
	fake := exchangetest.New("testvenue")
	fake.SetBalance("ETH", d("5"))

	o, err := New("buy_order_1", "ADB/ETH", "buy", "limit", d("0.02"), d("2"))
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := o.IsValid(ctx, fake, "ETH"); err != nil || !ok {
		t.Fatalf("want valid, got %v/%v", ok, err)
	}

	o.SetCost(d("50"))
	if ok, err := o.IsValid(ctx, fake, "ETH"); err != nil || ok {
		t.Fatalf("insufficient balance: want invalid, got %v/%v", ok, err)
	}

	o.SetCost(decimal.Zero)
	if ok, err := o.IsValid(ctx, fake, "ETH"); err != nil || ok {
		t.Fatalf("zero amount: want invalid, got %v/%v", ok, err)
	}
}

func TestStateRoundTrip(t *testing.T) {
	o, err := New("sell_order_2", "ADB/ETH", "sell", "limit", d("0.04"), d("2"))
	if err != nil {
		t.Fatal(err)
	}
	o.ExchangeID = "abc-123"
	o.Status = Open
	o.SetAmount(d("55"))

	v, err := FromState("ADB/ETH", o.State())
	if err != nil {
		t.Fatal(err)
	}
	if v.InternalID != o.InternalID || v.ExchangeID != o.ExchangeID {
		t.Fatalf("ids do not match: %v vs %v", v, o)
	}
	if v.Side != o.Side || v.Type != o.Type || v.Status != o.Status {
		t.Fatalf("fields do not match: %v vs %v", v, o)
	}
	if !v.Price().Equal(o.Price()) || !v.Amount().Equal(o.Amount()) || !v.Cost().Equal(o.Cost()) {
		t.Fatalf("values do not match: %v vs %v", v, o)
	}
	if !v.InitialCost().Equal(o.InitialCost()) {
		t.Fatalf("initial cost does not match: %s vs %s", v.InitialCost(), o.InitialCost())
	}
}
