// Copyright (c) 2025 BVK Chaitanya

// Package retry implements a configurable retry-with-backoff wrapper for
// operations that can fail transiently, such as venue API calls. Every
// exchange-facing operation in this bot runs under a Policy; call sites
// differ only in how they classify transient failures and in what they do
// when the attempt budget runs out.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrExhausted is reported when an operation keeps failing transiently even
// after all retry attempts. It marks conditions that need operator
// attention and must never be silently swallowed.
var ErrExhausted = errors.New("operation failed even after retries")

// Fail is an OnExhausted callback that turns an exhausted attempt budget
// into a persistent failure.
func Fail(ctx context.Context) error {
	return ErrExhausted
}

// Default retry parameters for venue API calls.
const (
	DefaultAttempts   = 10
	DefaultDelay      = 2 * time.Second
	DefaultMultiplier = 1.5
)

// Policy describes how to retry one class of operation.
//
// An operation gets MaxAttempts-1 guarded attempts with sleeps in between;
// after that OnExhausted decides the outcome if set, otherwise the
// operation runs one last time unguarded and its result is returned as-is.
type Policy struct {
	// MaxAttempts is the total number of tries before giving up. Must not
	// be negative.
	MaxAttempts int

	// InitialDelay is the sleep after the first failure. Must not be
	// negative.
	InitialDelay time.Duration

	// Multiplier scales the delay after every failure. Must be >= 1.
	Multiplier float64

	// Transient reports whether an error is worth retrying. Errors it
	// rejects propagate immediately. When nil, every error is retried.
	Transient func(error) bool

	// OnExhausted, when non-nil, runs after the attempt budget is consumed
	// and its result becomes the outcome of Do.
	OnExhausted func(ctx context.Context) error
}

// Default returns a policy with the default attempt budget and the given
// failure classifier and fallback.
func Default(transient func(error) bool, onExhausted func(ctx context.Context) error) *Policy {
	return &Policy{
		MaxAttempts:  DefaultAttempts,
		InitialDelay: DefaultDelay,
		Multiplier:   DefaultMultiplier,
		Transient:    transient,
		OnExhausted:  onExhausted,
	}
}

// WithFallback returns a copy of the policy with a different OnExhausted
// callback. Call sites that share backoff timings use this to attach their
// own exhaustion behavior.
func (p *Policy) WithFallback(onExhausted func(ctx context.Context) error) *Policy {
	v := *p
	v.OnExhausted = onExhausted
	return &v
}

func (p *Policy) check() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("max attempts cannot be negative")
	}
	if p.InitialDelay < 0 {
		return fmt.Errorf("initial delay cannot be negative")
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("backoff multiplier cannot be less than one")
	}
	return nil
}

// Do runs op under the policy. The name is only used in log messages.
func (p *Policy) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	if err := p.check(); err != nil {
		return err
	}

	transient := p.Transient
	if transient == nil {
		transient = func(error) bool { return true }
	}

	bo := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         time.Hour,
	}
	bo.Reset()

	for attempt := 1; attempt < p.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !transient(err) {
			return err
		}
		d := bo.NextBackOff()
		log.Printf("%s: %v (retrying in %s; %d attempts left out of %d)",
			name, err, d, p.MaxAttempts-attempt, p.MaxAttempts)
		if err := sleep(ctx, d); err != nil {
			return err
		}
	}

	if p.OnExhausted != nil {
		return p.OnExhausted(ctx)
	}
	return op(ctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	sctx, scancel := context.WithTimeout(ctx, d)
	<-sctx.Done()
	scancel()
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return nil
}
