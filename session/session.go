// Copyright (c) 2025 BVK Chaitanya

// Package session checkpoints the bot's dynamic state in the database so a
// restart resumes where the previous run stopped.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bvk/rangebot/gobs"
	"github.com/bvk/rangebot/kvutil"
	"github.com/bvkgo/kv"
)

const (
	// accountsKeyspace holds one gobs.AccountState per account name.
	accountsKeyspace = "/accounts"

	// metaKey holds the session counters.
	metaKey = "/session/meta"
)

type meta struct {
	Cycles uint64
}

// AccountKey returns the database key for an account's checkpoint.
func AccountKey(name string) string {
	return accountsKeyspace + "/" + name
}

// Save checkpoints the whole session in one transaction, so a crash never
// leaves some accounts from the previous cycle and some from the current
// one.
func Save(ctx context.Context, db kv.Database, state *gobs.SessionState) error {
	if state == nil || len(state.Accounts) == 0 {
		return fmt.Errorf("session state cannot be empty: %w", os.ErrInvalid)
	}
	save := func(ctx context.Context, rw kv.ReadWriter) error {
		for name, astate := range state.Accounts {
			if err := kvutil.Set(ctx, rw, AccountKey(name), astate); err != nil {
				return fmt.Errorf("could not save account %q: %w", name, err)
			}
		}
		m := &meta{Cycles: state.Cycles}
		return kvutil.Set(ctx, rw, metaKey, m)
	}
	if err := kv.WithReadWriter(ctx, db, save); err != nil {
		return fmt.Errorf("could not save session: %w", err)
	}
	return nil
}

// Load reads the last checkpoint. A database with no checkpoint returns
// os.ErrNotExist, which callers treat as a fresh start.
func Load(ctx context.Context, db kv.Database) (*gobs.SessionState, error) {
	state := &gobs.SessionState{
		Accounts: make(map[string]*gobs.AccountState),
	}
	load := func(ctx context.Context, r kv.Reader) error {
		begin, end := kvutil.PathRange(accountsKeyspace)
		err := kvutil.Ascend(ctx, r, begin, end, func(ctx context.Context, r kv.Reader, key string, astate *gobs.AccountState) error {
			name := strings.TrimPrefix(key, accountsKeyspace+"/")
			state.Accounts[name] = astate
			return nil
		})
		if err != nil {
			return err
		}
		m, err := kvutil.Get[meta](ctx, r, metaKey)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		state.Cycles = m.Cycles
		return nil
	}
	if err := kv.WithReader(ctx, db, load); err != nil {
		return nil, fmt.Errorf("could not load session: %w", err)
	}
	if len(state.Accounts) == 0 {
		return nil, os.ErrNotExist
	}
	return state, nil
}
