// Copyright (c) 2025 BVK Chaitanya

// Package cmdutil holds flag helpers shared by the subcommands.
package cmdutil

import (
	"bufio"
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"

	"github.com/bvk/rangebot/gobs"
	"github.com/bvk/rangebot/kvutil"
	"github.com/bvkgo/kv"
	"github.com/bvkgo/kv/kvmemdb"
	"github.com/bvkgo/kvbadger"
	"github.com/dgraph-io/badger/v4"
)

// DBFlags selects the session database for a subcommand. The database is
// either the badger store under the data directory or an in-memory copy
// restored from a backup file.
type DBFlags struct {
	dataDir string

	fromBackup string

	backupBefore string
	backupAfter  string
}

func (f *DBFlags) SetFlags(fset *flag.FlagSet) {
	fset.StringVar(&f.dataDir, "data-dir", "", "Path to the data directory")
	fset.StringVar(&f.fromBackup, "from-backup", "", "Path to a database backup file")
	fset.StringVar(&f.backupBefore, "backup-before", "", "Path to a file to receive db backup before cmd is run")
	fset.StringVar(&f.backupAfter, "backup-after", "", "Path to a file to receive db backup after cmd is run")
}

// DataDir resolves the data directory, defaulting to $HOME/.rangebot.
func (f *DBFlags) DataDir() (string, error) {
	dir := f.dataDir
	if len(dir) == 0 {
		dir = filepath.Join(os.Getenv("HOME"), ".rangebot")
	}
	return filepath.Abs(dir)
}

func (f *DBFlags) dbCloser(db kv.Database, c io.Closer) func() {
	return func() {
		if len(f.backupAfter) != 0 {
			if err := kvutil.BackupDB(context.Background(), db, f.backupAfter); err != nil {
				log.Printf("could not take db backup after it is used (ignored): %v", err)
			}
		}
		if c != nil {
			c.Close()
		}
	}
}

func (f *DBFlags) GetDatabase(ctx context.Context) (db kv.Database, closer func(), status error) {
	defer func() {
		if status == nil && len(f.backupBefore) != 0 {
			if err := kvutil.BackupDB(ctx, db, f.backupBefore); err != nil {
				log.Printf("could not take a db backup before it is used: %v", err)
				closer()
				db, closer, status = nil, nil, err
			}
		}
	}()

	if len(f.fromBackup) != 0 {
		fp, err := os.Open(f.fromBackup)
		if err != nil {
			return nil, nil, fmt.Errorf("could not open file %q: %w", f.fromBackup, err)
		}
		defer fp.Close()

		db := kvmemdb.New()
		if err := doRestore(ctx, bufio.NewReader(fp), db); err != nil {
			return nil, nil, fmt.Errorf("could not restore in-memory db from backup: %w", err)
		}
		return db, f.dbCloser(db, nil), nil
	}

	dataDir, err := f.DataDir()
	if err != nil {
		return nil, nil, fmt.Errorf("could not resolve the data directory: %w", err)
	}
	bopts := badger.DefaultOptions(dataDir)
	bdb, err := badger.Open(bopts)
	if err != nil {
		return nil, nil, fmt.Errorf("could not open the database: %w", err)
	}
	db = kvbadger.New(bdb, IsGoodKey)
	return db, f.dbCloser(db, bdb), nil
}

// IsGoodKey reports if a string can be a database key.
func IsGoodKey(k string) bool {
	return path.IsAbs(k) && k == path.Clean(k)
}

func doRestore(ctx context.Context, r io.Reader, db kv.Database) error {
	decoder := gob.NewDecoder(r)
	restore := func(ctx context.Context, w kv.ReadWriter) error {
		var item gobs.KeyValue
		var err error
		for err = decoder.Decode(&item); err == nil; err = decoder.Decode(&item) {
			if err := w.Set(ctx, item.Key, bytes.NewReader(item.Value)); err != nil {
				return fmt.Errorf("could not restore at key %q: %w", item.Key, err)
			}
			item = gobs.KeyValue{}
		}
		if !errors.Is(err, io.EOF) {
			return fmt.Errorf("could not decode item from backup file: %w", err)
		}
		return nil
	}

	if err := kv.WithReadWriter(ctx, db, restore); err != nil {
		return fmt.Errorf("could not run restore with a transaction: %w", err)
	}
	return nil
}
