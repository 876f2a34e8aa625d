// Copyright (c) 2025 BVK Chaitanya

// Package db implements subcommands to inspect the session database
// directly.
package db

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/bvk/rangebot/subcmds/cmdutil"
	"github.com/bvkgo/kv"
	"github.com/visvasity/cli"
)

type Get struct {
	cmdutil.DBFlags

	valueType string
}

func (c *Get) run(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("needs one (key) argument")
	}

	db, closer, err := c.DBFlags.GetDatabase(ctx)
	if err != nil {
		return err
	}
	defer closer()

	get := func(ctx context.Context, r kv.Reader) error {
		v, err := r.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if len(c.valueType) == 0 {
			data, err := io.ReadAll(v)
			if err != nil {
				return err
			}
			fmt.Printf("%x\n", data)
			return nil
		}
		data, err := decodeValue(c.valueType, v)
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", data)
		return nil
	}
	return kv.WithReader(ctx, db, get)
}

func (c *Get) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("get", flag.ContinueOnError)
	c.DBFlags.SetFlags(fset)
	fset.StringVar(&c.valueType, "value-type", "", "gob type name for the value")
	return "get", fset, cli.CmdFunc(c.run)
}

func (c *Get) Purpose() string {
	return "Prints the value of a key in the database"
}
