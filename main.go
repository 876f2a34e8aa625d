// Copyright (c) 2025 BVK Chaitanya

package main

import (
	"context"
	"log"
	"os"

	"github.com/bvk/rangebot/subcmds"
	"github.com/bvk/rangebot/subcmds/db"
	"github.com/bvk/rangebot/subcmds/setup"
	"github.com/visvasity/cli"
)

func main() {
	dbCmds := []cli.Command{
		new(db.Get),
		new(db.List),
		new(db.Delete),
		new(db.Backup),
		new(db.Restore),
	}

	setupCmds := []cli.Command{
		new(setup.Kucoin),
		new(setup.Telegram),
	}

	cmds := []cli.Command{
		new(subcmds.Run),
		new(subcmds.Status),
		new(subcmds.IDGen),
		cli.NewGroup("setup", "Record venue credentials and alerting parameters", setupCmds...),
		cli.NewGroup("db", "View/update database directly", dbCmds...),
	}
	if err := cli.Run(context.Background(), cmds, os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}
