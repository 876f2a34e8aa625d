// Copyright (c) 2025 BVK Chaitanya

// Package subcmds implements the top-level command-line commands.
package subcmds

import (
	"context"
	"flag"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/bvk/rangebot/gobs"
	"github.com/bvk/rangebot/session"
	"github.com/bvk/rangebot/subcmds/cmdutil"
	"github.com/visvasity/cli"
)

type Status struct {
	cmdutil.DBFlags

	showOrders bool
}

func (c *Status) Purpose() string {
	return "Prints the saved session state for all accounts"
}

func (c *Status) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("status", flag.ContinueOnError)
	c.DBFlags.SetFlags(fset)
	fset.BoolVar(&c.showOrders, "show-orders", false, "when true, individual orders are also printed")
	return "status", fset, cli.CmdFunc(c.run)
}

func (c *Status) run(ctx context.Context, args []string) error {
	db, closer, err := c.DBFlags.GetDatabase(ctx)
	if err != nil {
		return err
	}
	defer closer()

	state, err := session.Load(ctx, db)
	if err != nil {
		return fmt.Errorf("could not load the session state: %w", err)
	}

	fmt.Print(sessionText(state, c.showOrders))
	return nil
}

// sessionText renders a session checkpoint as a table. The telegram status
// command uses the same rendering.
func sessionText(state *gobs.SessionState, showOrders bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "cycles: %d\n", state.Cycles)

	tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ACCOUNT\tMARKET\tSTRATEGY\tSTATE\tACTIVE\tBOUGHT-COST\tAMOUNT-TO-SELL\n")

	var accounts []string
	for name := range state.Accounts {
		accounts = append(accounts, name)
	}
	sort.Strings(accounts)

	for _, name := range accounts {
		astate := state.Accounts[name]
		var symbols []string
		for symbol := range astate.Markets {
			symbols = append(symbols, symbol)
		}
		sort.Strings(symbols)

		for _, symbol := range symbols {
			mstate := astate.Markets[symbol]
			var strategies []string
			for sname := range mstate.Strategies {
				strategies = append(strategies, sname)
			}
			sort.Strings(strategies)

			for _, sname := range strategies {
				sstate := mstate.Strategies[sname]
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
					name, symbol, sname, sstate.State, mstate.Active,
					sstate.BoughtCounter, sstate.AmountToSell)
			}
		}
	}
	tw.Flush()

	if showOrders {
		tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "ORDER\tSIDE\tSTATUS\tPRICE\tAMOUNT\tCOST\n")
		for _, name := range accounts {
			for _, mstate := range state.Accounts[name].Markets {
				for _, sstate := range mstate.Strategies {
					var ids []string
					for id := range sstate.Orders {
						ids = append(ids, id)
					}
					sort.Strings(ids)
					for _, id := range ids {
						o := sstate.Orders[id]
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
							o.InternalID, o.Side, o.Status, o.Price, o.Amount, o.Cost)
					}
				}
			}
		}
		tw.Flush()
	}
	return sb.String()
}
